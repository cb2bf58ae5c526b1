package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/openrooms/internal/adapters/limiter"
	"github.com/dkeye/openrooms/internal/adapters/signal"
	"github.com/dkeye/openrooms/internal/app"
	"github.com/dkeye/openrooms/internal/config"
)

const sessionStore = "OpenRoomsSessions"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter wires REST, websocket signaling and metrics on top of the manager.
func SetupRouter(ctx context.Context, cfg *config.Config, mgr *app.Manager, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	// ClientIP keys the offer limiter; never take it from forwarding headers.
	if err := r.SetTrustedProxies(nil); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("trusted proxies")
	}

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24, HttpOnly: true})
	r.Use(sessions.Sessions(sessionStore, store))
	r.Use(ClientTokenMiddleware())

	rl := limiter.NewSlidingWindow(cfg.OfferLimit, cfg.OfferWindow)
	go rl.Run(ctx)
	h := &handlers{mgr: mgr, limiter: rl}

	r.GET("/healthz", h.health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.POST("/rooms", h.createRoom)
	api.GET("/rooms", h.listRooms)
	api.GET("/rooms/:id", h.getRoom)
	api.POST("/rooms/:id/offer", h.offer)
	api.DELETE("/rooms/:id/sessions/:sid", h.leave)
	api.DELETE("/rooms/:id/session", h.leaveOwn)

	ctrl := signal.NewSignalWSController(mgr, rl)
	if cfg.ReadLimit > 0 {
		ctrl.ReadLimit = cfg.ReadLimit
	}
	if cfg.PingPeriod > 0 {
		ctrl.PingPeriod = cfg.PingPeriod
	}
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"rooms":    h.mgr.Registry.Len(),
		"sessions": h.mgr.Registry.SessionCount(),
	})
}
