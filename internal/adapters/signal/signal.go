package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/openrooms/internal/adapters/limiter"
	"github.com/dkeye/openrooms/internal/app"
	"github.com/dkeye/openrooms/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const (
	DefaultReadLimit  = 64 << 10
	DefaultPingPeriod = 54 * time.Second

	writeWait  = 5 * time.Second
	sendBuffer = 32
)

// SignalWSController serves the websocket signaling channel on top of the manager.
type SignalWSController struct {
	Manager *app.Manager
	Limiter *limiter.SlidingWindow

	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSignalWSController(mgr *app.Manager, rl *limiter.SlidingWindow) *SignalWSController {
	return &SignalWSController{
		Manager:    mgr,
		Limiter:    rl,
		ReadLimit:  DefaultReadLimit,
		PingPeriod: DefaultPingPeriod,
	}
}

func (ctl *SignalWSController) pingPeriod() time.Duration {
	if ctl.PingPeriod <= 0 {
		return DefaultPingPeriod
	}
	return ctl.PingPeriod
}

func (ctl *SignalWSController) pongWait() time.Duration {
	return ctl.pingPeriod() * 10 / 9
}

// WsSignalConn is one websocket client. It remembers the sessions negotiated
// over it so they can be left on disconnect.
type WsSignalConn struct {
	client string
	ip     string
	conn   *websocket.Conn
	send   chan []byte

	mu       sync.RWMutex
	closed   bool
	sessions map[domain.SessionID]domain.RoomID
}

func newWsSignalConn(client string, ws *websocket.Conn) *WsSignalConn {
	return &WsSignalConn{
		client:   client,
		conn:     ws,
		send:     make(chan []byte, sendBuffer),
		sessions: make(map[domain.SessionID]domain.RoomID),
	}
}

func (c *WsSignalConn) TrySend(f []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *WsSignalConn) track(roomID domain.RoomID, sid domain.SessionID) {
	c.mu.Lock()
	c.sessions[sid] = roomID
	c.mu.Unlock()
}

func (c *WsSignalConn) untrack(sid domain.SessionID) (domain.RoomID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	roomID, ok := c.sessions[sid]
	delete(c.sessions, sid)
	return roomID, ok
}

// inRoom returns the tracked sessions of roomID, or all of them when roomID is empty.
func (c *WsSignalConn) inRoom(roomID domain.RoomID) []domain.SessionID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.SessionID
	for sid, rid := range c.sessions {
		if roomID == "" || rid == roomID {
			out = append(out, sid)
		}
	}
	return out
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	client := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("client", client).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(client, ws)
	conn.ip = c.ClientIP()
	ctx, cancel := context.WithCancel(ctx)

	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, conn)
	}()
}

// leaveAll drops every session negotiated over c.
func (ctl *SignalWSController) leaveAll(c *WsSignalConn) {
	for _, sid := range c.inRoom("") {
		if roomID, ok := c.untrack(sid); ok {
			ctl.Manager.Leave(roomID, sid)
		}
	}
}
