package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/openrooms/internal/core"
)

type Config struct {
	ICEServers          []string
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepaliveInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		ICEServers:          []string{"stun:stun.l.google.com:19302"},
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       25 * time.Second,
		KeepaliveInterval:   2 * time.Second,
	}
}

// Engine builds pion peer connections sharing one API (codecs, interceptors,
// settings) and one ICE server list.
type Engine struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

var _ core.NegotiationEngine = (*Engine)(nil)

func NewEngine(conf Config) (*Engine, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}
	se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	if conf.DisconnectedTimeout > 0 && conf.FailedTimeout > 0 && conf.KeepaliveInterval > 0 {
		se.SetICETimeouts(conf.DisconnectedTimeout, conf.FailedTimeout, conf.KeepaliveInterval)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)

	return &Engine{api: api, cfg: webrtcConfig(conf.ICEServers)}, nil
}

func webrtcConfig(urls []string) webrtc.Configuration {
	cfg := webrtc.Configuration{SDPSemantics: webrtc.SDPSemanticsUnifiedPlan}
	if len(urls) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: urls}}
	}
	return cfg
}

func (e *Engine) NewConnection(ctx context.Context) (core.PeerConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pc, err := e.api.NewPeerConnection(e.cfg)
	if err != nil {
		return nil, err
	}
	c := newConnection(pc)
	c.start()
	log.Debug().Str("module", "webrtc").Str("conn", c.id).Msg("peer connection created")
	return c, nil
}
