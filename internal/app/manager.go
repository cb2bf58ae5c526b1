package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/openrooms/internal/core"
	"github.com/dkeye/openrooms/internal/domain"
	"github.com/dkeye/openrooms/internal/metrics"
)

const (
	DefaultIdleTimeout        = 120 * time.Second
	DefaultSweepInterval      = 60 * time.Second
	DefaultNegotiationTimeout = 10 * time.Second

	attachAttempts = 3
)

// ErrNegotiation wraps every failure of a required engine step.
var ErrNegotiation = errors.New("negotiation failed")

type Config struct {
	IdleTimeout        time.Duration
	SweepInterval      time.Duration
	NegotiationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = DefaultNegotiationTimeout
	}
	return c
}

// Answer is what goes back to the client after a successful offer.
type Answer struct {
	RoomID      domain.RoomID
	SessionID   domain.SessionID
	Description webrtc.SessionDescription
}

// Manager owns the room registry and the negotiation engine.
type Manager struct {
	Registry *Registry
	Engine   core.NegotiationEngine
	Metrics  *metrics.Metrics

	conf Config

	// beforeAttach runs between get-or-create and attach; tests use it to
	// race the sweep.
	beforeAttach func(domain.RoomID)
}

func NewManager(reg *Registry, engine core.NegotiationEngine, conf Config) *Manager {
	return &Manager{
		Registry: reg,
		Engine:   engine,
		conf:     conf.withDefaults(),
	}
}

func (m *Manager) Config() Config { return m.conf }

// HandleOffer negotiates a new session and attaches it to roomID, creating the
// room if it does not exist. Nothing is written to the registry unless
// negotiation succeeds.
func (m *Manager) HandleOffer(
	ctx context.Context,
	roomID domain.RoomID,
	offer webrtc.SessionDescription,
	candidates []webrtc.ICECandidateInit,
) (*Answer, error) {
	logger := log.With().Str("module", "app.manager").Str("room", string(roomID)).Logger()

	if err := validateOffer(offer); err != nil {
		m.Metrics.Negotiation(false)
		return nil, fmt.Errorf("%w: %w", ErrNegotiation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.conf.NegotiationTimeout)
	defer cancel()

	conn, answer, err := m.negotiate(ctx, offer, candidates, &logger)
	if err != nil {
		m.Metrics.Negotiation(false)
		logger.Error().Err(err).Msg("negotiation failed")
		return nil, fmt.Errorf("%w: %w", ErrNegotiation, err)
	}

	sess := core.NewSession(roomID, conn, m.Registry.Now())

	// Registered before attach so a connection that dies meanwhile is not
	// left behind in the room.
	var closed atomic.Bool
	conn.OnClosed(func() {
		closed.Store(true)
		m.Leave(roomID, sess.ID)
	})

	if err := m.attach(roomID, sess); err != nil {
		m.Metrics.Negotiation(false)
		_ = sess.Handle().Release()
		logger.Error().Err(err).Str("sid", string(sess.ID)).Msg("attach failed")
		return nil, err
	}
	if closed.Load() {
		m.Leave(roomID, sess.ID)
		m.Metrics.Negotiation(false)
		logger.Warn().Str("sid", string(sess.ID)).Msg("connection closed while attaching")
		return nil, fmt.Errorf("%w: %w", ErrNegotiation, core.ErrTransport)
	}

	m.Metrics.Negotiation(true)
	logger.Info().Str("sid", string(sess.ID)).Int("candidates", len(candidates)).Msg("session negotiated")
	return &Answer{RoomID: roomID, SessionID: sess.ID, Description: answer}, nil
}

// negotiate runs every engine step outside the registry lock. On failure the
// partially built connection is closed.
func (m *Manager) negotiate(
	ctx context.Context,
	offer webrtc.SessionDescription,
	candidates []webrtc.ICECandidateInit,
	logger *zerolog.Logger,
) (core.PeerConnection, webrtc.SessionDescription, error) {
	var none webrtc.SessionDescription

	conn, err := m.Engine.NewConnection(ctx)
	if err != nil {
		return nil, none, fmt.Errorf("new connection: %w", err)
	}
	fail := func(step string, err error) (core.PeerConnection, webrtc.SessionDescription, error) {
		if cerr := conn.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("close discarded connection")
		}
		return nil, none, fmt.Errorf("%s: %w", step, err)
	}

	for i, c := range candidates {
		if err := conn.AddICECandidate(ctx, c); err != nil {
			if errors.Is(err, core.ErrTransport) || ctx.Err() != nil {
				return fail("add candidate", err)
			}
			m.Metrics.CandidateRejected()
			logger.Warn().Err(err).Int("index", i).Msg("candidate rejected, skipping")
		}
	}

	if err := conn.SetRemoteDescription(ctx, offer); err != nil {
		return fail("set remote description", err)
	}
	answer, err := conn.CreateAnswer(ctx)
	if err != nil {
		return fail("create answer", err)
	}
	if err := conn.SetLocalDescription(ctx, answer); err != nil {
		return fail("set local description", err)
	}
	if local := conn.LocalDescription(); local != nil {
		answer = *local
	}
	return conn, answer, nil
}

// attach retries when the room is reclaimed between creation and attach.
func (m *Manager) attach(roomID domain.RoomID, sess *core.Session) error {
	for i := 0; i < attachAttempts; i++ {
		m.Registry.GetOrCreate(roomID)
		if m.beforeAttach != nil {
			m.beforeAttach(roomID)
		}
		err := m.Registry.Attach(roomID, sess)
		if !errors.Is(err, domain.ErrRoomNotFound) {
			return err
		}
	}
	return domain.ErrRoomNotFound
}

// Leave detaches a session and releases its connection. It reports whether
// anything was removed; leaving twice is harmless.
func (m *Manager) Leave(roomID domain.RoomID, sid domain.SessionID) bool {
	sess := m.Registry.Detach(roomID, sid)
	if sess == nil {
		return false
	}
	if err := sess.Handle().Release(); err != nil {
		log.Warn().Err(err).Str("module", "app.manager").Str("room", string(roomID)).Str("sid", string(sid)).Msg("close connection")
	}
	return true
}

// CreateRoom registers a room explicitly; the password is stored, not checked.
func (m *Manager) CreateRoom(password string) (core.RoomInfo, error) {
	pw, err := domain.NewPassword(password)
	if err != nil {
		return core.RoomInfo{}, err
	}
	return m.Registry.Create(pw), nil
}

func (m *Manager) Room(id domain.RoomID) (core.RoomInfo, bool) { return m.Registry.Get(id) }

func (m *Manager) Rooms() []core.RoomInfo { return m.Registry.List() }

func validateOffer(offer webrtc.SessionDescription) error {
	if offer.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("%w: type %s", domain.ErrInvalidOffer, offer.Type)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(offer.SDP)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidOffer, err)
	}
	return nil
}
