package rtc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/openrooms/internal/core"
)

// Connection adapts *webrtc.PeerConnection to core.PeerConnection.
// Candidates that arrive before the remote description are validated and
// queued, then applied once the offer is set.
type Connection struct {
	pc *webrtc.PeerConnection
	id string

	mu       sync.Mutex
	pending  []webrtc.ICECandidateInit
	onClosed func()

	closed    atomic.Bool
	closeOnce sync.Once
	closedCb  sync.Once
}

var _ core.PeerConnection = (*Connection)(nil)

func newConnection(pc *webrtc.PeerConnection) *Connection {
	return &Connection{pc: pc, id: uuid.NewString()}
}

func (c *Connection) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("conn", c.id).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("conn", c.id).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			c.fireClosed()
		}
	})
}

func (c *Connection) fireClosed() {
	c.mu.Lock()
	fn := c.onClosed
	c.mu.Unlock()
	if fn == nil {
		return
	}
	// the callback may end up in Close
	go c.closedCb.Do(fn)
}

func (c *Connection) AddICECandidate(ctx context.Context, ci webrtc.ICECandidateInit) error {
	if err := validateCandidate(ci); err != nil {
		return err
	}

	c.mu.Lock()
	if c.pc.RemoteDescription() == nil {
		c.pending = append(c.pending, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.candidateErr(run(ctx, func() error { return c.pc.AddICECandidate(ci) }))
}

func (c *Connection) SetRemoteDescription(ctx context.Context, d webrtc.SessionDescription) error {
	if err := run(ctx, func() error { return c.pc.SetRemoteDescription(d) }); err != nil {
		return c.transportErr(err)
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ci := range pending {
		err := c.candidateErr(run(ctx, func() error { return c.pc.AddICECandidate(ci) }))
		if errors.Is(err, core.ErrTransport) || ctx.Err() != nil {
			return err
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Str("conn", c.id).Msg("queued candidate rejected, skipping")
		}
	}
	return nil
}

func (c *Connection) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	var answer webrtc.SessionDescription
	err := run(ctx, func() error {
		var err error
		answer, err = c.pc.CreateAnswer(nil)
		return err
	})
	return answer, c.transportErr(err)
}

// SetLocalDescription applies the answer and waits, bounded by ctx, for ICE
// gathering so the returned description carries every local candidate.
func (c *Connection) SetLocalDescription(ctx context.Context, d webrtc.SessionDescription) error {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := run(ctx, func() error { return c.pc.SetLocalDescription(d) }); err != nil {
		return c.transportErr(err)
	}
	select {
	case <-gatherComplete:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ice gathering: %w", ctx.Err())
	}
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Connection) OnClosed(fn func()) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.pc.Close()
		if err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("conn", c.id).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("conn", c.id).Msg("closed")
		}
	})
	return err
}

// run executes a blocking pion call and gives up when ctx ends. pion calls do
// not take a context; an abandoned call finishes once the connection is closed.
func run(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validateCandidate(ci webrtc.ICECandidateInit) error {
	raw := strings.TrimPrefix(ci.Candidate, "candidate:")
	if raw == "" {
		// end-of-candidates
		return nil
	}
	if _, err := ice.UnmarshalCandidate(raw); err != nil {
		return fmt.Errorf("%w: %w", core.ErrMalformedCandidate, err)
	}
	return nil
}

func (c *Connection) transportErr(err error) error {
	if err != nil && (c.closed.Load() || errors.Is(err, webrtc.ErrConnectionClosed)) {
		return fmt.Errorf("%w: %w", core.ErrTransport, err)
	}
	return err
}

func (c *Connection) candidateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case c.closed.Load(), errors.Is(err, webrtc.ErrConnectionClosed):
		return fmt.Errorf("%w: %w", core.ErrTransport, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", core.ErrMalformedCandidate, err)
	}
}
