package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Run sweeps idle rooms every SweepInterval until ctx is cancelled.
// The interval does not depend on the idle timeout.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.conf.SweepInterval)
	defer ticker.Stop()

	log.Info().
		Str("module", "app.reclaim").
		Dur("interval", m.conf.SweepInterval).
		Dur("idle_timeout", m.conf.IdleTimeout).
		Msg("reclamation loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.reclaim").Msg("reclamation loop stopped")
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one reclamation pass and returns the number of rooms removed.
func (m *Manager) Sweep() int {
	removed := m.Registry.SweepIdle(m.conf.IdleTimeout)
	for _, id := range removed {
		log.Info().Str("module", "app.reclaim").Str("room", string(id)).Msg("idle room reclaimed")
	}
	m.Metrics.RoomsReclaimed(len(removed))
	return len(removed)
}
