package core

import (
	"time"

	"github.com/dkeye/openrooms/internal/domain"
)

// RoomInfo is a read-only snapshot for APIs (no connection handles).
// Session ids stay server side; they are what a leave request presents.
type RoomInfo struct {
	ID           domain.RoomID      `json:"id"`
	Participants int                `json:"participants"`
	Sessions     []domain.SessionID `json:"-"`
	HasPassword  bool               `json:"has_password"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActivity time.Time          `json:"last_activity"`
}
