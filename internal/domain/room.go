// Package domain holds identifiers, credentials and the errors shared across
// layers, with the validation that guards them.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxPasswordLen = 128

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrSessionExists   = errors.New("session already attached")
	ErrInvalidRoomID   = errors.New("invalid room id")
	ErrInvalidOffer    = errors.New("invalid offer")
	ErrPasswordTooLong = errors.New("password too long")
)

type (
	RoomID    string
	SessionID string
)

// NewRoomID returns a fresh random room identifier.
func NewRoomID() RoomID { return RoomID(uuid.NewString()) }

// ParseRoomID accepts only UUID-formatted identifiers and returns them in canonical form.
func ParseRoomID(s string) (RoomID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", ErrInvalidRoomID
	}
	return RoomID(id.String()), nil
}

func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

// Password is stored as given and never verified here.
type Password string

func NewPassword(raw string) (Password, error) {
	if len(raw) > MaxPasswordLen {
		return "", ErrPasswordTooLong
	}
	return Password(raw), nil
}
