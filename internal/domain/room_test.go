package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRoomID(t *testing.T) {
	id := NewRoomID()
	parsed, err := ParseRoomID(string(id))
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	upper, err := ParseRoomID(strings.ToUpper(string(id)))
	require.NoError(t, err)
	require.Equal(t, id, upper)

	_, err = ParseRoomID("main")
	require.ErrorIs(t, err, ErrInvalidRoomID)
}

func TestNewPassword(t *testing.T) {
	p, err := NewPassword("secret")
	require.NoError(t, err)
	require.Equal(t, Password("secret"), p)

	_, err = NewPassword(strings.Repeat("x", MaxPasswordLen+1))
	require.ErrorIs(t, err, ErrPasswordTooLong)
}
