package core

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

//go:generate mockgen -destination=mocks/mock_media.go -package=mocks github.com/dkeye/openrooms/internal/core NegotiationEngine,PeerConnection

var (
	// ErrMalformedCandidate marks a candidate the engine refused to parse or apply.
	// Negotiation continues without it.
	ErrMalformedCandidate = errors.New("malformed ice candidate")
	// ErrTransport marks a failure of the underlying connection; negotiation must stop.
	ErrTransport = errors.New("transport failure")
)

// NegotiationEngine creates peer connections preconfigured with the
// process-wide ICE server list.
type NegotiationEngine interface {
	NewConnection(ctx context.Context) (PeerConnection, error)
}

// PeerConnection is one negotiated connection owned by a Session.
// Every blocking call honours ctx.
type PeerConnection interface {
	// AddICECandidate applies a remote candidate. Errors wrap ErrMalformedCandidate or ErrTransport.
	AddICECandidate(ctx context.Context, c webrtc.ICECandidateInit) error
	SetRemoteDescription(ctx context.Context, d webrtc.SessionDescription) error
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetLocalDescription(ctx context.Context, d webrtc.SessionDescription) error
	// LocalDescription returns the current local SDP, including gathered candidates.
	LocalDescription() *webrtc.SessionDescription
	// OnClosed sets a callback fired once the connection fails or closes.
	OnClosed(func())
	Close() error
}
