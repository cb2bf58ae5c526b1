package signal

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/openrooms/internal/core"
)

const (
	TypeOffer       = "offer"
	TypeAnswer      = "answer"
	TypeLeave       = "leave"
	TypeLeft        = "left"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeCreateRoom  = "create_room"
	TypeRoomCreated = "room_created"
	TypeError       = "error"
)

type envelope struct {
	Type string `json:"type"`
}

type offerMsg struct {
	Room       string                     `json:"room"`
	Offer      webrtc.SessionDescription  `json:"offer"`
	Candidates []webrtc.ICECandidateInit `json:"candidates"`
}

type answerMsg struct {
	Type    string                    `json:"type"`
	Room    string                    `json:"room"`
	Session string                    `json:"session"`
	Answer  webrtc.SessionDescription `json:"answer"`
}

type leaveMsg struct {
	Room    string `json:"room"`
	Session string `json:"session,omitempty"`
}

type leftMsg struct {
	Type     string   `json:"type"`
	Room     string   `json:"room"`
	Sessions []string `json:"sessions"`
}

type createRoomMsg struct {
	Password string `json:"password"`
}

type roomCreatedMsg struct {
	Type string        `json:"type"`
	Room core.RoomInfo `json:"room"`
}

type errorMsg struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}
