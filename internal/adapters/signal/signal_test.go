package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/openrooms/internal/adapters/limiter"
	"github.com/dkeye/openrooms/internal/app"
	"github.com/dkeye/openrooms/internal/core"
	"github.com/dkeye/openrooms/internal/core/mocks"
	"github.com/dkeye/openrooms/internal/domain"
)

const offerSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

var answer = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}

// healthyEngine negotiates every offer successfully.
func healthyEngine(t *testing.T) *mocks.MockNegotiationEngine {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockNegotiationEngine(ctrl)
	engine.EXPECT().NewConnection(gomock.Any()).DoAndReturn(func(context.Context) (core.PeerConnection, error) {
		pc := mocks.NewMockPeerConnection(ctrl)
		pc.EXPECT().AddICECandidate(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		pc.EXPECT().SetRemoteDescription(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		pc.EXPECT().CreateAnswer(gomock.Any()).Return(answer, nil).AnyTimes()
		pc.EXPECT().SetLocalDescription(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		pc.EXPECT().LocalDescription().Return(&answer).AnyTimes()
		pc.EXPECT().OnClosed(gomock.Any()).AnyTimes()
		pc.EXPECT().Close().Return(nil).AnyTimes()
		return pc, nil
	}).AnyTimes()
	return engine
}

func startServer(t *testing.T, rl *limiter.SlidingWindow) (*app.Manager, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mgr := app.NewManager(app.NewRegistry(), healthyEngine(t), app.Config{})
	ctl := NewSignalWSController(mgr, rl)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", "client-1")
		ctl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return mgr, ws
}

func roundTrip(t *testing.T, ws *websocket.Conn, req any) map[string]any {
	t.Helper()
	require.NoError(t, ws.WriteJSON(req))
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp map[string]any
	require.NoError(t, ws.ReadJSON(&resp))
	return resp
}

func offerReq(room string) map[string]any {
	return map[string]any{
		"type":  TypeOffer,
		"room":  room,
		"offer": webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP},
		"candidates": []webrtc.ICECandidateInit{
			{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host"},
		},
	}
}

func TestPingPong(t *testing.T) {
	_, ws := startServer(t, nil)
	resp := roundTrip(t, ws, map[string]string{"type": TypePing})
	require.Equal(t, TypePong, resp["type"])
}

func TestUnknownMessage(t *testing.T) {
	_, ws := startServer(t, nil)
	resp := roundTrip(t, ws, map[string]string{"type": "dance"})
	require.Equal(t, TypeError, resp["type"])
	require.Equal(t, "bad_request", resp["code"])
}

func TestCreateRoom(t *testing.T) {
	mgr, ws := startServer(t, nil)
	resp := roundTrip(t, ws, map[string]string{"type": TypeCreateRoom, "password": "pw"})
	require.Equal(t, TypeRoomCreated, resp["type"])

	room := resp["room"].(map[string]any)
	info, ok := mgr.Room(domain.RoomID(room["id"].(string)))
	require.True(t, ok)
	require.True(t, info.HasPassword)
}

func TestOfferAndLeave(t *testing.T) {
	mgr, ws := startServer(t, nil)
	roomID := string(domain.NewRoomID())

	resp := roundTrip(t, ws, offerReq(roomID))
	require.Equal(t, TypeAnswer, resp["type"])
	require.Equal(t, roomID, resp["room"])
	require.NotEmpty(t, resp["session"])

	info, ok := mgr.Room(domain.RoomID(roomID))
	require.True(t, ok)
	require.Equal(t, 1, info.Participants)

	resp = roundTrip(t, ws, map[string]string{"type": TypeLeave, "room": roomID})
	require.Equal(t, TypeLeft, resp["type"])
	require.Len(t, resp["sessions"], 1)

	info, ok = mgr.Room(domain.RoomID(roomID))
	require.True(t, ok)
	require.Zero(t, info.Participants)
}

func TestOfferWithoutRoomCreatesOne(t *testing.T) {
	mgr, ws := startServer(t, nil)
	resp := roundTrip(t, ws, offerReq(""))
	require.Equal(t, TypeAnswer, resp["type"])
	_, ok := mgr.Room(domain.RoomID(resp["room"].(string)))
	require.True(t, ok)
}

func TestOfferRejectsBadInput(t *testing.T) {
	mgr, ws := startServer(t, nil)

	resp := roundTrip(t, ws, offerReq("not-a-uuid"))
	require.Equal(t, TypeError, resp["type"])
	require.Equal(t, "bad_request", resp["code"])

	req := offerReq(string(domain.NewRoomID()))
	req["offer"] = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"}
	resp = roundTrip(t, ws, req)
	require.Equal(t, "invalid_offer", resp["code"])
	require.Empty(t, mgr.Rooms())
}

func TestOfferRateLimited(t *testing.T) {
	_, ws := startServer(t, limiter.NewSlidingWindow(1, time.Minute))
	roomID := string(domain.NewRoomID())

	resp := roundTrip(t, ws, offerReq(roomID))
	require.Equal(t, TypeAnswer, resp["type"])

	resp = roundTrip(t, ws, offerReq(roomID))
	require.Equal(t, "rate_limited", resp["code"])
}

func TestDisconnectLeavesSessions(t *testing.T) {
	mgr, ws := startServer(t, nil)
	roomID := domain.NewRoomID()

	resp := roundTrip(t, ws, offerReq(string(roomID)))
	require.Equal(t, TypeAnswer, resp["type"])
	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		info, ok := mgr.Room(roomID)
		return ok && info.Participants == 0
	}, 5*time.Second, 10*time.Millisecond)
}
