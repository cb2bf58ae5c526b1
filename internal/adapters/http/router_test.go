package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/openrooms/internal/app"
	"github.com/dkeye/openrooms/internal/config"
	"github.com/dkeye/openrooms/internal/core"
	"github.com/dkeye/openrooms/internal/core/mocks"
	"github.com/dkeye/openrooms/internal/domain"
	"github.com/dkeye/openrooms/internal/metrics"
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

func testConfig() *config.Config {
	return &config.Config{
		Mode:        "test",
		Secret:      "test-secret",
		OfferLimit:  100,
		OfferWindow: time.Minute,
	}
}

// newEngine returns an engine whose connections fail SetRemoteDescription
// when remoteErr is set.
func newEngine(t *testing.T, remoteErr error) *mocks.MockNegotiationEngine {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockNegotiationEngine(ctrl)
	engine.EXPECT().NewConnection(gomock.Any()).DoAndReturn(func(context.Context) (core.PeerConnection, error) {
		pc := mocks.NewMockPeerConnection(ctrl)
		pc.EXPECT().AddICECandidate(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		pc.EXPECT().SetRemoteDescription(gomock.Any(), gomock.Any()).Return(remoteErr).AnyTimes()
		pc.EXPECT().CreateAnswer(gomock.Any()).Return(answer, nil).AnyTimes()
		pc.EXPECT().SetLocalDescription(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		pc.EXPECT().LocalDescription().Return(&answer).AnyTimes()
		pc.EXPECT().OnClosed(gomock.Any()).AnyTimes()
		pc.EXPECT().Close().Return(nil).AnyTimes()
		return pc, nil
	}).AnyTimes()
	return engine
}

type testServer struct {
	mgr    *app.Manager
	srv    *httptest.Server
	client *http.Client
}

func newTestServer(t *testing.T, cfg *config.Config, remoteErr error) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mgr := app.NewManager(app.NewRegistry(), newEngine(t, remoteErr), app.Config{})
	reg := prometheus.NewRegistry()
	mgr.Metrics = metrics.New(reg, mgr.Registry)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(SetupRouter(ctx, cfg, mgr, reg))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testServer{mgr: mgr, srv: srv, client: &http.Client{Jar: jar}}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func offerBody() OfferRequest {
	return OfferRequest{
		Offer: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP},
		Candidates: []webrtc.ICECandidateInit{
			{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host"},
		},
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	resp, body := s.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok","rooms":0,"sessions":0}`, string(body))
}

func TestCreateAndGetRoom(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	resp, body := s.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Password: "pw"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var info core.RoomInfo
	require.NoError(t, json.Unmarshal(body, &info))
	require.True(t, info.HasPassword)

	resp, body = s.do(t, http.MethodGet, "/api/rooms/"+string(info.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got core.RoomInfo
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, info.ID, got.ID)

	resp, body = s.do(t, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list RoomsResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Rooms, 1)
}

func TestCreateRoomWithoutBody(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	resp, _ := s.do(t, http.MethodPost, "/api/rooms", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestCreateRoomPasswordTooLong(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	resp, _ := s.do(t, http.MethodPost, "/api/rooms", CreateRoomRequest{Password: strings.Repeat("x", domain.MaxPasswordLen+1)})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetRoomErrors(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	resp, _ := s.do(t, http.MethodGet, "/api/rooms/nope", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/rooms/"+string(domain.NewRoomID()), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOfferThenLeaveOwnSession(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	roomID := domain.NewRoomID()

	resp, body := s.do(t, http.MethodPost, "/api/rooms/"+string(roomID)+"/offer", offerBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out OfferResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Equal(t, roomID, out.RoomID)
	require.NotEmpty(t, out.SessionID)
	require.Equal(t, webrtc.SDPTypeAnswer, out.Answer.Type)

	info, ok := s.mgr.Room(roomID)
	require.True(t, ok)
	require.Equal(t, []domain.SessionID{out.SessionID}, info.Sessions)

	resp, _ = s.do(t, http.MethodDelete, "/api/rooms/"+string(roomID)+"/session", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	info, _ = s.mgr.Room(roomID)
	require.Zero(t, info.Participants)

	resp, _ = s.do(t, http.MethodDelete, "/api/rooms/"+string(roomID)+"/session", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLeaveBySessionID(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	roomID := domain.NewRoomID()

	_, body := s.do(t, http.MethodPost, "/api/rooms/"+string(roomID)+"/offer", offerBody())
	var out OfferResponse
	require.NoError(t, json.Unmarshal(body, &out))

	path := "/api/rooms/" + string(roomID) + "/sessions/" + string(out.SessionID)
	resp, _ := s.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// the cookie no longer names a session in this room
	resp, _ = s.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLeaveRejectsForeignSession(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	roomID := domain.NewRoomID()

	_, body := s.do(t, http.MethodPost, "/api/rooms/"+string(roomID)+"/offer", offerBody())
	var out OfferResponse
	require.NoError(t, json.Unmarshal(body, &out))

	_, body = s.do(t, http.MethodGet, "/api/rooms/"+string(roomID), nil)
	require.NotContains(t, string(body), string(out.SessionID))

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	stranger := &testServer{mgr: s.mgr, srv: s.srv, client: &http.Client{Jar: jar}}

	path := "/api/rooms/" + string(roomID) + "/sessions/" + string(out.SessionID)
	resp, _ := stranger.do(t, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	info, ok := s.mgr.Room(roomID)
	require.True(t, ok)
	require.Equal(t, 1, info.Participants)
}

func TestOfferNegotiationFailure(t *testing.T) {
	s := newTestServer(t, testConfig(), errors.New("remote rejected"))
	roomID := domain.NewRoomID()

	resp, _ := s.do(t, http.MethodPost, "/api/rooms/"+string(roomID)+"/offer", offerBody())
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	_, ok := s.mgr.Room(roomID)
	require.False(t, ok)
}

func TestOfferInvalidSDP(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	body := offerBody()
	body.Offer.SDP = "garbage"

	resp, _ := s.do(t, http.MethodPost, "/api/rooms/"+string(domain.NewRoomID())+"/offer", body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOfferRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.OfferLimit = 1
	s := newTestServer(t, cfg, nil)
	path := "/api/rooms/" + string(domain.NewRoomID()) + "/offer"

	resp, _ := s.do(t, http.MethodPost, path, offerBody())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, path, offerBody())
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestOfferRateLimitWithoutCookies(t *testing.T) {
	cfg := testConfig()
	cfg.OfferLimit = 1
	s := newTestServer(t, cfg, nil)
	s.client = &http.Client{}
	path := "/api/rooms/" + string(domain.NewRoomID()) + "/offer"

	accepted := 0
	for i := 0; i < 5; i++ {
		resp, _ := s.do(t, http.MethodPost, path, offerBody())
		if resp.StatusCode == http.StatusOK {
			accepted++
		} else {
			require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		}
	}
	require.Equal(t, 1, accepted)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	s.do(t, http.MethodPost, "/api/rooms/"+string(domain.NewRoomID())+"/offer", offerBody())

	resp, body := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "openrooms_session_negotiations_total")
	require.Contains(t, string(body), "openrooms_room_total 1")
}
