package http

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/openrooms/internal/adapters/limiter"
	"github.com/dkeye/openrooms/internal/app"
	"github.com/dkeye/openrooms/internal/core"
	"github.com/dkeye/openrooms/internal/domain"
)

type handlers struct {
	mgr     *app.Manager
	limiter *limiter.SlidingWindow
}

type CreateRoomRequest struct {
	Password string `json:"password"`
}

type OfferRequest struct {
	Offer      webrtc.SessionDescription  `json:"offer"`
	Candidates []webrtc.ICECandidateInit `json:"candidates"`
}

type OfferResponse struct {
	RoomID    domain.RoomID             `json:"room_id"`
	SessionID domain.SessionID          `json:"session_id"`
	Answer    webrtc.SessionDescription `json:"answer"`
}

type RoomsResponse struct {
	Rooms []core.RoomInfo `json:"rooms"`
}

func sessionKey(roomID domain.RoomID) string { return "room:" + string(roomID) }

func (h *handlers) createRoom(c *gin.Context) {
	var req CreateRoomRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	info, err := h.mgr.CreateRoom(req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (h *handlers) listRooms(c *gin.Context) {
	rooms := h.mgr.Rooms()
	if rooms == nil {
		rooms = []core.RoomInfo{}
	}
	c.JSON(http.StatusOK, RoomsResponse{Rooms: rooms})
}

func (h *handlers) getRoom(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	info, found := h.mgr.Room(roomID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handlers) offer(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	var req OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if !h.limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many offers"})
		return
	}

	ans, err := h.mgr.HandleOffer(c.Request.Context(), roomID, req.Offer, req.Candidates)
	if err != nil {
		writeError(c, err)
		return
	}

	sess := sessions.Default(c)
	sess.Set(sessionKey(roomID), string(ans.SessionID))
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save cookie session")
	}

	c.JSON(http.StatusOK, OfferResponse{
		RoomID:    ans.RoomID,
		SessionID: ans.SessionID,
		Answer:    ans.Description,
	})
}

// leave detaches the given session if it is the one remembered in the
// caller's cookie for this room.
func (h *handlers) leave(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	sess := sessions.Default(c)
	own, _ := sess.Get(sessionKey(roomID)).(string)
	if own == "" || own != c.Param("sid") {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
		return
	}
	h.leaveSession(c, sess, roomID, domain.SessionID(own))
}

// leaveOwn leaves the session remembered in the caller's cookie.
func (h *handlers) leaveOwn(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}
	sess := sessions.Default(c)
	own, _ := sess.Get(sessionKey(roomID)).(string)
	if own == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session in this room"})
		return
	}
	h.leaveSession(c, sess, roomID, domain.SessionID(own))
}

func (h *handlers) leaveSession(c *gin.Context, sess sessions.Session, roomID domain.RoomID, sid domain.SessionID) {
	sess.Delete(sessionKey(roomID))
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save cookie session")
	}

	if !h.mgr.Leave(roomID, sid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func roomParam(c *gin.Context) (domain.RoomID, bool) {
	roomID, err := domain.ParseRoomID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return roomID, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidOffer),
		errors.Is(err, domain.ErrInvalidRoomID),
		errors.Is(err, domain.ErrPasswordTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, app.ErrNegotiation):
		c.JSON(http.StatusBadGateway, gin.H{"error": "negotiation failed"})
	case errors.Is(err, domain.ErrRoomNotFound):
		c.JSON(http.StatusConflict, gin.H{"error": "room was reclaimed, retry"})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
