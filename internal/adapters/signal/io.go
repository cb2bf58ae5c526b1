package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/openrooms/internal/app"
	"github.com/dkeye/openrooms/internal/domain"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("client", c.client).Msg("writePump ctx done")
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("client", c.client).Msg("readPump closing")
		ctl.leaveAll(c)
		c.Close()
	}()

	if ctl.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.ReadLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("client", c.client).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("client", c.client).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
			ctl.handleSignal(ctx, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_request", "malformed message")
		return
	}

	switch env.Type {
	case TypeOffer:
		ctl.handleOffer(ctx, c, data)
	case TypeLeave:
		ctl.handleLeave(c, data)
	case TypePing:
		ctl.sendJSON(c, envelope{Type: TypePong})
	case TypeCreateRoom:
		ctl.handleCreateRoom(c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, "bad_request", "unknown message type")
	}
}

func (ctl *SignalWSController) handleOffer(ctx context.Context, c *WsSignalConn, data []byte) {
	var msg offerMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		ctl.sendError(c, "bad_request", "malformed offer")
		return
	}

	roomID := domain.NewRoomID()
	if msg.Room != "" {
		id, err := domain.ParseRoomID(msg.Room)
		if err != nil {
			ctl.sendError(c, "bad_request", err.Error())
			return
		}
		roomID = id
	}

	if ctl.Limiter != nil && !ctl.Limiter.Allow(c.ip) {
		ctl.sendError(c, "rate_limited", "too many offers")
		return
	}

	ans, err := ctl.Manager.HandleOffer(ctx, roomID, msg.Offer, msg.Candidates)
	if err != nil {
		code, text := describe(err)
		ctl.sendError(c, code, text)
		return
	}
	c.track(ans.RoomID, ans.SessionID)

	ctl.sendJSON(c, answerMsg{
		Type:    TypeAnswer,
		Room:    string(ans.RoomID),
		Session: string(ans.SessionID),
		Answer:  ans.Description,
	})
}

func (ctl *SignalWSController) handleLeave(c *WsSignalConn, data []byte) {
	var msg leaveMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		ctl.sendError(c, "bad_request", "malformed leave")
		return
	}
	roomID, err := domain.ParseRoomID(msg.Room)
	if err != nil {
		ctl.sendError(c, "bad_request", err.Error())
		return
	}

	targets := c.inRoom(roomID)
	if msg.Session != "" {
		targets = []domain.SessionID{domain.SessionID(msg.Session)}
	}

	left := make([]string, 0, len(targets))
	for _, sid := range targets {
		// only sessions negotiated over this socket
		rid, ok := c.untrack(sid)
		if !ok || rid != roomID {
			continue
		}
		if ctl.Manager.Leave(roomID, sid) {
			left = append(left, string(sid))
		}
	}

	ctl.sendJSON(c, leftMsg{Type: TypeLeft, Room: string(roomID), Sessions: left})
}

func (ctl *SignalWSController) handleCreateRoom(c *WsSignalConn, data []byte) {
	var msg createRoomMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		ctl.sendError(c, "bad_request", "malformed create_room")
		return
	}
	info, err := ctl.Manager.CreateRoom(msg.Password)
	if err != nil {
		code, text := describe(err)
		ctl.sendError(c, code, text)
		return
	}
	ctl.sendJSON(c, roomCreatedMsg{Type: TypeRoomCreated, Room: info})
}

// describe maps manager errors to a code and a client-safe message.
func describe(err error) (string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidOffer):
		return "invalid_offer", "offer is not a valid SDP offer"
	case errors.Is(err, app.ErrNegotiation):
		return "negotiation_failed", "negotiation failed"
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room_not_found", "room was reclaimed, retry"
	case errors.Is(err, domain.ErrPasswordTooLong):
		return "bad_request", err.Error()
	default:
		return "internal", "internal error"
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, code, text string) {
	ctl.sendJSON(c, errorMsg{Type: TypeError, Code: code, Error: text})
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("client", c.client).Msg("sendJSON dropped")
	}
}
