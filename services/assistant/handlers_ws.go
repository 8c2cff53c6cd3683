// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistant

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/actions"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/conversation"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsMaxFrameSize = 8 << 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are delegated to the deployment's ingress.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsSession serializes writes to one socket. The ping loop and the turn
// loop both write; gorilla allows only one concurrent writer.
type wsSession struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSession) writeJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(v)
}

func (s *wsSession) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (s *wsSession) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// HandleConversationWS handles GET /v1/assistant/conversation/ws.
//
// Description:
//
//	Upgrades to a WebSocket carrying a stream of conversation turns. The
//	client sends TurnRequest frames and receives TurnResponse frames; each
//	frame pair is one turn through the same state machine the REST endpoint
//	uses. The socket is bound to the actor_id given at upgrade time, so a
//	frame cannot switch into another actor's context mid-stream.
//
// Query Parameters:
//
//	actor_id: The actor whose context this socket drives (optional)
//
// Response:
//
//	101 Switching Protocols, then JSON frames. Malformed frames get an
//	ErrorResponse frame; the socket stays open.
//
// Thread Safety: This method is safe for concurrent use. Each socket has
// its own session; turns for the same actor serialize in the context
// registry.
func (h *Handlers) HandleConversationWS(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleConversationWS")
	actor := actions.NormalizeActor(c.Query("actor_id"))

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sess := &wsSession{conn: conn}
	conn.SetReadLimit(wsMaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	stop := make(chan struct{})
	defer close(stop)
	go sess.pingLoop(stop)

	logger.Info("conversation socket open", slog.String("actor", actor))

	for {
		var frame TurnRequest
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("conversation socket closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

		if frame.Input == "" {
			if err := sess.writeJSON(ErrorResponse{Error: "input is required", Code: "INVALID_REQUEST"}); err != nil {
				return
			}
			continue
		}

		var reply conversation.Reply
		turnErr := h.svc.contexts.WithConversation(actor, func(conv *conversation.Conversation) error {
			var innerErr error
			reply, innerErr = h.svc.machine.HandleInput(c.Request.Context(), conv, frame.Input)
			return innerErr
		})
		if turnErr != nil && !errors.Is(turnErr, conversation.ErrRetryExhausted) {
			logger.Error("websocket turn failed", slog.String("error", turnErr.Error()))
			if err := sess.writeJSON(ErrorResponse{Error: "conversation turn failed", Code: "TURN_FAILED"}); err != nil {
				return
			}
			continue
		}

		if err := sess.writeJSON(TurnResponse{
			Text:     reply.Text,
			State:    reply.State.String(),
			Options:  reply.Options,
			Envelope: reply.Envelope,
		}); err != nil {
			logger.Warn("websocket write failed", slog.String("error", err.Error()))
			return
		}
	}
}
