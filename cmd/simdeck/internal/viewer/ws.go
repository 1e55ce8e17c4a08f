// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package viewer

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/layout"
	"github.com/AleutianAI/simdeck/cmd/simdeck/internal/orchestrator"
)

// Push message types.
const (
	MsgHello  = "hello"
	MsgLayout = "layout"
	MsgState  = "state"
	MsgError  = "error"
)

// Message is one server-to-client frame.
type Message struct {
	Type      string              `json:"type"`
	SessionID string              `json:"session_id,omitempty"`
	Layout    *layout.View        `json:"layout,omitempty"`
	State     *orchestrator.State `json:"state,omitempty"`
	Error     string              `json:"error,omitempty"`
}

const writeWait = 5 * time.Second

// handleWS pushes layout and state changes until either side hangs up.
//
// # Description
//
// Sends a hello, the current layout and (with a state source) the current
// state, then on every push tick sends whatever changed since the last
// frame. Layout changes are detected by layout.Engine.Version, state
// changes by State.UpdatedAt and State.Epoch. Incoming frames are parsed
// as Commands; a failed command is answered with an error frame.
//
// Only this goroutine writes to the connection. The reader goroutine hands
// command failures over a channel.
func (s *Server) handleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	sessionID := uuid.NewString()
	logger := s.logger.With("session_id", sessionID)
	logger.Debug("viewer client connected")

	failures := make(chan string, 8)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			var cmd Command
			if err := ws.ReadJSON(&cmd); err != nil {
				logger.Debug("viewer client disconnected", "error", err)
				return
			}
			if err := s.Apply(cmd); err != nil {
				select {
				case failures <- err.Error():
				default:
				}
			}
		}
	}()
	defer func() {
		_ = ws.Close()
		<-readerDone
	}()

	send := func(m Message) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(m); err != nil {
			logger.Debug("viewer write failed", "error", err)
			return false
		}
		return true
	}

	if !send(Message{Type: MsgHello, SessionID: sessionID}) {
		return
	}

	var (
		layoutVersion uint64
		sentLayout    bool
		stateStamp    time.Time
		stateEpoch    uint64
		sentState     bool
	)
	push := func() bool {
		if v := s.engine.Version(); !sentLayout || v != layoutVersion {
			view := s.engine.View()
			if !send(Message{Type: MsgLayout, Layout: &view}) {
				return false
			}
			layoutVersion, sentLayout = view.Version, true
		}
		if s.state != nil {
			st := s.state.State()
			if !sentState || !st.UpdatedAt.Equal(stateStamp) || st.Epoch != stateEpoch {
				if !send(Message{Type: MsgState, State: &st}) {
					return false
				}
				stateStamp, stateEpoch, sentState = st.UpdatedAt, st.Epoch, true
			}
		}
		return true
	}
	if !push() {
		return
	}

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-readerDone:
			return
		case msg := <-failures:
			if !send(Message{Type: MsgError, Error: msg}) {
				return
			}
		case <-ticker.C:
			if !push() {
				return
			}
		}
	}
}
