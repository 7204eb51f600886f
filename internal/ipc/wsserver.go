/*
Copyright 2026 Pulsar Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ipc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// resizeMessage is the small JSON control frame a WebSocket client sends
// inline with binary terminal data to change the PTY window size.
type resizeMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// WebSocketServer opens one terminal I/O channel per connection, addressed
// by session-id in the URL path. Binary frames carry raw bytes in each
// direction; text frames carry a resize control message.
type WebSocketServer struct {
	Dispatcher *Dispatcher
	Log        *logrus.Entry

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener
}

// Listen starts an HTTP server on addr (a loopback host:port) and upgrades
// every request under /sessions/{id} to a WebSocket.
func (s *WebSocketServer) Listen(addr string) error {
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return trace.Wrap(err)
	}
	s.listener = lis
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions/", s.handleUpgrade)
	s.server = &http.Server{Addr: addr, Handler: mux}
	return nil
}

// Serve blocks until the server is shut down.
func (s *WebSocketServer) Serve(context.Context) error {
	err := s.server.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return trace.Wrap(err)
}

// Close gracefully shuts the HTTP server down.
func (s *WebSocketServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return trace.Wrap(s.server.Shutdown(ctx))
}

func (s *WebSocketServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/sessions/")
	sessionID, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	sub, err := s.Dispatcher.AttachSession(AttachSessionParams{SessionID: sessionID, ClientID: clientID})
	if err != nil {
		conn.WriteMessage(websocket.TextMessage, []byte(err.Error()))
		return
	}
	defer s.Dispatcher.DetachSession(DetachSessionParams{SessionID: sessionID, ClientID: clientID})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.pumpOutput(ctx, conn, sub)
	s.pumpInput(conn, sessionID)
}

// pumpOutput relays every buffer published to sub out over the WebSocket
// as a binary frame until the subscription reports EOF or the connection's
// read loop (pumpInput) exits.
func (s *WebSocketServer) pumpOutput(ctx context.Context, conn *websocket.Conn, sub interface {
	Receive(ctx context.Context, deadline time.Duration) ([]byte, bool, bool, error)
}) {
	for {
		data, _, eof, err := sub.Receive(ctx, -1)
		if err != nil {
			return
		}
		if eof {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			return
		}
		if len(data) == 0 {
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return
		}
	}
}

func (s *WebSocketServer) pumpInput(conn *websocket.Conn, sessionID uuid.UUID) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if _, err := s.Dispatcher.SendInput(SendInputParams{SessionID: sessionID, Bytes: data}); err != nil {
				return
			}
		case websocket.TextMessage:
			var msg resizeMessage
			if json.Unmarshal(data, &msg) == nil && msg.Type == "resize" {
				s.Dispatcher.ResizeTerminal(ResizeTerminalParams{SessionID: sessionID, Cols: msg.Cols, Rows: msg.Rows})
			}
		}
	}
}
