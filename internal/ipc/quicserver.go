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
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/pulsar-term/pulsar/internal/transfer"
)

// quicALPN is the single ALPN value this daemon negotiates; it multiplexes
// terminal I/O and file-transfer streams on the shared endpoint rather than
// splitting ALPN per concern.
const quicALPN = "pulsar-wt"

// QUICServer exposes a single QUIC endpoint carrying both terminal I/O
// streams (addressed by session-id) and file-transfer streams, following
// the WebTransport-over-QUIC transport in spec.md §4.3/§4.4. Stream-type
// detection requires the first message to decode into a struct carrying a
// "type" discriminant matching one of transfer's envelope types; anything
// else is treated as terminal I/O keyed by the first newline-terminated
// token, per the strict-schema recommendation in spec.md §9.
type QUICServer struct {
	Dispatcher *Dispatcher
	Transfer   *transfer.Engine
	TLSConfig  *tls.Config
	Log        *logrus.Entry

	listener *quic.Listener
}

// Listen binds addr (a loopback host:port) and prepares to accept QUIC
// connections. s.TLSConfig must already carry a certificate (a self-signed
// development cert unless the deployment supplies its own, per spec.md
// §4.3).
func (s *QUICServer) Listen(addr string) error {
	tlsCfg := s.TLSConfig.Clone()
	tlsCfg.NextProtos = []string{quicALPN}

	l, err := quic.ListenAddr(addr, tlsCfg, &quic.Config{
		MaxIdleTimeout:  2 * time.Minute,
		KeepAlivePeriod: 30 * time.Second,
	})
	if err != nil {
		return trace.Wrap(err, "listening on %s", addr)
	}
	s.listener = l
	return nil
}

// Serve accepts connections until ctx is done or the listener is closed.
func (s *QUICServer) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.Log.WithError(err).Warn("quic accept failed")
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

// Close shuts down the listener, which unblocks any in-flight Accept.
func (s *QUICServer) Close() error {
	if s.listener == nil {
		return nil
	}
	return trace.Wrap(s.listener.Close())
}

func (s *QUICServer) handleConn(ctx context.Context, conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.handleStream(ctx, stream)
	}
}

// streamDiscriminant is decoded first on every stream to detect its mode.
// A strict match against the closed set of transfer envelope types is
// required; a payload that merely happens to be valid JSON but carries no
// recognized "type" falls through to terminal-I/O handling.
type streamDiscriminant struct {
	Type transfer.EnvelopeType `json:"type"`
}

func isTransferEnvelope(t transfer.EnvelopeType) bool {
	switch t {
	case transfer.TypeTransferStart, transfer.TypeChunkData, transfer.TypeTransferComplete,
		transfer.TypeResumeRequest, transfer.TypeTransferAbort:
		return true
	default:
		return false
	}
}

func (s *QUICServer) handleStream(ctx context.Context, stream *quic.Stream) {
	defer stream.Close()

	reader := bufio.NewReaderSize(stream, 64*1024)
	first, err := reader.ReadBytes('\n')
	if err != nil && len(first) == 0 {
		return
	}

	var disc streamDiscriminant
	if json.Unmarshal(first, &disc) == nil && isTransferEnvelope(disc.Type) {
		s.handleTransferStream(stream, reader, first)
		return
	}

	sessionID, err := uuid.Parse(trimNewline(first))
	if err != nil {
		s.Log.WithError(err).Debug("quic stream: neither a transfer envelope nor a session id")
		return
	}
	s.handleTerminalStream(ctx, stream, reader, sessionID)
}

func trimNewline(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return string(b)
}

func (s *QUICServer) handleTerminalStream(ctx context.Context, stream *quic.Stream, reader *bufio.Reader, sessionID uuid.UUID) {
	clientID := uuid.NewString()
	sub, err := s.Dispatcher.AttachSession(AttachSessionParams{SessionID: sessionID, ClientID: clientID})
	if err != nil {
		return
	}
	defer s.Dispatcher.DetachSession(DetachSessionParams{SessionID: sessionID, ClientID: clientID})

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		for {
			data, _, eof, err := sub.Receive(streamCtx, -1)
			if err != nil || eof {
				return
			}
			if len(data) == 0 {
				continue
			}
			if _, err := stream.Write(data); err != nil {
				return
			}
		}
	}()

	buf := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if _, sendErr := s.Dispatcher.SendInput(SendInputParams{SessionID: sessionID, Bytes: append([]byte(nil), buf[:n]...)}); sendErr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// handleTransferStream decodes the full envelope (first already holds the
// discriminant line) and dispatches to the transfer engine. ChunkData is
// the one message type with a raw binary payload appended on the same
// stream after the JSON line.
func (s *QUICServer) handleTransferStream(stream *quic.Stream, reader *bufio.Reader, first []byte) {
	var disc streamDiscriminant
	json.Unmarshal(first, &disc)

	switch disc.Type {
	case transfer.TypeTransferStart:
		var req transfer.TransferStart
		if err := json.Unmarshal(first, &req); err != nil {
			return
		}
		ack, err := s.Transfer.Start(req)
		if err != nil {
			ack = transfer.TransferAck{Envelope: transfer.Envelope{Type: transfer.TypeTransferAck}, Accepted: false, Reason: err.Error()}
		}
		writeJSONLine(stream, ack)

	case transfer.TypeChunkData:
		var meta transfer.ChunkData
		if err := json.Unmarshal(first, &meta); err != nil {
			return
		}
		payload := make([]byte, meta.ChunkSize)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return
		}
		ack, err := s.Transfer.Chunk(meta, payload)
		if err != nil {
			s.Log.WithError(err).Debug("chunk rejected")
			return
		}
		writeJSONLine(stream, ack)

	case transfer.TypeTransferComplete:
		var req transfer.TransferComplete
		if err := json.Unmarshal(first, &req); err != nil {
			return
		}
		result, err := s.Transfer.Complete(req)
		if err != nil {
			s.Log.WithError(err).Warn("transfer completion failed")
			return
		}
		writeJSONLine(stream, result)

	case transfer.TypeResumeRequest:
		var req transfer.ResumeRequest
		if err := json.Unmarshal(first, &req); err != nil {
			return
		}
		info, err := s.Transfer.Resume(req)
		if err != nil {
			info = transfer.ResumeInfo{Envelope: transfer.Envelope{Type: transfer.TypeResumeInfo}, Resumable: false, Reason: err.Error()}
		}
		writeJSONLine(stream, info)

	case transfer.TypeTransferAbort:
		var req transfer.TransferAbort
		if err := json.Unmarshal(first, &req); err != nil {
			return
		}
		s.Transfer.Abort(req)
	}
}

func writeJSONLine(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	data = append(data, '\n')
	w.Write(data)
}
