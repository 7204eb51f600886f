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

// Package ipc exposes the session manager over four concurrent transports
// (local stream socket, WebSocket, gRPC, WebTransport-over-QUIC) that all
// deserialize into the same request/response shape and dispatch to a
// shared Dispatcher, the way lib/teleterm/apiserver/handler delegates
// every RPC to one daemon.Service instance regardless of which listener
// accepted the connection.
package ipc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/pulsar-term/pulsar/internal/pulsarerr"
	"github.com/pulsar-term/pulsar/internal/session"
)

// Method is the stable, transport-independent operation name.
type Method string

const (
	MethodCreateSession    Method = "create_session"
	MethodListSessions     Method = "list_sessions"
	MethodGetSession       Method = "get_session"
	MethodAttachSession    Method = "attach_session"
	MethodDetachSession    Method = "detach_session"
	MethodTerminateSession Method = "terminate_session"
	MethodResizeTerminal   Method = "resize_terminal"
	MethodSendInput        Method = "send_input"
	MethodReceiveOutput    Method = "receive_output"
	MethodGetStatus        Method = "get_status"
)

// ErrorCode follows the JSON-RPC 2.0 reserved range plus the application
// range this daemon defines on top of it.
type ErrorCode int

const (
	ErrParse          ErrorCode = -32700
	ErrInvalidRequest ErrorCode = -32600
	ErrMethodNotFound ErrorCode = -32601
	ErrInvalidParams  ErrorCode = -32602
	ErrInternal              ErrorCode = -32603
	ErrSessionNotFound       ErrorCode = -32000
	ErrSessionAlreadyStopped ErrorCode = -32001
	ErrAuthFailed            ErrorCode = -32002
)

// Error is the wire-independent error shape every transport serializes
// into its own framing.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// CreateSessionParams/etc. are the transport-independent parameter and
// result structs for each Method. JSON-framed transports (local socket,
// WebSocket control channel) marshal these directly; gRPC and QUIC carry
// the same fields through their own envelopes.
type CreateSessionParams struct {
	Name       string          `json:"name"`
	Kind       session.Kind    `json:"kind"`
	Cols       int             `json:"cols"`
	Rows       int             `json:"rows"`
	KindConfig json.RawMessage `json:"kind_config"`
}

type CreateSessionResult struct {
	SessionID uuid.UUID `json:"session_id"`
}

type GetSessionParams struct {
	SessionID uuid.UUID `json:"session_id"`
}

type AttachSessionParams struct {
	SessionID uuid.UUID `json:"session_id"`
	ClientID  string    `json:"client_id"`
}

type DetachSessionParams struct {
	SessionID uuid.UUID `json:"session_id"`
	ClientID  string    `json:"client_id"`
}

type TerminateSessionParams struct {
	SessionID uuid.UUID `json:"session_id"`
}

type ResizeTerminalParams struct {
	SessionID uuid.UUID `json:"session_id"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
}

type SendInputParams struct {
	SessionID uuid.UUID `json:"session_id"`
	Bytes     []byte    `json:"bytes"` // encoding/json base64-encodes []byte automatically
}

type SendInputResult struct {
	BytesWritten int `json:"bytes_written"`
}

type ReceiveOutputParams struct {
	SessionID uuid.UUID `json:"session_id"`
	TimeoutMS int       `json:"timeout_ms,omitempty"`
}

type ReceiveOutputResult struct {
	Bytes []byte `json:"bytes"`
	EOF   bool   `json:"eof"`
}

type StatusResult struct {
	Version     string `json:"version"`
	UptimeSec   int64  `json:"uptime_seconds"`
	NumSessions int    `json:"num_sessions"`
	NumClients  int    `json:"num_clients"`
}

// Dispatcher routes decoded requests to the session manager, translating
// its errors into the wire-independent Error/ErrorCode pair every
// transport serializes on its own terms.
type Dispatcher struct {
	Manager   *session.Manager
	Version   string
	StartedAt time.Time
}

func (d *Dispatcher) CreateSession(ctx context.Context, p CreateSessionParams, kc session.KindConfig) (CreateSessionResult, error) {
	id, err := d.Manager.Create(ctx, p.Name, p.Kind, p.Cols, p.Rows, kc)
	if err != nil {
		return CreateSessionResult{}, translate(err)
	}
	return CreateSessionResult{SessionID: id}, nil
}

func (d *Dispatcher) ListSessions() []session.Summary {
	return d.Manager.List()
}

func (d *Dispatcher) GetSession(p GetSessionParams) (session.Summary, error) {
	s, err := d.Manager.Get(p.SessionID)
	return s, translate(err)
}

func (d *Dispatcher) AttachSession(p AttachSessionParams) (*session.Subscription, error) {
	sub, err := d.Manager.Attach(p.SessionID, p.ClientID)
	return sub, translate(err)
}

func (d *Dispatcher) DetachSession(p DetachSessionParams) error {
	return translate(d.Manager.Detach(p.SessionID, p.ClientID))
}

func (d *Dispatcher) TerminateSession(p TerminateSessionParams) error {
	return translate(d.Manager.Terminate(p.SessionID))
}

func (d *Dispatcher) ResizeTerminal(p ResizeTerminalParams) error {
	return translate(d.Manager.Resize(p.SessionID, p.Cols, p.Rows))
}

func (d *Dispatcher) SendInput(p SendInputParams) (SendInputResult, error) {
	n, err := d.Manager.SendInput(p.SessionID, p.Bytes)
	if err != nil {
		return SendInputResult{}, translate(err)
	}
	return SendInputResult{BytesWritten: n}, nil
}

func (d *Dispatcher) ReceiveOutput(ctx context.Context, sub *session.Subscription, p ReceiveOutputParams) (ReceiveOutputResult, error) {
	timeout := time.Duration(p.TimeoutMS) * time.Millisecond
	if p.TimeoutMS == 0 {
		timeout = 0
	}
	data, eof, err := d.Manager.ReceiveOutput(ctx, sub, timeout)
	if err != nil {
		return ReceiveOutputResult{}, translate(err)
	}
	return ReceiveOutputResult{Bytes: data, EOF: eof}, nil
}

func (d *Dispatcher) GetStatus() StatusResult {
	res := StatusResult{
		Version:     d.Version,
		UptimeSec:   int64(time.Since(d.StartedAt).Seconds()),
		NumSessions: d.Manager.Count(),
	}
	for _, summary := range d.Manager.List() {
		res.NumClients += summary.AttachedCount
	}
	return res
}

// translate maps a session.Manager error into the wire Error shape. nil
// passes through unchanged so callers can return translate(err) directly.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case trace.IsNotFound(err):
		return &Error{Code: ErrSessionNotFound, Message: err.Error()}
	case pulsarerr.IsAlreadyStopped(err):
		return &Error{Code: ErrSessionAlreadyStopped, Message: err.Error()}
	case trace.IsBadParameter(err):
		return &Error{Code: ErrInvalidParams, Message: err.Error()}
	default:
		return &Error{Code: ErrInternal, Message: err.Error()}
	}
}
