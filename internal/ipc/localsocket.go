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
	"encoding/json"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/pulsar-term/pulsar/internal/session"
)

// rpcRequest/rpcResponse are the newline-delimited JSON envelopes carried
// over the local socket, matching the shape a JSON-RPC client expects:
// {id, method, params} in, {id, result | error} out.
type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method Method          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// LocalSocketServer listens on a Unix-domain socket (POSIX) or named pipe
// (Windows, see localsocket_windows.go) at a well-known path, framing
// requests and responses as newline-delimited JSON. Local filesystem
// permissions are the trust boundary: the listener is created owner-only.
type LocalSocketServer struct {
	Dispatcher *Dispatcher
	Log        *logrus.Entry

	listener net.Listener
}

// Listen opens the socket at addr (an "unix://" URL on POSIX, mirroring
// the address-parsing convention lib/teleterm/apiserver/apiserver.go uses
// for its gRPC listener).
func (s *LocalSocketServer) Listen(addr string) error {
	network, path, err := parseLocalAddr(addr)
	if err != nil {
		return trace.Wrap(err)
	}
	if network == "unix" {
		os.Remove(path) // stale socket from an unclean shutdown
	}
	lis, err := listenLocal(network, path)
	if err != nil {
		return trace.Wrap(err)
	}
	s.listener = lis
	return nil
}

func parseLocalAddr(addr string) (network, path string, err error) {
	parts := strings.SplitN(addr, "://", 2)
	if len(parts) != 2 {
		return "", "", trace.BadParameter("invalid local socket address: %s", addr)
	}
	return parts[0], parts[1], nil
}

// Serve accepts connections until the listener is closed.
func (s *LocalSocketServer) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return trace.Wrap(err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting new connections.
func (s *LocalSocketServer) Close() error {
	if s.listener == nil {
		return nil
	}
	return trace.Wrap(s.listener.Close())
}

func (s *LocalSocketServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var writeMu sync.Mutex
	writeResp := func(resp rpcResponse) {
		writeMu.Lock()
		defer writeMu.Unlock()
		enc := json.NewEncoder(conn)
		if err := enc.Encode(resp); err != nil {
			s.Log.WithError(err).Debug("writing local socket response")
		}
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			writeResp(rpcResponse{Error: &Error{Code: ErrParse, Message: err.Error()}})
			continue
		}
		go s.handleRequest(ctx, req, writeResp)
	}
}

func (s *LocalSocketServer) handleRequest(ctx context.Context, req rpcRequest, reply func(rpcResponse)) {
	result, err := s.dispatch(ctx, req)
	resp := rpcResponse{ID: req.ID}
	if err != nil {
		ipcErr, ok := err.(*Error)
		if !ok {
			ipcErr = &Error{Code: ErrInternal, Message: err.Error()}
		}
		resp.Error = ipcErr
	} else {
		resp.Result = result
	}
	reply(resp)
}

func (s *LocalSocketServer) dispatch(ctx context.Context, req rpcRequest) (interface{}, error) {
	d := s.Dispatcher
	switch req.Method {
	case MethodCreateSession:
		var p CreateSessionParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &Error{Code: ErrInvalidParams, Message: err.Error()}
		}
		kc, err := decodeKindConfig(p.Kind, p.KindConfig)
		if err != nil {
			return nil, &Error{Code: ErrInvalidParams, Message: err.Error()}
		}
		return d.CreateSession(ctx, p, kc)

	case MethodListSessions:
		return d.ListSessions(), nil

	case MethodGetSession:
		var p GetSessionParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &Error{Code: ErrInvalidParams, Message: err.Error()}
		}
		return d.GetSession(p)

	case MethodAttachSession:
		var p AttachSessionParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &Error{Code: ErrInvalidParams, Message: err.Error()}
		}
		_, err := d.AttachSession(p)
		return struct{}{}, err

	case MethodDetachSession:
		var p DetachSessionParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &Error{Code: ErrInvalidParams, Message: err.Error()}
		}
		return struct{}{}, d.DetachSession(p)

	case MethodTerminateSession:
		var p TerminateSessionParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &Error{Code: ErrInvalidParams, Message: err.Error()}
		}
		return struct{}{}, d.TerminateSession(p)

	case MethodResizeTerminal:
		var p ResizeTerminalParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &Error{Code: ErrInvalidParams, Message: err.Error()}
		}
		return struct{}{}, d.ResizeTerminal(p)

	case MethodSendInput:
		var p SendInputParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &Error{Code: ErrInvalidParams, Message: err.Error()}
		}
		return d.SendInput(p)

	case MethodReceiveOutput:
		// receive_output over the local socket requires the caller to have
		// attached first and to pass the session id again; the subscription
		// itself is not addressable over this transport, so local-socket
		// clients that need streaming output should use the WebSocket or
		// gRPC transports instead. Returning MethodNotFound documents that
		// limitation rather than silently no-op'ing.
		return nil, &Error{Code: ErrMethodNotFound, Message: "receive_output is not addressable over the local socket transport; use websocket or grpc"}

	case MethodGetStatus:
		return d.GetStatus(), nil

	default:
		return nil, &Error{Code: ErrMethodNotFound, Message: string(req.Method)}
	}
}

// decodeKindConfig unmarshals raw into the concrete KindConfig type for
// kind.
func decodeKindConfig(kind session.Kind, raw json.RawMessage) (session.KindConfig, error) {
	switch kind {
	case session.KindLocalShell:
		var c session.LocalShellConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, trace.Wrap(err)
		}
		return c, nil
	case session.KindSerial:
		var c session.SerialConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, trace.Wrap(err)
		}
		return c, nil
	case session.KindSSH:
		var c session.SSHConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, trace.Wrap(err)
		}
		return c, nil
	default:
		return nil, trace.BadParameter("unknown session kind %q", kind)
	}
}
