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
	"io"
	"net"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pulsar-term/pulsar/internal/session"
)

// terminalServiceName is the service name reflection and clients address,
// matching proto/terminal.proto's TerminalService even though no .pb.go
// stub exists to generate it: the toolchain this exercise targets must
// never run protoc.
const terminalServiceName = "pulsar.terminal.v1.TerminalService"

// GRPCServer hosts the TerminalService described in proto/terminal.proto
// on a loopback TCP listener, wiring every unary and streaming method
// straight onto the shared Dispatcher the way
// lib/teleterm/apiserver/handler.Handler delegates every generated RPC to
// one daemon.Service.
type GRPCServer struct {
	Dispatcher *Dispatcher
	Log        *logrus.Entry

	grpcServer *grpc.Server
	listener   net.Listener
}

// Listen binds addr and registers the hand-rolled TerminalService
// ServiceDesc under the JSON codec registered in grpccodec.go.
func (s *GRPCServer) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return trace.Wrap(err)
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.errorInterceptor))
	s.grpcServer.RegisterService(&terminalServiceDesc, s)
	return nil
}

// Serve blocks, accepting connections until Close is called.
func (s *GRPCServer) Serve(context.Context) error {
	return trace.Wrap(s.grpcServer.Serve(s.listener))
}

// Close gracefully stops the server.
func (s *GRPCServer) Close() error {
	s.grpcServer.GracefulStop()
	return nil
}

// errorInterceptor converts an *Error returned by the Dispatcher into a
// grpc/status error so clients see a standard gRPC status code alongside
// the JSON-RPC-style application code carried in the message.
func (s *GRPCServer) errorInterceptor(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ipcErr, ok := err.(*Error); ok {
		return nil, status.Error(grpcCodeFor(ipcErr.Code), ipcErr.Message)
	}
	return nil, status.Error(codes.Internal, err.Error())
}

func grpcCodeFor(code ErrorCode) codes.Code {
	switch code {
	case ErrSessionNotFound:
		return codes.NotFound
	case ErrSessionAlreadyStopped:
		return codes.FailedPrecondition
	case ErrInvalidParams, ErrInvalidRequest, ErrParse:
		return codes.InvalidArgument
	case ErrAuthFailed:
		return codes.Unauthenticated
	case ErrMethodNotFound:
		return codes.Unimplemented
	default:
		return codes.Internal
	}
}

// --- unary handlers -------------------------------------------------------

func (s *GRPCServer) createSession(ctx context.Context, dec func(interface{}) error) (interface{}, error) {
	var req struct {
		CreateSessionParams
		KindConfigJSON []byte `json:"kind_config_json"`
	}
	if err := dec(&req); err != nil {
		return nil, err
	}
	req.CreateSessionParams.KindConfig = req.KindConfigJSON
	kc, err := decodeKindConfig(req.Kind, req.KindConfig)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s.Dispatcher.CreateSession(ctx, req.CreateSessionParams, kc)
}

func (s *GRPCServer) listSessions(ctx context.Context, dec func(interface{}) error) (interface{}, error) {
	var req struct{}
	if err := dec(&req); err != nil {
		return nil, err
	}
	return struct {
		Sessions []session.Summary `json:"sessions"`
	}{Sessions: s.Dispatcher.ListSessions()}, nil
}

func (s *GRPCServer) getSession(ctx context.Context, dec func(interface{}) error) (interface{}, error) {
	var req GetSessionParams
	if err := dec(&req); err != nil {
		return nil, err
	}
	return s.Dispatcher.GetSession(req)
}

func (s *GRPCServer) terminateSession(ctx context.Context, dec func(interface{}) error) (interface{}, error) {
	var req TerminateSessionParams
	if err := dec(&req); err != nil {
		return nil, err
	}
	return struct{}{}, s.Dispatcher.TerminateSession(req)
}

func (s *GRPCServer) attachSession(ctx context.Context, dec func(interface{}) error) (interface{}, error) {
	var req AttachSessionParams
	if err := dec(&req); err != nil {
		return nil, err
	}
	_, err := s.Dispatcher.AttachSession(req)
	return struct{}{}, err
}

func (s *GRPCServer) detachSession(ctx context.Context, dec func(interface{}) error) (interface{}, error) {
	var req DetachSessionParams
	if err := dec(&req); err != nil {
		return nil, err
	}
	return struct{}{}, s.Dispatcher.DetachSession(req)
}

func (s *GRPCServer) resizeTerminal(ctx context.Context, dec func(interface{}) error) (interface{}, error) {
	var req ResizeTerminalParams
	if err := dec(&req); err != nil {
		return nil, err
	}
	return struct{}{}, s.Dispatcher.ResizeTerminal(req)
}

func (s *GRPCServer) getDaemonStatus(ctx context.Context, dec func(interface{}) error) (interface{}, error) {
	var req struct{}
	if err := dec(&req); err != nil {
		return nil, err
	}
	return s.Dispatcher.GetStatus(), nil
}

func (s *GRPCServer) healthCheck(ctx context.Context, dec func(interface{}) error) (interface{}, error) {
	var req struct{}
	if err := dec(&req); err != nil {
		return nil, err
	}
	return struct {
		Healthy bool `json:"healthy"`
	}{Healthy: true}, nil
}

// --- streaming handlers ----------------------------------------------------

// streamOutput is a server-streaming RPC: the client sends one
// GetSessionParams-shaped request naming a session, the server streams
// ReceiveOutputResult messages until the session stops or the client
// cancels.
func (s *GRPCServer) streamOutput(stream grpc.ServerStream) error {
	var req GetSessionParams
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	sub, err := s.Dispatcher.AttachSession(AttachSessionParams{SessionID: req.SessionID, ClientID: "grpc-stream-output"})
	if err != nil {
		return err
	}
	defer s.Dispatcher.DetachSession(DetachSessionParams{SessionID: req.SessionID, ClientID: "grpc-stream-output"})

	for {
		data, eof, err := s.Dispatcher.Manager.ReceiveOutput(stream.Context(), sub, -1)
		if err != nil {
			return err
		}
		if eof {
			return nil
		}
		if err := stream.SendMsg(&ReceiveOutputResult{Bytes: data}); err != nil {
			return err
		}
	}
}

// streamInput is a client-streaming RPC: the client sends a sequence of
// SendInputParams messages, each written to the session in order; the
// server replies once with the session summary after the client closes
// its send direction.
func (s *GRPCServer) streamInput(stream grpc.ServerStream) error {
	var sessionID [16]byte
	var gotID bool
	for {
		var req SendInputParams
		err := stream.RecvMsg(&req)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if !gotID {
			sessionID = req.SessionID
			gotID = true
		}
		if _, err := s.Dispatcher.SendInput(req); err != nil {
			return err
		}
	}
	if !gotID {
		return status.Error(codes.InvalidArgument, "no input received")
	}
	summary, err := s.Dispatcher.GetSession(GetSessionParams{SessionID: sessionID})
	if err != nil {
		return err
	}
	return stream.SendMsg(&summary)
}

// streamBidirectional pumps input and output concurrently over the same
// stream: received SendInputParams messages are written to the session,
// and every output buffer is sent back as a ReceiveOutputResult, until
// either side closes.
func (s *GRPCServer) streamBidirectional(stream grpc.ServerStream) error {
	var req SendInputParams
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	sessionID := req.SessionID

	sub, err := s.Dispatcher.AttachSession(AttachSessionParams{SessionID: sessionID, ClientID: "grpc-stream-bidi"})
	if err != nil {
		return err
	}
	defer s.Dispatcher.DetachSession(DetachSessionParams{SessionID: sessionID, ClientID: "grpc-stream-bidi"})

	if _, err := s.Dispatcher.SendInput(req); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		for {
			var in SendInputParams
			if err := stream.RecvMsg(&in); err != nil {
				errCh <- err
				return
			}
			if _, err := s.Dispatcher.SendInput(in); err != nil {
				errCh <- err
				return
			}
		}
	}()
	go func() {
		for {
			data, eof, err := s.Dispatcher.Manager.ReceiveOutput(stream.Context(), sub, -1)
			if err != nil {
				errCh <- err
				return
			}
			if eof {
				errCh <- nil
				return
			}
			if err := stream.SendMsg(&ReceiveOutputResult{Bytes: data}); err != nil {
				errCh <- err
				return
			}
		}
	}()
	return <-errCh
}

var terminalServiceDesc = grpc.ServiceDesc{
	ServiceName: terminalServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSession", Handler: unaryHandler((*GRPCServer).createSession)},
		{MethodName: "ListSessions", Handler: unaryHandler((*GRPCServer).listSessions)},
		{MethodName: "GetSession", Handler: unaryHandler((*GRPCServer).getSession)},
		{MethodName: "TerminateSession", Handler: unaryHandler((*GRPCServer).terminateSession)},
		{MethodName: "AttachSession", Handler: unaryHandler((*GRPCServer).attachSession)},
		{MethodName: "DetachSession", Handler: unaryHandler((*GRPCServer).detachSession)},
		{MethodName: "ResizeTerminal", Handler: unaryHandler((*GRPCServer).resizeTerminal)},
		{MethodName: "GetDaemonStatus", Handler: unaryHandler((*GRPCServer).getDaemonStatus)},
		{MethodName: "HealthCheck", Handler: unaryHandler((*GRPCServer).healthCheck)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamOutput", Handler: streamHandler((*GRPCServer).streamOutput), ServerStreams: true},
		{StreamName: "StreamInput", Handler: streamHandler((*GRPCServer).streamInput), ClientStreams: true},
		{StreamName: "StreamBidirectional", Handler: streamHandler((*GRPCServer).streamBidirectional), ServerStreams: true, ClientStreams: true},
	},
}

type unaryMethod func(*GRPCServer, context.Context, func(interface{}) error) (interface{}, error)

func unaryHandler(m unaryMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		s := srv.(*GRPCServer)
		if interceptor == nil {
			return m(s, ctx, dec)
		}
		info := &grpc.UnaryServerInfo{Server: s}
		handler := func(ctx context.Context, _ interface{}) (interface{}, error) {
			return m(s, ctx, dec)
		}
		return interceptor(ctx, struct{}{}, info, handler)
	}
}

type streamMethod func(*GRPCServer, grpc.ServerStream) error

func streamHandler(m streamMethod) func(interface{}, grpc.ServerStream) error {
	return func(srv interface{}, stream grpc.ServerStream) error {
		return m(srv.(*GRPCServer), stream)
	}
}
