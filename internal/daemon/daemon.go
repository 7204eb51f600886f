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

// Package daemon wires the Session Manager, SSH trust store, file transfer
// engine, and all four IPC transports into one running process. The vault
// is deliberately absent here: spec.md §2 places it in clients, not the
// daemon.
package daemon

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pulsar-term/pulsar/internal/ipc"
	"github.com/pulsar-term/pulsar/internal/session"
	"github.com/pulsar-term/pulsar/internal/sshtransport"
	"github.com/pulsar-term/pulsar/internal/transfer"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

// Default loopback ports, spec.md §6.
const (
	DefaultWebSocketPort = 3030
	DefaultGRPCPort      = 50051
	DefaultQUICPort      = 4433
)

// ShutdownDeadline bounds graceful shutdown: stop accepting, broadcast EOF
// to every session, wait this long, then force-drop (spec.md §5). In-flight
// file transfers are NOT aborted at shutdown; their metadata and partial
// chunks remain on disk so a reconnecting client can ResumeRequest, per
// the Open Question resolution in SPEC_FULL.md §4.1.
const ShutdownDeadline = 5 * time.Second

// Config configures a Service.
type Config struct {
	// ConfigDir is ${CONFIG_DIR}: home of the local socket on POSIX. The
	// trust store lives elsewhere (see TrustStorePath).
	ConfigDir string
	// StateDir is ${STATE_DIR}: home of file-transfer staging.
	StateDir string
	// TrustStorePath overrides the SSH known_hosts location. Defaults to
	// ${HOME}/.ssh/known_hosts, the OpenSSH-compatible path spec.md §6
	// names.
	TrustStorePath string

	WebSocketAddr string
	GRPCAddr      string
	QUICAddr      string

	AgentSocket string

	Clock clockwork.Clock
	Log   *logrus.Entry
}

// CheckAndSetDefaults validates Config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.ConfigDir == "" {
		return trace.BadParameter("missing config directory")
	}
	if c.StateDir == "" {
		return trace.BadParameter("missing state directory")
	}
	if c.TrustStorePath == "" {
		c.TrustStorePath = filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts")
	}
	if c.WebSocketAddr == "" {
		c.WebSocketAddr = fmt.Sprintf("127.0.0.1:%d", DefaultWebSocketPort)
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = fmt.Sprintf("127.0.0.1:%d", DefaultGRPCPort)
	}
	if c.QUICAddr == "" {
		c.QUICAddr = fmt.Sprintf("127.0.0.1:%d", DefaultQUICPort)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger()).WithField(trace.Component, "daemon")
	}
	return nil
}

// transportServer is implemented by every transport in internal/ipc.
type transportServer interface {
	Listen(addr string) error
	Serve(ctx context.Context) error
	Close() error
}

// Service is a fully wired Pulsar daemon: one Session Manager, one trust
// store, one file transfer engine, and four transport servers sharing them.
type Service struct {
	cfg Config

	Manager    *session.Manager
	TrustStore *sshtransport.TrustStore
	Transfer   *transfer.Engine
	Dispatcher *ipc.Dispatcher

	transports []transportServer
	startedAt  time.Time
}

// New builds a Service without starting any listener.
func New(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	trustStore, err := sshtransport.NewTrustStore(cfg.TrustStorePath)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	backends := session.DefaultBackends(session.SSHBackendConfig{
		TrustStore:  trustStore,
		AgentSocket: cfg.AgentSocket,
	})
	manager, err := session.NewManager(session.Config{
		Backends: backends,
		Clock:    cfg.Clock,
		Log:      cfg.Log.WithField(trace.Component, "session"),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	transferEngine, err := transfer.NewEngine(transfer.Config{
		StoreDir: filepath.Join(cfg.StateDir, "transfers"),
		Clock:    cfg.Clock,
		Log:      cfg.Log.WithField(trace.Component, "transfer"),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	startedAt := cfg.Clock.Now()
	dispatcher := &ipc.Dispatcher{Manager: manager, Version: Version, StartedAt: startedAt}

	return &Service{
		cfg:        cfg,
		Manager:    manager,
		TrustStore: trustStore,
		Transfer:   transferEngine,
		Dispatcher: dispatcher,
		startedAt:  startedAt,
	}, nil
}

// Start binds all four transports and begins serving. It returns once every
// listener is bound; use Run to block on the serve loops.
func (s *Service) Start() error {
	socketPath := "unix://" + filepath.Join(s.cfg.ConfigDir, "pulsar.sock")
	if runtime.GOOS == "windows" {
		socketPath = `pipe://\\.\pipe\pulsar`
	}
	local := &ipc.LocalSocketServer{Dispatcher: s.Dispatcher, Log: s.cfg.Log.WithField(trace.Component, "ipc.local")}
	ws := &ipc.WebSocketServer{Dispatcher: s.Dispatcher, Log: s.cfg.Log.WithField(trace.Component, "ipc.ws")}
	grpcSrv := &ipc.GRPCServer{Dispatcher: s.Dispatcher, Log: s.cfg.Log.WithField(trace.Component, "ipc.grpc")}

	tlsCfg, err := devTLSConfig()
	if err != nil {
		return trace.Wrap(err)
	}
	quicSrv := &ipc.QUICServer{
		Dispatcher: s.Dispatcher,
		Transfer:   s.Transfer,
		TLSConfig:  tlsCfg,
		Log:        s.cfg.Log.WithField(trace.Component, "ipc.quic"),
	}

	if err := local.Listen(socketPath); err != nil {
		return trace.Wrap(err, "local socket")
	}
	if err := ws.Listen(s.cfg.WebSocketAddr); err != nil {
		return trace.Wrap(err, "websocket")
	}
	if err := grpcSrv.Listen(s.cfg.GRPCAddr); err != nil {
		return trace.Wrap(err, "grpc")
	}
	if err := quicSrv.Listen(s.cfg.QUICAddr); err != nil {
		return trace.Wrap(err, "quic")
	}

	s.transports = []transportServer{local, ws, grpcSrv, quicSrv}
	s.cfg.Log.WithFields(logrus.Fields{
		"local": socketPath,
		"ws":    s.cfg.WebSocketAddr,
		"grpc":  s.cfg.GRPCAddr,
		"quic":  s.cfg.QUICAddr,
	}).Info("daemon listening")
	return nil
}

// Run blocks, serving every transport until ctx is canceled, then performs
// graceful shutdown bounded by ShutdownDeadline.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.transports {
		t := t
		g.Go(func() error { return t.Serve(gctx) })
	}

	<-gctx.Done()
	s.shutdown()
	return trace.Wrap(g.Wait())
}

func (s *Service) shutdown() {
	done := make(chan struct{})
	go func() {
		for _, t := range s.transports {
			t.Close()
		}
		for _, summary := range s.Manager.List() {
			s.Manager.Terminate(summary.ID)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(ShutdownDeadline):
		s.cfg.Log.Warn("graceful shutdown deadline exceeded, forcing drop")
	}
}

// Status returns the same figures the get_status / GetDaemonStatus IPC
// methods report, via the shared Dispatcher.
func (s *Service) Status() ipc.StatusResult {
	return s.Dispatcher.GetStatus()
}

// devTLSConfig generates a self-signed development certificate for the
// QUIC/WebTransport listener, per spec.md §4.3 ("self-signed development
// certificate; production deployments supply their own").
func devTLSConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}
