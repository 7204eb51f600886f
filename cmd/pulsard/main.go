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

// Command pulsard is the Pulsar background daemon: it hosts the session
// manager and the four IPC transports described in spec.md §4.3. Settings
// (TOML) loading, notification adapters, and the React/GUI shell are
// collaborators built against this process, not part of it (spec.md §1).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/pulsar-term/pulsar/internal/daemon"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Error("pulsard exited with error")
		os.Exit(1)
	}
}

func run() error {
	var (
		configDir = flag.String("config-dir", defaultConfigDir(), "daemon config directory")
		stateDir  = flag.String("state-dir", defaultStateDir(), "daemon state directory (file transfer staging, etc.)")
		wsAddr    = flag.String("ws-addr", "", "WebSocket listen address (default 127.0.0.1:3030)")
		grpcAddr  = flag.String("grpc-addr", "", "gRPC listen address (default 127.0.0.1:50051)")
		quicAddr  = flag.String("quic-addr", "", "QUIC/WebTransport listen address (default 127.0.0.1:4433)")
		agentSock = flag.String("ssh-agent-socket", os.Getenv("SSH_AUTH_SOCK"), "ssh-agent socket for public-key auth")
		debug     = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	if err := os.MkdirAll(*configDir, 0o700); err != nil {
		return trace.Wrap(err, "creating config directory")
	}
	if err := os.MkdirAll(*stateDir, 0o700); err != nil {
		return trace.Wrap(err, "creating state directory")
	}

	svc, err := daemon.New(daemon.Config{
		ConfigDir:     *configDir,
		StateDir:      *stateDir,
		WebSocketAddr: *wsAddr,
		GRPCAddr:      *grpcAddr,
		QUICAddr:      *quicAddr,
		AgentSocket:   *agentSock,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	if err := svc.Start(); err != nil {
		return trace.Wrap(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return trace.Wrap(svc.Run(ctx))
}

func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "pulsar")
}

func defaultStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "pulsar")
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "pulsar", "state")
}
