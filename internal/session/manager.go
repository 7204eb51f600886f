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

// Package session implements the Session Manager: a multi-client PTY
// multiplexer with detach/reattach semantics carrying local-shell, SSH, and
// serial sessions through one uniform interface.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/pulsar-term/pulsar/internal/pulsarerr"
)

// Backend constructs the conveyance for a given kind/config pair. The
// Session Manager is conveyance-agnostic: internal/session/pty.go and
// internal/session/serial.go provide the local backends, and the daemon
// wires internal/sshtransport in for KindSSH.
type Backend func(ctx context.Context, cfg KindConfig, cols, rows int) (Conveyance, error)

// Config configures a Manager, following the Config/CheckAndSetDefaults
// shape used throughout this daemon's components.
type Config struct {
	// Backends maps each supported Kind to its conveyance constructor.
	Backends map[Kind]Backend
	// BroadcastCapacity is the per-subscriber bounded queue depth. Defaults
	// to 1024.
	BroadcastCapacity int
	// DetachIdleTimeout, if non-zero, terminates a detached session once it
	// has had no clients for this long. Left disabled unless configured.
	DetachIdleTimeout time.Duration
	Clock             clockwork.Clock
	Log               *logrus.Entry
}

// CheckAndSetDefaults validates Config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if len(c.Backends) == 0 {
		return trace.BadParameter("missing at least one session backend")
	}
	if c.BroadcastCapacity <= 0 {
		c.BroadcastCapacity = defaultCapacity
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger()).WithField(trace.Component, "session")
	}
	return nil
}

// Manager is the daemon's single source of truth for terminal sessions. It
// is a value passed to every IPC transport; there is no process-wide
// singleton.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
}

// NewManager constructs a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Manager{cfg: cfg, sessions: make(map[uuid.UUID]*session)}, nil
}

// Create allocates a session, spawns its conveyance, and transitions it to
// running.
func (m *Manager) Create(ctx context.Context, name string, kind Kind, cols, rows int, cfg KindConfig) (uuid.UUID, error) {
	if cols < 1 || rows < 1 {
		return uuid.Nil, trace.BadParameter("invalid dimensions %dx%d: cols and rows must be >= 1", cols, rows)
	}
	backend, ok := m.cfg.Backends[kind]
	if !ok {
		return uuid.Nil, trace.BadParameter("unsupported session kind %q", kind)
	}

	conveyance, err := backend(ctx, cfg, cols, rows)
	if err != nil {
		return uuid.Nil, trace.Wrap(err)
	}

	id := uuid.New()
	log := m.cfg.Log.WithField("session_id", id)
	s := newSession(id, name, kind, cfg, cols, rows, conveyance, m.cfg.BroadcastCapacity, m.cfg.Clock, func(err error) {
		log.WithError(err).Warn("session conveyance ended")
	})

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	go s.pump()

	log.WithField("kind", kind).Info("session created")
	return id, nil
}

// List returns a summary of every tracked session.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.summary())
	}
	return out
}

// Get returns a single session's summary.
func (m *Manager) Get(id uuid.UUID) (Summary, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Summary{}, trace.Wrap(err)
	}
	return s.summary(), nil
}

// Attach subscribes clientID to a session's output, resuming it from
// detached if necessary.
func (m *Manager) Attach(id uuid.UUID, clientID string) (*Subscription, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sub, ok := s.attach(clientID)
	if !ok {
		return nil, pulsarerr.NewAlreadyStopped()
	}
	return sub, nil
}

// Detach removes clientID from a session. Detach itself never stops the
// session; when DetachIdleTimeout is set, a session that is still detached
// with no activity once that timeout has elapsed is terminated.
func (m *Manager) Detach(id uuid.UUID, clientID string) error {
	s, err := m.lookup(id)
	if err != nil {
		return trace.Wrap(err)
	}
	s.detach(clientID)
	if timeout := m.cfg.DetachIdleTimeout; timeout > 0 && s.summary().State == StateDetached {
		go func() {
			<-m.cfg.Clock.After(timeout)
			sum := s.summary()
			if sum.State == StateDetached && m.cfg.Clock.Since(sum.LastActivityAt) >= timeout {
				s.markStopped()
			}
		}()
	}
	return nil
}

// Terminate stops a session. Idempotent.
func (m *Manager) Terminate(id uuid.UUID) error {
	s, err := m.lookup(id)
	if err != nil {
		return trace.Wrap(err)
	}
	s.markStopped()
	return nil
}

// Resize propagates a window-change to the conveyance.
func (m *Manager) Resize(id uuid.UUID, cols, rows int) error {
	if cols < 1 || rows < 1 {
		return trace.BadParameter("invalid dimensions %dx%d: cols and rows must be >= 1", cols, rows)
	}
	s, err := m.lookup(id)
	if err != nil {
		return trace.Wrap(err)
	}
	ok, err := s.resize(cols, rows)
	if err != nil {
		return trace.Wrap(err)
	}
	if !ok {
		return pulsarerr.NewAlreadyStopped()
	}
	return nil
}

// SendInput appends bytes to a session's input sink in order.
func (m *Manager) SendInput(id uuid.UUID, p []byte) (int, error) {
	s, err := m.lookup(id)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	n, ok, err := s.sendInput(p)
	if err != nil {
		return n, trace.Wrap(err)
	}
	if !ok {
		return 0, pulsarerr.NewAlreadyStopped()
	}
	return n, nil
}

// ReceiveOutput performs a blocking read with an optional timeout on a
// subscription. timeout == 0 returns immediately; timeout < 0 blocks
// indefinitely.
func (m *Manager) ReceiveOutput(ctx context.Context, sub *Subscription, timeout time.Duration) (data []byte, eof bool, err error) {
	data, _, eof, err = sub.Receive(ctx, timeout)
	return data, eof, trace.Wrap(err)
}

func (m *Manager) lookup(id uuid.UUID) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, trace.NotFound("session %s not found", id)
	}
	return s, nil
}

// Count returns the number of tracked sessions, used by the IPC get_status
// method.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
