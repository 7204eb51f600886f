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

package session

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// session is the Session Manager's internal record. It carries its own lock
// so map-level operations on Manager never block on session I/O.
type session struct {
	id   uuid.UUID
	name string
	kind Kind
	cfg  KindConfig

	clock clockwork.Clock

	mu             sync.Mutex
	state          State
	cols, rows     int
	attached       map[string]struct{}
	createdAt      time.Time
	lastActivityAt time.Time
	inputClosed    bool

	conveyance     Conveyance
	broadcast      *Broadcast
	onBackendError func(error)

	// doneOnce guards against double-closing the conveyance on terminate.
	doneOnce sync.Once
}

func newSession(id uuid.UUID, name string, kind Kind, cfg KindConfig, cols, rows int, conveyance Conveyance, broadcastCapacity int, clock clockwork.Clock, onBackendError func(error)) *session {
	now := clock.Now()
	return &session{
		id:             id,
		name:           name,
		kind:           kind,
		cfg:            cfg,
		clock:          clock,
		state:          StateRunning,
		cols:           cols,
		rows:           rows,
		attached:       make(map[string]struct{}),
		createdAt:      now,
		lastActivityAt: now,
		conveyance:     conveyance,
		broadcast:      NewBroadcast(broadcastCapacity),
		onBackendError: onBackendError,
	}
}

func (s *session) touch() {
	s.lastActivityAt = s.clock.Now()
}

func (s *session) summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:             s.id,
		Name:           s.name,
		Kind:           s.kind,
		State:          s.state,
		Cols:           s.cols,
		Rows:           s.rows,
		AttachedCount:  len(s.attached),
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
	}
}

// attach registers clientID and, if the session was detached, resumes it to
// running.
func (s *session) attach(clientID string) (*Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return nil, false
	}
	s.attached[clientID] = struct{}{}
	if s.state == StateDetached {
		s.state = StateRunning
	}
	s.touch()
	return s.broadcast.Subscribe(), true
}

// detach removes clientID and, if that drains the attached set, transitions
// to detached. The session is never stopped by detach.
func (s *session) detach(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, clientID)
	if len(s.attached) == 0 && s.state == StateRunning {
		s.state = StateDetached
	}
}

// resize propagates a window-change to the conveyance even when the
// dimensions are unchanged.
func (s *session) resize(cols, rows int) (bool, error) {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return false, nil
	}
	s.cols, s.rows = cols, rows
	conv := s.conveyance
	s.touch()
	s.mu.Unlock()

	return true, conv.Resize(cols, rows)
}

// sendInput writes to the conveyance in order. Returns ok=false if the
// session has already stopped.
func (s *session) sendInput(p []byte) (n int, ok bool, err error) {
	s.mu.Lock()
	if s.state == StateStopped || s.inputClosed {
		s.mu.Unlock()
		return 0, false, nil
	}
	conv := s.conveyance
	s.touch()
	s.mu.Unlock()

	n, err = conv.Write(p)
	return n, true, err
}

// markStopped transitions the session to stopped and tears down its
// conveyance and broadcast. Idempotent: safe to call from Terminate and
// from the pump loop's own error path without coordination.
func (s *session) markStopped() {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.state = StateStopped
		s.inputClosed = true
		s.mu.Unlock()

		s.broadcast.Close()
		s.conveyance.Close()
	})
}

func (s *session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateStopped
}

// pump reads from the conveyance until it errors or returns EOF, publishing
// every buffer to the broadcast, then marks the session stopped. A non-EOF
// error is reported through onBackendError before the session closes.
func (s *session) pump() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.conveyance.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			s.broadcast.Publish(out)
		}
		if err != nil {
			if err != io.EOF && s.onBackendError != nil {
				s.onBackendError(err)
			}
			s.markStopped()
			return
		}
	}
}
