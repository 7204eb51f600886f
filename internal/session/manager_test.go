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
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// fakeConveyance is an in-memory Conveyance used to exercise the Manager
// without spawning real processes.
type fakeConveyance struct {
	mu        sync.Mutex
	out       bytes.Buffer
	in        bytes.Buffer
	cols      int
	rows      int
	resizes   int
	closed    bool
	readErr   error
	unblocked chan struct{}
}

func newFakeConveyance() *fakeConveyance {
	return &fakeConveyance{unblocked: make(chan struct{})}
}

// feed makes data available to the next Read call.
func (f *fakeConveyance) feed(data []byte) {
	f.mu.Lock()
	f.out.Write(data)
	f.mu.Unlock()
	select {
	case f.unblocked <- struct{}{}:
	default:
	}
}

func (f *fakeConveyance) failNextRead(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
	select {
	case f.unblocked <- struct{}{}:
	default:
	}
}

func (f *fakeConveyance) Read(p []byte) (int, error) {
	for {
		f.mu.Lock()
		if f.readErr != nil {
			err := f.readErr
			f.mu.Unlock()
			return 0, err
		}
		if f.out.Len() > 0 {
			n, _ := f.out.Read(p)
			f.mu.Unlock()
			return n, nil
		}
		f.mu.Unlock()
		<-f.unblocked
	}
}

func (f *fakeConveyance) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.in.Write(p)
}

func (f *fakeConveyance) Resize(cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cols, f.rows = cols, rows
	f.resizes++
	return nil
}

func (f *fakeConveyance) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.readErr = io.EOF
	select {
	case f.unblocked <- struct{}{}:
	default:
	}
	return nil
}

func newTestManager(t *testing.T, conv *fakeConveyance) (*Manager, Kind) {
	t.Helper()
	const kind Kind = "fake"
	m, err := NewManager(Config{
		Backends: map[Kind]Backend{
			kind: func(context.Context, KindConfig, int, int) (Conveyance, error) {
				return conv, nil
			},
		},
		Clock: clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	return m, kind
}

type fakeConfig struct{ kind Kind }

func (f fakeConfig) Kind() Kind { return f.kind }

func TestManagerCreateListGet(t *testing.T) {
	t.Parallel()

	conv := newFakeConveyance()
	m, kind := newTestManager(t, conv)

	id, err := m.Create(context.Background(), "demo", kind, 80, 24, fakeConfig{kind: kind})
	require.NoError(t, err)

	summaries := m.List()
	require.Len(t, summaries, 1)
	require.Equal(t, id, summaries[0].ID)
	require.Equal(t, StateRunning, summaries[0].State)

	got, err := m.Get(id)
	require.NoError(t, err)
	require.Equal(t, "demo", got.Name)
}

func TestManagerGetUnknownSessionIsNotFound(t *testing.T) {
	t.Parallel()

	conv := newFakeConveyance()
	m, _ := newTestManager(t, conv)

	_, err := m.Get(uuid.New())
	require.Error(t, err)
	require.True(t, trace.IsNotFound(err))
}

func TestManagerAttachDetachAndOutputFlow(t *testing.T) {
	t.Parallel()

	conv := newFakeConveyance()
	m, kind := newTestManager(t, conv)

	id, err := m.Create(context.Background(), "demo", kind, 80, 24, fakeConfig{kind: kind})
	require.NoError(t, err)

	sub, err := m.Attach(id, "client-a")
	require.NoError(t, err)

	conv.feed([]byte("hello"))

	data, eof, err := m.ReceiveOutput(context.Background(), sub, time.Second)
	require.NoError(t, err)
	require.False(t, eof)
	require.Equal(t, []byte("hello"), data)

	require.NoError(t, m.Detach(id, "client-a"))

	got, err := m.Get(id)
	require.NoError(t, err)
	require.Equal(t, StateDetached, got.State)
}

func TestManagerResizePropagatesEvenWhenUnchanged(t *testing.T) {
	t.Parallel()

	conv := newFakeConveyance()
	m, kind := newTestManager(t, conv)

	id, err := m.Create(context.Background(), "demo", kind, 80, 24, fakeConfig{kind: kind})
	require.NoError(t, err)

	require.NoError(t, m.Resize(id, 80, 24))
	require.NoError(t, m.Resize(id, 80, 24))

	conv.mu.Lock()
	resizes := conv.resizes
	conv.mu.Unlock()
	require.Equal(t, 2, resizes)
}

func TestManagerSendInputWritesInOrder(t *testing.T) {
	t.Parallel()

	conv := newFakeConveyance()
	m, kind := newTestManager(t, conv)

	id, err := m.Create(context.Background(), "demo", kind, 80, 24, fakeConfig{kind: kind})
	require.NoError(t, err)

	_, err = m.SendInput(id, []byte("a"))
	require.NoError(t, err)
	_, err = m.SendInput(id, []byte("b"))
	require.NoError(t, err)

	conv.mu.Lock()
	defer conv.mu.Unlock()
	require.Equal(t, "ab", conv.in.String())
}

func TestManagerTerminateIsIdempotent(t *testing.T) {
	t.Parallel()

	conv := newFakeConveyance()
	m, kind := newTestManager(t, conv)

	id, err := m.Create(context.Background(), "demo", kind, 80, 24, fakeConfig{kind: kind})
	require.NoError(t, err)

	require.NoError(t, m.Terminate(id))
	require.NoError(t, m.Terminate(id))

	got, err := m.Get(id)
	require.NoError(t, err)
	require.Equal(t, StateStopped, got.State)

	_, err = m.SendInput(id, []byte("x"))
	require.Error(t, err)
}

func TestManagerBackendErrorStopsSession(t *testing.T) {
	t.Parallel()

	conv := newFakeConveyance()
	m, kind := newTestManager(t, conv)

	id, err := m.Create(context.Background(), "demo", kind, 80, 24, fakeConfig{kind: kind})
	require.NoError(t, err)

	conv.failNextRead(errors.New("device unplugged"))

	require.Eventually(t, func() bool {
		got, err := m.Get(id)
		return err == nil && got.State == StateStopped
	}, time.Second, 10*time.Millisecond)
}
