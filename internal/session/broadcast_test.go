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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcast(4)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()

	b.Publish([]byte("hello"))

	for _, sub := range []*Subscription{sub1, sub2} {
		data, lagged, eof, err := sub.Receive(context.Background(), time.Second)
		require.NoError(t, err)
		require.False(t, eof)
		require.False(t, lagged)
		require.Equal(t, []byte("hello"), data)
	}
}

func TestBroadcastDropsOldestOnFullQueue(t *testing.T) {
	t.Parallel()

	b := NewBroadcast(2)
	sub := b.Subscribe()

	b.Publish([]byte("a"))
	b.Publish([]byte("b"))
	b.Publish([]byte("c")) // queue was full: drops "a", tags "c" as lagged

	data, lagged, eof, err := sub.Receive(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, eof)
	require.Equal(t, []byte("b"), data)
	require.False(t, lagged)

	data, lagged, eof, err = sub.Receive(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, eof)
	require.Equal(t, []byte("c"), data)
	require.True(t, lagged)
}

func TestBroadcastReceiveNonBlockingWhenEmpty(t *testing.T) {
	t.Parallel()

	b := NewBroadcast(4)
	sub := b.Subscribe()

	data, _, eof, err := sub.Receive(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, eof)
	require.Nil(t, data)
}

func TestBroadcastCloseSignalsEOF(t *testing.T) {
	t.Parallel()

	b := NewBroadcast(4)
	sub := b.Subscribe()
	b.Close()

	_, _, eof, err := sub.Receive(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, eof)
}

func TestBroadcastReceiveRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	b := NewBroadcast(4)
	sub := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err := sub.Receive(ctx, time.Second)
	require.Error(t, err)
}

func TestBroadcastUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	b := NewBroadcast(4)
	sub := b.Subscribe()
	sub.Unsubscribe()
	require.NotPanics(t, sub.Unsubscribe)
}
