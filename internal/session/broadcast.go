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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// defaultCapacity is the default bounded queue depth per subscriber.
const defaultCapacity = 1024

var (
	broadcastBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pulsar",
		Subsystem: "session",
		Name:      "broadcast_bytes_total",
		Help:      "Total bytes published to session output broadcasts.",
	})
	broadcastDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pulsar",
		Subsystem: "session",
		Name:      "broadcast_dropped_buffers_total",
		Help:      "Buffers dropped because a subscriber's queue was full.",
	})
)

func init() {
	prometheus.MustRegister(broadcastBytes, broadcastDropped)
}

// chunk is one immutable buffer queued for a subscriber, tagged with whether
// it was enqueued right after that subscriber lagged (a dropped subscriber's
// next delivery carries a Lagged marker).
type chunk struct {
	data   []byte
	lagged bool
}

// Broadcast fans bytes produced by a single conveyance out to any number of
// subscribers with bounded, drop-oldest back-pressure per subscriber. The
// producer (Publish) never blocks on a slow consumer.
type Broadcast struct {
	mu       sync.Mutex
	capacity int
	subs     map[uint64]*subscription
	nextID   uint64
	closed   bool
}

// NewBroadcast creates a Broadcast with the given per-subscriber capacity.
// A non-positive capacity falls back to the package default of 1024.
func NewBroadcast(capacity int) *Broadcast {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Broadcast{
		capacity: capacity,
		subs:     make(map[uint64]*subscription),
	}
}

// Subscription is a single consumer's view of a Broadcast.
type Subscription struct {
	id uint64
	b  *Broadcast
	ch chan chunk
}

type subscription struct {
	ch     chan chunk
	mu     sync.Mutex // serializes drop-oldest-then-push against concurrent Publish calls for this sub
}

// Subscribe registers a new consumer. Every buffer published after this call
// (and, if the broadcast is already closed, none) is delivered to it.
func (b *Broadcast) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscription{ch: make(chan chunk, b.capacity)}
	if b.closed {
		close(sub.ch)
	} else {
		b.subs[id] = sub
	}
	return &Subscription{id: id, b: b, ch: sub.ch}
}

// Unsubscribe removes a consumer. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.subs, s.id)
}

// Publish enqueues data for every current subscriber. Buffers are immutable
// once enqueued: callers must not reuse data after calling Publish.
func (b *Broadcast) Publish(data []byte) {
	if len(data) == 0 {
		return
	}
	broadcastBytes.Add(float64(len(data)))

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.enqueue(chunk{data: data})
	}
}

func (s *subscription) enqueue(c chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- c:
		return
	default:
	}

	// Full: drop the oldest buffer and tag the next delivery as post-lag.
	select {
	case <-s.ch:
		broadcastDropped.Inc()
	default:
	}
	c.lagged = true
	select {
	case s.ch <- c:
	default:
		// Another producer raced us and refilled the queue; give up rather
		// than spin, the next Publish will retry the drop.
	}
}

// Close signals EOF to every subscriber and rejects new subscriptions.
func (b *Broadcast) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}

// Receive blocks for at most deadline (zero means return immediately,
// negative means block indefinitely) for the next buffer. It reports EOF
// once the broadcast is closed and the subscriber's queue has drained.
func (s *Subscription) Receive(ctx context.Context, deadline time.Duration) (data []byte, lagged bool, eof bool, err error) {
	if deadline == 0 {
		select {
		case c, ok := <-s.ch:
			if !ok {
				return nil, false, true, nil
			}
			return c.data, c.lagged, false, nil
		default:
			return nil, false, false, nil
		}
	}

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if deadline > 0 {
		timer = time.NewTimer(deadline)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case c, ok := <-s.ch:
		if !ok {
			return nil, false, true, nil
		}
		return c.data, c.lagged, false, nil
	case <-timeoutCh:
		return nil, false, false, nil
	case <-ctx.Done():
		return nil, false, false, ctx.Err()
	}
}
