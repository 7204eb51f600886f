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

package transfer

import (
	"encoding/hex"
	"io"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"lukechampine.com/blake3"

	"github.com/pulsar-term/pulsar/internal/pulsarerr"
)

// DefaultChunkSize is the protocol default of 1 MiB (spec.md §4.4).
const DefaultChunkSize = 1 << 20

// Config configures an Engine.
type Config struct {
	// StoreDir is the root of the transfer staging area, one subdirectory
	// per transfer-id (spec.md §6: ${STATE_DIR}/transfers/).
	StoreDir string
	Clock    clockwork.Clock
	Log      *logrus.Entry
}

// CheckAndSetDefaults validates Config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.StoreDir == "" {
		return trace.BadParameter("missing transfer store directory")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger()).WithField("trace.component", "transfer")
	}
	return nil
}

// session is the Engine's in-memory handle on one transfer, backed by a
// chunkStore for durable state.
type session struct {
	mu       sync.Mutex
	meta     Metadata
	store    *chunkStore
	received map[int]bool
}

// Engine owns every transfer session and their on-disk chunk stores. It
// shares no state with internal/session; it is reachable only via the QUIC
// transport (internal/ipc/quicserver.go), per spec.md §2.
type Engine struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*session
}

// NewEngine constructs an Engine rooted at cfg.StoreDir.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Engine{cfg: cfg, sessions: make(map[string]*session)}, nil
}

// Start creates a transfer session, replacing any in-memory session with the
// same transfer-id, and returns the TransferAck to send back. Chunk files
// already on disk for that transfer-id are counted as received.
func (e *Engine) Start(req TransferStart) (TransferAck, error) {
	if req.TransferID == "" {
		return TransferAck{}, trace.BadParameter("missing transfer_id")
	}
	if req.ChunkSize <= 0 {
		req.ChunkSize = DefaultChunkSize
	}
	if req.TotalChunks <= 0 {
		return TransferAck{}, trace.BadParameter("total_chunks must be positive")
	}

	store := newChunkStore(e.cfg.StoreDir, req.TransferID)
	if err := store.init(); err != nil {
		return TransferAck{}, trace.Wrap(err)
	}

	now := e.cfg.Clock.Now()
	meta := Metadata{
		TransferID:     req.TransferID,
		Filename:       req.Filename,
		FileSize:       req.FileSize,
		ChunkSize:      req.ChunkSize,
		TotalChunks:    req.TotalChunks,
		WholeFileHash:  req.WholeFileHash,
		PerChunkHashes: req.PerChunkHashes,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if err := store.writeMetadata(meta); err != nil {
		return TransferAck{}, trace.Wrap(err)
	}

	s := &session{meta: meta, store: store, received: make(map[int]bool)}
	indices, err := store.receivedIndices()
	if err != nil {
		return TransferAck{}, trace.Wrap(err)
	}
	for _, idx := range indices {
		s.received[idx] = true
	}

	e.mu.Lock()
	e.sessions[req.TransferID] = s
	e.mu.Unlock()

	e.cfg.Log.WithFields(logrus.Fields{
		"transfer_id": req.TransferID,
		"filename":    req.Filename,
		"size":        humanize.Bytes(uint64(req.FileSize)),
	}).Info("transfer started")

	return TransferAck{
		Envelope:        Envelope{Type: TypeTransferAck},
		Accepted:        true,
		ResumeSupported: true,
		MaxChunkSize:    DefaultChunkSize,
	}, nil
}

// Chunk persists one chunk after verifying its BLAKE3 hash. A hash mismatch
// is reported via ChunkAck.HashValid=false and the chunk is not written to
// disk (spec.md §4.4, §7 HashMismatch: retryable per-chunk).
func (e *Engine) Chunk(meta ChunkData, payload []byte) (ChunkAck, error) {
	s, err := e.lookup(meta.TransferID)
	if err != nil {
		return ChunkAck{}, trace.Wrap(err)
	}
	if len(payload) != meta.ChunkSize {
		return ChunkAck{}, trace.BadParameter("chunk %d: declared size %d does not match payload length %d", meta.ChunkIndex, meta.ChunkSize, len(payload))
	}

	sum := blake3.Sum256(payload)
	got := hex.EncodeToString(sum[:])
	if !hashesEqual(got, meta.ChunkHash) {
		return ChunkAck{
			Envelope:   Envelope{Type: TypeChunkAck},
			ChunkIndex: meta.ChunkIndex,
			Received:   false,
			HashValid:  false,
		}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta.Status != StatusActive {
		return ChunkAck{}, pulsarerr.NewAlreadyStopped()
	}
	if err := s.store.writeChunk(meta.ChunkIndex, payload); err != nil {
		return ChunkAck{}, trace.Wrap(err)
	}
	s.received[meta.ChunkIndex] = true
	s.meta.LastActivityAt = e.cfg.Clock.Now()
	if err := s.store.writeMetadata(s.meta); err != nil {
		return ChunkAck{}, trace.Wrap(err)
	}

	return ChunkAck{
		Envelope:   Envelope{Type: TypeChunkAck},
		ChunkIndex: meta.ChunkIndex,
		Received:   true,
		HashValid:  true,
	}, nil
}

// Complete assembles every received chunk in index order, verifies the
// whole-file BLAKE3 hash, and marks the transfer complete. A hash mismatch
// is fatal to the transfer (spec.md §7).
func (e *Engine) Complete(req TransferComplete) (TransferSuccess, error) {
	s, err := e.lookup(req.TransferID)
	if err != nil {
		return TransferSuccess{}, trace.Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.received) != s.meta.TotalChunks {
		return TransferSuccess{}, trace.BadParameter("transfer %s: %d/%d chunks received", req.TransferID, len(s.received), s.meta.TotalChunks)
	}

	path, err := s.store.assemble(s.meta.Filename, s.meta.TotalChunks)
	if err != nil {
		return TransferSuccess{}, trace.Wrap(err)
	}

	computed, err := hashFile(path)
	if err != nil {
		return TransferSuccess{}, trace.Wrap(err)
	}
	receivedBytes, err := s.store.receivedBytes()
	if err != nil {
		return TransferSuccess{}, trace.Wrap(err)
	}

	verified := hashesEqual(computed, s.meta.WholeFileHash)
	if !verified {
		// Chunks are retained (not deleted) so the client can repair via
		// ResumeRequest, per spec.md §4.4 failure semantics.
		return TransferSuccess{}, trace.Wrap(&pulsarerr.HashMismatchError{
			Chunk:    false,
			Expected: s.meta.WholeFileHash,
			Got:      computed,
		})
	}

	s.meta.Status = StatusComplete
	s.meta.LastActivityAt = e.cfg.Clock.Now()
	if err := s.store.writeMetadata(s.meta); err != nil {
		return TransferSuccess{}, trace.Wrap(err)
	}

	e.cfg.Log.WithFields(logrus.Fields{
		"transfer_id": req.TransferID,
		"path":        path,
	}).Info("transfer complete")

	return TransferSuccess{
		Envelope:       Envelope{Type: TypeTransferSuccess},
		Verified:       true,
		SavedPath:      path,
		ReceivedChunks: len(s.received),
		ReceivedBytes:  receivedBytes,
		ComputedHash:   computed,
	}, nil
}

// Resume scans the on-disk chunk directory (not just in-memory state, so a
// daemon restart does not lose resumability) and reports what's missing.
func (e *Engine) Resume(req ResumeRequest) (ResumeInfo, error) {
	store := newChunkStore(e.cfg.StoreDir, req.TransferID)
	meta, err := store.readMetadata()
	if err != nil {
		return ResumeInfo{}, trace.Wrap(err)
	}
	if meta.Filename != req.Filename || meta.FileSize != req.FileSize {
		return ResumeInfo{
			Envelope: Envelope{Type: TypeResumeInfo},
			Resumable: false,
			Reason:    "filename or size mismatch for this transfer_id",
		}, nil
	}

	indices, err := store.receivedIndices()
	if err != nil {
		return ResumeInfo{}, trace.Wrap(err)
	}
	have := make(map[int]bool, len(indices))
	for _, idx := range indices {
		have[idx] = true
	}
	var missing []int
	next := meta.TotalChunks
	for i := 0; i < meta.TotalChunks; i++ {
		if !have[i] {
			missing = append(missing, i)
			if i < next {
				next = i
			}
		}
	}
	receivedBytes, err := store.receivedBytes()
	if err != nil {
		return ResumeInfo{}, trace.Wrap(err)
	}

	// Re-attach an in-memory session if the daemon restarted mid-transfer.
	e.mu.Lock()
	if _, ok := e.sessions[req.TransferID]; !ok && meta.Status == StatusActive {
		e.sessions[req.TransferID] = &session{meta: meta, store: store, received: have}
	}
	e.mu.Unlock()

	return ResumeInfo{
		Envelope:       Envelope{Type: TypeResumeInfo},
		Resumable:      true,
		ReceivedChunks: indices,
		MissingChunks:  missing,
		NextChunkIndex: next,
		ReceivedBytes:  receivedBytes,
	}, nil
}

// Abort marks a transfer aborted and removes its chunk store.
func (e *Engine) Abort(req TransferAbort) error {
	s, err := e.lookup(req.TransferID)
	if err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.Status = StatusAborted
	e.cfg.Log.WithFields(logrus.Fields{
		"transfer_id": req.TransferID,
		"reason":      req.Reason,
	}).Warn("transfer aborted")

	e.mu.Lock()
	delete(e.sessions, req.TransferID)
	e.mu.Unlock()

	return trace.Wrap(s.store.removeAll())
}

// Summary returns a progress snapshot for every tracked transfer.
func (e *Engine) Summary() []Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Summary, 0, len(e.sessions))
	for id, s := range e.sessions {
		s.mu.Lock()
		out = append(out, Summary{
			TransferID:     id,
			Filename:       s.meta.Filename,
			FileSize:       s.meta.FileSize,
			Status:         s.meta.Status,
			ReceivedChunks: len(s.received),
			TotalChunks:    s.meta.TotalChunks,
		})
		s.mu.Unlock()
	}
	return out
}

func (e *Engine) lookup(transferID string) (*session, error) {
	e.mu.Lock()
	s, ok := e.sessions[transferID]
	e.mu.Unlock()
	if !ok {
		return nil, trace.NotFound("transfer %s not found", transferID)
	}
	return s, nil
}

func hashFile(path string) (string, error) {
	h := blake3.New(32, nil)
	f, err := os.Open(path)
	if err != nil {
		return "", trace.Wrap(err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", trace.Wrap(err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashesEqual(a, b string) bool {
	return a != "" && b != "" && a == b
}
