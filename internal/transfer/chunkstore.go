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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/gravitational/trace"
)

// chunkStore owns one transfer session's on-disk layout:
//
//	<root>/<transfer-id>/metadata.json
//	<root>/<transfer-id>/chunks/chunk-NNNNNN.bin
//	<root>/<transfer-id>/final/<filename>
//
// Partial chunk files are left across restarts so ResumeRequest can resume
// a transfer after a daemon restart; only Abort removes the chunks
// directory. Chunk files are kept after a successful completion as well.
type chunkStore struct {
	dir string
}

func newChunkStore(root, transferID string) *chunkStore {
	return &chunkStore{dir: filepath.Join(root, transferID)}
}

func (c *chunkStore) chunksDir() string { return filepath.Join(c.dir, "chunks") }
func (c *chunkStore) finalDir() string  { return filepath.Join(c.dir, "final") }
func (c *chunkStore) metadataPath() string { return filepath.Join(c.dir, "metadata.json") }

func (c *chunkStore) chunkPath(index int) string {
	return filepath.Join(c.chunksDir(), fmt.Sprintf("chunk-%06d.bin", index))
}

func (c *chunkStore) init() error {
	if err := os.MkdirAll(c.chunksDir(), 0o700); err != nil {
		return trace.Wrap(err, "creating chunk directory")
	}
	return nil
}

func (c *chunkStore) writeMetadata(m Metadata) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return trace.Wrap(err)
	}
	tmp := c.metadataPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return trace.Wrap(err, "writing metadata")
	}
	return trace.Wrap(os.Rename(tmp, c.metadataPath()))
}

func (c *chunkStore) readMetadata() (Metadata, error) {
	var m Metadata
	data, err := os.ReadFile(c.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return m, trace.NotFound("no metadata for transfer")
		}
		return m, trace.Wrap(err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, trace.Wrap(err, "decoding metadata")
	}
	return m, nil
}

// writeChunk persists chunk data at index, overwriting any prior attempt at
// the same index.
func (c *chunkStore) writeChunk(index int, data []byte) error {
	tmp := c.chunkPath(index) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return trace.Wrap(err, "writing chunk %d", index)
	}
	return trace.Wrap(os.Rename(tmp, c.chunkPath(index)))
}

// receivedIndices scans the chunks directory and returns the sorted set of
// indices present on disk.
func (c *chunkStore) receivedIndices() ([]int, error) {
	entries, err := os.ReadDir(c.chunksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, trace.Wrap(err)
	}
	var indices []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(e.Name(), "chunk-%06d.bin", &idx); err == nil {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	return indices, nil
}

// receivedBytes sums the size of every persisted chunk file.
func (c *chunkStore) receivedBytes() (int64, error) {
	indices, err := c.receivedIndices()
	if err != nil {
		return 0, trace.Wrap(err)
	}
	var total int64
	for _, idx := range indices {
		info, err := os.Stat(c.chunkPath(idx))
		if err != nil {
			return 0, trace.Wrap(err)
		}
		total += info.Size()
	}
	return total, nil
}

// assemble concatenates every chunk in index order into final/<filename>
// and returns the path. Caller is responsible for verifying the resulting
// file's hash before treating the transfer as complete.
func (c *chunkStore) assemble(filename string, totalChunks int) (string, error) {
	if err := os.MkdirAll(c.finalDir(), 0o700); err != nil {
		return "", trace.Wrap(err)
	}
	dest := filepath.Join(c.finalDir(), filepath.Base(filename))
	out, err := os.Create(dest)
	if err != nil {
		return "", trace.Wrap(err, "creating assembled file")
	}
	defer out.Close()

	for i := 0; i < totalChunks; i++ {
		if err := appendChunk(out, c.chunkPath(i)); err != nil {
			return "", trace.Wrap(err, "assembling chunk %d", i)
		}
	}
	return dest, nil
}

func appendChunk(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return trace.Wrap(err)
	}
	defer f.Close()
	_, err = io.Copy(dst, f)
	return trace.Wrap(err)
}

// removeAll deletes the entire transfer-session directory, used on abort.
func (c *chunkStore) removeAll() error {
	return trace.Wrap(os.RemoveAll(c.dir))
}
