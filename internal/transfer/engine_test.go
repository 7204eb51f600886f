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
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"
)

func chunkHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{StoreDir: t.TempDir()})
	require.NoError(t, err)
	return e
}

// buildFile deterministically fills size bytes without crypto/rand so tests
// stay reproducible.
func buildFile(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func wholeFileHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestUploadSmallFileCompletesAndVerifies(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	data := buildFile(3 * 10)
	const chunkSize = 10
	totalChunks := len(data) / chunkSize

	_, err := e.Start(TransferStart{
		TransferID:    "t1",
		Filename:      "notes.txt",
		FileSize:      int64(len(data)),
		ChunkSize:     chunkSize,
		TotalChunks:   totalChunks,
		WholeFileHash: wholeFileHash(data),
	})
	require.NoError(t, err)

	for i := 0; i < totalChunks; i++ {
		chunk := data[i*chunkSize : (i+1)*chunkSize]
		ack, err := e.Chunk(ChunkData{
			TransferID: "t1",
			ChunkIndex: i,
			ChunkSize:  chunkSize,
			ChunkHash:  chunkHash(chunk),
		}, chunk)
		require.NoError(t, err)
		require.True(t, ack.HashValid)
		require.True(t, ack.Received)
	}

	result, err := e.Complete(TransferComplete{
		TransferID:    "t1",
		TotalChunks:   totalChunks,
		TotalBytes:    int64(len(data)),
		WholeFileHash: wholeFileHash(data),
	})
	require.NoError(t, err)
	require.True(t, result.Verified)
	require.Equal(t, wholeFileHash(data), result.ComputedHash)
}

func TestLastShortChunkAssemblesCorrectly(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	data := buildFile(25) // 2 full 10-byte chunks + a 5-byte tail
	const chunkSize = 10
	totalChunks := 3

	_, err := e.Start(TransferStart{
		TransferID:    "t2",
		Filename:      "tail.bin",
		FileSize:      int64(len(data)),
		ChunkSize:     chunkSize,
		TotalChunks:   totalChunks,
		WholeFileHash: wholeFileHash(data),
	})
	require.NoError(t, err)

	offsets := []int{0, 10, 20}
	for i, off := range offsets {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		ack, err := e.Chunk(ChunkData{TransferID: "t2", ChunkIndex: i, ChunkSize: len(chunk), ChunkHash: chunkHash(chunk)}, chunk)
		require.NoError(t, err)
		require.True(t, ack.HashValid)
	}

	result, err := e.Complete(TransferComplete{TransferID: "t2", TotalChunks: totalChunks, TotalBytes: int64(len(data)), WholeFileHash: wholeFileHash(data)})
	require.NoError(t, err)
	require.True(t, result.Verified)
}

func TestCorruptChunkRejectedNotPersisted(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	data := buildFile(40)
	const chunkSize = 10
	totalChunks := 4

	_, err := e.Start(TransferStart{TransferID: "t3", Filename: "x.bin", FileSize: int64(len(data)), ChunkSize: chunkSize, TotalChunks: totalChunks, WholeFileHash: wholeFileHash(data)})
	require.NoError(t, err)

	chunk3 := data[30:40]
	ack, err := e.Chunk(ChunkData{TransferID: "t3", ChunkIndex: 3, ChunkSize: chunkSize, ChunkHash: "deadbeef"}, chunk3)
	require.NoError(t, err)
	require.False(t, ack.HashValid)
	require.False(t, ack.Received)

	info, err := e.Resume(ResumeRequest{TransferID: "t3", Filename: "x.bin", FileSize: int64(len(data)), WholeFileHash: wholeFileHash(data)})
	require.NoError(t, err)
	require.NotContains(t, info.ReceivedChunks, 3)
	require.Contains(t, info.MissingChunks, 3)
}

func TestResumeReportsMissingChunksAfterDisconnect(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	chunkSize := 1 << 20 // 1 MiB, spec.md default
	data := buildFile(chunkSize*6 + chunkSize/2)
	totalChunks := 7 // 6 full + 1 short

	_, err := e.Start(TransferStart{
		TransferID:    "t4",
		Filename:      "big.bin",
		FileSize:      int64(len(data)),
		ChunkSize:     chunkSize,
		TotalChunks:   totalChunks,
		WholeFileHash: wholeFileHash(data),
	})
	require.NoError(t, err)

	// Simulate 6 acked chunks, then a disconnect.
	for i := 0; i < 6; i++ {
		chunk := data[i*chunkSize : (i+1)*chunkSize]
		_, err := e.Chunk(ChunkData{TransferID: "t4", ChunkIndex: i, ChunkSize: len(chunk), ChunkHash: chunkHash(chunk)}, chunk)
		require.NoError(t, err)
	}

	info, err := e.Resume(ResumeRequest{TransferID: "t4", Filename: "big.bin", FileSize: int64(len(data)), WholeFileHash: wholeFileHash(data)})
	require.NoError(t, err)
	require.Equal(t, []int{6}, info.MissingChunks)

	// Retransmit the missing chunk and complete.
	tail := data[6*chunkSize:]
	_, err = e.Chunk(ChunkData{TransferID: "t4", ChunkIndex: 6, ChunkSize: len(tail), ChunkHash: chunkHash(tail)}, tail)
	require.NoError(t, err)

	result, err := e.Complete(TransferComplete{TransferID: "t4", TotalChunks: totalChunks, TotalBytes: int64(len(data)), WholeFileHash: wholeFileHash(data)})
	require.NoError(t, err)
	require.True(t, result.Verified)
}

func TestWholeFileHashMismatchIsFatal(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	data := buildFile(10)
	_, err := e.Start(TransferStart{TransferID: "t5", Filename: "y.bin", FileSize: 10, ChunkSize: 10, TotalChunks: 1, WholeFileHash: "wrong-hash"})
	require.NoError(t, err)

	_, err = e.Chunk(ChunkData{TransferID: "t5", ChunkIndex: 0, ChunkSize: 10, ChunkHash: chunkHash(data)}, data)
	require.NoError(t, err)

	_, err = e.Complete(TransferComplete{TransferID: "t5", TotalChunks: 1, TotalBytes: 10, WholeFileHash: "wrong-hash"})
	require.Error(t, err)
}

func TestAbortRemovesChunkStore(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	_, err := e.Start(TransferStart{TransferID: "t6", Filename: "z.bin", FileSize: 10, ChunkSize: 10, TotalChunks: 1, WholeFileHash: "x"})
	require.NoError(t, err)

	require.NoError(t, e.Abort(TransferAbort{TransferID: "t6", Reason: "client canceled"}))

	_, err = e.Resume(ResumeRequest{TransferID: "t6", Filename: "z.bin", FileSize: 10, WholeFileHash: "x"})
	require.Error(t, err)
}
