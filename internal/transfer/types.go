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

// Package transfer implements the chunked, parallel, resumable file upload
// protocol: TransferStart/ChunkData/TransferComplete/ResumeRequest/
// TransferAbort envelopes carried over a QUIC stream, with BLAKE3 per-chunk
// and whole-file hashing.
package transfer

import "time"

// Status is the transfer-session lifecycle.
type Status string

const (
	StatusActive   Status = "active"
	StatusComplete Status = "complete"
	StatusAborted  Status = "aborted"
)

// EnvelopeType discriminates the JSON envelopes carried on a transfer
// stream. WebTransport stream-type detection (internal/ipc/quicserver.go)
// requires this exact field to route a stream into file-transfer mode,
// per the strict-schema policy spec.md §9 recommends over bare JSON
// sniffing.
type EnvelopeType string

const (
	TypeTransferStart    EnvelopeType = "TransferStart"
	TypeTransferAck      EnvelopeType = "TransferAck"
	TypeChunkData        EnvelopeType = "ChunkData"
	TypeChunkAck         EnvelopeType = "ChunkAck"
	TypeTransferComplete EnvelopeType = "TransferComplete"
	TypeTransferSuccess  EnvelopeType = "TransferSuccess"
	TypeResumeRequest    EnvelopeType = "ResumeRequest"
	TypeResumeInfo       EnvelopeType = "ResumeInfo"
	TypeTransferAbort    EnvelopeType = "TransferAbort"
)

// Envelope is embedded in every message so a reader can discriminate the
// wire form with one decode before unmarshaling the full payload.
type Envelope struct {
	Type EnvelopeType `json:"type"`
}

// TransferStart opens a new transfer session.
type TransferStart struct {
	Envelope
	TransferID     string   `json:"transfer_id"`
	Filename       string   `json:"filename"`
	FileSize       int64    `json:"file_size"`
	ChunkSize      int      `json:"chunk_size"`
	TotalChunks    int      `json:"total_chunks"`
	MimeType       string   `json:"mime_type,omitempty"`
	WholeFileHash  string   `json:"whole_file_hash"`
	PerChunkHashes []string `json:"per_chunk_hashes,omitempty"`
}

// TransferAck answers TransferStart.
type TransferAck struct {
	Envelope
	Accepted       bool   `json:"accepted"`
	ResumeSupported bool  `json:"resume_supported"`
	MaxChunkSize   int    `json:"max_chunk_size"`
	Reason         string `json:"reason,omitempty"`
}

// ChunkData precedes ChunkSize raw bytes on the same stream.
type ChunkData struct {
	Envelope
	TransferID string `json:"transfer_id"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkSize  int    `json:"chunk_size"`
	ChunkHash  string `json:"chunk_hash"`
}

// ChunkAck answers ChunkData.
type ChunkAck struct {
	Envelope
	ChunkIndex int  `json:"chunk_index"`
	Received   bool `json:"received"`
	HashValid  bool `json:"hash_valid"`
}

// TransferComplete declares the upload finished and requests assembly.
type TransferComplete struct {
	Envelope
	TransferID    string `json:"transfer_id"`
	TotalChunks   int    `json:"total_chunks"`
	TotalBytes    int64  `json:"total_bytes"`
	WholeFileHash string `json:"whole_file_hash"`
}

// TransferSuccess answers TransferComplete.
type TransferSuccess struct {
	Envelope
	Verified       bool   `json:"verified"`
	SavedPath      string `json:"saved_path"`
	ReceivedChunks int    `json:"received_chunks"`
	ReceivedBytes  int64  `json:"received_bytes"`
	ComputedHash   string `json:"computed_hash"`
}

// ResumeRequest asks the server what's already on disk for a transfer.
type ResumeRequest struct {
	Envelope
	TransferID    string `json:"transfer_id"`
	Filename      string `json:"filename"`
	FileSize      int64  `json:"file_size"`
	WholeFileHash string `json:"whole_file_hash"`
}

// ResumeInfo answers ResumeRequest.
type ResumeInfo struct {
	Envelope
	Resumable       bool  `json:"resumable"`
	ReceivedChunks  []int `json:"received_chunks"`
	MissingChunks   []int `json:"missing_chunks"`
	NextChunkIndex  int   `json:"next_chunk_index"`
	ReceivedBytes   int64 `json:"received_bytes"`
	Reason          string `json:"reason,omitempty"`
}

// TransferAbort cancels an in-flight transfer.
type TransferAbort struct {
	Envelope
	TransferID string `json:"transfer_id"`
	Reason     string `json:"reason"`
}

// Metadata is the persisted description of a transfer session, serialized
// to <store>/<transfer-id>/metadata.json.
type Metadata struct {
	TransferID     string    `json:"transfer_id"`
	Filename       string    `json:"filename"`
	FileSize       int64     `json:"file_size"`
	ChunkSize      int       `json:"chunk_size"`
	TotalChunks    int       `json:"total_chunks"`
	WholeFileHash  string    `json:"whole_file_hash"`
	PerChunkHashes []string  `json:"per_chunk_hashes,omitempty"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Summary is a read-only progress view over a transfer session.
type Summary struct {
	TransferID     string
	Filename       string
	FileSize       int64
	Status         Status
	ReceivedChunks int
	TotalChunks    int
}
