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

// Package pulsarerr defines the error kinds shared across the daemon core.
// Most kinds map directly onto a github.com/gravitational/trace
// classification; the handful that trace has no opinion on (host-key
// security events, hash mismatches, and state-machine violations) are typed
// sentinels that get wrapped with trace.Wrap at the point they're raised, so
// every error in the daemon still carries a stack trace regardless of kind.
package pulsarerr

import (
	"errors"
	"fmt"

	"github.com/gravitational/trace"
)

// Sentinel errors for state-machine violations that trace has no dedicated
// Is* predicate for. Check with errors.Is, not ==, since callers will see
// these wrapped by trace.Wrap.
var (
	ErrAlreadyStopped     = errors.New("session is already stopped")
	ErrAlreadyInitialized = errors.New("vault is already initialized")
	ErrLocked             = errors.New("vault is locked")
)

// IsAlreadyStopped reports whether err (or anything it wraps) is ErrAlreadyStopped.
func IsAlreadyStopped(err error) bool { return errors.Is(err, ErrAlreadyStopped) }

// IsAlreadyInitialized reports whether err (or anything it wraps) is ErrAlreadyInitialized.
func IsAlreadyInitialized(err error) bool { return errors.Is(err, ErrAlreadyInitialized) }

// IsLocked reports whether err (or anything it wraps) is ErrLocked.
func IsLocked(err error) bool { return errors.Is(err, ErrLocked) }

// HostKeyUnknownError is returned by the SSH transport when a server
// presents a key with no matching trust-store entry and the caller has not
// opted into trust-on-first-use.
type HostKeyUnknownError struct {
	Host        string
	Fingerprint string
}

func (e *HostKeyUnknownError) Error() string {
	return fmt.Sprintf("unknown host key for %s (%s)", e.Host, e.Fingerprint)
}

// HostKeyChangedError is returned when a server's key no longer matches the
// trust-store entry and the caller has not opted into accepting the change.
type HostKeyChangedError struct {
	Host           string
	OldFingerprint string
	NewFingerprint string
}

func (e *HostKeyChangedError) Error() string {
	return fmt.Sprintf("host key for %s changed: trusted %s, got %s", e.Host, e.OldFingerprint, e.NewFingerprint)
}

// HashMismatchError is returned by the file transfer engine when a chunk or
// whole-file hash does not match what was declared.
type HashMismatchError struct {
	// Chunk is true for a per-chunk mismatch (retryable), false for a
	// whole-file mismatch (fatal to the transfer).
	Chunk    bool
	Expected string
	Got      string
}

func (e *HashMismatchError) Error() string {
	what := "whole-file"
	if e.Chunk {
		what = "chunk"
	}
	return fmt.Sprintf("%s hash mismatch: expected %s, got %s", what, e.Expected, e.Got)
}

// ResourceExhaustedError is returned when the host refuses to allocate a
// PTY, file descriptor, or other OS resource a session's conveyance needs
// to start (spec.md §4.1 create()).
type ResourceExhaustedError struct {
	Err error
}

func (e *ResourceExhaustedError) Error() string {
	return fmt.Sprintf("resource exhausted: %v", e.Err)
}

func (e *ResourceExhaustedError) Unwrap() error { return e.Err }

// BackendFailureError is returned when a session's conveyance fails to
// start for a reason that is neither a resource limit nor a config mistake
// (spec.md §4.1 create()).
type BackendFailureError struct {
	Err error
}

func (e *BackendFailureError) Error() string {
	return fmt.Sprintf("backend failure: %v", e.Err)
}

func (e *BackendFailureError) Unwrap() error { return e.Err }

// IsResourceExhausted reports whether err wraps a *ResourceExhaustedError.
func IsResourceExhausted(err error) bool {
	var e *ResourceExhaustedError
	return errors.As(err, &e)
}

// IsBackendFailure reports whether err wraps a *BackendFailureError.
func IsBackendFailure(err error) bool {
	var e *BackendFailureError
	return errors.As(err, &e)
}

// IsHostKeyUnknown reports whether err wraps a *HostKeyUnknownError.
func IsHostKeyUnknown(err error) bool {
	var e *HostKeyUnknownError
	return errors.As(err, &e)
}

// IsHostKeyChanged reports whether err wraps a *HostKeyChangedError.
func IsHostKeyChanged(err error) bool {
	var e *HostKeyChangedError
	return errors.As(err, &e)
}

// IsHashMismatch reports whether err wraps a *HashMismatchError.
func IsHashMismatch(err error) bool {
	var e *HashMismatchError
	return errors.As(err, &e)
}

// NewAlreadyStopped wraps ErrAlreadyStopped with a stack trace.
func NewAlreadyStopped() error { return trace.Wrap(ErrAlreadyStopped) }

// NewAlreadyInitialized wraps ErrAlreadyInitialized with a stack trace.
func NewAlreadyInitialized() error { return trace.Wrap(ErrAlreadyInitialized) }

// NewLocked wraps ErrLocked with a stack trace.
func NewLocked() error { return trace.Wrap(ErrLocked) }
