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

package pulsarerr

import (
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrorsSurviveTraceWrap(t *testing.T) {
	t.Parallel()

	require.True(t, IsAlreadyStopped(NewAlreadyStopped()))
	require.True(t, IsAlreadyInitialized(NewAlreadyInitialized()))
	require.True(t, IsLocked(NewLocked()))

	require.False(t, IsAlreadyStopped(NewLocked()))
}

func TestTypedErrorsSurviveTraceWrap(t *testing.T) {
	t.Parallel()

	hostErr := &HostKeyUnknownError{Host: "example.com", Fingerprint: "SHA256:abc"}
	require.True(t, IsHostKeyUnknown(trace.Wrap(hostErr)))

	changedErr := &HostKeyChangedError{Host: "example.com", OldFingerprint: "a", NewFingerprint: "b"}
	require.True(t, IsHostKeyChanged(trace.Wrap(changedErr)))

	hashErr := &HashMismatchError{Chunk: true, Expected: "aa", Got: "bb"}
	require.True(t, IsHashMismatch(trace.Wrap(hashErr)))
	require.Contains(t, hashErr.Error(), "chunk hash mismatch")
}
