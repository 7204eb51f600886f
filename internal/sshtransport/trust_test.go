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

package sshtransport

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/pulsar-term/pulsar/internal/pulsarerr"
)

func genHostKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub
}

func TestTrustStoreUnknownHostRejectedByDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewTrustStore(filepath.Join(dir, "known_hosts"))
	require.NoError(t, err)

	key := genHostKey(t)
	err = store.Verify("example.com:22", &net.TCPAddr{}, key, false, false)
	require.True(t, pulsarerr.IsHostKeyUnknown(err))
}

func TestTrustStoreAcceptUnknownPersistsEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewTrustStore(filepath.Join(dir, "known_hosts"))
	require.NoError(t, err)

	key := genHostKey(t)
	require.NoError(t, store.Verify("example.com:22", &net.TCPAddr{}, key, true, false))

	// Re-verifying the same key against a fresh TrustStore instance backed
	// by the same file should now succeed without AcceptUnknown.
	store2, err := NewTrustStore(filepath.Join(dir, "known_hosts"))
	require.NoError(t, err)
	require.NoError(t, store2.Verify("example.com:22", &net.TCPAddr{}, key, false, false))
}

func TestTrustStoreChangedKeyRejectedByDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewTrustStore(filepath.Join(dir, "known_hosts"))
	require.NoError(t, err)

	first := genHostKey(t)
	require.NoError(t, store.Verify("example.com:22", &net.TCPAddr{}, first, true, false))

	second := genHostKey(t)
	err = store.Verify("example.com:22", &net.TCPAddr{}, second, false, false)
	require.True(t, pulsarerr.IsHostKeyChanged(err))
}

func TestTrustStoreAcceptChangedReplacesEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "known_hosts")
	store, err := NewTrustStore(path)
	require.NoError(t, err)

	first := genHostKey(t)
	require.NoError(t, store.Verify("example.com:22", &net.TCPAddr{}, first, true, false))

	second := genHostKey(t)
	require.NoError(t, store.Verify("example.com:22", &net.TCPAddr{}, second, false, true))

	// Exactly one line for this host+algorithm should survive the replace:
	// knownhosts.Line writes the normalized "example.com" (default :22
	// stripped), so the stale "example.com:22" entry must be matched and
	// dropped rather than left alongside the new one.
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, nonEmptyLines(string(contents)), 1)

	store2, err := NewTrustStore(path)
	require.NoError(t, err)
	require.NoError(t, store2.Verify("example.com:22", &net.TCPAddr{}, second, false, false))

	// A third connection presenting yet another key must see the change as
	// fresh (OutcomeChanged against the now-current second key), proving
	// Verify isn't still matching the stale first-key line.
	third := genHostKey(t)
	err = store2.Verify("example.com:22", &net.TCPAddr{}, third, false, false)
	require.True(t, pulsarerr.IsHostKeyChanged(err))
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
