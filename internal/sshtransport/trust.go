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
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/pulsar-term/pulsar/internal/pulsarerr"
)

// Outcome classifies what happened when a server's host key was checked
// against the trust store.
type Outcome int

const (
	Trusted Outcome = iota
	OutcomeUnknown
	OutcomeChanged
)

// TrustStore is an OpenSSH-compatible known_hosts file, rewritten
// atomically under a file lock so concurrent sessions never interleave
// partial writes (mirrors the write discipline the teacher's local agent
// uses for its credential files).
type TrustStore struct {
	path string

	mu sync.Mutex
}

// NewTrustStore opens (creating if absent) the known_hosts file at path.
func NewTrustStore(path string) (*TrustStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, trace.Wrap(err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	f.Close()
	return &TrustStore{path: path}, nil
}

// Verify checks hostname/remote's key against the store, returning a
// callback result suitable for ssh.ClientConfig.HostKeyCallback. On
// OutcomeUnknown or OutcomeChanged, acceptUnknown/acceptChanged decide
// whether to append/replace the entry instead of rejecting the connection.
func (t *TrustStore) Verify(hostname string, remote net.Addr, key ssh.PublicKey, acceptUnknown, acceptChanged bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	callback, err := knownhosts.New(t.path)
	fingerprint := ssh.FingerprintSHA256(key)

	if err != nil {
		return trace.Wrap(err)
	}

	verifyErr := callback(hostname, remote, key)
	if verifyErr == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if !asKeyError(verifyErr, &keyErr) {
		return trace.Wrap(verifyErr)
	}

	switch {
	case len(keyErr.Want) == 0:
		// No entry at all for this host: unknown.
		if !acceptUnknown {
			return trace.Wrap(&pulsarerr.HostKeyUnknownError{Host: hostname, Fingerprint: fingerprint})
		}
		return trace.Wrap(t.append(hostname, key))

	default:
		// An entry exists but the key doesn't match: changed.
		if !acceptChanged {
			old := ssh.FingerprintSHA256(keyErr.Want[0].Key)
			return trace.Wrap(&pulsarerr.HostKeyChangedError{Host: hostname, OldFingerprint: old, NewFingerprint: fingerprint})
		}
		return trace.Wrap(t.replace(hostname, key))
	}
}

func asKeyError(err error, target **knownhosts.KeyError) bool {
	ke, ok := err.(*knownhosts.KeyError)
	if !ok {
		return false
	}
	*target = ke
	return true
}

// append adds a new trusted-host line. The rewrite happens under an
// flock-guarded temp-file-then-rename so a crash mid-write never corrupts
// the existing file.
func (t *TrustStore) append(hostname string, key ssh.PublicKey) error {
	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	return t.rewrite(func(lines []string) []string {
		return append(lines, line)
	})
}

// replace drops the existing line for (hostname, key.Type()) and appends the
// new key, leaving other algorithms' entries for the same host untouched.
// hostname is normalized the same way knownhosts.Line normalizes it
// internally (stripping the default :22 port, bracketing non-default
// ports) before either building the new line or matching old ones, so a
// stored entry for "example.com:22" is recognized as the same host pattern
// as the freshly normalized "example.com" and is actually dropped.
func (t *TrustStore) replace(hostname string, key ssh.PublicKey) error {
	normalized := knownhosts.Normalize(hostname)
	line := knownhosts.Line([]string{normalized}, key)
	algorithm := key.Type()
	return t.rewrite(func(lines []string) []string {
		kept := lines[:0]
		for _, l := range lines {
			if !lineMatchesHostAndAlgorithm(l, normalized, algorithm) {
				kept = append(kept, l)
			}
		}
		return append(kept, line)
	})
}

func lineMatchesHostAndAlgorithm(line, normalizedHostname, algorithm string) bool {
	_, hosts, pubKey, _, _, err := ssh.ParseKnownHosts([]byte(line))
	if err != nil {
		return false
	}
	if pubKey == nil || pubKey.Type() != algorithm {
		return false
	}
	for _, h := range hosts {
		if knownhosts.Normalize(h) == normalizedHostname {
			return true
		}
	}
	return false
}

// rewrite applies transform to the current line set and atomically
// replaces the known_hosts file. Guarded by an advisory file lock so two
// daemon processes sharing a trust store never race each other's rewrite.
func (t *TrustStore) rewrite(transform func([]string) []string) error {
	lock := flock.New(t.path + ".lock")
	if err := lock.Lock(); err != nil {
		return trace.Wrap(err)
	}
	defer lock.Unlock()

	lines, err := t.readLines()
	if err != nil {
		return trace.Wrap(err)
	}
	lines = transform(lines)

	tmp, err := os.CreateTemp(filepath.Dir(t.path), filepath.Base(t.path)+".tmp-*")
	if err != nil {
		return trace.Wrap(err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return trace.Wrap(err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return trace.Wrap(err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return trace.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return trace.Wrap(err)
	}
	return trace.Wrap(os.Rename(tmpPath, t.path))
}

func (t *TrustStore) readLines() ([]string, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, trace.Wrap(err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, trace.Wrap(scanner.Err())
}
