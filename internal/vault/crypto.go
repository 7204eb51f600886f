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

package vault

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters, tuned per spec.md §4.5: memory >= 19 MiB, iterations
// >= 2, parallelism 1.
const (
	argonTime    = 3
	argonMemory  = 19 * 1024 // KiB
	argonThreads = 1
	argonKeyLen  = 32
	saltLen      = 16
)

// deriveKey runs Argon2id over password and salt, producing the 256-bit key
// used for record encryption. Password verification applies deriveKey a
// second time, to the derived key, to produce the stored verifier.
func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// newSalt generates a fresh 16-byte random salt for a newly initialized
// vault.
func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, trace.Wrap(err)
	}
	return salt, nil
}

// verifyKey reports whether candidate, the encoded verifier computed from
// the caller-supplied password, matches the verifier stored at initialize
// time. Comparison is
// constant-time so a wrong-password timing channel never leaks how many
// leading bytes matched.
func verifyKey(candidate, stored []byte) bool {
	return subtle.ConstantTimeCompare(candidate, stored) == 1
}

// seal encrypts plaintext under key with a fresh random 12-byte nonce using
// ChaCha20-Poly1305, returning base64(nonce || ciphertext || tag) as
// specified for the credential wire form (spec.md §6).
func seal(key, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", trace.Wrap(err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", trace.Wrap(err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	blob := append(nonce, sealed...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// open decrypts a blob produced by seal. A wrong key or tampered ciphertext
// both surface as a single opaque error: the AEAD tag check gives no
// information about which byte was wrong.
func open(key []byte, encoded string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, trace.Wrap(err, "decoding encrypted blob")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(blob) < aead.NonceSize() {
		return nil, trace.BadParameter("encrypted blob too short")
	}
	nonce, ciphertext := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, trace.AccessDenied("decryption failed")
	}
	return plaintext, nil
}

// zeroize overwrites key material in place before it is dropped, so the
// derived key does not linger in memory past a lock or process exit
// (spec.md §4.5 invariant 2).
func zeroize(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
