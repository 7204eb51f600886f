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

// Package vault implements the Credential Vault: an at-rest-encrypted
// credential store gated by a master password, with typed record
// operations available only while unlocked. It runs in clients, not the
// daemon (spec.md §2).
package vault

import (
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/ryanuber/go-glob"
	"github.com/sirupsen/logrus"

	"github.com/pulsar-term/pulsar/internal/pulsarerr"
)

// State is the vault lifecycle: uninitialized -> unlocked -> locked ->
// unlocked, per spec.md §4.5.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLocked         State = "locked"
	StateUnlocked       State = "unlocked"
)

// Kind is the closed set of credential variants.
type Kind string

const (
	KindSSHKey      Kind = "ssh-key"
	KindPassword    Kind = "password"
	KindCertificate Kind = "certificate"
)

// SSHKeyPayload is the decrypted payload for KindSSHKey.
type SSHKeyPayload struct {
	PrivateKeyText string `json:"private_key_text"`
	PublicKeyText  string `json:"public_key_text,omitempty"`
	Passphrase     string `json:"passphrase,omitempty"`
}

// PasswordPayload is the decrypted payload for KindPassword.
type PasswordPayload struct {
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
}

// CertificatePayload is the decrypted payload for KindCertificate.
type CertificatePayload struct {
	CertificateText string `json:"certificate_text"`
	PrivateKeyText  string `json:"private_key_text"`
	Passphrase      string `json:"passphrase,omitempty"`
}

// Record is a decrypted credential as returned by Get.
type Record struct {
	ID          uuid.UUID
	Name        string
	Kind        Kind
	Username    string
	HostPattern string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Payload is one of SSHKeyPayload, PasswordPayload, or
	// CertificatePayload depending on Kind.
	Payload any
}

// Summary is the metadata-only view returned by List/ListByKind/FindByHost.
// It never carries decrypted secret material.
type Summary struct {
	ID          uuid.UUID
	Name        string
	Kind        Kind
	Username    string
	HostPattern string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Config configures a Vault.
type Config struct {
	// Path is the sqlite database file, ${CONFIG_DIR}/pulsar_vault.db
	// (spec.md §6).
	Path  string
	Clock clockwork.Clock
	Log   *logrus.Entry
}

// CheckAndSetDefaults validates Config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Path == "" {
		return trace.BadParameter("missing vault database path")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.NewEntry(logrus.StandardLogger()).WithField(trace.Component, "vault")
	}
	return nil
}

// Vault is a single-writer, at-rest-encrypted credential store. The derived
// master key lives only in memory while unlocked and is zeroized on lock or
// Close.
type Vault struct {
	cfg   Config
	store *store
	lock  *flock.Flock

	mu    sync.Mutex
	state State
	salt  []byte
	key   []byte // non-nil only while state == StateUnlocked
}

// Open opens (creating if absent) the vault database at cfg.Path and
// determines whether it has been initialized. It does not unlock the
// vault: callers must call Initialize or Unlock afterward.
func Open(cfg Config) (*Vault, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	fileLock := flock.New(cfg.Path + ".lock")
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, trace.Wrap(err, "acquiring vault lock")
	}
	if !locked {
		return nil, trace.AlreadyExists("vault %s is in use by another process", cfg.Path)
	}

	st, err := openStore(cfg.Path)
	if err != nil {
		fileLock.Unlock()
		return nil, trace.Wrap(err)
	}

	v := &Vault{cfg: cfg, store: st, lock: fileLock, state: StateUninitialized}
	if meta, err := st.readMetadata(); err == nil {
		v.state = StateLocked
		v.salt = meta.Salt
	} else if !trace.IsNotFound(err) {
		st.close()
		fileLock.Unlock()
		return nil, trace.Wrap(err)
	}
	return v, nil
}

// Close releases the database handle and the process-wide file lock.
func (v *Vault) Close() error {
	v.mu.Lock()
	if v.key != nil {
		zeroize(v.key)
		v.key = nil
	}
	v.mu.Unlock()

	storeErr := v.store.close()
	lockErr := v.lock.Unlock()
	if storeErr != nil {
		return trace.Wrap(storeErr)
	}
	return trace.Wrap(lockErr)
}

// State reports the current lifecycle state.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Initialize sets the master password for a never-before-initialized
// vault. It fails with AlreadyInitialized if called twice.
func (v *Vault) Initialize(masterPassword string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StateUninitialized {
		return pulsarerr.NewAlreadyInitialized()
	}
	if masterPassword == "" {
		return trace.BadParameter("master password must not be empty")
	}

	salt, err := newSalt()
	if err != nil {
		return trace.Wrap(err)
	}
	key := deriveKey(masterPassword, salt)
	verifier := deriveKey(string(key), salt) // Argon2-hash of the derived key, per spec.md §4.5

	now := v.cfg.Clock.Now()
	if err := v.store.writeMetadata(metadataRow{
		PasswordHash: encodeVerifier(verifier),
		Salt:         salt,
		Version:      1,
		CreatedAt:    now,
	}); err != nil {
		return trace.Wrap(err)
	}

	v.salt = salt
	v.key = key
	v.state = StateUnlocked
	return nil
}

// Unlock verifies masterPassword against the stored hash and, on success,
// caches the derived key. A wrong password leaves the vault StateLocked
// with no side effects.
func (v *Vault) Unlock(masterPassword string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateUninitialized {
		return trace.NotFound("vault is not initialized")
	}

	meta, err := v.store.readMetadata()
	if err != nil {
		return trace.Wrap(err)
	}

	key := deriveKey(masterPassword, meta.Salt)
	verifier := deriveKey(string(key), meta.Salt)
	if !verifyKey([]byte(encodeVerifier(verifier)), []byte(meta.PasswordHash)) {
		return trace.AccessDenied("incorrect master password")
	}

	now := v.cfg.Clock.Now()
	if err := v.store.touchLastUnlocked(now); err != nil {
		return trace.Wrap(err)
	}

	v.salt = meta.Salt
	v.key = key
	v.state = StateUnlocked
	return nil
}

// Lock zeroizes the cached derived key. Any decryption already in flight
// completes against its own local copy of the key (spec.md §4.5 invariant
// 3); no new decryption can succeed once this returns.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key != nil {
		zeroize(v.key)
		v.key = nil
	}
	if v.state == StateUnlocked {
		v.state = StateLocked
	}
}

// currentKey returns a private copy of the cached key, or an error wrapping
// pulsarerr.ErrLocked if the vault is not unlocked.
func (v *Vault) currentKey() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateUnlocked || v.key == nil {
		return nil, pulsarerr.NewLocked()
	}
	cp := make([]byte, len(v.key))
	copy(cp, v.key)
	return cp, nil
}

// Store encrypts plaintext and persists a new credential record. Requires
// the vault to be unlocked.
func (v *Vault) Store(kind Kind, payload any, name string, tags []string, username, hostPattern string) (uuid.UUID, error) {
	key, err := v.currentKey()
	if err != nil {
		return uuid.Nil, trace.Wrap(err)
	}
	defer zeroize(key)

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, trace.Wrap(err)
	}
	blob, err := seal(key, plaintext)
	if err != nil {
		return uuid.Nil, trace.Wrap(err)
	}
	tagsJSON, err := marshalTags(tags)
	if err != nil {
		return uuid.Nil, trace.Wrap(err)
	}

	id := uuid.New()
	now := v.cfg.Clock.Now()
	row := credentialRow{
		ID:            id.String(),
		Name:          name,
		Kind:          string(kind),
		EncryptedBlob: blob,
		TagsJSON:      tagsJSON,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if username != "" {
		row.Username.String, row.Username.Valid = username, true
	}
	if hostPattern != "" {
		row.HostPattern.String, row.HostPattern.Valid = hostPattern, true
	}

	if err := v.store.insertCredential(row); err != nil {
		return uuid.Nil, trace.Wrap(err)
	}
	return id, nil
}

// Get decrypts and returns a credential record. Requires the vault to be
// unlocked.
func (v *Vault) Get(id uuid.UUID) (*Record, error) {
	key, err := v.currentKey()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer zeroize(key)

	row, err := v.store.getCredential(id.String())
	if err != nil {
		return nil, trace.Wrap(err)
	}

	plaintext, err := open(key, row.EncryptedBlob)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	payload, err := decodePayload(Kind(row.Kind), plaintext)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tags, err := unmarshalTags(row.TagsJSON)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	recID, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &Record{
		ID:          recID,
		Name:        row.Name,
		Kind:        Kind(row.Kind),
		Username:    row.Username.String,
		HostPattern: row.HostPattern.String,
		Tags:        tags,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		Payload:     payload,
	}, nil
}

// List returns metadata-only summaries for every credential. It does not
// require the vault to be unlocked: summaries never carry encrypted or
// decrypted secret material.
func (v *Vault) List() ([]Summary, error) {
	rows, err := v.store.listCredentials()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return summariesFromRows(rows)
}

// ListByKind filters List by credential kind.
func (v *Vault) ListByKind(kind Kind) ([]Summary, error) {
	all, err := v.List()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []Summary
	for _, s := range all {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out, nil
}

// FindByHost glob-matches host against each record's host-pattern.
func (v *Vault) FindByHost(host string) ([]Summary, error) {
	all, err := v.List()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []Summary
	for _, s := range all {
		if s.HostPattern != "" && glob.Glob(s.HostPattern, host) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Delete removes a credential record.
func (v *Vault) Delete(id uuid.UUID) error {
	return trace.Wrap(v.store.deleteCredential(id.String()))
}

func summariesFromRows(rows []credentialRow) ([]Summary, error) {
	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		tags, err := unmarshalTags(row.TagsJSON)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		id, err := uuid.Parse(row.ID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, Summary{
			ID:          id,
			Name:        row.Name,
			Kind:        Kind(row.Kind),
			Username:    row.Username.String,
			HostPattern: row.HostPattern.String,
			Tags:        tags,
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return out, nil
}

func decodePayload(kind Kind, plaintext []byte) (any, error) {
	switch kind {
	case KindSSHKey:
		var p SSHKeyPayload
		if err := json.Unmarshal(plaintext, &p); err != nil {
			return nil, trace.Wrap(err)
		}
		return p, nil
	case KindPassword:
		var p PasswordPayload
		if err := json.Unmarshal(plaintext, &p); err != nil {
			return nil, trace.Wrap(err)
		}
		return p, nil
	case KindCertificate:
		var p CertificatePayload
		if err := json.Unmarshal(plaintext, &p); err != nil {
			return nil, trace.Wrap(err)
		}
		return p, nil
	default:
		return nil, trace.BadParameter("unknown credential kind %q", kind)
	}
}

// encodeVerifier renders a derived-key Argon2 hash as a comparable string.
// Kept as a thin wrapper so Initialize/Unlock always format the stored
// password_hash column the same way.
func encodeVerifier(verifier []byte) string {
	return hex.EncodeToString(verifier)
}
