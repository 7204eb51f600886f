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
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gravitational/trace"
	_ "github.com/mattn/go-sqlite3"
)

// metadataRow mirrors the singleton vault_metadata table.
type metadataRow struct {
	PasswordHash string
	Salt         []byte
	Version      int
	CreatedAt    time.Time
	LastUnlockAt sql.NullTime
}

// credentialRow mirrors one row of the credentials table.
type credentialRow struct {
	ID            string
	Name          string
	Kind          string
	EncryptedBlob string
	Username      sql.NullString
	HostPattern   sql.NullString
	TagsJSON      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// store is the two-table relational backing for a Vault: vault_metadata
// (singleton) and credentials, per spec.md §4.5 "Persistence". Every
// mutation runs inside a transaction so a failed store leaves no partial
// row.
type store struct {
	db *sql.DB
}

func openStore(path string) (*store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// Vault persistence is a single-writer store (spec.md §5); one
	// connection keeps sqlite's own locking from ever seeing concurrent
	// writers in-process.
	db.SetMaxOpenConns(1)

	s := &store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	return s, nil
}

func (s *store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS vault_metadata (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	password_hash TEXT NOT NULL,
	salt BLOB NOT NULL,
	version INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	last_unlocked_at DATETIME
);

CREATE TABLE IF NOT EXISTS credentials (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	encrypted_blob TEXT NOT NULL,
	username TEXT,
	host_pattern TEXT,
	tags TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`)
	return trace.Wrap(err)
}

func (s *store) readMetadata() (*metadataRow, error) {
	row := s.db.QueryRow(`SELECT password_hash, salt, version, created_at, last_unlocked_at FROM vault_metadata WHERE id = 1`)
	var m metadataRow
	if err := row.Scan(&m.PasswordHash, &m.Salt, &m.Version, &m.CreatedAt, &m.LastUnlockAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, trace.NotFound("vault not initialized")
		}
		return nil, trace.Wrap(err)
	}
	return &m, nil
}

func (s *store) writeMetadata(m metadataRow) error {
	_, err := s.db.Exec(
		`INSERT INTO vault_metadata (id, password_hash, salt, version, created_at, last_unlocked_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET password_hash=excluded.password_hash, salt=excluded.salt,
			version=excluded.version, last_unlocked_at=excluded.last_unlocked_at`,
		m.PasswordHash, m.Salt, m.Version, m.CreatedAt, m.LastUnlockAt,
	)
	return trace.Wrap(err)
}

func (s *store) touchLastUnlocked(when time.Time) error {
	_, err := s.db.Exec(`UPDATE vault_metadata SET last_unlocked_at = ? WHERE id = 1`, when)
	return trace.Wrap(err)
}

func (s *store) insertCredential(c credentialRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return trace.Wrap(err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO credentials (id, name, kind, encrypted_blob, username, host_pattern, tags, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Kind, c.EncryptedBlob, c.Username, c.HostPattern, c.TagsJSON, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(tx.Commit())
}

func (s *store) getCredential(id string) (*credentialRow, error) {
	row := s.db.QueryRow(
		`SELECT id, name, kind, encrypted_blob, username, host_pattern, tags, created_at, updated_at
		 FROM credentials WHERE id = ?`, id)
	var c credentialRow
	if err := row.Scan(&c.ID, &c.Name, &c.Kind, &c.EncryptedBlob, &c.Username, &c.HostPattern, &c.TagsJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, trace.NotFound("credential %s not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return &c, nil
}

func (s *store) listCredentials() ([]credentialRow, error) {
	rows, err := s.db.Query(
		`SELECT id, name, kind, encrypted_blob, username, host_pattern, tags, created_at, updated_at
		 FROM credentials ORDER BY name`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []credentialRow
	for rows.Next() {
		var c credentialRow
		if err := rows.Scan(&c.ID, &c.Name, &c.Kind, &c.EncryptedBlob, &c.Username, &c.HostPattern, &c.TagsJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, c)
	}
	return out, trace.Wrap(rows.Err())
}

func (s *store) deleteCredential(id string) error {
	res, err := s.db.Exec(`DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return trace.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return trace.Wrap(err)
	}
	if n == 0 {
		return trace.NotFound("credential %s not found", id)
	}
	return nil
}

func (s *store) close() error {
	return trace.Wrap(s.db.Close())
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	return string(data), trace.Wrap(err)
}

func unmarshalTags(raw string) ([]string, error) {
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, trace.Wrap(err)
	}
	return tags, nil
}
