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
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/pulsar-term/pulsar/internal/pulsarerr"
)

func openTestVault(t *testing.T) *Vault {
	t.Helper()
	dir := t.TempDir()
	v, err := Open(Config{Path: filepath.Join(dir, "vault.db")})
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func TestInitializeTwiceFails(t *testing.T) {
	t.Parallel()
	v := openTestVault(t)

	require.NoError(t, v.Initialize("correcthorse"))
	require.Equal(t, StateUnlocked, v.State())

	err := v.Initialize("correcthorse")
	require.True(t, pulsarerr.IsAlreadyInitialized(err))
}

func TestStoreGetRoundTrip(t *testing.T) {
	t.Parallel()
	v := openTestVault(t)
	require.NoError(t, v.Initialize("correcthorse"))

	id, err := v.Store(KindSSHKey, SSHKeyPayload{PrivateKeyText: "-----BEGIN-----\nabc\n-----END-----"}, "prod-bastion", []string{"prod"}, "root", "*.prod.example.com")
	require.NoError(t, err)

	rec, err := v.Get(id)
	require.NoError(t, err)
	require.Equal(t, "prod-bastion", rec.Name)
	require.Equal(t, KindSSHKey, rec.Kind)
	require.Equal(t, "root", rec.Username)
	payload, ok := rec.Payload.(SSHKeyPayload)
	require.True(t, ok)
	require.Contains(t, payload.PrivateKeyText, "BEGIN")
}

func TestLockEvictsKeyAndWrongPasswordStaysLocked(t *testing.T) {
	t.Parallel()
	v := openTestVault(t)
	require.NoError(t, v.Initialize("correcthorse"))

	id, err := v.Store(KindPassword, PasswordPayload{Password: "hunter2", Username: "admin"}, "router", nil, "", "")
	require.NoError(t, err)

	v.Lock()
	require.Equal(t, StateLocked, v.State())

	_, err = v.Get(id)
	require.True(t, pulsarerr.IsLocked(err))

	err = v.Unlock("wrong password")
	require.True(t, trace.IsAccessDenied(err))
	require.Equal(t, StateLocked, v.State())

	require.NoError(t, v.Unlock("correcthorse"))
	rec, err := v.Get(id)
	require.NoError(t, err)
	payload, ok := rec.Payload.(PasswordPayload)
	require.True(t, ok)
	require.Equal(t, "hunter2", payload.Password)
}

func TestListDoesNotExposeSecretsAndFindByHostGlobs(t *testing.T) {
	t.Parallel()
	v := openTestVault(t)
	require.NoError(t, v.Initialize("correcthorse"))

	_, err := v.Store(KindSSHKey, SSHKeyPayload{PrivateKeyText: "secret"}, "web1", nil, "deploy", "web*.example.com")
	require.NoError(t, err)
	_, err = v.Store(KindPassword, PasswordPayload{Password: "secret"}, "db1", nil, "", "db.example.com")
	require.NoError(t, err)

	summaries, err := v.List()
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byKind, err := v.ListByKind(KindPassword)
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	require.Equal(t, "db1", byKind[0].Name)

	matches, err := v.FindByHost("web42.example.com")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "web1", matches[0].Name)
}

func TestDeleteNotFound(t *testing.T) {
	t.Parallel()
	v := openTestVault(t)
	require.NoError(t, v.Initialize("correcthorse"))

	err := v.Delete(uuid.New())
	require.Error(t, err)
	require.True(t, trace.IsNotFound(err))
}
