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

package daemon

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckAndSetDefaultsFillsPorts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := Config{ConfigDir: filepath.Join(dir, "config"), StateDir: filepath.Join(dir, "state")}
	require.NoError(t, cfg.CheckAndSetDefaults())

	require.Contains(t, cfg.WebSocketAddr, "3030")
	require.Contains(t, cfg.GRPCAddr, "50051")
	require.Contains(t, cfg.QUICAddr, "4433")
}

func TestCheckAndSetDefaultsRejectsMissingDirs(t *testing.T) {
	t.Parallel()

	var cfg Config
	require.Error(t, cfg.CheckAndSetDefaults())
}

func TestNewBuildsManagerAndTransferEngine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	svc, err := New(Config{
		ConfigDir:      filepath.Join(dir, "config"),
		StateDir:       filepath.Join(dir, "state"),
		TrustStorePath: filepath.Join(dir, "known_hosts"),
	})
	require.NoError(t, err)
	require.NotNil(t, svc.Manager)
	require.NotNil(t, svc.Transfer)
	require.NotNil(t, svc.TrustStore)

	status := svc.Status()
	require.Equal(t, 0, status.NumSessions)
}

func TestGenerateSelfSignedCertIsUsable(t *testing.T) {
	t.Parallel()

	cert, err := generateSelfSignedCert()
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)
}
