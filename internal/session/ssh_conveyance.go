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

package session

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/pulsar-term/pulsar/internal/sshtransport"
)

// SSHBackendConfig parameterizes SSHBackend with what it needs beyond a
// single session's SSHConfig: where the trust store lives and the local
// ssh-agent socket, both daemon-wide rather than per-session.
type SSHBackendConfig struct {
	TrustStore  *sshtransport.TrustStore
	AgentSocket string
}

// NewSSHBackend returns a Backend that dials out over SSH and exposes the
// remote PTY channel as a Conveyance. It is the default registration for
// KindSSH.
func NewSSHBackend(bc SSHBackendConfig) Backend {
	return func(_ context.Context, kc KindConfig, cols, rows int) (Conveyance, error) {
		cfg, ok := kc.(SSHConfig)
		if !ok {
			return nil, trace.BadParameter("expected SSHConfig, got %T", kc)
		}

		handle, err := sshtransport.Connect(sshtransport.Config{
			Host:                 cfg.Host,
			Port:                 cfg.Port,
			Username:             cfg.Username,
			Password:             cfg.Password,
			PrivateKeyPEM:        cfg.PrivateKeyText,
			PrivateKeyPassphrase: cfg.PrivateKeyPassphrase,
			UseAgent:             bc.AgentSocket != "",
			AgentSocket:          bc.AgentSocket,
			TrustStore:           bc.TrustStore,
			AcceptUnknown:        cfg.AcceptUnknownHosts,
			AcceptChanged:        cfg.AcceptChangedHosts,
			Cols:                 cols,
			Rows:                 rows,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return handle, nil
	}
}
