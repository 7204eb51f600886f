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

// DefaultBackends wires the three built-in conveyance constructors into a
// Backends map suitable for Config.Backends. sshBackendConfig carries the
// daemon-wide trust store and agent socket the SSH backend needs.
func DefaultBackends(sshBackendConfig SSHBackendConfig) map[Kind]Backend {
	return map[Kind]Backend{
		KindLocalShell: LocalShellBackend,
		KindSerial:     SerialBackend,
		KindSSH:        NewSSHBackend(sshBackendConfig),
	}
}
