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
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of session variants the manager supports. Dispatch
// is by this tag, not by interface embedding or inheritance.
type Kind string

const (
	KindLocalShell Kind = "local-shell"
	KindSSH        Kind = "ssh"
	KindSerial     Kind = "serial"
)

// State is the session lifecycle state machine.
type State string

const (
	StateRunning  State = "running"
	StateDetached State = "detached"
	StateStopped  State = "stopped"
)

// KindConfig is implemented by every kind-specific configuration record.
type KindConfig interface {
	Kind() Kind
}

// LocalShellConfig configures a local-shell session backed by a PTY.
type LocalShellConfig struct {
	// Shell is the program to exec, e.g. "/bin/sh" or "powershell.exe".
	Shell string
	// Args are additional arguments passed to Shell.
	Args []string
	// Env is appended to the spawned process's environment.
	Env []string
	// WorkingDir is the child process's working directory; empty means
	// inherit the daemon's.
	WorkingDir string
}

// Kind implements KindConfig.
func (LocalShellConfig) Kind() Kind { return KindLocalShell }

// SerialConfig configures a serial-port session.
type SerialConfig struct {
	// Device is the OS path to the serial device (e.g. "/dev/ttyUSB0").
	Device string
	// BaudRate is the line speed; zero selects a conveyance default.
	BaudRate int
}

// Kind implements KindConfig.
func (SerialConfig) Kind() Kind { return KindSerial }

// SSHConfig configures an SSH-backed session. Auth and host-key verification
// live in internal/sshtransport; this struct only carries what the session
// layer needs to hand off to that package.
type SSHConfig struct {
	Host                 string
	Port                 int
	Username             string
	Password             string
	PrivateKeyText       string
	PrivateKeyPassphrase string
	AcceptUnknownHosts   bool
	AcceptChangedHosts   bool
}

// Kind implements KindConfig.
func (SSHConfig) Kind() Kind { return KindSSH }

// Conveyance is the uniform byte-stream interface a session's underlying OS
// object exposes: a PTY master for local-shell, an open serial port for
// serial, an SSH channel for remote. The core never interprets escape sequences travelling over it.
type Conveyance interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	Close() error
}

// Summary is the read-only view of a session returned by list/get.
type Summary struct {
	ID             uuid.UUID
	Name           string
	Kind           Kind
	State          State
	Cols           int
	Rows           int
	AttachedCount  int
	CreatedAt      time.Time
	LastActivityAt time.Time
}
