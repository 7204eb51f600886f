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
	"errors"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"github.com/gravitational/trace"

	"github.com/pulsar-term/pulsar/internal/pulsarerr"
)

// ptyConveyance wraps a local process's PTY master as a Conveyance.
type ptyConveyance struct {
	master *os.File
	cmd    *exec.Cmd
}

// LocalShellBackend is a Backend that execs cfg.Shell attached to a new
// PTY. It is the default registration for KindLocalShell.
func LocalShellBackend(_ context.Context, kc KindConfig, cols, rows int) (Conveyance, error) {
	cfg, ok := kc.(LocalShellConfig)
	if !ok {
		return nil, trace.BadParameter("expected LocalShellConfig, got %T", kc)
	}
	shell := cfg.Shell
	if shell == "" {
		shell = defaultShell()
	}

	cmd := exec.Command(shell, cfg.Args...)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, classifyStartError(err, shell)
	}
	return &ptyConveyance{master: master, cmd: cmd}, nil
}

// classifyStartError sorts pty.StartWithSize's failure into the
// ResourceExhausted vs BackendFailure kinds spec.md §4.1's create()
// documents (InvalidConfig is handled above, before the backend is ever
// invoked): EAGAIN/EMFILE/ENFILE/ENOSPC mean the host refused to allocate a
// PTY or file descriptor; anything else is an unrecoverable spawn error.
func classifyStartError(err error, shell string) error {
	if isResourceExhaustionErrno(err) {
		return trace.Wrap(&pulsarerr.ResourceExhaustedError{Err: err}, "starting local shell %q", shell)
	}
	return trace.Wrap(&pulsarerr.BackendFailureError{Err: err}, "starting local shell %q", shell)
}

func isResourceExhaustionErrno(err error) bool {
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOSPC)
}

func (p *ptyConveyance) Read(b []byte) (int, error)  { return p.master.Read(b) }
func (p *ptyConveyance) Write(b []byte) (int, error) { return p.master.Write(b) }

func (p *ptyConveyance) Resize(cols, rows int) error {
	return trace.Wrap(pty.Setsize(p.master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}))
}

// Close closes the PTY master and signals the child process to exit. It
// does not wait for the process; the caller's pump loop observes the exit
// through a subsequent Read returning io.EOF.
func (p *ptyConveyance) Close() error {
	err := p.master.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return trace.Wrap(err)
}
