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

// Package sshtransport connects to a remote SSH-2 server, verifies its host
// key against a local trust store, and exposes the resulting PTY-backed
// channel as a plain byte stream.
package sshtransport

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Config describes how to reach and authenticate to a remote host.
type Config struct {
	Host     string
	Port     int
	Username string

	// Password, if set, is tried as a password auth method;
	// keyboard-interactive auth is not offered.
	Password string
	// PrivateKeyPEM, if set, is parsed (optionally decrypted with
	// PrivateKeyPassphrase) and tried as a public-key auth method.
	PrivateKeyPEM        string
	PrivateKeyPassphrase string
	// UseAgent forwards auth to the ssh-agent reachable via agentSocket.
	UseAgent    bool
	AgentSocket string

	TrustStore    *TrustStore
	AcceptUnknown bool
	AcceptChanged bool

	ConnectTimeout time.Duration

	TermType   string
	Cols, Rows int
}

// CheckAndSetDefaults validates Config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Host == "" {
		return trace.BadParameter("missing host")
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Username == "" {
		return trace.BadParameter("missing username")
	}
	if c.TrustStore == nil {
		return trace.BadParameter("missing trust store")
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.TermType == "" {
		c.TermType = "xterm-256color"
	}
	if c.Cols == 0 {
		c.Cols = 80
	}
	if c.Rows == 0 {
		c.Rows = 24
	}
	return nil
}

// Handle is a live SSH session's PTY channel. It satisfies
// internal/session.Conveyance.
type Handle struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	fingerprint string

	// mu serializes resize and close; reads and writes proceed concurrently.
	mu sync.Mutex
}

// Connect dials cfg.Host:cfg.Port, authenticates, verifies the host key
// against cfg.TrustStore, and opens an interactive shell over a PTY.
func Connect(cfg Config) (*Handle, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	methods, err := authMethods(cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var fingerprint string
	clientCfg := &ssh.ClientConfig{
		User:    cfg.Username,
		Auth:    methods,
		Timeout: cfg.ConnectTimeout,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			fingerprint = ssh.FingerprintSHA256(key)
			return cfg.TrustStore.Verify(hostname, remote, key, cfg.AcceptUnknown, cfg.AcceptChanged)
		},
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, trace.Wrap(err, "dialing %s", addr)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, trace.Wrap(err)
	}

	if err := session.RequestPty(cfg.TermType, cfg.Rows, cfg.Cols, ssh.TerminalModes{}); err != nil {
		session.Close()
		client.Close()
		return nil, trace.Wrap(err, "requesting pty")
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, trace.Wrap(err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, trace.Wrap(err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, trace.Wrap(err, "starting remote shell")
	}

	return &Handle{
		client:      client,
		session:     session,
		stdin:       stdin,
		stdout:      stdout,
		fingerprint: fingerprint,
	}, nil
}

func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}

	if cfg.PrivateKeyPEM != "" {
		var signer ssh.Signer
		var err error
		if cfg.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(cfg.PrivateKeyPEM), []byte(cfg.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(cfg.PrivateKeyPEM))
		}
		if err != nil {
			return nil, trace.Wrap(err, "parsing private key")
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.UseAgent {
		socket := cfg.AgentSocket
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return nil, trace.Wrap(err, "connecting to ssh-agent at %s", socket)
		}
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
	}

	if len(methods) == 0 {
		return nil, trace.BadParameter("no authentication method configured")
	}
	return methods, nil
}

// Fingerprint returns the SHA-256 fingerprint of the server host key
// observed during Connect.
func (h *Handle) Fingerprint() string { return h.fingerprint }

func (h *Handle) Read(p []byte) (int, error)  { return h.stdout.Read(p) }
func (h *Handle) Write(p []byte) (int, error) { return h.stdin.Write(p) }

// Resize sends an SSH window-change request for the active session.
func (h *Handle) Resize(cols, rows int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return trace.Wrap(h.session.WindowChange(rows, cols))
}

// Close tears down the session and the underlying connection.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessErr := h.session.Close()
	clientErr := h.client.Close()
	if sessErr != nil && sessErr != io.EOF {
		return trace.Wrap(sessErr)
	}
	return trace.Wrap(clientErr)
}
