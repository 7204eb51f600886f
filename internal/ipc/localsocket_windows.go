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

//go:build windows

package ipc

import (
	"net"

	"github.com/Microsoft/go-winio"
	"github.com/gravitational/trace"
)

// listenLocal opens a Windows named pipe. The Windows ACL on the pipe
// restricts access to the current user, the platform analogue of the
// owner-only Unix socket permissions set in localsocket_unix.go.
func listenLocal(network, path string) (net.Listener, error) {
	if network != "pipe" {
		return nil, trace.BadParameter("unsupported local socket network %q on this platform", network)
	}
	lis, err := winio.ListenPipe(path, &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;OW)",
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return lis, nil
}
