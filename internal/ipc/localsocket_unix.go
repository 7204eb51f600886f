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

//go:build !windows

package ipc

import (
	"net"
	"os"

	"github.com/gravitational/trace"
)

func listenLocal(network, path string) (net.Listener, error) {
	if network != "unix" {
		return nil, trace.BadParameter("unsupported local socket network %q on this platform", network)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		lis.Close()
		return nil, trace.Wrap(err)
	}
	return lis, nil
}
