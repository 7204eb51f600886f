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
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulsar-term/pulsar/internal/pulsarerr"
)

func TestClassifyStartErrorResourceExhausted(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.EAGAIN, syscall.EMFILE, syscall.ENFILE, syscall.ENOSPC} {
		err := classifyStartError(errno, "/bin/sh")
		require.True(t, pulsarerr.IsResourceExhausted(err), "errno %v should classify as ResourceExhausted", errno)
		require.False(t, pulsarerr.IsBackendFailure(err))
	}
}

func TestClassifyStartErrorBackendFailure(t *testing.T) {
	err := classifyStartError(errors.New("exec: \"/does/not/exist\": stat: no such file or directory"), "/does/not/exist")
	require.True(t, pulsarerr.IsBackendFailure(err))
	require.False(t, pulsarerr.IsResourceExhausted(err))
}
