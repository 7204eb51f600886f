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
	"go.bug.st/serial"
)

const defaultBaudRate = 115200

// serialConveyance wraps an open serial port as a Conveyance. Resize is a
// no-op: serial lines have no notion of a terminal window.
type serialConveyance struct {
	port serial.Port
}

// SerialBackend is a Backend that opens cfg.Device at cfg.BaudRate.
// It is the default registration for KindSerial.
func SerialBackend(_ context.Context, kc KindConfig, _, _ int) (Conveyance, error) {
	cfg, ok := kc.(SerialConfig)
	if !ok {
		return nil, trace.BadParameter("expected SerialConfig, got %T", kc)
	}
	if cfg.Device == "" {
		return nil, trace.BadParameter("serial device path is required")
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = defaultBaudRate
	}

	port, err := serial.Open(cfg.Device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, trace.Wrap(err, "opening serial device %s", cfg.Device)
	}
	return &serialConveyance{port: port}, nil
}

func (s *serialConveyance) Read(b []byte) (int, error)  { return s.port.Read(b) }
func (s *serialConveyance) Write(b []byte) (int, error) { return s.port.Write(b) }

// Resize is a no-op for serial lines.
func (s *serialConveyance) Resize(_, _ int) error { return nil }

func (s *serialConveyance) Close() error { return trace.Wrap(s.port.Close()) }
