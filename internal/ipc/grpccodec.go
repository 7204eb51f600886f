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

package ipc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName overrides grpc's default "proto" codec. The wire messages
// in this package are plain Go structs (CreateSessionParams and friends),
// not protoc-gen-go types, so there is no Marshal/Unmarshal generated for
// them to hook into the proto codec. Registering under "proto" makes
// google.golang.org/grpc use this codec for every call without requiring
// clients to set a custom content-subtype, matching how a generated
// service would behave from the caller's perspective.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "proto" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
