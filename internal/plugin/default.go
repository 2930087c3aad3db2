// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plugin

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/pkg/errors"

	"github.com/kristerhedfors/touchfs-sub000/internal/backend"
	"github.com/kristerhedfors/touchfs-sub000/internal/config"
	"github.com/kristerhedfors/touchfs-sub000/internal/node"
)

// DefaultGenerator is the fallback text generator: it calls the chat
// backend with the resolved prompt and a {"content": string} structured
// schema.
type DefaultGenerator struct {
	backend  *backend.Adapter
	resolver *config.Resolver
}

// NewDefaultGenerator constructs the default generator plugin.
func NewDefaultGenerator(b *backend.Adapter, resolver *config.Resolver) *DefaultGenerator {
	return &DefaultGenerator{backend: b, resolver: resolver}
}

func (d *DefaultGenerator) Name() string { return "default" }

// CanHandle matches any plain file, regardless of plugin-ownership — as
// the last-registered plugin in the standard wiring, it only ever sees
// paths no more specific plugin claimed.
func (d *DefaultGenerator) CanHandle(path string, n *node.Node) bool {
	return n != nil && n.Kind() == node.TypeFile
}

var contentSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"content": {Type: "string"},
	},
	Required: []string{"content"},
}

func (d *DefaultGenerator) Generate(ctx context.Context, path string, n *node.Node, treeView []byte) ([]byte, error) {
	prompt, model := d.resolver.Resolve(path)

	messages := []backend.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: "Path: " + path + "\nFilesystem structure:\n" + string(treeView)},
	}

	raw, err := d.backend.Chat(ctx, model, messages, contentSchema)
	if err != nil {
		return nil, errors.Wrap(err, "default generator")
	}

	var parsed struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(err, "default generator: parse response")
	}

	return []byte(parsed.Content), nil
}

func (d *DefaultGenerator) OverlayNodes() []OverlayNode { return nil }
