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
	"strings"

	"github.com/kristerhedfors/touchfs-sub000/internal/config"
	"github.com/kristerhedfors/touchfs-sub000/internal/node"
)

// ModelPromptPlugin implements the model.default/prompt.default proc
// files: a write updates the process-global setting, a read reports the
// current value. A write stores the payload into the node and the *next
// read* invokes generate again, which is where the update is actually
// applied.
type ModelPromptPlugin struct {
	resolver *config.Resolver
}

const (
	modelDefaultPath  = "/.touchfs/model.default"
	promptDefaultPath = "/.touchfs/prompt.default"
)

func NewModelPromptPlugin(resolver *config.Resolver) *ModelPromptPlugin {
	return &ModelPromptPlugin{resolver: resolver}
}

func (p *ModelPromptPlugin) Name() string { return "model_prompt" }

func (p *ModelPromptPlugin) CanHandle(path string, n *node.Node) bool {
	if name, ok := n.GeneratorName(); ok {
		return name == p.Name()
	}
	return path == modelDefaultPath || path == promptDefaultPath
}

func (p *ModelPromptPlugin) OverlayNodes() []OverlayNode {
	return []OverlayNode{
		{Path: modelDefaultPath, Type: node.TypeFile},
		{Path: promptDefaultPath, Type: node.TypeFile},
	}
}

func (p *ModelPromptPlugin) Generate(ctx context.Context, path string, n *node.Node, treeView []byte) ([]byte, error) {
	pending := strings.TrimRight(string(n.Content()), "\n")

	switch path {
	case modelDefaultPath:
		if pending != "" {
			p.resolver.SetDefaultModel(pending)
		}
		return []byte(p.resolver.DefaultModel() + "\n"), nil
	case promptDefaultPath:
		if pending != "" {
			p.resolver.SetDefaultPrompt(pending)
		}
		return []byte(p.resolver.DefaultPrompt() + "\n"), nil
	}
	return nil, nil
}
