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
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/kristerhedfors/touchfs-sub000/internal/backend"
	"github.com/kristerhedfors/touchfs-sub000/internal/config"
	"github.com/kristerhedfors/touchfs-sub000/internal/node"
)

// ExecutiveSummaryPlugin generates an LLM-written synopsis of the tree,
// memoized in-process by a structural hash so an unchanged tree never
// re-triggers a chat call. The memo key is an internal cache-busting
// signal, not a content-addressable fingerprint, so the cheap xxhash is
// enough here.
type ExecutiveSummaryPlugin struct {
	backend  *backend.Adapter
	resolver *config.Resolver

	mu       sync.Mutex
	memoKey  uint64
	memoText []byte
	memoSet  bool
}

const executiveSummaryPath = "/.touchfs/executive_summary.md"

func NewExecutiveSummaryPlugin(b *backend.Adapter, resolver *config.Resolver) *ExecutiveSummaryPlugin {
	return &ExecutiveSummaryPlugin{backend: b, resolver: resolver}
}

func (p *ExecutiveSummaryPlugin) Name() string { return "executive_summary" }

func (p *ExecutiveSummaryPlugin) CanHandle(path string, n *node.Node) bool {
	if name, ok := n.GeneratorName(); ok {
		return name == p.Name()
	}
	return path == executiveSummaryPath
}

func (p *ExecutiveSummaryPlugin) OverlayNodes() []OverlayNode {
	return []OverlayNode{{Path: executiveSummaryPath, Type: node.TypeFile}}
}

// structureSignature reduces a PublicView to exactly the (type,
// suffix/child-names) shape executive.py's _get_structure_hash hashes,
// dropping xattrs so unrelated metadata churn doesn't bust the memo.
type structureSignature struct {
	Type     string               `json:"t"`
	Name     string               `json:"n"`
	Children []structureSignature `json:"c,omitempty"`
}

func toSignature(v node.PublicView) structureSignature {
	sig := structureSignature{Type: v.Type, Name: lastSegment(v.Path)}
	for _, child := range v.Children {
		sig.Children = append(sig.Children, toSignature(child))
	}
	return sig
}

func (p *ExecutiveSummaryPlugin) Generate(ctx context.Context, path string, n *node.Node, treeView []byte) ([]byte, error) {
	var view node.PublicView
	if err := json.Unmarshal(treeView, &view); err != nil {
		return nil, errors.Wrap(err, "executive summary: parse tree view")
	}

	sig := toSignature(view)
	sigJSON, err := json.Marshal(sig)
	if err != nil {
		return nil, errors.Wrap(err, "executive summary: marshal signature")
	}
	key := xxhash.Sum64(sigJSON)

	p.mu.Lock()
	if p.memoSet && p.memoKey == key {
		out := p.memoText
		p.mu.Unlock()
		return out, nil
	}
	p.mu.Unlock()

	prompt, model := p.resolver.Resolve(path)
	messages := []backend.Message{
		{Role: "system", Content: "Write a concise executive summary of this filesystem's structure and apparent purpose."},
		{Role: "user", Content: prompt + "\n\nStructure:\n" + string(treeView)},
	}

	raw, err := p.backend.Chat(ctx, model, messages, contentSchema)
	if err != nil {
		return nil, errors.Wrap(err, "executive summary")
	}

	var parsed struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(err, "executive summary: parse response")
	}

	p.mu.Lock()
	p.memoKey = key
	p.memoText = []byte(parsed.Content)
	p.memoSet = true
	p.mu.Unlock()

	return []byte(parsed.Content), nil
}
