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

// Package plugin implements touchfs's content-generator registry and its
// built-in plugins, plus the /.touchfs/* proc overlay semantics. Dispatch
// is linear over registered plugins in registration order; the first
// plugin whose CanHandle returns true owns the path.
package plugin

import (
	"context"

	"github.com/kristerhedfors/touchfs-sub000/internal/node"
)

// OverlayNode describes a node a plugin wants materialized under
// /.touchfs/ at registry construction time, before any user interaction.
type OverlayNode struct {
	Path   string
	Type   node.Type
	Target string // TypeSymlink only
	Mode   uint32
}

// Plugin implements one content-generation capability.
type Plugin interface {
	Name() string
	CanHandle(path string, n *node.Node) bool
	Generate(ctx context.Context, path string, n *node.Node, treeView []byte) ([]byte, error)
	OverlayNodes() []OverlayNode
}

// Registry holds the ordered set of registered plugins and dispatches a
// path to the first one whose CanHandle returns true.
type Registry struct {
	plugins []Plugin
}

// NewRegistry constructs a Registry with plugins registered in the given
// order. Built-in registration order (see cmd/ wiring) puts proc/control
// plugins before the default generator so path-suffix or generator-xattr
// matches never fall through to it.
func NewRegistry(plugins ...Plugin) *Registry {
	return &Registry{plugins: plugins}
}

// Dispatch returns the first plugin whose CanHandle(path, n) is true, or
// nil if none match (the generation engine fails with NoGenerator).
func (r *Registry) Dispatch(path string, n *node.Node) Plugin {
	for _, p := range r.plugins {
		if p.CanHandle(path, n) {
			return p
		}
	}
	return nil
}

// ByName returns the registered plugin with the given name, or nil.
func (r *Registry) ByName(name string) Plugin {
	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Names returns the registration-order list of plugin names, used by the
// CLI's fuzzy "did you mean" suggestions (go-edlib) when a `generator`
// xattr is set to an unknown name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for _, p := range r.plugins {
		names = append(names, p.Name())
	}
	return names
}

// MaterializeOverlays inserts every registered plugin's overlay nodes into
// store under /.touchfs/, tagging each with a `generator` xattr naming its
// owning plugin.
func (r *Registry) MaterializeOverlays(store *node.Store) error {
	if store.Find("/.touchfs") == nil {
		if err := store.Insert("/.touchfs", store.NewDirectory(0755)); err != nil {
			return err
		}
	}

	for _, p := range r.plugins {
		for _, on := range p.OverlayNodes() {
			var n *node.Node
			switch on.Type {
			case node.TypeSymlink:
				n = store.NewSymlink(on.Target)
			default:
				mode := on.Mode
				if mode == 0 {
					mode = 0644
				}
				n = store.NewFile(mode, nil)
			}
			if err := store.Insert(on.Path, n); err != nil {
				return err
			}
			if err := store.SetXattr(on.Path, node.XattrGenerator, []byte(p.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
