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

// Package config implements touchfs's hierarchical prompt/model resolver:
// given a path, walk its ancestor chain looking for
// .touchfs.prompt/.prompt and .touchfs.model/.model files, falling back to
// environment and packaged defaults. Resolutions are memoized against the
// node store's generation counter.
package config

import (
	"encoding/json"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/kristerhedfors/touchfs-sub000/internal/node"
)

const (
	promptFileDot   = ".touchfs.prompt"
	promptFileShort = ".prompt"
	modelFileDot    = ".touchfs.model"
	modelFileShort  = ".model"

	// ModelEnvVar is the reserved environment variable that takes
	// precedence over any .model file.
	ModelEnvVar = "TOUCHFS_DEFAULT_MODEL"
)

// FileReader abstracts reading a single small file, so the resolver can
// walk either the in-mount node.Store or a real on-disk overlay root with
// the same code path.
type FileReader interface {
	ReadFile(p string) (content []byte, ok bool)
}

// storeReader adapts *node.Store to FileReader for the in-mount tree.
type storeReader struct {
	store *node.Store
}

func (r storeReader) ReadFile(p string) ([]byte, bool) {
	n := r.store.Find(p)
	if n == nil || n.Kind() != node.TypeFile {
		return nil, false
	}
	return n.Content(), true
}

// osReader adapts a real filesystem directory (the overlay root) to
// FileReader.
type osReader struct {
	root string
}

func (r osReader) ReadFile(p string) ([]byte, bool) {
	full := path.Join(r.root, p)
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Resolver resolves the (prompt, model) pair to use when generating a
// path.
type Resolver struct {
	mu sync.RWMutex

	tree    FileReader
	overlay FileReader // nil when no overlay root configured

	defaultPrompt string
	defaultModel  string

	memo         map[string]resolved // GUARDED_BY(mu)
	memoGen      uint64              // GUARDED_BY(mu): tree.Store generation memo was built against
	generationOf func() uint64
}

type resolved struct {
	prompt string
	model  string
}

// New builds a Resolver over the in-mount store, with packaged/environment
// defaults and no overlay root.
func New(store *node.Store, defaultPrompt, defaultModel string) *Resolver {
	return &Resolver{
		tree:          storeReader{store: store},
		defaultPrompt: defaultPrompt,
		defaultModel:  defaultModel,
		memo:          make(map[string]resolved),
		generationOf:  store.Generation,
	}
}

// SetOverlayRoot configures a real on-disk directory to be searched before
// the in-mount tree, so tooling can inject configuration without mutating
// the virtual tree. Passing "" clears it.
func (r *Resolver) SetOverlayRoot(root string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if root == "" {
		r.overlay = nil
	} else {
		r.overlay = osReader{root: root}
	}
	r.invalidateLocked()
}

// DefaultPrompt returns the current process-wide fallback prompt.
func (r *Resolver) DefaultPrompt() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultPrompt
}

// SetDefaultPrompt updates the process-wide fallback prompt; writes to the
// prompt.default proc file land here.
func (r *Resolver) SetDefaultPrompt(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultPrompt = v
	r.invalidateLocked()
}

// DefaultModel returns the current process-wide fallback model.
func (r *Resolver) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// SetDefaultModel updates the process-wide fallback model; writes to the
// model.default proc file land here.
func (r *Resolver) SetDefaultModel(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultModel = v
	r.invalidateLocked()
}

// Invalidate drops the resolver's memo, used by the fsnotify watcher on
// overlay-root file change events.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidateLocked()
}

func (r *Resolver) invalidateLocked() {
	r.memo = make(map[string]resolved)
}

// Resolve produces the (prompt, model) pair to use for path p.
func (r *Resolver) Resolve(p string) (prompt, model string) {
	p = node.Normalize(p)

	r.mu.RLock()
	gen := r.generationOf()
	if gen == r.memoGen {
		if v, ok := r.memo[p]; ok {
			r.mu.RUnlock()
			return v.prompt, v.model
		}
	}
	r.mu.RUnlock()

	prompt = r.walk(p, promptFileDot, promptFileShort, "prompt", r.defaultPrompt)
	model = r.walk(p, modelFileDot, modelFileShort, "model", r.defaultModel)
	if v := os.Getenv(ModelEnvVar); v != "" {
		model = v
	}

	r.mu.Lock()
	if gen != r.memoGen {
		r.memo = make(map[string]resolved)
		r.memoGen = gen
	}
	r.memo[p] = resolved{prompt: prompt, model: model}
	r.mu.Unlock()

	return prompt, model
}

// walk implements the shared ancestor-walk algorithm for both prompt and
// model resolution; only the file names and JSON field differ.
func (r *Resolver) walk(p string, dotName, shortName, jsonField, fallback string) string {
	dir := path.Dir(p)
	if p == "/" {
		dir = "/"
	}

	for {
		if v, ok := r.lookInDir(dir, dotName, jsonField, p); ok {
			return v
		}
		if v, ok := r.lookInDir(dir, shortName, jsonField, p); ok {
			return v
		}
		if dir == "/" {
			break
		}
		dir = path.Dir(dir)
	}

	return fallback
}

// lookInDir reads dir/name from the overlay root first, then the in-mount
// tree, skipping the file under generation itself (no self-reference) and
// treating empty content as absent.
func (r *Resolver) lookInDir(dir, name, jsonField, excludePath string) (string, bool) {
	candidate := node.Normalize(path.Join(dir, name))
	if candidate == excludePath {
		return "", false
	}

	r.mu.RLock()
	overlay := r.overlay
	tree := r.tree
	r.mu.RUnlock()

	if overlay != nil {
		if data, ok := overlay.ReadFile(candidate); ok && len(data) > 0 {
			if v, ok := extractField(data, jsonField); ok {
				return v, true
			}
		}
	}

	if data, ok := tree.ReadFile(candidate); ok && len(data) > 0 {
		if v, ok := extractField(data, jsonField); ok {
			return v, true
		}
	}

	return "", false
}

// extractField interprets data as raw text, unless it parses as a JSON
// object carrying the named field.
func extractField(data []byte, field string) (string, bool) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "", false
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil {
		if v, ok := obj[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}

	return trimmed, true
}
