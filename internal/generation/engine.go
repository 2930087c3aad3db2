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

// Package generation implements touchfs's generation engine: fingerprint,
// cache lookup, plugin dispatch, backend invoke, write-back, with per-path
// end-to-end serialization. Serialization uses
// golang.org/x/sync/singleflight, so concurrent readers of the same path
// share one in-flight generation and receive identical bytes.
package generation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/kristerhedfors/touchfs-sub000/internal/cache"
	"github.com/kristerhedfors/touchfs-sub000/internal/config"
	tfcontext "github.com/kristerhedfors/touchfs-sub000/internal/context"
	"github.com/kristerhedfors/touchfs-sub000/internal/node"
	"github.com/kristerhedfors/touchfs-sub000/internal/plugin"
)

// IsOverlayPath reports whether path lies in the plugin-owned /.touchfs
// namespace, used by both Read and the VFS adapter to decide whether a
// read should always regenerate.
func IsOverlayPath(path string) bool {
	return strings.HasPrefix(path, "/.touchfs/")
}

// NoGeneratorError reports that no registered plugin claimed a path.
type NoGeneratorError struct {
	Path string
}

func (e *NoGeneratorError) Error() string {
	return "generation: no generator for " + e.Path
}

// Engine orchestrates content generation for a single mount.
type Engine struct {
	store    *node.Store
	resolver *config.Resolver
	cache    *cache.Cache
	registry *plugin.Registry

	contextRoot    string
	contextBuilder *tfcontext.Builder

	sf singleflight.Group
}

// New constructs an Engine with no context root. Until SetContextRoot is
// called, the fingerprint's context_digest is a fixed placeholder (no
// real-fs context source configured for this mount).
func New(store *node.Store, resolver *config.Resolver, c *cache.Cache, registry *plugin.Registry) *Engine {
	return &Engine{
		store:          store,
		resolver:       resolver,
		cache:          c,
		registry:       registry,
		contextBuilder: tfcontext.NewBuilder(tfcontext.DefaultMaxTokens, nil),
	}
}

// SetContextRoot configures the real host directory §J's context builder
// walks when computing context_digest.
func (e *Engine) SetContextRoot(root string) { e.contextRoot = root }

// Read produces the content that should be served for path, generating it
// if necessary. Overlay paths under /.touchfs/ always regenerate; other
// paths go through the fingerprinted cache-first pipeline.
func (e *Engine) Read(ctx context.Context, path string) ([]byte, error) {
	result, err, _ := e.sf.Do(path, func() (any, error) {
		if IsOverlayPath(path) {
			return e.generateOverlay(ctx, path)
		}
		return e.generateOnce(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// generateOverlay invokes the owning plugin's Generate every time, never
// touching the cache and never writing the result back into the node
// (doing so would clobber the pending-write payload the node's content
// holds for proc files like cache_enabled).
func (e *Engine) generateOverlay(ctx context.Context, path string) ([]byte, error) {
	n := e.store.Find(path)
	if n == nil {
		return nil, &node.NotFoundError{Path: path}
	}

	p := e.registry.Dispatch(path, n)
	if p == nil {
		return nil, &NoGeneratorError{Path: path}
	}

	treeView := e.store.SerializePublic()
	return p.Generate(ctx, path, n, treeView)
}

type fingerprintRequest struct {
	Path          string `json:"path"`
	Type          string `json:"type"`
	Prompt        string `json:"prompt"`
	Model         string `json:"model"`
	ContextDigest string `json:"context_digest"`
	StructureView string `json:"structure_view"`
}

type fingerprintResponse struct {
	Content string `json:"content"`
}

// generateOnce runs the full pipeline for a non-overlay path: build the
// fingerprint, consult the cache, dispatch a plugin on a miss, store the
// result, and write it back into the node.
func (e *Engine) generateOnce(ctx context.Context, path string) ([]byte, error) {
	n := e.store.Find(path)
	if n == nil {
		return nil, &node.NotFoundError{Path: path}
	}

	prompt, model := e.resolver.Resolve(path)
	treeView := e.store.SerializePublic()
	contextDigest := e.contextDigest()

	req := fingerprintRequest{
		Path:          path,
		Type:          "file_content",
		Prompt:        prompt,
		Model:         model,
		ContextDigest: contextDigest,
		StructureView: string(treeView),
	}

	if raw, ok := e.cache.Get(req); ok {
		var resp fingerprintResponse
		if err := json.Unmarshal(raw, &resp); err == nil {
			content := []byte(resp.Content)
			e.writeBack(path, content)
			return content, nil
		}
	}

	p := e.registry.Dispatch(path, n)
	if p == nil {
		return nil, &NoGeneratorError{Path: path}
	}

	content, err := p.Generate(ctx, path, n, treeView)
	if err != nil {
		return nil, errors.Wrap(err, "generation: plugin failed")
	}

	respJSON, err := json.Marshal(fingerprintResponse{Content: string(content)})
	if err == nil {
		_ = e.cache.Put(req, respJSON) // cache is strictly an optimization; ignore write failure
	}

	e.writeBack(path, content)
	return content, nil
}

// writeBack stores generated content into the node and clears the
// generate_content xattr for one-shot files. Plugin-owned (generator-xattr)
// files keep their xattr, since they must regenerate on every subsequent
// stat/read too.
func (e *Engine) writeBack(path string, content []byte) {
	_ = e.store.WriteContent(path, content)
	if n := e.store.Find(path); n != nil && !n.IsPluginOwned() {
		_ = e.store.RemoveXattr(path, node.XattrGenerateContent)
	}
}

func (e *Engine) contextDigest() string {
	if e.contextRoot == "" {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:])
	}
	blob, err := e.contextBuilder.Build(e.contextRoot)
	if err != nil {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256([]byte(blob.Render()))
	return hex.EncodeToString(sum[:])
}
