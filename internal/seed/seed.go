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

// Package seed implements touchfs's one-shot filesystem seed generator: a
// single chat call against a flat-path-list schema, expanded into a tree
// of placeholder directories and generate_content files.
package seed

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/pkg/errors"

	"github.com/kristerhedfors/touchfs-sub000/internal/backend"
	"github.com/kristerhedfors/touchfs-sub000/internal/node"
)

// RejectedPathError reports that the chat response named a path outside
// the absolute-normalized POSIX contract. The whole seed operation is
// rejected and the tree is left untouched.
type RejectedPathError struct {
	Path   string
	Reason string
}

func (e *RejectedPathError) Error() string {
	return "seed: rejected path " + e.Path + ": " + e.Reason
}

var filesSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"files": {
			Type:  "array",
			Items: &jsonschema.Schema{Type: "string"},
		},
	},
	Required: []string{"files"},
}

type filesResponse struct {
	Files []string `json:"files"`
}

// Plan is the validated, sorted set of paths to materialize, produced by
// Propose and consumed by Apply. Splitting proposal from application is
// what lets the mount CLI show an accept/reject preview (§6 `-y/--yes`)
// between the two steps.
type Plan struct {
	Paths []string
}

// Propose asks the chat backend for a flat file list under prompt and
// validates it, without touching the store. Every path must be an
// absolute-normalized POSIX path and must not fall under /.touchfs.
func Propose(ctx context.Context, b *backend.Adapter, model, prompt string) (*Plan, error) {
	messages := []backend.Message{
		{Role: "system", Content: "You design a filesystem tree. Respond with a flat JSON list of absolute POSIX file paths implied by the user's request. Do not include directories explicitly; they are inferred from file paths."},
		{Role: "user", Content: prompt},
	}

	raw, err := b.Chat(ctx, model, messages, filesSchema)
	if err != nil {
		return nil, errors.Wrap(err, "seed: propose")
	}

	var resp filesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "seed: propose: parse response")
	}

	for _, p := range resp.Files {
		if err := validatePath(p); err != nil {
			return nil, err
		}
	}

	sorted := append([]string(nil), resp.Files...)
	sort.Strings(sorted)
	return &Plan{Paths: sorted}, nil
}

// validatePath enforces the proposal contract: the path must be absolute,
// must normalize to itself (no `.`/`..` segments, no trailing slash
// noise), and no component of it may begin with .touchfs, the
// plugin-owned prefix.
func validatePath(p string) error {
	if !strings.HasPrefix(p, "/") {
		return &RejectedPathError{Path: p, Reason: "not an absolute path"}
	}
	if node.Normalize(p) != p {
		return &RejectedPathError{Path: p, Reason: "not in normalized form"}
	}
	if p == "/" {
		return &RejectedPathError{Path: p, Reason: "root is not a valid file path"}
	}
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".touchfs") {
			return &RejectedPathError{Path: p, Reason: "path component begins with the plugin-owned .touchfs prefix"}
		}
	}
	return nil
}

// Apply expands plan into store: every ancestor directory of every path is
// created if absent, and a file node is inserted at each leaf, empty and
// marked generate_content=true. Ancestor directories already present as
// non-directories cause the whole apply to fail, leaving previously
// inserted nodes from this call in place; only rejected *proposals* are
// guaranteed to leave the tree untouched (handled earlier, in
// Propose/validatePath).
func Apply(store *node.Store, plan *Plan) error {
	for _, p := range plan.Paths {
		if err := ensureAncestors(store, path.Dir(p)); err != nil {
			return err
		}
		if store.Find(p) != nil {
			continue
		}
		f := store.NewFile(0644, nil)
		if err := store.Insert(p, f); err != nil {
			return errors.Wrapf(err, "seed: insert %q", p)
		}
		if err := store.SetXattr(p, node.XattrGenerateContent, []byte("true")); err != nil {
			return errors.Wrapf(err, "seed: mark %q for generation", p)
		}
	}
	return nil
}

func ensureAncestors(store *node.Store, dir string) error {
	if dir == "/" {
		return nil
	}
	if store.Find(dir) != nil {
		return nil
	}
	if err := ensureAncestors(store, path.Dir(dir)); err != nil {
		return err
	}
	if err := store.Insert(dir, store.NewDirectory(0755)); err != nil {
		if _, ok := err.(*node.ExistsError); ok {
			return nil
		}
		return errors.Wrapf(err, "seed: create directory %q", dir)
	}
	return nil
}
