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

// Package context implements touchfs's token-bounded context builder: it
// walks a real host directory, orders files by a
// well-known-entry-point-first key, and assembles a structured blob up to
// a token budget.
package context

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMaxTokens mirrors ContextBuilder's default max_tokens=8000.
const DefaultMaxTokens = 8000

// DefaultExcludes mirrors build_context's default exclude_patterns.
var DefaultExcludes = []string{"*.pyc", "*/__pycache__/*", "*.git*", "*.o", "*.so"}

// FileEntry is one included file in the built blob.
type FileEntry struct {
	Path    string
	Content string
	Tokens  int
}

// Blob is the structured context output, headed by total files, token
// count, and token limit.
type Blob struct {
	MaxTokens  int
	TotalTokens int
	Files      []FileEntry
}

// Render formats the blob the way the default generator and plugins
// consume it: a header line followed by one fenced block per file.
func (b Blob) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Context: %d files, %d/%d tokens\n\n", len(b.Files), b.TotalTokens, b.MaxTokens)
	for _, f := range b.Files {
		fmt.Fprintf(&sb, "# File: %s\n```\n%s\n```\n\n", f.Path, f.Content)
	}
	return sb.String()
}

// Builder collects files into a Blob under a fixed token budget.
type Builder struct {
	MaxTokens int
	Excludes  []string
}

// NewBuilder constructs a Builder with the given token budget and exclude
// globs; a nil excludes slice uses DefaultExcludes.
func NewBuilder(maxTokens int, excludes []string) *Builder {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if excludes == nil {
		excludes = DefaultExcludes
	}
	return &Builder{MaxTokens: maxTokens, Excludes: excludes}
}

// Build walks root and assembles a token-bounded Blob. Iteration stops at
// the first file whose inclusion would exceed the token budget.
func (b *Builder) Build(root string) (Blob, error) {
	var paths []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint: only skip unreadable entries, don't abort the whole walk
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			rel = p
		}
		if d.IsDir() {
			if b.excluded(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if b.excluded(rel) {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return Blob{}, err
	}

	sort.Slice(paths, func(i, j int) bool {
		return less(sortKey(root, paths[i]), sortKey(root, paths[j]))
	})

	blob := Blob{MaxTokens: b.MaxTokens}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		rel, _ := filepath.Rel(root, p)
		content := string(data)
		formatted := fmt.Sprintf("# File: %s\n```\n%s\n```\n", rel, content)
		tokens := CountTokens(formatted)
		if blob.TotalTokens+tokens > b.MaxTokens {
			break
		}
		blob.Files = append(blob.Files, FileEntry{Path: rel, Content: content, Tokens: tokens})
		blob.TotalTokens += tokens
	}

	return blob, nil
}

func (b *Builder) excluded(rel string) bool {
	for _, pattern := range b.Excludes {
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(rel)); matched {
			return true
		}
	}
	return false
}

// sortKey orders by rank, then directory/sub-rank, then path segments, so
// well-known entry points sort first within their scope.
type key struct {
	rank  int
	dir   string
	sub   int
	parts string
}

func sortKey(root, fullPath string) key {
	rel, _ := filepath.Rel(root, fullPath)
	parts := strings.Split(rel, string(filepath.Separator))
	name := parts[len(parts)-1]
	depth := len(parts)

	if depth == 1 {
		switch {
		case isEntryPoint(name):
			return key{rank: 0, sub: entryPointRank(name), parts: rel}
		case isMainLike(name):
			return key{rank: 0, sub: 10, parts: rel}
		case isSetupLike(name):
			return key{rank: 0, sub: 20, parts: rel}
		default:
			return key{rank: 2, parts: rel}
		}
	}

	dir := strings.Join(parts[:len(parts)-1], "/")
	if isEntryPoint(name) {
		return key{rank: 1, dir: dir, sub: 0, parts: rel}
	}
	return key{rank: 1, dir: dir, sub: 1, parts: rel}
}

func less(a, b key) bool {
	if a.rank != b.rank {
		return a.rank < b.rank
	}
	if a.dir != b.dir {
		return a.dir < b.dir
	}
	if a.sub != b.sub {
		return a.sub < b.sub
	}
	return a.parts < b.parts
}

// isEntryPoint recognizes touchfs's language-agnostic stand-ins for
// __init__.py: package-root marker files.
func isEntryPoint(name string) bool {
	switch name {
	case "__init__.py", "index.ts", "index.js", "mod.rs", "lib.rs":
		return true
	}
	return false
}

func isMainLike(name string) bool {
	switch name {
	case "__main__.py", "main.go", "main.py", "main.rs":
		return true
	}
	return false
}

func entryPointRank(name string) int {
	if name == "__init__.py" {
		return 0
	}
	return 5
}

func isSetupLike(name string) bool {
	switch name {
	case "setup.py", "setup.cfg", "pyproject.toml", "go.mod", "package.json", "Cargo.toml":
		return true
	}
	return false
}
