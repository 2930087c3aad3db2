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
	"fmt"
	"strings"

	"github.com/kristerhedfors/touchfs-sub000/internal/node"
)

// ReadmeTreePlugin produces human-readable descriptions of the current
// tree. It owns two overlay files: /.touchfs/readme.md (prose) and
// /.touchfs/tree.txt (an indented listing).
type ReadmeTreePlugin struct{}

func NewReadmeTreePlugin() *ReadmeTreePlugin { return &ReadmeTreePlugin{} }

func (p *ReadmeTreePlugin) Name() string { return "readme_tree" }

func (p *ReadmeTreePlugin) CanHandle(path string, n *node.Node) bool {
	if name, ok := n.GeneratorName(); ok {
		return name == p.Name()
	}
	return path == "/.touchfs/readme.md" || path == "/.touchfs/tree.txt"
}

func (p *ReadmeTreePlugin) OverlayNodes() []OverlayNode {
	return []OverlayNode{
		{Path: "/.touchfs/readme.md", Type: node.TypeFile},
		{Path: "/.touchfs/tree.txt", Type: node.TypeFile},
	}
}

func (p *ReadmeTreePlugin) Generate(ctx context.Context, path string, n *node.Node, treeView []byte) ([]byte, error) {
	var view node.PublicView
	if err := json.Unmarshal(treeView, &view); err != nil {
		return nil, err
	}

	if path == "/.touchfs/tree.txt" {
		var b strings.Builder
		writeTreeLines(&b, view, 0)
		return []byte(b.String()), nil
	}

	fileCount, dirCount := countNodes(view)
	readme := fmt.Sprintf(
		"# Filesystem overview\n\nThis mount contains %d file(s) across %d director%s.\nSee /.touchfs/tree.txt for the full listing.\n",
		fileCount, dirCount, pluralSuffix(dirCount),
	)
	return []byte(readme), nil
}

func writeTreeLines(b *strings.Builder, v node.PublicView, depth int) {
	if depth > 0 {
		b.WriteString(strings.Repeat("  ", depth-1))
		b.WriteString("- ")
		b.WriteString(lastSegment(v.Path))
		if v.Type == "directory" {
			b.WriteString("/")
		}
		b.WriteString("\n")
	}
	for _, child := range v.Children {
		writeTreeLines(b, child, depth+1)
	}
}

func countNodes(v node.PublicView) (files, dirs int) {
	switch v.Type {
	case "directory":
		dirs++
	case "file":
		files++
	}
	for _, child := range v.Children {
		f, d := countNodes(child)
		files += f
		dirs += d
	}
	return
}

func lastSegment(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

func pluralSuffix(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
