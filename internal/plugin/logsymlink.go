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

	"github.com/kristerhedfors/touchfs-sub000/internal/node"
)

// LogSymlinkPlugin materializes a symlink overlay pointing at the host log
// file. It never actually "generates" content — ReadSymlink is served directly
// from the node's target by the VFS adapter — but it still implements
// Plugin so the registry can account for and reason about the overlay path.
type LogSymlinkPlugin struct {
	logFilePath string
}

const logSymlinkPath = "/.touchfs/log"

func NewLogSymlinkPlugin(hostLogFilePath string) *LogSymlinkPlugin {
	return &LogSymlinkPlugin{logFilePath: hostLogFilePath}
}

func (p *LogSymlinkPlugin) Name() string { return "log_symlink" }

func (p *LogSymlinkPlugin) CanHandle(path string, n *node.Node) bool {
	if name, ok := n.GeneratorName(); ok {
		return name == p.Name()
	}
	return path == logSymlinkPath
}

func (p *LogSymlinkPlugin) OverlayNodes() []OverlayNode {
	return []OverlayNode{{Path: logSymlinkPath, Type: node.TypeSymlink, Target: p.logFilePath}}
}

func (p *LogSymlinkPlugin) Generate(ctx context.Context, path string, n *node.Node, treeView []byte) ([]byte, error) {
	return []byte(p.logFilePath), nil
}
