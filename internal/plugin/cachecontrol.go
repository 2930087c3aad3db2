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
	"fmt"
	"strings"

	"github.com/kristerhedfors/touchfs-sub000/internal/cache"
	"github.com/kristerhedfors/touchfs-sub000/internal/node"
)

// CacheControlPlugin implements the cache_enabled/cache_clear/cache_stats/
// cache_list proc files.
type CacheControlPlugin struct {
	cache *cache.Cache
}

const (
	cacheEnabledPath = "/.touchfs/cache_enabled"
	cacheClearPath   = "/.touchfs/cache_clear"
	cacheStatsPath   = "/.touchfs/cache_stats"
	cacheListPath    = "/.touchfs/cache_list"

	cacheListLabelWidth = 40
	cacheListSizeWidth  = 10

	cacheListTimeFormat = "Jan 02 15:04"
)

func NewCacheControlPlugin(c *cache.Cache) *CacheControlPlugin {
	return &CacheControlPlugin{cache: c}
}

func (p *CacheControlPlugin) Name() string { return "cache_control" }

func (p *CacheControlPlugin) CanHandle(path string, n *node.Node) bool {
	if name, ok := n.GeneratorName(); ok {
		return name == p.Name()
	}
	switch path {
	case cacheEnabledPath, cacheClearPath, cacheStatsPath, cacheListPath:
		return true
	default:
		return false
	}
}

func (p *CacheControlPlugin) OverlayNodes() []OverlayNode {
	return []OverlayNode{
		{Path: cacheEnabledPath, Type: node.TypeFile},
		{Path: cacheClearPath, Type: node.TypeFile},
		{Path: cacheStatsPath, Type: node.TypeFile},
		{Path: cacheListPath, Type: node.TypeFile},
	}
}

func (p *CacheControlPlugin) Generate(ctx context.Context, path string, n *node.Node, treeView []byte) ([]byte, error) {
	pending := strings.TrimRight(string(n.Content()), "\n")

	switch path {
	case cacheEnabledPath:
		switch pending {
		case "0":
			p.cache.SetEnabled(false)
		case "1":
			p.cache.SetEnabled(true)
		}
		if p.cache.Enabled() {
			return []byte("1\n"), nil
		}
		return []byte("0\n"), nil

	case cacheClearPath:
		if pending == "1" {
			if err := p.cache.Clear(); err != nil {
				return nil, err
			}
		}
		return []byte("write 1 to purge all cache entries\n"), nil

	case cacheStatsPath:
		stats, err := p.cache.Stats()
		if err != nil {
			return nil, err
		}
		out := fmt.Sprintf("Hits: %d\nMisses: %d\nSize: %d bytes\nEnabled: %t\n",
			stats.Hits, stats.Misses, stats.Size, stats.Enabled)
		return []byte(out), nil

	case cacheListPath:
		entries, err := p.cache.List(64)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		for _, e := range entries {
			b.WriteString(formatCacheListLine(e))
			b.WriteByte('\n')
		}
		return []byte(b.String()), nil
	}

	return nil, nil
}

// formatCacheListLine renders one cache_list row: short key, creation
// timestamp, label left-justified to 40 characters, size right-justified
// to 10 characters followed by " bytes", fields separated by two spaces.
func formatCacheListLine(e cache.Entry) string {
	label := e.Label
	if len(label) > cacheListLabelWidth {
		label = label[:cacheListLabelWidth-3] + "..."
	}
	return fmt.Sprintf("%s  %s  %-*s  %*d bytes",
		e.Key,
		e.CreatedAt.Format(cacheListTimeFormat),
		cacheListLabelWidth, label,
		cacheListSizeWidth, e.ResponseLen)
}
