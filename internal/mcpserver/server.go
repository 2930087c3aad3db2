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

// Package mcpserver exposes touchfs's context builder and cache statistics
// as Model Context Protocol tools, so an AI assistant can drive touchfs
// directly over stdio.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kristerhedfors/touchfs-sub000/internal/cache"
	touchctx "github.com/kristerhedfors/touchfs-sub000/internal/context"
)

// Version is the touchfs MCP server's protocol implementation version.
const Version = "0.1.0"

// Server wraps an mcp.Server configured with touchfs's tools.
type Server struct {
	cache  *cache.Cache
	server *mcp.Server
}

// NewServer constructs a Server backed by c, the mount's cache.
func NewServer(c *cache.Cache) *Server {
	impl := &mcp.Implementation{Name: "touchfs", Version: Version}
	s := &Server{
		cache:  c,
		server: mcp.NewServer(impl, nil),
	}
	s.registerTools()
	return s
}

// Run serves the MCP protocol over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

type contextInput struct {
	Dir       string   `json:"dir" jsonschema:"host directory to build a context blob from"`
	MaxTokens int      `json:"max_tokens,omitempty" jsonschema:"token budget for the assembled blob (default 8000)"`
	Exclude   []string `json:"exclude,omitempty" jsonschema:"glob patterns to exclude"`
}

type contextOutput struct {
	Blob        string `json:"blob"`
	Files       int    `json:"files"`
	TotalTokens int    `json:"total_tokens"`
	MaxTokens   int    `json:"max_tokens"`
}

type cacheStatsInput struct{}

type cacheStatsOutput struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Size    int64  `json:"size_bytes"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "context",
		Description: "Build a token-bounded context blob from a host directory",
	}, s.handleContext)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "cache_stats",
		Description: "Report touchfs generation cache hit/miss counts and size",
	}, s.handleCacheStats)
}

func (s *Server) handleContext(ctx context.Context, _ *mcp.CallToolRequest, input contextInput) (*mcp.CallToolResult, contextOutput, error) {
	if input.Dir == "" {
		return nil, contextOutput{}, fmt.Errorf("context: dir is required")
	}

	b := touchctx.NewBuilder(input.MaxTokens, input.Exclude)
	blob, err := b.Build(input.Dir)
	if err != nil {
		return nil, contextOutput{}, err
	}

	return nil, contextOutput{
		Blob:        blob.Render(),
		Files:       len(blob.Files),
		TotalTokens: blob.TotalTokens,
		MaxTokens:   blob.MaxTokens,
	}, nil
}

func (s *Server) handleCacheStats(ctx context.Context, _ *mcp.CallToolRequest, _ cacheStatsInput) (*mcp.CallToolResult, cacheStatsOutput, error) {
	stats, err := s.cache.Stats()
	if err != nil {
		return nil, cacheStatsOutput{}, err
	}
	return nil, cacheStatsOutput{
		Hits:    stats.Hits,
		Misses:  stats.Misses,
		Size:    stats.Size,
		Enabled: stats.Enabled,
	}, nil
}
