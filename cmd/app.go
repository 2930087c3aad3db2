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

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kristerhedfors/touchfs-sub000/internal/backend"
	"github.com/kristerhedfors/touchfs-sub000/internal/cache"
	"github.com/kristerhedfors/touchfs-sub000/internal/cfg"
	"github.com/kristerhedfors/touchfs-sub000/internal/config"
	"github.com/kristerhedfors/touchfs-sub000/internal/generation"
	"github.com/kristerhedfors/touchfs-sub000/internal/node"
	"github.com/kristerhedfors/touchfs-sub000/internal/openai"
	"github.com/kristerhedfors/touchfs-sub000/internal/plugin"
)

// Environment variables recognized across subcommands.
const (
	defaultPromptEnvVar    = "TOUCHFS_PROMPT"
	globalPromptEnvVar     = "TOUCHFS_GLOBAL_PROMPT"
	generationPromptEnvVar = "TOUCHFS_FILESYSTEM_GENERATION_PROMPT"
	defaultModelEnvVar     = "TOUCHFS_DEFAULT_MODEL"
	cacheFolderEnvVar      = "TOUCHFS_CACHE_FOLDER"
	fsNameEnvVar           = "TOUCHFS_FSNAME"

	packagedDefaultPrompt = cfg.DefaultPrompt
	packagedDefaultModel  = cfg.DefaultModel
)

// defaultModel resolves TOUCHFS_DEFAULT_MODEL over the packaged default.
func defaultModel() string {
	if v := os.Getenv(defaultModelEnvVar); v != "" {
		return v
	}
	return packagedDefaultModel
}

// app bundles the wired components every subcommand needs: the node store,
// config resolver, cache, backend adapter, plugin registry, and engine.
type app struct {
	store    *node.Store
	resolver *config.Resolver
	cache    *cache.Cache
	backend  *backend.Adapter
	registry *plugin.Registry
	engine   *generation.Engine
}

// newApp wires a fresh in-memory store and the generation pipeline behind
// it. prompt is the effective global prompt, already resolved by the
// caller from flag, environment, and packaged default.
func newApp(prompt string) (*app, error) {
	store := node.New()
	resolver := config.New(store, prompt, defaultModel())

	c, err := cache.New(cfg.Defaults().Cache.Folder)
	if err != nil {
		return nil, err
	}

	provider := openai.New(os.Getenv("OPENAI_API_KEY"))
	b := backend.New(provider, c, 5, 5, 60*time.Second)

	registry := plugin.NewRegistry(
		plugin.NewCacheControlPlugin(c),
		plugin.NewModelPromptPlugin(resolver),
		plugin.NewReadmeTreePlugin(),
		plugin.NewExecutiveSummaryPlugin(b, resolver),
		plugin.NewLogSymlinkPlugin(logFilePath()),
		plugin.NewImagePlugin(b, resolver),
		plugin.NewDefaultGenerator(b, resolver),
	)
	if err := registry.MaterializeOverlays(store); err != nil {
		return nil, fmt.Errorf("materialize plugin overlays: %w", err)
	}

	engine := generation.New(store, resolver, c, registry)

	return &app{
		store:    store,
		resolver: resolver,
		cache:    c,
		backend:  b,
		registry: registry,
		engine:   engine,
	}, nil
}

// resolveGlobalPrompt picks the global prompt fallback: explicit flag
// argument, then environment variable, then packaged default.
func resolveGlobalPrompt(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(defaultPromptEnvVar); v != "" {
		return v
	}
	if v := os.Getenv(globalPromptEnvVar); v != "" {
		return v
	}
	return packagedDefaultPrompt
}

// resolveGenerationPrompt applies the same flag-then-env fallback for the
// `-F/--filesystem-generation-prompt` flag shared by `mount` and
// `generate`. An empty result means no tree seeding was requested.
func resolveGenerationPrompt(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(generationPromptEnvVar)
}

// fsName resolves the host-visible filesystem name, honoring
// TOUCHFS_FSNAME.
func fsName() string {
	if v := os.Getenv(fsNameEnvVar); v != "" {
		return v
	}
	return "touchfs"
}

// logFilePath resolves the per-invocation log file. The log symlink plugin
// exposes this path at /.touchfs/log.
func logFilePath() string {
	dir := os.Getenv(cacheFolderEnvVar)
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".touchfs")
		} else {
			dir = os.TempDir()
		}
	}
	return rotatedLogPath(filepath.Join(dir, "touchfs.log"))
}

// rotatedLogPath appends the first unused numeric suffix to base, so each
// invocation gets its own log file.
func rotatedLogPath(base string) string {
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s.%d", base, i)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
