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

// Package cfg holds touchfs's process-wide configuration struct and the
// flag/env binding that populates it.
package cfg

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved set of process-wide knobs. It is built by
// Load, which the mount command calls at startup; of its groups, only
// Logging is read there. The remaining groups are decoded but not handed
// to any component.
type Config struct {
	AppName string `mapstructure:"app-name"`

	Logging    LoggingConfig    `mapstructure:"logging"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Generation GenerationConfig `mapstructure:"generation"`
	Backend    BackendConfig    `mapstructure:"backend"`
}

type LoggingConfig struct {
	Severity string `mapstructure:"severity"`
	Format   string `mapstructure:"format"`
	TestTag  string `mapstructure:"test-tag"`
}

type CacheConfig struct {
	Folder  string `mapstructure:"folder"`
	Enabled bool   `mapstructure:"enabled"`
}

// GenerationConfig holds the process-global mutable generation settings:
// the current model, the global prompt template, and the seed prompt.
type GenerationConfig struct {
	DefaultModel string `mapstructure:"default-model"`
	GlobalPrompt string `mapstructure:"global-prompt"`
	SeedPrompt   string `mapstructure:"filesystem-generation-prompt"`
}

type BackendConfig struct {
	APIKey          string  `mapstructure:"api-key"`
	TimeoutSeconds  int     `mapstructure:"timeout-seconds"`
	RateLimitPerSec float64 `mapstructure:"rate-limit-per-sec"`
	RateLimitBurst  int     `mapstructure:"rate-limit-burst"`
}

const (
	// DefaultModel is the packaged-default model identifier, used when no
	// .model file, no TOUCHFS_DEFAULT_MODEL, and no flag override applies.
	DefaultModel = "gpt-4o-2024-08-06"

	// DefaultPrompt is the packaged-default system prompt, used when
	// neither a .prompt file nor an env/flag override applies.
	DefaultPrompt = `Generate appropriate content for the requested file.

Consider:
1. The file's location and name to determine its purpose
2. Its relationship to other files and directories in the given structure
3. Appropriate conventions for the file type
4. Generate complete, working content that makes sense in context

Keep the content focused and production-ready.`

	DefaultSeedPrompt = "Create an empty filesystem"

	defaultCacheDirName = ".touchfs.cache"
)

// Defaults returns a Config populated entirely from packaged defaults and
// environment variables, before any flag overrides are applied. This is the
// value BindFlags' viper instance falls back to.
func Defaults() Config {
	home, _ := os.UserHomeDir()

	cacheDir := os.Getenv("TOUCHFS_CACHE_FOLDER")
	if cacheDir == "" {
		cacheDir = filepath.Join(home, defaultCacheDirName)
	}

	return Config{
		AppName: envOr("TOUCHFS_FSNAME", "touchfs"),
		Logging: LoggingConfig{
			Severity: "info",
			Format:   "text",
			TestTag:  os.Getenv("TOUCHFS_TEST_TAG"),
		},
		Cache: CacheConfig{
			Folder:  cacheDir,
			Enabled: true,
		},
		Generation: GenerationConfig{
			DefaultModel: envOr("TOUCHFS_DEFAULT_MODEL", DefaultModel),
			GlobalPrompt: firstNonEmpty(
				os.Getenv("TOUCHFS_PROMPT"),
				os.Getenv("TOUCHFS_GLOBAL_PROMPT"),
				DefaultPrompt,
			),
			SeedPrompt: envOr("TOUCHFS_FILESYSTEM_GENERATION_PROMPT", DefaultSeedPrompt),
		},
		Backend: BackendConfig{
			APIKey:          os.Getenv("OPENAI_API_KEY"),
			TimeoutSeconds:  60,
			RateLimitPerSec: 2,
			RateLimitBurst:  4,
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// BindFlags registers the persistent logging flags on the root command and
// binds them into viper. Only the logging knobs are bound here: the
// generation and seed-prompt flags collide with the per-subcommand flags
// cmd/mount.go and cmd/generate.go define (same names, same shorthands)
// and are resolved there instead, by resolveGlobalPrompt and
// resolveGenerationPrompt's flag, env, default chain.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.String("log-severity", "info", "Minimum log severity: trace, debug, info, warning, error, off.")
	if err := viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.String("log-format", "text", "Log format: text or json.")
	if err := viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	return nil
}

// Load resolves the final Config from packaged defaults, environment
// variables and bound flags, in that priority order (flags win). The bound
// viper keys are decoded over the Defaults() value, so any field without a
// flag binding keeps its default.
func Load() (Config, error) {
	config := Defaults()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &config,
		TagName: "mapstructure",
	})
	if err != nil {
		return config, fmt.Errorf("mapstructure.NewDecoder: %w", err)
	}
	if err := decoder.Decode(viper.AllSettings()); err != nil {
		return config, fmt.Errorf("decoder.Decode(viper settings): %w", err)
	}

	return config, nil
}
