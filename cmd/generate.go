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

	"github.com/dustin/go-humanize"
	"github.com/hbollon/go-edlib"
	"github.com/spf13/cobra"

	"github.com/kristerhedfors/touchfs-sub000/internal/generation"
	"github.com/kristerhedfors/touchfs-sub000/internal/seed"
)

var (
	generatePrompt    string
	generateNoContent bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <paths...>",
	Short: "Generate content immediately, outside the normal VFS read path",
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generatePrompt, "filesystem-generation-prompt", "F", "", "seed and materialize a whole tree into the given target directory")
	generateCmd.Flags().BoolVarP(&generateNoContent, "no-content", "n", false, "create files without generating content")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	prompt := resolveGenerationPrompt(generatePrompt)
	if prompt != "" {
		if len(args) != 1 {
			return fmt.Errorf("generate -F requires exactly one target directory argument")
		}
		return generateTree(cmd, args[0], prompt)
	}

	if len(args) == 0 {
		return fmt.Errorf("generate requires at least one path, or -F <target-dir>")
	}
	return generateBatch(args)
}

// generateBatch forces generation for host paths (typically under a live
// touchfs mount), creating any that are missing, by reading them through
// the kernel, which routes
// the read(2) to FileSystem.ReadFile the same way any application's open
// would — this command simply doesn't wait for one to come along.
func generateBatch(paths []string) error {
	var firstErr error
	var totalBytes uint64

	for _, p := range paths {
		f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			warn("generate: %s: %v", p, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		f.Close()

		if generateNoContent {
			continue
		}

		data, err := os.ReadFile(p)
		if err != nil {
			warn("generate: %s: %v", p, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		totalBytes += uint64(len(data))
		fmt.Printf("%s (%s)\n", p, humanize.Bytes(uint64(len(data))))
	}
	if !generateNoContent {
		fmt.Fprintf(os.Stderr, "generated %s total\n", humanize.Bytes(totalBytes))
	}
	return firstErr
}

// generateTree seeds an in-memory store from prompt and drives
// generation.Engine.Read directly for every proposed path, writing the
// resulting bytes to real files under targetDir. No FUSE mount is involved
// at any point.
func generateTree(cmd *cobra.Command, targetDir, prompt string) error {
	a, err := newApp(resolveGlobalPrompt(""))
	if err != nil {
		return err
	}

	_, model := a.resolver.Resolve("/")
	plan, err := seed.Propose(cmd.Context(), a.backend, model, prompt)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if err := seed.Apply(a.store, plan); err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	var firstErr error
	for _, p := range plan.Paths {
		content, err := a.engine.Read(cmd.Context(), p)
		if err != nil {
			if _, ok := err.(*generation.NoGeneratorError); ok {
				warn("generate: %s: %v%s", p, err, generatorSuggestionHint(a, p))
			} else {
				warn("generate: %s: %v", p, err)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		dest := filepath.Join(targetDir, p)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		if err := os.WriteFile(dest, content, 0644); err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		fmt.Printf("%s (%s)\n", dest, humanize.Bytes(uint64(len(content))))
	}
	return firstErr
}

// generatorSuggestionHint reports a "did you mean" hint when path's node
// carries a generator xattr naming an unregistered plugin — the typo case
// plugin.Registry.Names is documented for.
func generatorSuggestionHint(a *app, path string) string {
	n := a.store.Find(path)
	if n == nil {
		return ""
	}
	name, ok := n.GeneratorName()
	if !ok {
		return ""
	}
	if a.registry.ByName(name) != nil {
		return ""
	}
	guess := suggestGenerator(name, a.registry.Names())
	if guess == "" {
		return ""
	}
	return fmt.Sprintf(" (generator %q not found, did you mean %q?)", name, guess)
}

// suggestGenerator finds the closest registered plugin name to name, for a
// friendlier error message when a caller names an unknown generator.
func suggestGenerator(name string, known []string) string {
	best := ""
	var bestScore float32
	for _, candidate := range known {
		score, err := edlib.StringsSimilarity(name, candidate, edlib.Levenshtein)
		if err != nil {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	return best
}
