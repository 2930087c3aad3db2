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

// Package cmd implements touchfs's command-line surface: mount, umount,
// touch, generate, context, plus the supplemental mcp command. Each
// subcommand registers itself on the package-level rootCmd via init().
package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kristerhedfors/touchfs-sub000/internal/cfg"
)

var rootCmd = &cobra.Command{
	Use:   "touchfs",
	Short: "A FUSE filesystem whose file contents are synthesized on demand by an LLM",
	Long: `touchfs mounts an empty directory and presents it as a filesystem whose
directory tree and file contents are generated by a large language model the
first time each file is read.`,
}

func init() {
	if err := cfg.BindFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
}

// Execute runs the root command, exiting non-zero on error with a
// colorized diagnostic on stderr.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func warn(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.YellowString(format, args...))
}
