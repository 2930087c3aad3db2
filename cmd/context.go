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

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	touchctx "github.com/kristerhedfors/touchfs-sub000/internal/context"
)

var (
	contextMaxTokens int
	contextExcludes  []string
)

var contextCmd = &cobra.Command{
	Use:   "context <dir>",
	Short: "Print a token-bounded context blob assembled from a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runContext,
}

func init() {
	contextCmd.Flags().IntVar(&contextMaxTokens, "max-tokens", touchctx.DefaultMaxTokens, "maximum token budget for the assembled blob")
	contextCmd.Flags().StringArrayVar(&contextExcludes, "exclude", nil, "glob pattern to exclude (repeatable)")
	rootCmd.AddCommand(contextCmd)
}

func runContext(cmd *cobra.Command, args []string) error {
	dir := args[0]

	b := touchctx.NewBuilder(contextMaxTokens, contextExcludes)
	blob, err := b.Build(dir)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}

	fmt.Print(blob.Render())

	var totalBytes int
	for _, f := range blob.Files {
		totalBytes += len(f.Content)
	}
	fmt.Fprintf(os.Stderr, "%d files, %s, %d/%d tokens\n",
		len(blob.Files), humanize.Bytes(uint64(totalBytes)), blob.TotalTokens, blob.MaxTokens)
	return nil
}
