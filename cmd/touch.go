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

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/kristerhedfors/touchfs-sub000/internal/node"
)

var touchParents bool

var touchCmd = &cobra.Command{
	Use:   "touch <paths...>",
	Short: "Create files, marking them for generation when inside a touchfs mount",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTouch,
}

func init() {
	touchCmd.Flags().BoolVarP(&touchParents, "parents", "p", false, "create missing parent directories")
	rootCmd.AddCommand(touchCmd)
}

// runTouch creates each path like the standard touch(1), via ordinary host
// file operations, then explicitly sets the generate_content xattr with a
// real setxattr(2) call. FileSystem.CreateFile already marks freshly
// created files this way when it recognizes the calling process as a
// touch-like tool by scanning /proc (vfs.DefaultTouchDetector); that
// heuristic never matches this binary's own process name, so this command
// sets the attribute itself rather than relying on it.
func runTouch(cmd *cobra.Command, args []string) error {
	var firstErr error
	for _, p := range args {
		if touchParents {
			if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
				warn("touch: %s: %v", p, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}
		if err := touchOne(p); err != nil {
			warn("touch: %s: %v", p, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func touchOne(p string) error {
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	now := time.Now()
	if err := os.Chtimes(p, now, now); err != nil {
		return fmt.Errorf("update timestamps: %w", err)
	}

	name := node.KernelXattrNamespace + node.XattrGenerateContent
	if err := unix.Setxattr(p, name, []byte("true"), 0); err != nil && err != unix.ENOTSUP {
		return fmt.Errorf("mark for generation: %w", err)
	}
	return nil
}
