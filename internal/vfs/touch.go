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

package vfs

import (
	"os"
	"path/filepath"
	"strings"
)

// TouchDetector reports whether the current host process table shows a
// touch-family process whose working directory lies under mountpoint.
// This is advisory and racy by nature: never gate correctness of anything
// but the generate_content convenience marking on it.
type TouchDetector func(mountpoint string) bool

// DefaultTouchDetector scans /proc for a process named "touch" whose
// resolved cwd sits at or under mountpoint. Returns false on any read
// error or on non-Linux hosts where /proc doesn't exist, since the
// heuristic must never block or fail a create().
func DefaultTouchDetector(mountpoint string) bool {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return false
	}
	clean := filepath.Clean(mountpoint)

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid := e.Name()
		if pid[0] < '0' || pid[0] > '9' {
			continue
		}

		comm, err := os.ReadFile("/proc/" + pid + "/comm")
		if err != nil || strings.TrimSpace(string(comm)) != "touch" {
			continue
		}

		cwd, err := os.Readlink("/proc/" + pid + "/cwd")
		if err != nil {
			continue
		}
		if cwd == clean || strings.HasPrefix(cwd, clean+"/") {
			return true
		}
	}
	return false
}
