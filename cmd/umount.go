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
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var umountForce bool

var umountCmd = &cobra.Command{
	Use:   "umount <mountpoints...>",
	Short: "Unmount touchfs instances",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUmount,
}

func init() {
	umountCmd.Flags().BoolVar(&umountForce, "force", false, "unmount even if processes are using the mount")
	rootCmd.AddCommand(umountCmd)
}

func runUmount(cmd *cobra.Command, args []string) error {
	mounted, err := mountedPaths()
	if err != nil {
		return fmt.Errorf("umount: %w", err)
	}

	var firstErr error
	for _, mp := range args {
		clean := filepath.Clean(mp)
		if !mounted[clean] {
			warn("umount: %s: not a touchfs mount", mp)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: not a touchfs mount", mp)
			}
			continue
		}

		if !umountForce {
			if busy := busyProcesses(clean); len(busy) > 0 {
				warn("umount: %s: busy, in use by pid(s) %s (retry with --force)", mp, strings.Join(busy, ", "))
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: busy", mp)
				}
				continue
			}
		}

		if err := unmount(clean); err != nil {
			warn("umount: %s: %v", mp, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// mountedPaths scans the host mount table for touchfs mountpoints, the same
// source listMounts (mount with no arguments) reads from.
func mountedPaths() (map[string]bool, error) {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return nil, err
	}
	out := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if fields[2] == "fuse."+fsName() || strings.Contains(fields[0], fsName()) {
			out[filepath.Clean(fields[1])] = true
		}
	}
	return out, nil
}

// busyProcesses lists pids of processes whose cwd or any open file
// descriptor resolves under mountpoint. Unmounting under such a process
// would leave it stranded, so umount refuses unless --force is given.
func busyProcesses(mountpoint string) []string {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}

	var busy []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid := e.Name()
		if pid[0] < '0' || pid[0] > '9' {
			continue
		}

		if cwd, err := os.Readlink("/proc/" + pid + "/cwd"); err == nil && underPath(cwd, mountpoint) {
			busy = append(busy, pid)
			continue
		}

		fdDir := "/proc/" + pid + "/fd"
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			target, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err == nil && underPath(target, mountpoint) {
				busy = append(busy, pid)
				break
			}
		}
	}
	return busy
}

func underPath(p, mountpoint string) bool {
	return p == mountpoint || strings.HasPrefix(p, mountpoint+"/")
}

// unmount shells out to the platform fusermount/umount helper, since
// unmounting a live FUSE mount is a privileged kernel operation.
func unmount(mountpoint string) error {
	if _, err := exec.LookPath("fusermount"); err == nil {
		return exec.Command("fusermount", "-u", mountpoint).Run()
	}
	return exec.Command("umount", mountpoint).Run()
}
