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
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/spf13/cobra"

	"github.com/kristerhedfors/touchfs-sub000/internal/cfg"
	"github.com/kristerhedfors/touchfs-sub000/internal/config"
	"github.com/kristerhedfors/touchfs-sub000/internal/logger"
	"github.com/kristerhedfors/touchfs-sub000/internal/seed"
	"github.com/kristerhedfors/touchfs-sub000/internal/vfs"
)

var (
	mountPrompt           string
	mountGenerationPrompt string
	mountFsName           string
	mountOverlayRoot      string
	mountForeground       bool
	mountYes              bool
	mountAllowOther       bool
	mountAllowRoot        bool
	mountNonempty         bool
	mountNothreads        bool
)

var mountCmd = &cobra.Command{
	Use:   "mount [mountpoint]",
	Short: "Mount touchfs, or list currently mounted instances when no argument is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMount,
}

func init() {
	mountCmd.Flags().StringVarP(&mountGenerationPrompt, "filesystem-generation-prompt", "F", "", "seed the mounted tree from this prompt before serving")
	mountCmd.Flags().StringVarP(&mountPrompt, "prompt", "p", "", "global prompt used when no per-directory .prompt file applies")
	mountCmd.Flags().BoolVarP(&mountForeground, "foreground", "f", false, "run in the foreground (mount always serves in the foreground; this flag only suppresses the startup notice)")
	mountCmd.Flags().BoolVarP(&mountYes, "yes", "y", false, "auto-accept the generated tree without an interactive preview")
	mountCmd.Flags().BoolVar(&mountAllowOther, "allow-other", false, "allow other users to access the mount")
	mountCmd.Flags().BoolVar(&mountAllowRoot, "allow-root", false, "allow root to access the mount")
	mountCmd.Flags().BoolVar(&mountNonempty, "nonempty", false, "allow mounting over a non-empty directory")
	mountCmd.Flags().BoolVar(&mountNothreads, "nothreads", false, "disable parallel directory operations")
	mountCmd.Flags().StringVar(&mountFsName, "fsname", "", "host-visible filesystem name (default touchfs, or TOUCHFS_FSNAME)")
	mountCmd.Flags().StringVar(&mountOverlayRoot, "overlay-root", "", "host directory searched for .prompt/.model files before the mounted tree")
	rootCmd.AddCommand(mountCmd)
}

func runMount(cmd *cobra.Command, args []string) error {
	conf, err := cfg.Load()
	if err != nil {
		return err
	}
	logger.Init(conf.Logging.Severity, conf.Logging.Format, conf.Logging.TestTag)

	if len(args) == 0 {
		return listMounts()
	}
	mountpoint := args[0]

	a, err := newApp(resolveGlobalPrompt(mountPrompt))
	if err != nil {
		return err
	}

	if mountOverlayRoot != "" {
		a.resolver.SetOverlayRoot(mountOverlayRoot)
		watcher, err := config.WatchOverlay(a.resolver, mountOverlayRoot)
		if err != nil {
			warn("overlay root %s: watch failed, config changes there need a remount: %v", mountOverlayRoot, err)
		} else {
			defer watcher.Close()
		}
	}

	if genPrompt := resolveGenerationPrompt(mountGenerationPrompt); genPrompt != "" {
		if err := seedTree(cmd.Context(), a, genPrompt); err != nil {
			return err
		}
	}

	fsys := vfs.New(a.store, a.engine, uint32(os.Getuid()), uint32(os.Getgid()))
	fsys.SetMountpoint(mountpoint)

	server := fuseutil.NewFileSystemServer(fsys)

	parsedOptions := map[string]string{}
	if mountAllowOther {
		parsedOptions["allow_other"] = ""
	}
	if mountAllowRoot {
		parsedOptions["allow_root"] = ""
	}
	if mountNonempty {
		parsedOptions["nonempty"] = ""
	}

	name := mountFsName
	if name == "" {
		name = fsName()
	}
	mountCfg := &fuse.MountConfig{
		FSName:               name,
		Subtype:              "touchfs",
		VolumeName:           name,
		Options:              parsedOptions,
		ReadOnly:             false,
		EnableParallelDirOps: !mountNothreads,
	}

	mfs, err := fuse.Mount(mountpoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	if !mountForeground {
		fmt.Fprintf(os.Stdout, "mounted %s at %s\n", name, mountpoint)
	}

	return mfs.Join(context.Background())
}

// seedTree proposes an initial tree from the generation prompt and, unless
// -y/--yes was given, shows the bubbletea accept/reject preview before
// applying the plan.
func seedTree(ctx context.Context, a *app, prompt string) error {
	_, model := a.resolver.Resolve("/")
	plan, err := seed.Propose(ctx, a.backend, model, prompt)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	if !mountYes {
		accepted, err := seed.Confirm(plan)
		if err != nil {
			return fmt.Errorf("seed: preview: %w", err)
		}
		if !accepted {
			return fmt.Errorf("seed: rejected by user, mount aborted")
		}
	}

	return seed.Apply(a.store, plan)
}

// listMounts scans the host mount table and prints the mountpoint of every
// live touchfs instance.
func listMounts() error {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return fmt.Errorf("read mount table: %w", err)
	}

	found := false
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if fields[2] == "fuse."+fsName() || strings.Contains(fields[0], fsName()) {
			fmt.Println(fields[1])
			found = true
		}
	}
	if !found {
		warn("no touchfs mounts found")
	}
	return nil
}
