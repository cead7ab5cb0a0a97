// Copyright 2024 Google LLC
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
	"path/filepath"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/spf13/cobra"

	"github.com/ash2txt/htreefs/cfg"
	fsadapter "github.com/ash2txt/htreefs/fs"
	"github.com/ash2txt/htreefs/internal/engine"
	"github.com/ash2txt/htreefs/internal/logger"
	"github.com/ash2txt/htreefs/internal/perms"
)

const tickInterval = 1 * time.Second

var mountCmd = &cobra.Command{
	Use:   "mount <CACHE_DIR> <ROOT_URL> <PATH> <MOUNT>",
	Short: "Mount PATH of the mirrored tree read-only at MOUNT via FUSE",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		cacheDir, err := resolveCacheDir(args[0])
		if err != nil {
			return err
		}
		mountPoint, err := filepath.Abs(args[3])
		if err != nil {
			return fmt.Errorf("canonicalizing mount point: %w", err)
		}
		return runMount(cmd.Context(), cacheDir, args[1], args[2], mountPoint, &MountConfig)
	},
}

// runMount builds the folder tree, the FUSE adapter and the worker engine,
// mounts path's subtree at mountPoint and blocks until the mount is
// unmounted or ctx is cancelled.
func runMount(ctx context.Context, cacheDir, rootURL, path, mountPoint string, c *cfg.Config) error {
	e, err := newEnv(c, cacheDir, rootURL)
	if err != nil {
		return err
	}
	log := e.log

	// Find the current process's UID and GID. If it was invoked as root and
	// the user hasn't explicitly overridden --uid, everything is going to be
	// owned by root. This is probably not what the user wants, so warn.
	uid, gid, err := perms.MyUserAndGroup()
	if err != nil {
		return fmt.Errorf("MyUserAndGroup: %w", err)
	}
	if uid == 0 && c.FileSystem.Uid < 0 {
		fmt.Fprintln(os.Stderr, `
WARNING: htreefs invoked as root. This will cause all files to be owned by
root. If this is not what you intended, invoke htreefs as the user that will
be interacting with the file system.`)
	}
	if c.FileSystem.Uid >= 0 {
		uid = uint32(c.FileSystem.Uid)
	}
	if c.FileSystem.Gid >= 0 {
		gid = uint32(c.FileSystem.Gid)
	}

	mountRoot, err := e.resolveFolder(ctx, path)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", path, err)
	}

	eng := engine.New(64, e.later, tickInterval, log)

	engCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go eng.Run(engCtx)
	defer eng.Shutdown(context.Background())

	for _, name := range c.SpecialFolders {
		name := name
		go func() {
			child, ok, err := mountRoot.Subfolder(engCtx, name)
			if err == nil && ok {
				_, _, err = child.Children(engCtx)
			}
			if err != nil {
				log.Warn("special folder prefetch failed", "name", name, "error", err)
			}
		}()
	}

	fsys := fsadapter.New(mountRoot, eng, e.walker, log, fsadapter.Config{
		UID:         uid,
		GID:         gid,
		AttrTimeout: time.Duration(c.FileSystem.AttrCacheTtlSecs) * time.Second,
	})

	server := fuseutil.NewFileSystemServer(fsys)

	log.Infof("mounting %q at %q", rootURL, mountPoint)
	mfs, err := fuse.Mount(mountPoint, server, getFuseMountConfig(c, log))
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	if err := mfs.Join(ctx); err != nil {
		return fmt.Errorf("joining mount: %w", err)
	}
	return nil
}

func getFuseMountConfig(newConfig *cfg.Config, log *logger.Logger) *fuse.MountConfig {
	mountCfg := &fuse.MountConfig{
		FSName:     "htreefs",
		Subtype:    "htreefs",
		VolumeName: "htreefs",
		Options:    map[string]string{"ro": ""},
		// Directory inodes are only ever read here, never mutated under an
		// exclusive lock the way a writable filesystem would need, so parallel
		// lookups and readdirs are always safe to allow.
		EnableParallelDirOps: true,
	}

	// Severity to jacobsa/fuse log level mapping:
	// ERROR/WARNING/INFO/DEBUG -> ErrorLogger only; TRACE -> ErrorLogger + DebugLogger;
	// OFF -> neither.
	if newConfig.Logging.Severity.Rank() <= cfg.ErrorLogSeverity.Rank() {
		mountCfg.ErrorLogger = log.StdLogger("fuse: ")
	}
	if newConfig.Logging.Severity.Rank() <= cfg.TraceLogSeverity.Rank() {
		mountCfg.DebugLogger = log.StdLogger("fuse_debug: ")
	}
	return mountCfg
}
