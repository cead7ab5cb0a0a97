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
	"path/filepath"
	"time"

	"github.com/ash2txt/htreefs/cfg"
	"github.com/ash2txt/htreefs/clock"
	"github.com/ash2txt/htreefs/internal/fetch"
	"github.com/ash2txt/htreefs/internal/later"
	"github.com/ash2txt/htreefs/internal/logger"
	"github.com/ash2txt/htreefs/internal/singleflight"
	"github.com/ash2txt/htreefs/internal/vfs"
	"github.com/ash2txt/htreefs/internal/walk"
	"github.com/ash2txt/htreefs/vpath"
)

// env bundles the collaborators every subcommand needs to walk the
// mirrored tree: a root Folder backed by an on-disk cache, and a Walker
// bounding traversal fan-out. One-shot subcommands (everything but mount)
// build an env, do their work and flush it on the way out rather than
// running the engine that drives a live mount's background maintenance.
type env struct {
	root   *vfs.Folder
	walker *walk.Walker
	log    *logger.Logger
	later  *later.Later
}

func buildLogger(c *cfg.Config) *logger.Logger {
	return logger.New(logger.Config{
		Format:          string(c.Logging.Format),
		Severity:        string(c.Logging.Severity),
		FilePath:        c.Logging.FilePath,
		MaxFileSizeMB:   c.Logging.LogRotate.MaxFileSizeMb,
		BackupFileCount: c.Logging.LogRotate.BackupFileCount,
		Compress:        c.Logging.LogRotate.Compress,
	})
}

// newEnv creates the folder tree rooted at cacheDir/rootURL. It is used by
// every subcommand; mount layers its own fuse.Server and engine on top of
// the same pieces.
func newEnv(c *cfg.Config, cacheDir, rootURL string) (*env, error) {
	log := buildLogger(c)

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %q: %w", cacheDir, err)
	}

	fetcher := fetch.New(rootURL, fetch.Config{
		MaxConcurrentFetches: c.Fetch.FetchConcurrency,
		MaxIdleConns:         c.Fetch.MaxIdleConns,
		MaxIdleConnsPerHost:  c.Fetch.MaxIdleConnsPerHost,
		RequestTimeout:       time.Duration(c.Fetch.RequestTimeoutSecs) * time.Second,
	})

	lt := later.New()

	root := vfs.NewRoot(&vfs.Opts{
		BaseURL:  rootURL,
		CacheDir: cacheDir,
		Fetcher:  fetcher,
		SF:       singleflight.New(),
		Clock:    clock.RealClock{},
		Later:    lt,
		Log:      log,
		Debounce: time.Duration(c.FileSystem.ListingDebounceMs) * time.Millisecond,
	})

	walker := walk.New(c.Fetch.TraversalConcurrency)

	return &env{root: root, walker: walker, log: log, later: lt}, nil
}

// resolveFolder walks path down from e.root, returning the Folder it names.
func (e *env) resolveFolder(ctx context.Context, path string) (*vfs.Folder, error) {
	return e.walker.FindFolder(ctx, e.root, vpath.Parse(path))
}

// flush persists the cached listing of every folder visited under folder,
// logging (but not failing the command on) any error, since a failed
// metadata flush should not turn an otherwise successful traversal into a
// reported failure.
func (e *env) flush(ctx context.Context, folder *vfs.Folder) {
	for _, err := range walk.FlushTree(ctx, folder) {
		e.log.Warn("flushing cached listings", "error", err)
	}
}

// cachedSize stats a file's body in cacheDir's on-disk blob cache, matching
// the layout vfs.Folder.CachePath lays files out in: cacheDir/blobs/<path>.
func cachedSize(cacheDir string) func(path string) (int64, bool) {
	return func(path string) (int64, bool) {
		st, err := os.Stat(filepath.Join(cacheDir, "blobs", path))
		if err != nil {
			return 0, false
		}
		return st.Size(), true
	}
}

// validateFetchConfig checks the concurrency flags every subcommand shares,
// regardless of whether they additionally take positional cache-dir/root-url
// arguments.
func validateFetchConfig(c *cfg.Config) error {
	if c.Fetch.FetchConcurrency < 1 {
		return fmt.Errorf("--fetch-concurrency must be at least 1")
	}
	if c.Fetch.TraversalConcurrency < 1 {
		return fmt.Errorf("--traversal-concurrency must be at least 1")
	}
	return nil
}
