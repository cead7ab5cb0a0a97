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

package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for one mount, built by
// layering defaults, an optional YAML config file and command-line flags,
// in that order of increasing precedence.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`

	FileSystem FileSystemConfig `yaml:"file-system"`

	Fetch FetchConfig `yaml:"fetch"`

	// SpecialFolders names top-level folders whose listings are fetched
	// eagerly on mount rather than lazily on first access; file bodies are
	// not downloaded.
	SpecialFolders []string `yaml:"special-folders"`
}

type LoggingConfig struct {
	Severity LogSeverity `yaml:"severity"`
	Format   LogFormat   `yaml:"format"`
	FilePath string      `yaml:"file-path"`

	LogRotate LogRotateConfig `yaml:"log-rotate"`
}

type LogRotateConfig struct {
	MaxFileSizeMb   int  `yaml:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count"`
	Compress        bool `yaml:"compress"`
}

type FileSystemConfig struct {
	Uid int `yaml:"uid"`
	Gid int `yaml:"gid"`

	// AttrCacheTtlSecs is how long the kernel may cache inode attributes and
	// directory entries before revalidating them with this filesystem.
	AttrCacheTtlSecs int64 `yaml:"attr-cache-ttl-secs"`

	// ListingDebounceMs bounds how often a folder's listing cache is allowed
	// to flush to disk under repeated mutation.
	ListingDebounceMs int64 `yaml:"listing-debounce-ms"`
}

type FetchConfig struct {
	// FetchConcurrency bounds the number of outbound HTTP requests allowed
	// against the origin at once.
	FetchConcurrency int64 `yaml:"fetch-concurrency"`

	// TraversalConcurrency bounds fan-out when recursively walking the tree
	// (prefetch, du, check-sizes, check-completeness, list-special).
	TraversalConcurrency int64 `yaml:"traversal-concurrency"`

	RequestTimeoutSecs int64 `yaml:"request-timeout-secs"`

	MaxIdleConns int `yaml:"max-idle-conns"`

	MaxIdleConnsPerHost int `yaml:"max-idle-conns-per-host"`
}

// BindFlags registers every flag this command line accepts and binds it to
// the matching viper configuration key, so that flag, environment and
// config-file values are all resolved through the same viper.Unmarshal call.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.Int64P("fetch-concurrency", "", 20, "Maximum number of concurrent HTTP requests against the origin.")
	if err = viper.BindPFlag("fetch.fetch-concurrency", flagSet.Lookup("fetch-concurrency")); err != nil {
		return err
	}

	flagSet.Int64P("traversal-concurrency", "", 50, "Maximum fan-out when recursively walking the tree (prefetch, du, check-sizes, check-completeness, list-special).")
	if err = viper.BindPFlag("fetch.traversal-concurrency", flagSet.Lookup("traversal-concurrency")); err != nil {
		return err
	}

	flagSet.Int64P("request-timeout-secs", "", 30, "Per-request HTTP timeout in seconds.")
	if err = viper.BindPFlag("fetch.request-timeout-secs", flagSet.Lookup("request-timeout-secs")); err != nil {
		return err
	}

	flagSet.IntP("max-idle-conns", "", 100, "Maximum idle HTTP connections kept open to the origin.")
	if err = viper.BindPFlag("fetch.max-idle-conns", flagSet.Lookup("max-idle-conns")); err != nil {
		return err
	}

	flagSet.IntP("max-idle-conns-per-host", "", 100, "Maximum idle HTTP connections kept open per host.")
	if err = viper.BindPFlag("fetch.max-idle-conns-per-host", flagSet.Lookup("max-idle-conns-per-host")); err != nil {
		return err
	}

	flagSet.IntP("uid", "", -1, "UID owner of all inodes; defaults to the invoking user.")
	if err = viper.BindPFlag("file-system.uid", flagSet.Lookup("uid")); err != nil {
		return err
	}

	flagSet.IntP("gid", "", -1, "GID owner of all inodes; defaults to the invoking user's primary group.")
	if err = viper.BindPFlag("file-system.gid", flagSet.Lookup("gid")); err != nil {
		return err
	}

	flagSet.Int64P("attr-cache-ttl-secs", "", 60, "How long the kernel may cache inode attributes before revalidating.")
	if err = viper.BindPFlag("file-system.attr-cache-ttl-secs", flagSet.Lookup("attr-cache-ttl-secs")); err != nil {
		return err
	}

	flagSet.Int64P("listing-debounce-ms", "", 4000, "Minimum interval between persisting a folder's listing cache to disk.")
	if err = viper.BindPFlag("file-system.listing-debounce-ms", flagSet.Lookup("listing-debounce-ms")); err != nil {
		return err
	}

	flagSet.StringSliceP("special-folders", "", nil, "Top-level folder names whose listings are fetched eagerly on mount.")
	if err = viper.BindPFlag("special-folders", flagSet.Lookup("special-folders")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Logging severity: TRACE, DEBUG, INFO, WARNING, ERROR or OFF.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Logging output format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "If set, log to this file (with rotation) instead of stderr.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.IntP("log-rotate-max-size-mb", "", 512, "Maximum size in MB of a log file before it is rotated.")
	if err = viper.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-rotate-max-size-mb")); err != nil {
		return err
	}

	flagSet.IntP("log-rotate-backup-count", "", 10, "Number of rotated log files to retain.")
	if err = viper.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-rotate-backup-count")); err != nil {
		return err
	}

	flagSet.BoolP("log-rotate-compress", "", true, "Compress rotated log files.")
	if err = viper.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-rotate-compress")); err != nil {
		return err
	}

	return nil
}
