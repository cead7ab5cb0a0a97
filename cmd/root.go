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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ash2txt/htreefs/cfg"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	MountConfig   cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "htreefs",
	Short: "Browse and mirror a remote HTTP directory tree as a cached local filesystem",
	Long: `htreefs mirrors a static HTTP directory listing (an Apache/nginx-style
"Index of /" tree) locally, caching directory listings and file bodies on
disk so repeated access does not re-fetch from the origin. It can mount the
tree read-only via FUSE, or run one-shot traversal operations against it
(listing, prefetching, size auditing) without mounting anything.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		return validateFetchConfig(&MountConfig)
	},
}

// resolveCacheDir canonicalizes the <CACHE_DIR> argument shared by every
// subcommand; <ROOT_URL> and <PATH> are passed through unchanged since a
// URL has no filesystem meaning and a tree path is resolved by the Walker,
// not the shell.
func resolveCacheDir(cacheDir string) (string, error) {
	abs, err := filepath.Abs(cacheDir)
	if err != nil {
		return "", fmt.Errorf("canonicalizing cache dir: %w", err)
	}
	return abs, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(prefetchCmd)
	rootCmd.AddCommand(duCmd)
	rootCmd.AddCommand(checkSizesCmd)
	rootCmd.AddCommand(checkCompletenessCmd)
	rootCmd.AddCommand(listSpecialCmd)
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&MountConfig, viper.DecodeHook(cfg.DecodeHook()))
		return
	}

	resolved, err := filepath.Abs(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&MountConfig, viper.DecodeHook(cfg.DecodeHook()))
}
