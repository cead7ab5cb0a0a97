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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ash2txt/htreefs/sizeunit"
)

var listCmd = &cobra.Command{
	Use:   "list <CACHE_DIR> <ROOT_URL> <PATH>",
	Short: "Print a folder's direct contents",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cacheDir, err := resolveCacheDir(args[0])
		if err != nil {
			return err
		}

		e, err := newEnv(&MountConfig, cacheDir, args[1])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		folder, err := e.resolveFolder(ctx, args[2])
		if err != nil {
			return err
		}

		dirs, files, err := folder.Children(ctx)
		if err != nil {
			return fmt.Errorf("listing %q: %w", args[2], err)
		}

		fmt.Printf("%s/\n", folder.Path().String())
		fmt.Printf("folders (%d):\n", len(dirs))
		for _, name := range dirs {
			fmt.Printf("  %s/\n", name)
		}
		fmt.Printf("files (%d):\n", len(files))
		for _, name := range files {
			size, known, err := folder.FileApproximateSize(ctx, name)
			if err != nil {
				return err
			}
			if known {
				fmt.Printf("  %-40s %s\n", name, sizeunit.Format(size))
			} else {
				fmt.Printf("  %-40s -\n", name)
			}
		}

		e.flush(ctx, folder)
		return nil
	},
}
