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
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ash2txt/htreefs/internal/vfs"
	"github.com/ash2txt/htreefs/internal/walk"
	"github.com/ash2txt/htreefs/sizeunit"
)

var listSpecialCmd = &cobra.Command{
	Use:   "list-special <CACHE_DIR> <ROOT_URL> <PATH>",
	Short: "Print a tree listing under PATH, grouped by file extension and tagged with special folders",
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

		_, err = printSpecialTree(ctx, folder, "")
		e.flush(ctx, folder)
		return err
	},
}

// printSpecialTree recurses depth-first, printing each folder's path,
// tagging it with its special-folder name (if any) instead of descending
// further, and otherwise summing and printing its files grouped by
// extension before recursing into sub-directories -- grounded on
// walking.py's list_special_and_approximate_size_fast.
func printSpecialTree(ctx context.Context, folder *vfs.Folder, indent string) (int64, error) {
	dirs, files, err := folder.Children(ctx)
	if err != nil {
		return 0, fmt.Errorf("list-special: listing %q: %w", folder.Path().String(), err)
	}

	if name, ok := walk.SpecialFolder(folder.Path(), dirs, files); ok {
		fmt.Printf("%s%s/ [special: %s]\n", indent, folder.Path().String(), name)
		return 0, nil
	}

	var folderSize int64
	byExtSize := make(map[string]int64)
	byExtCount := make(map[string]int)
	for _, name := range files {
		size, known, err := folder.FileApproximateSize(ctx, name)
		if err != nil {
			return 0, err
		}
		if known {
			folderSize += size
		}
		ext := filepath.Ext(name)
		byExtSize[ext] += size
		byExtCount[ext]++
	}

	for _, name := range dirs {
		child, ok, err := folder.Subfolder(ctx, name)
		if err != nil || !ok {
			continue
		}
		sub, err := printSpecialTree(ctx, child, indent+"    ")
		if err != nil {
			return 0, err
		}
		folderSize += sub
	}

	fmt.Printf("%s%s/ %s\n", indent, folder.Path().String(), sizeunit.Format(folderSize))

	exts := make([]string, 0, len(byExtSize))
	for ext := range byExtSize {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		label := ext
		if label == "" {
			label = "(no extension)"
		}
		fmt.Printf("%s    extension=%s: count=%d %s\n", indent, label, byExtCount[ext], sizeunit.Format(byExtSize[ext]))
	}

	return folderSize, nil
}
