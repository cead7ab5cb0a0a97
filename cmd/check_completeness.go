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
)

var checkCompletenessCmd = &cobra.Command{
	Use:   "check-completeness <CACHE_DIR> <ROOT_URL> <PATH>",
	Short: "Report what fraction of PATH's files are fully present in the local cache",
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

		report, err := e.walker.CheckCompleteness(ctx, folder, cachedSize(cacheDir))
		e.flush(ctx, folder)
		if err != nil {
			return fmt.Errorf("check-completeness: %w", err)
		}

		var fraction float64
		if report.TotalFiles > 0 {
			fraction = float64(report.CachedFiles) / float64(report.TotalFiles)
		}
		fmt.Printf("%d/%d files cached (%.2f%%), %d dirs\n", report.CachedFiles, report.TotalFiles, fraction*100, report.TotalDirs)
		for _, p := range report.MissingPaths {
			fmt.Printf("  missing: %s\n", p)
		}
		return nil
	},
}
