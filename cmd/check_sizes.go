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

var checkSizesCmd = &cobra.Command{
	Use:   "check-sizes <CACHE_DIR> <ROOT_URL> <PATH>",
	Short: "Compare already-cached file sizes under PATH against their resolved exact remote sizes",
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

		mismatches, err := e.walker.VerifySizes(ctx, folder, cachedSize(cacheDir))
		e.flush(ctx, folder)
		if err != nil {
			return fmt.Errorf("check-sizes: %w", err)
		}

		for _, m := range mismatches {
			fmt.Printf("%s expected=%d was=%d\n", m.Path, m.ExpectedSize, m.CachedBytes)
		}
		fmt.Printf("%d mismatch(es)\n", len(mismatches))
		return nil
	},
}
