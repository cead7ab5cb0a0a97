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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ash2txt/htreefs/cfg"
)

func TestResolveCacheDir(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	cacheDir, err := resolveCacheDir("pqr")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "pqr"), cacheDir)
}

func TestResolveCacheDir_AbsolutePath(t *testing.T) {
	cacheDir, err := resolveCacheDir("/pqr")

	require.NoError(t, err)
	assert.Equal(t, "/pqr", cacheDir)
}

func TestValidateFetchConfig(t *testing.T) {
	tests := []struct {
		name        string
		config      cfg.Config
		expectError bool
	}{
		{
			name: "valid config",
			config: cfg.Config{
				Fetch: cfg.FetchConfig{FetchConcurrency: 20, TraversalConcurrency: 50},
			},
			expectError: false,
		},
		{
			name:        "zero fetch concurrency",
			config:      cfg.Config{Fetch: cfg.FetchConfig{FetchConcurrency: 0, TraversalConcurrency: 50}},
			expectError: true,
		},
		{
			name:        "zero traversal concurrency",
			config:      cfg.Config{Fetch: cfg.FetchConfig{FetchConcurrency: 20, TraversalConcurrency: 0}},
			expectError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateFetchConfig(&tc.config)

			if tc.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
