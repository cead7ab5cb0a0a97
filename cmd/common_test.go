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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ash2txt/htreefs/cfg"
)

const listingHTML = `<html><body><table id="list"><tbody>
<tr><td><a href="../">Parent Directory</a></td><td></td><td></td></tr>
<tr><td><a href="sub/">sub/</a></td><td>2024-01-01</td><td>-</td></tr>
<tr><td><a href="a.txt">a.txt</a></td><td>2024-01-02</td><td>11 B</td></tr>
</tbody></table></body></html>`

func testConfig() *cfg.Config {
	return &cfg.Config{
		Fetch: cfg.FetchConfig{
			FetchConcurrency:     20,
			TraversalConcurrency: 50,
			RequestTimeoutSecs:   30,
			MaxIdleConns:         10,
			MaxIdleConnsPerHost:  10,
		},
		FileSystem: cfg.FileSystemConfig{Uid: -1, Gid: -1, ListingDebounceMs: 100},
	}
}

func TestNewEnv_ResolveFolderAndChildren(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Write([]byte(listingHTML))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e, err := newEnv(testConfig(), t.TempDir(), srv.URL+"/")
	require.NoError(t, err)

	ctx := context.Background()
	folder, err := e.resolveFolder(ctx, "")
	require.NoError(t, err)

	dirs, files, err := folder.Children(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub"}, dirs)
	assert.Equal(t, []string{"a.txt"}, files)
}

func TestCachedSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "blobs", "some", "dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blobs", "some", "dir", "f.txt"), []byte("hello"), 0o644))

	size, ok := cachedSize(dir)("some/dir/f.txt")
	assert.True(t, ok)
	assert.EqualValues(t, 5, size)

	_, ok = cachedSize(dir)("some/dir/missing.txt")
	assert.False(t, ok)
}
