package vfs_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ash2txt/htreefs/clock"
	"github.com/ash2txt/htreefs/internal/fetch"
	"github.com/ash2txt/htreefs/internal/later"
	"github.com/ash2txt/htreefs/internal/singleflight"
	"github.com/ash2txt/htreefs/internal/vfs"
)

const rootListing = `<html><body><table id="list"><tbody>
<tr><td><a href="../">Parent Directory</a></td><td></td><td></td></tr>
<tr><td><a href="sub/">sub/</a></td><td>2024-01-01</td><td>-</td></tr>
<tr><td><a href="a.txt">a.txt</a></td><td>2024-01-02</td><td>11 B</td></tr>
<tr><td><a href="b.bin">b.bin</a></td><td>2024-01-03</td><td>1.0 KiB</td></tr>
</tbody></table></body></html>`

type FolderTest struct {
	suite.Suite
	srv  *httptest.Server
	dir  string
	opts *vfs.Opts
}

func TestFolderSuite(t *testing.T) {
	suite.Run(t, new(FolderTest))
}

func (t *FolderTest) SetupTest() {
	t.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/a.txt":
			w.Header().Set("Content-Length", "11")
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodHead && r.URL.Path == "/b.bin":
			w.Header().Set("Content-Length", "1011")
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/a.txt":
			w.Write([]byte("hello world"))
		case r.URL.Path == "/b.bin":
			w.Write(make([]byte, 1011))
		case r.URL.Path == "/" || r.URL.Path == "":
			w.Write([]byte(rootListing))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.dir = t.T().TempDir()
	t.opts = &vfs.Opts{
		BaseURL:  t.srv.URL + "/",
		CacheDir: t.dir,
		Fetcher:  fetch.New(t.srv.URL, fetch.DefaultConfig()),
		SF:       singleflight.New(),
		Clock:    clock.NewSimulatedClock(time.Unix(0, 0)),
		Later:    later.New(),
		Debounce: time.Minute,
	}
}

func (t *FolderTest) TearDownTest() {
	t.srv.Close()
}

func (t *FolderTest) TestChildrenListsDirsAndFiles() {
	root := vfs.NewRoot(t.opts)
	dirs, files, err := root.Children(context.Background())
	require.NoError(t.T(), err)
	assert.Equal(t.T(), []string{"sub"}, dirs)
	assert.Equal(t.T(), []string{"a.txt", "b.bin"}, files)
}

// TestFileApproximateSize exercises a file whose listing size column used a
// rounded unit (KiB), not "B" -- FileApproximateSize must report the
// listing's approximate value without making any network request.
func (t *FolderTest) TestFileApproximateSize() {
	root := vfs.NewRoot(t.opts)
	size, known, err := root.FileApproximateSize(context.Background(), "b.bin")
	require.NoError(t.T(), err)
	assert.True(t.T(), known)
	assert.EqualValues(t.T(), 1024, size)
}

// TestFileExactSizeKnownFromListing exercises scenario 1 of the spec: a
// listing size column expressed in plain bytes ("11 B") gives the exact
// size immediately, with no HEAD request needed.
func (t *FolderTest) TestFileExactSizeKnownFromListing() {
	root := vfs.NewRoot(t.opts)
	size, known, err := root.FileApproximateSize(context.Background(), "a.txt")
	require.NoError(t.T(), err)
	assert.True(t.T(), known)
	assert.EqualValues(t.T(), 11, size)

	size, err = root.FileExactSize(context.Background(), "a.txt")
	require.NoError(t.T(), err)
	assert.EqualValues(t.T(), 11, size)
}

// TestFileExactSizeRefinesViaHead exercises a file whose listing only gave
// an approximate (KiB-rounded) size, so its exact size must come from a
// HEAD request and differs from the listing's rounded approximation.
func (t *FolderTest) TestFileExactSizeRefinesViaHead() {
	root := vfs.NewRoot(t.opts)
	size, err := root.FileExactSize(context.Background(), "b.bin")
	require.NoError(t.T(), err)
	assert.EqualValues(t.T(), 1011, size)
}

func (t *FolderTest) TestEnsureFetchedDownloadsBody() {
	root := vfs.NewRoot(t.opts)
	require.NoError(t.T(), root.EnsureFetched(context.Background(), "a.txt"))

	data, err := os.ReadFile(root.CachePath("a.txt"))
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "hello world", string(data))
}

func (t *FolderTest) TestRefineSizesResolvesSingleName() {
	root := vfs.NewRoot(t.opts)
	errs := root.RefineSizes(context.Background(), []string{"a.txt"})
	assert.Empty(t.T(), errs)

	size, err := root.FileExactSize(context.Background(), "a.txt")
	require.NoError(t.T(), err)
	assert.EqualValues(t.T(), 11, size)
}

func (t *FolderTest) TestListingIsPersistedToCacheDir() {
	root := vfs.NewRoot(t.opts)
	_, _, err := root.Children(context.Background())
	require.NoError(t.T(), err)
	require.NoError(t.T(), root.Flush())

	_, err = os.Stat(filepath.Join(t.dir, "meta", ".listing.json"))
	assert.NoError(t.T(), err)
}
