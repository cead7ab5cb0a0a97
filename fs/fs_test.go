// Copyright 2025 Google LLC
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

package fs_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ash2txt/htreefs/clock"
	fsadapter "github.com/ash2txt/htreefs/fs"
	"github.com/ash2txt/htreefs/internal/engine"
	"github.com/ash2txt/htreefs/internal/fetch"
	"github.com/ash2txt/htreefs/internal/later"
	"github.com/ash2txt/htreefs/internal/logger"
	"github.com/ash2txt/htreefs/internal/singleflight"
	"github.com/ash2txt/htreefs/internal/vfs"
	"github.com/ash2txt/htreefs/internal/walk"
)

const rootListing = `<html><body><table id="list"><tbody>
<tr><td><a href="sub/">sub/</a></td><td>d</td><td>-</td></tr>
<tr><td><a href="a.txt">a.txt</a></td><td>d</td><td>5 B</td></tr>
</tbody></table></body></html>`

const subListing = `<html><body><table id="list"><tbody>
<tr><td><a href="b.txt">b.txt</a></td><td>d</td><td>7 B</td></tr>
</tbody></table></body></html>`

type FSTest struct {
	suite.Suite
	srv    *httptest.Server
	fsys   *fsadapter.FileSystem
	eng    *engine.Engine
	cancel context.CancelFunc
}

func TestFSSuite(t *testing.T) {
	suite.Run(t, new(FSTest))
}

func (t *FSTest) SetupTest() {
	t.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.Header().Set("Content-Length", "5")
			if r.URL.Path == "/sub/b.txt" {
				w.Header().Set("Content-Length", "7")
			}
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/" || r.URL.Path == "":
			w.Write([]byte(rootListing))
		case r.URL.Path == "/sub/":
			w.Write([]byte(subListing))
		case r.URL.Path == "/a.txt":
			w.Write([]byte("hello"))
		case r.URL.Path == "/sub/b.txt":
			w.Write([]byte("goodbye"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	root := vfs.NewRoot(&vfs.Opts{
		BaseURL:  t.srv.URL + "/",
		CacheDir: t.T().TempDir(),
		Fetcher:  fetch.New(t.srv.URL, fetch.DefaultConfig()),
		SF:       singleflight.New(),
		Clock:    clock.NewSimulatedClock(time.Unix(0, 0)),
		Later:    later.New(),
		Debounce: time.Minute,
	})

	log := logger.New(logger.Config{Format: "text", Severity: "off"})
	t.eng = engine.New(16, nil, time.Hour, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.eng.Run(ctx)

	t.fsys = fsadapter.New(root, t.eng, walk.New(10), log, fsadapter.Config{
		UID:         1000,
		GID:         1000,
		AttrTimeout: time.Minute,
	})
}

func (t *FSTest) TearDownTest() {
	t.cancel()
	t.srv.Close()
}

func (t *FSTest) lookUp(parent fuseops.InodeID, name string) *fuseops.LookUpInodeOp {
	op := &fuseops.LookUpInodeOp{Parent: parent, Name: name}
	require.NoError(t.T(), t.fsys.LookUpInode(context.Background(), op))
	return op
}

func (t *FSTest) TestLookUpInodeResolvesDirAndFile() {
	dirOp := t.lookUp(fuseops.RootInodeID, "sub")
	assert.True(t.T(), dirOp.Entry.Attributes.Mode.IsDir())

	fileOp := t.lookUp(fuseops.RootInodeID, "a.txt")
	assert.False(t.T(), fileOp.Entry.Attributes.Mode.IsDir())
	assert.EqualValues(t.T(), 5, fileOp.Entry.Attributes.Size)
}

func (t *FSTest) TestLookUpInodeUnknownNameReturnsENOENT() {
	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "nope"}
	err := t.fsys.LookUpInode(context.Background(), op)
	assert.Equal(t.T(), fuse.ENOENT, err)
}

func (t *FSTest) TestGetInodeAttributesMatchesLookUp() {
	looked := t.lookUp(fuseops.RootInodeID, "a.txt")

	op := &fuseops.GetInodeAttributesOp{Inode: looked.Entry.Child}
	require.NoError(t.T(), t.fsys.GetInodeAttributes(context.Background(), op))
	assert.EqualValues(t.T(), 5, op.Attributes.Size)
	assert.EqualValues(t.T(), 1000, op.Attributes.Uid)
}

func (t *FSTest) TestReadDirListsChildren() {
	openOp := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	require.NoError(t.T(), t.fsys.OpenDir(context.Background(), openOp))

	readOp := &fuseops.ReadDirOp{
		Inode:  fuseops.RootInodeID,
		Handle: openOp.Handle,
		Offset: 0,
		Size:   4096,
	}
	require.NoError(t.T(), t.fsys.ReadDir(context.Background(), readOp))
	assert.NotEmpty(t.T(), readOp.Data)
}

func (t *FSTest) TestOpenAndReadFileFetchesIntoCache() {
	looked := t.lookUp(fuseops.RootInodeID, "a.txt")

	openOp := &fuseops.OpenFileOp{Inode: looked.Entry.Child}
	require.NoError(t.T(), t.fsys.OpenFile(context.Background(), openOp))

	readOp := &fuseops.ReadFileOp{
		Inode:  looked.Entry.Child,
		Handle: openOp.Handle,
		Offset: 0,
		Size:   5,
	}
	require.NoError(t.T(), t.fsys.ReadFile(context.Background(), readOp))
	assert.Equal(t.T(), "hello", string(readOp.Data))

	releaseOp := &fuseops.ReleaseFileHandleOp{Handle: openOp.Handle}
	assert.NoError(t.T(), t.fsys.ReleaseFileHandle(context.Background(), releaseOp))
}

func (t *FSTest) TestForgetInodeEvictsEntry() {
	looked := t.lookUp(fuseops.RootInodeID, "a.txt")

	forgetOp := &fuseops.ForgetInodeOp{Inode: looked.Entry.Child, N: 1}
	require.NoError(t.T(), t.fsys.ForgetInode(context.Background(), forgetOp))

	attrOp := &fuseops.GetInodeAttributesOp{Inode: looked.Entry.Child}
	err := t.fsys.GetInodeAttributes(context.Background(), attrOp)
	assert.Equal(t.T(), fuse.ENOENT, err)
}
