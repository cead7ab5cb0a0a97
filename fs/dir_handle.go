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

package fs

import (
	"context"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/ash2txt/htreefs/internal/vfs"
)

// dirHandle buffers one directory's entries for ReadDir, which the kernel
// may call repeatedly with increasing offsets to page through a large
// listing. entries is built lazily on first use and then reused for the
// lifetime of the handle, since a folder's listing is itself cached and
// does not change out from under an open handle.
type dirHandle struct {
	folder *vfs.Folder

	mu      sync.Mutex
	entries []fuseops.Dirent
	built   bool
}

func newDirHandle(folder *vfs.Folder) *dirHandle {
	return &dirHandle{folder: folder}
}

func (dh *dirHandle) ensureBuilt(ctx context.Context) error {
	if dh.built {
		return nil
	}

	dirs, files, err := dh.folder.Children(ctx)
	if err != nil {
		return err
	}

	entries := make([]fuseops.Dirent, 0, len(dirs)+len(files))
	offset := fuseops.DirOffset(1)
	for _, name := range dirs {
		entries = append(entries, fuseops.Dirent{
			Offset: offset,
			Inode:  fuseops.InodeID(0),
			Name:   name,
			Type:   fuseops.DT_Directory,
		})
		offset++
	}
	for _, name := range files {
		entries = append(entries, fuseops.Dirent{
			Offset: offset,
			Inode:  fuseops.InodeID(0),
			Name:   name,
			Type:   fuseops.DT_File,
		})
		offset++
	}

	dh.entries = entries
	dh.built = true
	return nil
}

// readDir writes as many entries as fit in op.Size bytes, starting at
// op.Offset, into op.Data. The child inode number in each written dirent is
// deliberately left at zero: the kernel treats it as advisory, and this
// filesystem mints real inode numbers lazily from LookUpInode rather than up
// front for an entire listing.
func (dh *dirHandle) readDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	dh.mu.Lock()
	defer dh.mu.Unlock()

	if err := dh.ensureBuilt(ctx); err != nil {
		return err
	}

	index := int(op.Offset)
	if index < 0 {
		index = 0
	}
	if index > len(dh.entries) {
		index = len(dh.entries)
	}

	buf := make([]byte, op.Size)
	var n int
	for _, e := range dh.entries[index:] {
		written := fuseutil.WriteDirent(buf[n:], e)
		if written == 0 {
			break
		}
		n += written
	}
	op.Data = buf[:n]
	return nil
}
