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

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"

	"github.com/ash2txt/htreefs/internal/vfs"
)

////////////////////////////////////////////////////////////////////////
// Filesystem lifecycle
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (fs *FileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}

func (fs *FileSystem) Destroy() {
	fs.eng.Shutdown(context.Background())
}

////////////////////////////////////////////////////////////////////////
// Inodes
////////////////////////////////////////////////////////////////////////

type lookupResult struct {
	isDir bool
	child *vfs.Folder
	name  string
}

func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	parent, ok := fs.inodes[op.Parent]
	fs.mu.Unlock()
	if !ok || parent.kind != kindDir {
		return fuse.ENOENT
	}

	v, err := fs.runSync(ctx, func(ctx context.Context) (any, error) {
		dirs, files, err := parent.folder.Children(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range dirs {
			if d == op.Name {
				child, _, err := parent.folder.Subfolder(ctx, d)
				if err != nil {
					return nil, err
				}
				return lookupResult{isDir: true, child: child}, nil
			}
		}
		for _, f := range files {
			if f == op.Name {
				return lookupResult{isDir: false, name: f}, nil
			}
		}
		return nil, notFoundError{msg: "no such entry: " + op.Name}
	})
	if err != nil {
		return err
	}
	res := v.(lookupResult)

	fs.mu.Lock()
	var childID fuseops.InodeID
	if res.isDir {
		childID = fs.lookUpOrMintInode(res.child, "", true)
	} else {
		childID = fs.lookUpOrMintInode(parent.folder, res.name, false)
	}
	childNode := fs.inodes[childID]
	fs.mu.Unlock()

	attrs, err := fs.attributesForSync(ctx, childNode)
	if err != nil {
		return err
	}

	op.Entry = fuseops.ChildInodeEntry{
		Child:                childID,
		Attributes:           attrs,
		AttributesExpiration: opExpiration(fs.attrTimeout),
		EntryExpiration:      opExpiration(fs.attrTimeout),
	}
	return nil
}

func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	n, ok := fs.inodes[op.Inode]
	fs.mu.Unlock()
	if !ok {
		return fuse.ENOENT
	}

	attrs, err := fs.attributesForSync(ctx, n)
	if err != nil {
		return err
	}
	op.Attributes = attrs
	op.AttributesExpiration = opExpiration(fs.attrTimeout)
	return nil
}

func (fs *FileSystem) attributesForSync(ctx context.Context, n *node) (fuseops.InodeAttributes, error) {
	v, err := fs.runSync(ctx, func(ctx context.Context) (any, error) {
		return fs.attributesFor(ctx, n)
	})
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	return v.(fuseops.InodeAttributes), nil
}

func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.inodes[op.Inode]
	if !ok {
		return nil
	}
	if uint64(op.N) >= n.lookupCount {
		delete(fs.inodes, op.Inode)
		delete(fs.pathToInode, inodeKey(n.folder.Path(), n.name, n.kind == kindDir))
	} else {
		n.lookupCount -= uint64(op.N)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////
// Directory handles
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	n, ok := fs.inodes[op.Inode]
	fs.mu.Unlock()
	if !ok || n.kind != kindDir {
		return fuse.ENOENT
	}

	fs.mu.Lock()
	handleID := fs.nextHandle
	fs.nextHandle++
	fs.handles[handleID] = newDirHandle(n.folder)
	fs.mu.Unlock()

	op.Handle = handleID
	return nil
}

func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dh, ok := fs.handles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.EINVAL
	}

	_, err := fs.runSync(ctx, func(ctx context.Context) (any, error) {
		return nil, dh.readDir(ctx, op)
	})
	return err
}

func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.handles, op.Handle)
	return nil
}

////////////////////////////////////////////////////////////////////////
// File handles
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	n, ok := fs.inodes[op.Inode]
	fs.mu.Unlock()
	if !ok || n.kind != kindFile {
		return fuse.ENOENT
	}

	_, err := fs.runSync(ctx, func(ctx context.Context) (any, error) {
		return nil, n.folder.EnsureFetched(ctx, n.name)
	})
	if err != nil {
		return err
	}

	fs.mu.Lock()
	handleID := fs.nextHandle
	fs.nextHandle++
	fs.files[handleID] = &fileHandle{folder: n.folder, name: n.name}
	fs.mu.Unlock()

	op.Handle = handleID
	op.KeepPageCache = true
	return nil
}

// ReadFile reads directly through the Folder's read_bytes operation rather
// than via runSync: the underlying cache file is already fully downloaded
// by OpenFile, so serving a read needs no access to shared folder-tree
// state and would otherwise needlessly serialize concurrent reads behind
// the engine's single worker goroutine.
func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	fh, ok := fs.files[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.EINVAL
	}

	data, err := fh.folder.ReadBytes(ctx, fh.name, op.Offset, op.Size)
	if err != nil {
		return err
	}
	op.Data = data
	return nil
}

func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	delete(fs.files, op.Handle)
	fs.mu.Unlock()
	return nil
}
