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

// Package fs adapts the cached virtual tree of internal/vfs.Folder values
// to jacobsa/fuse's fuseutil.FileSystem interface. Unlike the inode layer
// this package is grounded on -- which distinguishes explicit directories,
// implicit directories, symlinks and regular files, each with its own
// inode.Inode implementation and its own GCS-generation consistency rules
// -- this filesystem has exactly one kind of directory node (vfs.Folder)
// and one kind of leaf node (a named file within a Folder's listing), so
// the inode table here maps IDs to one of those two cases rather than to a
// polymorphic inode.Inode. The filesystem is read-only: every mutating
// FUSE op falls through to the embedded fuseutil.NotImplementedFileSystem,
// exactly as the teacher embeds it for the handful of ops it does not
// support either.
package fs

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/ash2txt/htreefs/internal/engine"
	"github.com/ash2txt/htreefs/internal/logger"
	"github.com/ash2txt/htreefs/internal/vfs"
	"github.com/ash2txt/htreefs/internal/walk"
	"github.com/ash2txt/htreefs/vpath"
)

// kind distinguishes the two shapes of node this filesystem ever hands the
// kernel an inode ID for.
type kind int

const (
	kindDir kind = iota
	kindFile
)

// node is the inode-table entry for one FUSE-visible path. For a directory
// it wraps that directory's Folder directly; for a file it wraps the
// Folder it lives in plus its name within that folder's listing.
type node struct {
	kind        kind
	folder      *vfs.Folder
	name        string // only set for kindFile
	lookupCount uint64
}

// FileSystem implements fuseutil.FileSystem over a tree of vfs.Folder
// values, routing every call through an engine.Engine so the tree is only
// ever touched from that engine's single worker goroutine.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	root   *vfs.Folder
	eng    *engine.Engine
	walker *walk.Walker
	log    *logger.Logger

	uid uint32
	gid uint32

	attrTimeout time.Duration

	mu          sync.Mutex
	inodes      map[fuseops.InodeID]*node
	pathToInode map[string]fuseops.InodeID
	nextInode   fuseops.InodeID

	handles    map[fuseops.HandleID]*dirHandle
	files      map[fuseops.HandleID]*fileHandle
	nextHandle fuseops.HandleID
}

// fileHandle is the FUSE file-handle-table entry for one open file:
// the Folder it lives in plus its name within that folder's listing. Reads
// route through the Folder's own ReadBytes operation rather than holding an
// *os.File directly; releasing the handle only drops this entry.
type fileHandle struct {
	folder *vfs.Folder
	name   string
}

// Config controls the attributes and caching behavior of a FileSystem.
type Config struct {
	UID         uint32
	GID         uint32
	AttrTimeout time.Duration
}

// New returns a FileSystem rooted at root, whose operations run on eng's
// worker loop and whose traversal fan-out is bounded by walker.
func New(root *vfs.Folder, eng *engine.Engine, walker *walk.Walker, log *logger.Logger, cfg Config) *FileSystem {
	fs := &FileSystem{
		root:        root,
		eng:         eng,
		walker:      walker,
		log:         log,
		uid:         cfg.UID,
		gid:         cfg.GID,
		attrTimeout: cfg.AttrTimeout,
		inodes:      make(map[fuseops.InodeID]*node),
		pathToInode: make(map[string]fuseops.InodeID),
		handles:     make(map[fuseops.HandleID]*dirHandle),
		files:       make(map[fuseops.HandleID]*fileHandle),
		nextInode:   fuseops.RootInodeID + 1,
	}

	fs.inodes[fuseops.RootInodeID] = &node{kind: kindDir, folder: root, lookupCount: 1}
	fs.pathToInode[inodeKey(root.Path(), "", true)] = fuseops.RootInodeID

	return fs
}

// inodeKey returns the map key used to dedupe inode allocations for a given
// directory-or-file path.
func inodeKey(p vpath.Path, name string, isDir bool) string {
	if isDir {
		return "d:" + p.String()
	}
	return "f:" + p.String() + "/" + name
}

// lookUpOrMintInode returns the existing inode ID for a dir/file if one has
// already been minted, minting a fresh one otherwise. Must be called with
// fs.mu held.
func (fs *FileSystem) lookUpOrMintInode(folder *vfs.Folder, name string, isDir bool) fuseops.InodeID {
	key := inodeKey(folder.Path(), name, isDir)
	if id, ok := fs.pathToInode[key]; ok {
		fs.inodes[id].lookupCount++
		return id
	}

	id := fs.nextInode
	fs.nextInode++
	n := &node{kind: kindFile, folder: folder, name: name, lookupCount: 1}
	if isDir {
		n.kind = kindDir
	}
	fs.inodes[id] = n
	fs.pathToInode[key] = id
	return id
}

func (fs *FileSystem) attributesFor(ctx context.Context, n *node) (fuseops.InodeAttributes, error) {
	if n.kind == kindDir {
		return fuseops.InodeAttributes{
			Nlink: 1,
			Mode:  os.ModeDir | 0o555,
			Uid:   fs.uid,
			Gid:   fs.gid,
			Size:  4096,
		}, nil
	}

	size, err := n.folder.FileExactSize(ctx, n.name)
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}
	return fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  0o444,
		Uid:   fs.uid,
		Gid:   fs.gid,
		Size:  uint64(size),
	}, nil
}

// runSync submits fn to the engine's worker loop and translates any error it
// returns into a fuse errno.
func (fs *FileSystem) runSync(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	v, err := fs.eng.RunSync(ctx, fn)
	if err != nil {
		return nil, translateError(err)
	}
	return v, nil
}

// translateError maps internal errors to fuse errno values. Anything not
// specifically recognized becomes the error wrapped as-is, which jacobsa/fuse
// reports to the kernel as EIO.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(notFoundError); ok {
		return fuse.ENOENT
	}
	return err
}

// notFoundError marks an internal lookup failure that should surface to the
// kernel as ENOENT rather than EIO.
type notFoundError struct{ msg string }

func (e notFoundError) Error() string { return e.msg }

// opExpiration returns the absolute expiration time for an attribute/entry
// cache timeout of the given duration, relative to now.
func opExpiration(d time.Duration) time.Time {
	return time.Now().Add(d)
}
