// Package walk implements tree-wide traversal operations over a vfs.Folder
// tree: resolving a slash-separated path to a folder, approximating a
// subtree's total size, prefetching file bodies, verifying cached sizes
// against the remote, and reporting directory-completeness. It is grounded
// on walking.py's walk_path / list_and_size_approximate_fast_parallel /
// prefetch / walk_cache_dir_check_sizes functions, bounding fan-out with a
// weighted semaphore the way that module bounds its asyncio gather calls
// with a Limiter.
package walk

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ash2txt/htreefs/internal/vfs"
	"github.com/ash2txt/htreefs/vpath"
)

// Walker bounds concurrent traversal fan-out across its operations.
type Walker struct {
	sem *semaphore.Weighted
}

// New returns a Walker that runs at most maxConcurrency traversal steps
// (folder listings, size refinements) at once.
func New(maxConcurrency int64) *Walker {
	return &Walker{sem: semaphore.NewWeighted(maxConcurrency)}
}

func (w *Walker) acquire(ctx context.Context) error { return w.sem.Acquire(ctx, 1) }
func (w *Walker) release()                          { w.sem.Release(1) }

// FindFolder resolves path to the Folder it names, walking one path
// segment at a time. It returns an error if any segment does not name a
// sub-directory.
func (w *Walker) FindFolder(ctx context.Context, root *vfs.Folder, path vpath.Path) (*vfs.Folder, error) {
	cur := root
	walked := vpath.Root
	for _, seg := range path.Segments() {
		walked = walked.Join(seg)
		if err := w.acquire(ctx); err != nil {
			return nil, err
		}
		child, ok, err := cur.Subfolder(ctx, seg)
		w.release()
		if err != nil {
			return nil, fmt.Errorf("walk: listing %q: %w", walked.String(), err)
		}
		if !ok {
			return nil, fmt.Errorf("walk: %q: no such directory", walked.String())
		}
		cur = child
	}
	return cur, nil
}

// Find resolves path to its containing folder and, if path does not name
// the root, the leaf name within it -- mirroring walk_path's
// (folder, name) pair, where name is empty for a directory target.
func (w *Walker) Find(ctx context.Context, root *vfs.Folder, path vpath.Path) (folder *vfs.Folder, name string, err error) {
	parent, ok := path.Parent()
	if !ok {
		return root, "", nil
	}
	base := path.Base()

	f, err := w.FindFolder(ctx, root, parent)
	if err != nil {
		return nil, "", err
	}

	dirs, files, err := f.Children(ctx)
	if err != nil {
		return nil, "", err
	}
	for _, d := range dirs {
		if d == base {
			child, _, err := f.Subfolder(ctx, base)
			return child, "", err
		}
	}
	for _, fl := range files {
		if fl == base {
			return f, base, nil
		}
	}
	return nil, "", fmt.Errorf("walk: %q: no such file or directory", path.String())
}

// ApproximateTotalSize sums the listing-reported approximate sizes of every
// file under folder, recursing into sub-directories concurrently.
func (w *Walker) ApproximateTotalSize(ctx context.Context, folder *vfs.Folder) (int64, error) {
	if err := w.acquire(ctx); err != nil {
		return 0, err
	}
	dirs, files, err := folder.Children(ctx)
	w.release()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, name := range files {
		size, known, err := folder.FileApproximateSize(ctx, name)
		if err != nil {
			return 0, err
		}
		if known {
			total += size
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	errs := make([]error, len(dirs))
	for i, name := range dirs {
		i, name := i, name
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.acquire(ctx); err != nil {
				errs[i] = err
				return
			}
			child, ok, err := folder.Subfolder(ctx, name)
			w.release()
			if err != nil || !ok {
				errs[i] = err
				return
			}
			sub, err := w.ApproximateTotalSize(ctx, child)
			if err != nil {
				errs[i] = err
				return
			}
			mu.Lock()
			total += sub
			mu.Unlock()
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Prefetch recursively downloads every file body under folder. It does not
// stop at the first error; it collects and returns all of them so one
// broken file does not prevent the rest of the tree from prefetching. When
// fix is true, each file's cached body size is checked against its
// resolved exact size before fetching; a mismatch is treated as cache
// corruption, the stale local file is unlinked and the mismatch is
// recorded as one of the returned errors, mirroring walking.py's
// prefetch(..., fix=True) repair path.
func (w *Walker) Prefetch(ctx context.Context, folder *vfs.Folder, fix bool) []error {
	var errs []error
	var mu sync.Mutex

	dirs, files, err := folder.Children(ctx)
	if err != nil {
		return []error{err}
	}

	var wg sync.WaitGroup
	for _, name := range files {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.acquire(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			defer w.release()

			if fix {
				if err := repairIfCorrupt(ctx, folder, name); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}

			if err := folder.EnsureFetched(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("walk: prefetching %q/%q: %w", folder.Path().String(), name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, name := range dirs {
		child, ok, err := folder.Subfolder(ctx, name)
		if err != nil || !ok {
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		errs = append(errs, w.Prefetch(ctx, child, fix)...)
	}
	return errs
}

// repairIfCorrupt compares the locally cached body of folder/name, if any,
// against its resolved exact remote size and unlinks it on mismatch so the
// subsequent EnsureFetched call redownloads it from scratch.
func repairIfCorrupt(ctx context.Context, folder *vfs.Folder, name string) error {
	path := folder.CachePath(name)
	st, err := os.Stat(path)
	if err != nil {
		return nil
	}
	want, err := folder.FileExactSize(ctx, name)
	if err != nil {
		return fmt.Errorf("walk: resolving exact size of %q/%q: %w", folder.Path().String(), name, err)
	}
	if st.Size() == want {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("walk: unlinking corrupt cache file %q/%q (expected=%d was=%d): %w", folder.Path().String(), name, want, st.Size(), err)
	}
	return fmt.Errorf("walk: repaired corrupt cache file %q/%q: expected=%d was=%d", folder.Path().String(), name, want, st.Size())
}

// SizeMismatch describes a file whose cached body size does not match its
// resolved exact remote size.
type SizeMismatch struct {
	Path         string
	CachedBytes  int64
	ExpectedSize int64
}

// VerifySizes recursively compares every already-cached file body under
// folder against its resolved exact size, returning every mismatch found.
// Consistent with the read-only, no-eviction design, it does not delete or
// refetch anything itself -- that is left to a separate, explicit repair
// step run by the caller.
func (w *Walker) VerifySizes(ctx context.Context, folder *vfs.Folder, cachedSize func(path string) (int64, bool)) ([]SizeMismatch, error) {
	var mismatches []SizeMismatch

	dirs, files, err := folder.Children(ctx)
	if err != nil {
		return nil, err
	}

	for _, name := range files {
		fullPath := joinPath(folder.Path().String(), name)
		cached, ok := cachedSize(fullPath)
		if !ok {
			continue
		}
		exact, err := folder.FileExactSize(ctx, name)
		if err != nil {
			return nil, err
		}
		if cached != exact {
			mismatches = append(mismatches, SizeMismatch{Path: fullPath, CachedBytes: cached, ExpectedSize: exact})
		}
	}

	for _, name := range dirs {
		child, ok, err := folder.Subfolder(ctx, name)
		if err != nil || !ok {
			continue
		}
		sub, err := w.VerifySizes(ctx, child, cachedSize)
		if err != nil {
			return nil, err
		}
		mismatches = append(mismatches, sub...)
	}
	return mismatches, nil
}

// FlushTree recursively persists the cached listing of folder and every
// sub-folder visited so far beneath it. One-shot CLI invocations have no
// engine driving Later's debounce backstop, so they call this once at exit
// instead of relying on a background tick to durably save what they fetched.
func FlushTree(ctx context.Context, folder *vfs.Folder) []error {
	var errs []error
	if err := folder.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("walk: flushing %q: %w", folder.Path().String(), err))
	}
	if _, listed := folder.ListedAt(); !listed {
		return errs
	}

	dirs, _, err := folder.Children(ctx)
	if err != nil {
		return append(errs, err)
	}
	for _, name := range dirs {
		child, ok, err := folder.Subfolder(ctx, name)
		if err != nil || !ok {
			continue
		}
		errs = append(errs, FlushTree(ctx, child)...)
	}
	return errs
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// reWorkingMeshWindow matches the working_mesh_*_window_* mesh-cache
// directory naming convention.
var reWorkingMeshWindow = regexp.MustCompile(`^working_mesh_.*window`)

// SpecialFolder reports whether a folder (identified by path, with the
// given immediate child directory and file names) is one of the site's
// special shapes that list-special summarizes by kind instead of walking
// further, grounded on walking.py's special_folder: first an ancestor-
// suffix check for a volume package's paths directory, then a last-segment
// name check, then a series of content/count heuristics over the folder's
// immediate children.
func SpecialFolder(path vpath.Path, dirs, files []string) (string, bool) {
	segs := path.Segments()

	if len(segs) >= 2 && strings.HasSuffix(segs[len(segs)-2], ".volpkg") && segs[len(segs)-1] == "paths" {
		return "volpkg/paths", true
	}

	if len(segs) > 0 {
		last := segs[len(segs)-1]
		if last == "working" || last == "volumetric-instance-labels" {
			return last, true
		}
	}

	countDirsWithPrefix := func(prefix string) int {
		n := 0
		for _, d := range dirs {
			if strings.HasPrefix(d, prefix) {
				n++
			}
		}
		return n
	}
	countDirsMatching := func(re *regexp.Regexp) int {
		n := 0
		for _, d := range dirs {
			if re.MatchString(d) {
				n++
			}
		}
		return n
	}
	countFilesWithSuffix := func(suffix string) int {
		n := 0
		for _, f := range files {
			if strings.HasSuffix(f, suffix) {
				n++
			}
		}
		return n
	}
	hasFile := func(name string) bool {
		for _, f := range files {
			if f == name {
				return true
			}
		}
		return false
	}

	switch {
	case countDirsWithPrefix("cell_yxz") > 2:
		return "yxz?", true
	case countDirsMatching(reWorkingMeshWindow) > 2:
		return "working_mesh_*_window_", true
	case countDirsWithPrefix("point_cloud_") > 2:
		return "pointcloud", true
	case countDirsWithPrefix("sample_") > 2:
		return "sample_", true
	case hasFile(".zarray"):
		return "zarr archive", true
	case countFilesWithSuffix(".tif") > 20:
		return "tiff archive", true
	}
	return "", false
}

