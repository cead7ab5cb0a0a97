// Package vfs implements Folder, the single concrete lazy directory node
// that backs every directory in the mirrored tree. There is deliberately
// only one kind of folder node -- unlike a real filesystem inode layer that
// distinguishes explicit directories, implicit directories and symlinks,
// every directory here is fetched, listed and cached identically, so no
// node-type polymorphism is exposed. Folder is grounded on the LazyFolder /
// FolderOpts classes of the original cached filesystem: each Folder owns a
// debounced, crash-safe cache of its own listing (via internal/cache/store)
// and lazily fetches and refines file sizes on demand.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ash2txt/htreefs/clock"
	"github.com/ash2txt/htreefs/internal/cache/store"
	"github.com/ash2txt/htreefs/internal/fetch"
	"github.com/ash2txt/htreefs/internal/later"
	"github.com/ash2txt/htreefs/internal/logger"
	"github.com/ash2txt/htreefs/internal/singleflight"
	"github.com/ash2txt/htreefs/listing"
	"github.com/ash2txt/htreefs/sizeunit"
	"github.com/ash2txt/htreefs/vpath"
)

// exactSizeBatchThreshold is how many exact_size calls on one folder node
// trigger a batch HEAD refinement of every still-unresolved file in it,
// grounded on spec scenario 6 ("after the 5th call... at most 20 HEADs fly
// concurrently").
const exactSizeBatchThreshold = 5

// FileInfo is the cached, refinable metadata this package tracks for one
// file entry of a Folder's listing.
type FileInfo struct {
	ApproximateSizeBytes int64  `json:"approximate_size_bytes"`
	ApproximateSizeKnown bool   `json:"approximate_size_known"`
	ExactSizeBytes       int64  `json:"exact_size_bytes"`
	ExactSizeKnown       bool   `json:"exact_size_known"`
	LastModified         string `json:"last_modified"`
}

// persisted is the on-disk shape of a Folder's cached listing.
type persisted struct {
	Files       map[string]FileInfo `json:"files"`
	Dirs        []string            `json:"dirs"`
	ListedAtUTC int64               `json:"listed_at_utc"`
}

// Opts bundles the collaborators every Folder in a tree shares, grounded on
// the original FolderOpts callback bundle.
type Opts struct {
	BaseURL  string
	CacheDir string
	Fetcher  *fetch.Fetcher
	SF       *singleflight.Group
	Clock    clock.Clock
	Later    *later.Later
	Log      *logger.Logger
	Debounce time.Duration
}

// Folder is one lazily-populated directory of the mirrored tree.
type Folder struct {
	opts *Opts
	path vpath.Path

	mu       sync.Mutex
	children map[string]*Folder
	cache    *store.Store[persisted]

	// exactSizeCalls counts calls to FileExactSize on this node; it latches
	// to -1 once the batch-refinement threshold has fired so a node only
	// ever auto-refines once.
	exactSizeCalls int
}

// NewRoot returns the Folder for the root of the tree.
func NewRoot(opts *Opts) *Folder {
	return newFolder(opts, vpath.Root)
}

func newFolder(opts *Opts, path vpath.Path) *Folder {
	cachePath := filepath.Join(opts.CacheDir, "meta", path.String(), ".listing.json")
	initial, err := store.Load[persisted](cachePath)
	if err != nil {
		if opts.Log != nil {
			opts.Log.Warn("vfs: failed to load cached listing, starting empty", "path", path.String(), "error", err)
		}
		initial = &persisted{}
	}
	if initial.Files == nil {
		initial.Files = make(map[string]FileInfo)
	}

	var onErr func(error)
	if opts.Log != nil {
		onErr = func(err error) { opts.Log.Warn("vfs: background listing flush failed", "path", path.String(), "error", err) }
	}

	return &Folder{
		opts:     opts,
		path:     path,
		children: make(map[string]*Folder),
		cache:    store.New(cachePath, initial, opts.Clock, opts.Later, opts.Debounce, onErr),
	}
}

// Path returns the folder's path relative to the tree root.
func (f *Folder) Path() vpath.Path {
	return f.path
}

func (f *Folder) url() string {
	p := f.path.String()
	if p == "" {
		return f.opts.BaseURL
	}
	return f.opts.BaseURL + p + "/"
}

// ensureListed populates the folder's children and file metadata from the
// remote HTML listing if it has never been fetched, coalescing concurrent
// callers for the same folder through the shared singleflight.Group.
func (f *Folder) ensureListed(ctx context.Context) error {
	f.mu.Lock()
	already := f.cache.Get().ListedAtUTC != 0
	f.mu.Unlock()
	if already {
		return nil
	}

	_, _, err := f.opts.SF.Do(ctx, "list:"+f.path.String(), func(ctx context.Context) (any, error) {
		f.mu.Lock()
		if f.cache.Get().ListedAtUTC != 0 {
			f.mu.Unlock()
			return nil, nil
		}
		f.mu.Unlock()

		body, err := f.opts.Fetcher.FetchText(ctx, f.url())
		if err != nil {
			return nil, fmt.Errorf("vfs: fetching listing for %q: %w", f.path.String(), err)
		}
		entries, err := listing.Parse(newStringReader(body))
		if err != nil {
			return nil, fmt.Errorf("vfs: parsing listing for %q: %w", f.path.String(), err)
		}

		f.mu.Lock()
		v := f.cache.Get()
		if v.Files == nil {
			v.Files = make(map[string]FileInfo)
		}
		v.Dirs = v.Dirs[:0]
		for _, e := range entries {
			if e.IsDir {
				v.Dirs = append(v.Dirs, e.Name)
				if _, ok := f.children[e.Name]; !ok {
					f.children[e.Name] = newFolder(f.opts, f.path.Join(e.Name))
				}
				continue
			}
			v.Files[e.Name] = FileInfo{
				ApproximateSizeBytes: e.ApproximateSizeBytes,
				ApproximateSizeKnown: e.ApproximateSizeKnown,
				ExactSizeBytes:       e.ExactSizeBytes,
				ExactSizeKnown:       e.ExactSizeKnown,
				LastModified:         e.LastModified,
			}
		}
		sort.Strings(v.Dirs)
		v.ListedAtUTC = f.opts.Clock.Now().Unix()
		f.cache.Changed(ctx)
		f.mu.Unlock()
		return nil, nil
	})
	return err
}

// Children returns the sorted names of sub-directories and files directly
// under this folder, fetching the listing first if necessary.
func (f *Folder) Children(ctx context.Context) (dirs []string, files []string, err error) {
	if err := f.ensureListed(ctx); err != nil {
		return nil, nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	v := f.cache.Get()
	dirs = append(dirs, v.Dirs...)
	for name := range v.Files {
		files = append(files, name)
	}
	sort.Strings(files)
	return dirs, files, nil
}

// Subfolder returns the named child folder, fetching this folder's listing
// first if necessary. ok is false if name does not name a sub-directory.
func (f *Folder) Subfolder(ctx context.Context, name string) (*Folder, bool, error) {
	if err := f.ensureListed(ctx); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	child, ok := f.children[name]
	return child, ok, nil
}

// FileApproximateSize returns the file's exact size if already known, else
// the listing-reported approximate size, without making a network request.
func (f *Folder) FileApproximateSize(ctx context.Context, name string) (size int64, known bool, err error) {
	if err := f.ensureListed(ctx); err != nil {
		return 0, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fi, ok := f.cache.Get().Files[name]
	if !ok {
		return 0, false, fmt.Errorf("vfs: %q has no file %q", f.path.String(), name)
	}
	if fi.ExactSizeKnown {
		return fi.ExactSizeBytes, true, nil
	}
	return fi.ApproximateSizeBytes, fi.ApproximateSizeKnown, nil
}

// FileExactSize returns the file's exact size, issuing a HEAD request to
// refine it from the cache's approximate value if it has not been resolved
// before. Concurrent callers for the same file are coalesced. Every call
// counts toward this node's batch-refinement threshold (see
// triggerBatchRefinement).
func (f *Folder) FileExactSize(ctx context.Context, name string) (int64, error) {
	if err := f.ensureListed(ctx); err != nil {
		return 0, err
	}
	defer f.triggerBatchRefinement()

	f.mu.Lock()
	fi, ok := f.cache.Get().Files[name]
	f.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("vfs: %q has no file %q", f.path.String(), name)
	}
	if fi.ExactSizeKnown {
		return fi.ExactSizeBytes, nil
	}

	v, _, err := f.opts.SF.Do(ctx, "exactsize:"+f.path.String()+"/"+name, func(ctx context.Context) (any, error) {
		return f.refineExactSize(ctx, name)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// triggerBatchRefinement increments this node's exact_size call counter and,
// once it reaches exactSizeBatchThreshold, latches (so it never fires twice
// for the same node) and kicks off a background HEAD refinement of every
// file in the folder whose exact size is not yet known, grounded on
// spec.md's "after ≥4 calls... trigger a batch refinement" rule and its
// scenario 6 (20 files, refined after the 5th call).
func (f *Folder) triggerBatchRefinement() {
	f.mu.Lock()
	if f.exactSizeCalls < 0 {
		f.mu.Unlock()
		return
	}
	f.exactSizeCalls++
	if f.exactSizeCalls < exactSizeBatchThreshold {
		f.mu.Unlock()
		return
	}
	f.exactSizeCalls = -1

	var names []string
	for name, fi := range f.cache.Get().Files {
		if !fi.ExactSizeKnown {
			names = append(names, name)
		}
	}
	f.mu.Unlock()

	if len(names) == 0 {
		return
	}
	// Detached from the triggering call's context: refinement must outlive
	// whichever single FUSE request happened to push the counter over the
	// threshold, matching the fire-and-forget nature of the batch.
	go f.RefineSizes(context.Background(), names)
}

func (f *Folder) refineExactSize(ctx context.Context, name string) (int64, error) {
	f.mu.Lock()
	fi := f.cache.Get().Files[name]
	f.mu.Unlock()
	if fi.ExactSizeKnown {
		return fi.ExactSizeBytes, nil
	}

	headers, err := f.opts.Fetcher.FetchHeaders(ctx, f.url()+name)
	if err != nil {
		return 0, fmt.Errorf("vfs: resolving exact size for %q/%q: %w", f.path.String(), name, err)
	}
	size, err := sizeunit.ExactBytes(headers.Get("Content-Length"))
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	fi = f.cache.Get().Files[name]
	fi.ExactSizeBytes = size
	fi.ExactSizeKnown = true
	f.cache.Get().Files[name] = fi
	f.cache.Changed(ctx)
	f.mu.Unlock()
	return size, nil
}

// RefineSizes resolves the exact size of every name in names concurrently,
// one HEAD request per file, fanning out across goroutines. Each goroutine
// closes over its own per-iteration copy of name so that a slow request
// never ends up resolving the wrong file's size -- the bug class this
// guards against is a classic captured-loop-variable mistake, which Go's
// per-iteration loop variable semantics (since Go 1.22) rule out by
// construction, but the explicit copy below keeps that invariant true even
// if this loop is ever rewritten as an indexed loop over a slice.
func (f *Folder) RefineSizes(ctx context.Context, names []string) map[string]error {
	errs := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		name := name // explicit per-iteration copy; see doc comment above.
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.FileExactSize(ctx, name)
			if err != nil {
				mu.Lock()
				errs[name] = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

// CachePath returns the on-disk path a file's body is (or will be) cached
// at, creating no parent directories as a side effect.
func (f *Folder) CachePath(name string) string {
	return filepath.Join(f.opts.CacheDir, "blobs", f.path.String(), name)
}

// EnsureFetched downloads the named file's body into its cache path if it
// is not already present. If the final cache file already exists, it
// returns immediately without making any network request -- a file that
// has reached the terminal Present state in the cache state machine is
// never re-verified against the origin on open.
func (f *Folder) EnsureFetched(ctx context.Context, name string) error {
	path := f.CachePath(name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	_, _, err := f.opts.SF.Do(ctx, "fetch:"+f.path.String()+"/"+name, func(ctx context.Context) (any, error) {
		return nil, f.fetchInto(ctx, name, path)
	})
	return err
}

func (f *Folder) fetchInto(ctx context.Context, name, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("vfs: creating cache dir for %q: %w", path, err)
	}

	body, err := f.opts.Fetcher.FetchStream(ctx, f.url()+name)
	if err != nil {
		return fmt.Errorf("vfs: fetching body of %q/%q: %w", f.path.String(), name, err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("vfs: creating temp cache file for %q: %w", path, err)
	}
	tmpName := tmp.Name()

	n, err := copyBuf(tmp, body)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("vfs: writing cache file for %q: %w", path, err)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("vfs: closing cache file for %q: %w", path, closeErr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("vfs: renaming cache file for %q: %w", path, err)
	}

	f.mu.Lock()
	fi := f.cache.Get().Files[name]
	fi.ExactSizeBytes = n
	fi.ExactSizeKnown = true
	f.cache.Get().Files[name] = fi
	f.cache.Changed(ctx)
	f.mu.Unlock()
	return nil
}

// ReadBytes ensures name is downloaded, then reads length bytes from its
// cache file starting at offset, returning fewer bytes than length only at
// EOF.
func (f *Folder) ReadBytes(ctx context.Context, name string, offset int64, length int) ([]byte, error) {
	if err := f.EnsureFetched(ctx, name); err != nil {
		return nil, err
	}

	file, err := os.Open(f.CachePath(name))
	if err != nil {
		return nil, fmt.Errorf("vfs: opening cache file for %q/%q: %w", f.path.String(), name, err)
	}
	defer file.Close()

	buf := make([]byte, length)
	n, err := file.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("vfs: reading %q/%q: %w", f.path.String(), name, err)
	}
	return buf[:n], nil
}

// ListedAt reports when this folder's listing was last fetched, and false
// if it has never been fetched.
func (f *Folder) ListedAt() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := f.cache.Get().ListedAtUTC
	if ts == 0 {
		return time.Time{}, false
	}
	return time.Unix(ts, 0).UTC(), true
}

// Flush synchronously persists this folder's cached listing, for orderly
// shutdown.
func (f *Folder) Flush() error {
	return f.cache.Flush()
}
