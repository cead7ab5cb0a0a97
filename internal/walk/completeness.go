package walk

import (
	"context"

	"github.com/ash2txt/htreefs/internal/vfs"
)

// CompletenessReport summarizes, for one folder subtree, how much of the
// listed file content is already cached locally, grounded on
// walk_cache_check_download_completness.
type CompletenessReport struct {
	TotalFiles   int
	CachedFiles  int
	TotalDirs    int
	MissingPaths []string
}

// CheckCompleteness recursively compares folder's listed files against a
// caller-supplied cachedSize predicate (typically a stat of the on-disk
// blob cache), reporting how many files are fully present and which ones
// are missing or only partially cached.
func (w *Walker) CheckCompleteness(ctx context.Context, folder *vfs.Folder, cachedSize func(path string) (int64, bool)) (*CompletenessReport, error) {
	report := &CompletenessReport{}

	dirs, files, err := folder.Children(ctx)
	if err != nil {
		return nil, err
	}
	report.TotalDirs += len(dirs)
	report.TotalFiles += len(files)

	for _, name := range files {
		fullPath := joinPath(folder.Path().String(), name)
		cached, ok := cachedSize(fullPath)
		if !ok {
			report.MissingPaths = append(report.MissingPaths, fullPath)
			continue
		}
		exact, err := folder.FileExactSize(ctx, name)
		if err != nil || cached != exact {
			report.MissingPaths = append(report.MissingPaths, fullPath)
			continue
		}
		report.CachedFiles++
	}

	for _, name := range dirs {
		child, ok, err := folder.Subfolder(ctx, name)
		if err != nil || !ok {
			continue
		}
		sub, err := w.CheckCompleteness(ctx, child, cachedSize)
		if err != nil {
			return nil, err
		}
		report.TotalFiles += sub.TotalFiles
		report.CachedFiles += sub.CachedFiles
		report.TotalDirs += sub.TotalDirs
		report.MissingPaths = append(report.MissingPaths, sub.MissingPaths...)
	}

	return report, nil
}
