// Package listing parses the Apache mod_autoindex HTML directory listings
// served by the mirrored site into structured entries.
package listing

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ash2txt/htreefs/sizeunit"
)

// Entry is one row of a parsed directory listing.
type Entry struct {
	// Name is the unquoted, un-decorated entry name (no trailing "/").
	Name string
	// IsDir reports whether the entry is itself a sub-directory.
	IsDir bool
	// LastModified is the listing's raw "Last modified" column text; the
	// server's formatting is inconsistent enough across entries that we
	// keep it as an opaque string rather than parsing it into time.Time.
	LastModified string
	// ApproximateSizeBytes and ApproximateSizeKnown carry the size column,
	// which is always a truncated human approximation for files and "-"
	// (unknown) for directories and the occasional zero-length file.
	ApproximateSizeBytes int64
	ApproximateSizeKnown bool
	// ExactSizeBytes and ExactSizeKnown carry the same size column
	// reinterpreted as an exact count: the server only omits its usual
	// rounding when the size column's unit is "B", so this is non-empty
	// for small files only.
	ExactSizeBytes int64
	ExactSizeKnown bool
}

// Parse reads an Apache mod_autoindex "#list" HTML table from r and returns
// its entries in document order, skipping the synthetic "Parent Directory"
// row. Rows with well-formed hrefs that fail to parse are skipped rather
// than aborting the whole listing, matching the tolerant behavior of the
// original BeautifulSoup-based parser.
func Parse(r io.Reader) ([]Entry, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("listing: parsing html: %w", err)
	}

	rows := doc.Find("table#list tbody tr")
	if rows.Length() == 0 {
		// Some mirrors omit the wrapping tbody; fall back to all rows of
		// the #list table directly.
		rows = doc.Find("table#list tr")
	}

	var entries []Entry
	rows.Each(func(_ int, row *goquery.Selection) {
		a := row.Find("td a").First()
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		if href == "" || strings.HasPrefix(href, "?") || href == "../" {
			return
		}

		name, err := url.QueryUnescape(strings.TrimSuffix(href, "/"))
		if err != nil {
			return
		}
		if name == "" || strings.ToLower(a.Text()) == "parent directory" {
			return
		}

		isDir := strings.HasSuffix(href, "/")

		tds := row.Find("td")
		lastModified := ""
		if tds.Length() > 2 {
			lastModified = strings.TrimSpace(tds.Eq(2).Text())
		}

		var approxBytes, exactBytes int64
		var approxKnown, exactKnown bool
		if tds.Length() > 3 {
			sizeText := strings.TrimSpace(tds.Eq(3).Text())
			var err error
			approxBytes, approxKnown, err = sizeunit.ApproximateBytes(sizeText)
			if err != nil {
				return
			}
			exactBytes, exactKnown, err = sizeunit.ListingExactBytes(sizeText)
			if err != nil {
				return
			}
		}

		entries = append(entries, Entry{
			Name:                 name,
			IsDir:                isDir,
			LastModified:         lastModified,
			ApproximateSizeBytes: approxBytes,
			ApproximateSizeKnown: approxKnown,
			ExactSizeBytes:       exactBytes,
			ExactSizeKnown:       exactKnown,
		})
	})

	return entries, nil
}
