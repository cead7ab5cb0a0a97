// Package sizeunit parses the human-readable byte-count strings that appear
// in ash2txt.org's directory listings: a "<number> <unit>" pair such as
// "2.5 MiB" or "20 B", with units B/KiB/MiB/GiB (1024-based), grounded on
// ash2txtorg_cached.py's exact_size_bytes_from_str/approximate_size_bytes_from_str.
// It also parses the plain decimal byte count carried by an HTTP
// Content-Length header, a separate and much simpler format.
package sizeunit

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// listingUnits maps the space-separated unit token used by the listing's
// size column to its byte multiplier.
var listingUnits = map[string]float64{
	"B":   1,
	"KiB": 1024,
	"MiB": 1024 * 1024,
	"GiB": 1024 * 1024 * 1024,
}

// ExactBytes parses a plain decimal byte count, such as the string carried
// by an HTTP Content-Length header.
func ExactBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sizeunit: invalid exact size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("sizeunit: negative exact size %q", s)
	}
	return n, nil
}

// splitListingSize splits a listing size column's "<number> <unit>" text on
// its separating space, as produced by ash2txt.org ("2.5 MiB", "20 B").
func splitListingSize(s string) (numeric, unit string, err error) {
	numeric, unit, found := strings.Cut(s, " ")
	if !found {
		return "", "", fmt.Errorf("sizeunit: malformed size %q, expected \"<number> <unit>\"", s)
	}
	return strings.TrimSpace(numeric), strings.TrimSpace(unit), nil
}

// ApproximateBytes parses a listing size column such as "2.5 MiB", "20 B"
// or "-" (meaning unknown, returned as zero with ok=false).
func ApproximateBytes(s string) (size int64, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, false, nil
	}

	numeric, unit, err := splitListingSize(s)
	if err != nil {
		return 0, false, err
	}

	mult, known := listingUnits[unit]
	if !known {
		return 0, false, fmt.Errorf("sizeunit: unknown unit %q in %q", unit, s)
	}

	f, err := strconv.ParseFloat(numeric, 64)
	if err != nil {
		return 0, false, fmt.Errorf("sizeunit: invalid size %q: %w", s, err)
	}
	if f < 0 {
		return 0, false, fmt.Errorf("sizeunit: negative size %q", s)
	}

	return int64(math.Round(f * mult)), true, nil
}

// ListingExactBytes parses a listing size column the same way as
// ApproximateBytes, but returns ok only when the listing already expressed
// the size in plain bytes (unit "B"), matching
// exact_size_bytes_from_str's "if we have exact value use it" rule: any
// other unit is an approximation the server truncated to a few significant
// digits, not an exact count.
func ListingExactBytes(s string) (size int64, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, false, nil
	}

	numeric, unit, err := splitListingSize(s)
	if err != nil {
		return 0, false, err
	}
	if unit != "B" {
		return 0, false, nil
	}

	n, err := strconv.ParseInt(numeric, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("sizeunit: invalid exact size %q: %w", s, err)
	}
	if n < 0 {
		return 0, false, fmt.Errorf("sizeunit: negative exact size %q", s)
	}
	return n, true, nil
}

// binaryUnits is listingUnits' inverse, largest first, for formatting.
var binaryUnits = []struct {
	suffix string
	size   float64
}{
	{"GiB", 1024 * 1024 * 1024},
	{"MiB", 1024 * 1024},
	{"KiB", 1024},
}

// Format renders a byte count for human-readable CLI output ("3.4 MiB"), or
// the plain byte count with a "B" suffix below 1KiB.
func Format(bytes int64) string {
	f := float64(bytes)
	for _, u := range binaryUnits {
		if f >= u.size {
			return fmt.Sprintf("%.1f %s", f/u.size, u.suffix)
		}
	}
	return fmt.Sprintf("%d B", bytes)
}
