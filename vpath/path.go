// Package vpath implements the slash-separated virtual path type shared by
// the listing, vfs, walk and fs packages. A Path never carries a leading or
// trailing slash and its empty value denotes the tree root.
package vpath

import "strings"

// Path is an immutable, slash-separated sequence of path segments relative
// to the root of the mirrored tree. The zero Path is the root.
type Path struct {
	segments []string
}

// Root is the empty path, i.e. the root of the tree.
var Root = Path{}

// Parse splits s on "/" into a Path, dropping empty segments produced by
// leading, trailing or repeated slashes so that "/a//b/" and "a/b" parse to
// the same value.
func Parse(s string) Path {
	if s == "" {
		return Root
	}
	parts := strings.Split(s, "/")
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		segs = append(segs, p)
	}
	return Path{segments: segs}
}

// Join appends name as a new trailing segment and returns the result. It
// does not modify p.
func (p Path) Join(name string) Path {
	segs := make([]string, len(p.segments), len(p.segments)+1)
	copy(segs, p.segments)
	segs = append(segs, name)
	return Path{segments: segs}
}

// Segments returns a copy of the path's segments; mutating the returned
// slice does not affect p.
func (p Path) Segments() []string {
	segs := make([]string, len(p.segments))
	copy(segs, p.segments)
	return segs
}

// IsRoot reports whether p is the root path.
func (p Path) IsRoot() bool {
	return len(p.segments) == 0
}

// Base returns the last segment of p, or "" if p is the root.
func (p Path) Base() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path with its last segment removed, and true, unless p
// is already the root, in which case it returns the root and false.
func (p Path) Parent() (Path, bool) {
	if len(p.segments) == 0 {
		return Root, false
	}
	segs := make([]string, len(p.segments)-1)
	copy(segs, p.segments[:len(p.segments)-1])
	return Path{segments: segs}, true
}

// String renders p in canonical slash-separated form with no leading or
// trailing slash. The root renders as "".
func (p Path) String() string {
	return strings.Join(p.segments, "/")
}

// Equal reports whether p and other denote the same path.
func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i, s := range p.segments {
		if other.segments[i] != s {
			return false
		}
	}
	return true
}
