// Package singleflight coalesces concurrent requests for the same remote
// resource (a listing fetch, a HEAD size probe, a file body download) into a
// single in-flight call, so that a burst of FUSE lookups against the same
// path only ever issues one HTTP request. It is a thin, typed wrapper around
// golang.org/x/sync/singleflight, grounded on the way rclone's backends use
// that package to deduplicate concurrent API calls by key.
package singleflight

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group coalesces concurrent calls keyed by an arbitrary string, typically
// the virtual path of the resource being fetched.
type Group struct {
	g singleflight.Group
}

// New returns an empty Group.
func New() *Group {
	return &Group{}
}

// Do executes and returns the results of fn, making sure that only one
// execution is in-flight for a given key at a time. If a duplicate call
// comes in while fn is running, the duplicate waits for the original and
// receives the same results. shared reports whether the result came from a
// call made by someone else.
func (g *Group) Do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (v any, shared bool, err error) {
	executed := false
	v, err, _ = g.g.Do(key, func() (any, error) {
		executed = true
		return fn(ctx)
	})
	return v, !executed, err
}

// Forget tells the Group to forget a key so that the next call for that key
// starts a new, uncoalesced execution rather than waiting on a stale one.
func (g *Group) Forget(key string) {
	g.g.Forget(key)
}
