package vfs

import (
	"io"
	"strings"
)

// streamChunkBytes is the buffer size used to stream a file body into its
// cache slot, grounded on spec.md §4.H/§4.I's "stream ... in chunks (≈10
// MiB)".
const streamChunkBytes = 10 * 1024 * 1024

func newStringReader(s string) io.Reader {
	return strings.NewReader(s)
}

func copyBuf(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, streamChunkBytes)
	return io.CopyBuffer(dst, src, buf)
}
