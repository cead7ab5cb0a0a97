package fetch_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ash2txt/htreefs/internal/fetch"
)

type FetchTest struct {
	suite.Suite
	srv *httptest.Server
	f   *fetch.Fetcher
}

func TestFetchSuite(t *testing.T) {
	suite.Run(t, new(FetchTest))
}

func (t *FetchTest) SetupTest() {
	t.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.Header().Set("Content-Length", "1234")
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Write([]byte("hello world"))
		}
	}))
	t.f = fetch.New(t.srv.URL, fetch.DefaultConfig())
}

func (t *FetchTest) TearDownTest() {
	t.srv.Close()
}

func (t *FetchTest) TestFetchText() {
	body, err := t.f.FetchText(context.Background(), t.srv.URL+"/a.txt")
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "hello world", body)
}

func (t *FetchTest) TestFetchTextNotFound() {
	_, err := t.f.FetchText(context.Background(), t.srv.URL+"/missing")
	assert.Error(t.T(), err)
}

func (t *FetchTest) TestFetchHeaders() {
	h, err := t.f.FetchHeaders(context.Background(), t.srv.URL+"/a.txt")
	require.NoError(t.T(), err)
	assert.Equal(t.T(), "1234", h.Get("Content-Length"))
}

func (t *FetchTest) TestFetchStream() {
	rc, err := t.f.FetchStream(context.Background(), t.srv.URL+"/a.txt")
	require.NoError(t.T(), err)
	defer rc.Close()

	buf := make([]byte, 64)
	n, _ := rc.Read(buf)
	assert.Equal(t.T(), "hello world", string(buf[:n]))
}

// TestFetchStreamHoldsGateUntilBodyClosed exercises the fetch gate's actual
// purpose: it must bound concurrent body transfers, not just time-to-
// headers. With capacity 1, a second stream must not be able to start while
// the first stream's body is still open, and must become available again
// only once that body is closed.
func (t *FetchTest) TestFetchStreamHoldsGateUntilBodyClosed() {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("first-chunk"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
		w.Write([]byte("last-chunk"))
	}))
	defer srv.Close()

	f := fetch.New(srv.URL, fetch.Config{
		MaxConcurrentFetches: 1,
		MaxIdleConns:         10,
		MaxIdleConnsPerHost:  10,
		RequestTimeout:       10 * time.Second,
	})

	rc, err := f.FetchStream(context.Background(), srv.URL+"/slow")
	require.NoError(t.T(), err)

	blockedCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = f.FetchStream(blockedCtx, srv.URL+"/other")
	assert.Error(t.T(), err, "second fetch must be gated while the first body is still open")

	close(release)
	_, _ = io.Copy(io.Discard, rc)
	require.NoError(t.T(), rc.Close())

	rc2, err := f.FetchStream(context.Background(), srv.URL+"/after")
	require.NoError(t.T(), err)
	rc2.Close()
}
