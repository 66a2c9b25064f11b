package integrity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fphttp "github.com/ligustah/fetchpush/internal/http"
	"github.com/ligustah/fetchpush/internal/testutils"
	"github.com/ligustah/fetchpush/pkg/transfer"
)

func newChecker(fsys afero.Fs) *Checker {
	return New(Options{
		Limit:  4,
		Client: fphttp.NewClient(fphttp.DefaultOptions()),
		FS:     fsys,
	})
}

func completedPut(url string, size int64) *transfer.Item {
	it := transfer.NewItem(transfer.MethodPut, url, "/local")
	it.Size = size
	it.MarkComplete(time.Unix(100, 0))
	return it
}

func TestVerifySizeMismatch(t *testing.T) {
	srv := testutils.NewObjectServer(t)
	srv.Store("/big", make([]byte, 1024))
	srv.ReportLength("/big", 2048)

	it := completedPut(srv.URLFor("/big"), 1024)
	results, err := newChecker(afero.NewMemMapFs()).Verify(context.Background(), []*transfer.Item{it})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.False(t, r.Match)
	assert.Equal(t, int64(1024), r.LocalSize)
	assert.Equal(t, int64(2048), r.RemoteSize)
	assert.Equal(t, http.StatusOK, r.StatusCode)
	assert.False(t, it.Completed(), "mismatched item must be left for re-upload")

	err = Mismatched(results)
	assert.True(t, errors.Is(err, ErrMismatch))
}

func TestVerifyMatch(t *testing.T) {
	srv := testutils.NewObjectServer(t)
	srv.Store("/ok", make([]byte, 1024))

	it := completedPut(srv.URLFor("/ok"), 1024)
	results, err := newChecker(afero.NewMemMapFs()).Verify(context.Background(), []*transfer.Item{it})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Match)
	assert.True(t, it.Completed())
	assert.NoError(t, Mismatched(results))
}

func TestVerifySkipsIncompleteAndNonPut(t *testing.T) {
	srv := testutils.NewObjectServer(t)

	incomplete := transfer.NewItem(transfer.MethodPut, srv.URLFor("/a"), "/a")
	get := transfer.NewItem(transfer.MethodGet, srv.URLFor("/b"), "/b")
	get.MarkComplete(time.Unix(1, 0))

	results, err := newChecker(afero.NewMemMapFs()).Verify(context.Background(), []*transfer.Item{incomplete, get})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, srv.TotalRequests())
}

func TestVerifyProbeFailureIsMismatch(t *testing.T) {
	srv := testutils.NewObjectServer(t)
	srv.Store("/a", make([]byte, 10))
	srv.FailNext("/a", http.StatusInternalServerError)

	it := completedPut(srv.URLFor("/a"), 10)
	results, err := newChecker(afero.NewMemMapFs()).Verify(context.Background(), []*transfer.Item{it})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Match)
	assert.Equal(t, http.StatusInternalServerError, results[0].StatusCode)
	assert.Equal(t, int64(-1), results[0].RemoteSize)
	assert.Equal(t, 1, srv.Requests(http.MethodHead, "/a"), "probes are not retried")
}

func TestChecksumComparison(t *testing.T) {
	const sum = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	tests := []struct {
		name        string
		header      string
		value       string
		wantChecked bool
		wantMatch   bool
	}{
		{name: "checksum header match", header: "X-Checksum-Sha256", value: sum, wantChecked: true, wantMatch: true},
		{name: "checksum header mismatch", header: "X-Checksum-Sha256", value: "00", wantChecked: true},
		{name: "hex etag", header: "ETag", value: `"` + sum + `"`, wantChecked: true, wantMatch: true},
		{name: "opaque etag", header: "ETag", value: `"abc"`, wantMatch: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", "5")
				w.Header().Set(tt.header, tt.value)
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			it := completedPut(srv.URL+"/hello", 5)
			it.Checksum = sum
			results, err := newChecker(afero.NewMemMapFs()).Verify(context.Background(), []*transfer.Item{it})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, tt.wantChecked, results[0].ChecksumChecked)
			assert.Equal(t, tt.wantMatch, results[0].Match)
		})
	}
}

func TestCheckFirst(t *testing.T) {
	srv := testutils.NewObjectServer(t)
	srv.Store("/present", make([]byte, 8))
	srv.Store("/short", make([]byte, 4))

	fsys := afero.NewMemMapFs()
	for _, p := range []string{"/l/present", "/l/missing", "/l/short", "/l/head"} {
		require.NoError(t, afero.WriteFile(fsys, p, make([]byte, 8), 0o644))
	}

	present := transfer.NewItem(transfer.MethodPut, srv.URLFor("/present"), "/l/present")
	missing := transfer.NewItem(transfer.MethodPut, srv.URLFor("/missing"), "/l/missing")
	short := transfer.NewItem(transfer.MethodPut, srv.URLFor("/short"), "/l/short")
	head := transfer.NewItem(transfer.MethodHead, srv.URLFor("/head"), "/l/head")
	get := transfer.NewItem(transfer.MethodGet, srv.URLFor("/get"), "/l/get")

	c := newChecker(fsys)
	uploads, results, err := c.CheckFirst(context.Background(), []*transfer.Item{present, missing, short, head, get})
	require.NoError(t, err)
	assert.Len(t, results, 4)

	require.Len(t, uploads, 3)
	assert.Same(t, missing, uploads[0])
	assert.Same(t, short, uploads[1])
	assert.Equal(t, transfer.MethodPut, uploads[2].Method)
	assert.Equal(t, head.URL, uploads[2].URL)
	for _, u := range uploads {
		assert.Equal(t, transfer.MethodPut, u.Method)
	}

	assert.True(t, present.Completed())
	assert.False(t, missing.Completed())
	assert.Equal(t, int64(8), missing.Size, "local size is resolved for the probe")
	assert.Equal(t, 0, srv.Requests(http.MethodPut, "/missing"), "checkfirst itself uploads nothing")
	assert.Equal(t, http.StatusNotFound, results[1].StatusCode)
}

func TestCheckOnlyLeavesItemsAlone(t *testing.T) {
	srv := testutils.NewObjectServer(t)
	srv.Store("/a", make([]byte, 3))

	it := transfer.NewItem(transfer.MethodPut, srv.URLFor("/a"), "/a")
	it.Size = 3
	results, err := newChecker(afero.NewMemMapFs()).CheckOnly(context.Background(), []*transfer.Item{it})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Match)
	assert.False(t, it.Completed())
	assert.Zero(t, srv.Requests(http.MethodPut, "/a"))
}

func TestMissingLocalFile(t *testing.T) {
	srv := testutils.NewObjectServer(t)

	it := transfer.NewItem(transfer.MethodPut, srv.URLFor("/a"), "/nope")
	results, err := newChecker(afero.NewMemMapFs()).CheckOnly(context.Background(), []*transfer.Item{it})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Match)
	assert.ErrorIs(t, results[0].Err, transfer.ErrLocalIO)
	assert.Zero(t, srv.TotalRequests())
}
