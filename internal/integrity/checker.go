package integrity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/afero"

	fphttp "github.com/ligustah/fetchpush/internal/http"
	"github.com/ligustah/fetchpush/pkg/transfer"
)

// ErrMismatch is reported when at least one remote copy differs from its
// local file. It is not fatal: mismatched items stay incomplete.
var ErrMismatch = errors.New("integrity: remote copy does not match local file")

// checksumHeader carries a hex SHA-256 of the stored object, when the server
// provides one.
const checksumHeader = "x-checksum-sha256"

// Options configures a Checker. Probes use the same client as transfers.
type Options struct {
	Limit    int
	Client   *fphttp.Client
	FS       afero.Fs
	Progress transfer.Reporter
	Logger   *slog.Logger

	// Now stamps items that checkfirst finds already present.
	// Default: time.Now
	Now func() time.Time
}

// Result is the verification verdict for one URL.
type Result struct {
	URL string

	// LocalSize is the recorded size of the local file.
	LocalSize int64

	// RemoteSize is the content-length reported by the probe, or -1.
	RemoteSize int64

	Match      bool
	StatusCode int

	// ChecksumChecked is set when both sides had a checksum to compare.
	ChecksumChecked bool
	ChecksumMatch   bool

	// Err is the probe or local failure, if any.
	Err error
}

// Checker compares remote copies with local files using HEAD probes.
type Checker struct {
	opts Options
}

// New returns a Checker.
func New(opts Options) *Checker {
	if opts.Limit < 1 {
		opts.Limit = 1
	}
	if opts.Client == nil {
		opts.Client = fphttp.NewClient(fphttp.DefaultOptions())
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Checker{opts: opts}
}

// Verify probes every completed PUT item. An item whose remote copy does not
// match loses its completion so the next run uploads it again.
func (c *Checker) Verify(ctx context.Context, items []*transfer.Item) ([]Result, error) {
	var targets []*transfer.Item
	for _, it := range items {
		if it.Method == transfer.MethodPut && it.Completed() {
			targets = append(targets, it)
		}
	}

	results, err := c.probe(ctx, targets)
	if err != nil {
		return results, err
	}
	for i, r := range results {
		if !r.Match {
			targets[i].Invalidate()
		}
	}
	c.report("verify", results)
	return results, nil
}

// CheckOnly probes PUT and HEAD items without transferring anything.
func (c *Checker) CheckOnly(ctx context.Context, items []*transfer.Item) ([]Result, error) {
	results, err := c.probe(ctx, checkable(items))
	if err != nil {
		return results, err
	}
	c.report("check", results)
	return results, nil
}

// CheckFirst probes PUT and HEAD items before any upload. Items whose remote
// copy matches are marked complete and dropped. Every other item comes back
// as a PUT to upload: PUT items themselves, HEAD items as their PutVariant.
func (c *Checker) CheckFirst(ctx context.Context, items []*transfer.Item) ([]*transfer.Item, []Result, error) {
	targets := checkable(items)
	results, err := c.probe(ctx, targets)
	if err != nil {
		return nil, results, err
	}

	var uploads []*transfer.Item
	now := c.opts.Now()
	for i, r := range results {
		it := targets[i]
		if r.Match {
			it.MarkComplete(now)
			continue
		}
		if it.Method == transfer.MethodHead {
			it = it.PutVariant()
		}
		uploads = append(uploads, it)
	}

	c.opts.Logger.Info("Checked remote copies before upload",
		slog.String("op", "checkfirst"),
		slog.Int("present", len(results)-len(uploads)),
		slog.Int("to_upload", len(uploads)))
	return uploads, results, nil
}

// Mismatched returns ErrMismatch wrapped with a count when any result did
// not match, and nil otherwise.
func Mismatched(results []Result) error {
	n := 0
	for _, r := range results {
		if !r.Match {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d", ErrMismatch, n, len(results))
}

func checkable(items []*transfer.Item) []*transfer.Item {
	var out []*transfer.Item
	for _, it := range items {
		if it.Method == transfer.MethodPut || it.Method == transfer.MethodHead {
			out = append(out, it)
		}
	}
	return out
}

// probe runs one HEAD per target through a pool with retries disabled and
// returns results in target order.
func (c *Checker) probe(ctx context.Context, targets []*transfer.Item) ([]Result, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	results := make([]Result, len(targets))
	probes := make([]*transfer.Item, 0, len(targets))
	index := make(map[*transfer.Item]int, len(targets))

	for i, it := range targets {
		results[i] = Result{URL: it.URL, RemoteSize: -1}
		size, err := c.localSize(it)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].LocalSize = size

		p := it.CheckVariant()
		p.CompletedAt = time.Time{}
		index[p] = i
		probes = append(probes, p)
	}

	pool, err := transfer.NewPool(transfer.MethodHead, transfer.PoolOptions{
		Limit:      c.opts.Limit,
		MaxRetries: 0,
		Client:     c.opts.Client,
		FS:         c.opts.FS,
		Progress:   c.opts.Progress,
		Logger:     c.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := pool.Add(probes...); err != nil {
		return nil, err
	}

	res, runErr := pool.Run(ctx)
	if res == nil {
		return nil, runErr
	}
	for p, i := range index {
		out, ok := res.Outcomes[p]
		if !ok {
			results[i].Err = context.Canceled
			continue
		}
		compare(&results[i], targets[i], out)
	}
	return results, runErr
}

// localSize returns the recorded size, falling back to the local file.
func (c *Checker) localSize(it *transfer.Item) (int64, error) {
	if it.Size != 0 {
		return it.Size, nil
	}
	fi, err := c.opts.FS.Stat(it.LocalPath)
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %w", transfer.ErrLocalIO, it.LocalPath, err)
	}
	it.Size = fi.Size()
	return it.Size, nil
}

func compare(r *Result, it *transfer.Item, out transfer.Outcome) {
	r.StatusCode = out.StatusCode
	if out.StatusCode != http.StatusOK {
		r.Err = out.Err
		return
	}

	r.RemoteSize = fphttp.ParseContentLength(out.Header["content-length"])
	r.Match = r.RemoteSize >= 0 && r.RemoteSize == r.LocalSize

	if it.Checksum == "" {
		return
	}
	remote := remoteChecksum(out.Header)
	if remote == "" {
		return
	}
	r.ChecksumChecked = true
	r.ChecksumMatch = strings.EqualFold(remote, it.Checksum)
	r.Match = r.Match && r.ChecksumMatch
}

func remoteChecksum(h map[string]string) string {
	if v := strings.TrimSpace(h[checksumHeader]); v != "" {
		return v
	}
	if etag := fphttp.CleanETag(h["etag"]); isHexDigest(etag) {
		return etag
	}
	return ""
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// report logs every mismatch with both sizes and a one-line summary.
func (c *Checker) report(op string, results []Result) {
	log := c.opts.Logger.With(slog.String("op", op))
	bad := 0
	for _, r := range results {
		if r.Match {
			continue
		}
		bad++
		log.Warn("Remote copy does not match",
			slog.String("url", r.URL),
			slog.Int64("local_size", r.LocalSize),
			slog.Int64("remote_size", r.RemoteSize),
			slog.Int("status", r.StatusCode),
			slog.Bool("checksum_mismatch", r.ChecksumChecked && !r.ChecksumMatch),
			slog.Any("error", r.Err))
	}
	log.Info("Verification finished",
		slog.Int("checked", len(results)),
		slog.Int("mismatched", bad))
}
