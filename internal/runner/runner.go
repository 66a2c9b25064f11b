package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	fphttp "github.com/ligustah/fetchpush/internal/http"
	"github.com/ligustah/fetchpush/internal/integrity"
	"github.com/ligustah/fetchpush/pkg/ledger"
	"github.com/ligustah/fetchpush/pkg/transfer"
)

var (
	// ErrTransferFailed is matched by the error returned when requests were
	// still failing after every retry round.
	ErrTransferFailed = errors.New("runner: requests still failing after retries")

	// ErrLedger wraps failures to record or write the ledger.
	ErrLedger = errors.New("runner: ledger not saved")
)

// FailedError lists the requests that never succeeded.
//
// Use errors.As to extract it and inspect Failures; errors.Is with
// ErrTransferFailed also matches.
type FailedError struct {
	Failures []transfer.Failure
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%d requests still failing after retries", len(e.Failures))
}

func (e *FailedError) Unwrap() error {
	return ErrTransferFailed
}

// Options configures a run.
type Options struct {
	// Limit is the round 0 concurrency of every pool.
	Limit int

	// MaxRetries is the number of retry rounds per pool.
	MaxRetries int

	// Cooldown is the delay before each retry round.
	Cooldown time.Duration

	// Client carries timeout, credentials and TLS policy for every request.
	Client *fphttp.Client

	// FS is used for local files.
	// Default: the OS filesystem
	FS afero.Fs

	// Checksum computes SHA-256 checksums of uploaded and downloaded files.
	Checksum bool

	// Resume skips items the ledger's latest run completed.
	Resume bool

	// Reverse swaps GET and PUT for every manifest item: downloads become
	// uploads of the same local path and back.
	Reverse bool

	// Verify probes completed uploads after the transfer.
	Verify bool

	// CheckFirst probes uploads before transferring and skips those already
	// present remotely.
	CheckFirst bool

	// CheckOnly probes uploads and transfers nothing. The ledger is not
	// written.
	CheckOnly bool

	// Dry lists what would be issued without any network activity. The
	// ledger is not written.
	Dry bool

	// Progress is an optional progress reporter.
	Progress transfer.Reporter

	// Logger receives run diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger

	// Now supplies the run start time and completion stamps.
	// Default: time.Now
	Now func() time.Time
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	StartedAt time.Time

	// Items is the number of items the run tracked.
	Items int

	// Skipped counts items not issued because they were already complete.
	Skipped int

	// Requests counts HTTP requests issued by transfer pools. HEAD probes
	// of verification and checkfirst are not included.
	Requests int

	// TotalBytes is the size of every item completed in this run.
	TotalBytes int64

	Username string

	Pools        []*transfer.Result
	Failures     []transfer.Failure
	Verification []integrity.Result
}

// Run transfers the manifest's items. Each method gets its own pool and
// pools run one after another in method order. Unless the run is dry or
// check-only, the ledger records a snapshot of every tracked item when Run
// returns, however it returns; a ledger error is joined with the run error.
func Run(ctx context.Context, m *transfer.Manifest, led *ledger.Ledger, opts Options) (sum *Summary, err error) {
	opts = withDefaults(opts)

	sum = &Summary{
		RunID:     uuid.NewString(),
		StartedAt: opts.Now(),
		Username:  opts.Client.Username(),
	}
	log := opts.Logger.With(slog.String("op", "run"), slog.String("run_id", sum.RunID))

	tracked := m.Items()
	if opts.Reverse {
		for i, it := range tracked {
			tracked[i] = it.ReverseVariant()
		}
	}
	if opts.Resume && led != nil {
		tracked = append(tracked, led.Recorded(tracked)...)
	}
	sum.Items = len(tracked)

	if led != nil && !opts.Dry && !opts.CheckOnly {
		defer func() {
			if rerr := led.Record(sum.StartedAt, tracked); rerr != nil {
				err = errors.Join(err, fmt.Errorf("%w: record: %w", ErrLedger, rerr))
				return
			}
			if ferr := led.Flush(context.WithoutCancel(ctx)); ferr != nil {
				err = errors.Join(err, fmt.Errorf("%w: flush: %w", ErrLedger, ferr))
			}
		}()
	}

	checker := integrity.New(integrity.Options{
		Limit:    opts.Limit,
		Client:   opts.Client,
		FS:       opts.FS,
		Progress: opts.Progress,
		Logger:   opts.Logger,
		Now:      opts.Now,
	})

	if opts.CheckOnly {
		if led != nil {
			led.Annotate(tracked)
		}
		results, err := checker.CheckOnly(ctx, tracked)
		sum.Verification = results
		if err != nil {
			return sum, err
		}
		return sum, integrity.Mismatched(results)
	}

	pending := tracked
	if opts.Resume && led != nil {
		pending = led.ResumeFilter(tracked)
		log.Info("Resuming from ledger",
			slog.Int("items", len(tracked)),
			slog.Int("pending", len(pending)))
	}

	if opts.Checksum {
		checksumUploads(pending, opts.FS, log)
	}

	if opts.CheckFirst && !opts.Dry {
		pending, err = checkFirst(ctx, checker, pending, tracked)
		if err != nil {
			return sum, fmt.Errorf("checkfirst: %w", err)
		}
	}
	sum.Skipped = len(tracked) - len(pending)

	if opts.Dry {
		for _, it := range pending {
			log.Info("Dry run", slog.String("method", it.Method.String()), slog.String("url", it.URL), slog.String("path", it.LocalPath))
		}
		return sum, nil
	}

	groups := transfer.GroupByMethod(pending)
	for _, method := range transfer.SortedMethods(groups) {
		pool, err := transfer.NewPool(method, transfer.PoolOptions{
			Limit:      opts.Limit,
			MaxRetries: opts.MaxRetries,
			Cooldown:   opts.Cooldown,
			Client:     opts.Client,
			FS:         opts.FS,
			Progress:   opts.Progress,
			Logger:     opts.Logger,
			Now:        opts.Now,
		})
		if err != nil {
			return sum, err
		}
		if err := pool.Add(groups[method]...); err != nil {
			return sum, err
		}

		log.Info("Starting pool",
			slog.String("method", pool.Method().String()),
			slog.Int("items", pool.Len()),
			slog.Int("limit", opts.Limit),
			slog.Duration("timeout", opts.Client.Timeout()))
		res, runErr := pool.Run(ctx)
		if res != nil {
			sum.collect(res)
			if opts.Checksum && method == transfer.MethodGet {
				checksumDownloads(res.Succeeded, opts.FS, log)
			}
		}
		if runErr != nil {
			log.Warn("Run interrupted", slog.String("method", method.String()), slog.Any("error", runErr))
			return sum, runErr
		}
	}

	if opts.Verify {
		results, verr := checker.Verify(ctx, tracked)
		sum.Verification = results
		if verr != nil {
			return sum, fmt.Errorf("verify: %w", verr)
		}
		err = integrity.Mismatched(results)
	}

	if len(sum.Failures) > 0 {
		err = errors.Join(&FailedError{Failures: sum.Failures}, err)
	}
	return sum, err
}

func withDefaults(opts Options) Options {
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
	return opts
}

func (s *Summary) collect(res *transfer.Result) {
	s.Pools = append(s.Pools, res)
	for _, n := range res.Attempts {
		s.Requests += n
	}
	for _, it := range res.Succeeded {
		s.TotalBytes += it.Size
	}
	s.Failures = append(s.Failures, res.Failed...)
}

// checkFirst replaces upload candidates in pending by what the probes say
// still needs uploading. HEAD items that come back as PUT variants also
// replace their original in tracked.
func checkFirst(ctx context.Context, checker *integrity.Checker, pending, tracked []*transfer.Item) ([]*transfer.Item, error) {
	uploads, _, err := checker.CheckFirst(ctx, pending)
	if err != nil {
		return nil, err
	}

	variants := make(map[string]*transfer.Item)
	for _, it := range uploads {
		variants[it.URL] = it
	}
	for i, it := range tracked {
		if v, ok := variants[it.URL]; ok && it.Method == transfer.MethodHead && v != it {
			tracked[i] = v
		}
	}

	var out []*transfer.Item
	for _, it := range pending {
		if it.Method != transfer.MethodPut && it.Method != transfer.MethodHead {
			out = append(out, it)
		}
	}
	return append(out, uploads...), nil
}

func checksumUploads(items []*transfer.Item, fsys afero.Fs, log *slog.Logger) {
	for _, it := range items {
		if it.Method != transfer.MethodPut || it.Checksum != "" {
			continue
		}
		if err := it.ComputeChecksum(fsys); err != nil {
			log.Warn("Cannot checksum local file", slog.String("url", it.URL), slog.Any("error", err))
		}
	}
}

func checksumDownloads(items []*transfer.Item, fsys afero.Fs, log *slog.Logger) {
	for _, it := range items {
		if err := it.ComputeChecksum(fsys); err != nil {
			log.Warn("Cannot checksum downloaded file", slog.String("url", it.URL), slog.Any("error", err))
		}
	}
}
