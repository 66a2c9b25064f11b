package transfer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	fphttp "github.com/ligustah/fetchpush/internal/http"
)

// DefaultCooldown is the fixed delay before every retry round.
const DefaultCooldown = 10 * time.Second

// Reporter receives progress events from a pool. Implementations must be safe
// for concurrent use.
type Reporter interface {
	RequestStarted()
	RequestCompleted(bytes int64)
	RequestFailed()
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Limit is the concurrency of round 0. Must be at least 1.
	Limit int

	// MaxRetries is the number of retry rounds after round 0.
	MaxRetries int

	// Cooldown is the delay before each retry round.
	// Default: DefaultCooldown
	Cooldown time.Duration

	// Client issues the requests and carries timeout and credentials.
	Client *fphttp.Client

	// FS is used for local files.
	// Default: the OS filesystem
	FS afero.Fs

	// Progress is an optional progress reporter.
	Progress Reporter

	// Logger receives per-item diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger

	// Now stamps completed items.
	// Default: time.Now
	Now func() time.Time
}

// RoundStats describes one round of a pool run.
type RoundStats struct {
	Round       int
	PoolSize    int
	Attempted   int
	Failed      int
	MaxInFlight int
}

// Failure is an item that was still failing when the pool stopped.
type Failure struct {
	Item    *Item
	Outcome Outcome
}

// Result is the outcome of a pool run.
type Result struct {
	Method    Method
	Succeeded []*Item
	Failed    []Failure
	Rounds    []RoundStats

	// Attempts counts requests issued per URL.
	Attempts map[string]int

	// Outcomes holds the last outcome of every item that was issued.
	Outcomes map[*Item]Outcome
}

// Pool runs a batch of items sharing one method through the retry state
// machine: full concurrency first, then half after a cooldown, then serial.
type Pool struct {
	method Method
	opts   PoolOptions
	execs  []*Executor
	ran    bool
}

// NewPool creates a pool for method.
func NewPool(method Method, opts PoolOptions) (*Pool, error) {
	if opts.Limit < 1 {
		return nil, ErrInvalidLimit
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
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
	return &Pool{method: method, opts: opts}, nil
}

// Method returns the pool's method.
func (p *Pool) Method() Method {
	return p.method
}

// Len returns the number of items in the pool.
func (p *Pool) Len() int {
	return len(p.execs)
}

// Items returns the pool's items in insertion order.
func (p *Pool) Items() []*Item {
	items := make([]*Item, len(p.execs))
	for i, e := range p.execs {
		items[i] = e.Item()
	}
	return items
}

// Add appends items. Every item must have the pool's method.
func (p *Pool) Add(items ...*Item) error {
	for _, it := range items {
		if it.Method != p.method {
			return ErrMethodMismatch
		}
	}
	for _, it := range items {
		p.execs = append(p.execs, NewExecutor(it, p.opts.Client, p.opts.FS))
	}
	return nil
}

// PoolSize returns the concurrency used in the given round for limit.
// Rounds two and later are all serial.
func PoolSize(round, limit int) int {
	switch round {
	case 0:
		return limit
	case 1:
		return max(1, limit/2)
	default:
		return 1
	}
}

// Run executes the retry state machine. It returns when every item succeeded,
// when MaxRetries retry rounds have been spent, or when ctx is done; in the
// last case the partial result is returned with ctx.Err().
func (p *Pool) Run(ctx context.Context) (*Result, error) {
	if p.ran {
		return nil, ErrPoolConsumed
	}
	p.ran = true

	log := p.opts.Logger.With(slog.String("op", "pool"), slog.String("method", string(p.method)))
	res := &Result{
		Method:   p.method,
		Attempts: make(map[string]int, len(p.execs)),
		Outcomes: make(map[*Item]Outcome, len(p.execs)),
	}

	pending := p.execs
	var lastOutcome map[*Executor]Outcome

	for round := 0; len(pending) > 0 && round <= p.opts.MaxRetries; round++ {
		if round > 0 {
			log.Info("Retrying failed requests",
				slog.Int("round", round),
				slog.Int("max_retries", p.opts.MaxRetries),
				slog.Int("pending", len(pending)),
				slog.Duration("cooldown", p.opts.Cooldown))
			if err := sleep(ctx, p.opts.Cooldown); err != nil {
				p.finish(res, pending, lastOutcome)
				return res, err
			}
			for _, e := range pending {
				e.Reissue()
			}
		}

		stats, outcomes := p.runRound(ctx, round, pending)
		lastOutcome = outcomes

		var failed []*Executor
		for _, e := range pending {
			out := outcomes[e]
			if out.Success {
				e.Item().MarkComplete(p.opts.Now())
				res.Succeeded = append(res.Succeeded, e.Item())
				continue
			}
			log.Warn("Request failed",
				slog.String("url", e.Item().URL),
				slog.Int("round", round),
				slog.Int("status", out.StatusCode),
				slog.Any("error", out.Err))
			failed = append(failed, e)
		}
		stats.Failed = len(failed)
		res.Rounds = append(res.Rounds, stats)
		pending = failed

		if ctx.Err() != nil && len(pending) > 0 {
			p.finish(res, pending, lastOutcome)
			return res, ctx.Err()
		}
	}

	p.finish(res, pending, lastOutcome)
	if len(res.Failed) > 0 {
		log.Warn("Requests still failing after retries", slog.Int("failed", len(res.Failed)))
	}
	return res, nil
}

// runRound dispatches every pending executor into a worker group bounded by
// the round's pool size and waits for all of them.
func (p *Pool) runRound(ctx context.Context, round int, pending []*Executor) (RoundStats, map[*Executor]Outcome) {
	size := PoolSize(round, p.opts.Limit)
	stats := RoundStats{Round: round, PoolSize: size, Attempted: len(pending)}

	var (
		mu          sync.Mutex
		outcomes    = make(map[*Executor]Outcome, len(pending))
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
	)

	var g errgroup.Group
	g.SetLimit(size)
	for _, e := range pending {
		g.Go(func() error {
			n := inFlight.Add(1)
			for {
				cur := maxInFlight.Load()
				if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
					break
				}
			}
			if p.opts.Progress != nil {
				p.opts.Progress.RequestStarted()
			}

			out := e.Issue(ctx)
			inFlight.Add(-1)

			if p.opts.Progress != nil {
				if out.Success {
					p.opts.Progress.RequestCompleted(e.Item().Size)
				} else {
					p.opts.Progress.RequestFailed()
				}
			}

			mu.Lock()
			outcomes[e] = out
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	stats.MaxInFlight = int(maxInFlight.Load())
	return stats, outcomes
}

func (p *Pool) finish(res *Result, pending []*Executor, last map[*Executor]Outcome) {
	for _, e := range p.execs {
		res.Attempts[e.Item().URL] += e.Attempts()
		if last := e.Last(); last != nil {
			res.Outcomes[e.Item()] = *last
		}
	}
	for _, e := range pending {
		out, ok := last[e]
		if !ok {
			out = Outcome{Err: context.Canceled}
		}
		res.Failed = append(res.Failed, Failure{Item: e.Item(), Outcome: out})
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
