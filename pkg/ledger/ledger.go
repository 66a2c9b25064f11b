package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/fetchpush/pkg/transfer"
)

// DefaultKey is the object name of the ledger inside its bucket.
const DefaultKey = "async.log.json"

// indent matches the layout of existing ledgers.
const indent = "   "

var (
	// ErrCorrupt is reported when the stored ledger cannot be parsed. The
	// history is treated as empty.
	ErrCorrupt = errors.New("ledger: corrupt history")

	// ErrNotMonotonic is returned by Record for a run key that is not newer
	// than every existing key.
	ErrNotMonotonic = errors.New("ledger: run key not newer than latest entry")
)

type run struct {
	ts    time.Time
	key   string
	entry Entry
}

// Ledger is the run history: run start time -> URL -> record. Only the most
// recent run drives resume. A process appends at most one run of its own.
type Ledger struct {
	bucket *blob.Bucket
	key    string
	logger *slog.Logger

	runs    []run
	own     int
	corrupt bool
}

// Load reads the ledger stored at key. A missing object yields an empty
// ledger. An unparseable one also yields an empty ledger, logs a warning and
// marks the ledger Corrupt; the damaged object is preserved next to the key on
// the first Flush.
func Load(ctx context.Context, bucket *blob.Bucket, key string, logger *slog.Logger) (*Ledger, error) {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{bucket: bucket, key: key, logger: logger, own: -1}

	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", key, err)
	}

	runs, err := decode(data)
	if err != nil {
		l.corrupt = true
		logger.Warn("Ledger is unreadable, starting with empty history",
			slog.String("op", "ledger"),
			slog.String("key", key),
			slog.Any("error", fmt.Errorf("%w: %w", ErrCorrupt, err)))
		return l, nil
	}
	l.runs = runs
	return l, nil
}

// New returns an empty ledger bound to key, ignoring anything stored there
// until Flush overwrites it.
func New(bucket *blob.Bucket, key string, logger *slog.Logger) *Ledger {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{bucket: bucket, key: key, logger: logger, own: -1}
}

// Key returns the object name the ledger is stored under.
func (l *Ledger) Key() string {
	return l.key
}

// Corrupt reports whether the stored ledger was unreadable at load time.
func (l *Ledger) Corrupt() bool {
	return l.corrupt
}

// Runs returns the start times of all recorded runs, oldest first.
func (l *Ledger) Runs() []time.Time {
	out := make([]time.Time, len(l.runs))
	for i, r := range l.runs {
		out[i] = r.ts
	}
	return out
}

// Entry returns the records of the run started at ts.
func (l *Ledger) Entry(ts time.Time) (Entry, bool) {
	for _, r := range l.runs {
		if r.ts.Equal(ts) {
			return r.entry, true
		}
	}
	return nil, false
}

// Latest returns the most recent run's records, or an empty entry.
func (l *Ledger) Latest() Entry {
	if len(l.runs) == 0 {
		return Entry{}
	}
	return l.runs[len(l.runs)-1].entry
}

// ResumeFilter returns the items that still need transferring according to
// the latest run. An item is dropped when the latest run recorded the same
// URL and method as completed; the dropped item takes over the recorded
// completion time so the next snapshot keeps it complete.
func (l *Ledger) ResumeFilter(items []*transfer.Item) []*transfer.Item {
	latest := l.Latest()
	var pending []*transfer.Item
	for _, it := range items {
		rec, ok := latest[it.URL]
		if ok && rec.Method == it.Method && rec.Completed() {
			it.CompletedAt = rec.CompletedAt
			if it.Size == 0 {
				it.Size = rec.FileSize
			}
			if it.Checksum == "" {
				it.Checksum = rec.Checksum
			}
			continue
		}
		pending = append(pending, it)
	}
	return pending
}

// Annotate copies recorded sizes and checksums from the latest run into items
// that do not know them yet. Checks use it to avoid re-reading local files.
func (l *Ledger) Annotate(items []*transfer.Item) {
	latest := l.Latest()
	for _, it := range items {
		rec, ok := latest[it.URL]
		if !ok {
			continue
		}
		if it.Size == 0 {
			it.Size = rec.FileSize
		}
		if it.Checksum == "" {
			it.Checksum = rec.Checksum
		}
	}
}

// Recorded returns items rebuilt from the latest run whose URLs are not in
// known. Resume uses it to pick up work the manifest no longer lists.
func (l *Ledger) Recorded(known []*transfer.Item) []*transfer.Item {
	seen := make(map[string]bool, len(known))
	for _, it := range known {
		seen[it.URL] = true
	}
	latest := l.Latest()
	urls := make([]string, 0, len(latest))
	for u := range latest {
		if !seen[u] {
			urls = append(urls, u)
		}
	}
	sort.Strings(urls)

	out := make([]*transfer.Item, len(urls))
	for i, u := range urls {
		out[i] = latest[u].Item(u)
	}
	return out
}

// Record stores a snapshot of items as the run started at ts. Recording the
// same ts again replaces that run; any other ts must be newer than every
// existing run.
func (l *Ledger) Record(ts time.Time, items []*transfer.Item) error {
	ts = time.UnixMicro(ts.UnixMicro())
	entry := Snapshot(items)

	if l.own >= 0 && l.runs[l.own].ts.Equal(ts) {
		l.runs[l.own].entry = entry
		return nil
	}
	if n := len(l.runs); n > 0 && !ts.After(l.runs[n-1].ts) {
		return fmt.Errorf("%w: %s <= %s", ErrNotMonotonic, formatKey(ts), l.runs[n-1].key)
	}
	l.runs = append(l.runs, run{ts: ts, key: formatKey(ts), entry: entry})
	l.own = len(l.runs) - 1
	return nil
}

// Flush writes the whole history. fileblob writes through a temporary file
// and renames it into place.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.corrupt {
		backup := l.key + ".corrupt"
		if err := l.bucket.Copy(ctx, backup, l.key, nil); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("preserve corrupt ledger: %w", err)
		}
		l.logger.Warn("Preserved corrupt ledger", slog.String("op", "ledger"), slog.String("key", backup))
		l.corrupt = false
	}

	data, err := encode(l.runs)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := l.bucket.WriteAll(ctx, l.key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("write ledger %s: %w", l.key, err)
	}
	l.logger.Debug("Ledger flushed",
		slog.String("op", "ledger"),
		slog.String("key", l.key),
		slog.Int("runs", len(l.runs)))
	return nil
}

func decode(data []byte) ([]run, error) {
	var raw map[string]Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	runs := make([]run, 0, len(raw))
	for key, entry := range raw {
		ts, err := parseKey(key)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			entry = Entry{}
		}
		runs = append(runs, run{ts: ts, key: key, entry: entry})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].ts.Before(runs[j].ts) })
	return runs, nil
}

// encode writes runs in numeric key order. encoding/json would sort the keys
// as strings.
func encode(runs []run) ([]byte, error) {
	if len(runs) == 0 {
		return []byte("{}\n"), nil
	}
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, r := range runs {
		body, err := json.MarshalIndent(r.entry, indent, indent)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", r.key, err)
		}
		buf.WriteString(indent)
		buf.WriteString(strconv.Quote(r.key))
		buf.WriteString(": ")
		buf.Write(body)
		if i < len(runs)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}
