package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ligustah/fetchpush/pkg/transfer"
)

// Record is the persisted snapshot of one item.
type Record struct {
	Method      transfer.Method
	FilePath    string
	FileSize    int64
	Checksum    string
	CompletedAt time.Time
}

// Entry maps URL to record for one run.
type Entry map[string]Record

// wireRecord is the on-disk form. Fields are declared in key order so the
// output is sorted like the rest of the document.
type wireRecord struct {
	Checksum  *string  `json:"checksum"`
	Completed *float64 `json:"completed_timestamp"`
	FilePath  string   `json:"filepath"`
	FileSize  int64    `json:"filesize"`
	Method    string   `json:"method"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		FilePath: r.FilePath,
		FileSize: r.FileSize,
		Method:   string(r.Method),
	}
	if r.Checksum != "" {
		w.Checksum = &r.Checksum
	}
	if !r.CompletedAt.IsZero() {
		f := toSeconds(r.CompletedAt)
		w.Completed = &f
	}
	return json.Marshal(w)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	method, err := transfer.ParseMethod(w.Method)
	if err != nil {
		return err
	}
	*r = Record{
		Method:   method,
		FilePath: w.FilePath,
		FileSize: w.FileSize,
	}
	if w.Checksum != nil {
		r.Checksum = *w.Checksum
	}
	if w.Completed != nil {
		r.CompletedAt = fromSeconds(*w.Completed)
	}
	return nil
}

// Completed reports whether the record carries a completion time.
func (r Record) Completed() bool {
	return !r.CompletedAt.IsZero()
}

// Item rebuilds a transfer item for url from the record. An unfinished PUT
// gets neither size nor checksum: both are read from the local file again
// before the upload.
func (r Record) Item(url string) *transfer.Item {
	it := transfer.NewItem(r.Method, url, r.FilePath)
	it.CompletedAt = r.CompletedAt
	if r.Method == transfer.MethodPut && !r.Completed() {
		return it
	}
	it.Size = r.FileSize
	it.Checksum = r.Checksum
	return it
}

// Snapshot records the current state of items, keyed by URL.
func Snapshot(items []*transfer.Item) Entry {
	e := make(Entry, len(items))
	for _, it := range items {
		e[it.URL] = Record{
			Method:      it.Method,
			FilePath:    it.LocalPath,
			FileSize:    it.Size,
			Checksum:    it.Checksum,
			CompletedAt: it.CompletedAt,
		}
	}
	return e
}

// Timestamps are unix seconds with a microsecond fraction.

func toSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromSeconds(f float64) time.Time {
	return time.UnixMicro(int64(math.Round(f * 1e6)))
}

func formatKey(t time.Time) string {
	return strconv.FormatFloat(toSeconds(t), 'f', -1, 64)
}

func parseKey(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("run key %q is not a timestamp", s)
	}
	return fromSeconds(f), nil
}
