package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	fphttp "github.com/ligustah/fetchpush/internal/http"
)

// Outcome is the result of one attempt.
type Outcome struct {
	Success bool

	// StatusCode is the HTTP status, or 0 when no response was received or
	// the request was never sent.
	StatusCode int

	// Header holds response headers with lowercased names.
	Header map[string]string

	// Err describes a failure. It wraps ErrLocalIO, ErrTransport or
	// ErrHTTPStatus.
	Err error
}

// successful reports whether code counts as a completed transfer.
func successful(code int) bool {
	return code == http.StatusOK || code == http.StatusCreated
}

// Executor performs the HTTP call for a single item.
type Executor struct {
	item   *Item
	client *fphttp.Client
	fs     afero.Fs

	attempts int
	last     *Outcome
}

// NewExecutor returns an executor for item. The client carries the shared
// timeout and credentials.
func NewExecutor(item *Item, client *fphttp.Client, fsys afero.Fs) *Executor {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Executor{item: item, client: client, fs: fsys}
}

// Item returns the item this executor works on.
func (e *Executor) Item() *Item {
	return e.item
}

// Attempts returns how many times Issue has been called.
func (e *Executor) Attempts() int {
	return e.attempts
}

// Last returns the outcome of the most recent attempt, or nil.
func (e *Executor) Last() *Outcome {
	return e.last
}

// Reissue prepares the executor for another attempt. The previous outcome is
// dropped; a PUT body is reopened from disk by the next Issue.
func (e *Executor) Reissue() {
	e.last = nil
}

// Issue performs exactly one request and always returns an Outcome.
func (e *Executor) Issue(ctx context.Context) Outcome {
	e.attempts++

	var out Outcome
	switch e.item.Method {
	case MethodPut:
		out = e.put(ctx)
	case MethodGet:
		out = e.get(ctx)
	case MethodHead:
		out = e.bodiless(ctx, MethodHead)
	case MethodDelete:
		out = e.bodiless(ctx, MethodDelete)
	default:
		out = e.bodiless(ctx, e.item.Method)
	}

	e.item.ResponseCode = out.StatusCode
	e.last = &out
	return out
}

func (e *Executor) put(ctx context.Context) Outcome {
	if err := e.item.ResolveLocalSize(e.fs); err != nil {
		return Outcome{Err: err}
	}

	f, err := e.fs.Open(e.item.LocalPath)
	if err != nil {
		return Outcome{Err: fmt.Errorf("%w: open %s: %w", ErrLocalIO, e.item.LocalPath, err)}
	}
	defer f.Close()

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectReader(f); err == nil {
		contentType = mt.String()
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Outcome{Err: fmt.Errorf("%w: seek %s: %w", ErrLocalIO, e.item.LocalPath, err)}
	}

	resp, err := e.client.Do(ctx, fphttp.Request{
		Method:        string(MethodPut),
		URL:           e.item.URL,
		Body:          f,
		ContentLength: e.item.Size,
		ContentType:   contentType,
	})
	if err != nil {
		return transportFailure(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return fromResponse(resp)
}

func (e *Executor) get(ctx context.Context) Outcome {
	resp, err := e.client.Do(ctx, fphttp.Request{Method: string(MethodGet), URL: e.item.URL})
	if err != nil {
		return transportFailure(err)
	}
	defer resp.Body.Close()

	out := fromResponse(resp)
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return out
	}

	n, err := e.writeLocal(resp.Body)
	if err != nil {
		out.Success = false
		out.Err = err
		return out
	}
	e.item.Size = n
	return out
}

// writeLocal streams r into the item's local path, creating parent
// directories. A partial file is removed on failure.
func (e *Executor) writeLocal(r io.Reader) (int64, error) {
	path := e.item.LocalPath
	if dir := filepath.Dir(path); dir != "" {
		if err := e.fs.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("%w: create directory %s: %w", ErrLocalIO, dir, err)
		}
	}

	f, err := e.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", ErrLocalIO, path, err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		e.fs.Remove(path)
		return 0, fmt.Errorf("%w: write %s: %w", ErrLocalIO, path, err)
	}
	return n, nil
}

func (e *Executor) bodiless(ctx context.Context, m Method) Outcome {
	resp, err := e.client.Do(ctx, fphttp.Request{Method: string(m), URL: e.item.URL})
	if err != nil {
		return transportFailure(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return fromResponse(resp)
}

func fromResponse(resp *http.Response) Outcome {
	header := fphttp.FlattenHeader(resp.Header)
	if resp.ContentLength >= 0 {
		header["content-length"] = strconv.FormatInt(resp.ContentLength, 10)
	}

	out := Outcome{
		Success:    successful(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Header:     header,
	}
	if !out.Success {
		cause := fphttp.CheckStatusCode(resp.StatusCode)
		if cause == nil {
			cause = errors.New(resp.Status)
		}
		out.Err = fmt.Errorf("%w: %w", ErrHTTPStatus, cause)
	}
	return out
}

func transportFailure(err error) Outcome {
	return Outcome{Err: fmt.Errorf("%w: %w", ErrTransport, err)}
}
