package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
)

// Item is one unit of work: a method, a URL and the local file it reads from
// or writes to, plus the outcome fields filled in as the transfer proceeds.
type Item struct {
	Method    Method
	URL       string
	LocalPath string

	// Size is the local size in bytes. Zero until known.
	Size int64

	// Checksum is the hex SHA-256 of the local file, if computed.
	Checksum string

	// CompletedAt is set once the transfer succeeded. Zero means incomplete.
	CompletedAt time.Time

	// ResponseCode is the status of the last attempt. Zero until a response
	// is seen, and also zero after a transport failure.
	ResponseCode int
}

// NewItem returns an incomplete item.
func NewItem(method Method, url, localPath string) *Item {
	return &Item{Method: method, URL: url, LocalPath: localPath}
}

// Completed reports whether the item has a completion time.
func (it *Item) Completed() bool {
	return !it.CompletedAt.IsZero()
}

// MarkComplete records the completion time. Calling it on an item that is
// already complete keeps the first timestamp.
func (it *Item) MarkComplete(t time.Time) {
	if it.Completed() {
		return
	}
	it.CompletedAt = t
}

// Invalidate clears the completion time. Verification uses it when the remote
// copy turns out to differ, so the next run picks the item up again.
func (it *Item) Invalidate() {
	it.CompletedAt = time.Time{}
}

// ResolveLocalSize reads the size of the local file for PUT items whose size
// is still unknown. Other items are left alone.
func (it *Item) ResolveLocalSize(fsys afero.Fs) error {
	if it.Method != MethodPut || it.Size != 0 {
		return nil
	}
	fi, err := fsys.Stat(it.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", ErrLocalIO, it.LocalPath, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrLocalIO, it.LocalPath)
	}
	it.Size = fi.Size()
	return nil
}

// ComputeChecksum hashes the local file with SHA-256.
func (it *Item) ComputeChecksum(fsys afero.Fs) error {
	f, err := fsys.Open(it.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrLocalIO, it.LocalPath, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrLocalIO, it.LocalPath, err)
	}
	it.Checksum = hex.EncodeToString(h.Sum(nil))
	return nil
}

// CheckVariant returns a copy suitable as a verification probe: PUT becomes
// HEAD, any other method is kept.
func (it *Item) CheckVariant() *Item {
	c := *it
	if c.Method == MethodPut {
		c.Method = MethodHead
	}
	return &c
}

// PutVariant is the inverse of CheckVariant: HEAD becomes PUT.
func (it *Item) PutVariant() *Item {
	c := *it
	if c.Method == MethodHead {
		c.Method = MethodPut
	}
	return &c
}

// ReverseVariant swaps GET and PUT, turning a download into the matching
// upload and back.
func (it *Item) ReverseVariant() *Item {
	c := *it
	switch c.Method {
	case MethodGet:
		c.Method = MethodPut
	case MethodPut:
		c.Method = MethodGet
	}
	return &c
}
