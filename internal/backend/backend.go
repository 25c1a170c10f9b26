// Package backend defines the contract shared by all archive backends:
// the fetch query, the normalized item, the lazy iterator and the
// explicit backend registry.
package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Error kinds surfaced by backends. Callers match them with errors.Is.
var (
	// ErrNotFound means the repository reference does not resolve to a
	// readable archive. Fatal; no items are produced.
	ErrNotFound = errors.New("archive not found")

	// ErrMalformedRecord marks a message that could not be normalized.
	// Iterators skip such records and count them; the error itself only
	// reaches logs, never aborts a fetch.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrTransport marks a failure in the underlying transport (git
	// subprocess, IMAP or POP3 connection). Fatal; retry belongs to the
	// caller.
	ErrTransport = errors.New("transport failure")
)

// Query holds the per-fetch parameters. FromDate is the resume
// checkpoint: only records whose date is strictly after it are
// produced. A zero FromDate fetches from the beginning of the archive.
// A zero ToDate means no upper bound; otherwise records at or after
// ToDate are excluded.
type Query struct {
	FromDate time.Time
	ToDate   time.Time
}

// In reports whether a record dated t falls inside the query window.
func (q Query) In(t time.Time) bool {
	if !q.FromDate.IsZero() && !t.After(q.FromDate) {
		return false
	}
	if !q.ToDate.IsZero() && !t.Before(q.ToDate) {
		return false
	}
	return true
}

// Iterator is a lazy, finite sequence of items. Usage follows
// bufio.Scanner: call Next until it returns false, then check Err.
// Close releases any resource still held; it is safe to call after
// exhaustion or to abandon iteration early.
type Iterator interface {
	Next() bool
	Item() Item
	Err() error

	// Skipped returns the number of malformed records skipped so far.
	Skipped() int

	Close() error
}

// Backend fetches normalized items from one archive. A Backend is
// created per fetch session and is not safe for concurrent fetches
// against the same reference.
type Backend interface {
	// Name is the registry name of the backend, e.g. "publicinbox".
	Name() string

	// Origin identifies the archive the items come from. It is stamped
	// into every item and seeds their UUIDs.
	Origin() string

	// Fetch starts a fetch session. It fails fast with ErrNotFound or
	// ErrTransport; per-record problems are handled by the iterator.
	Fetch(ctx context.Context, q Query) (Iterator, error)
}

// Options is the bag of settings a factory may use to construct a
// backend. Each backend reads the fields that apply to it.
type Options struct {
	// URI is the canonical origin of the archive.
	URI string

	// GitPath points to a local public-inbox git repository.
	GitPath string

	// Remote mailbox settings.
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	Folder   string

	// Tag overrides the default item tag (the origin).
	Tag string

	Logger *slog.Logger
}
