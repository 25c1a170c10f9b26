// Package publicinbox fetches messages from public-inbox git archives.
// Each commit in the archive adds (or removes) one message stored in a
// file named "m"; walking the commits oldest-first replays the list
// traffic in arrival order.
package publicinbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jjmerchante/perceval-publicinbox/internal/backend"
	"github.com/jjmerchante/perceval-publicinbox/internal/message"
)

const (
	// Name is the registry name of this backend.
	Name = "publicinbox"

	backendName    = "PublicInbox"
	backendVersion = "0.1.0"

	// CategoryMessage is the only category this backend produces.
	CategoryMessage = "message"

	// messagePath is the tree entry holding the message in each commit.
	messagePath = "m"
)

// PublicInbox is the archive fetcher for public-inbox repositories.
// One instance serves one fetch session against one archive.
type PublicInbox struct {
	uri    string
	tag    string
	repo   *Repository
	logger *slog.Logger
}

// New opens the public-inbox archive cloned at gitpath. uri is the
// canonical origin of the archive (stamped into items); tag defaults to
// uri when empty.
func New(uri, gitpath, tag string, logger *slog.Logger) (*PublicInbox, error) {
	if uri == "" {
		return nil, errors.New("publicinbox: uri is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	repo, err := NewRepository(uri, gitpath, logger)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		tag = uri
	}
	return &PublicInbox{uri: uri, tag: tag, repo: repo, logger: logger}, nil
}

// Factory adapts New to the registry contract.
func Factory(opts backend.Options) (backend.Backend, error) {
	return New(opts.URI, opts.GitPath, opts.Tag, opts.Logger)
}

func (b *PublicInbox) Name() string { return Name }

func (b *PublicInbox) Origin() string { return b.uri }

// Tag returns the items' tag (the uri unless overridden).
func (b *PublicInbox) Tag() string { return b.tag }

// Fetch lists the archive's commits and returns a lazy iterator over
// the messages they carry, filtered by the query window. Messages that
// cannot be normalized are skipped and counted, never fatal.
func (b *PublicInbox) Fetch(ctx context.Context, q backend.Query) (backend.Iterator, error) {
	hashes, err := b.repo.CommitHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", b.uri, err)
	}

	b.logger.Info("fetching public-inbox archive",
		"origin", b.uri,
		"commits", len(hashes),
		"from", q.FromDate,
	)

	return &iterator{ctx: ctx, b: b, q: q, hashes: hashes}, nil
}

// iterator walks commit hashes one at a time, reading and normalizing
// each message blob on demand. Abandoning it is safe: no handle stays
// open between Next calls.
type iterator struct {
	ctx    context.Context
	b      *PublicInbox
	q      backend.Query
	hashes []string

	pos     int
	cur     backend.Item
	err     error
	skipped int
	done    bool
}

func (it *iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	for ; it.pos < len(it.hashes); it.pos++ {
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return false
		}

		hash := it.hashes[it.pos]
		item, ok, err := it.read(hash)
		if err != nil {
			it.err = err
			return false
		}
		if !ok {
			continue
		}

		it.cur = item
		it.pos++
		return true
	}

	it.done = true
	return false
}

// read loads the message of one commit. ok is false when the commit
// holds no message in the query window.
func (it *iterator) read(hash string) (backend.Item, bool, error) {
	blob, err := it.b.repo.LsTree(it.ctx, hash, messagePath)
	if err != nil {
		return backend.Item{}, false, err
	}
	if blob == "" {
		// Deletion or bookkeeping commit, nothing to emit.
		it.b.logger.Debug("commit without message entry", "commit", hash)
		return backend.Item{}, false, nil
	}

	raw, err := it.b.repo.CatFile(it.ctx, blob)
	if err != nil {
		return backend.Item{}, false, err
	}

	msg, err := message.Parse(raw)
	if err != nil {
		it.skipped++
		it.b.logger.Warn("skipping message",
			"commit", hash,
			"error", fmt.Errorf("%w: %v", backend.ErrMalformedRecord, err),
		)
		return backend.Item{}, false, nil
	}

	if !it.q.In(msg.Date) {
		return backend.Item{}, false, nil
	}

	item := backend.NewItem(
		backendName, backendVersion,
		it.b.uri, it.b.tag, CategoryMessage,
		msg.ID, msg.Date, msg.Fields,
	)
	return item, true, nil
}

func (it *iterator) Item() backend.Item { return it.cur }

func (it *iterator) Err() error { return it.err }

func (it *iterator) Skipped() int { return it.skipped }

func (it *iterator) Close() error {
	it.done = true
	return nil
}
