// Package imapsource fetches messages from a remote IMAP folder and
// yields them under the archive backend contract.
package imapsource

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/jjmerchante/perceval-publicinbox/internal/backend"
	"github.com/jjmerchante/perceval-publicinbox/internal/message"
)

const (
	// Name is the registry name of this backend.
	Name = "imap"

	backendName    = "IMAP"
	backendVersion = "0.1.0"

	// CategoryMessage is the only category this backend produces.
	CategoryMessage = "message"
)

// IMAPSource reads one IMAP folder as a mail archive.
type IMAPSource struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	folder   string
	tag      string
	logger   *slog.Logger
}

// New creates an IMAP backend for one folder. folder defaults to INBOX.
func New(host string, port int, username, password string, useTLS bool, folder, tag string, logger *slog.Logger) (*IMAPSource, error) {
	if host == "" {
		return nil, errors.New("imap: host is required")
	}
	if folder == "" {
		folder = "INBOX"
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &IMAPSource{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
		folder:   folder,
		tag:      tag,
		logger:   logger,
	}
	if s.tag == "" {
		s.tag = s.Origin()
	}
	return s, nil
}

// Factory adapts New to the registry contract.
func Factory(opts backend.Options) (backend.Backend, error) {
	return New(opts.Host, opts.Port, opts.Username, opts.Password, opts.UseTLS, opts.Folder, opts.Tag, opts.Logger)
}

func (s *IMAPSource) Name() string { return Name }

// Origin identifies the folder, e.g. "imap://mail.example.com/INBOX".
func (s *IMAPSource) Origin() string {
	return fmt.Sprintf("imap://%s/%s", s.host, s.folder)
}

// Fetch connects, collects the messages in the query window, then
// closes the connection before handing the iterator back. The IMAP
// session never outlives the Fetch call, so abandoning the iterator
// leaks nothing.
func (s *IMAPSource) Fetch(ctx context.Context, q backend.Query) (backend.Iterator, error) {
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))

	var client *imapclient.Client
	var err error

	if s.useTLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: s.host},
		})
	} else {
		client, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %v: %w", addr, err, backend.ErrTransport)
	}
	defer client.Close()

	if err := client.Login(s.username, s.password).Wait(); err != nil {
		return nil, fmt.Errorf("imap login %s: %v: %w", s.username, err, backend.ErrTransport)
	}
	defer client.Logout()

	if _, err := client.Select(s.folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("imap folder %s: %v: %w", s.folder, err, backend.ErrNotFound)
	}

	criteria := &imap.SearchCriteria{}
	if !q.FromDate.IsZero() {
		// Server-side pre-filter; IMAP SINCE has day granularity, the
		// exact window is enforced per message below.
		criteria.Since = q.FromDate
	}
	searchData, err := client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %v: %w", err, backend.ErrTransport)
	}

	seqNums := searchData.AllSeqNums()
	if len(seqNums) == 0 {
		s.logger.Info("no messages found", "origin", s.Origin())
		return backend.NewSliceIterator(nil, 0), nil
	}

	seqSet := imap.SeqSetNum(seqNums...)
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOptions := &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	buffers, err := client.Fetch(seqSet, fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %v: %w", err, backend.ErrTransport)
	}

	var items []backend.Item
	skipped := 0
	for _, buf := range buffers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw := buf.FindBodySection(bodySection)
		if len(raw) == 0 {
			skipped++
			s.logger.Warn("skipping message with empty body", "seq", buf.SeqNum)
			continue
		}

		msg, err := message.Parse(raw)
		if err != nil {
			skipped++
			s.logger.Warn("skipping message",
				"seq", buf.SeqNum,
				"error", fmt.Errorf("%w: %v", backend.ErrMalformedRecord, err),
			)
			continue
		}

		if !q.In(msg.Date) {
			continue
		}

		items = append(items, backend.NewItem(
			backendName, backendVersion,
			s.Origin(), s.tag, CategoryMessage,
			msg.ID, msg.Date, msg.Fields,
		))
	}

	s.logger.Info("fetched imap folder", "origin", s.Origin(), "items", len(items), "skipped", skipped)
	return backend.NewSliceIterator(items, skipped), nil
}
