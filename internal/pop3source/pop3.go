// Package pop3source fetches messages from a POP3 mailbox and yields
// them under the archive backend contract.
package pop3source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	pop3client "github.com/knadh/go-pop3"

	"github.com/jjmerchante/perceval-publicinbox/internal/backend"
	"github.com/jjmerchante/perceval-publicinbox/internal/message"
)

const (
	// Name is the registry name of this backend.
	Name = "pop3"

	backendName    = "POP3"
	backendVersion = "0.1.0"

	// CategoryMessage is the only category this backend produces.
	CategoryMessage = "message"
)

// POP3Source reads a POP3 mailbox as a mail archive. POP3 cannot
// filter server-side, so every message is retrieved and the query
// window applied client-side.
type POP3Source struct {
	host     string
	port     int
	username string
	password string
	useTLS   bool
	tag      string
	logger   *slog.Logger
}

// New creates a POP3 backend for one mailbox.
func New(host string, port int, username, password string, useTLS bool, tag string, logger *slog.Logger) (*POP3Source, error) {
	if host == "" {
		return nil, errors.New("pop3: host is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &POP3Source{
		host:     host,
		port:     port,
		username: username,
		password: password,
		useTLS:   useTLS,
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
	return New(opts.Host, opts.Port, opts.Username, opts.Password, opts.UseTLS, opts.Tag, opts.Logger)
}

func (s *POP3Source) Name() string { return Name }

// Origin identifies the mailbox, e.g. "pop3://user@mail.example.com".
func (s *POP3Source) Origin() string {
	if s.username == "" {
		return fmt.Sprintf("pop3://%s", s.host)
	}
	return fmt.Sprintf("pop3://%s@%s", s.username, s.host)
}

// Fetch retrieves the mailbox, normalizes each message and returns an
// iterator over the ones inside the query window, ordered by date. The
// connection is closed before the iterator is handed back.
func (s *POP3Source) Fetch(ctx context.Context, q backend.Query) (backend.Iterator, error) {
	client := pop3client.New(pop3client.Opt{
		Host:       s.host,
		Port:       s.port,
		TLSEnabled: s.useTLS,
	})

	conn, err := client.NewConn()
	if err != nil {
		return nil, fmt.Errorf("pop3 connect %s:%d: %v: %w", s.host, s.port, err, backend.ErrTransport)
	}
	defer conn.Quit()

	if err := conn.Auth(s.username, s.password); err != nil {
		return nil, fmt.Errorf("pop3 auth %s: %v: %w", s.username, err, backend.ErrTransport)
	}

	msgs, err := conn.List(0)
	if err != nil {
		return nil, fmt.Errorf("pop3 list: %v: %w", err, backend.ErrTransport)
	}

	s.logger.Info("fetched message list", "origin", s.Origin(), "count", len(msgs))

	var items []backend.Item
	skipped := 0
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rawBuf, err := conn.RetrRaw(m.ID)
		if err != nil {
			skipped++
			s.logger.Warn("pop3 retrieve failed", "msg_id", m.ID, "error", err)
			continue
		}

		msg, err := message.Parse(rawBuf.Bytes())
		if err != nil {
			skipped++
			s.logger.Warn("skipping message",
				"msg_id", m.ID,
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

	s.logger.Info("fetched pop3 mailbox", "origin", s.Origin(), "items", len(items), "skipped", skipped)
	return backend.NewSliceIterator(items, skipped), nil
}
