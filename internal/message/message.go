// Package message normalizes raw RFC 5322 messages into the payload
// carried by archive items.
package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Message is a normalized mail message. Fields holds every header by
// its original name plus a "body" entry with the decoded text parts, so
// the payload round-trips to JSON the way downstream consumers expect.
type Message struct {
	ID     string
	Date   time.Time
	Fields map[string]any
}

// Parse normalizes raw message bytes. Messages without a Message-ID or
// a parsable Date header are rejected: both are required, one for item
// identity and one for checkpoint ordering.
func Parse(raw []byte) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	msgID := strings.TrimSpace(mr.Header.Get("Message-ID"))
	if msgID == "" {
		return nil, errors.New("message has no Message-ID header")
	}

	date, err := mr.Header.Date()
	if err != nil || date.IsZero() {
		return nil, fmt.Errorf("message %s has no parsable Date header", msgID)
	}

	fields := make(map[string]any)
	hf := mr.Header.Fields()
	for hf.Next() {
		key := hf.Key()
		if _, dup := fields[key]; dup {
			continue
		}
		text, err := hf.Text()
		if err != nil {
			// Keep the raw value when decoding fails (unknown charset
			// in an encoded word, for instance).
			text = hf.Value()
		}
		fields[key] = text
	}

	body, attachments := readParts(mr)
	fields["body"] = body
	if len(attachments) > 0 {
		fields["attachments"] = attachments
	}

	return &Message{ID: msgID, Date: date, Fields: fields}, nil
}

// readParts collects the text parts of the message. Attachments are
// recorded by file name only; their content never enters the payload.
func readParts(mr *mail.Reader) (map[string]string, []string) {
	body := make(map[string]string)
	var attachments []string

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A broken part does not invalidate what was read so far.
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ctype, _, err := h.ContentType()
			if err != nil {
				ctype = "text/plain"
			}
			content, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch ctype {
			case "text/html":
				body["html"] += string(content)
			default:
				body["plain"] += string(content)
			}
		case *mail.AttachmentHeader:
			if name, err := h.Filename(); err == nil && name != "" {
				attachments = append(attachments, name)
			}
		}
	}

	return body, attachments
}
