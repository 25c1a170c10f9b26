package backend

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Item is one normalized archive record plus its collection metadata.
// The field layout matches what downstream enrichment expects: metadata
// at the top level, the raw normalized payload under Data.
type Item struct {
	BackendName    string            `json:"backend_name"`
	BackendVersion string            `json:"backend_version"`
	Origin         string            `json:"origin"`
	UUID           string            `json:"uuid"`
	UpdatedOn      float64           `json:"updated_on"`
	Timestamp      float64           `json:"timestamp"`
	Category       string            `json:"category"`
	Tag            string            `json:"tag"`
	SearchFields   map[string]string `json:"search_fields"`
	Data           map[string]any    `json:"data"`
}

// UUID builds the stable identifier of an item: the hex SHA-1 of its
// arguments joined with ":". Items keep the same UUID across fetches so
// downstream storage can deduplicate.
func UUID(args ...string) string {
	sum := sha1.Sum([]byte(strings.Join(args, ":")))
	return hex.EncodeToString(sum[:])
}

// NewItem assembles an Item from a normalized payload. itemID must be
// unique within the origin (for mail archives, the Message-ID).
// updatedOn is the chronological field used for checkpoints. An empty
// tag defaults to the origin.
func NewItem(name, version, origin, tag, category, itemID string, updatedOn time.Time, data map[string]any) Item {
	if tag == "" {
		tag = origin
	}
	return Item{
		BackendName:    name,
		BackendVersion: version,
		Origin:         origin,
		UUID:           UUID(origin, itemID),
		UpdatedOn:      float64(updatedOn.Unix()),
		Timestamp:      float64(time.Now().UnixNano()) / 1e9,
		Category:       category,
		Tag:            tag,
		SearchFields:   map[string]string{"item_id": itemID},
		Data:           data,
	}
}

// SliceIterator serves pre-collected items. Backends that must close
// their connection before handing control back (IMAP, POP3) collect
// first and iterate from memory.
type SliceIterator struct {
	items   []Item
	pos     int
	skipped int
}

// NewSliceIterator returns an iterator over items, sorted by UpdatedOn.
// skipped is the number of malformed records dropped while collecting.
func NewSliceIterator(items []Item, skipped int) *SliceIterator {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].UpdatedOn < items[j].UpdatedOn
	})
	return &SliceIterator{items: items, pos: -1, skipped: skipped}
}

func (it *SliceIterator) Next() bool {
	if it.pos+1 >= len(it.items) {
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Item() Item { return it.items[it.pos] }

func (it *SliceIterator) Err() error { return nil }

func (it *SliceIterator) Skipped() int { return it.skipped }

func (it *SliceIterator) Close() error { return nil }
