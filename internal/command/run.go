package command

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jjmerchante/perceval-publicinbox/internal/backend"
)

// fetchFlags are the options shared by every fetch subcommand.
type fetchFlags struct {
	fromDate     string
	toDate       string
	tag          string
	output       string
	noCheckpoint bool
}

func (f *fetchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.fromDate, "from-date", "", "fetch records after this date (overrides the stored checkpoint)")
	cmd.Flags().StringVar(&f.toDate, "to-date", "", "fetch records before this date")
	cmd.Flags().StringVar(&f.tag, "tag", "", "tag stamped into fetched items (defaults to the origin)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write items to this file instead of stdout")
	cmd.Flags().BoolVar(&f.noCheckpoint, "no-checkpoint", false, "neither load nor save a checkpoint")
}

// query builds the fetch window from the flags.
func (f *fetchFlags) query() (backend.Query, error) {
	var q backend.Query
	if f.fromDate != "" {
		t, err := parseDate(f.fromDate)
		if err != nil {
			return q, fmt.Errorf("bad --from-date: %w", err)
		}
		q.FromDate = t
	}
	if f.toDate != "" {
		t, err := parseDate(f.toDate)
		if err != nil {
			return q, fmt.Errorf("bad --to-date: %w", err)
		}
		q.ToDate = t
	}
	return q, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// runFetch is the host loop: resolve the checkpoint, drive the
// iterator, write one JSON item per line and persist the checkpoint
// for the next run.
func runFetch(cmd *cobra.Command, b backend.Backend, flags *fetchFlags) error {
	q, err := flags.query()
	if err != nil {
		return err
	}

	var store *backend.CheckpointStore
	if !flags.noCheckpoint {
		store, err = backend.NewCheckpointStore(cfg.DataDir)
		if err != nil {
			return err
		}
		// A --from-date flag wins over the stored checkpoint.
		if q.FromDate.IsZero() {
			cp, err := store.Load(b.Origin())
			if err != nil {
				return err
			}
			q.FromDate = cp.FromDate()
		}
	}

	out := cmd.OutOrStdout()
	if flags.output != "" {
		f, err := os.Create(flags.output)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		defer f.Close()
		out = f
	}

	it, err := b.Fetch(cmd.Context(), q)
	if err != nil {
		return err
	}
	defer it.Close()

	count, last, err := writeItems(out, it)
	if err != nil {
		return err
	}

	logger.Info("fetch finished",
		"backend", b.Name(),
		"origin", b.Origin(),
		"items", count,
		"skipped", it.Skipped(),
	)

	if store != nil && count > 0 {
		cp := backend.Checkpoint{Origin: b.Origin(), LastUpdated: last}
		if err := store.Save(cp); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}
	return nil
}

// writeItems drains the iterator into w as JSON lines, returning the
// item count and the last checkpoint value seen.
func writeItems(w io.Writer, it backend.Iterator) (int, float64, error) {
	enc := json.NewEncoder(w)
	count := 0
	last := 0.0
	for it.Next() {
		item := it.Item()
		if err := enc.Encode(item); err != nil {
			return count, last, fmt.Errorf("write item: %w", err)
		}
		count++
		if item.UpdatedOn > last {
			last = item.UpdatedOn
		}
	}
	return count, last, it.Err()
}
