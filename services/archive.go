package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"loop-economy/store"

	log "github.com/sirupsen/logrus"
)

// Uploader stores an object; utils.UploadObject satisfies it.
type Uploader func(ctx context.Context, key string, body []byte, contentType string) error

// LedgerArchiver exports one UTC day of ledger entries as JSON Lines.
type LedgerArchiver struct {
	Store  store.Store
	Upload Uploader
	Now    func() time.Time
}

func ArchiveKey(day time.Time) string {
	return fmt.Sprintf("ledger/%s.jsonl", day.UTC().Format("2006-01-02"))
}

// ArchiveDay writes every entry created on day's UTC date and returns the
// number of entries written. Empty days still produce an (empty) object.
func (a *LedgerArchiver) ArchiveDay(ctx context.Context, day time.Time) (int, error) {
	y, m, d := day.UTC().Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	entries, err := a.Store.LedgerBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("load ledger for %s: %w", from.Format("2006-01-02"), err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return 0, fmt.Errorf("encode ledger entry %s: %w", entries[i].ID, err)
		}
	}

	key := ArchiveKey(from)
	if err := a.Upload(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{"key": key, "entries": len(entries)}).Info("🗄️ Ledger archived")
	return len(entries), nil
}

// ArchivePreviousDay archives yesterday (UTC).
func (a *LedgerArchiver) ArchivePreviousDay(ctx context.Context) (int, error) {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	return a.ArchiveDay(ctx, now().UTC().AddDate(0, 0, -1))
}
