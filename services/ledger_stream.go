package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"loop-economy/store"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// LedgerStream pushes a user's new ledger entries over SSE. Entry IDs are
// ULIDs, so the cursor is simply the last ID sent.
type LedgerStream struct {
	Store    store.Store
	Interval time.Duration
	Batch    int
}

func NewLedgerStream(st store.Store) *LedgerStream {
	return &LedgerStream{Store: st, Interval: 2 * time.Second, Batch: 100}
}

// latestCursor returns the newest entry ID so a fresh stream only sends
// entries written after it connected.
func (s *LedgerStream) latestCursor(ctx context.Context, userID string) string {
	latest, err := s.Store.ListLedger(ctx, userID, "", 1)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("[SSE] cursor init failed")
		return ""
	}
	if len(latest) == 0 {
		return ""
	}
	return latest[0].ID
}

// Handle serves GET /user/ledger/stream. It expects "user_id" in Locals,
// set by the SSE auth middleware. A Last-Event-ID header resumes from that
// entry.
func (s *LedgerStream) Handle(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing user")
	}
	resume := c.Get("Last-Event-ID")

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	reqCtx := c.Context()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cursor := resume
		if cursor == "" {
			cursor = s.latestCursor(ctx, userID)
		}

		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		_, _ = w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				entries, err := s.Store.LedgerAfter(ctx, userID, cursor, s.Batch)
				if err != nil {
					log.WithError(err).WithField("user_id", userID).Warn("[SSE] ledger poll failed")
					continue
				}
				if len(entries) == 0 {
					// heartbeat doubles as the disconnect probe
					_, _ = w.WriteString(":\n\n")
				}
				for _, entry := range entries {
					payload, err := json.Marshal(entry)
					if err != nil {
						continue
					}
					fmt.Fprintf(w, "id: %s\nevent: ledger\ndata: %s\n\n", entry.ID, payload)
					cursor = entry.ID
				}
				if err := w.Flush(); err != nil {
					log.WithField("user_id", userID).Debug("[SSE] client disconnected")
					return
				}
			case <-reqCtx.Done():
				return
			}
		}
	})
	return nil
}
