package workers

import (
	"context"
	"time"

	"loop-economy/metrics"
	"loop-economy/models"
	"loop-economy/notify"
	"loop-economy/store"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// OutboxDrainer hands pending outbox events to the dispatcher. Several
// drainers may run against one database: a claimed event is leased to one
// drainer, and dispatch runs outside any store transaction.
type OutboxDrainer struct {
	Store       store.Store
	Dispatcher  notify.Dispatcher
	Limiter     *rate.Limiter
	BatchSize   int
	MaxAttempts int
	// Lease must outlast dispatching a full batch at the limiter's rate.
	Lease time.Duration
}

func NewOutboxDrainer(st store.Store, d notify.Dispatcher, perSecond float64, batchSize, maxAttempts int) *OutboxDrainer {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(1, int(perSecond))
	}
	return &OutboxDrainer{
		Store:       st,
		Dispatcher:  d,
		Limiter:     rate.NewLimiter(limit, burst),
		BatchSize:   batchSize,
		MaxAttempts: maxAttempts,
		Lease:       time.Minute,
	}
}

// DrainOnce dispatches one batch and reports how many events were delivered.
// Events left unmarked, for example on cancellation, are retried once their
// lease runs out.
func (d *OutboxDrainer) DrainOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	events, err := d.Store.ClaimOutbox(ctx, d.BatchSize, now, now.Add(d.Lease))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ev := range events {
		if err := d.Limiter.Wait(ctx); err != nil {
			return sent, err
		}
		if err := d.Dispatcher.Dispatch(ctx, toNotification(ev)); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"event_id": ev.ID,
				"attempt":  ev.Attempts + 1,
			}).Warn("[OUTBOX] dispatch failed")
			if err := d.Store.MarkOutboxAttempt(ctx, ev.ID, err.Error(), d.MaxAttempts); err != nil {
				return sent, err
			}
			status := "retry"
			if ev.Attempts+1 >= d.MaxAttempts {
				status = string(models.OutboxFailed)
			}
			metrics.RecordOutbox(status)
			continue
		}
		if err := d.Store.MarkOutboxDispatched(ctx, ev.ID, time.Now().UTC()); err != nil {
			return sent, err
		}
		metrics.RecordOutbox(string(models.OutboxDispatched))
		sent++
	}
	return sent, nil
}

func toNotification(ev models.OutboxEvent) notify.Notification {
	return notify.Notification{
		ID:        ev.ID,
		UserID:    ev.UserID,
		Type:      ev.Type,
		Title:     ev.Title,
		Message:   ev.Message,
		Data:      ev.Data,
		CreatedAt: ev.CreatedAt,
	}
}

// PollOutbox drains on every tick until ctx is cancelled.
func PollOutbox(ctx context.Context, d *OutboxDrainer, interval time.Duration) {
	log.Info("[OUTBOX] 🔁 Starting outbox drainer")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("[OUTBOX] ⏹️ Outbox drainer stopped")
			return
		case <-ticker.C:
			n, err := d.DrainOnce(ctx)
			if err != nil && ctx.Err() == nil {
				log.WithError(err).Error("[OUTBOX] ❌ drain failed")
				continue
			}
			if n > 0 {
				log.WithField("count", n).Debug("[OUTBOX] 📤 notifications dispatched")
			}
		}
	}
}
