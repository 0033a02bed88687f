package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"
)

const sweepBatch = 200

type SchedulerConfig struct {
	ExpirySweepEvery time.Duration
	ReconcileEvery   time.Duration
	// ArchiveAtUTC is "HH:MM"; empty or a nil Archiver disables the archive job.
	ArchiveAtUTC string
	Archiver     *LedgerArchiver
}

// StartScheduler registers the background jobs and starts them. Call
// Shutdown on the returned scheduler to stop.
func (e *Engine) StartScheduler(ctx context.Context, cfg SchedulerConfig) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	// Overdue group gifts: expire and refund.
	if _, err := sched.NewJob(
		gocron.DurationJob(cfg.ExpirySweepEvery),
		gocron.NewTask(func() {
			n, err := e.SweepExpiredGroupGifts(ctx, sweepBatch)
			if err != nil {
				log.WithError(err).Error("[Scheduler] expiry sweep failed")
				return
			}
			if n > 0 {
				log.WithField("expired", n).Info("[Scheduler] ✅ Expired overdue group gifts")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("register expiry sweep: %w", err)
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(cfg.ReconcileEvery),
		gocron.NewTask(func() {
			delivered, refunded, err := e.ReconcileDeliveries(ctx, sweepBatch)
			if err != nil {
				log.WithError(err).Error("[Scheduler] reconcile failed")
				return
			}
			if delivered+refunded > 0 {
				log.WithFields(log.Fields{"delivered": delivered, "refunded": refunded}).
					Info("[Scheduler] ✅ Reconciled group gift deliveries")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, fmt.Errorf("register reconciler: %w", err)
	}

	if cfg.Archiver != nil && cfg.ArchiveAtUTC != "" {
		hour, minute, err := parseClock(cfg.ArchiveAtUTC)
		if err != nil {
			return nil, err
		}
		if _, err := sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))),
			gocron.NewTask(func() {
				if _, err := cfg.Archiver.ArchivePreviousDay(ctx); err != nil {
					log.WithError(err).Error("[Scheduler] ledger archive failed")
				}
			}),
		); err != nil {
			return nil, fmt.Errorf("register ledger archive: %w", err)
		}
	}

	sched.Start()
	log.Info("[Scheduler] started")
	return sched, nil
}

func parseClock(s string) (uint, uint, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	h, err := strconv.ParseUint(hh, 10, 8)
	if err != nil || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.ParseUint(mm, 10, 8)
	if err != nil || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return uint(h), uint(m), nil
}
