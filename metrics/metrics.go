package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the economy's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	giftsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "economy",
			Name:      "gifts_sent_total",
			Help:      "Gift transactions committed with status sent.",
		},
	)

	coinsSpent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "economy",
			Name:      "gift_coins_spent_total",
			Help:      "Coins charged for sent gifts.",
		},
	)

	xpAwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "economy",
			Name:      "xp_awarded_total",
			Help:      "XP awarded, by action.",
		},
		[]string{"action"},
	)

	achievementsUnlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "economy",
			Name:      "achievements_unlocked_total",
			Help:      "First-time achievement unlocks.",
		},
	)

	groupGifts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "economy",
			Name:      "group_gifts_total",
			Help:      "Group gift lifecycle events, by outcome.",
		},
		[]string{"outcome"},
	)

	challengesCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "economy",
			Name:      "challenges_completed_total",
			Help:      "Daily challenges completed.",
		},
	)

	operationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "economy",
			Name:      "operation_errors_total",
			Help:      "Errors returned by engine operations, by operation and error code.",
		},
		[]string{"operation", "code"},
	)

	outboxEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "economy",
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox dispatch attempts, by result.",
		},
		[]string{"status"},
	)
)

func init() {
	Registry.MustRegister(
		giftsSent,
		coinsSpent,
		xpAwarded,
		achievementsUnlocked,
		groupGifts,
		challengesCompleted,
		operationErrors,
		outboxEvents,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordGiftSent(cost int64) {
	giftsSent.Inc()
	coinsSpent.Add(float64(cost))
}

func RecordXP(action string, amount int64) {
	xpAwarded.WithLabelValues(action).Add(float64(amount))
}

func RecordAchievementUnlocked() {
	achievementsUnlocked.Inc()
}

// RecordGroupGift counts a lifecycle outcome: created, contribution,
// completed, expired, delivered, refunded.
func RecordGroupGift(outcome string) {
	groupGifts.WithLabelValues(outcome).Inc()
}

func RecordChallengeCompleted() {
	challengesCompleted.Inc()
}

func RecordOperationError(operation, code string) {
	if code == "" {
		code = "unknown"
	}
	operationErrors.WithLabelValues(operation, code).Inc()
}

func RecordOutbox(status string) {
	outboxEvents.WithLabelValues(status).Inc()
}
