package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"loop-economy/models"
	"loop-economy/store"

	log "github.com/sirupsen/logrus"
)

// RemoteStat is one row of the stats service's change feed.
type RemoteStat struct {
	UserID    string    `json:"user_id"`
	Stat      string    `json:"stat"`
	Value     int64     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type statChangesResponse struct {
	Stats []RemoteStat `json:"stats"`
}

// StatsSyncWorker mirrors platform stats (loops created, followers, ...)
// into user_stats so achievement evaluation never calls out of process.
type StatsSyncWorker struct {
	store        store.Store
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewStatsSyncWorker(st store.Store, baseURL, serviceToken string, interval time.Duration, client *http.Client) *StatsSyncWorker {
	return &StatsSyncWorker{
		store:        st,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: "/api/v1/public/stats",
		serviceToken: serviceToken,
		httpClient:   client,
	}
}

func (w *StatsSyncWorker) Start(ctx context.Context) {
	log.Info("[SYNC] 🔁 Starting stats sync worker")
	go w.run(ctx)
}

func (w *StatsSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		log.WithError(err).Warn("[SYNC] ⚠️ Initial stats sync failed")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				log.WithError(err).Error("[SYNC] ❌ Stats sync failed")
			}
		case <-ctx.Done():
			log.Info("[SYNC] ⏹️ Stats sync worker stopped")
			return
		}
	}
}

// SyncOnce pulls every change newer than the latest local row and upserts
// it. It returns the number of rows written.
func (w *StatsSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	since, err := w.store.LatestUserStatUpdate(ctx)
	if err != nil {
		return 0, fmt.Errorf("read sync cursor: %w", err)
	}
	stats, err := w.fetch(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(stats) == 0 {
		return 0, nil
	}

	rows := make([]models.UserStat, 0, len(stats))
	for _, s := range stats {
		if s.UserID == "" || s.Stat == "" {
			continue
		}
		rows = append(rows, models.UserStat{UserID: s.UserID, Stat: s.Stat, Value: s.Value, UpdatedAt: s.UpdatedAt})
	}
	if err := w.store.UpsertUserStats(ctx, rows); err != nil {
		return 0, fmt.Errorf("upsert %d stat(s): %w", len(rows), err)
	}
	log.WithField("count", len(rows)).Info("[SYNC] ✅ Stats upserted")
	return len(rows), nil
}

func (w *StatsSyncWorker) fetch(ctx context.Context, since time.Time) ([]RemoteStat, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid stats service URL %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath(w.endpointPath)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stats service request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("stats service returned status %d: %s", resp.StatusCode, string(body))
	}

	var out statChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode stats response: %w", err)
	}
	return out.Stats, nil
}
