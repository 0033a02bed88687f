package store

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"loop-economy/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Transactions are serialized by one
// mutex and work on a copy of the data that replaces the parent's on commit,
// so rollback and savepoint behavior match the gorm store. Used by tests and
// STORE_DRIVER=memory.
type MemoryStore struct {
	mu   *sync.Mutex
	data *memData
	inTx bool
}

type memData struct {
	accounts         map[string]models.Account
	ledger           []models.LedgerEntry
	achievements     map[string]models.AchievementDef
	userAchievements map[string]models.UserAchievement
	catalog          map[string]models.GiftCatalogItem
	gifts            map[string]models.GiftTransaction
	inventory        map[string]models.InventoryItem
	groupGifts       map[string]models.GroupGift
	contributions    []models.Contribution
	challengeDays    map[string]time.Time
	challenges       map[string]models.DailyChallenge
	outbox           []models.OutboxEvent
	idempotency      map[string]models.IdempotencyRecord
	stats            map[string]models.UserStat
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		data: &memData{
			accounts:         map[string]models.Account{},
			achievements:     map[string]models.AchievementDef{},
			userAchievements: map[string]models.UserAchievement{},
			catalog:          map[string]models.GiftCatalogItem{},
			gifts:            map[string]models.GiftTransaction{},
			inventory:        map[string]models.InventoryItem{},
			groupGifts:       map[string]models.GroupGift{},
			challengeDays:    map[string]time.Time{},
			challenges:       map[string]models.DailyChallenge{},
			idempotency:      map[string]models.IdempotencyRecord{},
			stats:            map[string]models.UserStat{},
		},
	}
}

func (d *memData) clone() *memData {
	return &memData{
		accounts:         maps.Clone(d.accounts),
		ledger:           slices.Clone(d.ledger),
		achievements:     maps.Clone(d.achievements),
		userAchievements: maps.Clone(d.userAchievements),
		catalog:          maps.Clone(d.catalog),
		gifts:            maps.Clone(d.gifts),
		inventory:        maps.Clone(d.inventory),
		groupGifts:       maps.Clone(d.groupGifts),
		contributions:    slices.Clone(d.contributions),
		challengeDays:    maps.Clone(d.challengeDays),
		challenges:       maps.Clone(d.challenges),
		outbox:           slices.Clone(d.outbox),
		idempotency:      maps.Clone(d.idempotency),
		stats:            maps.Clone(d.stats),
	}
}

func (m *MemoryStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer m.lock()()

	work := m.data.clone()
	if err := fn(&MemoryStore{mu: m.mu, data: work, inTx: true}); err != nil {
		return err
	}
	*m.data = *work
	return nil
}

func pairKey(a, b string) string {
	return a + "|" + b
}

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now()
	}
}

// --- accounts ---

func (m *MemoryStore) EnsureAccount(_ context.Context, userID string, kind models.AccountKind) (*models.Account, error) {
	defer m.lock()()
	acct, ok := m.data.accounts[userID]
	if !ok {
		acct = models.Account{ID: uuid.NewString(), UserID: userID, Kind: kind}
		stamp(&acct.CreatedAt)
		acct.UpdatedAt = acct.CreatedAt
		m.data.accounts[userID] = acct
	}
	return &acct, nil
}

func (m *MemoryStore) GetAccount(_ context.Context, userID string) (*models.Account, error) {
	defer m.lock()()
	acct, ok := m.data.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &acct, nil
}

func (m *MemoryStore) AddBalance(_ context.Context, userID string, delta int64) (int64, error) {
	defer m.lock()()
	acct, ok := m.data.accounts[userID]
	if !ok {
		return 0, ErrNotFound
	}
	if acct.Balance+delta < 0 {
		return 0, ErrConditionFailed
	}
	acct.Balance += delta
	m.data.accounts[userID] = acct
	return acct.Balance, nil
}

func (m *MemoryStore) AddXP(_ context.Context, userID string, delta int64) (int64, error) {
	defer m.lock()()
	acct, ok := m.data.accounts[userID]
	if !ok {
		return 0, ErrNotFound
	}
	if acct.XPTotal+delta < 0 {
		return 0, ErrConditionFailed
	}
	acct.XPTotal += delta
	m.data.accounts[userID] = acct
	return acct.XPTotal, nil
}

// --- ledger ---

func (m *MemoryStore) AppendLedger(_ context.Context, entry *models.LedgerEntry) error {
	defer m.lock()()
	stamp(&entry.CreatedAt)
	m.data.ledger = append(m.data.ledger, *entry)
	return nil
}

func (m *MemoryStore) ListLedger(_ context.Context, userID, beforeID string, limit int) ([]models.LedgerEntry, error) {
	defer m.lock()()
	var out []models.LedgerEntry
	for i := len(m.data.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.data.ledger[i]
		if e.UserID != userID || (beforeID != "" && e.ID >= beforeID) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) LedgerAfter(_ context.Context, userID, afterID string, limit int) ([]models.LedgerEntry, error) {
	defer m.lock()()
	var out []models.LedgerEntry
	for _, e := range m.data.ledger {
		if len(out) >= limit {
			break
		}
		if e.UserID == userID && e.ID > afterID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) LedgerBetween(_ context.Context, from, to time.Time) ([]models.LedgerEntry, error) {
	defer m.lock()()
	var out []models.LedgerEntry
	for _, e := range m.data.ledger {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- achievements ---

func sortedDefs(defs []models.AchievementDef) []models.AchievementDef {
	slices.SortFunc(defs, func(a, b models.AchievementDef) int { return strings.Compare(a.Code, b.Code) })
	return defs
}

func (m *MemoryStore) ListActiveAchievements(_ context.Context) ([]models.AchievementDef, error) {
	defer m.lock()()
	var out []models.AchievementDef
	for _, d := range m.data.achievements {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return sortedDefs(out), nil
}

func (m *MemoryStore) ListLockedAchievements(_ context.Context, userID string) ([]models.AchievementDef, error) {
	defer m.lock()()
	var out []models.AchievementDef
	for _, d := range m.data.achievements {
		if _, unlocked := m.data.userAchievements[pairKey(userID, d.ID)]; d.IsActive && !unlocked {
			out = append(out, d)
		}
	}
	return sortedDefs(out), nil
}

func (m *MemoryStore) UnlockAchievement(_ context.Context, ua *models.UserAchievement) (bool, error) {
	defer m.lock()()
	key := pairKey(ua.UserID, ua.AchievementID)
	if _, exists := m.data.userAchievements[key]; exists {
		return false, nil
	}
	stamp(&ua.CreatedAt)
	m.data.userAchievements[key] = *ua
	return true, nil
}

func (m *MemoryStore) ListUserAchievements(_ context.Context, userID string) ([]models.UserAchievement, error) {
	defer m.lock()()
	var out []models.UserAchievement
	for _, ua := range m.data.userAchievements {
		if ua.UserID == userID {
			out = append(out, ua)
		}
	}
	slices.SortFunc(out, func(a, b models.UserAchievement) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpsertAchievementDef(_ context.Context, def *models.AchievementDef) error {
	defer m.lock()()
	for id, existing := range m.data.achievements {
		if existing.Code == def.Code {
			def.ID = id
			def.CreatedAt = existing.CreatedAt
			break
		}
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	stamp(&def.CreatedAt)
	def.UpdatedAt = time.Now()
	m.data.achievements[def.ID] = *def
	return nil
}

// --- catalog ---

func (m *MemoryStore) GetCatalogItem(_ context.Context, id string) (*models.GiftCatalogItem, error) {
	defer m.lock()()
	item, ok := m.data.catalog[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &item, nil
}

func (m *MemoryStore) ListCatalogItems(_ context.Context, activeOnly bool) ([]models.GiftCatalogItem, error) {
	defer m.lock()()
	var out []models.GiftCatalogItem
	for _, item := range m.data.catalog {
		if !activeOnly || item.IsActive {
			out = append(out, item)
		}
	}
	slices.SortFunc(out, func(a, b models.GiftCatalogItem) int {
		if c := a.Cost() - b.Cost(); c != 0 {
			if c < 0 {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Slug, b.Slug)
	})
	return out, nil
}

func (m *MemoryStore) UpsertCatalogItem(_ context.Context, item *models.GiftCatalogItem) error {
	defer m.lock()()
	for id, existing := range m.data.catalog {
		if existing.Slug == item.Slug {
			item.ID = id
			item.CreatedAt = existing.CreatedAt
			break
		}
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	stamp(&item.CreatedAt)
	item.UpdatedAt = time.Now()
	m.data.catalog[item.ID] = *item
	return nil
}

// --- gifts ---

func (m *MemoryStore) CreateGiftTransaction(_ context.Context, gt *models.GiftTransaction) error {
	defer m.lock()()
	if _, exists := m.data.gifts[gt.ID]; exists {
		return ErrConflict
	}
	stamp(&gt.CreatedAt)
	m.data.gifts[gt.ID] = *gt
	return nil
}

func (m *MemoryStore) GetGiftTransaction(_ context.Context, id string) (*models.GiftTransaction, error) {
	defer m.lock()()
	gt, ok := m.data.gifts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &gt, nil
}

func (m *MemoryStore) GrantInventory(_ context.Context, inv *models.InventoryItem) (bool, error) {
	defer m.lock()()
	key := pairKey(inv.UserID, inv.ItemID)
	if _, exists := m.data.inventory[key]; exists {
		return false, nil
	}
	stamp(&inv.GrantedAt)
	m.data.inventory[key] = *inv
	return true, nil
}

func (m *MemoryStore) ListInventory(_ context.Context, userID string) ([]models.InventoryItem, error) {
	defer m.lock()()
	var out []models.InventoryItem
	for _, inv := range m.data.inventory {
		if inv.UserID == userID {
			out = append(out, inv)
		}
	}
	slices.SortFunc(out, func(a, b models.InventoryItem) int { return a.GrantedAt.Compare(b.GrantedAt) })
	return out, nil
}

func (m *MemoryStore) CountActivity(_ context.Context, userID string) (models.ActivityCounts, error) {
	defer m.lock()()
	var out models.ActivityCounts
	for _, gt := range m.data.gifts {
		if gt.Status != models.GiftStatusSent {
			continue
		}
		if gt.SenderID == userID {
			out.GiftsSent++
		}
		if gt.RecipientID == userID {
			out.GiftsReceived++
		}
	}
	for _, ch := range m.data.challenges {
		if ch.UserID == userID && ch.IsCompleted {
			out.ChallengesCompleted++
		}
	}
	for _, ua := range m.data.userAchievements {
		if ua.UserID == userID {
			out.AchievementsUnlocked++
		}
	}
	return out, nil
}

// --- group gifts ---

func (m *MemoryStore) CreateGroupGift(_ context.Context, gg *models.GroupGift) error {
	defer m.lock()()
	if _, exists := m.data.groupGifts[gg.ID]; exists {
		return ErrConflict
	}
	stamp(&gg.CreatedAt)
	gg.UpdatedAt = gg.CreatedAt
	if gg.DeliveryStatus == "" {
		gg.DeliveryStatus = models.DeliveryNone
	}
	m.data.groupGifts[gg.ID] = *gg
	return nil
}

// GetGroupGift ignores forUpdate: the transaction mutex already excludes
// other writers.
func (m *MemoryStore) GetGroupGift(_ context.Context, id string, _ bool) (*models.GroupGift, error) {
	defer m.lock()()
	gg, ok := m.data.groupGifts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &gg, nil
}

func (m *MemoryStore) IncrementGroupGift(_ context.Context, id string, delta int64) error {
	defer m.lock()()
	gg, ok := m.data.groupGifts[id]
	if !ok || gg.Status != models.GroupGiftOpen || gg.CurrentAmount+delta > gg.TargetAmount {
		return ErrConditionFailed
	}
	gg.CurrentAmount += delta
	gg.UpdatedAt = time.Now()
	m.data.groupGifts[id] = gg
	return nil
}

func (m *MemoryStore) TransitionGroupGift(_ context.Context, id string, from, to models.GroupGiftStatus, at time.Time) (bool, error) {
	defer m.lock()()
	gg, ok := m.data.groupGifts[id]
	if !ok || gg.Status != from {
		return false, nil
	}
	switch to {
	case models.GroupGiftCompleted:
		if gg.CurrentAmount < gg.TargetAmount {
			return false, nil
		}
		gg.CompletedAt = &at
		gg.DeliveryStatus = models.DeliveryPending
	case models.GroupGiftExpired:
		gg.ExpiredAt = &at
	}
	gg.Status = to
	gg.UpdatedAt = at
	m.data.groupGifts[id] = gg
	return true, nil
}

func (m *MemoryStore) SetGroupGiftDelivery(_ context.Context, id string, status models.DeliveryStatus, giftTxID *string) error {
	defer m.lock()()
	gg, ok := m.data.groupGifts[id]
	if !ok {
		return ErrNotFound
	}
	gg.DeliveryStatus = status
	gg.GiftTransactionID = giftTxID
	m.data.groupGifts[id] = gg
	return nil
}

func (m *MemoryStore) CreateContribution(_ context.Context, c *models.Contribution) error {
	defer m.lock()()
	stamp(&c.CreatedAt)
	c.Seq = int64(len(m.data.contributions)) + 1
	m.data.contributions = append(m.data.contributions, *c)
	return nil
}

func (m *MemoryStore) ListContributions(_ context.Context, groupGiftID string) ([]models.Contribution, error) {
	defer m.lock()()
	var out []models.Contribution
	for _, c := range m.data.contributions {
		if c.GroupGiftID == groupGiftID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListOverdueGroupGifts(_ context.Context, now time.Time, limit int) ([]models.GroupGift, error) {
	defer m.lock()()
	var out []models.GroupGift
	for _, gg := range m.data.groupGifts {
		if gg.Status == models.GroupGiftOpen && gg.Deadline.Before(now) {
			out = append(out, gg)
		}
	}
	slices.SortFunc(out, func(a, b models.GroupGift) int { return a.Deadline.Compare(b.Deadline) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListUndeliveredGroupGifts(_ context.Context, limit int) ([]models.GroupGift, error) {
	defer m.lock()()
	var out []models.GroupGift
	for _, gg := range m.data.groupGifts {
		if gg.Status == models.GroupGiftCompleted && gg.DeliveryStatus == models.DeliveryPending {
			out = append(out, gg)
		}
	}
	slices.SortFunc(out, func(a, b models.GroupGift) int { return strings.Compare(a.ID, b.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- challenges ---

func (m *MemoryStore) ClaimChallengeDay(_ context.Context, userID, day string) (bool, error) {
	defer m.lock()()
	key := pairKey(userID, day)
	if _, exists := m.data.challengeDays[key]; exists {
		return false, nil
	}
	m.data.challengeDays[key] = time.Now()
	return true, nil
}

func (m *MemoryStore) CreateDailyChallenges(_ context.Context, challenges []models.DailyChallenge) error {
	defer m.lock()()
	for _, ch := range challenges {
		duplicate := false
		for _, existing := range m.data.challenges {
			if existing.UserID == ch.UserID && existing.Type == ch.Type && existing.Day == ch.Day {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		stamp(&ch.CreatedAt)
		m.data.challenges[ch.ID] = ch
	}
	return nil
}

func (m *MemoryStore) ListDailyChallenges(_ context.Context, userID, day string) ([]models.DailyChallenge, error) {
	defer m.lock()()
	var out []models.DailyChallenge
	for _, ch := range m.data.challenges {
		if ch.UserID == userID && ch.Day == day {
			out = append(out, ch)
		}
	}
	slices.SortFunc(out, func(a, b models.DailyChallenge) int { return strings.Compare(a.Type, b.Type) })
	return out, nil
}

func (m *MemoryStore) FindDailyChallenge(_ context.Context, userID, challengeType, day string) (*models.DailyChallenge, error) {
	defer m.lock()()
	for _, ch := range m.data.challenges {
		if ch.UserID == userID && ch.Type == challengeType && ch.Day == day {
			return &ch, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetDailyChallenge(_ context.Context, id string) (*models.DailyChallenge, error) {
	defer m.lock()()
	ch, ok := m.data.challenges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &ch, nil
}

func (m *MemoryStore) AdvanceChallenge(_ context.Context, id string, inc int64, now time.Time) (bool, error) {
	defer m.lock()()
	ch, ok := m.data.challenges[id]
	if !ok || ch.IsCompleted || !ch.ExpiresAt.After(now) {
		return false, nil
	}
	ch.CurrentProgress = min(ch.CurrentProgress+inc, ch.TargetValue)
	m.data.challenges[id] = ch
	return true, nil
}

func (m *MemoryStore) CompleteChallenge(_ context.Context, id string, now time.Time) (bool, error) {
	defer m.lock()()
	ch, ok := m.data.challenges[id]
	if !ok || ch.IsCompleted || ch.CurrentProgress < ch.TargetValue {
		return false, nil
	}
	ch.IsCompleted = true
	ch.CompletedAt = &now
	m.data.challenges[id] = ch
	return true, nil
}

// --- outbox ---

func (m *MemoryStore) EnqueueOutbox(_ context.Context, ev *models.OutboxEvent) error {
	defer m.lock()()
	stamp(&ev.CreatedAt)
	m.data.outbox = append(m.data.outbox, *ev)
	return nil
}

func (m *MemoryStore) ClaimOutbox(_ context.Context, limit int, now, until time.Time) ([]models.OutboxEvent, error) {
	defer m.lock()()
	var out []models.OutboxEvent
	for i := range m.data.outbox {
		if len(out) >= limit {
			break
		}
		ev := &m.data.outbox[i]
		if ev.Status != models.OutboxPending {
			continue
		}
		if ev.ClaimedUntil != nil && ev.ClaimedUntil.After(now) {
			continue
		}
		lease := until
		ev.ClaimedUntil = &lease
		out = append(out, *ev)
	}
	return out, nil
}

func (m *MemoryStore) outboxIndex(id string) int {
	return slices.IndexFunc(m.data.outbox, func(ev models.OutboxEvent) bool { return ev.ID == id })
}

func (m *MemoryStore) MarkOutboxDispatched(_ context.Context, id string, at time.Time) error {
	defer m.lock()()
	i := m.outboxIndex(id)
	if i < 0 {
		return ErrNotFound
	}
	m.data.outbox[i].Status = models.OutboxDispatched
	m.data.outbox[i].DispatchedAt = &at
	m.data.outbox[i].Attempts++
	m.data.outbox[i].ClaimedUntil = nil
	return nil
}

func (m *MemoryStore) MarkOutboxAttempt(_ context.Context, id, lastErr string, maxAttempts int) error {
	defer m.lock()()
	i := m.outboxIndex(id)
	if i < 0 {
		return ErrNotFound
	}
	ev := &m.data.outbox[i]
	ev.Attempts++
	ev.LastError = lastErr
	ev.ClaimedUntil = nil
	if ev.Attempts >= maxAttempts {
		ev.Status = models.OutboxFailed
	}
	return nil
}

// Outbox returns a copy of every outbox event, oldest first.
func (m *MemoryStore) Outbox() []models.OutboxEvent {
	defer m.lock()()
	return slices.Clone(m.data.outbox)
}

// --- idempotency ---

func (m *MemoryStore) GetIdempotencyRecord(_ context.Context, key string) (*models.IdempotencyRecord, error) {
	defer m.lock()()
	rec, ok := m.data.idempotency[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) CreateIdempotencyRecord(_ context.Context, rec *models.IdempotencyRecord) error {
	defer m.lock()()
	if _, exists := m.data.idempotency[rec.Key]; exists {
		return ErrKeyTaken
	}
	stamp(&rec.CreatedAt)
	m.data.idempotency[rec.Key] = *rec
	return nil
}

// --- stats ---

func (m *MemoryStore) GetUserStats(_ context.Context, userID string) (map[string]int64, error) {
	defer m.lock()()
	out := map[string]int64{}
	for _, st := range m.data.stats {
		if st.UserID == userID {
			out[st.Stat] = st.Value
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertUserStats(_ context.Context, stats []models.UserStat) error {
	defer m.lock()()
	for _, st := range stats {
		stamp(&st.UpdatedAt)
		m.data.stats[pairKey(st.UserID, st.Stat)] = st
	}
	return nil
}

func (m *MemoryStore) LatestUserStatUpdate(_ context.Context) (time.Time, error) {
	defer m.lock()()
	var latest time.Time
	for _, st := range m.data.stats {
		if st.UpdatedAt.After(latest) {
			latest = st.UpdatedAt
		}
	}
	return latest, nil
}
