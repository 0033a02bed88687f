package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"loop-economy/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on PostgreSQL through gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates or updates every table the engine uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.LedgerEntry{},
		&models.AchievementDef{},
		&models.UserAchievement{},
		&models.GiftCatalogItem{},
		&models.GiftTransaction{},
		&models.InventoryItem{},
		&models.GroupGift{},
		&models.Contribution{},
		&models.DailyChallenge{},
		&models.ChallengeDay{},
		&models.OutboxEvent{},
		&models.IdempotencyRecord{},
		&models.UserStat{},
	)
}

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- accounts ---

func (s *GormStore) EnsureAccount(ctx context.Context, userID string, kind models.AccountKind) (*models.Account, error) {
	acct := models.Account{ID: uuid.NewString(), UserID: userID, Kind: kind}
	if err := s.conn(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&acct).Error; err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, userID)
}

func (s *GormStore) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	var acct models.Account
	if err := s.conn(ctx).Where("user_id = ?", userID).Take(&acct).Error; err != nil {
		return nil, notFound(err)
	}
	return &acct, nil
}

func (s *GormStore) AddBalance(ctx context.Context, userID string, delta int64) (int64, error) {
	return s.addCounter(ctx, userID, "balance", delta)
}

func (s *GormStore) AddXP(ctx context.Context, userID string, delta int64) (int64, error) {
	return s.addCounter(ctx, userID, "xp_total", delta)
}

// addCounter is the single conditional statement behind every balance and xp
// change: UPDATE accounts SET col = col + d WHERE user_id = ? AND col + d >= 0.
func (s *GormStore) addCounter(ctx context.Context, userID, column string, delta int64) (int64, error) {
	res := s.conn(ctx).Model(&models.Account{}).
		Where("user_id = ? AND "+column+" + ? >= 0", userID, delta).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.conn(ctx).Model(&models.Account{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
			return 0, err
		}
		if count == 0 {
			return 0, ErrNotFound
		}
		return 0, ErrConditionFailed
	}

	var value int64
	if err := s.conn(ctx).Model(&models.Account{}).
		Where("user_id = ?", userID).
		Select(column).
		Scan(&value).Error; err != nil {
		return 0, err
	}
	return value, nil
}

// --- ledger ---

func (s *GormStore) AppendLedger(ctx context.Context, entry *models.LedgerEntry) error {
	return s.conn(ctx).Create(entry).Error
}

func (s *GormStore) ListLedger(ctx context.Context, userID, beforeID string, limit int) ([]models.LedgerEntry, error) {
	q := s.conn(ctx).Where("user_id = ?", userID)
	if beforeID != "" {
		q = q.Where("id < ?", beforeID)
	}
	var entries []models.LedgerEntry
	err := q.Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (s *GormStore) LedgerAfter(ctx context.Context, userID, afterID string, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.conn(ctx).
		Where("user_id = ? AND id > ?", userID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (s *GormStore) LedgerBetween(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.conn(ctx).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// --- achievements ---

func (s *GormStore) ListActiveAchievements(ctx context.Context) ([]models.AchievementDef, error) {
	var defs []models.AchievementDef
	err := s.conn(ctx).Where("is_active = ?", true).Order("code").Find(&defs).Error
	return defs, err
}

func (s *GormStore) ListLockedAchievements(ctx context.Context, userID string) ([]models.AchievementDef, error) {
	unlocked := s.conn(ctx).Model(&models.UserAchievement{}).
		Select("achievement_id").
		Where("user_id = ?", userID)

	var defs []models.AchievementDef
	err := s.conn(ctx).
		Where("is_active = ? AND id NOT IN (?)", true, unlocked).
		Order("code").
		Find(&defs).Error
	return defs, err
}

func (s *GormStore) UnlockAchievement(ctx context.Context, ua *models.UserAchievement) (bool, error) {
	res := s.conn(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "achievement_id"}},
			DoNothing: true,
		}).
		Create(ua)
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) ListUserAchievements(ctx context.Context, userID string) ([]models.UserAchievement, error) {
	var rows []models.UserAchievement
	err := s.conn(ctx).Where("user_id = ?", userID).Order("unlocked_at").Find(&rows).Error
	return rows, err
}

func (s *GormStore) UpsertAchievementDef(ctx context.Context, def *models.AchievementDef) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if err := s.conn(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "description", "icon_url", "rarity", "requirements", "xp_reward", "is_active", "updated_at",
			}),
		}).
		Create(def).Error; err != nil {
		return err
	}
	// reload by code: on conflict the stored row keeps its original id
	var stored models.AchievementDef
	if err := s.conn(ctx).Where("code = ?", def.Code).Take(&stored).Error; err != nil {
		return err
	}
	*def = stored
	return nil
}

// --- catalog ---

func (s *GormStore) GetCatalogItem(ctx context.Context, id string) (*models.GiftCatalogItem, error) {
	var item models.GiftCatalogItem
	if err := s.conn(ctx).Where("id = ?", id).Take(&item).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (s *GormStore) ListCatalogItems(ctx context.Context, activeOnly bool) ([]models.GiftCatalogItem, error) {
	q := s.conn(ctx)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var items []models.GiftCatalogItem
	err := q.Order("coin_price * multiplier ASC, slug").Find(&items).Error
	return items, err
}

func (s *GormStore) UpsertCatalogItem(ctx context.Context, item *models.GiftCatalogItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if err := s.conn(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "emoji", "coin_price", "multiplier", "grants_inventory", "is_active", "updated_at",
			}),
		}).
		Create(item).Error; err != nil {
		return err
	}
	var stored models.GiftCatalogItem
	if err := s.conn(ctx).Where("slug = ?", item.Slug).Take(&stored).Error; err != nil {
		return err
	}
	*item = stored
	return nil
}

// --- gifts ---

func (s *GormStore) CreateGiftTransaction(ctx context.Context, gt *models.GiftTransaction) error {
	return s.conn(ctx).Create(gt).Error
}

func (s *GormStore) GetGiftTransaction(ctx context.Context, id string) (*models.GiftTransaction, error) {
	var gt models.GiftTransaction
	if err := s.conn(ctx).Where("id = ?", id).Take(&gt).Error; err != nil {
		return nil, notFound(err)
	}
	return &gt, nil
}

func (s *GormStore) GrantInventory(ctx context.Context, inv *models.InventoryItem) (bool, error) {
	res := s.conn(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "item_id"}},
			DoNothing: true,
		}).
		Create(inv)
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) ListInventory(ctx context.Context, userID string) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	err := s.conn(ctx).Where("user_id = ?", userID).Order("granted_at").Find(&items).Error
	return items, err
}

func (s *GormStore) CountActivity(ctx context.Context, userID string) (models.ActivityCounts, error) {
	var out models.ActivityCounts
	db := s.conn(ctx)
	if err := db.Model(&models.GiftTransaction{}).
		Where("sender_id = ? AND status = ?", userID, models.GiftStatusSent).
		Count(&out.GiftsSent).Error; err != nil {
		return out, err
	}
	if err := db.Model(&models.GiftTransaction{}).
		Where("recipient_id = ? AND status = ?", userID, models.GiftStatusSent).
		Count(&out.GiftsReceived).Error; err != nil {
		return out, err
	}
	if err := db.Model(&models.DailyChallenge{}).
		Where("user_id = ? AND is_completed = ?", userID, true).
		Count(&out.ChallengesCompleted).Error; err != nil {
		return out, err
	}
	if err := db.Model(&models.UserAchievement{}).
		Where("user_id = ?", userID).
		Count(&out.AchievementsUnlocked).Error; err != nil {
		return out, err
	}
	return out, nil
}

// --- group gifts ---

func (s *GormStore) CreateGroupGift(ctx context.Context, gg *models.GroupGift) error {
	return s.conn(ctx).Create(gg).Error
}

func (s *GormStore) GetGroupGift(ctx context.Context, id string, forUpdate bool) (*models.GroupGift, error) {
	q := s.conn(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var gg models.GroupGift
	if err := q.Where("id = ?", id).Take(&gg).Error; err != nil {
		return nil, notFound(err)
	}
	return &gg, nil
}

func (s *GormStore) IncrementGroupGift(ctx context.Context, id string, delta int64) error {
	res := s.conn(ctx).Model(&models.GroupGift{}).
		Where("id = ? AND status = ? AND current_amount + ? <= target_amount", id, models.GroupGiftOpen, delta).
		UpdateColumn("current_amount", gorm.Expr("current_amount + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (s *GormStore) TransitionGroupGift(ctx context.Context, id string, from, to models.GroupGiftStatus, at time.Time) (bool, error) {
	fields := map[string]any{"status": to}
	q := s.conn(ctx).Model(&models.GroupGift{}).Where("id = ? AND status = ?", id, from)
	switch to {
	case models.GroupGiftCompleted:
		fields["completed_at"] = at
		fields["delivery_status"] = models.DeliveryPending
		q = q.Where("current_amount >= target_amount")
	case models.GroupGiftExpired:
		fields["expired_at"] = at
	}
	res := q.Updates(fields)
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) SetGroupGiftDelivery(ctx context.Context, id string, status models.DeliveryStatus, giftTxID *string) error {
	return s.conn(ctx).Model(&models.GroupGift{}).
		Where("id = ?", id).
		Updates(map[string]any{"delivery_status": status, "gift_transaction_id": giftTxID}).Error
}

func (s *GormStore) CreateContribution(ctx context.Context, c *models.Contribution) error {
	return s.conn(ctx).Create(c).Error
}

func (s *GormStore) ListContributions(ctx context.Context, groupGiftID string) ([]models.Contribution, error) {
	var rows []models.Contribution
	err := s.conn(ctx).Where("group_gift_id = ?", groupGiftID).Order("seq").Find(&rows).Error
	return rows, err
}

func (s *GormStore) ListOverdueGroupGifts(ctx context.Context, now time.Time, limit int) ([]models.GroupGift, error) {
	var rows []models.GroupGift
	err := s.conn(ctx).
		Where("status = ? AND deadline < ?", models.GroupGiftOpen, now).
		Order("deadline").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *GormStore) ListUndeliveredGroupGifts(ctx context.Context, limit int) ([]models.GroupGift, error) {
	var rows []models.GroupGift
	err := s.conn(ctx).
		Where("status = ? AND delivery_status = ?", models.GroupGiftCompleted, models.DeliveryPending).
		Order("completed_at").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// --- challenges ---

func (s *GormStore) ClaimChallengeDay(ctx context.Context, userID, day string) (bool, error) {
	res := s.conn(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.ChallengeDay{UserID: userID, Day: day})
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) CreateDailyChallenges(ctx context.Context, challenges []models.DailyChallenge) error {
	if len(challenges) == 0 {
		return nil
	}
	return s.conn(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "type"}, {Name: "day"}},
			DoNothing: true,
		}).
		Create(&challenges).Error
}

func (s *GormStore) ListDailyChallenges(ctx context.Context, userID, day string) ([]models.DailyChallenge, error) {
	var rows []models.DailyChallenge
	err := s.conn(ctx).Where("user_id = ? AND day = ?", userID, day).Order("type").Find(&rows).Error
	return rows, err
}

func (s *GormStore) FindDailyChallenge(ctx context.Context, userID, challengeType, day string) (*models.DailyChallenge, error) {
	var ch models.DailyChallenge
	if err := s.conn(ctx).
		Where("user_id = ? AND type = ? AND day = ?", userID, challengeType, day).
		Take(&ch).Error; err != nil {
		return nil, notFound(err)
	}
	return &ch, nil
}

func (s *GormStore) GetDailyChallenge(ctx context.Context, id string) (*models.DailyChallenge, error) {
	var ch models.DailyChallenge
	if err := s.conn(ctx).Where("id = ?", id).Take(&ch).Error; err != nil {
		return nil, notFound(err)
	}
	return &ch, nil
}

func (s *GormStore) AdvanceChallenge(ctx context.Context, id string, inc int64, now time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.DailyChallenge{}).
		Where("id = ? AND is_completed = ? AND expires_at > ?", id, false, now).
		UpdateColumn("current_progress", gorm.Expr("LEAST(current_progress + ?, target_value)", inc))
	return res.RowsAffected == 1, res.Error
}

func (s *GormStore) CompleteChallenge(ctx context.Context, id string, now time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.DailyChallenge{}).
		Where("id = ? AND is_completed = ? AND current_progress >= target_value", id, false).
		UpdateColumns(map[string]any{"is_completed": true, "completed_at": now})
	return res.RowsAffected == 1, res.Error
}

// --- outbox ---

func (s *GormStore) EnqueueOutbox(ctx context.Context, ev *models.OutboxEvent) error {
	return s.conn(ctx).Create(ev).Error
}

func (s *GormStore) ClaimOutbox(ctx context.Context, limit int, now, until time.Time) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND (claimed_until IS NULL OR claimed_until <= ?)", models.OutboxPending, now).
			Order("created_at").
			Limit(limit).
			Find(&events).Error; err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		ids := make([]string, len(events))
		for i := range events {
			ids[i] = events[i].ID
			events[i].ClaimedUntil = &until
		}
		return tx.Model(&models.OutboxEvent{}).
			Where("id IN ?", ids).
			UpdateColumn("claimed_until", until).Error
	})
	return events, err
}

func (s *GormStore) MarkOutboxDispatched(ctx context.Context, id string, at time.Time) error {
	return s.conn(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"status":        models.OutboxDispatched,
			"dispatched_at": at,
			"attempts":      gorm.Expr("attempts + 1"),
			"claimed_until": nil,
		}).Error
}

func (s *GormStore) MarkOutboxAttempt(ctx context.Context, id, lastErr string, maxAttempts int) error {
	return s.conn(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"attempts":      gorm.Expr("attempts + 1"),
			"last_error":    lastErr,
			"status":        gorm.Expr("CASE WHEN attempts + 1 >= ? THEN ? ELSE status END", maxAttempts, models.OutboxFailed),
			"claimed_until": nil,
		}).Error
}

// --- idempotency ---

func (s *GormStore) GetIdempotencyRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	if err := s.conn(ctx).Where("key = ?", key).Take(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (s *GormStore) CreateIdempotencyRecord(ctx context.Context, rec *models.IdempotencyRecord) error {
	res := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrKeyTaken
	}
	return nil
}

// --- stats ---

func (s *GormStore) GetUserStats(ctx context.Context, userID string) (map[string]int64, error) {
	var rows []models.UserStat
	if err := s.conn(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Stat] = r.Value
	}
	return out, nil
}

func (s *GormStore) UpsertUserStats(ctx context.Context, stats []models.UserStat) error {
	if len(stats) == 0 {
		return nil
	}
	return s.conn(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "stat"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&stats).Error
}

func (s *GormStore) LatestUserStatUpdate(ctx context.Context) (time.Time, error) {
	var latest sql.NullTime
	if err := s.conn(ctx).Raw("SELECT MAX(updated_at) FROM user_stats").Scan(&latest).Error; err != nil {
		return time.Time{}, err
	}
	if !latest.Valid {
		return time.Time{}, nil
	}
	return latest.Time, nil
}
