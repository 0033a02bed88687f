package services

import (
	"context"
	"errors"
	"fmt"

	"loop-economy/apperrors"
	"loop-economy/metrics"
	"loop-economy/models"
	"loop-economy/store"

	log "github.com/sirupsen/logrus"
)

// XPPerLevel is the flat level size: level = xp/1000 + 1, progress = xp mod 1000.
const XPPerLevel = 1000

// LevelForXP starts at 1; negative input reads as zero.
func LevelForXP(xp int64) int {
	if xp < 0 {
		xp = 0
	}
	return int(xp/XPPerLevel) + 1
}

// ProgressForXP returns the XP earned inside the current level.
func ProgressForXP(xp int64) int64 {
	if xp < 0 {
		return 0
	}
	return xp % XPPerLevel
}

// RankThresholds: minimum level for each rank
var RankThresholds = map[int]int{
	1: 1,   // Rookie
	2: 5,   // Bronze
	3: 10,  // Silver
	4: 25,  // Gold
	5: 50,  // Platinum
	6: 100, // Diamond
}

func determineRank(level int) int {
	for rank := 6; rank >= 1; rank-- {
		if level >= RankThresholds[rank] {
			return rank
		}
	}
	return 1
}

func RankName(rank int) string {
	switch rank {
	case 1:
		return "Rookie"
	case 2:
		return "Bronze"
	case 3:
		return "Silver"
	case 4:
		return "Gold"
	case 5:
		return "Platinum"
	case 6:
		return "Diamond"
	default:
		if rank > 6 {
			return "Legend"
		}
		return "Rookie"
	}
}

// Progress is the level view derived from an xp total.
type Progress struct {
	UserID      string `json:"user_id"`
	XPTotal     int64  `json:"xp_total"`
	Level       int    `json:"level"`
	Progress    int64  `json:"progress"`
	ProgressMax int64  `json:"progress_max"`
	Rank        int    `json:"rank"`
	RankName    string `json:"rank_name"`
	LeveledUp   bool   `json:"leveled_up,omitempty"`
}

func ProgressFor(userID string, xp int64) Progress {
	level := LevelForXP(xp)
	rank := determineRank(level)
	return Progress{
		UserID:      userID,
		XPTotal:     xp,
		Level:       level,
		Progress:    ProgressForXP(xp),
		ProgressMax: XPPerLevel,
		Rank:        rank,
		RankName:    RankName(rank),
	}
}

// AchievementEvaluator runs after every XP write.
type AchievementEvaluator interface {
	Evaluate(ctx context.Context, st store.Store, userID string) ([]models.AchievementDef, error)
}

type XPService struct {
	ledger    *Ledger
	evaluator AchievementEvaluator
}

func NewXPService(ledger *Ledger) *XPService {
	return &XPService{ledger: ledger}
}

// SetEvaluator wires the achievement engine, which itself awards XP.
func (s *XPService) SetEvaluator(e AchievementEvaluator) {
	s.evaluator = e
}

// AwardXP adds amount to the user's xp total, appends an xp ledger entry and
// then evaluates achievements, all on st.
func (s *XPService) AwardXP(ctx context.Context, st store.Store, userID string, amount int64, action string, metadata map[string]any) (*Progress, error) {
	progress, err := s.addXP(ctx, st, userID, amount, action, metadata)
	if err != nil {
		return nil, err
	}
	if s.evaluator != nil {
		if _, err := s.evaluator.Evaluate(ctx, st, userID); err != nil {
			log.WithError(err).WithField("user_id", userID).Warn("achievement evaluation after XP award failed")
		}
	}
	return progress, nil
}

// addXP is AwardXP without the achievement pass; the achievement engine pays
// its own rewards through it and re-evaluates itself.
func (s *XPService) addXP(ctx context.Context, st store.Store, userID string, amount int64, action string, metadata map[string]any) (*Progress, error) {
	if amount <= 0 {
		return nil, apperrors.Validation("xp amount must be positive")
	}
	if userID == "" {
		return nil, apperrors.Validation("user id is required")
	}

	if _, err := st.EnsureAccount(ctx, userID, models.AccountKindUser); err != nil {
		return nil, fmt.Errorf("ensure account %s: %w", userID, err)
	}
	total, err := st.AddXP(ctx, userID, amount)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("add xp: %w", err)
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["action"] = action
	if _, err := s.ledger.Append(ctx, st, userID, models.LedgerKindXP, amount, total, action, metadata); err != nil {
		return nil, fmt.Errorf("append xp ledger: %w", err)
	}

	progress := ProgressFor(userID, total)
	progress.LeveledUp = LevelForXP(total-amount) < progress.Level
	metrics.RecordXP(action, amount)

	log.WithFields(log.Fields{
		"user_id": userID,
		"xp":      total,
		"level":   progress.Level,
		"action":  action,
	}).Info("🎮 XP awarded")
	return &progress, nil
}

// ProgressOf reads the current level view; unknown users are level 1.
func (s *XPService) ProgressOf(ctx context.Context, st store.Store, userID string) (*Progress, error) {
	acct, err := st.GetAccount(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		p := ProgressFor(userID, 0)
		return &p, nil
	}
	if err != nil {
		return nil, err
	}
	p := ProgressFor(userID, acct.XPTotal)
	return &p, nil
}
