package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"loop-economy/apperrors"
	"loop-economy/config"
	"loop-economy/models"
	"loop-economy/store"

	"github.com/gosimple/slug"
)

type CatalogService struct {
	cache *refCache
}

func NewCatalogService() *CatalogService {
	return &CatalogService{cache: newRefCache(4, 30*time.Second)}
}

// List returns active items cheapest first. Served from cache; prices used
// for charging are always read inside the gift transaction instead.
func (s *CatalogService) List(ctx context.Context, st store.Store) ([]models.GiftCatalogItem, error) {
	if v, ok := s.cache.get("active"); ok {
		return v.([]models.GiftCatalogItem), nil
	}
	items, err := st.ListCatalogItems(ctx, true)
	if err != nil {
		return nil, err
	}
	s.cache.put("active", items)
	return items, nil
}

func (s *CatalogService) Upsert(ctx context.Context, st store.Store, item *models.GiftCatalogItem) error {
	if strings.TrimSpace(item.Name) == "" {
		return apperrors.Validation("item name is required")
	}
	if item.CoinPrice < 0 {
		return apperrors.Validation("coin_price must not be negative")
	}
	if item.Multiplier == 0 {
		item.Multiplier = 1
	}
	if item.Multiplier < 1 {
		return apperrors.Validation("multiplier must be at least 1")
	}
	if item.CoinPrice > math.MaxInt64/item.Multiplier {
		return apperrors.Validation("coin_price × multiplier overflows the coin range")
	}
	if item.Slug == "" {
		item.Slug = slug.Make(item.Name)
	}
	return st.UpsertCatalogItem(ctx, item)
}

// Invalidate drops the cached list. Callers run it after the upsert's
// transaction commits.
func (s *CatalogService) Invalidate() {
	s.cache.purge()
}

func (s *CatalogService) Seed(ctx context.Context, st store.Store, seeds []config.CatalogSeed) error {
	for _, c := range seeds {
		item := &models.GiftCatalogItem{
			Slug:            c.Slug,
			Name:            c.Name,
			Emoji:           c.Emoji,
			CoinPrice:       c.CoinPrice,
			Multiplier:      c.Multiplier,
			GrantsInventory: c.GrantsInventory,
			IsActive:        true,
		}
		if err := s.Upsert(ctx, st, item); err != nil {
			return fmt.Errorf("seed catalog item %q: %w", c.Name, err)
		}
	}
	return nil
}
