package catalog

import (
	"context"
	"errors"
	"fmt"

	"flashsaleservice/internal/clock"
	"flashsaleservice/internal/ordertask"
)

type Repository interface {
	GetActivity(ctx context.Context, activityID int64) (Activity, error)
	GetItem(ctx context.Context, itemID int64) (Item, error)
	ListOnlineItems(ctx context.Context) ([]Item, error)
}

// Service answers the order pipeline's catalog and eligibility questions.
type Service struct {
	repo  Repository
	clock clock.Clock
}

func NewService(repo Repository, clk clock.Clock) *Service {
	return &Service{repo: repo, clock: clk}
}

func (s *Service) GetItem(ctx context.Context, itemID int64) (ordertask.Item, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return ordertask.Item{}, err
	}
	return ordertask.Item{
		ID:         item.ID,
		ActivityID: item.ActivityID,
		Title:      item.Title,
		FlashPrice: item.FlashPrice,
		OnSale:     item.OnSale(s.clock.Now()),
	}, nil
}

// IsActivityAllowPlaceOrder reports false, not an error, for unknown activities.
func (s *Service) IsActivityAllowPlaceOrder(ctx context.Context, activityID int64) (bool, error) {
	activity, err := s.repo.GetActivity(ctx, activityID)
	if errors.Is(err, ErrActivityNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get activity %d: %w", activityID, err)
	}
	return activity.AllowsPlaceOrder(s.clock.Now()), nil
}

// IsItemAllowPlaceOrder reports false, not an error, for unknown items.
func (s *Service) IsItemAllowPlaceOrder(ctx context.Context, itemID int64) (bool, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if errors.Is(err, ErrItemNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get item %d: %w", itemID, err)
	}
	return item.OnSale(s.clock.Now()), nil
}

// StockSeeder is satisfied by the stock ledgers.
type StockSeeder interface {
	Seed(ctx context.Context, itemID int64, quantity int64) error
}

// SeedStock loads the available stock of every online item whose sale has
// not ended into ledger. Items already present in the ledger keep their
// current count.
func (s *Service) SeedStock(ctx context.Context, ledger StockSeeder) (int, error) {
	items, err := s.repo.ListOnlineItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("list online items: %w", err)
	}
	now := s.clock.Now()
	seeded := 0
	for _, item := range items {
		if !now.Before(item.EndTime) {
			continue
		}
		if err := ledger.Seed(ctx, item.ID, item.AvailableStock); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}
