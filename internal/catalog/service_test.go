package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"flashsaleservice/internal/clock"
	"flashsaleservice/internal/stock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	activities map[int64]Activity
	items      map[int64]Item
	err        error
}

func (r *fakeRepo) GetActivity(_ context.Context, id int64) (Activity, error) {
	if r.err != nil {
		return Activity{}, r.err
	}
	a, ok := r.activities[id]
	if !ok {
		return Activity{}, ErrActivityNotFound
	}
	return a, nil
}

func (r *fakeRepo) GetItem(_ context.Context, id int64) (Item, error) {
	if r.err != nil {
		return Item{}, r.err
	}
	i, ok := r.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return i, nil
}

func (r *fakeRepo) ListOnlineItems(context.Context) ([]Item, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []Item
	for _, i := range r.items {
		if i.Status == StatusOnline {
			out = append(out, i)
		}
	}
	return out, nil
}

func TestService(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 18, 20, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		activities: map[int64]Activity{
			1: {ID: 1, Status: StatusOnline, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)},
			2: {ID: 2, Status: StatusOnline, StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour)},
			3: {ID: 3, Status: StatusOffline, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)},
		},
		items: map[int64]Item{
			10: {ID: 10, ActivityID: 1, Title: "Phone", FlashPrice: decimal.RequireFromString("99.90"), Status: StatusOnline,
				AvailableStock: 5, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)},
			11: {ID: 11, ActivityID: 1, Title: "Ended", Status: StatusOnline,
				AvailableStock: 5, StartTime: now.Add(-2 * time.Hour), EndTime: now},
			12: {ID: 12, ActivityID: 1, Title: "Draft", Status: StatusPublished,
				AvailableStock: 5, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)},
		},
	}
	svc := NewService(repo, clock.NewManual(now))
	ctx := context.Background()

	t.Run("get item reports on sale", func(t *testing.T) {
		item, err := svc.GetItem(ctx, 10)
		require.NoError(t, err)
		assert.True(t, item.OnSale)
		assert.Equal(t, "Phone", item.Title)
		assert.True(t, decimal.RequireFromString("99.9").Equal(item.FlashPrice))

		item, err = svc.GetItem(ctx, 11)
		require.NoError(t, err)
		assert.False(t, item.OnSale, "end time is exclusive")
	})

	t.Run("get unknown item", func(t *testing.T) {
		_, err := svc.GetItem(ctx, 404)
		assert.ErrorIs(t, err, ErrItemNotFound)
	})

	t.Run("activity rules", func(t *testing.T) {
		for id, want := range map[int64]bool{1: true, 2: false, 3: false, 404: false} {
			got, err := svc.IsActivityAllowPlaceOrder(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want, got, "activity %d", id)
		}
	})

	t.Run("item rules", func(t *testing.T) {
		for id, want := range map[int64]bool{10: true, 11: false, 12: false, 404: false} {
			got, err := svc.IsItemAllowPlaceOrder(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want, got, "item %d", id)
		}
	})

	t.Run("seed stock skips ended items", func(t *testing.T) {
		arena := stock.NewArena()
		n, err := svc.SeedStock(ctx, arena)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		left, err := arena.Available(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(5), left)
		_, err = arena.Available(ctx, 11)
		assert.ErrorIs(t, err, stock.ErrUnknownItem)
	})
}

func TestService_RepositoryErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	svc := NewService(&fakeRepo{err: boom}, clock.NewSystem())
	ctx := context.Background()

	_, err := svc.IsActivityAllowPlaceOrder(ctx, 1)
	assert.ErrorIs(t, err, boom)
	_, err = svc.IsItemAllowPlaceOrder(ctx, 1)
	assert.ErrorIs(t, err, boom)
	_, err = svc.SeedStock(ctx, stock.NewArena())
	assert.ErrorIs(t, err, boom)
}
