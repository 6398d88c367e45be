package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrActivityNotFound = errors.New("flash activity not found")
	ErrItemNotFound     = errors.New("flash item not found")
)

// Status values shared by activities and items.
type Status string

const (
	StatusPublished Status = "published"
	StatusOnline    Status = "online"
	StatusOffline   Status = "offline"
)

// Activity is a time-boxed flash sale.
type Activity struct {
	ID        int64
	Title     string
	Status    Status
	StartTime time.Time
	EndTime   time.Time
}

// InWindow reports whether now falls in [StartTime, EndTime).
func (a Activity) InWindow(now time.Time) bool {
	return !now.Before(a.StartTime) && now.Before(a.EndTime)
}

// AllowsPlaceOrder reports whether the activity accepts orders at now.
func (a Activity) AllowsPlaceOrder(now time.Time) bool {
	return a.Status == StatusOnline && a.InWindow(now)
}

// Item is a flash item sold within an activity.
type Item struct {
	ID             int64
	ActivityID     int64
	Title          string
	FlashPrice     decimal.Decimal
	Status         Status
	InitialStock   int64
	AvailableStock int64
	StartTime      time.Time
	EndTime        time.Time
}

func (i Item) InWindow(now time.Time) bool {
	return !now.Before(i.StartTime) && now.Before(i.EndTime)
}

// OnSale reports whether the item is online and inside its sale window.
func (i Item) OnSale(now time.Time) bool {
	return i.Status == StatusOnline && i.InWindow(now)
}
