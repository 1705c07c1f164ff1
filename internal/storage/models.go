package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/kalambet/emobot/internal/profile"
)

// ErrUnsupportedDSN is returned by Open for connection strings no engine accepts.
var ErrUnsupportedDSN = errors.New("unsupported storage dsn")

// Store is a durable profile store.
type Store interface {
	profile.Store
	Ping(ctx context.Context) error
	Close() error
}

// profileRow mirrors one row of the profiles table.
type profileRow struct {
	Identity        string
	DisplayName     string
	ScanningEnabled bool
	UpdatedAt       string
}

// itemRow mirrors one row of the profile_items table.
type itemRow struct {
	Identity string
	Category string
	Position int
	Item     string
}

// flattenItems turns the categories of p into rows with positions that
// preserve insertion order.
func flattenItems(p profile.Profile) []itemRow {
	rows := make([]itemRow, 0, p.Categories.Len())
	for _, c := range profile.AllCategories {
		for i, item := range p.Categories.List(c) {
			rows = append(rows, itemRow{
				Identity: p.Identity,
				Category: string(c),
				Position: i,
				Item:     item,
			})
		}
	}
	return rows
}

// attachItems appends items to the matching profile, ordered by position.
// Items of unknown categories or identities are ignored.
func attachItems(profiles []profile.Profile, items []itemRow) {
	index := make(map[string]int, len(profiles))
	for i, p := range profiles {
		index[p.Identity] = i
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Identity != items[j].Identity {
			return items[i].Identity < items[j].Identity
		}
		if items[i].Category != items[j].Category {
			return items[i].Category < items[j].Category
		}
		return items[i].Position < items[j].Position
	})

	for _, it := range items {
		i, ok := index[it.Identity]
		if !ok {
			continue
		}
		c, err := profile.ParseCategory(it.Category)
		if err != nil {
			continue
		}
		profiles[i].Add(c, it.Item)
	}
}
