package catalog

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

// Menu is what a menu or order page needs in one go.
type Menu struct {
	Categories []restaurant.MenuCategory
	Items      []restaurant.MenuItem
	Groups     []Group
	Settings   restaurant.Settings
}

// LoadMenu fetches categories, items and settings concurrently. With
// availableOnly set, unavailable items are left out.
func LoadMenu(ctx context.Context, menu *MenuService, settings *SettingsService, availableOnly bool) (Menu, error) {
	var m Menu
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cats, err := menu.Categories(gctx)
		m.Categories = cats
		return err
	})
	g.Go(func() error {
		var err error
		if availableOnly {
			m.Items, err = menu.AvailableItems(gctx)
		} else {
			m.Items, err = menu.AllItems(gctx)
		}
		return err
	})
	g.Go(func() error {
		m.Settings = settings.Load(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return Menu{}, err
	}
	m.Groups = GroupByCategory(m.Categories, m.Items)
	return m, nil
}
