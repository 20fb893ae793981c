package catalog

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"golang.org/x/sync/singleflight"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/backend"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
)

// settingsRowID identifies the single app_settings row.
const settingsRowID = 1

// SettingsService caches the restaurant settings after the first load.
type SettingsService struct {
	query    backend.Querier
	mutate   backend.Mutator
	logger   aqm.Logger
	defaults restaurant.Settings

	group  singleflight.Group
	mu     sync.RWMutex
	loaded bool
	cur    restaurant.Settings
}

func NewSettingsService(query backend.Querier, mutate backend.Mutator, defaults restaurant.Settings, logger aqm.Logger) *SettingsService {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	defaults.TaxPercent = sanitizeTax(defaults.TaxPercent)
	defaults.RestaurantName = sanitizeName(defaults.RestaurantName)
	return &SettingsService{
		query:    query,
		mutate:   mutate,
		logger:   logger,
		defaults: defaults,
		cur:      defaults,
	}
}

// Load reads the settings row once. A missing row or a failed read keeps the
// configured defaults.
func (s *SettingsService) Load(ctx context.Context) restaurant.Settings {
	s.mu.RLock()
	if s.loaded {
		cur := s.cur
		s.mu.RUnlock()
		return cur
	}
	s.mu.RUnlock()

	v, _, _ := s.group.Do("settings", func() (any, error) {
		settings := s.defaults
		recs, err := s.query.Fetch(ctx, backend.AppSettings, []backend.Filter{backend.Eq("id", settingsRowID)}, nil)
		switch {
		case err != nil:
			s.logger.Error("cannot load settings, using defaults", "error", err)
		case len(recs) == 0:
			s.logger.Info("settings row missing, using defaults")
		default:
			decoded, derr := restaurant.DecodeSettings(recs[0])
			if derr != nil {
				s.logger.Error("skipping malformed record", "error", derr)
				break
			}
			settings = decoded
		}

		s.mu.Lock()
		if !s.loaded {
			s.cur = settings
			s.loaded = true
		}
		settings = s.cur
		s.mu.Unlock()
		return settings, nil
	})
	return v.(restaurant.Settings)
}

func (s *SettingsService) TaxPercent(ctx context.Context) float64 {
	return s.Load(ctx).TaxPercent
}

func (s *SettingsService) RestaurantName(ctx context.Context) string {
	return s.Load(ctx).RestaurantName
}

// UpdateTaxPercent stores a sanitized rate: non-finite and negative values
// become zero. It returns the stored value.
func (s *SettingsService) UpdateTaxPercent(ctx context.Context, rate float64) (float64, error) {
	rate = sanitizeTax(rate)
	if err := s.patch(ctx, backend.Record{"tax_percent": rate}); err != nil {
		return 0, fmt.Errorf("cannot update tax percent: %w", err)
	}
	s.mu.Lock()
	s.cur.TaxPercent = rate
	s.mu.Unlock()
	return rate, nil
}

// UpdateRestaurantName stores the trimmed name, or the default name when
// blank.
func (s *SettingsService) UpdateRestaurantName(ctx context.Context, name string) (string, error) {
	name = sanitizeName(name)
	if err := s.patch(ctx, backend.Record{"restaurant_name": name}); err != nil {
		return "", fmt.Errorf("cannot update restaurant name: %w", err)
	}
	s.mu.Lock()
	s.cur.RestaurantName = name
	s.mu.Unlock()
	return name, nil
}

func (s *SettingsService) patch(ctx context.Context, patch backend.Record) error {
	patch["updated_at"] = time.Now().UTC()
	return s.mutate.Update(ctx, backend.AppSettings, []backend.Filter{backend.Eq("id", settingsRowID)}, patch)
}

func sanitizeTax(rate float64) float64 {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
		return 0
	}
	return rate
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return restaurant.DefaultRestaurantName
	}
	return name
}
