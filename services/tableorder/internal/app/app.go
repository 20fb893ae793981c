// Package app assembles the table ordering service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/fileserver"
	"github.com/aquamarinepk/aqm/middleware"
	"github.com/aquamarinepk/aqm/template"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/appetiteclub/tableorder/services/tableorder/internal/catalog"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/demo"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/orders"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/restaurant"
	"github.com/appetiteclub/tableorder/services/tableorder/internal/web"
)

const (
	AppName    = "tableorder"
	AppVersion = "0.1.0"
)

// App encapsulates the table ordering service.
type App struct {
	config  *aqm.Config
	logger  aqm.Logger
	assets  fs.FS
	backend *Backend
	micro   *aqm.Micro
}

func New(config *aqm.Config, logger aqm.Logger, assets fs.FS) (*App, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &App{config: config, logger: logger, assets: assets}, nil
}

// Initialize wires drivers, services and the HTTP surface.
func (a *App) Initialize(ctx context.Context) error {
	b, err := OpenBackend(a.config, a.logger)
	if err != nil {
		return fmt.Errorf("cannot open backend: %w", err)
	}
	a.backend = b

	menuSvc := catalog.NewMenuService(b.Store, b.Store, a.logger)
	settingsSvc := catalog.NewSettingsService(b.Store, b.Store, a.settingsDefaults(), a.logger)

	money, err := web.NewMoneyFormat(a.config.GetStringOrDef("money.currency", "USD"), a.config.GetStringOrDef("money.locale", "en"))
	if err != nil {
		return fmt.Errorf("cannot set up money format: %w", err)
	}

	fileServer := fileserver.New(a.assets, fileserver.WithLogger(a.logger))
	tmplMgr := template.NewManager(a.assets, template.WithLogger(a.logger))

	handler := web.NewHandler(web.Deps{
		Templates: tmplMgr,
		Menu:      menuSvc,
		Settings:  settingsSvc,
		Auth:      b.Auth,
		Orders: orders.Deps{
			Query:  b.Store,
			Mutate: b.Store,
			Feed:   b.Feed,
			Locker: b.Locker,
			Logger: a.logger,
		},
		Money:  money,
		Config: a.config,
		Logger: a.logger,
	})

	stack := middleware.DefaultStack(middleware.StackOptions{
		Logger: a.logger,
	})
	stack = append(stack, chimw.NoCache)

	lifecycles := append([]interface{}{}, b.Lifecycles()...)
	lifecycles = append(lifecycles, tmplMgr)
	if seed, _ := a.config.GetString("seeding.demo"); seed == "true" {
		lifecycles = append(lifecycles, aqm.LifecycleHooks{
			OnStart: func(ctx context.Context) error {
				if err := demo.Seed(ctx, b.Store, demo.DefaultOptions(), a.logger); err != nil {
					a.logger.Errorf("Demo seeding failed (non-fatal): %v", err)
				}
				return nil
			},
		})
	}

	options := []aqm.Option{
		aqm.WithConfig(a.config),
		aqm.WithLogger(a.logger),
		aqm.WithHTTPMiddleware(stack...),
		aqm.WithRouterConfigurator(func(mux *chi.Mux) {
			aqm.RedirectNotFound(mux, "/")
		}),
		aqm.WithHTTPServerModules("web.port", fileServer, handler),
		aqm.WithLifecycle(lifecycles...),
		aqm.WithHealthChecks(AppName),
	}

	a.micro = aqm.NewMicro(options...)
	return nil
}

func (a *App) settingsDefaults() restaurant.Settings {
	defaults := restaurant.Settings{
		RestaurantName: a.config.GetStringOrDef("settings.restaurant_name", restaurant.DefaultRestaurantName),
	}
	if raw, _ := a.config.GetString("settings.tax_percent"); raw != "" {
		if rate, err := strconv.ParseFloat(raw, 64); err == nil && rate >= 0 {
			defaults.TaxPercent = rate
		} else {
			a.logger.Info("ignoring invalid settings.tax_percent", "value", raw)
		}
	}
	return defaults
}

// Run starts the application and blocks until ctx ends.
func (a *App) Run(ctx context.Context) error {
	if a.micro == nil {
		return errors.New("app not initialized")
	}
	a.logger.Infof("Starting %s(%s)", AppName, AppVersion)
	if err := a.micro.Run(ctx); err != nil {
		return err
	}
	a.logger.Infof("%s(%s) stopped", AppName, AppVersion)
	return nil
}
