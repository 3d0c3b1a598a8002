// File: cmd/factory.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/veilcore/internal/config"
	"github.com/xkilldash9x/veilcore/internal/driver"
	"github.com/xkilldash9x/veilcore/internal/engine"
	"github.com/xkilldash9x/veilcore/internal/humanize"
	"github.com/xkilldash9x/veilcore/internal/netident"
	"github.com/xkilldash9x/veilcore/internal/observability"
	"github.com/xkilldash9x/veilcore/internal/session"
	"github.com/xkilldash9x/veilcore/internal/solver"
	"github.com/xkilldash9x/veilcore/internal/store"
)

// Components holds the initialized services for one engine run. It centralizes
// lifecycle management so the commands only wire and release in one place.
type Components struct {
	Store     store.Store
	Network   *netident.Manager
	Sessions  *session.Controller
	Humanizer *humanize.Humanizer
	Solver    *solver.Orchestrator
	Automator driver.Automator
	Engine    *engine.Engine

	dbPool  *pgxpool.Pool
	redisCl interface{ Close() error }
	maxmind interface{ Close() error }
}

// Shutdown releases resources in reverse dependency order.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()

	if c.Automator != nil {
		if err := c.Automator.Close(); err != nil {
			logger.Warn("Error closing browser", zap.Error(err))
		}
	}
	if c.maxmind != nil {
		if err := c.maxmind.Close(); err != nil {
			logger.Warn("Error closing geo database", zap.Error(err))
		}
	}
	if c.redisCl != nil {
		if err := c.redisCl.Close(); err != nil {
			logger.Warn("Error closing redis client", zap.Error(err))
		}
	}
	if c.dbPool != nil {
		c.dbPool.Close()
	}
	logger.Info("All components shut down.")
}

// buildStore selects the persistence backend from config.
func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, c *Components) (store.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		st, err := store.NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		c.dbPool = pool
		return st, nil

	case "redis":
		st, err := store.NewRedisStore(ctx, cfg.Store.RedisURL, "veilcore", logger)
		if err != nil {
			return nil, err
		}
		c.redisCl = st
		return st, nil

	default:
		return store.NewFileStore(cfg.Store.FilePath, logger)
	}
}

// buildGeoProvider selects the identity lookup source from config.
func buildGeoProvider(cfg *config.Config, logger *zap.Logger, c *Components) (netident.GeoProvider, error) {
	if cfg.Network.GeoProvider == "maxmind" {
		echo := netident.HTTPIPEcho(cfg.Network.IPEchoURL, cfg.Network.LookupTimeout)
		p, err := netident.NewMaxMindProvider(cfg.Network.MaxMindDBPath, echo, logger)
		if err != nil {
			return nil, err
		}
		c.maxmind = p
		return p, nil
	}
	return netident.NewHTTPProvider(cfg.Network.GeoLookupURL, cfg.Network.LookupTimeout, logger), nil
}

// createComponents performs the full dependency wiring. withBrowser controls
// whether a real browser process is launched; one-shot commands skip it.
func createComponents(ctx context.Context, cfg *config.Config, withBrowser bool) (*Components, error) {
	logger := observability.GetLogger()
	c := &Components{}

	var initErr error
	defer func() {
		if initErr != nil {
			c.Shutdown()
		}
	}()

	st, err := buildStore(ctx, cfg, logger, c)
	if err != nil {
		initErr = err
		return nil, initErr
	}
	c.Store = st

	provider, err := buildGeoProvider(cfg, logger, c)
	if err != nil {
		initErr = err
		return nil, initErr
	}

	c.Network, err = netident.New(ctx, cfg.Network, provider, st, logger)
	if err != nil {
		initErr = fmt.Errorf("failed to initialize network identity manager: %w", err)
		return nil, initErr
	}

	c.Sessions, err = session.New(ctx, cfg.Session, st, logger)
	if err != nil {
		initErr = fmt.Errorf("failed to initialize session controller: %w", err)
		return nil, initErr
	}

	c.Humanizer = humanize.New(cfg.Humanize, logger)

	if !withBrowser {
		return c, nil
	}

	c.Automator, err = driver.NewChromedpAutomator(ctx, cfg.Browser, logger)
	if err != nil {
		initErr = fmt.Errorf("failed to start browser: %w", err)
		return nil, initErr
	}

	detector := solver.NewPageDetector(c.Automator, nil, logger)
	submitter := solver.NewPageSubmitter(c.Automator, solver.SubmitSelectors{}, c.Humanizer, logger)
	remote := solver.NewRemoteSolver(cfg.Solver, logger)
	c.Solver = solver.New(cfg.Solver, logger, detector, remote, submitter, c.Humanizer)

	c.Engine = engine.New(cfg.Engine, logger, c.Network, c.Sessions, c.Humanizer, c.Solver, c.Automator)
	return c, nil
}
