package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/warp/budget-engine/api"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/config"
	"github.com/warp/budget-engine/events"
	"github.com/warp/budget-engine/logging"
	"github.com/warp/budget-engine/store/postgres"
	"github.com/warp/budget-engine/store/sqlite"
)

// engineStore is what both database drivers provide.
type engineStore interface {
	budget.TxStore
	budget.OwnerDirectory
	budget.SpendAggregator
	api.BookLister
	SaveOwner(ctx context.Context, m budget.Member) error
	Close() error
}

var (
	_ engineStore = (*sqlite.Store)(nil)
	_ engineStore = (*postgres.Store)(nil)
)

// openStore connects to the configured database and applies migrations.
func openStore(ctx context.Context, cfg config.Config, log *logging.Logger) (engineStore, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, postgres.Options{
			URL:      cfg.Database.URL,
			MaxConns: int32(cfg.Database.MaxConns),
			Logger:   log,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		path := cfg.Database.SQLitePath
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		s, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		log.WithComponent(logging.ComponentStorage).Info("database ready",
			logging.FieldDriver, config.DriverSQLite,
			"path", path,
		)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// openPublisher returns the AMQP publisher, or a no-op one when no broker
// is configured. The returned close func is never nil.
func openPublisher(cfg config.Config, log *logging.Logger) (budget.EventPublisher, func() error, error) {
	if cfg.AMQP.URL == "" {
		return events.Nop{}, func() error { return nil }, nil
	}
	p, err := events.NewPublisher(events.Config{
		URL:        cfg.AMQP.URL,
		Exchange:   cfg.AMQP.Exchange,
		RoutingKey: cfg.AMQP.RoutingKey,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, p.Close, nil
}

// newEngine wires the instantiator on top of s.
func newEngine(cfg config.Config, s engineStore, pub budget.EventPublisher, log *logging.Logger) *budget.Instantiator {
	opts := []budget.Option{budget.WithLogger(log)}
	if pub != nil {
		opts = append(opts, budget.WithPublisher(pub))
	}
	return budget.NewInstantiator(s, s, s, cfg.InstantiatorConfig(), opts...)
}
