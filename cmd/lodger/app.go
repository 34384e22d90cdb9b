package main

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/warp/lodger-engine/api"
	"github.com/warp/lodger-engine/config"
	"github.com/warp/lodger-engine/logger"
	"github.com/warp/lodger-engine/store/memory"
	"github.com/warp/lodger-engine/store/sqlite"
	"github.com/warp/lodger-engine/tenancy"
)

type store interface {
	tenancy.TxStore
	api.Resetter
}

// app is everything a command needs, built from configuration.
type app struct {
	cfg     *config.Configuration
	log     *logger.Logger
	store   store
	engine  *tenancy.Engine
	sweeper *tenancy.ReminderSweeper
	close   func() error
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}
	if cfg.ConfigFile != "" {
		log.Infow("configuration loaded", "file", cfg.ConfigFile)
	}

	a := &app{cfg: cfg, log: log, close: func() error { return nil }}
	switch cfg.Database.Driver {
	case "memory":
		a.store = memory.New()
		log.Warn("using in-memory store; data is lost on exit")
	default:
		if cfg.Database.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
				return nil, errors.Wrap(err, "failed to create database directory")
			}
		}
		s, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		a.store = s
		a.close = s.Close
		log.Infow("sqlite store opened", "path", cfg.Database.Path)
	}

	tc := cfg.Tenancy()
	a.engine = tenancy.NewEngine(a.store, nil, log, tc)
	a.sweeper = tenancy.NewReminderSweeper(a.store, nil, log, tc)
	return a, nil
}

func (a *app) shutdown() {
	if err := a.close(); err != nil {
		a.log.Warnw("failed to close store", "error", err)
	}
	_ = a.log.Sync()
}
