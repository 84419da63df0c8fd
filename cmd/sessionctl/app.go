package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"taeu.kr/sessionkeeper/internal/config"
	"taeu.kr/sessionkeeper/internal/identity"
	"taeu.kr/sessionkeeper/internal/platform/database"
	"taeu.kr/sessionkeeper/internal/platform/logging"
	"taeu.kr/sessionkeeper/internal/session"
	"taeu.kr/sessionkeeper/internal/storage"
)

// app is one running instance: config, durable store and session manager.
type app struct {
	conf     *config.Config
	db       *sql.DB
	manager  *session.Manager
	registry *prometheus.Registry
}

func openApp(ctx context.Context, global globalArgs) (*app, error) {
	conf, err := config.Load(global.env, global.configDir)
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(conf.Log.Level, conf.Log.Format); err != nil {
		return nil, err
	}
	log.Debug().Str("environment", global.env).Str("storage", conf.Storage.Path).Msg("[Main] starting")

	db, err := database.NewDB(conf.Storage.Path, conf.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	durable := storage.NewSQLStore(db)
	manager, err := session.NewManager(ctx, session.Options{
		Durable: durable,
		Watcher: storage.NewWatcher(durable, session.BroadcastKey, storage.WatcherOptions{
			Path:         conf.Storage.Path,
			PollInterval: conf.Storage.PollInterval,
		}),
		Renewer: identity.New(identity.Config{
			Endpoints: map[session.Principal]string{
				session.PrincipalUser:  conf.Identity.UserRefreshURL,
				session.PrincipalAdmin: conf.Identity.AdminRefreshURL,
			},
			Timeout: conf.Identity.Timeout,
		}),
		Metrics:           session.NewMetrics(registry),
		RefreshLeadWindow: conf.Session.RefreshLeadWindow,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("start session manager: %w", err)
	}

	return &app{conf: conf, db: db, manager: manager, registry: registry}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
