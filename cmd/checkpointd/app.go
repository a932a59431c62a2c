package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	authmw "github.com/mind-engage/mindengage-checkpoint/internal/auth/middleware"
	"github.com/mind-engage/mindengage-checkpoint/internal/catalog"
	"github.com/mind-engage/mindengage-checkpoint/internal/checkpoint"
	"github.com/mind-engage/mindengage-checkpoint/internal/checksum"
	"github.com/mind-engage/mindengage-checkpoint/internal/config"
	"github.com/mind-engage/mindengage-checkpoint/internal/db"
	"github.com/mind-engage/mindengage-checkpoint/internal/logging"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
	"github.com/mind-engage/mindengage-checkpoint/internal/outbox"
	"github.com/mind-engage/mindengage-checkpoint/internal/syncq"
)

// app is the wired process: storage, collaborators, engine and queue.
type app struct {
	cfg    config.Config
	log    *logrus.Logger
	db     *sql.DB
	cat    *catalog.Catalog
	auth   *authmw.AuthService
	events *outbox.SQLLog
	svc    *checkpoint.Service
	queue  *syncq.Queue
}

func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logging.New(cfg.LogLevel, cfg.LogFormat), nil
}

// jwtSecret falls back to a development key only in offline mode.
func jwtSecret(cfg config.Config, log logrus.FieldLogger) (string, error) {
	if cfg.JWTSecret != "" {
		return cfg.JWTSecret, nil
	}
	if cfg.Mode == config.ModeOnline {
		return "", fmt.Errorf("JWT_SECRET is required in online mode")
	}
	log.Warn("JWT_SECRET not set, using the development key")
	return "supersecret-dev-key", nil
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	drv, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(ctx, drv, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("db open failed: %w", err)
	}
	return conn, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	secret, err := jwtSecret(cfg, log)
	if err != nil {
		return nil, err
	}
	alg, err := checksum.Parse(cfg.ChecksumAlgorithm)
	if err != nil {
		return nil, err
	}
	strategies := syncq.Strategies{
		Session:  model.Strategy(cfg.Sync.SessionStrategy),
		Response: model.Strategy(cfg.Sync.ResponseStrategy),
	}
	for _, s := range []model.Strategy{strategies.Session, strategies.Response} {
		if !s.Valid() {
			return nil, fmt.Errorf("unknown sync strategy %q", s)
		}
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	conn, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	events := outbox.NewSQLLog(conn)
	pub := outbox.NewPublisher(events, cfg.SiteID)
	items := syncq.NewSQLStore(conn)
	svc := checkpoint.NewService(checkpoint.NewSQLStore(conn), cat, cat,
		checkpoint.WithProfiles(cat),
		checkpoint.WithIdentity(cat),
		checkpoint.WithPublisher(pub),
		checkpoint.WithSyncGate(syncq.NewGate(items)),
		checkpoint.WithLogger(log.WithField("component", "checkpoint")),
		checkpoint.WithIdleTimeout(cfg.Sweep.IdleTimeout),
		checkpoint.WithOfflineGrace(cfg.Sweep.OfflineGrace),
	)
	q := syncq.New(items, svc,
		syncq.WithPublisher(pub),
		syncq.WithLogger(log),
		syncq.WithAlgorithm(alg),
		syncq.WithStrategies(strategies),
		syncq.WithBackoff(syncq.Backoff{Base: cfg.Sync.BackoffBase, Max: cfg.Sync.BackoffMax}),
		syncq.WithMaxRetries(cfg.Sync.MaxRetries),
	)
	return &app{
		cfg:    cfg,
		log:    log,
		db:     conn,
		cat:    cat,
		auth:   authmw.NewAuthService(secret, cfg.JWTIssuer),
		events: events,
		svc:    svc,
		queue:  q,
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.WithError(err).Warn("db close")
	}
}
