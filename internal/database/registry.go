package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sync"

	"github.com/FSVS-ISD/materials-management/internal/config"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Registry caches one engine per database identifier for the process
// lifetime. Engines are created on first use under a single registry lock and
// are never evicted or closed; per-request handles borrow pooled connections
// from the cached engine.
//
// The same lock also guards the provisioned-database set, so that
// check-then-provision-then-mark is atomic and two requests can never
// double-provision the same never-seen database.
type Registry struct {
	mu          sync.Mutex
	cfg         config.DatabaseConfig
	log         *zap.Logger
	engines     map[string]*gorm.DB
	provisioned map[string]bool
}

func NewRegistry(cfg config.DatabaseConfig, log *zap.Logger) *Registry {
	return &Registry{
		cfg:         cfg,
		log:         log,
		engines:     make(map[string]*gorm.DB),
		provisioned: make(map[string]bool),
	}
}

// Path returns the filesystem path for a database identifier.
func (r *Registry) Path(dbID string) string {
	return filepath.Join(r.cfg.Dir, dbID)
}

// Get returns the cached engine for dbID, creating it on first use.
func (r *Registry) Get(dbID string) (*gorm.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(dbID)
}

func (r *Registry) getLocked(dbID string) (*gorm.DB, error) {
	if db, ok := r.engines[dbID]; ok {
		return db, nil
	}
	db, err := r.open(dbID)
	if err != nil {
		return nil, err
	}
	r.engines[dbID] = db
	return db, nil
}

// open creates a SQLite database connection with basic tuning.
func (r *Registry) open(dbID string) (*gorm.DB, error) {
	// ensure parent directory exists
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	gormLogger := logger.Default
	if !r.cfg.LogMode {
		gormLogger = gormLogger.LogMode(logger.Silent)
	}

	// DSN pragmas 作用於連線池裡的每一條連線；用 Exec 下 PRAGMA 只會影響
	// 執行那一條，外鍵約束會漏掉其他連線。
	dsn := r.Path(dbID) + "?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbID, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}

	// connection pool
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	r.log.Info("資料庫引擎已建立", zap.String("db", dbID))
	return db, nil
}

// EnsureProvisioned runs schema provisioning for dbID at most once per
// process lifetime. A provisioning failure is not memoized: the error
// propagates and the next request for the same database retries from scratch.
func (r *Registry) EnsureProvisioned(dbID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.provisioned[dbID] {
		return nil
	}

	db, err := r.getLocked(dbID)
	if err != nil {
		return err
	}
	if err := EnsureSchema(db, r.log); err != nil {
		return fmt.Errorf("provision %s: %w", dbID, err)
	}

	r.provisioned[dbID] = true
	r.log.Info("資料庫初始化完成", zap.String("db", dbID))
	return nil
}

// Close closes every cached engine. Used at shutdown and in tests.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for dbID, db := range r.engines {
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				r.log.Warn("關閉資料庫失敗", zap.String("db", dbID), zap.Error(err))
			}
		}
	}
	r.engines = make(map[string]*gorm.DB)
	r.provisioned = make(map[string]bool)
}

// Session returns a request-scoped handle derived from the cached engine.
// Discarding it at request end returns pooled connections to the engine; the
// engine itself stays alive.
func (r *Registry) Session(ctx context.Context, dbID string) (*gorm.DB, error) {
	db, err := r.Get(dbID)
	if err != nil {
		return nil, err
	}
	return db.WithContext(ctx), nil
}
