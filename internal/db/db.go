package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"usersvc/internal/config"
	"usersvc/internal/docstore"
)

// NewGorm returns a connected GORM DB instance for a relational driver.
// Error translation is always enabled so unique violations can be detected.
func NewGorm(driver, dsn, dataDir string, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case config.DriverSQLite:
		if dsn == "" {
			if err := os.MkdirAll(dataDir, 0o750); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(dataDir, "users.db")
		}
		dialector = sqlite.Open(dsn)
	case config.DriverMySQL:
		dialector = mysql.Open(dsn)
	case config.DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	logMode := logger.Silent
	if debug {
		logMode = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logMode),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	return db, nil
}

// NewBadger opens (or creates) the Badger database below dataDir.
func NewBadger(dataDir string, log *zap.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(filepath.Join(dataDir, "badger")).
		WithLogger(docstore.NewBadgerLogger(log))
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// OpenCollection builds the document collection selected by cfg. The
// returned close function releases the underlying connection.
func OpenCollection(cfg *config.Config, log *zap.Logger) (docstore.Collection, func() error, error) {
	if cfg.StoreDriver == config.DriverBadger {
		bdb, err := NewBadger(cfg.StoreDataDir, log)
		if err != nil {
			return nil, nil, err
		}
		return docstore.NewBadgerCollection(bdb, cfg.StoreCollection), bdb.Close, nil
	}

	gdb, err := NewGorm(cfg.StoreDriver, cfg.StoreDSN, cfg.StoreDataDir, cfg.StoreDebug)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("database handle: %w", err)
	}
	coll, err := docstore.NewGormCollection(gdb, cfg.StoreCollection)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return coll, sqlDB.Close, nil
}
