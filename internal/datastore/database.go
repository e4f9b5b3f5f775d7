// Package datastore opens the relational store and migrates its schema.
package datastore

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/colossusbot/modwatch/internal/conf"
	"github.com/colossusbot/modwatch/internal/datastore/entities"
	"github.com/colossusbot/modwatch/internal/errors"
	"github.com/colossusbot/modwatch/internal/logger"
)

const (
	mysqlMaxOpenConns    = 10
	mysqlMaxIdleConns    = 5
	mysqlConnMaxLifetime = 30 * time.Minute
	// sqliteBusyTimeoutMs lets concurrent writers wait instead of failing with SQLITE_BUSY.
	sqliteBusyTimeoutMs = 5000
)

// Open connects to the configured database. The returned DB translates driver
// errors, so duplicate-key violations surface as gorm.ErrDuplicatedKey.
func Open(settings *conf.DatabaseSettings, log logger.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:         gormLogger(settings.Debug),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)
	switch settings.Driver {
	case "sqlite":
		db, err = openSQLite(settings.SQLite.Path, cfg)
	case "mysql":
		db, err = gorm.Open(mysql.Open(MySQLDSN(&settings.MySQL)), cfg)
		if err == nil {
			err = tuneMySQLPool(db)
		}
	default:
		err = fmt.Errorf("unsupported database driver %q", settings.Driver)
	}
	if err != nil {
		return nil, errors.Newf("failed to open database: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("driver", settings.Driver).
			Build()
	}

	log.Info("database opened", logger.String("driver", settings.Driver))
	return db, nil
}

func openSQLite(path string, cfg *gorm.Config) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=%d", path, sqliteBusyTimeoutMs)
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway; one connection avoids lock churn.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func tuneMySQLPool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(mysqlMaxOpenConns)
	sqlDB.SetMaxIdleConns(mysqlMaxIdleConns)
	sqlDB.SetConnMaxLifetime(mysqlConnMaxLifetime)
	return nil
}

// MySQLDSN builds a go-sql-driver DSN from settings.
func MySQLDSN(s *conf.MySQLSettings) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = s.Username
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	cfg.DBName = s.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Migrate creates or updates all tables. Safe to run repeatedly.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(entities.All()...); err != nil {
		return errors.Newf("failed to migrate schema: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormLogger(debug bool) gorm_logger.Interface {
	if debug {
		return gorm_logger.Default.LogMode(gorm_logger.Info)
	}
	return gorm_logger.Default.LogMode(gorm_logger.Silent)
}
