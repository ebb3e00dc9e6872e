// Package sqlstore implements store.NegotiationStore over gorm, supporting
// PostgreSQL, MySQL and SQLite.
package sqlstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Options controls the connection pool.
type Options struct {
	MaxOpenConns int
	LogQueries   bool
}

// Open connects to the database named by driver ("postgres", "mysql" or
// "sqlite").
func Open(driver, dsn string, opts Options) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	logMode := gormLogger.Silent
	if opts.LogQueries {
		logMode = gormLogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError:                           true,
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(logMode),
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}

// isDuplicate detects unique constraint violations. TranslateError covers
// the gorm drivers; the MySQL check catches errors surfaced unwrapped.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return true
	}
	return false
}
