package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// Registers the cgo-free "sqlite" database/sql driver used for local development and tests.
	_ "modernc.org/sqlite"
)

// Options tunes the connection pool and statement logging.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          *zap.Logger
	SlowThreshold   time.Duration
}

// Dialect reports which driver a DSN selects.
func Dialect(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// Connect opens PostgreSQL for postgres:// DSNs and SQLite for anything else.
func Connect(ctx context.Context, dsn string, opts Options) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database: dsn is required")
	}

	cfg := &gorm.Config{
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		Logger: newGormLogger(opts.Logger, opts.SlowThreshold),
	}

	var dialector gorm.Dialector
	switch Dialect(dsn) {
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		dialector = gormsqlite.New(gormsqlite.Config{
			DriverName: "sqlite",
			DSN:        dsn,
		})
	}
	if opts.Logger != nil {
		opts.Logger.Info("connecting to database", zap.String("dialect", Dialect(dsn)))
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", Dialect(dsn), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: pool: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type txKey struct{}

// WithTx stores an open transaction on the context so repositories join it.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Conn returns the transaction bound to ctx, or db scoped to ctx when none is open.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// RunInTx executes fn inside a transaction. Nested calls reuse the outer transaction.
func RunInTx(ctx context.Context, db *gorm.DB, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("database: transaction function is required")
	}
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return fn(ctx)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(WithTx(ctx, tx))
	})
}

func newGormLogger(logger *zap.Logger, slow time.Duration) gormlogger.Interface {
	if logger == nil {
		return gormlogger.Discard
	}
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	return &zapGormLogger{logger: logger.Named("gorm"), slow: slow, level: gormlogger.Warn}
}
