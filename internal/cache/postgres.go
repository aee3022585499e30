package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

type cacheEntry struct {
	Key       string `gorm:"primaryKey;size:128"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (cacheEntry) TableName() string {
	return "tracking_cache"
}

// PostgresKV stores entries in a shared PostgreSQL table through gorm.
type PostgresKV struct {
	db *gorm.DB
}

// OpenPostgres connects with dsn and migrates the cache table.
func OpenPostgres(ctx context.Context, dsn, environment string, log *zap.Logger) (*PostgresKV, error) {
	if log == nil {
		log = zap.NewNop()
	}

	gormLogLevel := gormLogger.Info
	if environment == "production" {
		gormLogLevel = gormLogger.Warn
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DriverName: "pgx",
		DSN:        dsn,
	}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&cacheEntry{}); err != nil {
		return nil, fmt.Errorf("migrate cache table: %w", err)
	}

	log.Info("Cache database connection established", zap.Int("max_open_connections", 5))

	return &PostgresKV{db: db}, nil
}

func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var entry cacheEntry
	err := p.db.WithContext(ctx).Where("key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return entry.Value, nil
}

func (p *PostgresKV) Put(ctx context.Context, key string, value []byte) error {
	entry := cacheEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (p *PostgresKV) Delete(ctx context.Context, key string) error {
	if err := p.db.WithContext(ctx).Where("key = ?", key).Delete(&cacheEntry{}).Error; err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (p *PostgresKV) Health() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (p *PostgresKV) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
