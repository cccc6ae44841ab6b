// Package storage records nightly artifact fetches using GORM and SQLite
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/clean-dependency-project/depbox/internal/nightly"
)

// Fetch statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Sentinel errors following Dave Cheney's principle: define errors as values
var (
	ErrNilFetch = errors.New("fetch cannot be nil")
	ErrNotFound = errors.New("fetch not found")
)

// NightlyFetch is one attempt to refresh a cached nightly artifact.
type NightlyFetch struct {
	ID uint `gorm:"primaryKey"`

	Product   string `gorm:"not null;index:idx_product_artifact"`
	Artifact  string `gorm:"not null;index:idx_product_artifact"`
	RunID     int64  `gorm:"not null;index"`
	RunNumber int

	BlobPath string
	Size     int64
	SHA256   string `gorm:"type:varchar(64)"`

	Status       string `gorm:"not null;index"`
	ErrorMessage string

	FetchedAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

// Stats summarizes the fetch history.
type Stats struct {
	Total     int64
	ByStatus  []StatusCount
	ByProduct []ProductCount
}

// StatusCount is the number of fetches with a status.
type StatusCount struct {
	Status string
	Count  int64
}

// ProductCount is the number of fetches for a product.
type ProductCount struct {
	Product string
	Count   int64
}

// DB wraps gorm.DB with the fetch history operations
type DB struct {
	db *gorm.DB
}

var _ nightly.History = (*DB)(nil)

// Config holds database configuration
type Config struct {
	DatabasePath string
	LogLevel     string // silent, error, warn, info
}

// InitDB initializes the database connection and runs migrations
func InitDB(cfg Config) (*DB, error) {
	logLevel := logger.Silent
	switch cfg.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto-migrate schema
	if err := db.AutoMigrate(&NightlyFetch{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

// RecordFetch stores a refresh attempt reported by the nightly cache.
func (d *DB) RecordFetch(ctx context.Context, rec nightly.Record) error {
	fetch := &NightlyFetch{
		Product:   rec.Product,
		Artifact:  rec.Artifact,
		RunID:     rec.RunID,
		RunNumber: rec.RunNumber,
		BlobPath:  rec.BlobPath,
		Size:      rec.Size,
		SHA256:    rec.SHA256,
		Status:    StatusSuccess,
		FetchedAt: rec.FetchedAt,
	}
	if rec.Err != nil {
		fetch.Status = StatusFailed
		fetch.ErrorMessage = rec.Err.Error()
	}
	return d.Create(ctx, fetch)
}

// Create inserts a fetch row.
func (d *DB) Create(ctx context.Context, fetch *NightlyFetch) error {
	if fetch == nil {
		return ErrNilFetch
	}
	if err := d.db.WithContext(ctx).Create(fetch).Error; err != nil {
		return fmt.Errorf("failed to record fetch: %w", err)
	}
	return nil
}

// ListFetches returns the fetches of product, newest first. An empty
// product lists every product. limit <= 0 means no limit.
func (d *DB) ListFetches(ctx context.Context, product string, limit int) ([]*NightlyFetch, error) {
	q := d.db.WithContext(ctx).Order("fetched_at DESC").Order("id DESC")
	if product != "" {
		q = q.Where("product = ?", product)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var fetches []*NightlyFetch
	if err := q.Find(&fetches).Error; err != nil {
		return nil, fmt.Errorf("failed to list fetches: %w", err)
	}
	return fetches, nil
}

// LatestFetch returns the newest successful fetch of an artifact.
func (d *DB) LatestFetch(ctx context.Context, product, artifact string) (*NightlyFetch, error) {
	var fetch NightlyFetch
	err := d.db.WithContext(ctx).
		Where("product = ? AND artifact = ? AND status = ?", product, artifact, StatusSuccess).
		Order("fetched_at DESC").Order("id DESC").
		First(&fetch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest fetch: %w", err)
	}
	return &fetch, nil
}

// Stats returns fetch statistics
func (d *DB) Stats(ctx context.Context) (*Stats, error) {
	db := d.db.WithContext(ctx)
	var stats Stats

	if err := db.Model(&NightlyFetch{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count fetches: %w", err)
	}
	if err := db.Model(&NightlyFetch{}).Select("status, COUNT(*) as count").
		Group("status").Order("status").Scan(&stats.ByStatus).Error; err != nil {
		return nil, fmt.Errorf("failed to get status counts: %w", err)
	}
	if err := db.Model(&NightlyFetch{}).Select("product, COUNT(*) as count").
		Group("product").Order("product").Scan(&stats.ByProduct).Error; err != nil {
		return nil, fmt.Errorf("failed to get product counts: %w", err)
	}
	return &stats, nil
}
