// Package storage keeps the publish ledger: every application version the
// pipeline published to the catalog and every pipeline run, in SQLite
// through GORM.
package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Sentinel errors
var (
	ErrNilPublication = errors.New("publication cannot be nil")
	ErrNotFound       = errors.New("publication not found")
	ErrEmptyApp       = errors.New("app cannot be empty")
)

// Publication statuses. An incomplete publication is a catalog entry whose
// content could not be attached; the pipeline publishes that version again.
const (
	PublicationComplete   = "complete"
	PublicationIncomplete = "incomplete"
)

// Publication is one application version created in the catalog.
type Publication struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	RunID string `gorm:"not null;index" json:"run_id"`

	// What was published
	App               string `gorm:"not null;index:idx_app_version;uniqueIndex:idx_unique_publication" json:"app"`
	Version           string `gorm:"not null;index:idx_app_version;uniqueIndex:idx_unique_publication" json:"version"`
	NormalizedVersion string `json:"normalized_version"`
	DisplayName       string `gorm:"not null" json:"display_name"`
	Publisher         string `json:"publisher"`
	Source            string `json:"source"`
	SourceURI         string `gorm:"not null" json:"source_uri"`

	// Where it lives in the catalog
	CatalogAppID string `gorm:"not null;uniqueIndex:idx_unique_publication" json:"catalog_app_id"`
	Status       string `gorm:"not null;default:complete;index" json:"status"`

	// Installer and package integrity
	InstallerSHA256    string `json:"installer_sha256"`
	Verification       string `json:"verification"`
	PackageFileName    string `json:"package_file_name"`
	PackageSize        int64  `json:"package_size"`
	PackageFingerprint string `json:"package_blake3"`

	// Assignment outcome
	AssignmentsSubmitted int `gorm:"not null;default:0" json:"assignments_submitted"`
	AssignmentsFailed    int `gorm:"not null;default:0" json:"assignments_failed"`

	PublishedAt time.Time `gorm:"not null;index" json:"published_at"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// DB wraps gorm.DB with the ledger operations.
type DB struct {
	db *gorm.DB
}

// Config holds database configuration
type Config struct {
	DatabasePath string
	LogLevel     string // silent, error, warn, info
}

// InitDB opens the ledger and migrates the schema.
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

	if err := db.AutoMigrate(&Publication{}, &Run{}); err != nil {
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

// RecordPublication stores a publication. PublishedAt defaults to now and
// Status to PublicationComplete.
func (d *DB) RecordPublication(p *Publication) error {
	if p == nil {
		return ErrNilPublication
	}
	if strings.TrimSpace(p.App) == "" {
		return ErrEmptyApp
	}
	if p.Status == "" {
		p.Status = PublicationComplete
	}
	if p.PublishedAt.IsZero() {
		p.PublishedAt = time.Now().UTC()
	}
	if err := d.db.Create(p).Error; err != nil {
		return fmt.Errorf("failed to record publication: %w", err)
	}
	return nil
}

// UpdateAssignments records the assignment outcome of a published app.
func (d *DB) UpdateAssignments(catalogAppID string, submitted, failed int) error {
	res := d.db.Model(&Publication{}).Where("catalog_app_id = ?", catalogAppID).Updates(map[string]interface{}{
		"assignments_submitted": submitted,
		"assignments_failed":    failed,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update assignments for %s: %w", catalogAppID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: catalog app %s", ErrNotFound, catalogAppID)
	}
	return nil
}

// IsPublished reports whether the ledger holds a complete publication of app
// at version.
func (d *DB) IsPublished(app, version string) (bool, error) {
	var count int64
	err := d.db.Model(&Publication{}).
		Where("app = ? AND version = ? AND status = ?", app, version, PublicationComplete).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check publication: %w", err)
	}
	return count > 0, nil
}

// HasIncomplete reports whether any of the catalog apps is recorded as an
// incomplete publication.
func (d *DB) HasIncomplete(catalogAppIDs []string) (bool, error) {
	if len(catalogAppIDs) == 0 {
		return false, nil
	}
	var count int64
	err := d.db.Model(&Publication{}).
		Where("catalog_app_id IN ? AND status = ?", catalogAppIDs, PublicationIncomplete).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check incomplete publications: %w", err)
	}
	return count > 0, nil
}

// ListPublications returns every publication, newest first.
func (d *DB) ListPublications() ([]*Publication, error) {
	var out []*Publication
	if err := d.db.Order("published_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}
	return out, nil
}

// ListByApp returns the publications of app, newest first.
func (d *DB) ListByApp(app string) ([]*Publication, error) {
	var out []*Publication
	if err := d.db.Where("app = ?", app).Order("published_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list publications for %s: %w", app, err)
	}
	return out, nil
}

// AppCount is the number of publications of one app.
type AppCount struct {
	App   string `json:"app"`
	Count int64  `json:"count"`
}

// Stats summarizes the ledger. Publication counts cover complete
// publications only.
type Stats struct {
	TotalPublications      int64      `json:"total_publications"`
	IncompletePublications int64      `json:"incomplete_publications"`
	TotalRuns              int64      `json:"total_runs"`
	FailedRuns             int64      `json:"failed_runs"`
	ByApp                  []AppCount `json:"by_app"`
}

// GetStats returns ledger statistics.
func (d *DB) GetStats() (Stats, error) {
	var s Stats
	if err := d.db.Model(&Publication{}).Where("status = ?", PublicationComplete).
		Count(&s.TotalPublications).Error; err != nil {
		return Stats{}, fmt.Errorf("failed to count publications: %w", err)
	}
	if err := d.db.Model(&Publication{}).Where("status = ?", PublicationIncomplete).
		Count(&s.IncompletePublications).Error; err != nil {
		return Stats{}, fmt.Errorf("failed to count incomplete publications: %w", err)
	}
	if err := d.db.Model(&Run{}).Count(&s.TotalRuns).Error; err != nil {
		return Stats{}, fmt.Errorf("failed to count runs: %w", err)
	}
	if err := d.db.Model(&Run{}).Where("status = ?", RunStatusFailed).Count(&s.FailedRuns).Error; err != nil {
		return Stats{}, fmt.Errorf("failed to count failed runs: %w", err)
	}
	if err := d.db.Model(&Publication{}).Select("app, COUNT(*) as count").
		Where("status = ?", PublicationComplete).Group("app").Order("app").Scan(&s.ByApp).Error; err != nil {
		return Stats{}, fmt.Errorf("failed to get app counts: %w", err)
	}
	return s, nil
}
