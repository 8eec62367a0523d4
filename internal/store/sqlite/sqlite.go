// Package sqlite implements a SQLite-based persistence driver using GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/papersync/papersync/internal/cfg"
	"github.com/papersync/papersync/internal/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// options are the driver-specific settings from [store.drivers.sqlite].
type options struct {
	Filename      string `mapstructure:"filename"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
}

func (o *options) ApplyDefaults() {
	if o.Filename == "" {
		o.Filename = "papersync.db"
	}
	if o.BusyTimeoutMS == 0 {
		o.BusyTimeoutMS = 5000
	}
}

// Slot is the database model for a keyed document.
type Slot struct {
	Key   string `gorm:"primaryKey"`
	Value []byte
}

// Driver implements the store.Driver interface using SQLite via GORM.
type Driver struct {
	dataDir string
	opts    options
	db      *gorm.DB
}

// NewDriver creates a new SQLite driver instance.
func NewDriver(dc *store.DriverConfig) (store.Driver, error) {
	if dc.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for sqlite driver")
	}

	var opts options
	if err := cfg.Decode(dc.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid sqlite driver options: %w", err)
	}

	return &Driver{
		dataDir: dc.DataDir,
		opts:    opts,
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Init initializes the SQLite database and runs AutoMigrate.
func (d *Driver) Init(ctx context.Context) error {
	dbPath := filepath.Join(d.dataDir, d.opts.Filename)
	dsn := fmt.Sprintf("%s?_busy_timeout=%d", dbPath, d.opts.BusyTimeoutMS)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	d.db = db

	if err := db.AutoMigrate(&Slot{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get retrieves the raw document stored under key.
func (d *Driver) Get(ctx context.Context, key string) ([]byte, error) {
	var slot Slot
	result := d.db.WithContext(ctx).First(&slot, "key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return slot.Value, nil
}

// Put stores the raw document under key, replacing any previous value.
func (d *Driver) Put(ctx context.Context, key string, value []byte) error {
	slot := Slot{Key: key, Value: value}
	result := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&slot)
	return result.Error
}

// Delete removes the document under key.
func (d *Driver) Delete(ctx context.Context, key string) error {
	result := d.db.WithContext(ctx).Delete(&Slot{}, "key = ?", key)
	return result.Error
}

// Keys lists all keys that currently hold a document.
func (d *Driver) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	result := d.db.WithContext(ctx).Model(&Slot{}).Order("key").Pluck("key", &keys)
	if result.Error != nil {
		return nil, result.Error
	}
	return keys, nil
}
