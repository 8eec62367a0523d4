// Package json implements a JSON file-based persistence driver.
// It uses atomic writes (temp file + fsync + rename) and in-process locking.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/papersync/papersync/internal/cfg"
	"github.com/papersync/papersync/internal/store"
)

func init() {
	store.Register("json", NewDriver)
}

// options are the driver-specific settings from [store.drivers.json].
type options struct {
	Filename string `mapstructure:"filename"`
}

func (o *options) ApplyDefaults() {
	if o.Filename == "" {
		o.Filename = "slots.json"
	}
}

// Driver implements the store.Driver interface using a JSON file.
type Driver struct {
	dataDir  string
	filename string
	mu       sync.RWMutex
	closed   bool

	// In-memory state loaded from JSON
	slots map[string]json.RawMessage
}

// NewDriver creates a new JSON driver instance.
func NewDriver(dc *store.DriverConfig) (store.Driver, error) {
	if dc.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required for json driver")
	}

	var opts options
	if err := cfg.Decode(dc.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid json driver options: %w", err)
	}

	return &Driver{
		dataDir:  dc.DataDir,
		filename: opts.Filename,
		slots:    make(map[string]json.RawMessage),
	}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "json"
}

// Init loads data from the slots file.
func (d *Driver) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	if err := d.loadFile(d.filename, &d.slots); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load slots: %w", err)
	}

	return nil
}

// Close releases resources.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Get retrieves the raw document stored under key.
func (d *Driver) Get(ctx context.Context, key string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, store.ErrClosed
	}

	value, ok := d.slots[key]
	if !ok {
		return nil, store.ErrNotFound
	}

	// Return a copy so callers cannot mutate the stored value
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put stores the raw document under key.
func (d *Driver) Put(ctx context.Context, key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return store.ErrClosed
	}

	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	d.slots[key] = stored

	return d.saveFile(d.filename, d.slots)
}

// Delete removes the document under key.
func (d *Driver) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return store.ErrClosed
	}

	if _, ok := d.slots[key]; !ok {
		return nil
	}

	delete(d.slots, key)
	return d.saveFile(d.filename, d.slots)
}

// Keys lists all keys that currently hold a document.
func (d *Driver) Keys(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, store.ErrClosed
	}

	keys := make([]string, 0, len(d.slots))
	for key := range d.slots {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// loadFile loads a JSON file into the target map.
func (d *Driver) loadFile(filename string, target interface{}) error {
	path := filepath.Join(d.dataDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// saveFile atomically writes data to a JSON file.
// Pattern: write to temp file, fsync, rename.
func (d *Driver) saveFile(filename string, data interface{}) error {
	path := filepath.Join(d.dataDir, filename)
	tempPath := path + ".tmp"

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := f.Write(jsonData); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Fsync to ensure data is on disk
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
