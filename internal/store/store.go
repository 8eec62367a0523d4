package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store wraps a Driver with typed accessors for the well-known slots.
type Store struct {
	driver Driver
}

// NewStore wraps an initialized driver.
func NewStore(driver Driver) *Store {
	return &Store{driver: driver}
}

// Driver exposes the underlying driver.
func (s *Store) Driver() Driver {
	return s.driver
}

// Close closes the underlying driver.
func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) getJSON(ctx context.Context, key string, target interface{}) error {
	data, err := s.driver.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode slot %s: %w", key, err)
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode slot %s: %w", key, err)
	}
	return s.driver.Put(ctx, key, data)
}

// GetPreferences returns the stored preferences, or ErrNotFound.
func (s *Store) GetPreferences(ctx context.Context) (*Preferences, error) {
	var p Preferences
	if err := s.getJSON(ctx, SlotPreferences, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetPreferences replaces the stored preferences.
func (s *Store) SetPreferences(ctx context.Context, p *Preferences) error {
	return s.putJSON(ctx, SlotPreferences, p)
}

// GetConnectivity returns the stored connectivity settings, or ErrNotFound.
func (s *Store) GetConnectivity(ctx context.Context) (*ConnectivitySettings, error) {
	var c ConnectivitySettings
	if err := s.getJSON(ctx, SlotConnectivity, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SetConnectivity replaces the stored connectivity settings.
func (s *Store) SetConnectivity(ctx context.Context, c *ConnectivitySettings) error {
	return s.putJSON(ctx, SlotConnectivity, c)
}

// GetFavoriteCategories returns the stored categories, or ErrNotFound.
func (s *Store) GetFavoriteCategories(ctx context.Context) ([]FavoriteCategory, error) {
	var cats []FavoriteCategory
	if err := s.getJSON(ctx, SlotFavoriteCategories, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// SetFavoriteCategories replaces the stored categories.
func (s *Store) SetFavoriteCategories(ctx context.Context, cats []FavoriteCategory) error {
	return s.putJSON(ctx, SlotFavoriteCategories, cats)
}

// GetFavoritePapers returns the stored papers, or ErrNotFound.
func (s *Store) GetFavoritePapers(ctx context.Context) ([]FavoritePaper, error) {
	var papers []FavoritePaper
	if err := s.getJSON(ctx, SlotFavoritePapers, &papers); err != nil {
		return nil, err
	}
	return papers, nil
}

// SetFavoritePapers replaces the stored papers.
func (s *Store) SetFavoritePapers(ctx context.Context, papers []FavoritePaper) error {
	return s.putJSON(ctx, SlotFavoritePapers, papers)
}

// GetUserID returns the stored user id, or ErrNotFound.
func (s *Store) GetUserID(ctx context.Context) (string, error) {
	var id string
	if err := s.getJSON(ctx, SlotUserID, &id); err != nil {
		return "", err
	}
	return id, nil
}

// SetUserID replaces the stored user id.
func (s *Store) SetUserID(ctx context.Context, id string) error {
	return s.putJSON(ctx, SlotUserID, id)
}

// Reset deletes every well-known slot.
func (s *Store) Reset(ctx context.Context) error {
	for _, key := range []string{SlotPreferences, SlotConnectivity, SlotFavoriteCategories, SlotFavoritePapers, SlotUserID} {
		if err := s.driver.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to reset slot %s: %w", key, err)
		}
	}
	return nil
}
