package cache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Manager binds a Storage to the store names of one version tag.
type Manager struct {
	storage Storage
	names   Names
	logger  zerolog.Logger
}

// NewManager creates a cache manager for the given version tag.
func NewManager(storage Storage, version string) *Manager {
	if storage == nil {
		panic("cache storage cannot be nil")
	}
	if version == "" {
		version = DefaultVersion
	}
	return &Manager{
		storage: storage,
		names:   NamesForVersion(version),
		logger:  log.With().Str("component", "cache").Str("version", version).Logger(),
	}
}

// Names returns the current store names.
func (m *Manager) Names() Names {
	return m.names
}

// Storage returns the underlying storage.
func (m *Manager) Storage() Storage {
	return m.storage
}

// Static opens the static asset store.
func (m *Manager) Static(ctx context.Context) (Store, error) {
	return m.storage.Open(ctx, m.names.Static)
}

// API opens the API response store.
func (m *Manager) API(ctx context.Context) (Store, error) {
	return m.storage.Open(ctx, m.names.API)
}

// EvictStale deletes every store whose name is not one of the current names.
// It returns the names it deleted; a second run with the same version
// deletes nothing.
func (m *Manager) EvictStale(ctx context.Context) ([]string, error) {
	names, err := m.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}

	var deleted []string
	for _, name := range names {
		if m.names.Current(name) {
			continue
		}
		existed, err := m.storage.Delete(ctx, name)
		if err != nil {
			return deleted, fmt.Errorf("delete store %s: %w", name, err)
		}
		if existed {
			m.logger.Info().Str("store", name).Msg("Deleted old cache store")
			deleted = append(deleted, name)
		}
	}
	return deleted, nil
}

// Clear deletes both current stores unconditionally.
func (m *Manager) Clear(ctx context.Context) error {
	for _, name := range []string{m.names.Static, m.names.API} {
		if _, err := m.storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete store %s: %w", name, err)
		}
	}
	m.logger.Info().Msg("Cleared cache stores")
	return nil
}
