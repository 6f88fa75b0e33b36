package store

import (
	"strings"

	"github.com/seesee/jottery/internal/apperr"
	bolt "go.etcd.io/bbolt"
)

// SettingsRepository implements the settings get/update operations from
// spec.md §4.2. Settings are not encrypted: they carry no sensitive
// content and the relay never sees the local file at all.
type SettingsRepository struct {
	store *Store
}

// Get returns the current settings, or DefaultSettings if none have
// been written yet.
func (r *SettingsRepository) Get() (Settings, error) {
	var s Settings
	err := r.store.db().View(func(tx *bolt.Tx) error {
		getErr := getJSON(tx, bucketSettings, []byte(singletonKey), &s)
		if apperr.Is(getErr, apperr.KindNotFound) {
			s = DefaultSettings()
			return nil
		}
		return getErr
	})
	return s, err
}

// Update validates and writes the full settings row.
func (r *SettingsRepository) Update(s Settings) error {
	if err := validateSettings(s); err != nil {
		return err
	}
	return r.store.db().Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketSettings, []byte(singletonKey), s)
	})
}

// SetSyncEnabled toggles sync without touching other fields.
func (r *SettingsRepository) SetSyncEnabled(enabled bool) error {
	return r.mutate(func(s *Settings) { s.SyncEnabled = enabled })
}

// SetSyncEndpoint sets the relay endpoint URL without touching other
// fields.
func (r *SettingsRepository) SetSyncEndpoint(endpoint string) error {
	return r.mutate(func(s *Settings) { s.SyncEndpoint = endpoint })
}

// SetTheme sets the UI theme without touching other fields.
func (r *SettingsRepository) SetTheme(theme string) error {
	return r.mutate(func(s *Settings) { s.Theme = theme })
}

// SetSortOrder sets the note sort order without touching other fields.
func (r *SettingsRepository) SetSortOrder(order string) error {
	return r.mutate(func(s *Settings) { s.SortOrder = order })
}

// SetAutoLockTimeout sets the auto-lock timeout in minutes; must be
// between 1 and 1440.
func (r *SettingsRepository) SetAutoLockTimeout(minutes int) error {
	if minutes < 1 || minutes > 1440 {
		return apperr.New(apperr.KindInvalidInput, "auto-lock timeout must be between 1 and 1440 minutes")
	}
	return r.mutate(func(s *Settings) { s.AutoLockTimeout = minutes })
}

func (r *SettingsRepository) mutate(fn func(*Settings)) error {
	return r.store.db().Update(func(tx *bolt.Tx) error {
		var s Settings
		if getErr := getJSON(tx, bucketSettings, []byte(singletonKey), &s); getErr != nil {
			if !apperr.Is(getErr, apperr.KindNotFound) {
				return getErr
			}
			s = DefaultSettings()
		}
		fn(&s)
		if err := validateSettings(s); err != nil {
			return err
		}
		return putJSON(tx, bucketSettings, []byte(singletonKey), s)
	})
}

func validateSettings(s Settings) error {
	if s.AutoLockTimeout < 0 || s.AutoLockTimeout > 1440 {
		return apperr.New(apperr.KindInvalidInput, "auto-lock timeout must be between 0 and 1440 minutes")
	}
	if s.SyncEndpoint != "" && !strings.HasPrefix(s.SyncEndpoint, "http://") && !strings.HasPrefix(s.SyncEndpoint, "https://") {
		return apperr.New(apperr.KindInvalidInput, "sync endpoint must be an http(s) URL")
	}
	return nil
}
