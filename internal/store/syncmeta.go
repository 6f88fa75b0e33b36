package store

import (
	"time"

	"github.com/seesee/jottery/internal/apperr"
	jcrypto "github.com/seesee/jottery/internal/crypto"
	bolt "go.etcd.io/bbolt"
)

// syncMetadataRow is the bucket-persisted representation of
// SyncMetadata: identical except the API key is kept as an encrypted
// blob rather than plaintext (spec.md §3's "API credential (ciphertext
// under the master key)").
type syncMetadataRow struct {
	LastSyncAt       *time.Time  `json:"lastSyncAt,omitempty"`
	LastPushAt       *time.Time  `json:"lastPushAt,omitempty"`
	LastPullAt       *time.Time  `json:"lastPullAt,omitempty"`
	APIKeyBlob       jcrypto.Blob `json:"apiKeyBlob,omitempty"`
	ClientID         string      `json:"clientId,omitempty"`
	SyncEnabled      bool        `json:"syncEnabled"`
	SyncEndpoint     string      `json:"syncEndpoint,omitempty"`
	AutoSyncInterval int         `json:"autoSyncInterval,omitempty"`
}

// SyncRepository implements the sync-bookkeeping repository operations
// from spec.md §4.2.
type SyncRepository struct {
	store *Store
}

// GetMetadata returns the global sync metadata row, decrypting the API
// key under the master key. Returns a zero-value SyncMetadata if no row
// has been written yet.
func (r *SyncRepository) GetMetadata() (SyncMetadata, error) {
	key, err := r.store.masterKey()
	if err != nil {
		return SyncMetadata{}, err
	}
	defer jcrypto.ZeroBytes(key)

	var row syncMetadataRow
	err = r.store.db().View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketSyncMetadata, []byte(singletonKey), &row)
	})
	if apperr.Is(err, apperr.KindNotFound) {
		return SyncMetadata{}, nil
	}
	if err != nil {
		return SyncMetadata{}, err
	}

	return r.decode(key, row)
}

func (r *SyncRepository) decode(key []byte, row syncMetadataRow) (SyncMetadata, error) {
	meta := SyncMetadata{
		LastSyncAt:       row.LastSyncAt,
		LastPushAt:       row.LastPushAt,
		LastPullAt:       row.LastPullAt,
		ClientID:         row.ClientID,
		SyncEnabled:      row.SyncEnabled,
		SyncEndpoint:     row.SyncEndpoint,
		AutoSyncInterval: row.AutoSyncInterval,
	}
	if row.APIKeyBlob.Ciphertext != "" {
		plain, err := jcrypto.DecryptText(key, row.APIKeyBlob)
		if err != nil {
			return SyncMetadata{}, err
		}
		meta.APIKey = plain
	}
	return meta, nil
}

// UpdateMetadata writes the full global sync metadata row, encrypting
// the API key under the master key.
func (r *SyncRepository) UpdateMetadata(meta SyncMetadata) error {
	key, err := r.store.masterKey()
	if err != nil {
		return err
	}
	defer jcrypto.ZeroBytes(key)

	row := syncMetadataRow{
		LastSyncAt:       meta.LastSyncAt,
		LastPushAt:       meta.LastPushAt,
		LastPullAt:       meta.LastPullAt,
		ClientID:         meta.ClientID,
		SyncEnabled:      meta.SyncEnabled,
		SyncEndpoint:     meta.SyncEndpoint,
		AutoSyncInterval: meta.AutoSyncInterval,
	}
	if meta.APIKey != "" {
		blob, encErr := jcrypto.EncryptText(key, meta.APIKey)
		if encErr != nil {
			return apperr.Wrap(apperr.KindStorageError, "seal api key", encErr)
		}
		row.APIKeyBlob = blob
	}

	return r.store.db().Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketSyncMetadata, []byte(singletonKey), row)
	})
}

// UpdateLastSync sets last_sync_at on the global metadata row.
func (r *SyncRepository) UpdateLastSync(ts time.Time) error {
	return r.store.db().Update(func(tx *bolt.Tx) error {
		var row syncMetadataRow
		if err := getJSON(tx, bucketSyncMetadata, []byte(singletonKey), &row); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		row.LastSyncAt = &ts
		return putJSON(tx, bucketSyncMetadata, []byte(singletonKey), row)
	})
}

// SetCredentials sets the API key (encrypted under the master key) and
// client id on the global metadata row.
func (r *SyncRepository) SetCredentials(apiKey, clientID string) error {
	key, err := r.store.masterKey()
	if err != nil {
		return err
	}
	defer jcrypto.ZeroBytes(key)

	blob, err := jcrypto.EncryptText(key, apiKey)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "seal api key", err)
	}

	return r.store.db().Update(func(tx *bolt.Tx) error {
		var row syncMetadataRow
		if getErr := getJSON(tx, bucketSyncMetadata, []byte(singletonKey), &row); getErr != nil && !apperr.Is(getErr, apperr.KindNotFound) {
			return getErr
		}
		row.APIKeyBlob = blob
		row.ClientID = clientID
		return putJSON(tx, bucketSyncMetadata, []byte(singletonKey), row)
	})
}

// SetSyncEnabled enables or disables sync on the global metadata row.
func (r *SyncRepository) SetSyncEnabled(enabled bool) error {
	return r.store.db().Update(func(tx *bolt.Tx) error {
		var row syncMetadataRow
		if err := getJSON(tx, bucketSyncMetadata, []byte(singletonKey), &row); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		row.SyncEnabled = enabled
		return putJSON(tx, bucketSyncMetadata, []byte(singletonKey), row)
	})
}

// GetNoteMetadata returns per-note sync bookkeeping, or KindNotFound.
func (r *SyncRepository) GetNoteMetadata(noteID string) (NoteSyncMetadata, error) {
	var meta NoteSyncMetadata
	err := r.store.db().View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketNoteSyncMetadata, []byte(noteID), &meta)
	})
	return meta, err
}

// UpdateNoteMetadata writes per-note sync bookkeeping.
func (r *SyncRepository) UpdateNoteMetadata(meta NoteSyncMetadata) error {
	return r.store.db().Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketNoteSyncMetadata, []byte(meta.NoteID), meta)
	})
}

// GetPendingNotes returns the ids of all notes with a pending sync
// status.
func (r *SyncRepository) GetPendingNotes() ([]string, error) {
	var ids []string
	err := r.store.db().View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNoteSyncMetadata)
		return b.ForEach(func(k, v []byte) error {
			var meta NoteSyncMetadata
			if err := unmarshalInto(v, &meta); err != nil {
				return err
			}
			if meta.LastSyncStatus == SyncStatusPending {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

// CountByStatus returns the number of notes currently at the given
// sync status.
func (r *SyncRepository) CountByStatus(status SyncStatus) (int, error) {
	count := 0
	err := r.store.db().View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNoteSyncMetadata)
		return b.ForEach(func(k, v []byte) error {
			var meta NoteSyncMetadata
			if err := unmarshalInto(v, &meta); err != nil {
				return err
			}
			if meta.LastSyncStatus == status {
				count++
			}
			return nil
		})
	})
	return count, err
}

// ClearAll removes the global sync metadata row and every per-note sync
// metadata row, used ahead of re-registration against a new relay.
func (r *SyncRepository) ClearAll() error {
	return r.store.db().Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSyncMetadata).Delete([]byte(singletonKey)); err != nil {
			return apperr.Wrap(apperr.KindStorageError, "clear sync metadata", err)
		}
		b := tx.Bucket(bucketNoteSyncMetadata)
		var keys [][]byte
		if err := b.ForEach(func(k, _ []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return apperr.Wrap(apperr.KindStorageError, "clear note sync metadata", err)
			}
		}
		return nil
	})
}
