package store

import (
	"time"

	"github.com/seesee/jottery/internal/apperr"
	jcrypto "github.com/seesee/jottery/internal/crypto"
	bolt "go.etcd.io/bbolt"
)

const unlockMarkerPlaintext = "jottery-unlock-marker"

var (
	metadataKey    = []byte("metadata")
	markerKey      = []byte("marker")
	pendingSaltKey = []byte("pending_salt")
)

// Store is the encrypted local store: the whole-file container plus the
// master-key-guarded repositories layered on top of it.
type Store struct {
	container *container
	keys      *keyContainer

	Notes       *NoteRepository
	Attachments *AttachmentRepository
	Settings    *SettingsRepository
	Sync        *SyncRepository
}

// Open unlocks (or, if absent, initializes) the store at path under
// password. The returned Store holds the master key in RAM until Lock
// is called or auto-lock elapses.
func Open(path, password string) (*Store, error) {
	c, err := openContainer(path, password)
	if err != nil {
		return nil, err
	}

	s := &Store{container: c, keys: newKeyContainer()}
	s.keys.setAutoLockCallback(func() {
		// Auto-lock clears the key the same moment Lock() would; also
		// reseal the working copy back to its encrypted on-disk form so
		// an auto-locked store is indistinguishable from an explicitly
		// locked one.
		_ = s.container.seal()
	})
	if err := s.unlockMasterKey(password); err != nil {
		_ = c.close()
		return nil, err
	}

	s.Notes = &NoteRepository{store: s}
	s.Attachments = &AttachmentRepository{store: s}
	s.Settings = &SettingsRepository{store: s}
	s.Sync = &SyncRepository{store: s}
	return s, nil
}

// OpenInMemory opens a store rooted at a throwaway path (for tests),
// mirroring the Rust original's ":memory:" rusqlite test mode. dir
// should typically be t.TempDir().
func OpenInMemory(dir, password string) (*Store, error) {
	return Open(dir+"/jottery-test.db", password)
}

func (s *Store) db() *bolt.DB { return s.container.db }

// unlockMasterKey derives (or, on first unlock, generates) the
// field-level master key and verifies it against the stored marker.
func (s *Store) unlockMasterKey(password string) error {
	var meta EncryptionMetadata
	var marker jcrypto.Blob
	var isNew bool

	err := s.db().View(func(tx *bolt.Tx) error {
		if getErr := getJSON(tx, bucketEncryptionMetadata, metadataKey, &meta); getErr != nil {
			if apperr.Is(getErr, apperr.KindNotFound) {
				isNew = true
				return nil
			}
			return getErr
		}
		return getJSON(tx, bucketEncryptionMetadata, markerKey, &marker)
	})
	if err != nil {
		return err
	}

	if isNew {
		salt, genErr := jcrypto.GenerateSalt()
		if genErr != nil {
			return apperr.Wrap(apperr.KindStorageError, "generate master salt", genErr)
		}
		key, deriveErr := jcrypto.DeriveKey(password, salt, jcrypto.DefaultIterations)
		if deriveErr != nil {
			return apperr.Wrap(apperr.KindStorageError, "derive master key", deriveErr)
		}
		meta = EncryptionMetadata{
			Salt:       salt,
			Iterations: jcrypto.DefaultIterations,
			Algorithm:  jcrypto.Algorithm,
			CreatedAt:  time.Now().UTC(),
		}
		markerBlob, encErr := jcrypto.EncryptText(key, unlockMarkerPlaintext)
		if encErr != nil {
			jcrypto.ZeroBytes(key)
			return apperr.Wrap(apperr.KindStorageError, "seal unlock marker", encErr)
		}
		writeErr := s.db().Update(func(tx *bolt.Tx) error {
			if putErr := putJSON(tx, bucketEncryptionMetadata, metadataKey, meta); putErr != nil {
				return putErr
			}
			return putJSON(tx, bucketEncryptionMetadata, markerKey, markerBlob)
		})
		if writeErr != nil {
			jcrypto.ZeroBytes(key)
			return writeErr
		}
		s.keys.set(key)
		return nil
	}

	var pendingSalt []byte
	err = s.db().View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEncryptionMetadata)
		if raw := b.Get(pendingSaltKey); raw != nil {
			pendingSalt = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "read pending salt", err)
	}

	if pendingSalt != nil {
		return s.completeSaltSwap(password, meta, pendingSalt)
	}

	key, err := jcrypto.DeriveKey(password, meta.Salt, meta.Iterations)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "derive master key", err)
	}
	if _, err := jcrypto.DecryptText(key, marker); err != nil {
		jcrypto.ZeroBytes(key)
		return apperr.New(apperr.KindAuthenticationFailed, "cannot unlock store")
	}
	s.keys.set(key)
	return nil
}

// completeSaltSwap finishes a bootstrap-credential salt import (spec.md
// §9 "Encryption-metadata portability"): it derives the master key
// under the new salt, re-wraps the previously stored API key blob (the
// one persisted field that depends on the old master key) under the new
// key, and commits the new salt and marker. The API key is held in
// cleartext in RAM for the duration of this swap only — never written
// to disk in that form — matching the design note that a transient
// plaintext moment is unavoidable when crossing this boundary.
func (s *Store) completeSaltSwap(password string, oldMeta EncryptionMetadata, pendingSalt []byte) error {
	oldKey, err := jcrypto.DeriveKey(password, oldMeta.Salt, oldMeta.Iterations)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "derive old master key", err)
	}
	defer jcrypto.ZeroBytes(oldKey)

	var marker jcrypto.Blob
	err = s.db().View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketEncryptionMetadata, markerKey, &marker)
	})
	if err != nil {
		return err
	}
	if _, err := jcrypto.DecryptText(oldKey, marker); err != nil {
		return apperr.New(apperr.KindAuthenticationFailed, "cannot unlock store")
	}

	var oldSync syncMetadataRow
	var hadSync bool
	err = s.db().View(func(tx *bolt.Tx) error {
		getErr := getJSON(tx, bucketSyncMetadata, []byte(singletonKey), &oldSync)
		if getErr == nil {
			hadSync = true
			return nil
		}
		if apperr.Is(getErr, apperr.KindNotFound) {
			return nil
		}
		return getErr
	})
	if err != nil {
		return err
	}

	var plainAPIKey string
	if hadSync && oldSync.APIKeyBlob.Ciphertext != "" {
		if dec, decErr := jcrypto.DecryptText(oldKey, oldSync.APIKeyBlob); decErr == nil {
			plainAPIKey = dec
		}
	}

	newKey, err := jcrypto.DeriveKey(password, pendingSalt, oldMeta.Iterations)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "derive new master key", err)
	}

	newMarker, err := jcrypto.EncryptText(newKey, unlockMarkerPlaintext)
	if err != nil {
		jcrypto.ZeroBytes(newKey)
		return apperr.Wrap(apperr.KindStorageError, "seal unlock marker", err)
	}

	newMeta := oldMeta
	newMeta.Salt = pendingSalt

	err = s.db().Update(func(tx *bolt.Tx) error {
		if putErr := putJSON(tx, bucketEncryptionMetadata, metadataKey, newMeta); putErr != nil {
			return putErr
		}
		if putErr := putJSON(tx, bucketEncryptionMetadata, markerKey, newMarker); putErr != nil {
			return putErr
		}
		if delErr := tx.Bucket(bucketEncryptionMetadata).Delete(pendingSaltKey); delErr != nil {
			return apperr.Wrap(apperr.KindStorageError, "clear pending salt", delErr)
		}
		if plainAPIKey != "" {
			rewrapped, encErr := jcrypto.EncryptText(newKey, plainAPIKey)
			if encErr != nil {
				return apperr.Wrap(apperr.KindStorageError, "rewrap api key", encErr)
			}
			oldSync.APIKeyBlob = rewrapped
			if putErr := putJSON(tx, bucketSyncMetadata, []byte(singletonKey), oldSync); putErr != nil {
				return putErr
			}
		}
		return nil
	})
	if err != nil {
		jcrypto.ZeroBytes(newKey)
		return err
	}

	s.keys.set(newKey)
	return nil
}

// masterKey returns a copy of the current master key, honoring lock
// state and auto-lock expiry.
func (s *Store) masterKey() ([]byte, error) {
	return s.keys.get()
}

// EncryptForTransport seals plaintext under the master key for
// shipping to the relay, independent of the field-level blob format
// used at rest (notes.go combines tags into one blob; the sync wire
// protocol encrypts each tag individually per spec.md §4.3).
func (s *Store) EncryptForTransport(plaintext string) (jcrypto.Blob, error) {
	key, err := s.masterKey()
	if err != nil {
		return jcrypto.Blob{}, err
	}
	defer jcrypto.ZeroBytes(key)
	return jcrypto.EncryptText(key, plaintext)
}

// DecryptFromTransport reverses EncryptForTransport for a blob pulled
// from the relay.
func (s *Store) DecryptFromTransport(blob jcrypto.Blob) (string, error) {
	key, err := s.masterKey()
	if err != nil {
		return "", err
	}
	defer jcrypto.ZeroBytes(key)
	return jcrypto.DecryptText(key, blob)
}

// Lock zeroes the master key and seals the working database back to
// its encrypted on-disk form, but keeps the Store handle usable for a
// subsequent Unlock.
func (s *Store) Lock() error {
	s.keys.clear()
	return s.container.seal()
}

// Unlock re-derives and verifies the master key after a Lock, without
// reopening the underlying database file.
func (s *Store) Unlock(password string) error {
	return s.unlockMasterKey(password)
}

// IsLocked reports whether the store currently has no usable master key.
func (s *Store) IsLocked() bool {
	return s.keys.isLocked()
}

// RegisterActivity resets the auto-lock timer from the current moment.
func (s *Store) RegisterActivity() {
	s.keys.registerActivity()
}

// SetAutoLock sets the auto-lock duration in minutes; 0 disables it.
func (s *Store) SetAutoLock(minutes int) {
	s.keys.setAutoLock(minutes)
}

// TimeUntilLock returns the time remaining before auto-lock fires.
func (s *Store) TimeUntilLock() (time.Duration, bool) {
	return s.keys.timeUntilLock()
}

// ShouldAutoLock reports whether the auto-lock timeout has elapsed,
// without clearing the key or waiting for the background timer to fire
// — a caller polling status (e.g. before a long-running operation) can
// use it as a cheap pre-check ahead of an operation that will otherwise
// fail with KindKeyRequired.
func (s *Store) ShouldAutoLock() bool {
	return s.keys.shouldLock()
}

// Close seals the container, releases the bbolt handle, and zeroes the
// master key. The Store must not be used afterward.
func (s *Store) Close() error {
	s.keys.clear()
	return s.container.close()
}

// Vacuum compacts the underlying database file.
func (s *Store) Vacuum() error {
	return s.container.vacuum()
}

// FileSize returns the size, in bytes, of the encrypted on-disk
// container file.
func (s *Store) FileSize() (int64, error) {
	return s.container.fileSize()
}

// ReplaceSalt swaps the store's master-key salt for one carried in a
// peer's bootstrap credentials (spec.md §9 "Encryption-metadata
// portability") and locks the store so the next Unlock re-derives the
// master key from the new salt. That Unlock also re-wraps any
// already-stored API key blob under the new key (see completeSaltSwap).
func (s *Store) ReplaceSalt(newSalt []byte) error {
	if len(newSalt) < jcrypto.MinSaltSize {
		return apperr.New(apperr.KindInvalidInput, "peer salt too short")
	}
	err := s.db().Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEncryptionMetadata)
		return b.Put(pendingSaltKey, newSalt)
	})
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "stage pending salt", err)
	}
	return s.Lock()
}
