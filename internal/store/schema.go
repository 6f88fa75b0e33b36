package store

import (
	"encoding/json"
	"fmt"

	"github.com/seesee/jottery/internal/apperr"
	bolt "go.etcd.io/bbolt"
)

// Bucket names, one per logical table from spec.md §4.2's schema.
var (
	bucketNotes              = []byte("notes")
	bucketAttachments        = []byte("attachments")
	bucketEncryptionMetadata = []byte("encryption_metadata")
	bucketSyncMetadata       = []byte("sync_metadata")
	bucketSettings           = []byte("settings")
	bucketNoteSyncMetadata   = []byte("note_sync_metadata")
)

func ensureBuckets(db *bolt.DB) error {
	buckets := [][]byte{
		bucketNotes,
		bucketAttachments,
		bucketEncryptionMetadata,
		bucketSyncMetadata,
		bucketSettings,
		bucketNoteSyncMetadata,
	}
	return db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return apperr.Wrap(apperr.KindStorageError, fmt.Sprintf("create bucket %s", b), err)
			}
		}
		return nil
	})
}

// putJSON marshals v and stores it under key in bucket.
func putJSON(tx *bolt.Tx, bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "marshal row", err)
	}
	b := tx.Bucket(bucket)
	if err := b.Put(key, raw); err != nil {
		return apperr.Wrap(apperr.KindStorageError, "put row", err)
	}
	return nil
}

// getJSON unmarshals the value under key in bucket into out. Returns
// apperr.KindNotFound if absent.
func getJSON(tx *bolt.Tx, bucket, key []byte, out any) error {
	b := tx.Bucket(bucket)
	raw := b.Get(key)
	if raw == nil {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("no row for key %q", key))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(apperr.KindStorageError, "unmarshal row", err)
	}
	return nil
}

const singletonKey = "singleton"

// unmarshalInto is getJSON's logic without the bucket lookup, for
// ForEach-style iteration over raw bucket values.
func unmarshalInto(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(apperr.KindStorageError, "unmarshal row", err)
	}
	return nil
}
