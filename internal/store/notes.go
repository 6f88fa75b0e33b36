package store

import (
	"sort"
	"time"

	"github.com/seesee/jottery/internal/apperr"
	jcrypto "github.com/seesee/jottery/internal/crypto"
	bolt "go.etcd.io/bbolt"
)

// noteRow is the bucket-persisted representation of a Note: content and
// tags are kept as encrypted blobs, never plaintext, at rest.
type noteRow struct {
	ID             string       `json:"id"`
	CreatedAt      time.Time    `json:"createdAt"`
	ModifiedAt     time.Time    `json:"modifiedAt"`
	SyncedAt       *time.Time   `json:"syncedAt,omitempty"`
	ContentBlob    jcrypto.Blob `json:"contentBlob"`
	TagsBlob       jcrypto.Blob `json:"tagsBlob"`
	Attachments    []string     `json:"attachments"`
	Pinned         bool         `json:"pinned"`
	Deleted        bool         `json:"deleted"`
	DeletedAt      *time.Time   `json:"deletedAt,omitempty"`
	SyncHash       string       `json:"syncHash,omitempty"`
	Version        int          `json:"version"`
	ServerVersion  int          `json:"serverVersion,omitempty"`
	WordWrap       bool         `json:"wordWrap"`
	SyntaxLanguage string       `json:"syntaxLanguage"`
}

// NoteRepository implements the note CRUD and sync-query operations
// from spec.md §4.2, encrypting content and tags under the master key.
type NoteRepository struct {
	store *Store
}

func (r *NoteRepository) encode(key []byte, n Note) (noteRow, error) {
	contentBlob, err := jcrypto.EncryptText(key, n.Content)
	if err != nil {
		return noteRow{}, apperr.Wrap(apperr.KindStorageError, "seal note content", err)
	}
	tagsBlob, err := jcrypto.EncryptJSON(key, n.Tags)
	if err != nil {
		return noteRow{}, apperr.Wrap(apperr.KindStorageError, "seal note tags", err)
	}
	return noteRow{
		ID:             n.ID,
		CreatedAt:      n.CreatedAt,
		ModifiedAt:     n.ModifiedAt,
		SyncedAt:       n.SyncedAt,
		ContentBlob:    contentBlob,
		TagsBlob:       tagsBlob,
		Attachments:    n.Attachments,
		Pinned:         n.Pinned,
		Deleted:        n.Deleted,
		DeletedAt:      n.DeletedAt,
		SyncHash:       n.SyncHash,
		Version:        n.Version,
		ServerVersion:  n.ServerVersion,
		WordWrap:       n.WordWrap,
		SyntaxLanguage: n.SyntaxLanguage,
	}, nil
}

func (r *NoteRepository) decode(key []byte, row noteRow) (Note, error) {
	content, err := jcrypto.DecryptText(key, row.ContentBlob)
	if err != nil {
		return Note{}, err
	}
	var tags []string
	if row.TagsBlob.Ciphertext != "" {
		if err := jcrypto.DecryptJSON(key, row.TagsBlob, &tags); err != nil {
			return Note{}, err
		}
	}
	return Note{
		ID:             row.ID,
		CreatedAt:      row.CreatedAt,
		ModifiedAt:     row.ModifiedAt,
		SyncedAt:       row.SyncedAt,
		Content:        content,
		Tags:           tags,
		Attachments:    row.Attachments,
		Pinned:         row.Pinned,
		Deleted:        row.Deleted,
		DeletedAt:      row.DeletedAt,
		SyncHash:       row.SyncHash,
		Version:        row.Version,
		ServerVersion:  row.ServerVersion,
		WordWrap:       row.WordWrap,
		SyntaxLanguage: row.SyntaxLanguage,
	}, nil
}

// Create inserts a new note, encrypting its content and tags.
func (r *NoteRepository) Create(n Note) error {
	key, err := r.store.masterKey()
	if err != nil {
		return err
	}
	defer jcrypto.ZeroBytes(key)

	row, err := r.encode(key, n)
	if err != nil {
		return err
	}
	return r.store.db().Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketNotes, []byte(row.ID), row)
	})
}

// Get fetches and decrypts a note by id.
func (r *NoteRepository) Get(id string) (Note, error) {
	key, err := r.store.masterKey()
	if err != nil {
		return Note{}, err
	}
	defer jcrypto.ZeroBytes(key)

	var row noteRow
	err = r.store.db().View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketNotes, []byte(id), &row)
	})
	if err != nil {
		return Note{}, err
	}
	return r.decode(key, row)
}

// Update replaces the stored row for a note (whole-note replace, per
// spec.md §4.2), re-encrypting content and tags.
func (r *NoteRepository) Update(n Note) error {
	key, err := r.store.masterKey()
	if err != nil {
		return err
	}
	defer jcrypto.ZeroBytes(key)

	row, err := r.encode(key, n)
	if err != nil {
		return err
	}
	return r.store.db().Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketNotes).Get([]byte(row.ID)) == nil {
			return apperr.New(apperr.KindNotFound, "note not found")
		}
		return putJSON(tx, bucketNotes, []byte(row.ID), row)
	})
}

// Delete soft-deletes a note, stamping deleted_at and modified_at.
func (r *NoteRepository) Delete(id string) error {
	now := time.Now().UTC()
	return r.store.db().Update(func(tx *bolt.Tx) error {
		var row noteRow
		if err := getJSON(tx, bucketNotes, []byte(id), &row); err != nil {
			return err
		}
		row.Deleted = true
		row.DeletedAt = &now
		row.ModifiedAt = now
		return putJSON(tx, bucketNotes, []byte(id), row)
	})
}

// HardDelete permanently removes a note row.
func (r *NoteRepository) HardDelete(id string) error {
	return r.store.db().Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNotes).Delete([]byte(id))
	})
}

// List returns all notes, most-recently-modified first, optionally
// including soft-deleted ones.
func (r *NoteRepository) List(includeDeleted bool) ([]Note, error) {
	key, err := r.store.masterKey()
	if err != nil {
		return nil, err
	}
	defer jcrypto.ZeroBytes(key)

	var notes []Note
	err = r.store.db().View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNotes)
		return b.ForEach(func(_, v []byte) error {
			var row noteRow
			if err := unmarshalInto(v, &row); err != nil {
				return err
			}
			if row.Deleted && !includeDeleted {
				return nil
			}
			n, decErr := r.decode(key, row)
			if decErr != nil {
				return decErr
			}
			notes = append(notes, n)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNotesByModifiedDesc(notes)
	return notes, nil
}

// GetModifiedAfter returns notes modified strictly after ts, used by the
// sync engine to build a push set (spec.md §4.3).
func (r *NoteRepository) GetModifiedAfter(ts time.Time) ([]Note, error) {
	key, err := r.store.masterKey()
	if err != nil {
		return nil, err
	}
	defer jcrypto.ZeroBytes(key)

	var notes []Note
	err = r.store.db().View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNotes)
		return b.ForEach(func(_, v []byte) error {
			var row noteRow
			if err := unmarshalInto(v, &row); err != nil {
				return err
			}
			if !row.ModifiedAt.After(ts) {
				return nil
			}
			n, decErr := r.decode(key, row)
			if decErr != nil {
				return decErr
			}
			notes = append(notes, n)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNotesByModifiedDesc(notes)
	return notes, nil
}

// Count returns the number of notes, optionally including soft-deleted
// ones.
func (r *NoteRepository) Count(includeDeleted bool) (int, error) {
	count := 0
	err := r.store.db().View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNotes)
		return b.ForEach(func(_, v []byte) error {
			var row noteRow
			if err := unmarshalInto(v, &row); err != nil {
				return err
			}
			if row.Deleted && !includeDeleted {
				return nil
			}
			count++
			return nil
		})
	})
	return count, err
}

func sortNotesByModifiedDesc(notes []Note) {
	sort.Slice(notes, func(i, j int) bool {
		return notes[i].ModifiedAt.After(notes[j].ModifiedAt)
	})
}
