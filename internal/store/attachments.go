package store

import (
	jcrypto "github.com/seesee/jottery/internal/crypto"
	bolt "go.etcd.io/bbolt"
)

// attachmentRow is the bucket-persisted representation of an
// Attachment: filename and data are kept encrypted, mime type and size
// stay plaintext so GetSize and TotalSize can read them without the
// master key (spec.md §4.2).
type attachmentRow struct {
	ID           string       `json:"id"`
	NoteID       string       `json:"noteId"`
	FilenameBlob jcrypto.Blob `json:"filenameBlob"`
	MimeType     string       `json:"mimeType"`
	Size         int64        `json:"size"`
	DataBlob     jcrypto.Blob `json:"dataBlob"`
}

// AttachmentRepository implements the attachment storage operations
// from spec.md §4.2.
type AttachmentRepository struct {
	store *Store
}

// Store encrypts and persists an attachment's filename and bytes.
func (r *AttachmentRepository) Store(a Attachment) error {
	key, err := r.store.masterKey()
	if err != nil {
		return err
	}
	defer jcrypto.ZeroBytes(key)

	filenameBlob, err := jcrypto.EncryptText(key, a.Filename)
	if err != nil {
		return err
	}
	dataBlob, err := jcrypto.EncryptBinary(key, a.Data)
	if err != nil {
		return err
	}

	row := attachmentRow{
		ID:           a.ID,
		NoteID:       a.NoteID,
		FilenameBlob: filenameBlob,
		MimeType:     a.MimeType,
		Size:         a.Size,
		DataBlob:     dataBlob,
	}
	return r.store.db().Update(func(tx *bolt.Tx) error {
		return putJSON(tx, bucketAttachments, []byte(row.ID), row)
	})
}

// Get fetches and decrypts an attachment by id.
func (r *AttachmentRepository) Get(id string) (Attachment, error) {
	key, err := r.store.masterKey()
	if err != nil {
		return Attachment{}, err
	}
	defer jcrypto.ZeroBytes(key)

	var row attachmentRow
	err = r.store.db().View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketAttachments, []byte(id), &row)
	})
	if err != nil {
		return Attachment{}, err
	}

	filename, err := jcrypto.DecryptText(key, row.FilenameBlob)
	if err != nil {
		return Attachment{}, err
	}
	data, err := jcrypto.DecryptBinary(key, row.DataBlob)
	if err != nil {
		return Attachment{}, err
	}

	return Attachment{
		ID:       row.ID,
		NoteID:   row.NoteID,
		Filename: filename,
		MimeType: row.MimeType,
		Size:     row.Size,
		Data:     data,
	}, nil
}

// Delete removes an attachment row.
func (r *AttachmentRepository) Delete(id string) error {
	return r.store.db().Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAttachments).Delete([]byte(id))
	})
}

// GetSize returns the recorded size of an attachment without decrypting
// its data.
func (r *AttachmentRepository) GetSize(id string) (int64, error) {
	var row attachmentRow
	err := r.store.db().View(func(tx *bolt.Tx) error {
		return getJSON(tx, bucketAttachments, []byte(id), &row)
	})
	if err != nil {
		return 0, err
	}
	return row.Size, nil
}

// Count returns the number of stored attachments.
func (r *AttachmentRepository) Count() (int, error) {
	count := 0
	err := r.store.db().View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAttachments).ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, err
}

// TotalSize returns the sum of recorded sizes across all attachments.
func (r *AttachmentRepository) TotalSize() (int64, error) {
	var total int64
	err := r.store.db().View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAttachments).ForEach(func(_, v []byte) error {
			var row attachmentRow
			if err := unmarshalInto(v, &row); err != nil {
				return err
			}
			total += row.Size
			return nil
		})
	})
	return total, err
}
