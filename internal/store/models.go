// Package store implements the encrypted local store: durable,
// password-protected storage of notes, attachments, settings, and sync
// bookkeeping, built on an AES-256-GCM-wrapped bbolt file with
// field-level encryption layered on top via internal/crypto.
package store

import "time"

// Note is the unit of synchronization (spec.md §3).
type Note struct {
	ID             string     `json:"id"`
	CreatedAt      time.Time  `json:"createdAt"`
	ModifiedAt     time.Time  `json:"modifiedAt"`
	SyncedAt       *time.Time `json:"syncedAt,omitempty"`
	Content        string     `json:"content"`
	Tags           []string   `json:"tags"`
	Attachments    []string   `json:"attachments"`
	Pinned         bool       `json:"pinned"`
	Deleted        bool       `json:"deleted"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
	SyncHash       string     `json:"syncHash,omitempty"`
	Version        int        `json:"version"`
	ServerVersion  int        `json:"serverVersion,omitempty"`
	WordWrap       bool       `json:"wordWrap"`
	SyntaxLanguage string     `json:"syntaxLanguage"`
}

// Attachment is tied to an owning note; the relay cascades deletes
// (spec.md §3).
type Attachment struct {
	ID       string `json:"id"`
	NoteID   string `json:"noteId"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Data     []byte `json:"-"`
}

// EncryptionMetadata is written on first unlock of a new store and is
// afterwards changed only by a bootstrap salt swap (Store.ReplaceSalt);
// the server never sees it (spec.md §3).
type EncryptionMetadata struct {
	Salt       []byte    `json:"salt"`
	Iterations int       `json:"iterations"`
	Algorithm  string    `json:"algorithm"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SyncStatus is the per-note sync bookkeeping status.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusError    SyncStatus = "error"
)

// SyncMetadata is the global sync bookkeeping row (spec.md §3).
type SyncMetadata struct {
	LastSyncAt        *time.Time `json:"lastSyncAt,omitempty"`
	LastPushAt        *time.Time `json:"lastPushAt,omitempty"`
	LastPullAt        *time.Time `json:"lastPullAt,omitempty"`
	APIKey            string     `json:"apiKey,omitempty"`
	ClientID          string     `json:"clientId,omitempty"`
	SyncEnabled       bool       `json:"syncEnabled"`
	SyncEndpoint      string     `json:"syncEndpoint,omitempty"`
	AutoSyncInterval  int        `json:"autoSyncInterval,omitempty"`
}

// NoteSyncMetadata is the per-note sync bookkeeping row.
type NoteSyncMetadata struct {
	NoteID         string     `json:"noteId"`
	SyncedAt       time.Time  `json:"syncedAt"`
	SyncHash       string     `json:"syncHash"`
	ServerVersion  int        `json:"serverVersion"`
	LastSyncStatus SyncStatus `json:"lastSyncStatus"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
}

// Settings holds user-facing preferences (spec.md §4.2 schema).
type Settings struct {
	Language        string `json:"language"`
	Theme           string `json:"theme"`
	SortOrder       string `json:"sortOrder"`
	AutoLockTimeout int    `json:"autoLockTimeout"` // minutes, 0 disables
	SyncEnabled     bool   `json:"syncEnabled"`
	SyncEndpoint    string `json:"syncEndpoint,omitempty"`
}

// DefaultSettings returns the settings a freshly unlocked store with no
// persisted row reports (repository Get returns defaults if absent).
func DefaultSettings() Settings {
	return Settings{
		Language:        "en",
		Theme:           "dark",
		SortOrder:       "modified_desc",
		AutoLockTimeout: 15,
		SyncEnabled:     false,
	}
}
