// Package wire defines the JSON-over-HTTPS request/response shapes
// shared by the sync engine's transport (internal/syncengine) and the
// relay service (internal/relay), so both sides of the protocol agree
// on field names and types by construction.
package wire

import jcrypto "github.com/seesee/jottery/internal/crypto"

// Note is the on-wire shape of a note as it moves between a client and
// the relay: content and tags travel as ciphertext, never plaintext.
type Note struct {
	ID             string          `json:"id"`
	CreatedAt      string          `json:"createdAt"`
	ModifiedAt     string          `json:"modifiedAt"`
	Content        jcrypto.Blob    `json:"content"`
	Tags           []jcrypto.Blob  `json:"tags"`
	Attachments    []AttachmentRef `json:"attachments"`
	Pinned         bool            `json:"pinned"`
	Deleted        bool            `json:"deleted"`
	DeletedAt      *string         `json:"deletedAt,omitempty"`
	Version        int             `json:"version"`
	WordWrap       bool            `json:"wordWrap"`
	SyntaxLanguage string          `json:"syntaxLanguage"`
}

// AttachmentRef travels alongside its owning note; the filename is
// encrypted, mime type and size are not (the relay stores them as plain
// metadata columns). MAX_PAYLOAD_SIZE is enforced on the request body,
// not from Size.
type AttachmentRef struct {
	ID       string       `json:"id"`
	Filename jcrypto.Blob `json:"filename"`
	MimeType string       `json:"mimeType"`
	Size     int64        `json:"size"`
}

// AttachmentData carries the base64 ciphertext body of an attachment,
// addressed by id; metadata rides with the owning note (spec.md §6).
type AttachmentData struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// RegisterRequest is the body of POST /api/v1/auth/register.
type RegisterRequest struct {
	DeviceName string `json:"deviceName"`
	DeviceType string `json:"deviceType"`
}

// RegisterResponse is returned once; the raw API key is never
// recoverable afterward (only its SHA-256 hash is persisted).
type RegisterResponse struct {
	APIKey    string `json:"apiKey"`
	ClientID  string `json:"clientId"`
	CreatedAt string `json:"createdAt"`
}

// StatusResponse answers GET /api/v1/sync/status.
type StatusResponse struct {
	ClientID           string  `json:"clientId"`
	ServerLastModified string  `json:"serverLastModified"`
	NoteCount          int64   `json:"noteCount"`
	LastSyncedAt       *string `json:"lastSyncedAt,omitempty"`
}

// PushRequest is the body of POST /api/v1/sync/push.
type PushRequest struct {
	Notes       []Note           `json:"notes"`
	Attachments []AttachmentData `json:"attachments"`
}

// PushAccepted describes a note the relay persisted.
type PushAccepted struct {
	ID            string `json:"id"`
	ServerVersion int    `json:"serverVersion"`
	SyncedAt      string `json:"syncedAt"`
}

// PushRejected describes a note the relay refused under LWW, with the
// literal reason string spec.md §4.4 requires for test compatibility.
type PushRejected struct {
	ID               string `json:"id"`
	Reason           string `json:"reason"`
	ServerModifiedAt string `json:"serverModifiedAt"`
}

// PushResponse is the response to POST /api/v1/sync/push.
type PushResponse struct {
	Accepted []PushAccepted `json:"accepted"`
	Rejected []PushRejected `json:"rejected"`
	Errors   []string       `json:"errors"`
}

// PullRequest is the body of POST /api/v1/sync/pull.
type PullRequest struct {
	LastSyncAt   *string  `json:"lastSyncAt,omitempty"`
	KnownNoteIDs []string `json:"knownNoteIds"`
}

// PullResponse is the response to POST /api/v1/sync/pull. Deletions is
// always empty: tombstone propagation rides the normal notes list via
// the deleted flag (spec.md §9 "Relay deletions list").
type PullResponse struct {
	Notes       []Note           `json:"notes"`
	Deletions   []string         `json:"deletions"`
	Attachments []AttachmentData `json:"attachments"`
	SyncedAt    string           `json:"syncedAt"`
}

// ErrorBody is the relay's structured error response (spec.md §7).
type ErrorBody struct {
	Error string `json:"error"`
}
