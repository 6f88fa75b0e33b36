package relay

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/seesee/jottery/internal/apperr"
	jcrypto "github.com/seesee/jottery/internal/crypto"
	"github.com/seesee/jottery/internal/wire"
)

// Status handles GET /api/v1/sync/status. SPEC_FULL.md §9.2 resolves
// the status endpoint's lastSyncedAt as this client's last successful
// pull, persisted on clients.last_pull_at and updated by Pull.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	clientID := ClientID(r.Context())

	var count int64
	if err := s.DB.QueryRow(r.Context(),
		`SELECT COUNT(*) FROM notes WHERE client_id = $1`, clientID,
	).Scan(&count); err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.KindStorageError, "status: count failed", err), "status query failed")
		return
	}

	var lastModified string
	err := s.DB.QueryRow(r.Context(),
		`SELECT server_modified_at FROM notes WHERE client_id = $1 ORDER BY server_modified_at DESC LIMIT 1`,
		clientID,
	).Scan(&lastModified)
	if err != nil {
		lastModified = time.Now().UTC().Format(time.RFC3339Nano)
	}

	var lastSyncedAt *string
	if err := s.DB.QueryRow(r.Context(),
		`SELECT last_pull_at FROM clients WHERE id = $1`, clientID,
	).Scan(&lastSyncedAt); err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("status: read last_pull_at failed")
	}

	writeJSON(w, http.StatusOK, wire.StatusResponse{
		ClientID:           clientID,
		ServerLastModified: lastModified,
		NoteCount:          count,
		LastSyncedAt:       lastSyncedAt,
	})
}

// Push handles POST /api/v1/sync/push: upserts each note under
// strict last-write-wins (a note is accepted only if its modifiedAt is
// strictly newer than what the relay already holds for that id), then
// stores any attachment metadata and data bytes that rode along.
func (s *Server) Push(w http.ResponseWriter, r *http.Request) {
	clientID := ClientID(r.Context())

	var req wire.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.KindInvalidInput, "push: decode body", err), "invalid request body")
		return
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	resp := wire.PushResponse{
		Accepted: []wire.PushAccepted{},
		Rejected: []wire.PushRejected{},
		Errors:   []string{},
	}

	for _, note := range req.Notes {
		var existingModified string
		var existingVersion int
		err := s.DB.QueryRow(r.Context(),
			`SELECT modified_at, server_version FROM notes WHERE id = $1 AND client_id = $2`,
			note.ID, clientID,
		).Scan(&existingModified, &existingVersion)

		exists := err == nil
		shouldAccept := !exists || note.ModifiedAt > existingModified

		if !shouldAccept {
			resp.Rejected = append(resp.Rejected, wire.PushRejected{
				ID:               note.ID,
				Reason:           "Server version is newer",
				ServerModifiedAt: existingModified,
			})
			continue
		}

		serverVersion := existingVersion + 1
		if !exists {
			serverVersion = 1
		}

		contentJSON, err := json.Marshal(note.Content)
		if err != nil {
			resp.Errors = append(resp.Errors, "failed to encode content for "+note.ID)
			continue
		}
		tagsJSON, err := json.Marshal(note.Tags)
		if err != nil {
			resp.Errors = append(resp.Errors, "failed to encode tags for "+note.ID)
			continue
		}

		_, err = s.DB.Exec(r.Context(), `
			INSERT INTO notes (
				id, client_id, created_at, modified_at, server_modified_at,
				content, tags, pinned, deleted, deleted_at, version, server_version,
				word_wrap, syntax_language
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (id, client_id) DO UPDATE SET
				modified_at = excluded.modified_at,
				server_modified_at = excluded.server_modified_at,
				content = excluded.content,
				tags = excluded.tags,
				pinned = excluded.pinned,
				deleted = excluded.deleted,
				deleted_at = excluded.deleted_at,
				version = excluded.version,
				server_version = excluded.server_version,
				word_wrap = excluded.word_wrap,
				syntax_language = excluded.syntax_language
		`,
			note.ID, clientID, note.CreatedAt, note.ModifiedAt, now,
			contentJSON, tagsJSON, note.Pinned, note.Deleted, note.DeletedAt,
			note.Version, serverVersion, note.WordWrap, note.SyntaxLanguage,
		)
		if err != nil {
			log.Error().Err(err).Str("note_id", note.ID).Msg("push: upsert note failed")
			resp.Errors = append(resp.Errors, "failed to store note "+note.ID)
			continue
		}

		for _, ref := range note.Attachments {
			filenameJSON, err := json.Marshal(ref.Filename)
			if err != nil {
				continue
			}
			_, err = s.DB.Exec(r.Context(), `
				INSERT INTO attachments_meta (id, note_id, client_id, filename, mime_type, size, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7)
				ON CONFLICT (id) DO UPDATE SET
					filename = excluded.filename,
					mime_type = excluded.mime_type,
					size = excluded.size
			`, ref.ID, note.ID, clientID, filenameJSON, ref.MimeType, ref.Size, now)
			if err != nil {
				log.Error().Err(err).Str("attachment_id", ref.ID).Msg("push: upsert attachment meta failed")
			}
		}

		resp.Accepted = append(resp.Accepted, wire.PushAccepted{
			ID:            note.ID,
			ServerVersion: serverVersion,
			SyncedAt:      now,
		})
	}

	for _, att := range req.Attachments {
		data, err := base64.StdEncoding.DecodeString(att.Data)
		if err != nil {
			resp.Errors = append(resp.Errors, "invalid base64 for attachment "+att.ID)
			continue
		}
		_, err = s.DB.Exec(r.Context(), `
			INSERT INTO attachments_data (id, data, created_at)
			VALUES ($1,$2,$3)
			ON CONFLICT (id) DO UPDATE SET data = excluded.data
		`, att.ID, data, now)
		if err != nil {
			log.Error().Err(err).Str("attachment_id", att.ID).Msg("push: store attachment data failed")
			resp.Errors = append(resp.Errors, "failed to store attachment "+att.ID)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Pull handles POST /api/v1/sync/pull: returns every note modified
// after lastSyncAt (or all notes when absent), each note's attachment
// refs, and the attachment bytes those refs point to. Deletions always
// comes back empty: tombstones propagate through the notes list itself
// via the deleted flag.
func (s *Server) Pull(w http.ResponseWriter, r *http.Request) {
	clientID := ClientID(r.Context())

	var req wire.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.KindInvalidInput, "pull: decode body", err), "invalid request body")
		return
	}

	var rows pgx.Rows
	var err error
	if req.LastSyncAt != nil {
		rows, err = s.DB.Query(r.Context(), `
			SELECT id, created_at, modified_at, content, tags, pinned, deleted,
			       deleted_at, version, COALESCE(word_wrap, false), COALESCE(syntax_language, '')
			FROM notes WHERE client_id = $1 AND server_modified_at > $2
			ORDER BY server_modified_at
		`, clientID, *req.LastSyncAt)
	} else {
		rows, err = s.DB.Query(r.Context(), `
			SELECT id, created_at, modified_at, content, tags, pinned, deleted,
			       deleted_at, version, COALESCE(word_wrap, false), COALESCE(syntax_language, '')
			FROM notes WHERE client_id = $1
			ORDER BY server_modified_at
		`, clientID)
	}
	if err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.KindStorageError, "pull: query notes failed", err), "pull query failed")
		return
	}
	defer rows.Close()

	notes := []wire.Note{}
	needed := []string{}
	for rows.Next() {
		var n wire.Note
		var contentJSON, tagsJSON []byte
		if err := rows.Scan(&n.ID, &n.CreatedAt, &n.ModifiedAt, &contentJSON, &tagsJSON,
			&n.Pinned, &n.Deleted, &n.DeletedAt, &n.Version, &n.WordWrap, &n.SyntaxLanguage); err != nil {
			log.Error().Err(err).Msg("pull: scan note failed")
			continue
		}
		if err := json.Unmarshal(contentJSON, &n.Content); err != nil {
			log.Error().Err(err).Str("note_id", n.ID).Msg("pull: decode content failed")
			continue
		}
		if err := json.Unmarshal(tagsJSON, &n.Tags); err != nil {
			n.Tags = []jcrypto.Blob{}
		}

		attRows, err := s.DB.Query(r.Context(),
			`SELECT id, filename, mime_type, size FROM attachments_meta WHERE note_id = $1 AND client_id = $2`,
			n.ID, clientID)
		if err == nil {
			for attRows.Next() {
				var ref wire.AttachmentRef
				var filenameJSON []byte
				if err := attRows.Scan(&ref.ID, &filenameJSON, &ref.MimeType, &ref.Size); err != nil {
					continue
				}
				if err := json.Unmarshal(filenameJSON, &ref.Filename); err != nil {
					continue
				}
				n.Attachments = append(n.Attachments, ref)
				needed = append(needed, ref.ID)
			}
			attRows.Close()
		}

		notes = append(notes, n)
	}

	attachments := []wire.AttachmentData{}
	for _, id := range needed {
		var data []byte
		if err := s.DB.QueryRow(r.Context(),
			`SELECT data FROM attachments_data WHERE id = $1`, id,
		).Scan(&data); err != nil {
			continue
		}
		attachments = append(attachments, wire.AttachmentData{
			ID:   id,
			Data: base64.StdEncoding.EncodeToString(data),
		})
	}

	syncedAt := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.DB.Exec(r.Context(),
		`UPDATE clients SET last_pull_at = $1 WHERE id = $2`, syncedAt, clientID,
	); err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("pull: update last_pull_at failed")
	}

	writeJSON(w, http.StatusOK, wire.PullResponse{
		Notes:       notes,
		Deletions:   []string{},
		Attachments: attachments,
		SyncedAt:    syncedAt,
	})
}

// DeleteNote handles DELETE /api/v1/sync/notes/{id}. Cascades to the
// note's attachments via foreign key.
func (s *Server) DeleteNote(w http.ResponseWriter, r *http.Request) {
	clientID := ClientID(r.Context())
	noteID := chi.URLParam(r, "id")

	if _, err := s.DB.Exec(r.Context(),
		`DELETE FROM notes WHERE id = $1 AND client_id = $2`, noteID, clientID,
	); err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.KindStorageError, "delete note failed", err), "delete failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
