package syncengine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seesee/jottery/internal/apperr"
	jcrypto "github.com/seesee/jottery/internal/crypto"
	"github.com/seesee/jottery/internal/store"
	"github.com/seesee/jottery/internal/wire"
)

// Engine drives one reconciliation cycle between a local Store and a
// relay Transport.
type Engine struct {
	Store     *store.Store
	Transport *Transport
}

// New builds an Engine bound to the given store and transport.
func New(s *store.Store, t *Transport) *Engine {
	return &Engine{Store: s, Transport: t}
}

// Sync runs one reconciliation cycle: determine the push set, ship it,
// pull remote changes, apply last-write-wins, and advance bookkeeping.
// HTTP failures abort the cycle before last_sync_at is advanced.
func (e *Engine) Sync(ctx context.Context) error {
	meta, err := e.Store.Sync.GetMetadata()
	if err != nil {
		return err
	}

	pushReq, err := e.buildPushRequest(meta)
	if err != nil {
		return err
	}

	pushResp, err := e.Transport.Push(ctx, pushReq)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "push failed, sync cycle aborted", err)
	}
	for _, rej := range pushResp.Rejected {
		log.Debug().Str("note_id", rej.ID).Str("reason", rej.Reason).Msg("push rejected, will reconcile on pull")
	}
	for _, errMsg := range pushResp.Errors {
		log.Warn().Str("error", errMsg).Msg("push reported an error")
	}

	pullReq := wire.PullRequest{KnownNoteIDs: e.knownNoteIDs()}
	if meta.LastSyncAt != nil {
		ts := meta.LastSyncAt.UTC().Format(time.RFC3339Nano)
		pullReq.LastSyncAt = &ts
	}

	pullResp, err := e.Transport.Pull(ctx, pullReq)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "pull failed, sync cycle aborted", err)
	}

	if err := e.applyRemote(pullResp.Notes); err != nil {
		return apperr.Wrap(apperr.KindAuthenticationFailed, "SyncFailed(decrypt)", err)
	}
	e.applyDeletions(pullResp.Deletions)

	syncedAt, err := time.Parse(time.RFC3339Nano, pullResp.SyncedAt)
	if err != nil {
		syncedAt = time.Now().UTC()
	}
	meta.LastPushAt = &syncedAt
	meta.LastPullAt = &syncedAt
	meta.LastSyncAt = &syncedAt
	if err := e.Store.Sync.UpdateMetadata(meta); err != nil {
		return apperr.Wrap(apperr.KindStorageError, "failed to record sync completion", err)
	}

	return nil
}

// buildPushRequest determines the push set (step 1) and transport-
// encrypts content and each tag under the master key (step 2).
func (e *Engine) buildPushRequest(meta store.SyncMetadata) (wire.PushRequest, error) {
	var notes []store.Note
	var err error
	if meta.LastSyncAt != nil {
		notes, err = e.Store.Notes.GetModifiedAfter(*meta.LastSyncAt)
	} else {
		notes, err = e.Store.Notes.List(true)
	}
	if err != nil {
		return wire.PushRequest{}, err
	}

	req := wire.PushRequest{Notes: []wire.Note{}, Attachments: []wire.AttachmentData{}}
	for _, n := range notes {
		wn, err := e.encryptNoteForTransport(n)
		if err != nil {
			return wire.PushRequest{}, err
		}
		req.Notes = append(req.Notes, wn)
	}
	return req, nil
}

func (e *Engine) encryptNoteForTransport(n store.Note) (wire.Note, error) {
	contentBlob, err := e.Store.EncryptForTransport(n.Content)
	if err != nil {
		return wire.Note{}, err
	}

	tagBlobs := make([]jcrypto.Blob, 0, len(n.Tags))
	for _, tag := range n.Tags {
		blob, err := e.Store.EncryptForTransport(tag)
		if err != nil {
			return wire.Note{}, err
		}
		tagBlobs = append(tagBlobs, blob)
	}

	var deletedAt *string
	if n.DeletedAt != nil {
		s := n.DeletedAt.UTC().Format(time.RFC3339Nano)
		deletedAt = &s
	}

	attachments := make([]wire.AttachmentRef, 0, len(n.Attachments))
	for _, attID := range n.Attachments {
		att, err := e.Store.Attachments.Get(attID)
		if err != nil {
			continue
		}
		filenameBlob, err := e.Store.EncryptForTransport(att.Filename)
		if err != nil {
			return wire.Note{}, err
		}
		attachments = append(attachments, wire.AttachmentRef{
			ID:       att.ID,
			Filename: filenameBlob,
			MimeType: att.MimeType,
			Size:     att.Size,
		})
	}

	return wire.Note{
		ID:             n.ID,
		CreatedAt:      n.CreatedAt.UTC().Format(time.RFC3339Nano),
		ModifiedAt:     n.ModifiedAt.UTC().Format(time.RFC3339Nano),
		Content:        contentBlob,
		Tags:           tagBlobs,
		Attachments:    attachments,
		Pinned:         n.Pinned,
		Deleted:        n.Deleted,
		DeletedAt:      deletedAt,
		Version:        n.Version,
		WordWrap:       n.WordWrap,
		SyntaxLanguage: n.SyntaxLanguage,
	}, nil
}

// applyRemote decrypts and merges each remote note under strict
// last-write-wins (step 5): a remote note strictly newer than the
// local copy overwrites it; equal or older is ignored, keeping local.
func (e *Engine) applyRemote(remote []wire.Note) error {
	for _, wn := range remote {
		n, err := e.decryptNoteFromTransport(wn)
		if err != nil {
			return err
		}

		local, err := e.Store.Notes.Get(n.ID)
		if apperr.Is(err, apperr.KindNotFound) {
			if err := e.Store.Notes.Create(n); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		if n.ModifiedAt.After(local.ModifiedAt) {
			if err := e.Store.Notes.Update(n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) decryptNoteFromTransport(wn wire.Note) (store.Note, error) {
	content, err := e.Store.DecryptFromTransport(wn.Content)
	if err != nil {
		return store.Note{}, err
	}

	tags := make([]string, 0, len(wn.Tags))
	for _, blob := range wn.Tags {
		tag, err := e.Store.DecryptFromTransport(blob)
		if err != nil {
			return store.Note{}, err
		}
		tags = append(tags, tag)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, wn.CreatedAt)
	if err != nil {
		return store.Note{}, apperr.Wrap(apperr.KindInvalidInput, "parse remote createdAt", err)
	}
	modifiedAt, err := time.Parse(time.RFC3339Nano, wn.ModifiedAt)
	if err != nil {
		return store.Note{}, apperr.Wrap(apperr.KindInvalidInput, "parse remote modifiedAt", err)
	}

	var deletedAt *time.Time
	if wn.DeletedAt != nil {
		ts, err := time.Parse(time.RFC3339Nano, *wn.DeletedAt)
		if err == nil {
			deletedAt = &ts
		}
	}

	attachmentIDs := make([]string, 0, len(wn.Attachments))
	for _, ref := range wn.Attachments {
		attachmentIDs = append(attachmentIDs, ref.ID)
	}

	return store.Note{
		ID:             wn.ID,
		CreatedAt:      createdAt,
		ModifiedAt:     modifiedAt,
		Content:        content,
		Tags:           tags,
		Attachments:    attachmentIDs,
		Pinned:         wn.Pinned,
		Deleted:        wn.Deleted,
		DeletedAt:      deletedAt,
		Version:        wn.Version,
		ServerVersion:  wn.Version,
		WordWrap:       wn.WordWrap,
		SyntaxLanguage: wn.SyntaxLanguage,
	}, nil
}

// applyDeletions hard-removes local rows for server-initiated
// tombstones (step 6). This is distinct from ordinary LWW on the
// deleted flag, which handles client-initiated soft deletes.
func (e *Engine) applyDeletions(ids []string) {
	for _, id := range ids {
		if err := e.Store.Notes.HardDelete(id); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			log.Warn().Err(err).Str("note_id", id).Msg("failed to apply remote deletion")
		}
	}
}

func (e *Engine) knownNoteIDs() []string {
	notes, err := e.Store.Notes.List(true)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(notes))
	for _, n := range notes {
		ids = append(ids, n.ID)
	}
	return ids
}
