package relay

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	jcrypto "github.com/seesee/jottery/internal/crypto"
	"github.com/seesee/jottery/internal/relay/relaytest"
	"github.com/seesee/jottery/internal/wire"
)

func blob(ciphertext string) jcrypto.Blob {
	return jcrypto.Blob{Ciphertext: ciphertext, Nonce: "nonce", Tag: "tag"}
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	srv := &Server{DB: relaytest.New()}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	var reg wire.RegisterResponse
	doJSON(t, ts.URL, http.MethodPost, "/api/v1/auth/register", "",
		wire.RegisterRequest{DeviceName: "test-device", DeviceType: "cli"}, &reg)
	if reg.APIKey == "" || reg.ClientID == "" {
		t.Fatalf("register returned empty credentials: %+v", reg)
	}
	return ts, reg.APIKey
}

func doJSON(t *testing.T, baseURL, method, path, apiKey string, body, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestRegisterReturnsUniqueClientAndKey(t *testing.T) {
	ts, key1 := newTestServer(t)
	var reg2 wire.RegisterResponse
	doJSON(t, ts.URL, http.MethodPost, "/api/v1/auth/register", "",
		wire.RegisterRequest{DeviceName: "second-device", DeviceType: "cli"}, &reg2)

	if reg2.APIKey == key1 {
		t.Error("second registration returned the same API key as the first")
	}
}

func TestStatusRequiresAuth(t *testing.T) {
	ts, _ := newTestServer(t)
	code := doJSON(t, ts.URL, http.MethodGet, "/api/v1/sync/status", "", nil, nil)
	if code != http.StatusUnauthorized {
		t.Errorf("status without credential = %d, want 401", code)
	}
}

func TestPushThenPullRoundtrips(t *testing.T) {
	ts, key := newTestServer(t)

	push := wire.PushRequest{
		Notes: []wire.Note{{
			ID:         "note-1",
			CreatedAt:  "2026-01-01T00:00:00Z",
			ModifiedAt: "2026-01-01T00:00:00Z",
			Content:    blob("ciphertext-content"),
			Tags:       []jcrypto.Blob{blob("tag-1")},
			Version:    1,
		}},
	}
	var pushResp wire.PushResponse
	code := doJSON(t, ts.URL, http.MethodPost, "/api/v1/sync/push", key, push, &pushResp)
	if code != http.StatusOK {
		t.Fatalf("push status = %d, want 200", code)
	}
	if len(pushResp.Accepted) != 1 || pushResp.Accepted[0].ID != "note-1" {
		t.Fatalf("push response = %+v, want note-1 accepted", pushResp)
	}

	var pullResp wire.PullResponse
	code = doJSON(t, ts.URL, http.MethodPost, "/api/v1/sync/pull", key, wire.PullRequest{}, &pullResp)
	if code != http.StatusOK {
		t.Fatalf("pull status = %d, want 200", code)
	}
	if len(pullResp.Notes) != 1 || pullResp.Notes[0].ID != "note-1" {
		t.Fatalf("pull response = %+v, want note-1", pullResp)
	}
}

func TestPushRejectsStaleModifiedAt(t *testing.T) {
	ts, key := newTestServer(t)

	first := wire.PushRequest{Notes: []wire.Note{{
		ID: "note-2", CreatedAt: "2026-01-01T00:00:00Z", ModifiedAt: "2026-01-02T00:00:00Z",
		Content: blob("v2"), Version: 2,
	}}}
	var firstResp wire.PushResponse
	doJSON(t, ts.URL, http.MethodPost, "/api/v1/sync/push", key, first, &firstResp)
	if len(firstResp.Accepted) != 1 {
		t.Fatalf("first push = %+v, want accepted", firstResp)
	}

	stale := wire.PushRequest{Notes: []wire.Note{{
		ID: "note-2", CreatedAt: "2026-01-01T00:00:00Z", ModifiedAt: "2026-01-01T12:00:00Z",
		Content: blob("v1"), Version: 1,
	}}}
	var staleResp wire.PushResponse
	doJSON(t, ts.URL, http.MethodPost, "/api/v1/sync/push", key, stale, &staleResp)
	if len(staleResp.Rejected) != 1 || staleResp.Rejected[0].Reason != "Server version is newer" {
		t.Fatalf("stale push = %+v, want rejected with LWW reason", staleResp)
	}
}

func TestPushRejectsReplayWithEqualModifiedAt(t *testing.T) {
	ts, key := newTestServer(t)

	note := wire.Note{ID: "note-3", CreatedAt: "2026-01-01T00:00:00Z", ModifiedAt: "2026-01-01T00:00:00Z", Content: blob("v1"), Version: 1}
	req := wire.PushRequest{Notes: []wire.Note{note}}

	var first wire.PushResponse
	doJSON(t, ts.URL, http.MethodPost, "/api/v1/sync/push", key, req, &first)
	var second wire.PushResponse
	doJSON(t, ts.URL, http.MethodPost, "/api/v1/sync/push", key, req, &second)

	if len(first.Accepted) != 1 {
		t.Fatalf("first push = %+v, want accepted", first)
	}
	if len(second.Rejected) != 1 {
		t.Fatalf("replayed push with equal modifiedAt = %+v, want rejected (not strictly newer)", second)
	}
}

func TestStatusLastSyncedAtTracksLastPull(t *testing.T) {
	ts, key := newTestServer(t)

	var before wire.StatusResponse
	doJSON(t, ts.URL, http.MethodGet, "/api/v1/sync/status", key, nil, &before)
	if before.LastSyncedAt != nil {
		t.Fatalf("lastSyncedAt before any pull = %v, want nil", before.LastSyncedAt)
	}

	doJSON(t, ts.URL, http.MethodPost, "/api/v1/sync/pull", key, wire.PullRequest{}, &wire.PullResponse{})

	var after wire.StatusResponse
	doJSON(t, ts.URL, http.MethodGet, "/api/v1/sync/status", key, nil, &after)
	if after.LastSyncedAt == nil || *after.LastSyncedAt == "" {
		t.Fatalf("lastSyncedAt after pull = %v, want a timestamp", after.LastSyncedAt)
	}
}

func TestDeleteNoteRemovesIt(t *testing.T) {
	ts, key := newTestServer(t)

	req := wire.PushRequest{Notes: []wire.Note{{
		ID: "note-4", CreatedAt: "2026-01-01T00:00:00Z", ModifiedAt: "2026-01-01T00:00:00Z", Content: blob("v1"), Version: 1,
	}}}
	var resp wire.PushResponse
	doJSON(t, ts.URL, http.MethodPost, "/api/v1/sync/push", key, req, &resp)

	code := doJSON(t, ts.URL, http.MethodDelete, "/api/v1/sync/notes/note-4", key, nil, nil)
	if code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", code)
	}

	var pullResp wire.PullResponse
	doJSON(t, ts.URL, http.MethodPost, "/api/v1/sync/pull", key, wire.PullRequest{}, &pullResp)
	if len(pullResp.Notes) != 0 {
		t.Fatalf("pull after delete = %+v, want no notes", pullResp)
	}
}
