// Package syncengine drives reconciliation between the encrypted local
// store and the relay service: it determines what to push, ships
// ciphertext, pulls back remote changes, and applies last-write-wins.
package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seesee/jottery/internal/apperr"
	"github.com/seesee/jottery/internal/wire"
)

// Transport is an HTTP client bound to one relay endpoint and API key.
type Transport struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewTransport builds a Transport with a sane request timeout.
func NewTransport(baseURL, apiKey string) *Transport {
	return &Transport{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *Transport) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.KindInvalidInput, "encode request body", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.BaseURL+path, reqBody)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "relay request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody wire.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		msg := errBody.Error
		if msg == "" {
			msg = fmt.Sprintf("relay returned status %d", resp.StatusCode)
		}
		return apperr.New(apperr.KindTransport, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindTransport, "decode relay response", err)
	}
	return nil
}

// Register calls POST /api/v1/auth/register.
func (t *Transport) Register(ctx context.Context, deviceName, deviceType string) (wire.RegisterResponse, error) {
	var out wire.RegisterResponse
	err := t.do(ctx, http.MethodPost, "/api/v1/auth/register", wire.RegisterRequest{
		DeviceName: deviceName,
		DeviceType: deviceType,
	}, &out)
	return out, err
}

// Status calls GET /api/v1/sync/status.
func (t *Transport) Status(ctx context.Context) (wire.StatusResponse, error) {
	var out wire.StatusResponse
	err := t.do(ctx, http.MethodGet, "/api/v1/sync/status", nil, &out)
	return out, err
}

// Push calls POST /api/v1/sync/push.
func (t *Transport) Push(ctx context.Context, req wire.PushRequest) (wire.PushResponse, error) {
	var out wire.PushResponse
	err := t.do(ctx, http.MethodPost, "/api/v1/sync/push", req, &out)
	return out, err
}

// Pull calls POST /api/v1/sync/pull.
func (t *Transport) Pull(ctx context.Context, req wire.PullRequest) (wire.PullResponse, error) {
	var out wire.PullResponse
	err := t.do(ctx, http.MethodPost, "/api/v1/sync/pull", req, &out)
	return out, err
}

// DeleteNote calls DELETE /api/v1/sync/notes/{id}.
func (t *Transport) DeleteNote(ctx context.Context, id string) error {
	return t.do(ctx, http.MethodDelete, "/api/v1/sync/notes/"+id, nil, nil)
}
