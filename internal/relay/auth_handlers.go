package relay

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/seesee/jottery/internal/apperr"
	"github.com/seesee/jottery/internal/wire"
)

// Register handles POST /api/v1/auth/register: it mints a new client
// id and a 64-hex-character API key, persists only the key's SHA-256
// hash, and returns the raw key once. The raw key is never recoverable
// afterward; losing it means re-registering as a new client.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req wire.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.KindInvalidInput, "register: decode body", err), "invalid request body")
		return
	}
	if req.DeviceName == "" || req.DeviceType == "" {
		writeAppError(w, r, apperr.New(apperr.KindInvalidInput, "missing device fields"), "deviceName and deviceType are required")
		return
	}

	clientID := uuid.New().String()
	apiKey, err := generateAPIKey()
	if err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.KindStorageError, "failed to generate api key", err), "registration failed")
		return
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.DB.Exec(r.Context(),
		`INSERT INTO clients (id, api_key_hash, device_name, device_type, created_at, last_seen_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $5, TRUE)`,
		clientID, hashAPIKey(apiKey), req.DeviceName, req.DeviceType, now,
	)
	if err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.KindStorageError, "failed to insert client", err), "registration failed")
		return
	}

	log.Info().Str("client_id", clientID).Str("device_name", req.DeviceName).Msg("registered new client")

	writeJSON(w, http.StatusCreated, wire.RegisterResponse{
		APIKey:    apiKey,
		ClientID:  clientID,
		CreatedAt: now,
	})
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
