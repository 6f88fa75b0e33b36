// Package relay implements the sync relay service: a thin, encrypted-
// blob-blind HTTP API that clients push ciphertext notes to and pull
// other devices' ciphertext notes from. The relay never sees a master
// key and never decrypts content or tags; it only orders, stores, and
// replays ciphertext by id and timestamp.
package relay

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/seesee/jottery/internal/apperr"
)

// DB is the narrow subset of *pgxpool.Pool the relay's handlers use.
// Handlers depend on this interface rather than the concrete pool type
// so tests can substitute an in-memory fake without a live Postgres.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Server holds the relay's dependencies shared by every handler.
type Server struct {
	DB             DB
	MaxPayloadSize int64
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	correlationID := GetCorrelationID(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Error         string `json:"error"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}{Error: message, CorrelationID: correlationID})
}

// writeAppError logs the underlying cause and writes the relay's
// structured error response for it, classifying err with apperr.KindOf
// and mapping that Kind onto an HTTP status via apperr.HTTPStatus —
// the propagation policy from spec.md §7 (400/401/404/500 etc.).
func writeAppError(w http.ResponseWriter, r *http.Request, err error, message string) {
	kind := apperr.KindOf(err)
	switch kind {
	case apperr.KindInvalidInput:
		// client-supplied malformed input; not worth a server log line.
	case apperr.KindUnauthorized, apperr.KindConflict:
		log.Warn().Err(err).Str("kind", kind.String()).Msg(message)
	default:
		log.Error().Err(err).Str("kind", kind.String()).Msg(message)
	}
	writeError(w, r, apperr.HTTPStatus(kind), message)
}
