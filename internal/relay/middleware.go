package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/seesee/jottery/internal/apperr"
)

type contextKey string

const correlationIDKey contextKey = "correlationId"
const clientIDKey contextKey = "clientId"

// CorrelationMiddleware reads X-Correlation-ID, generating one when the
// client omits it, and attaches it to both the response and the logger
// context so every log line for a request can be traced end to end.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", correlationID)

		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		logger := log.With().Str("correlation_id", correlationID).Logger()
		ctx = logger.WithContext(ctx)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID retrieves the correlation ID from context.
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// AuthMiddleware validates the Authorization: Bearer <apiKey> header
// against the clients table's api_key_hash column, rejecting missing,
// unknown, or deactivated keys, and touches last_seen_at on success.
func AuthMiddleware(pool DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				writeAppError(w, r, apperr.New(apperr.KindUnauthorized, "missing bearer credential"), "missing bearer credential")
				return
			}
			apiKey := strings.TrimPrefix(h, "Bearer ")
			if apiKey == "" {
				writeAppError(w, r, apperr.New(apperr.KindUnauthorized, "missing bearer credential"), "missing bearer credential")
				return
			}

			hash := hashAPIKey(apiKey)

			var clientID string
			var isActive bool
			err := pool.QueryRow(r.Context(),
				`SELECT id, is_active FROM clients WHERE api_key_hash = $1`, hash,
			).Scan(&clientID, &isActive)
			if err != nil {
				writeAppError(w, r, apperr.Wrap(apperr.KindUnauthorized, "api key lookup failed", err), "invalid bearer credential")
				return
			}
			if !isActive {
				writeAppError(w, r, apperr.New(apperr.KindUnauthorized, "client deactivated"), "client deactivated")
				return
			}

			if _, err := pool.Exec(r.Context(),
				`UPDATE clients SET last_seen_at = now() WHERE id = $1`, clientID,
			); err != nil {
				log.Warn().Err(err).Str("client_id", clientID).Msg("failed to update last_seen_at")
			}

			ctx := context.WithValue(r.Context(), clientIDKey, clientID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientID extracts the authenticated client id from request context.
func ClientID(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
