package relay

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// Routes builds the relay's HTTP router: an unauthenticated health
// check and registration endpoint, and an authenticated sync group.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-ID"},
	})
	r.Use(c.Handler)
	r.Use(s.maxBodySize)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/api/v1/auth/register", s.Register)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.DB))

		r.Get("/api/v1/sync/status", s.Status)
		r.Post("/api/v1/sync/push", s.Push)
		r.Post("/api/v1/sync/pull", s.Pull)
		r.Delete("/api/v1/sync/notes/{id}", s.DeleteNote)
	})

	return r
}

// maxBodySize caps request bodies at MaxPayloadSize, guarding against
// oversized pushes (e.g. attachment payloads) before they reach a
// handler's json.Decode. A zero value leaves bodies unbounded.
func (s *Server) maxBodySize(next http.Handler) http.Handler {
	if s.MaxPayloadSize <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxPayloadSize)
		next.ServeHTTP(w, r)
	})
}
