// Package admin exposes a small chi-based HTTP introspection surface
// over the reference cache and a set of named Storage instances: a
// router with Recoverer/RealIP/permissive-CORS middleware, JSON
// response helpers, and graceful Shutdown.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/raid-newvicx/cachex/refcache"
	"github.com/raid-newvicx/cachex/storage"
)

// Server serves a JSON API for inspecting the process's reference cache
// and triggering DeleteAll on named storage instances (e.g. to clear a
// Redis or Mongo-backed value cache from an ops console).
type Server struct {
	router   chi.Router
	storages map[string]storage.Storage
	addr     string
	server   *http.Server
}

// New constructs a Server listening on addr. storages names the Storage
// instances this server is allowed to operate on (typically the same
// instances bound into valuecache decorators via a shared factory).
func New(addr string, storages map[string]storage.Storage) *Server {
	s := &Server{addr: addr, storages: storages}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/references", s.handleListReferences)
	r.Delete("/api/references/{key}", s.handleRemoveReference)
	r.Get("/api/storages", s.handleListStorages)
	r.Post("/api/storages/{name}/delete_all", s.handleDeleteAll)

	s.router = r
	return s
}

// Start begins listening on the configured address. It blocks until the
// server is shut down or an error occurs.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Info().Str("addr", s.addr).Msg("cachex: admin server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListReferences returns every cache_key currently registered in
// the reference cache. It reports keys and object types, not values:
// reference-cached objects are typically live connections or clients that
// are not meaningfully JSON-serializable.
func (s *Server) handleListReferences(w http.ResponseWriter, _ *http.Request) {
	registry := refcache.Entries()
	type entry struct {
		Key  string `json:"key"`
		Type string `json:"type"`
	}
	entries := make([]entry, 0, len(registry))
	for key, obj := range registry {
		entries = append(entries, entry{Key: key, Type: fmt.Sprintf("%T", obj)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(entries), "references": entries})
}

// handleRemoveReference evicts a single cache_key from the reference
// cache, for operator-driven teardown of a stuck connection.
func (s *Server) handleRemoveReference(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing key"})
		return
	}
	refcache.Remove(key)
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// handleListStorages returns the names of storage instances this server
// can operate on.
func (s *Server) handleListStorages(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.storages))
	for name := range s.storages {
		names = append(names, name)
	}
	writeJSON(w, http.StatusOK, names)
}

// handleDeleteAll clears every entry in the named storage instance's
// namespace.
func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	st, ok := s.storages[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown storage: " + name})
		return
	}
	if err := st.DeleteAll(r.Context()); err != nil {
		log.Error().Err(err).Str("storage", name).Msg("cachex: admin delete_all failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "storage": name})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("cachex: admin failed to write JSON response")
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
