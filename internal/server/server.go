// Package server exposes the read-side HTTP API: the cached project
// list and presigned URLs for image variants.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/tgasco/portfolio-sync/internal/cache"
	"github.com/tgasco/portfolio-sync/internal/imaging"
	"github.com/tgasco/portfolio-sync/internal/pipeline"
	"github.com/tgasco/portfolio-sync/internal/store"
)

// Config holds configuration for the API server.
type Config struct {
	// CacheKey is the cache entry holding the published project list.
	CacheKey string
	// PresignTTL is the lifetime of presigned image URLs. Defaults to
	// 15 minutes.
	PresignTTL time.Duration
}

// Server serves the JSON API backed by the project cache and the
// object store.
type Server struct {
	cfg   Config
	cache *cache.ProjectCache
	store store.Store
}

// New creates a Server.
func New(cfg Config, c *cache.ProjectCache, st store.Store) *Server {
	if cfg.CacheKey == "" {
		cfg.CacheKey = "projects"
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	return &Server{cfg: cfg, cache: c, store: st}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Encode JSON response", "err", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleProjects serves the published project list, falling back to
// the stored aggregate document on a cache miss.
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if projects, ok := s.cache.Get(s.cfg.CacheKey); ok {
		writeJSON(w, http.StatusOK, projects)
		return
	}

	obj, err := s.store.Get(r.Context(), store.AggregateKey)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "no project data has been published yet")
		return
	}
	if err != nil {
		slog.Error("Read aggregate document", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to read project data")
		return
	}

	var projects []pipeline.Project
	if err := json.Unmarshal(obj.Data, &projects); err != nil {
		slog.Error("Decode aggregate document", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "stored project data is malformed")
		return
	}

	s.cache.Set(s.cfg.CacheKey, projects)
	writeJSON(w, http.StatusOK, projects)
}

// handleImageURL serves a presigned URL for one image variant.
func (s *Server) handleImageURL(w http.ResponseWriter, r *http.Request) {
	format := imaging.Format(r.PathValue("format"))
	size := imaging.Size(r.PathValue("size"))
	name := assetName(r.PathValue("filename"))

	if !slices.Contains(imaging.Formats, format) {
		writeJSONError(w, http.StatusBadRequest, "unknown image format")
		return
	}
	if !slices.Contains(imaging.Sizes, size) {
		writeJSONError(w, http.StatusBadRequest, "unknown image size")
		return
	}

	url, err := s.store.PresignedURL(r.Context(), store.VariantKey(name, size, format), s.cfg.PresignTTL)
	if err != nil {
		slog.Error("Presign image URL", "name", name, "format", format, "size", size, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to sign image URL")
		return
	}
	if url == "" {
		writeJSONError(w, http.StatusNotFound, "image variant not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// imageMetadata describes every variant available for one asset.
type imageMetadata struct {
	Formats []imaging.Format             `json:"formats"`
	Sizes   []imaging.Size               `json:"sizes"`
	URLs    map[string]map[string]string `json:"urls"`
}

// handleImageMetadata serves presigned URLs for all variants of one
// asset.
func (s *Server) handleImageMetadata(w http.ResponseWriter, r *http.Request) {
	name := assetName(r.PathValue("filename"))

	meta := imageMetadata{
		Formats: imaging.Formats,
		Sizes:   imaging.Sizes,
		URLs:    map[string]map[string]string{},
	}

	found := false
	for _, format := range imaging.Formats {
		urls := map[string]string{}
		for _, size := range imaging.Sizes {
			url, err := s.store.PresignedURL(r.Context(), store.VariantKey(name, size, format), s.cfg.PresignTTL)
			if err != nil {
				slog.Error("Presign image URL", "name", name, "format", format, "size", size, "err", err)
				writeJSONError(w, http.StatusInternalServerError, "failed to sign image URL")
				return
			}
			if url != "" {
				urls[string(size)] = url
				found = true
			}
		}
		meta.URLs[string(format)] = urls
	}

	if !found {
		writeJSONError(w, http.StatusNotFound, "no variants found for image")
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

// assetName strips any file extension so clients may pass either the
// bare asset name or the original filename.
func assetName(filename string) string {
	return strings.TrimSuffix(filename, path.Ext(filename))
}
