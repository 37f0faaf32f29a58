package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShoshinNikita/rthumb/imports"
	"github.com/ShoshinNikita/rthumb/pkg/rlog"
	"github.com/ShoshinNikita/rthumb/rthumb"
	"github.com/ShoshinNikita/rthumb/storage"
)

// Thumbnails are never changed until they are deleted.
const thumbnailMaxAge = 24 * time.Hour

type Server struct {
	httpServer *http.Server

	thumbnailService rthumb.ThumbnailService

	store   rthumb.ObjectStore
	folders storage.Folders
}

func NewServer(cfg rthumb.Config, thumbnailService rthumb.ThumbnailService, store rthumb.ObjectStore, folders storage.Folders) (s *Server) {
	s = &Server{
		thumbnailService: thumbnailService,
		store:            store,
		folders:          folders,
	}

	mux := http.NewServeMux()

	// API
	mux.HandleFunc("GET /api/thumbnail", s.handleThumbnail)
	mux.HandleFunc("DELETE /api/thumbnails", s.handleDeleteThumbnails)
	mux.HandleFunc("GET /api/imports/head", s.handleImportHead)
	mux.HandleFunc("GET /api/imports/rows", s.handleImportRows)
	mux.HandleFunc("DELETE /api/imports", s.handleDeleteImport)

	// Debug
	mux.Handle("/debug/metrics", promhttp.Handler())

	handler := loggingMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.ServerPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler returns the root handler with all middlewares.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	rlog.Infof("start web server on %q", s.httpServer.Addr)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleThumbnail generates the thumbnail, if needed, and returns it.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	req, err := thumbnailRequestFromRequest(r)
	if err != nil {
		writeBadRequestError(w, "%s", err.Error())
		return
	}

	thumbnail, err := s.thumbnailService.Generate(r.Context(), req)
	if err != nil {
		writeInternalServerError(w, "couldn't generate thumbnail: %s", err)
		return
	}
	if thumbnail == nil {
		writeError(w, http.StatusNotFound, "thumbnail for %q is not available", req.SourceKey)
		return
	}

	setCacheHeaders(w, thumbnailMaxAge, thumbnail.Digest)
	if thumbnail.Digest != "" && r.Header.Get("If-None-Match") == w.Header().Get("ETag") {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", thumbnail.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(thumbnail.Data)))
	w.Write(thumbnail.Data) //nolint:errcheck
}

func thumbnailRequestFromRequest(r *http.Request) (rthumb.ThumbnailRequest, error) {
	query := r.URL.Query()

	size, err := strconv.Atoi(query.Get("size"))
	if err != nil {
		return rthumb.ThumbnailRequest{}, fmt.Errorf("invalid size: %w", err)
	}

	var isDocumentPage bool
	if raw := query.Get("document"); raw != "" {
		isDocumentPage, err = strconv.ParseBool(raw)
		if err != nil {
			return rthumb.ThumbnailRequest{}, fmt.Errorf("invalid document: %w", err)
		}
	}

	req := rthumb.ThumbnailRequest{
		SourceKey:      query.Get("source"),
		TargetKey:      query.Get("target"),
		Size:           size,
		IsDocumentPage: isDocumentPage,
	}
	if err := req.Validate(); err != nil {
		return rthumb.ThumbnailRequest{}, err
	}
	return req, nil
}

func (s *Server) handleDeleteThumbnails(w http.ResponseWriter, r *http.Request) {
	prefix := r.FormValue("prefix")

	err := s.thumbnailService.BatchDelete(r.Context(), prefix)
	if err != nil {
		writeInternalServerError(w, "couldn't delete thumbnails: %s", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) importFile(w http.ResponseWriter, r *http.Request) (*imports.File, bool) {
	filename := r.FormValue("filename")
	if filename == "" || strings.Contains(filename, "..") {
		writeBadRequestError(w, "invalid filename %q", filename)
		return nil, false
	}
	return imports.NewFile(s.store, s.folders, filename), true
}

func (s *Server) handleImportHead(w http.ResponseWriter, r *http.Request) {
	file, ok := s.importFile(w, r)
	if !ok {
		return
	}

	maxBytes := imports.DefaultMaxReadBytes
	if raw := r.FormValue("max_bytes"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeBadRequestError(w, "invalid max_bytes %q", raw)
			return
		}
		maxBytes = v
	}

	head, err := file.ReadHead(r.Context(), maxBytes)
	if err != nil {
		writeInternalServerError(w, "couldn't read file: %s", err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(head)) //nolint:errcheck
}

func (s *Server) handleImportRows(w http.ResponseWriter, r *http.Request) {
	file, ok := s.importFile(w, r)
	if !ok {
		return
	}

	rows, err := file.Rows(r.Context(), imports.Settings{
		Encoding:  r.FormValue("encoding"),
		Separator: r.FormValue("separator"),
		Wrapper:   r.FormValue("wrapper"),
	})
	switch {
	case errors.Is(err, imports.ErrUnsupportedSettings):
		writeBadRequestError(w, "%s", err.Error())
		return
	case err != nil:
		writeInternalServerError(w, "couldn't read rows: %s", err)
		return
	case rows == nil:
		writeError(w, http.StatusNotFound, "file %q doesn't exist", file.Filename)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ImportRowsResponse{Rows: rows}) //nolint:errcheck
}

func (s *Server) handleDeleteImport(w http.ResponseWriter, r *http.Request) {
	file, ok := s.importFile(w, r)
	if !ok {
		return
	}

	file.Remove(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

type ImportRowsResponse struct {
	Rows [][]string `json:"rows"`
}

func writeBadRequestError(w http.ResponseWriter, format string, a ...any) {
	writeError(w, http.StatusBadRequest, format, a...)
}

func writeInternalServerError(w http.ResponseWriter, format string, a ...any) {
	writeError(w, http.StatusInternalServerError, format, a...)
}

func writeError(w http.ResponseWriter, code int, format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if code >= http.StatusInternalServerError {
		rlog.Error(msg)
	}
	http.Error(w, msg, code)
}
