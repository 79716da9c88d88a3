package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/threadwise/internal/config"
	"github.com/hyperjump/threadwise/internal/engine"
	"github.com/hyperjump/threadwise/internal/ingest"
	"github.com/hyperjump/threadwise/internal/models"
	"github.com/hyperjump/threadwise/internal/report"
	"github.com/hyperjump/threadwise/internal/storage"
	"github.com/hyperjump/threadwise/internal/threading"
	"go.uber.org/zap"
)

const maxIngestBody = 64 << 20

// apiSource is the batch source for posted messages when the request names none.
const apiSource = "api"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxIngestBody)
	res, err := ingest.Decode(r.Context(), body, ingest.Options{Format: ingest.FormatJSON, Logger: s.logger})
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		source = apiSource
	}
	batch, err := s.engine.IngestMessages(r.Context(), source, res.Messages)
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, &engine.IngestResult{Batch: batch, Skipped: res.Skipped})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete message request", zap.String("id", id))
	if err := s.engine.DeleteMessage(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			s.respondError(w, http.StatusNotFound, "message not found")
			return
		}
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleMessageContext(w http.ResponseWriter, r *http.Request) {
	window, err := intParam(r, "window")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cw, err := s.engine.MessageContext(r.Context(), chi.URLParam(r, "id"), window)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, cw)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.engine.Conversations(r.Context())
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"total":         len(convs),
	})
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	gap, err := floatParam(r, "gap_hours")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	threads, err := s.engine.Threads(r.Context(), gap)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"threads": threads,
		"total":   len(threads),
	})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	gap, err := floatParam(r, "gap_hours")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	summaries, err := s.engine.Summaries(r.Context(), gap)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"summaries": summaries,
		"total":     len(summaries),
	})
}

func (s *Server) handleFlagged(w http.ResponseWriter, r *http.Request) {
	window, err := intParam(r, "window")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	windows, err := s.engine.Flagged(r.Context(), window)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"flagged": windows,
		"total":   len(windows),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.engine.Search(r.Context(), &query)
	if err != nil {
		if errors.Is(err, models.ErrInvalidQuery) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	exp, err := s.engine.Export(r.Context())
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, exp)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	exp, err := s.engine.Export(r.Context())
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	f, err := report.Workbook(exp)
	if err != nil {
		s.logger.Error("report failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.WorkbookFile))
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		s.logger.Warn("failed to write report", zap.Error(err))
	}
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current watch roots back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.watchConfigMu.Lock()
	defer s.watchConfigMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// intParam reads an optional non-negative integer query parameter.
func intParam(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return &n, nil
}

// floatParam reads an optional number query parameter. Range checks are left to the threader.
func floatParam(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", name)
	}
	return &v, nil
}

// respondEngineError maps threading argument errors to 400 and everything else to 500.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, threading.ErrInvalidWindow) || errors.Is(err, threading.ErrInvalidGap) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("request failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
