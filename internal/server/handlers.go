package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/batch"
	"github.com/raaihank/pii-redactor/internal/jobs"
	"github.com/raaihank/pii-redactor/internal/redact"
	"github.com/raaihank/pii-redactor/internal/store"
)

const maxRedactBody = 1 << 20

// UploadResponse is returned when an upload starts a job
type UploadResponse struct {
	Success        bool   `json:"success"`
	JobID          string `json:"job_id"`
	Filename       string `json:"filename"`
	ProcessingMode string `json:"processing_mode"`
}

// RedactRequest is the body of POST /redact
type RedactRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode"`
}

// RedactResponse is the result of POST /redact
type RedactResponse struct {
	Text     string   `json:"text"`
	Changes  int      `json:"changes"`
	Path     string   `json:"path"`
	Failures []string `json:"failures,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":              "pii-redactor",
		"version":           s.deps.Version,
		"remote_tier":       s.config.Redaction.UseRemoteTier,
		"model":             s.config.Redaction.RemoteModelIdentifier,
		"tier_policy":       s.config.Redaction.TierPolicy,
		"recognizer":        s.config.Recognizer.Backend,
		"target_columns":    s.config.Redaction.TargetColumns,
		"max_upload_bytes":  s.config.Uploads.MaxBytes,
		"websocket_enabled": s.config.WebSocket.Enabled,
	})
}

// handleUpload saves the uploaded sheet and starts a redaction job
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithRequestID(getRequestID(r.Context()))

	if limit := s.config.Uploads.MaxBytes; limit > 0 {
		if r.ContentLength > limit {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("파일이 너무 큽니다 (최대 %dMB)", limit>>20))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("파일이 너무 큽니다 (최대 %dMB)", s.config.Uploads.MaxBytes>>20))
		case errors.Is(err, http.ErrMissingFile):
			writeError(w, http.StatusBadRequest, "파일이 선택되지 않았습니다")
		default:
			writeError(w, http.StatusBadRequest, "업로드를 읽을 수 없습니다")
		}
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if name == "" || name == "." || !s.allowedExtension(ext) {
		writeError(w, http.StatusBadRequest, "지원하지 않는 파일 형식입니다")
		return
	}

	mode, err := redact.ParseMode(r.FormValue("processing_mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inputPath := filepath.Join(s.uploadDir, "upload_"+uuid.NewString()+ext)
	if err := saveUpload(inputPath, file); err != nil {
		logger.Error("Failed to save upload", zap.String("filename", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "파일 저장 실패")
		return
	}

	job, err := s.deps.Runner.Start(r.Context(), jobs.Request{
		InputPath:    inputPath,
		OriginalName: name,
		Mode:         mode,
		RemoveInput:  true,
	})
	if err != nil {
		_ = os.Remove(inputPath)
		logger.Error("Failed to start job", zap.String("filename", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "작업을 시작할 수 없습니다")
		return
	}

	logger.Info("Upload accepted",
		zap.String("job_id", job.ID),
		zap.String("filename", name),
		zap.String("mode", string(mode)),
		zap.Int64("size", header.Size))

	writeJSON(w, http.StatusAccepted, UploadResponse{
		Success:        true,
		JobID:          job.ID,
		Filename:       name,
		ProcessingMode: string(mode),
	})
}

func (s *Server) allowedExtension(ext string) bool {
	if ext == "" {
		return false
	}
	return slices.Contains(s.config.Uploads.AllowedExtensions, ext)
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return err
	}
	return dst.Close()
}

// handleProgress returns the snapshot of the given job, or of the latest one
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("job")
	if id != "" {
		snap, ok := s.deps.Runner.Progress(id)
		if !ok {
			writeError(w, http.StatusNotFound, "작업을 찾을 수 없습니다")
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	if _, snap, ok := s.deps.Runner.Latest(); ok {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	writeJSON(w, http.StatusOK, batch.NewTracker("").Snapshot())
}

// handleListJobs returns recent jobs and totals
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	list, err := s.deps.Jobs.List(ctx, 50)
	if err != nil {
		s.logger.Error("Failed to list jobs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "작업 목록을 불러올 수 없습니다")
		return
	}
	stats, err := s.deps.Jobs.Stats(ctx)
	if err != nil {
		s.logger.Error("Failed to load job stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "작업 목록을 불러올 수 없습니다")
		return
	}
	if list == nil {
		list = []*store.Job{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  list,
		"stats": stats,
	})
}

// handleGetJob returns one job
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.deps.Jobs.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "작업을 찾을 수 없습니다")
		return
	}
	if err != nil {
		s.logger.Error("Failed to load job", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "작업을 불러올 수 없습니다")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleDownload sends a completed job's output once and removes it
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	path, name, err := s.deps.Runner.Output(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "다운로드할 파일이 없습니다")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.logger.Error("Failed to open output", zap.String("job_id", id), zap.Error(err))
		s.deps.Runner.Forget(id)
		writeError(w, http.StatusNotFound, "다운로드할 파일이 없습니다")
		return
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		writeError(w, http.StatusInternalServerError, "파일을 읽을 수 없습니다")
		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if ctype := mime.TypeByExtension(filepath.Ext(name)); ctype != "" {
		w.Header().Set("Content-Type", ctype)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
	f.Close()

	s.deps.Runner.Forget(id)
}

// handleRedact redacts a single text value
func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req RedactRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRedactBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "잘못된 요청 본문입니다")
		return
	}

	mode, err := redact.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	engine, release, err := s.engines.get(r.Context(), mode)
	if err != nil {
		s.logger.Error("Failed to create engine", zap.String("mode", string(mode)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "엔진을 준비할 수 없습니다")
		return
	}

	out := engine.Redact(r.Context(), req.Text)
	release()
	resp := RedactResponse{
		Text:    out.Text,
		Changes: out.Changes,
		Path:    string(out.Path),
	}
	for _, f := range out.Failures {
		resp.Failures = append(resp.Failures, f.Tier+": "+redact.Kind(f.Err))
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}
