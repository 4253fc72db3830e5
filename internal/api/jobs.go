package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"scoreforge/internal/model"
	"scoreforge/internal/orchestrator"
	"scoreforge/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxWait          = 60 * time.Second

	fileField         = "file"
	outputFormatField = "output_format"
	inputFormatField  = "input_format"
)

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	// Multipart framing adds overhead on top of the score itself; a fixed
	// margin keeps the reader from rejecting inputs right at the limit.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxInput+(1<<20))

	file, header, err := r.FormFile(fileField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("input exceeds %d byte limit", s.maxInput))
			return
		}
		s.writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	outputFormat := r.FormValue(outputFormatField)
	if outputFormat == "" {
		s.writeError(w, http.StatusBadRequest, "field 'output_format' is required")
		return
	}

	inputFormat := r.FormValue(inputFormatField)
	if inputFormat == "" {
		var ok bool
		inputFormat, ok = model.InputFormatFromFilename(header.Filename)
		if !ok {
			s.writeError(w, http.StatusUnprocessableEntity,
				fmt.Sprintf("cannot infer input format from %q; pass 'input_format'", header.Filename))
			return
		}
	}

	input, err := io.ReadAll(io.LimitReader(file, s.maxInput+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}
	if int64(len(input)) > s.maxInput {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("input exceeds %d byte limit", s.maxInput))
		return
	}
	if len(input) == 0 {
		s.writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	job, err := s.orch.Submit(r.Context(), input, inputFormat, outputFormat)
	if errors.Is(err, orchestrator.ErrUnsupportedFormat) {
		s.writeError(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("conversion %s to %s is not supported", inputFormat, outputFormat))
		return
	}
	if errors.Is(err, orchestrator.ErrClosed) {
		s.writeError(w, http.StatusServiceUnavailable, "service is shutting down")
		return
	}
	if err != nil {
		s.logger.Error("submit job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if waitStr := r.URL.Query().Get("wait"); waitStr != "" {
		wait, err := time.ParseDuration(waitStr)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid wait duration")
			return
		}
		if wait > maxWait {
			wait = maxWait
		}
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		err = s.orch.Wait(ctx, id)
		cancel()
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		// Deadline expiry falls through to return the current record.
	}

	job, err := s.orch.Status(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := s.orch.Fetch(r.Context(), id)
	if errors.Is(err, orchestrator.ErrNotReady) {
		s.writeError(w, http.StatusConflict, "job has not finished")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found or result expired")
		return
	}
	if err != nil {
		s.logger.Error("fetch result", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to fetch result")
		return
	}

	if res.Failure != nil {
		s.writeJSON(w, http.StatusOK, res)
		return
	}

	w.Header().Set("Content-Type", model.ContentType(res.Artifact.Format))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", id+model.OutputExtension(res.Artifact.Format)))
	w.Header().Set("Content-Length", strconv.FormatInt(res.Artifact.Size, 10))
	if _, err := w.Write(res.Artifact.Bytes); err != nil {
		s.logger.Error("write artifact", "error", err, "job_id", id)
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.orch.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("cancel job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	job, err := s.orch.Status(r.Context(), id)
	if err != nil {
		s.logger.Error("get canceled job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
