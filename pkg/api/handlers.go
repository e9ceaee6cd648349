package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-notify/pkg/job"
	"github.com/zoff-tech/go-notify/pkg/queue"
)

// maxRequestBytes bounds an enqueue body, rendered HTML included.
const maxRequestBytes = 1 << 20

type enqueueRequest struct {
	Type        job.Type    `json:"type" validate:"required"`
	Priority    string      `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	MaxAttempts int         `json:"max_attempts" validate:"gte=0"`
	Delay       string      `json:"delay"`
	Message     job.Message `json:"message"`
}

type enqueueResponse struct {
	ID     string     `json:"id"`
	Status job.Status `json:"status"`
}

func (s *Server) enqueueHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.logger.Warn("enqueue request too large", zap.Int64("limit", tooLarge.Limit))
			writeJSONResponse(s.logger, w, http.StatusRequestEntityTooLarge, failure(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)))
			return
		}
		s.logger.Warn("failed to decode enqueue request", zap.Error(err))
		writeJSONResponse(s.logger, w, http.StatusBadRequest, failure("Invalid JSON format"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSONResponse(s.logger, w, http.StatusBadRequest, failure(err.Error()))
		return
	}
	if !req.Type.Valid() {
		writeJSONResponse(s.logger, w, http.StatusBadRequest, failure(fmt.Sprintf("unknown notification type: %q", req.Type)))
		return
	}
	for _, addr := range req.Message.Recipients() {
		if err := s.validate.Var(addr, "email"); err != nil {
			writeJSONResponse(s.logger, w, http.StatusBadRequest, failure(fmt.Sprintf("invalid recipient: %q", addr)))
			return
		}
	}

	priority, err := job.ParsePriority(req.Priority)
	if err != nil {
		writeJSONResponse(s.logger, w, http.StatusBadRequest, failure(err.Error()))
		return
	}
	opts := []queue.EnqueueOption{queue.WithPriority(priority), queue.WithMaxAttempts(req.MaxAttempts)}
	if req.Delay != "" {
		delay, err := time.ParseDuration(req.Delay)
		if err != nil || delay < 0 {
			writeJSONResponse(s.logger, w, http.StatusBadRequest, failure(fmt.Sprintf("invalid delay: %q", req.Delay)))
			return
		}
		opts = append(opts, queue.WithDelay(delay))
	}

	id, err := s.queue.Enqueue(r.Context(), req.Type, req.Message, opts...)
	if err != nil {
		writeJSONResponse(s.logger, w, http.StatusInternalServerError, failure("Failed to enqueue notification"))
		return
	}
	writeJSONResponse(s.logger, w, http.StatusAccepted, success(enqueueResponse{ID: id, Status: job.StatusPending}))
}

func (s *Server) listHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := queue.Filter{
		Type:   job.Type(query.Get("type")),
		Status: job.Status(query.Get("status")),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		writeJSONResponse(s.logger, w, http.StatusBadRequest, failure(fmt.Sprintf("unknown notification type: %q", filter.Type)))
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeJSONResponse(s.logger, w, http.StatusBadRequest, failure(fmt.Sprintf("unknown status: %q", filter.Status)))
		return
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSONResponse(s.logger, w, http.StatusBadRequest, failure(fmt.Sprintf("invalid limit: %q", raw)))
			return
		}
		filter.Limit = limit
	}

	entries, err := s.queue.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list notifications", zap.Error(err))
		writeJSONResponse(s.logger, w, http.StatusInternalServerError, failure("Failed to list notifications"))
		return
	}
	writeJSONResponse(s.logger, w, http.StatusOK, success(entries))
}

func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	j, status, ok := s.queue.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		writeJSONResponse(s.logger, w, http.StatusNotFound, failure("notification not found"))
		return
	}
	writeJSONResponse(s.logger, w, http.StatusOK, success(queue.Entry{Job: j, Status: status}))
}

func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.queue.Cancel(r.Context(), id) {
		writeJSONResponse(s.logger, w, http.StatusOK, success(enqueueResponse{ID: id, Status: job.StatusFailed}))
		return
	}
	if _, _, ok := s.queue.GetStatus(r.Context(), id); !ok {
		writeJSONResponse(s.logger, w, http.StatusNotFound, failure("notification not found"))
		return
	}
	writeJSONResponse(s.logger, w, http.StatusConflict, failure("notification already finished"))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(s.logger, w, http.StatusOK, success(s.queue.Stats(r.Context())))
}

func (s *Server) listCapturesHandler(w http.ResponseWriter, r *http.Request) {
	if recipient := r.URL.Query().Get("recipient"); recipient != "" {
		writeJSONResponse(s.logger, w, http.StatusOK, success(s.captures.ForRecipient(recipient)))
		return
	}
	writeJSONResponse(s.logger, w, http.StatusOK, success(s.captures.List()))
}

func (s *Server) getCaptureHandler(w http.ResponseWriter, r *http.Request) {
	c, ok := s.captures.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSONResponse(s.logger, w, http.StatusNotFound, failure("capture not found"))
		return
	}
	writeJSONResponse(s.logger, w, http.StatusOK, success(c))
}

func (s *Server) captureStatsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(s.logger, w, http.StatusOK, success(s.captures.Stats()))
}

func (s *Server) clearCapturesHandler(w http.ResponseWriter, _ *http.Request) {
	s.captures.Clear()
	w.WriteHeader(http.StatusNoContent)
}
