package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
)

type errorResponse struct {
	Error string   `json:"error"`
	IDs   []string `json:"ids,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req models.SyncRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("sync request",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Int("items", len(req.Items)),
		zap.Bool("remove_missing", req.RemoveMissing))
	res, err := s.svc.Sync(r.Context(), &req)
	if err != nil {
		s.respondErr(w, r, "sync failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("query request",
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("prompt", req.Prompt),
		zap.Int("count", req.Count))
	res, err := s.svc.Query(r.Context(), &req)
	if err != nil {
		s.respondErr(w, r, "query failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req models.Request
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.Run(r.Context(), &req)
	if err != nil {
		s.respondErr(w, r, req.Kind+" request failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	res, err := s.svc.Get(id)
	if err != nil {
		s.respondErr(w, r, "get item failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// decode reads a JSON body into v, answering 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var ve *errs.ValidationError
		if errors.As(err, &ve) {
			s.respondJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Error(), IDs: ve.IDs})
			return false
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch errs.Kind(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "capacity":
		return http.StatusRequestEntityTooLarge
	case "provider":
		return http.StatusBadGateway
	case "decode":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondJSON(w, status, errorResponse{Error: err.Error(), IDs: errs.IDs(err)})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Error: message})
}
