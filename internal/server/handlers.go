package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ppiankov/markxiv/internal/service"
)

const markdownType = "text/markdown; charset=utf-8"

// statusClientClosedRequest is served when the caller went away first
const statusClientClosedRequest = 499

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// paper serves /abs/{id} and /pdf/{id}; both spellings share a cache entry
func (s *Server) paper(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "1"
	md, err := s.svc.Convert(r.Context(), chi.URLParam(r, "*"), refresh)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Location", r.URL.Path)
	writeMarkdown(w, md)
}

// exists answers HEAD /abs/{id} without converting: 200 for a known paper,
// 404 otherwise.
func (s *Server) exists(w http.ResponseWriter, r *http.Request) {
	ok, err := s.svc.Exists(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", markdownType)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) metadata(w http.ResponseWriter, r *http.Request) {
	md, err := s.svc.Metadata(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMarkdown(w, md)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("max"))
	md, err := s.svc.Search(r.Context(), q.Get("q"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMarkdown(w, md)
}

type figuresResponse struct {
	ID      string   `json:"id"`
	Figures []string `json:"figures"`
}

func (s *Server) figures(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	urls, err := s.svc.Figures(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(figuresResponse{ID: id, Figures: urls}); err != nil {
		s.logger.Debug("write figures response", zap.Error(err))
	}
}

func writeMarkdown(w http.ResponseWriter, md string) {
	w.Header().Set("Content-Type", markdownType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(md))
}

// StatusFor maps an error to the HTTP status it is served with
func StatusFor(err error) int {
	switch service.KindOf(err) {
	case service.KindInvalidID, service.KindInvalidQuery:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindPdfOnly:
		return http.StatusUnprocessableEntity
	case service.KindNetwork:
		return http.StatusBadGateway
	case service.KindNotImplemented:
		return http.StatusNotImplemented
	}
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == statusClientClosedRequest {
		s.logger.Debug("client went away", zap.String("path", r.URL.Path))
		w.WriteHeader(status)
		return
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}
