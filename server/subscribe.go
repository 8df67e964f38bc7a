package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

type flushResponse struct {
	StatusCode int `json:"statusCode"`
	OK         int `json:"ok,omitempty"`
	Err        int `json:"err,omitempty"`
}

func (s *Server) handleGetKey(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"authKey": s.keys.current()})
}

func (s *Server) handleAddEmail(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || len(r.PostForm) == 0 {
		http.Redirect(w, r, s.errorPage, http.StatusFound)
		return
	}

	if !s.keys.valid(r.PostForm.Get("auke")) || !s.validHost(r.Host) {
		s.logger.Warn("Subscribe request rejected", "host", r.Host)
		http.Redirect(w, r, s.errorPage, http.StatusFound)
		return
	}

	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
		return
	}

	email := strings.TrimSpace(r.PostForm.Get("eml"))
	topicID := strings.TrimSpace(r.PostForm.Get("tid"))

	s.redirect(w, r, s.lifecycle.Subscribe(r.Context(), email, topicID))
}

// pathEmail reads the email URL parameter, undoing any percent-encoding.
func pathEmail(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if email, err := url.PathUnescape(raw); err == nil {
		return email
	}
	return raw
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "subscode")
	s.redirect(w, r, s.lifecycle.Confirm(r.Context(), pathEmail(r), code))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "subscode")
	s.redirect(w, r, s.lifecycle.Unsubscribe(r.Context(), pathEmail(r), code))
}

func (s *Server) handleFlushCache(w http.ResponseWriter, r *http.Request) {
	if !s.lifecycle.FlushCaches(chi.URLParam(r, "accessCode"), chi.URLParam(r, "topicId")) {
		s.writeJSON(w, http.StatusOK, flushResponse{StatusCode: http.StatusInternalServerError, Err: 1})
		return
	}
	s.writeJSON(w, http.StatusOK, flushResponse{StatusCode: http.StatusOK, OK: 1})
}

func (s *Server) handleTestAdd(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if err := templates.ExecuteTemplate(w, "add.tmpl", map[string]string{"Key": s.keys.current()}); err != nil {
		s.logger.Error("Failed to render template", "template", "add.tmpl", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
