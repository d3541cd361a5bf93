// Package server is the thin HTTP layer over the credential, ingestion and
// classification components. It owns routing, the JSON response envelope and
// the error-to-status mapping; no business logic lives here.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harshavardhanjagdale/inboxsense/internal/apperr"
	"github.com/harshavardhanjagdale/inboxsense/internal/auth"
	"github.com/harshavardhanjagdale/inboxsense/internal/classifier"
	"github.com/harshavardhanjagdale/inboxsense/internal/gmail"
	"github.com/harshavardhanjagdale/inboxsense/internal/ingest"
	"github.com/harshavardhanjagdale/inboxsense/internal/storage"
)

// Response is the standard JSON envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
	Detail  string      `json:"detail,omitempty"` // development mode only
}

type Server struct {
	auth        *auth.Manager
	pipeline    *ingest.Pipeline
	classifier  classifier.Classifier
	mail        *gmail.Factory
	storage     storage.Storage
	logger      *zap.Logger
	development bool
}

func New(
	authManager *auth.Manager,
	pipeline *ingest.Pipeline,
	clf classifier.Classifier,
	mail *gmail.Factory,
	store storage.Storage,
	logger *zap.Logger,
	development bool,
) *Server {
	return &Server{
		auth:        authManager,
		pipeline:    pipeline,
		classifier:  clf,
		mail:        mail,
		storage:     store,
		logger:      logger,
		development: development,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /auth/google", s.handleLogin)
	mux.HandleFunc("GET /auth/google/callback", s.handleCallback)
	mux.HandleFunc("GET /api/emails", s.handleListEmails)
	mux.HandleFunc("GET /api/emails/{id}", s.handleGetEmail)
	mux.HandleFunc("POST /api/emails/{id}/classify", s.handleClassify)
	mux.HandleFunc("POST /api/emails/{id}/reply", s.handleReply)
	mux.HandleFunc("GET /api/classifications", s.handleClassifications)
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"status": "healthy"}})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.auth.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil {
		s.sendError(w, apperr.Validation("missing state cookie"))
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		s.sendError(w, apperr.Validation("invalid state"))
		return
	}

	userID, err := s.auth.ExchangeCode(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"user_id": userID}})
}

func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	messages, err := s.pipeline.ListRecent(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, Response{Success: true, Data: messages})
}

func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	msg, err := s.pipeline.FetchOne(r.Context(), r.URL.Query().Get("user_id"), r.PathValue("id"))
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, Response{Success: true, Data: msg})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	msg, err := s.pipeline.FetchOne(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		s.sendError(w, err)
		return
	}

	verdict, err := s.classifier.ClassifyAndRecord(r.Context(), userID, *msg)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, Response{Success: true, Data: verdict})
}

type replyRequest struct {
	UserID    string `json:"user_id"`
	ReplyText string `json:"reply_text"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, apperr.Validation("invalid request body"))
		return
	}
	if req.ReplyText == "" {
		s.sendError(w, apperr.Validation("reply text is required"))
		return
	}

	msg, err := s.pipeline.FetchOne(r.Context(), req.UserID, r.PathValue("id"))
	if err != nil {
		s.sendError(w, err)
		return
	}

	cred, err := s.auth.GetLiveCredential(r.Context(), req.UserID)
	if err != nil {
		s.sendError(w, err)
		return
	}
	client, err := s.mail.ForCredential(r.Context(), cred)
	if err != nil {
		s.sendError(w, err)
		return
	}

	raw := gmail.BuildRawReply(gmail.Reply{
		To:        msg.From,
		Subject:   msg.Subject,
		InReplyTo: msg.MessageIDHdr,
		Body:      req.ReplyText,
	})
	if err := client.Send(r.Context(), raw, msg.ThreadID); err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"status": "sent"}})
}

func (s *Server) handleClassifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.sendError(w, apperr.Validation("user_id is required"))
		return
	}
	emails, err := s.storage.GetEmailsByUser(r.Context(), userID)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, Response{Success: true, Data: emails})
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// sendError maps the error taxonomy onto a status class. Internal detail is
// only exposed in development mode.
func (s *Server) sendError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)

	message := "internal server error"
	var appErr *apperr.Error
	if kind != apperr.KindInternal && errors.As(err, &appErr) {
		message = appErr.Msg
	}

	resp := Response{Success: false, Error: message, Kind: kind.String()}
	if s.development {
		resp.Detail = err.Error()
	}
	if status >= 500 {
		s.logger.Error("Request failed", zap.Error(err))
	}
	s.sendJSON(w, status, resp)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.logger.Info("HTTP server listening", zap.String("addr", addr))
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return srv.ListenAndServe()
}
