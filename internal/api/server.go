// Package api exposes the chat service over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/entrepeneur4lyf/kbchat/internal/attachment"
	"github.com/entrepeneur4lyf/kbchat/internal/chat"
	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/events"
	"github.com/entrepeneur4lyf/kbchat/internal/i18n"
	"github.com/entrepeneur4lyf/kbchat/internal/llm"
	"github.com/entrepeneur4lyf/kbchat/internal/suggest"
	"github.com/entrepeneur4lyf/kbchat/internal/summary"
	"github.com/entrepeneur4lyf/kbchat/internal/voice"
)

// Deps are the services the API drives.
type Deps struct {
	Repository  *conversation.Repository
	Reconciler  *chat.Reconciler
	Suggestions *suggest.Fetcher
	Attachments *attachment.Store
	Summarizer  *summary.Summarizer
	Broker      *events.Broker[conversation.Change]
	I18n        *i18n.Provider
	// Speaker is optional; without it read-aloud cannot be toggled.
	Speaker   *voice.BrokerSpeaker
	Numbering chat.Numbering
}

// Options configures the HTTP layer.
type Options struct {
	AllowedOrigins []string
	StaticDir      string
	// LocalOnly rejects requests that do not come from a loopback address.
	LocalOnly     bool
	MaxUploadSize int64
	Logger        *log.Logger
}

const defaultMaxUpload = 32 << 20

// Server represents the API server
type Server struct {
	deps              Deps
	opts              Options
	logger            *log.Logger
	upgrader          websocket.Upgrader
	connectionManager *ConnectionManager
	httpServer        *http.Server
	started           time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, opts Options) *Server {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = defaultMaxUpload
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default().With("component", "api")
	}
	if deps.I18n == nil {
		deps.I18n = i18n.New("en")
	}
	if deps.Numbering == "" {
		deps.Numbering = chat.NumberProcessing
	}
	s := &Server{
		deps:              deps,
		opts:              opts,
		logger:            logger,
		connectionManager: NewConnectionManager(logger),
		started:           time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

// Start serves on addr until Stop is called. The change feed is pumped to
// WebSocket clients for the lifetime of ctx.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.connectionManager.Pump(ctx, s.deps.Broker)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting API server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.connectionManager.CloseAll()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Connections returns the WebSocket connection manager.
func (s *Server) Connections() *ConnectionManager {
	return s.connectionManager
}

// Router configures all API routes
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.corsMiddleware)
	if s.opts.LocalOnly {
		router.Use(localhostOnly)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	// preflight requests are answered by corsMiddleware
	api.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/websocket/stats", s.handleWebSocketStats).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.handleWebSocket)
	api.HandleFunc("/events", s.handleEventsSSE).Methods(http.MethodGet)

	api.HandleFunc("/conversations", s.handleListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations", s.handleCreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}", s.handleGetConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}", s.handleRenameConversation).Methods(http.MethodPatch)
	api.HandleFunc("/conversations/{id}", s.handleDeleteConversation).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{id}/clear", s.handleClearConversation).Methods(http.MethodPost)
	api.HandleFunc("/active", s.handleGetActive).Methods(http.MethodGet)
	api.HandleFunc("/active", s.handleSetActive).Methods(http.MethodPut)

	api.HandleFunc("/conversations/{id}/urls", s.handleAddURL).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/urls", s.handleRemoveURL).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{id}/files", s.handleUploadFiles).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/files/{fileId}", s.handleRemoveFile).Methods(http.MethodDelete)

	api.HandleFunc("/conversations/{id}/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/messages/{msgId}", s.handleEditMessage).Methods(http.MethodPut)
	api.HandleFunc("/conversations/{id}/messages/{msgId}/regenerate", s.handleRegenerate).Methods(http.MethodPost)
	api.HandleFunc("/generation", s.handleGenerationStatus).Methods(http.MethodGet)
	api.HandleFunc("/generation", s.handleCancelGeneration).Methods(http.MethodDelete)

	api.HandleFunc("/conversations/{id}/suggestions", s.handleGetSuggestions).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/suggestions", s.handleRefreshSuggestions).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/summary", s.handleSummary).Methods(http.MethodPost)

	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods(http.MethodPut)
	api.HandleFunc("/i18n", s.handleStrings).Methods(http.MethodGet)

	if s.opts.StaticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.opts.StaticDir)))
	}
	return router
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.opts.AllowedOrigins, origin) || slices.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	return isLocalhostOrigin(origin)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept-Language")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Failed to encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

type failure struct {
	status int
	body   ErrorResponse
}

// failureOf maps a service error to a status code and localized text.
func (s *Server) failureOf(err error) failure {
	tr := s.deps.I18n
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		return failure{http.StatusServiceUnavailable, ErrorResponse{tr.T(i18n.KeyNotConfigured), i18n.KeyNotConfigured}}
	case errors.Is(err, chat.ErrBusy):
		return failure{http.StatusConflict, ErrorResponse{tr.T(i18n.KeyBusy), i18n.KeyBusy}}
	}

	var verr *conversation.Error
	if errors.As(err, &verr) {
		msg, _ := conversation.Localize(err, tr)
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, conversation.ErrUnknownConversation), errors.Is(err, conversation.ErrUnknownMessage):
			status = http.StatusNotFound
		case errors.Is(err, conversation.ErrUnsupportedFile):
			status = http.StatusUnsupportedMediaType
		case errors.Is(err, conversation.ErrContextLimit),
			errors.Is(err, conversation.ErrDuplicateURL),
			errors.Is(err, conversation.ErrLastConversation):
			status = http.StatusConflict
		}
		return failure{status, ErrorResponse{msg, verr.Key}}
	}

	var be *llm.BackendError
	if kind := llm.Classify(err); kind != llm.KindBackend || errors.As(err, &be) {
		return failure{http.StatusBadGateway, ErrorResponse{llm.Describe(err, tr), kind.MessageKey()}}
	}
	return failure{http.StatusInternalServerError, ErrorResponse{Error: err.Error()}}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	f := s.failureOf(err)
	if f.status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "err", err)
	}
	s.writeJSON(w, f.status, f.body)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// Health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"timestamp":  time.Now().Unix(),
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"configured": s.deps.Reconciler != nil && s.deps.Reconciler.Configured(),
		"busy":       s.deps.Reconciler != nil && s.deps.Reconciler.Busy(),
		"locale":     s.deps.I18n.Locale().String(),
	})
}

// handleWebSocketStats returns WebSocket connection statistics
func (s *Server) handleWebSocketStats(w http.ResponseWriter, r *http.Request) {
	stats := s.connectionManager.Stats()
	out := map[string]any{
		"connections": stats.Connections,
		"delivered":   stats.Delivered,
		"dropped":     stats.Dropped,
		"timestamp":   time.Now().Unix(),
	}
	if s.deps.Broker != nil {
		out["broker"] = s.deps.Broker.GetStats()
	}
	s.writeJSON(w, http.StatusOK, out)
}

func pathVar(r *http.Request, name string) string {
	return strings.TrimSpace(mux.Vars(r)[name])
}
