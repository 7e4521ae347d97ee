// Package server hosts the REST API and the streaming chat endpoint.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/zysoong/open-codex-gui/pkg/model"
	"github.com/zysoong/open-codex-gui/pkg/sandbox"
	"github.com/zysoong/open-codex-gui/pkg/session"
	"github.com/zysoong/open-codex-gui/pkg/store"
)

// Server wires the stores, the sandbox pool, and the model provider
// behind HTTP.
type Server struct {
	conversations store.ConversationStore
	content       store.ContentStore
	sequencer     *session.Sequencer
	tasks         *session.Registry
	provider      model.Provider
	pool          sandbox.Pool

	modelName        string
	maxIterations    int
	environmentTypes []string

	srv *http.Server
}

// New creates a new Server.
func New(
	conversations store.ConversationStore,
	content store.ContentStore,
	sequencer *session.Sequencer,
	tasks *session.Registry,
	provider model.Provider,
	pool sandbox.Pool,
	modelName string,
	maxIterations int,
	environmentTypes []string,
) *Server {
	return &Server{
		conversations:    conversations,
		content:          content,
		sequencer:        sequencer,
		tasks:            tasks,
		provider:         provider,
		pool:             pool,
		modelName:        modelName,
		maxIterations:    maxIterations,
		environmentTypes: environmentTypes,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()

	// Conversation routes
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)

	// Content replay
	mux.HandleFunc("GET /api/conversations/{id}/units", s.handleListUnits)

	// Sandbox
	mux.HandleFunc("GET /api/conversations/{id}/sandbox/status", s.handleSandboxStatus)
	mux.HandleFunc("POST /api/conversations/{id}/sandbox/reset", s.handleSandboxReset)

	// WebSocket
	mux.HandleFunc("/api/conversations/{id}/chat", s.handleChatWebSocket)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.corsMiddleware(mux),
	}

	slog.Info("Starting server", "addr", addr)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
