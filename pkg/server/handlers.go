package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/zysoong/open-codex-gui/pkg/domain"
)

// --- Conversations ---

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	convs, err := s.conversations.ListConversations(r.Context(), projectID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, convs)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var conv domain.Conversation
	if err := json.NewDecoder(r.Body).Decode(&conv); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.Name == "" {
		conv.Name = "New Conversation"
	}
	if conv.Status == "" {
		conv.Status = domain.ConversationActive
	}
	if err := s.conversations.CreateConversation(r.Context(), &conv); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.conversations.GetConversation(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if t := s.tasks.Get(id); t != nil && t.Status() == domain.TaskRunning {
		s.errorResponse(w, http.StatusConflict,
			fmt.Errorf("conversation %s has a running generation", id))
		return
	}

	if err := s.pool.Destroy(r.Context(), id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.conversations.DeleteConversation(r.Context(), id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.sequencer.Forget(id)
	s.tasks.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// --- Content replay ---

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	units, err := s.content.ListUnits(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, units)
}

// --- Sandbox ---

func (s *Server) handleSandboxStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	handle := s.pool.Get(r.Context(), id)
	if handle == nil {
		s.jsonResponse(w, http.StatusOK, map[string]any{"running": false})
		return
	}

	status := map[string]any{
		"running":      handle.Running(r.Context()),
		"container_id": handle.ID(),
	}
	if stats, err := s.pool.Stats(r.Context(), id); err == nil && stats != nil {
		status["stats"] = stats
	}
	s.jsonResponse(w, http.StatusOK, status)
}

func (s *Server) handleSandboxReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.pool.Reset(r.Context(), id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
