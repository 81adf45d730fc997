package localapi

import (
	"net/http"
	"strings"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) registerChatRoutes() {
	s.mux.HandleFunc("/api/v1/chat", s.handleChat)
}

// handleChat runs one agent turn. Task changes made by the agent's tools reach
// the UI through the task routes and websocket events, not this response.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || s.deps.AgentLoopRunner == nil {
		respondNotImplemented(w, r)
		return
	}
	var req chatRequest
	if err := decodeJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, StatusInvalidInput, err.Error())
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		respondError(w, http.StatusBadRequest, StatusInvalidInput, "message is required")
		return
	}
	reply, err := s.deps.AgentLoopRunner.Run(r.Context(), message)
	if err != nil {
		s.logger.Error("agent loop failed", "trace_id", TraceIDFromContext(r.Context()), "error", err)
		respondError(w, http.StatusInternalServerError, StatusUnknownError, err.Error())
		return
	}
	respondOK(w, chatResponse{Reply: reply})
}
