package relay

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/stulentsev/jean/internal/protocol"
)

type chatRequest struct {
	Messages []protocol.Turn `json:"messages"`
}

type chatResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// handleChat is the non-streaming convenience endpoint. It has no tool-call
// support: the round's text is concatenated and returned in one response.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	content, err := s.llm.Complete(r.Context(), req.Messages)
	if err != nil {
		s.logger.Error("completion failed", zap.Error(err))
		http.Error(w, fmt.Sprintf("Completion error: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(chatResponse{Content: content, Model: s.llm.Model()}); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}

// handleHealth is the liveness probe: a fixed OK body, no semantics.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
