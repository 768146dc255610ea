package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatforge/convoflow/internal/engine"
	"github.com/chatforge/convoflow/internal/util"
	"github.com/chatforge/convoflow/pkg/convoflow/models"
)

// ConversationsController exposes read access to conversation state for
// dashboards and debugging.
type ConversationsController struct {
	*AuthController
	ConversationRepo engine.ConversationRepo
}

func NewConversationsController(conversationRepo engine.ConversationRepo, auth *AuthController) *ConversationsController {
	return &ConversationsController{AuthController: auth, ConversationRepo: conversationRepo}
}

type conversationApiResponse struct {
	ConversationKey string                 `json:"conversationKey"`
	Phone           string                 `json:"phone"`
	LastActivity    time.Time              `json:"lastActivity"`
	Execution       *models.ExecutionState `json:"execution,omitempty"`
}

func (c *ConversationsController) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	key := r.PathValue("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	conv, err := c.ConversationRepo.Find(key)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load conversation", "conversation_key", key, "error", err)
		http.Error(w, "failed to load conversation", http.StatusInternalServerError)
		return
	}
	if conv == nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	out := conversationApiResponse{
		ConversationKey: conv.ConversationKey,
		Phone:           conv.Phone,
		LastActivity:    conv.LastActivity,
	}
	if conv.Execution.Valid {
		state := &models.ExecutionState{}
		if err := json.Unmarshal([]byte(conv.Execution.String), state); err == nil {
			out.Execution = state
		}
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}
