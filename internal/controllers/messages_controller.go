package controllers

import (
	"log/slog"
	"net/http"

	"github.com/chatforge/convoflow/internal/engine"
	"github.com/chatforge/convoflow/internal/util"
	"github.com/chatforge/convoflow/pkg/convoflow/models"
)

// MessagesController accepts inbound user messages and runs them through the
// workflow coordinator.
type MessagesController struct {
	*AuthController
	Coordinator *engine.Coordinator
}

func NewMessagesController(coordinator *engine.Coordinator, auth *AuthController) *MessagesController {
	return &MessagesController{AuthController: auth, Coordinator: coordinator}
}

func (c *MessagesController) handleInboundMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := util.DecodeJSONBody[models.InboundMessageRequest](r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" || req.Phone == "" {
		http.Error(w, "ownerId and phone are required", http.StatusBadRequest)
		return
	}

	res, err := c.Coordinator.HandleInbound(r.Context(), req)
	if err != nil {
		slog.ErrorContext(r.Context(), "Inbound message failed", "phone", req.Phone, "error", err)
		http.Error(w, "failed to process message", http.StatusInternalServerError)
		return
	}

	util.WriteJSONResponse(w, http.StatusOK, res)
}
