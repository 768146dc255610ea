package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/chatforge/convoflow/internal/util"
	"github.com/chatforge/convoflow/pkg/convoflow/domain"
	"github.com/chatforge/convoflow/pkg/convoflow/models"
)

// DefinitionStore is the persistence surface the workflows API needs.
type DefinitionStore interface {
	FindActiveByOwner(ownerID string) (*domain.WorkflowDefinition, error)
	Save(def *domain.WorkflowDefinition) error
}

// WorkflowsController lets operators publish and inspect workflow graphs.
type WorkflowsController struct {
	*AuthController
	Definitions DefinitionStore
}

func NewWorkflowsController(definitions DefinitionStore, auth *AuthController) *WorkflowsController {
	return &WorkflowsController{AuthController: auth, Definitions: definitions}
}

func (c *WorkflowsController) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		c.handleSaveWorkflow(w, r)
	case http.MethodGet:
		c.handleGetActiveWorkflow(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (c *WorkflowsController) handleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.SaveWorkflowRequest](r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" || req.Name == "" {
		http.Error(w, "ownerId and name are required", http.StatusBadRequest)
		return
	}
	if req.Definition.StartNodeID == "" || len(req.Definition.Nodes) == 0 {
		http.Error(w, "definition needs a startNodeId and at least one node", http.StatusBadRequest)
		return
	}
	if req.Definition.Node(req.Definition.StartNodeID) == nil {
		http.Error(w, "startNodeId does not name a node", http.StatusBadRequest)
		return
	}

	raw, err := json.Marshal(req.Definition)
	if err != nil {
		http.Error(w, "invalid definition", http.StatusBadRequest)
		return
	}
	def := &domain.WorkflowDefinition{
		ID:         req.ID,
		OwnerID:    req.OwnerID,
		Name:       req.Name,
		Active:     req.Active,
		Definition: string(raw),
	}
	if err := c.Definitions.Save(def); err != nil {
		slog.ErrorContext(r.Context(), "Failed to save workflow definition", "owner_id", req.OwnerID, "error", err)
		http.Error(w, "failed to save workflow", http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if req.ID != 0 {
		status = http.StatusOK
	}
	util.WriteJSONResponse(w, status, models.SaveWorkflowResponse{ID: def.ID})
}

func (c *WorkflowsController) handleGetActiveWorkflow(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("ownerId")
	if ownerID == "" {
		http.Error(w, "ownerId is required", http.StatusBadRequest)
		return
	}

	def, err := c.Definitions.FindActiveByOwner(ownerID)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load workflow definition", "owner_id", ownerID, "error", err)
		http.Error(w, "failed to load workflow", http.StatusInternalServerError)
		return
	}
	if def == nil {
		http.Error(w, "no active workflow", http.StatusNotFound)
		return
	}

	out := models.WorkflowApiResponse{
		ID:      def.ID,
		OwnerID: def.OwnerID,
		Name:    def.Name,
		Active:  def.Active,
		Created: def.Created,
		Updated: def.Updated,
	}
	var graph models.Graph
	if err := json.Unmarshal([]byte(def.Definition), &graph); err == nil {
		out.Definition = &graph
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}
