package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/chatforge/convoflow/internal/config"
	"github.com/chatforge/convoflow/internal/engine"
	"github.com/chatforge/convoflow/internal/util"
	"github.com/chatforge/convoflow/pkg/convoflow/domain"
	"github.com/chatforge/convoflow/pkg/convoflow/models"
)

// TasksController exposes scheduled task management: create, list by phone,
// cancel, and a manual drain for operators.
type TasksController struct {
	*AuthController
	TaskEngine *engine.TaskEngine
	TaskRepo   engine.TaskRepo
}

func NewTasksController(taskEngine *engine.TaskEngine, taskRepo engine.TaskRepo, auth *AuthController) *TasksController {
	return &TasksController{AuthController: auth, TaskEngine: taskEngine, TaskRepo: taskRepo}
}

func (c *TasksController) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		c.handleScheduleTask(w, r)
	case http.MethodGet:
		c.handleListTasks(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (c *TasksController) handleScheduleTask(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.ScheduleTaskRequest](r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" || req.Phone == "" || req.TaskType == "" {
		http.Error(w, "ownerId, phone and taskType are required", http.StatusBadRequest)
		return
	}
	if req.DelaySeconds < 0 {
		http.Error(w, "delaySeconds must not be negative", http.StatusBadRequest)
		return
	}

	delay := time.Duration(req.DelaySeconds) * time.Second
	id, err := c.TaskEngine.Schedule(req.OwnerID, req.Phone, req.ConversationKey, delay, req.TaskType, req.Payload)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to schedule task", "phone", req.Phone, "error", err)
		http.Error(w, "failed to schedule task", http.StatusInternalServerError)
		return
	}
	c.TaskEngine.Wakeup()

	util.WriteJSONResponse(w, http.StatusCreated, models.ScheduleTaskResponse{ID: id})
}

func (c *TasksController) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	cancelled := c.TaskEngine.Cancel(id, "cancelled via api")
	if !cancelled {
		http.Error(w, "task is not pending", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *TasksController) handleListTasks(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		http.Error(w, "phone is required", http.StatusBadRequest)
		return
	}

	tasks, err := c.TaskRepo.FindRecentByPhone(phone, 100)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list tasks", "phone", phone, "error", err)
		http.Error(w, "failed to list tasks", http.StatusInternalServerError)
		return
	}

	out := make([]models.TaskApiResponse, 0, len(*tasks))
	for _, task := range *tasks {
		out = append(out, mapTaskToApiTask(task))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *TasksController) handleDrainTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	fired, err := c.TaskEngine.DrainDue(r.Context(), config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE))
	if err != nil {
		slog.ErrorContext(r.Context(), "Manual drain failed", "error", err)
		http.Error(w, "drain failed", http.StatusInternalServerError)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, map[string]int{"fired": fired})
}

func mapTaskToApiTask(task domain.ScheduledTask) models.TaskApiResponse {
	out := models.TaskApiResponse{
		ID:           task.ID,
		OwnerID:      task.OwnerID,
		Phone:        task.Phone,
		TaskType:     task.TaskType,
		Status:       task.Status,
		ScheduledFor: task.ScheduledFor,
		Created:      task.Created,
	}
	if task.Payload.Valid && task.Payload.String != "" {
		payload := map[string]string{}
		if err := json.Unmarshal([]byte(task.Payload.String), &payload); err == nil {
			out.Payload = payload
		}
	}
	if task.Executed.Valid {
		executed := task.Executed.Time
		out.Executed = &executed
	}
	if task.ErrorMessage.Valid {
		out.ErrorMessage = task.ErrorMessage.String
	}
	return out
}
