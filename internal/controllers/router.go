package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *MessagesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/messages", c.RequireAuth(c.handleInboundMessage))
}

func (c *TasksController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/tasks", c.RequireAuth(c.handleTasks))
	mux.HandleFunc("DELETE /api/tasks/{id}", c.RequireAuth(c.handleCancelTask))
	mux.HandleFunc("POST /api/tasks/drain", c.RequireAuth(c.handleDrainTasks))
}

func (c *WorkflowsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/workflows", c.RequireAuth(c.handleWorkflows))
}

func (c *ConversationsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/conversations/{key}", c.RequireAuth(c.handleGetConversation))
}
