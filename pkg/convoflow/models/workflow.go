package models

import "time"

// SaveWorkflowRequest creates or replaces an owner's workflow definition.
// A zero ID inserts; a non-zero ID updates the existing row.
type SaveWorkflowRequest struct {
	ID         int64  `json:"id,omitempty"`
	OwnerID    string `json:"ownerId"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
	Definition Graph  `json:"definition"`
}

type SaveWorkflowResponse struct {
	ID int64 `json:"id"`
}

// WorkflowApiResponse represents a stored workflow definition over the API.
type WorkflowApiResponse struct {
	ID         int64     `json:"id"`
	OwnerID    string    `json:"ownerId"`
	Name       string    `json:"name"`
	Active     bool      `json:"active"`
	Definition *Graph    `json:"definition,omitempty"`
	Created    time.Time `json:"created"`
	Updated    time.Time `json:"updated"`
}
