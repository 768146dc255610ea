package models

import "time"

type TaskType string

const (
	TaskFollowUp      TaskType = "follow_up"
	TaskCartRecovery  TaskType = "cart_recovery"
	TaskReEngagement  TaskType = "re_engagement"
	TaskWorkflowTimer TaskType = "workflow_timer"
	TaskNurture       TaskType = "nurture"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskExecuting TaskStatus = "executing"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Well-known payload keys. Payloads are flat string maps persisted as JSON.
const (
	PayloadMessage       = "message"
	PayloadWorkflowID    = "workflowId"
	PayloadNodeID        = "nodeId"
	PayloadTimeoutNodeID = "timeoutNodeId"
	PayloadRecurrence    = "recurrence" // cron spec for nurture tasks
)

// ScheduleTaskRequest is the payload for scheduling a task over the API.
type ScheduleTaskRequest struct {
	OwnerID         string            `json:"ownerId"`
	Phone           string            `json:"phone"`
	ConversationKey string            `json:"conversationKey,omitempty"`
	TaskType        TaskType          `json:"taskType"`
	DelaySeconds    int               `json:"delaySeconds"`
	Payload         map[string]string `json:"payload,omitempty"`
}

type ScheduleTaskResponse struct {
	ID string `json:"id"`
}

// TaskApiResponse represents a scheduled task over the API.
type TaskApiResponse struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"ownerId"`
	Phone        string            `json:"phone"`
	TaskType     string            `json:"taskType"`
	ScheduledFor time.Time         `json:"scheduledFor"`
	Status       string            `json:"status"`
	Payload      map[string]string `json:"payload,omitempty"`
	Created      time.Time         `json:"created"`
	Executed     *time.Time        `json:"executed,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
}

// InboundMessageRequest is the payload for an inbound user message.
type InboundMessageRequest struct {
	OwnerID         string `json:"ownerId"`
	Phone           string `json:"phone"`
	ConversationKey string `json:"conversationKey,omitempty"` // defaults to ownerId:phone
	Text            string `json:"text"`
	NewConversation bool   `json:"newConversation,omitempty"`
}

// InboundMessageResponse reports what the turn produced.
type InboundMessageResponse struct {
	Applied         bool     `json:"applied"`
	Status          string   `json:"status,omitempty"`
	Messages        []string `json:"messages,omitempty"`
	FallbackHandler string   `json:"fallbackHandler,omitempty"`
	HandoffReason   string   `json:"handoffReason,omitempty"`
}
