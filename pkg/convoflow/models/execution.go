package models

import "time"

type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusWaiting   ExecutionStatus = "waiting"
	StatusCompleted ExecutionStatus = "completed"
	StatusError     ExecutionStatus = "error"
	StatusHandoff   ExecutionStatus = "handoff"
)

// Reserved variable keys written by the executor. Downstream nodes and
// evaluators may reference them like any other variable.
const (
	VarOfferedProductID    = "offered_product_id"
	VarOfferedProductName  = "offered_product_name"
	VarOfferedProductPrice = "offered_product_price"
	VarTimeoutRedirect     = "_timeout_redirect"
	VarUserMessage         = "user_message"
)

// ExecutionState is the durable checkpoint of one conversation inside a
// workflow graph. It is JSON-encoded into the conversation record and is the
// stable schema contract of the state store.
type ExecutionState struct {
	WorkflowID    string          `json:"workflowId"`
	CurrentNodeID string          `json:"currentNodeId"`
	Status        ExecutionStatus `json:"status"`
	Variables     map[string]any  `json:"variables"`
	StartedAt     time.Time       `json:"startedAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// TimerRequest instructs the caller to schedule a workflow_timer task after a
// WAIT_RESPONSE node suspended with a timeout.
type TimerRequest struct {
	WorkflowID    string
	NodeID        string
	TimeoutNodeID string
	Delay         time.Duration
}

// HandoffRequest asks the caller to enable human takeover.
type HandoffRequest struct {
	Reason string
}

// ExecutionResult is the outcome of interpreting one user turn.
type ExecutionResult struct {
	Status          ExecutionStatus
	Messages        []string
	Checkpoint      *ExecutionState // non-nil only while suspended
	Variables       map[string]any
	ProductsOffered []string
	TagsAssigned    []string
	CollectedFields map[string]string
	FallbackHandler string
	Handoff         *HandoffRequest
	Timer           *TimerRequest
}
