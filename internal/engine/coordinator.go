package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chatforge/convoflow/pkg/convoflow/core"
	"github.com/chatforge/convoflow/pkg/convoflow/models"
)

// Coordinator is the inbound message path: it cancels pending reply timers,
// runs the executor against the stored checkpoint, persists the outcome and
// sends the resulting messages.
type Coordinator struct {
	conversations ConversationRepo
	executor      *Executor
	taskEngine    *TaskEngine
	sender        MessageSender
	clock         core.Clock
}

func NewCoordinator(conversations ConversationRepo, executor *Executor, taskEngine *TaskEngine, sender MessageSender, clock core.Clock) *Coordinator {
	return &Coordinator{
		conversations: conversations,
		executor:      executor,
		taskEngine:    taskEngine,
		sender:        sender,
		clock:         clock,
	}
}

// HandleInbound processes one user message end to end.
func (c *Coordinator) HandleInbound(ctx context.Context, req models.InboundMessageRequest) (*models.InboundMessageResponse, error) {
	key := req.ConversationKey
	if key == "" {
		key = req.OwnerID + ":" + req.Phone
	}

	// Reply timers must die before any state is written, or a timer firing
	// mid-turn could act on the checkpoint this turn is about to replace.
	if _, err := c.taskEngine.CancelAllForPhone(req.Phone, []models.TaskType{models.TaskWorkflowTimer}); err != nil {
		return nil, fmt.Errorf("cancel reply timers: %w", err)
	}

	conv, err := c.conversations.Find(key)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	// The caller decides what counts as a new conversation. A missing row only
	// means we have never stored state for this key, not that the contact is new.
	isNew := req.NewConversation

	var state *models.ExecutionState
	if conv != nil && conv.Execution.Valid {
		state = &models.ExecutionState{}
		if err := json.Unmarshal([]byte(conv.Execution.String), state); err != nil {
			slog.ErrorContext(ctx, "Stored checkpoint is corrupt, starting fresh", "conversation_key", key, "error", err)
			state = nil
		}
	}

	res, err := c.executor.Execute(ctx, req.OwnerID, req.Phone, req.Text, isNew, state)
	if errors.Is(err, ErrNoWorkflow) {
		if err := c.conversations.TouchActivity(key, req.Phone, c.clock.Now()); err != nil {
			slog.ErrorContext(ctx, "Failed to record activity", "conversation_key", key, "error", err)
		}
		return &models.InboundMessageResponse{Applied: false}, nil
	}
	if err != nil {
		return nil, err
	}

	for _, msg := range res.Messages {
		if err := c.sender.Send(ctx, req.Phone, msg); err != nil {
			// delivery failure must not lose the checkpoint
			slog.ErrorContext(ctx, "Failed to send message", "phone", req.Phone, "error", err)
		}
	}

	if res.Checkpoint != nil {
		raw, err := json.Marshal(res.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("marshal checkpoint: %w", err)
		}
		if err := c.conversations.SaveExecution(key, req.Phone, string(raw)); err != nil {
			return nil, fmt.Errorf("save checkpoint: %w", err)
		}
	} else {
		if err := c.conversations.ClearExecution(key); err != nil {
			return nil, fmt.Errorf("clear checkpoint: %w", err)
		}
		if err := c.conversations.TouchActivity(key, req.Phone, c.clock.Now()); err != nil {
			slog.ErrorContext(ctx, "Failed to record activity", "conversation_key", key, "error", err)
		}
	}

	if res.Timer != nil {
		if _, err := c.taskEngine.ScheduleWorkflowTimer(req.OwnerID, req.Phone, key, res.Timer); err != nil {
			slog.ErrorContext(ctx, "Failed to schedule reply timer", "conversation_key", key, "error", err)
		}
	}

	out := &models.InboundMessageResponse{
		Applied:         true,
		Status:          string(res.Status),
		Messages:        res.Messages,
		FallbackHandler: res.FallbackHandler,
	}
	if res.Handoff != nil {
		out.HandoffReason = res.Handoff.Reason
	}
	return out, nil
}
