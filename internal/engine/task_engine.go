package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/chatforge/convoflow/internal/config"
	"github.com/chatforge/convoflow/pkg/convoflow/core"
	"github.com/chatforge/convoflow/pkg/convoflow/domain"
	"github.com/chatforge/convoflow/pkg/convoflow/models"
)

// TaskEngine owns the scheduled task lifecycle: scheduling, the polling drain
// loop with its worker pool, and the effect of each task type when it fires.
type TaskEngine struct {
	tasks         TaskRepo
	conversations ConversationRepo
	executor      *Executor
	sender        MessageSender
	clock         core.Clock
	cronParser    cron.Parser
	wakeup        chan struct{}
	taskQueue     chan domain.ScheduledTask
}

func NewTaskEngine(tasks TaskRepo, conversations ConversationRepo, executor *Executor, sender MessageSender, clock core.Clock) *TaskEngine {
	return &TaskEngine{
		tasks:         tasks,
		conversations: conversations,
		executor:      executor,
		sender:        sender,
		clock:         clock,
		cronParser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		wakeup:        make(chan struct{}, 1),
	}
}

// Schedule persists a pending task due after the given delay and returns its id.
// The conversation's current execution state is snapshotted onto the row for
// operator inspection.
func (te *TaskEngine) Schedule(ownerID string, phone string, conversationKey string, delay time.Duration, taskType models.TaskType, payload map[string]string) (string, error) {
	now := te.clock.Now()
	if conversationKey == "" {
		conversationKey = ownerID + ":" + phone
	}
	task := &domain.ScheduledTask{
		ID:              uuid.New().String(),
		OwnerID:         ownerID,
		Phone:           phone,
		ConversationKey: conversationKey,
		TaskType:        string(taskType),
		ScheduledFor:    now.Add(delay),
		Status:          string(models.TaskPending),
		Created:         now,
		Modified:        now,
	}
	if len(payload) > 0 {
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("marshal task payload: %w", err)
		}
		task.Payload = sql.NullString{String: string(raw), Valid: true}
	}
	if conv, err := te.conversations.Find(conversationKey); err == nil && conv != nil && conv.Execution.Valid {
		task.ConversationSnapshot = sql.NullString{String: conv.Execution.String, Valid: true}
	}
	if err := te.tasks.Insert(task); err != nil {
		return "", err
	}
	slog.Info("Scheduled task", "task_id", task.ID, "type", task.TaskType, "phone", phone, "due", task.ScheduledFor)
	return task.ID, nil
}

// ScheduleWorkflowTimer persists the timer a suspended WAIT_RESPONSE node asked for.
func (te *TaskEngine) ScheduleWorkflowTimer(ownerID string, phone string, conversationKey string, timer *models.TimerRequest) (string, error) {
	payload := map[string]string{
		models.PayloadWorkflowID: timer.WorkflowID,
		models.PayloadNodeID:     timer.NodeID,
	}
	if timer.TimeoutNodeID != "" {
		payload[models.PayloadTimeoutNodeID] = timer.TimeoutNodeID
	}
	return te.Schedule(ownerID, phone, conversationKey, timer.Delay, models.TaskWorkflowTimer, payload)
}

// Cancel marks a pending task cancelled. Returns false when the task is
// already claimed, finished, or unknown.
func (te *TaskEngine) Cancel(id string, note string) bool {
	return te.tasks.MarkCancelled(id, note)
}

// CancelAllForPhone cancels every pending task of the given types for a phone.
// The inbound path uses it to drop workflow timers before a reply is applied.
func (te *TaskEngine) CancelAllForPhone(phone string, taskTypes []models.TaskType) (int64, error) {
	types := make([]string, 0, len(taskTypes))
	for _, t := range taskTypes {
		types = append(types, string(t))
	}
	return te.tasks.CancelAllForPhone(phone, types)
}

// Wakeup nudges the drain loop without waiting for the next tick.
func (te *TaskEngine) Wakeup() {
	select {
	case te.wakeup <- struct{}{}:
	default:
	}
}

// StartEngine runs the polling loop at the given interval until the context
// is cancelled. Claimed tasks are handed to a fixed pool of workers.
func (te *TaskEngine) StartEngine(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	go te.startStuckTaskSweeper(ctx)

	queueSize := config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE)
	if queueSize <= 0 {
		queueSize = 10
	}
	te.taskQueue = make(chan domain.ScheduledTask, queueSize)

	workers := config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE)
	slog.Info("Starting task engine", "workers", workers, "queue_size", queueSize)
	for i := 0; i < workers; i++ {
		go Worker(ctx, i, te, te.taskQueue)
	}

	slog.Info("Task engine started", "poll_interval", pollInterval.String())

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Task engine stopping due to context cancel")
			return
		case <-ticker.C:
			te.pollAndQueueTasks(ctx, queueSize)
		case <-te.wakeup:
			te.pollAndQueueTasks(ctx, queueSize)
		}
	}
}

// pollAndQueueTasks claims due tasks and pushes them onto the worker queue.
func (te *TaskEngine) pollAndQueueTasks(ctx context.Context, batchSize int) {
	slog.Debug("Polling for due tasks")

	if len(te.taskQueue) >= batchSize {
		slog.Warn("task queue full, skipping poll, possibly slow task effects")
		return
	}

	due, err := te.tasks.FindDuePending(batchSize)
	if err != nil {
		slog.Error("Error fetching due tasks", "error", err)
		return
	}

	for _, task := range *due {
		claimed := te.tasks.MarkExecuting(task.ID)
		if !claimed {
			slog.InfoContext(ctx, "Unable to claim task, possibly picked up by another node", "task_id", task.ID)
			continue
		}
		te.taskQueue <- task
	}
}

// DrainDue claims and executes due tasks inline, returning how many fired.
// The HTTP drain endpoint and tests use it instead of the background loop.
func (te *TaskEngine) DrainDue(ctx context.Context, batchSize int) (int, error) {
	due, err := te.tasks.FindDuePending(batchSize)
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, task := range *due {
		if !te.tasks.MarkExecuting(task.ID) {
			continue
		}
		te.processClaimed(ctx, task)
		fired++
	}
	return fired, nil
}

// startStuckTaskSweeper periodically fails tasks stuck in executing, so a
// crashed node cannot leave rows claimed forever. Effects are not retried.
func (te *TaskEngine) startStuckTaskSweeper(ctx context.Context) {
	dur, err := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_STUCK_TASKS_INTERVAL))
	if err != nil {
		dur = time.Minute
	}
	ticker := time.NewTicker(dur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stuck task sweeper stopping due to context cancel")
			return
		case <-ticker.C:
			afterMinutes := config.GetSystemSettingInteger(config.ENGINE_STUCK_TASKS_AFTER_MINUTES)
			cutoff := te.clock.Now().Add(-time.Duration(afterMinutes) * time.Minute)
			swept, err := te.tasks.SweepStuckExecuting(cutoff)
			if err != nil {
				slog.Error("Error sweeping stuck tasks", "error", err)
				continue
			}
			if swept > 0 {
				slog.Warn("Failed stuck executing tasks", "count", swept, "cutoff", cutoff)
			}
		}
	}
}

// processClaimed runs one claimed task to a terminal status.
func (te *TaskEngine) processClaimed(ctx context.Context, task domain.ScheduledTask) {
	slog.InfoContext(ctx, "Executing task", "task_id", task.ID, "type", task.TaskType, "phone", task.Phone)

	// A user who replied after this task was scheduled no longer needs it.
	lastActivity, err := te.conversations.LastActivity(conversationKeyFor(task))
	if err != nil {
		te.finish(ctx, task, models.TaskFailed, fmt.Sprintf("activity lookup: %v", err))
		return
	}
	if !lastActivity.IsZero() && lastActivity.After(task.Created) {
		if err := te.tasks.UpdateStatus(task.ID, models.TaskCancelled, "user re-engaged"); err != nil {
			slog.ErrorContext(ctx, "Error cancelling re-engaged task", "task_id", task.ID, "error", err)
		}
		return
	}

	payload := decodePayload(task)

	var effectErr error
	switch models.TaskType(task.TaskType) {
	case models.TaskWorkflowTimer:
		effectErr = te.fireWorkflowTimer(ctx, task, payload)
	case models.TaskNurture:
		effectErr = te.sendTaskMessage(ctx, task, payload)
		if effectErr == nil {
			te.rescheduleRecurring(ctx, task, payload)
		}
	default:
		effectErr = te.sendTaskMessage(ctx, task, payload)
	}

	if effectErr != nil {
		if errors.Is(effectErr, errAlreadyFinished) {
			return
		}
		te.finish(ctx, task, models.TaskFailed, effectErr.Error())
		return
	}
	te.finish(ctx, task, models.TaskCompleted, "")
}

// fireWorkflowTimer applies a WAIT_RESPONSE timeout. A timer whose checkpoint
// has moved on is stale and cancelled without effect.
func (te *TaskEngine) fireWorkflowTimer(ctx context.Context, task domain.ScheduledTask, payload map[string]string) error {
	key := conversationKeyFor(task)
	conv, err := te.conversations.Find(key)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	var state *models.ExecutionState
	if conv != nil && conv.Execution.Valid {
		state = &models.ExecutionState{}
		if err := json.Unmarshal([]byte(conv.Execution.String), state); err != nil {
			return fmt.Errorf("parse checkpoint: %w", err)
		}
	}

	nodeID := payload[models.PayloadNodeID]
	if state == nil || state.CurrentNodeID != nodeID {
		if err := te.tasks.UpdateStatus(task.ID, models.TaskCancelled, "stale timer"); err != nil {
			return err
		}
		slog.InfoContext(ctx, "Skipped stale workflow timer", "task_id", task.ID, "node_id", nodeID)
		return errAlreadyFinished
	}

	timeoutNodeID := payload[models.PayloadTimeoutNodeID]
	if timeoutNodeID == "" {
		// No timeout branch: abandon the run and nudge the user once.
		if err := te.conversations.ClearExecution(key); err != nil {
			return fmt.Errorf("clear checkpoint: %w", err)
		}
		message := config.GetSystemSettingString(config.REENGAGEMENT_MESSAGE)
		return te.sender.Send(ctx, task.Phone, message)
	}

	if state.Variables == nil {
		state.Variables = map[string]any{}
	}
	state.Variables[models.VarTimeoutRedirect] = nodeID
	state.CurrentNodeID = timeoutNodeID
	state.Status = models.StatusRunning

	res, err := te.executor.ExecuteFromNode(ctx, task.OwnerID, task.Phone, state)
	if err != nil {
		return fmt.Errorf("resume at timeout node: %w", err)
	}

	if res.Checkpoint != nil {
		raw, err := json.Marshal(res.Checkpoint)
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		if err := te.conversations.SaveExecution(key, task.Phone, string(raw)); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	} else {
		if err := te.conversations.ClearExecution(key); err != nil {
			return fmt.Errorf("clear checkpoint: %w", err)
		}
	}

	for _, msg := range res.Messages {
		if err := te.sender.Send(ctx, task.Phone, msg); err != nil {
			return fmt.Errorf("send timeout message: %w", err)
		}
	}
	return nil
}

func (te *TaskEngine) sendTaskMessage(ctx context.Context, task domain.ScheduledTask, payload map[string]string) error {
	message := payload[models.PayloadMessage]
	if message == "" {
		return fmt.Errorf("task %s has no message payload", task.ID)
	}
	return te.sender.Send(ctx, task.Phone, message)
}

// rescheduleRecurring inserts the next occurrence of a nurture task carrying
// a cron recurrence in its payload.
func (te *TaskEngine) rescheduleRecurring(ctx context.Context, task domain.ScheduledTask, payload map[string]string) {
	spec := payload[models.PayloadRecurrence]
	if spec == "" {
		return
	}
	schedule, err := te.cronParser.Parse(spec)
	if err != nil {
		slog.ErrorContext(ctx, "Invalid recurrence on task, not rescheduling", "task_id", task.ID, "recurrence", spec, "error", err)
		return
	}
	next := schedule.Next(te.clock.Now())
	delay := next.Sub(te.clock.Now())
	if _, err := te.Schedule(task.OwnerID, task.Phone, conversationKeyFor(task), delay, models.TaskType(task.TaskType), payload); err != nil {
		slog.ErrorContext(ctx, "Failed to reschedule recurring task", "task_id", task.ID, "error", err)
	}
}

// errAlreadyFinished marks effects that wrote their own terminal status.
var errAlreadyFinished = errors.New("task already finished")

func (te *TaskEngine) finish(ctx context.Context, task domain.ScheduledTask, status models.TaskStatus, message string) {
	if err := te.tasks.UpdateStatus(task.ID, status, message); err != nil {
		slog.ErrorContext(ctx, "Error finalizing task", "task_id", task.ID, "status", status, "error", err)
	}
}

func decodePayload(task domain.ScheduledTask) map[string]string {
	payload := map[string]string{}
	if task.Payload.Valid && task.Payload.String != "" {
		if err := json.Unmarshal([]byte(task.Payload.String), &payload); err != nil {
			slog.Warn("Task payload is not valid JSON", "task_id", task.ID, "error", err)
		}
	}
	return payload
}

// conversationKeyFor returns the conversation identity a task applies to.
// The key is persisted on the row at schedule time; rows written before the
// column existed fall back to the owner and phone default.
func conversationKeyFor(task domain.ScheduledTask) string {
	if task.ConversationKey != "" {
		return task.ConversationKey
	}
	return task.OwnerID + ":" + task.Phone
}
