package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chatforge/convoflow/pkg/convoflow/core"
	"github.com/chatforge/convoflow/pkg/convoflow/domain"
	"github.com/chatforge/convoflow/pkg/convoflow/models"
)

// TaskRepository persists scheduled tasks. Tasks move through status
// transitions only; rows are never deleted.
type TaskRepository struct {
	db    *sql.DB
	clock core.Clock
}

const TASK_COLUMNS = ` id, owner_id, phone, conversation_key, task_type, scheduled_for, status, payload,
	       created, modified, executed, error_message, conversation_snapshot `

func NewTaskRepository(db *sql.DB, clock core.Clock) *TaskRepository {
	return &TaskRepository{db: db, clock: clock}
}

func (r *TaskRepository) Insert(t *domain.ScheduledTask) error {
	vals := []interface{}{
		t.ID, t.OwnerID, t.Phone, t.ConversationKey, t.TaskType, formatDateInDatabase(t.ScheduledFor), t.Status,
		t.Payload, formatDateInDatabase(t.Created), formatDateInDatabase(t.Modified),
		formatDateInDatabaseNull(t.Executed), t.ErrorMessage, t.ConversationSnapshot,
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	query := `INSERT INTO scheduled_tasks (` + TASK_COLUMNS + `) VALUES (` + strings.Join(pps, ", ") + `)`
	_, err := r.db.Exec(query, vals...)
	return err
}

func (r *TaskRepository) FindByID(id string) (*domain.ScheduledTask, error) {
	query := `
		SELECT ` + TASK_COLUMNS + `
		FROM scheduled_tasks WHERE id = ` + placeholder(1) + `
	`
	var t domain.ScheduledTask
	err := r.db.QueryRow(query, id).Scan(
		&t.ID,
		&t.OwnerID,
		&t.Phone,
		&t.ConversationKey,
		&t.TaskType,
		&t.ScheduledFor,
		&t.Status,
		&t.Payload,
		&t.Created,
		&t.Modified,
		&t.Executed,
		&t.ErrorMessage,
		&t.ConversationSnapshot,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindDuePending returns pending tasks whose scheduled_for has passed, oldest first.
func (r *TaskRepository) FindDuePending(limit int) (*[]domain.ScheduledTask, error) {
	query := `
		SELECT ` + TASK_COLUMNS + `
		FROM scheduled_tasks
		WHERE ` + dateBeforeNow("scheduled_for", r.clock) + `
		  AND status = 'pending'
		ORDER BY scheduled_for ASC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

// FindPending returns pending tasks for a phone, optionally filtered by type.
func (r *TaskRepository) FindPending(phone string, taskType string) (*[]domain.ScheduledTask, error) {
	query := `
		SELECT ` + TASK_COLUMNS + `
		FROM scheduled_tasks
		WHERE phone = ` + placeholder(1) + ` AND status = 'pending'
	`
	args := []interface{}{phone}
	if taskType != "" {
		args = append(args, taskType)
		query += ` AND task_type = ` + placeholder(2)
	}
	query += ` ORDER BY scheduled_for ASC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

// MarkExecuting claims a due task with a conditional update on its previous
// status. Exactly one drain worker wins; everyone else sees zero rows affected.
func (r *TaskRepository) MarkExecuting(id string) bool {
	query := `
		UPDATE scheduled_tasks
		SET status = 'executing', modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + ` AND status = 'pending'
	`
	result, err := r.db.Exec(query, id)
	if err != nil {
		slog.Error("Failed to mark task as executing", "error", err, "task_id", id)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

// MarkCancelled cancels a single task, but only while it is still pending.
func (r *TaskRepository) MarkCancelled(id string, note string) bool {
	query := `
		UPDATE scheduled_tasks
		SET status = 'cancelled', modified = ` + nowFunc(r.clock) + `, error_message = ` + placeholder(1) + `
		WHERE id = ` + placeholder(2) + ` AND status = 'pending'
	`
	result, err := r.db.Exec(query, note, id)
	if err != nil {
		slog.Error("Failed to cancel task", "error", err, "task_id", id)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

// UpdateStatus writes a terminal status. completed and failed also stamp the
// execution time; failed and cancelled retain the message for inspection.
func (r *TaskRepository) UpdateStatus(id string, status models.TaskStatus, message string) error {
	set := `status = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock)
	args := []interface{}{string(status)}

	if status == models.TaskCompleted || status == models.TaskFailed {
		args = append(args, formatDateInDatabase(r.clock.Now()))
		set += `, executed = ` + placeholder(len(args))
	}
	if message != "" {
		args = append(args, message)
		set += `, error_message = ` + placeholder(len(args))
	}
	args = append(args, id)
	query := `
		UPDATE scheduled_tasks
		SET ` + set + `
		WHERE id = ` + placeholder(len(args)) + `
	`
	_, err := r.db.Exec(query, args...)
	return err
}

// CancelAllForPhone cancels pending tasks for a phone. taskTypes narrows the
// sweep; empty cancels every pending type. Returns the number cancelled.
func (r *TaskRepository) CancelAllForPhone(phone string, taskTypes []string) (int64, error) {
	args := []interface{}{phone}
	query := `
		UPDATE scheduled_tasks
		SET status = 'cancelled', modified = ` + nowFunc(r.clock) + `, error_message = 'cancelled: user responded'
		WHERE phone = ` + placeholder(1) + ` AND status = 'pending'
	`
	if len(taskTypes) > 0 {
		pps := make([]string, 0, len(taskTypes))
		for _, tt := range taskTypes {
			args = append(args, tt)
			pps = append(pps, placeholder(len(args)))
		}
		query += ` AND task_type IN (` + strings.Join(pps, ", ") + `)`
	}
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SweepStuckExecuting fails tasks stranded in executing since before the
// cutoff. They are not retried; the effect may already have fired.
func (r *TaskRepository) SweepStuckExecuting(cutoff time.Time) (int64, error) {
	query := `
		UPDATE scheduled_tasks
		SET status = 'failed', modified = ` + nowFunc(r.clock) + `,
		    error_message = 'task executor lost; stuck in executing past cutoff'
		WHERE status = 'executing' AND modified < ` + placeholder(1) + `
	`
	result, err := r.db.Exec(query, formatDateInDatabase(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// FindRecentByPhone lists a phone's tasks newest first, for API inspection.
func (r *TaskRepository) FindRecentByPhone(phone string, limit int) (*[]domain.ScheduledTask, error) {
	query := `
		SELECT ` + TASK_COLUMNS + `
		FROM scheduled_tasks
		WHERE phone = ` + placeholder(1) + `
		ORDER BY created DESC
		LIMIT ` + placeholder(2) + `
	`
	rows, err := r.db.Query(query, phone, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) (*[]domain.ScheduledTask, error) {
	var tasks []domain.ScheduledTask
	for rows.Next() {
		var t domain.ScheduledTask
		if err := rows.Scan(
			&t.ID,
			&t.OwnerID,
			&t.Phone,
			&t.ConversationKey,
			&t.TaskType,
			&t.ScheduledFor,
			&t.Status,
			&t.Payload,
			&t.Created,
			&t.Modified,
			&t.Executed,
			&t.ErrorMessage,
			&t.ConversationSnapshot,
		); err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return &tasks, nil
}
