package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/chatforge/convoflow/pkg/convoflow/core"
	"github.com/chatforge/convoflow/pkg/convoflow/domain"
)

// ConversationRepository persists per-conversation records: the last-activity
// timestamp and, while a workflow run is active, the JSON execution state.
type ConversationRepository struct {
	db    *sql.DB
	clock core.Clock
}

const CONVERSATION_COLUMNS = ` conversation_key, phone, last_activity, execution, modified `

func NewConversationRepository(db *sql.DB, clock core.Clock) *ConversationRepository {
	return &ConversationRepository{db: db, clock: clock}
}

func (r *ConversationRepository) Find(key string) (*domain.Conversation, error) {
	query := `
		SELECT ` + CONVERSATION_COLUMNS + `
		FROM conversations WHERE conversation_key = ` + placeholder(1) + `
	`
	var c domain.Conversation
	err := r.db.QueryRow(query, key).Scan(
		&c.ConversationKey,
		&c.Phone,
		&c.LastActivity,
		&c.Execution,
		&c.Modified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveExecution upserts the conversation row with a new execution state and
// bumps last_activity.
func (r *ConversationRepository) SaveExecution(key string, phone string, executionJSON string) error {
	now := formatDateInDatabase(r.clock.Now())

	update := `
		UPDATE conversations
		SET phone = ` + placeholder(1) + `, execution = ` + placeholder(2) + `,
		    last_activity = ` + placeholder(3) + `, modified = ` + nowFunc(r.clock) + `
		WHERE conversation_key = ` + placeholder(4) + `
	`
	result, err := r.db.Exec(update, phone, executionJSON, now, key)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	insert := `
		INSERT INTO conversations (conversation_key, phone, last_activity, execution, modified)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `)
	`
	_, err = r.db.Exec(insert, key, phone, now, executionJSON, now)
	return err
}

// ClearExecution removes the execution state but keeps the row so
// last_activity remains available to the task engine.
func (r *ConversationRepository) ClearExecution(key string) error {
	query := `
		UPDATE conversations
		SET execution = NULL, modified = ` + nowFunc(r.clock) + `
		WHERE conversation_key = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, key)
	return err
}

// TouchActivity records user activity. Inserts the row if it does not exist
// yet so a first inbound message is still observable.
func (r *ConversationRepository) TouchActivity(key string, phone string, at time.Time) error {
	update := `
		UPDATE conversations
		SET last_activity = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE conversation_key = ` + placeholder(2) + `
	`
	result, err := r.db.Exec(update, formatDateInDatabase(at), key)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	insert := `
		INSERT INTO conversations (conversation_key, phone, last_activity, execution, modified)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, NULL, ` + placeholder(4) + `)
	`
	now := formatDateInDatabase(r.clock.Now())
	_, err = r.db.Exec(insert, key, phone, formatDateInDatabase(at), now)
	return err
}

// LastActivity returns the recorded last-activity time, or the zero time when
// the conversation has never been seen.
func (r *ConversationRepository) LastActivity(key string) (time.Time, error) {
	query := `
		SELECT last_activity FROM conversations WHERE conversation_key = ` + placeholder(1) + `
	`
	var t time.Time
	err := r.db.QueryRow(query, key).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
