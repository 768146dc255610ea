package domain

import (
	"database/sql"
	"time"
)

// ScheduledTask is a durable unit of deferred work. Tasks are never deleted;
// they end in a terminal status (completed, failed, cancelled) and are kept
// for audit.
type ScheduledTask struct {
	ID                   string
	OwnerID              string
	Phone                string
	ConversationKey      string
	TaskType             string
	ScheduledFor         time.Time
	Status               string
	Payload              sql.NullString
	Created              time.Time
	Modified             time.Time
	Executed             sql.NullTime
	ErrorMessage         sql.NullString
	ConversationSnapshot sql.NullString
}
