package domain

import (
	"database/sql"
	"time"
)

// Conversation is the per-conversation persistence record. Execution holds the
// JSON-encoded workflow execution state while a run is active and is NULL
// otherwise; LastActivity outlives any single run so the task engine can tell
// whether the user re-engaged after a task was scheduled.
type Conversation struct {
	ConversationKey string
	Phone           string
	LastActivity    time.Time
	Execution       sql.NullString
	Modified        time.Time
}
