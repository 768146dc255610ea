package engine

import (
	"context"
	"time"

	"github.com/chatforge/convoflow/pkg/convoflow/domain"
	"github.com/chatforge/convoflow/pkg/convoflow/models"
)

// TaskRepo defines the interface for scheduled task persistence, matching
// repository.TaskRepository.
type TaskRepo interface {
	Insert(t *domain.ScheduledTask) error
	FindByID(id string) (*domain.ScheduledTask, error)
	FindDuePending(limit int) (*[]domain.ScheduledTask, error)
	FindPending(phone string, taskType string) (*[]domain.ScheduledTask, error)
	MarkExecuting(id string) bool
	MarkCancelled(id string, note string) bool
	UpdateStatus(id string, status models.TaskStatus, message string) error
	CancelAllForPhone(phone string, taskTypes []string) (int64, error)
	SweepStuckExecuting(cutoff time.Time) (int64, error)
	FindRecentByPhone(phone string, limit int) (*[]domain.ScheduledTask, error)
}

// ConversationRepo defines the interface for conversation state persistence.
type ConversationRepo interface {
	Find(key string) (*domain.Conversation, error)
	SaveExecution(key string, phone string, executionJSON string) error
	ClearExecution(key string) error
	TouchActivity(key string, phone string, at time.Time) error
	LastActivity(key string) (time.Time, error)
}

// DefinitionRepo defines read access to stored workflow graphs.
type DefinitionRepo interface {
	FindActiveByOwner(ownerID string) (*domain.WorkflowDefinition, error)
}

// ProductRepo backs OFFER node selection.
type ProductRepo interface {
	FindByID(id string) (*domain.Product, error)
	FindByCategory(ownerID string, category string) (*domain.Product, error)
	FindAllActive(ownerID string) ([]domain.Product, error)
}

// TagRepo backs ASSIGN_TAG node mutations.
type TagRepo interface {
	AddTag(phone string, tag string) error
	RemoveTag(phone string, tag string) error
}

// MessageSender delivers outbound chat messages. Injected by the caller;
// send failures are logged by this engine, retry policy belongs to the sender.
type MessageSender interface {
	Send(ctx context.Context, phone string, text string) error
}

// Classifier is the delegate behind model-backed condition and intent
// evaluation. It must bound its own latency; on error the evaluator resolves
// to the first allowed label.
type Classifier func(ctx context.Context, text string, labels []string) (string, error)
