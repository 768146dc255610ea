package engine

import (
	"context"
	"time"

	"github.com/chatforge/convoflow/pkg/convoflow/domain"
	"github.com/chatforge/convoflow/pkg/convoflow/models"
)

// MockTaskRepo implements TaskRepo for testing
type MockTaskRepo struct {
	InsertFunc              func(t *domain.ScheduledTask) error
	FindByIDFunc            func(id string) (*domain.ScheduledTask, error)
	FindDuePendingFunc      func(limit int) (*[]domain.ScheduledTask, error)
	FindPendingFunc         func(phone string, taskType string) (*[]domain.ScheduledTask, error)
	MarkExecutingFunc       func(id string) bool
	MarkCancelledFunc       func(id string, note string) bool
	UpdateStatusFunc        func(id string, status models.TaskStatus, message string) error
	CancelAllForPhoneFunc   func(phone string, taskTypes []string) (int64, error)
	SweepStuckExecutingFunc func(cutoff time.Time) (int64, error)
	FindRecentByPhoneFunc   func(phone string, limit int) (*[]domain.ScheduledTask, error)
}

func (m *MockTaskRepo) Insert(t *domain.ScheduledTask) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(t)
	}
	return nil
}
func (m *MockTaskRepo) FindByID(id string) (*domain.ScheduledTask, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return nil, nil
}
func (m *MockTaskRepo) FindDuePending(limit int) (*[]domain.ScheduledTask, error) {
	if m.FindDuePendingFunc != nil {
		return m.FindDuePendingFunc(limit)
	}
	return &[]domain.ScheduledTask{}, nil
}
func (m *MockTaskRepo) FindPending(phone string, taskType string) (*[]domain.ScheduledTask, error) {
	if m.FindPendingFunc != nil {
		return m.FindPendingFunc(phone, taskType)
	}
	return &[]domain.ScheduledTask{}, nil
}
func (m *MockTaskRepo) MarkExecuting(id string) bool {
	if m.MarkExecutingFunc != nil {
		return m.MarkExecutingFunc(id)
	}
	return true
}
func (m *MockTaskRepo) MarkCancelled(id string, note string) bool {
	if m.MarkCancelledFunc != nil {
		return m.MarkCancelledFunc(id, note)
	}
	return true
}
func (m *MockTaskRepo) UpdateStatus(id string, status models.TaskStatus, message string) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(id, status, message)
	}
	return nil
}
func (m *MockTaskRepo) CancelAllForPhone(phone string, taskTypes []string) (int64, error) {
	if m.CancelAllForPhoneFunc != nil {
		return m.CancelAllForPhoneFunc(phone, taskTypes)
	}
	return 0, nil
}
func (m *MockTaskRepo) SweepStuckExecuting(cutoff time.Time) (int64, error) {
	if m.SweepStuckExecutingFunc != nil {
		return m.SweepStuckExecutingFunc(cutoff)
	}
	return 0, nil
}
func (m *MockTaskRepo) FindRecentByPhone(phone string, limit int) (*[]domain.ScheduledTask, error) {
	if m.FindRecentByPhoneFunc != nil {
		return m.FindRecentByPhoneFunc(phone, limit)
	}
	return &[]domain.ScheduledTask{}, nil
}

// MockConversationRepo implements ConversationRepo for testing
type MockConversationRepo struct {
	FindFunc           func(key string) (*domain.Conversation, error)
	SaveExecutionFunc  func(key string, phone string, executionJSON string) error
	ClearExecutionFunc func(key string) error
	TouchActivityFunc  func(key string, phone string, at time.Time) error
	LastActivityFunc   func(key string) (time.Time, error)
}

func (m *MockConversationRepo) Find(key string) (*domain.Conversation, error) {
	if m.FindFunc != nil {
		return m.FindFunc(key)
	}
	return nil, nil
}
func (m *MockConversationRepo) SaveExecution(key string, phone string, executionJSON string) error {
	if m.SaveExecutionFunc != nil {
		return m.SaveExecutionFunc(key, phone, executionJSON)
	}
	return nil
}
func (m *MockConversationRepo) ClearExecution(key string) error {
	if m.ClearExecutionFunc != nil {
		return m.ClearExecutionFunc(key)
	}
	return nil
}
func (m *MockConversationRepo) TouchActivity(key string, phone string, at time.Time) error {
	if m.TouchActivityFunc != nil {
		return m.TouchActivityFunc(key, phone, at)
	}
	return nil
}
func (m *MockConversationRepo) LastActivity(key string) (time.Time, error) {
	if m.LastActivityFunc != nil {
		return m.LastActivityFunc(key)
	}
	return time.Time{}, nil
}

// MockDefinitionRepo implements DefinitionRepo for testing
type MockDefinitionRepo struct {
	FindActiveByOwnerFunc func(ownerID string) (*domain.WorkflowDefinition, error)
}

func (m *MockDefinitionRepo) FindActiveByOwner(ownerID string) (*domain.WorkflowDefinition, error) {
	if m.FindActiveByOwnerFunc != nil {
		return m.FindActiveByOwnerFunc(ownerID)
	}
	return nil, nil
}

// MockProductRepo implements ProductRepo for testing
type MockProductRepo struct {
	FindByIDFunc       func(id string) (*domain.Product, error)
	FindByCategoryFunc func(ownerID string, category string) (*domain.Product, error)
	FindAllActiveFunc  func(ownerID string) ([]domain.Product, error)
}

func (m *MockProductRepo) FindByID(id string) (*domain.Product, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return nil, nil
}
func (m *MockProductRepo) FindByCategory(ownerID string, category string) (*domain.Product, error) {
	if m.FindByCategoryFunc != nil {
		return m.FindByCategoryFunc(ownerID, category)
	}
	return nil, nil
}
func (m *MockProductRepo) FindAllActive(ownerID string) ([]domain.Product, error) {
	if m.FindAllActiveFunc != nil {
		return m.FindAllActiveFunc(ownerID)
	}
	return nil, nil
}

// MockTagRepo implements TagRepo for testing
type MockTagRepo struct {
	AddTagFunc    func(phone string, tag string) error
	RemoveTagFunc func(phone string, tag string) error
}

func (m *MockTagRepo) AddTag(phone string, tag string) error {
	if m.AddTagFunc != nil {
		return m.AddTagFunc(phone, tag)
	}
	return nil
}
func (m *MockTagRepo) RemoveTag(phone string, tag string) error {
	if m.RemoveTagFunc != nil {
		return m.RemoveTagFunc(phone, tag)
	}
	return nil
}

// MockSender implements MessageSender and records what was sent
type MockSender struct {
	SendFunc func(ctx context.Context, phone string, text string) error
	Sent     []string
}

func (m *MockSender) Send(ctx context.Context, phone string, text string) error {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, phone, text)
	}
	m.Sent = append(m.Sent, text)
	return nil
}
