package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatforge/convoflow/internal/engine"
	"github.com/chatforge/convoflow/pkg/convoflow/core"
	"github.com/chatforge/convoflow/pkg/convoflow/domain"
	"github.com/chatforge/convoflow/pkg/convoflow/models"
)

// MockTaskRepo implements engine.TaskRepo for controller tests
type MockTaskRepo struct {
	InsertFunc            func(t *domain.ScheduledTask) error
	MarkCancelledFunc     func(id string, note string) bool
	FindRecentByPhoneFunc func(phone string, limit int) (*[]domain.ScheduledTask, error)
}

func (m *MockTaskRepo) Insert(t *domain.ScheduledTask) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(t)
	}
	return nil
}
func (m *MockTaskRepo) FindByID(id string) (*domain.ScheduledTask, error) { return nil, nil }
func (m *MockTaskRepo) FindDuePending(limit int) (*[]domain.ScheduledTask, error) {
	return &[]domain.ScheduledTask{}, nil
}
func (m *MockTaskRepo) FindPending(phone string, taskType string) (*[]domain.ScheduledTask, error) {
	return &[]domain.ScheduledTask{}, nil
}
func (m *MockTaskRepo) MarkExecuting(id string) bool { return true }
func (m *MockTaskRepo) MarkCancelled(id string, note string) bool {
	if m.MarkCancelledFunc != nil {
		return m.MarkCancelledFunc(id, note)
	}
	return true
}
func (m *MockTaskRepo) UpdateStatus(id string, status models.TaskStatus, message string) error {
	return nil
}
func (m *MockTaskRepo) CancelAllForPhone(phone string, taskTypes []string) (int64, error) {
	return 0, nil
}
func (m *MockTaskRepo) SweepStuckExecuting(cutoff time.Time) (int64, error) { return 0, nil }
func (m *MockTaskRepo) FindRecentByPhone(phone string, limit int) (*[]domain.ScheduledTask, error) {
	if m.FindRecentByPhoneFunc != nil {
		return m.FindRecentByPhoneFunc(phone, limit)
	}
	return &[]domain.ScheduledTask{}, nil
}

// MockConversationRepo implements engine.ConversationRepo for controller tests
type MockConversationRepo struct {
	FindFunc func(key string) (*domain.Conversation, error)
}

func (m *MockConversationRepo) Find(key string) (*domain.Conversation, error) {
	if m.FindFunc != nil {
		return m.FindFunc(key)
	}
	return nil, nil
}
func (m *MockConversationRepo) SaveExecution(key string, phone string, executionJSON string) error {
	return nil
}
func (m *MockConversationRepo) ClearExecution(key string) error { return nil }
func (m *MockConversationRepo) TouchActivity(key string, phone string, at time.Time) error {
	return nil
}
func (m *MockConversationRepo) LastActivity(key string) (time.Time, error) {
	return time.Time{}, nil
}

func newController(tasks engine.TaskRepo) *TasksController {
	te := engine.NewTaskEngine(tasks, &MockConversationRepo{}, nil, engine.LogSender{}, &core.RealClock{})
	return NewTasksController(te, tasks, &AuthController{})
}

func TestScheduleTaskEndpoint(t *testing.T) {
	var inserted *domain.ScheduledTask
	tasks := &MockTaskRepo{
		InsertFunc: func(task *domain.ScheduledTask) error { inserted = task; return nil },
	}
	c := newController(tasks)

	body := `{"ownerId":"acme","phone":"555","taskType":"follow_up","delaySeconds":1800,"payload":{"message":"hi again"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	c.handleTasks(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var res models.ScheduleTaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil || res.ID == "" {
		t.Fatalf("expected an id in the response, got %s", rec.Body.String())
	}
	if inserted == nil || inserted.TaskType != "follow_up" {
		t.Fatalf("expected follow_up inserted, got %+v", inserted)
	}
}

func TestScheduleTaskEndpointValidation(t *testing.T) {
	c := newController(&MockTaskRepo{})

	cases := []string{
		`{"phone":"555","taskType":"follow_up"}`,                               // missing ownerId
		`{"ownerId":"acme","taskType":"follow_up"}`,                            // missing phone
		`{"ownerId":"acme","phone":"555"}`,                                     // missing taskType
		`{"ownerId":"a","phone":"5","taskType":"follow_up","delaySeconds":-5}`, // negative delay
		`not json`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(body))
		rec := httptest.NewRecorder()
		c.handleTasks(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestCancelTaskEndpointConflictWhenNotPending(t *testing.T) {
	tasks := &MockTaskRepo{
		MarkCancelledFunc: func(id string, note string) bool { return false },
	}
	c := newController(tasks)

	req := httptest.NewRequest(http.MethodDelete, "/api/tasks/abc", nil)
	req.SetPathValue("id", "abc")
	rec := httptest.NewRecorder()
	c.handleCancelTask(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestListTasksEndpoint(t *testing.T) {
	tasks := &MockTaskRepo{
		FindRecentByPhoneFunc: func(phone string, limit int) (*[]domain.ScheduledTask, error) {
			return &[]domain.ScheduledTask{{ID: "t1", OwnerID: "acme", Phone: phone, TaskType: "nurture", Status: "pending"}}, nil
		},
	}
	c := newController(tasks)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks?phone=555", nil)
	rec := httptest.NewRecorder()
	c.handleTasks(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out []models.TaskApiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != "t1" || out[0].Phone != "555" {
		t.Fatalf("unexpected list: %+v", out)
	}
	if out[0].Executed != nil {
		t.Fatalf("a pending task has no execution time, got %v", out[0].Executed)
	}
	if strings.Contains(rec.Body.String(), "executed") {
		t.Fatalf("unexecuted tasks must omit the executed field: %s", rec.Body.String())
	}
}
