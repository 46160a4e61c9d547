package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"field-service-server/database/databasetest"
	"field-service-server/models"
	"field-service-server/storage"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type sentEvent struct {
	UserID uint
	Event  string
	Data   any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recordingNotifier) Notify(userID uint, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sentEvent{userID, event, data})
}

func (r *recordingNotifier) last() (sentEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return sentEvent{}, false
	}
	return r.events[len(r.events)-1], true
}

type fixture struct {
	db       *gorm.DB
	notifier *recordingNotifier
	requests *ServiceRequestService
	tasks    *TaskService
	store    *memStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := databasetest.Open(t)
	n := &recordingNotifier{}
	store := newMemStore()
	f := &fixture{
		db:       db,
		notifier: n,
		requests: NewServiceRequestService(db, zap.NewNop(), n),
		tasks:    NewTaskService(db, zap.NewNop(), n, store, 1<<20),
		store:    store,
	}
	f.requests.now = func() time.Time { return testNow }
	f.tasks.now = func() time.Time { return testNow }
	return f
}

func createUser(t *testing.T, db *gorm.DB, username string, role models.UserRole) *models.User {
	t.Helper()
	u := &models.User{
		Username:     username,
		PasswordHash: "x",
		Role:         role,
		Phone:        "+15550001",
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

// createWorker makes an approved, active field worker.
func createWorker(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	u := createUser(t, db, username, models.RoleWorker)
	if err := db.Model(u).Update("is_approved", true).Error; err != nil {
		t.Fatalf("approve worker: %v", err)
	}
	return u
}

func (f *fixture) createRequest(t *testing.T, customer *models.User) *models.ServiceRequest {
	t.Helper()
	sr, err := f.requests.Create(context.Background(), customer, models.ServiceRequestCreate{
		Description: "Leaking kitchen tap",
		Location:    "12 Harbour Road",
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return sr
}

func (f *fixture) assign(t *testing.T, admin *models.User, sr *models.ServiceRequest, worker *models.User) *models.Task {
	t.Helper()
	if _, err := f.requests.Assign(context.Background(), admin, sr.ID, &worker.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	var task models.Task
	if err := f.db.Where("service_request_id = ? AND status = ?", sr.ID, models.TaskStatusAssigned).First(&task).Error; err != nil {
		t.Fatalf("load task: %v", err)
	}
	return &task
}

func assertKind(t *testing.T, err error, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("err = %v, want kind %v", err, kind)
	}
}

func assertMessage(t *testing.T, err error, msg string) {
	t.Helper()
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("err = %v (%T), want *Error", err, err)
	}
	if se.Message != msg {
		t.Fatalf("message = %q, want %q", se.Message, msg)
	}
}

// memStore keeps uploads in memory.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Save(_ context.Context, key string, r io.Reader, _ string) (*storage.Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return nil, fmt.Errorf("%s exists", key)
	}
	m.objects[key] = data
	return &storage.Object{Path: key, URL: "/media/" + key, Size: int64(len(data))}, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
