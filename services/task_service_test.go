package services

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"field-service-server/models"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< >>\n%%EOF\n")
)

func proofFile(name string, data []byte) *ProofFile {
	return &ProofFile{Filename: name, Size: int64(len(data)), Content: bytes.NewReader(data)}
}

type taskSetup struct {
	*fixture
	customer *models.User
	admin    *models.User
	worker   *models.User
	request  *models.ServiceRequest
	task     *models.Task
}

func newTaskSetup(t *testing.T) *taskSetup {
	t.Helper()
	f := newFixture(t)
	s := &taskSetup{
		fixture:  f,
		customer: createUser(t, f.db, "carol", models.RoleCustomer),
		admin:    createUser(t, f.db, "ada", models.RoleAdmin),
		worker:   createWorker(t, f.db, "wes"),
	}
	s.request = f.createRequest(t, s.customer)
	s.task = f.assign(t, s.admin, s.request, s.worker)
	return s
}

func (s *taskSetup) requestStatus(t *testing.T) models.ServiceRequestStatus {
	t.Helper()
	var sr models.ServiceRequest
	if err := s.db.First(&sr, s.request.ID).Error; err != nil {
		t.Fatalf("load request: %v", err)
	}
	return sr.Status
}

func TestTaskStatusProgression(t *testing.T) {
	s := newTaskSetup(t)
	ctx := context.Background()

	got, err := s.tasks.SetStatus(ctx, s.worker, s.task.ID, models.TaskStatusInProgress)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != models.TaskStatusInProgress || got.StartedAt == nil {
		t.Errorf("after start: %s started=%v", got.Status, got.StartedAt)
	}
	if ev, _ := s.notifier.last(); ev.Event != EventTaskStatusChanged || ev.UserID != s.customer.ID {
		t.Errorf("last event = %+v", ev)
	}
	if st := s.requestStatus(t); st != models.RequestStatusInProgress {
		t.Errorf("request status = %s", st)
	}

	got, err = s.tasks.SetStatus(ctx, s.worker, s.task.ID, models.TaskStatusCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != models.TaskStatusCompleted || got.CompletedAt == nil {
		t.Errorf("after complete: %s completed=%v", got.Status, got.CompletedAt)
	}
	if st := s.requestStatus(t); st != models.RequestStatusCompleted {
		t.Errorf("request status = %s, want completed", st)
	}
	if ev, _ := s.notifier.last(); ev.Event != EventServiceRequestCompleted || ev.UserID != s.customer.ID {
		t.Errorf("last event = %+v", ev)
	}

	_, err = s.tasks.SetStatus(ctx, s.worker, s.task.ID, models.TaskStatusAssigned)
	assertKind(t, err, ErrInvalidTransition)
	assertMessage(t, err, "Cannot transition from completed to assigned")
}

func TestTaskStatusRules(t *testing.T) {
	ctx := context.Background()

	t.Run("skipping a step", func(t *testing.T) {
		s := newTaskSetup(t)
		_, err := s.tasks.SetStatus(ctx, s.worker, s.task.ID, models.TaskStatusCompleted)
		assertKind(t, err, ErrInvalidTransition)
		assertMessage(t, err, "Cannot transition from assigned to completed")
	})

	t.Run("same status", func(t *testing.T) {
		s := newTaskSetup(t)
		_, err := s.tasks.SetStatus(ctx, s.worker, s.task.ID, models.TaskStatusAssigned)
		assertKind(t, err, ErrInvalidTransition)
	})

	t.Run("cancelled is not settable", func(t *testing.T) {
		s := newTaskSetup(t)
		_, err := s.tasks.SetStatus(ctx, s.worker, s.task.ID, models.TaskStatusCancelled)
		assertKind(t, err, ErrValidation)
	})

	t.Run("other worker", func(t *testing.T) {
		s := newTaskSetup(t)
		other := createWorker(t, s.db, "olga")
		_, err := s.tasks.SetStatus(ctx, other, s.task.ID, models.TaskStatusInProgress)
		assertKind(t, err, ErrNotFound)
	})

	t.Run("admin and customer", func(t *testing.T) {
		s := newTaskSetup(t)
		for _, actor := range []*models.User{s.admin, s.customer} {
			_, err := s.tasks.SetStatus(ctx, actor, s.task.ID, models.TaskStatusInProgress)
			assertKind(t, err, ErrForbidden)
			assertMessage(t, err, "Only the assigned field worker can update this task")
		}
	})

	t.Run("bogus status from admin is still forbidden", func(t *testing.T) {
		s := newTaskSetup(t)
		_, err := s.tasks.SetStatus(ctx, s.admin, s.task.ID, "teleported")
		assertKind(t, err, ErrForbidden)
	})
}

func TestTaskVisibility(t *testing.T) {
	s := newTaskSetup(t)
	ctx := context.Background()
	other := createWorker(t, s.db, "olga")
	stranger := createUser(t, s.db, "sam", models.RoleCustomer)

	tests := []struct {
		name  string
		actor *models.User
		want  int64
	}{
		{"assignee", s.worker, 1},
		{"other worker", other, 0},
		{"owning customer", s.customer, 1},
		{"other customer", stranger, 0},
		{"admin", s.admin, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, total, err := s.tasks.List(ctx, tt.actor, "", NewPage(1, 20))
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if total != tt.want || int64(len(list)) != tt.want {
				t.Errorf("got %d/%d, want %d", len(list), total, tt.want)
			}
		})
	}

	if _, err := s.tasks.Get(ctx, other, s.task.ID); err == nil {
		t.Error("other worker can read the task")
	}
	got, err := s.tasks.Get(ctx, s.customer, s.task.ID)
	if err != nil {
		t.Fatalf("customer Get: %v", err)
	}
	if got.ServiceRequest.ID != s.request.ID || got.AssignedTo.ID != s.worker.ID {
		t.Errorf("associations not preloaded: %+v", got)
	}

	list, _, err := s.tasks.List(ctx, s.admin, models.TaskStatusCompleted, NewPage(1, 20))
	if err != nil || len(list) != 0 {
		t.Errorf("status filter: %d %v", len(list), err)
	}
}

func TestUploadProofCompletesTask(t *testing.T) {
	s := newTaskSetup(t)
	ctx := context.Background()
	notes := "  Replaced the washer  "

	got, err := s.tasks.UploadProof(ctx, s.worker, s.task.ID, ProofUpload{
		Notes: &notes,
		File:  proofFile("after.png", pngBytes),
	})
	if err != nil {
		t.Fatalf("UploadProof: %v", err)
	}
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Notes != "Replaced the washer" {
		t.Errorf("notes = %q", got.Notes)
	}
	if got.ProofContentType != "image/png" {
		t.Errorf("content type = %q", got.ProofContentType)
	}
	if !strings.HasPrefix(got.ProofPath, "task_proofs/") || !strings.HasSuffix(got.ProofPath, ".png") {
		t.Errorf("proof path = %q", got.ProofPath)
	}
	if got.ProofURL != "/media/"+got.ProofPath {
		t.Errorf("proof url = %q", got.ProofURL)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("timestamps not stamped")
	}
	if st := s.requestStatus(t); st != models.RequestStatusCompleted {
		t.Errorf("request status = %s", st)
	}
	if s.store.len() != 1 {
		t.Errorf("stored objects = %d", s.store.len())
	}
	if ev, _ := s.notifier.last(); ev.Event != EventServiceRequestCompleted {
		t.Errorf("last event = %+v", ev)
	}
}

func TestUploadProofReplacesPrevious(t *testing.T) {
	s := newTaskSetup(t)
	ctx := context.Background()

	first, err := s.tasks.UploadProof(ctx, s.worker, s.task.ID, ProofUpload{File: proofFile("a.png", pngBytes)})
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	second, err := s.tasks.UploadProof(ctx, s.worker, s.task.ID, ProofUpload{File: proofFile("invoice.pdf", pdfBytes)})
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if second.Status != models.TaskStatusCompleted {
		t.Errorf("status = %s", second.Status)
	}
	if second.ProofContentType != "application/pdf" {
		t.Errorf("content type = %q", second.ProofContentType)
	}
	if second.ProofPath == first.ProofPath {
		t.Error("proof path not replaced")
	}
	if s.store.len() != 1 {
		t.Errorf("old proof not removed: %d objects", s.store.len())
	}
}

func TestUploadProofEmptyIsNoop(t *testing.T) {
	s := newTaskSetup(t)
	blank := "   "

	got, err := s.tasks.UploadProof(context.Background(), s.worker, s.task.ID, ProofUpload{Notes: &blank})
	if err != nil {
		t.Fatalf("UploadProof: %v", err)
	}
	if got.Status != models.TaskStatusAssigned {
		t.Errorf("status = %s, want assigned", got.Status)
	}
	if st := s.requestStatus(t); st != models.RequestStatusInProgress {
		t.Errorf("request status = %s", st)
	}
}

func TestUploadProofNotesOnly(t *testing.T) {
	s := newTaskSetup(t)
	notes := "Customer not home; left a card"

	got, err := s.tasks.UploadProof(context.Background(), s.worker, s.task.ID, ProofUpload{Notes: &notes})
	if err != nil {
		t.Fatalf("UploadProof: %v", err)
	}
	if got.Status != models.TaskStatusCompleted || got.Notes != notes {
		t.Errorf("got %s %q", got.Status, got.Notes)
	}
	if got.HasProof() {
		t.Error("notes-only upload should not record a file")
	}
}

func TestUploadProofRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("plain text", func(t *testing.T) {
		s := newTaskSetup(t)
		_, err := s.tasks.UploadProof(ctx, s.worker, s.task.ID, ProofUpload{File: proofFile("notes.txt", []byte("just some words"))})
		assertKind(t, err, ErrValidation)
		if s.store.len() != 0 {
			t.Error("rejected file was stored")
		}
	})

	t.Run("svg", func(t *testing.T) {
		s := newTaskSetup(t)
		svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg"><script>alert(1)</script></svg>`)
		_, err := s.tasks.UploadProof(ctx, s.worker, s.task.ID, ProofUpload{File: proofFile("x.svg", svg)})
		assertKind(t, err, ErrValidation)
	})

	t.Run("empty file", func(t *testing.T) {
		s := newTaskSetup(t)
		_, err := s.tasks.UploadProof(ctx, s.worker, s.task.ID, ProofUpload{File: proofFile("a.png", nil)})
		assertKind(t, err, ErrValidation)
	})

	t.Run("declared too large", func(t *testing.T) {
		s := newTaskSetup(t)
		f := proofFile("big.png", pngBytes)
		f.Size = 2 << 20
		_, err := s.tasks.UploadProof(ctx, s.worker, s.task.ID, ProofUpload{File: f})
		assertKind(t, err, ErrValidation)
	})

	t.Run("actually too large", func(t *testing.T) {
		s := newTaskSetup(t)
		data := append(append([]byte{}, pngBytes...), make([]byte, 1<<20)...)
		f := proofFile("big.png", data)
		f.Size = 10
		_, err := s.tasks.UploadProof(ctx, s.worker, s.task.ID, ProofUpload{File: f})
		assertKind(t, err, ErrValidation)
		if s.store.len() != 0 {
			t.Error("oversized file left in store")
		}
	})

	t.Run("cancelled task", func(t *testing.T) {
		s := newTaskSetup(t)
		if _, err := s.requests.Cancel(ctx, s.customer, s.request.ID); err != nil {
			t.Fatal(err)
		}
		_, err := s.tasks.UploadProof(ctx, s.worker, s.task.ID, ProofUpload{File: proofFile("a.png", pngBytes)})
		assertKind(t, err, ErrConflict)
		assertMessage(t, err, "Cannot upload proof for a cancelled task")
	})

	t.Run("not the assignee", func(t *testing.T) {
		s := newTaskSetup(t)
		_, err := s.tasks.UploadProof(ctx, s.admin, s.task.ID, ProofUpload{File: proofFile("a.png", pngBytes)})
		assertKind(t, err, ErrForbidden)
	})
}
