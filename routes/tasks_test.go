package routes

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"field-service-server/models"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

// multipartRequest builds an upload-proof request. A nil file omits the part.
func multipartRequest(t *testing.T, path, filename string, file []byte, notes *string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if file != nil {
		part, err := w.CreateFormFile("proof_upload", filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(file); err != nil {
			t.Fatal(err)
		}
	}
	if notes != nil {
		if err := w.WriteField("notes", *notes); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

type taskScene struct {
	env      *testEnv
	customer string
	worker   string
	admin    string
	request  uint
	task     uint
}

func newTaskScene(t *testing.T) *taskScene {
	env := newTestEnv(t)
	carol := env.token(env.user("carol", models.RoleCustomer))
	wes := env.user("wes", models.RoleWorker)
	ada := env.token(env.user("ada", models.RoleAdmin))
	request := env.createRequest(carol)
	return &taskScene{
		env:      env,
		customer: carol,
		worker:   env.token(wes),
		admin:    ada,
		request:  request,
		task:     env.assign(ada, request, wes.ID),
	}
}

func TestTaskVisibility(t *testing.T) {
	s := newTaskScene(t)
	other := s.env.token(s.env.user("wanda", models.RoleWorker))
	dave := s.env.token(s.env.user("dave", models.RoleCustomer))

	counts := map[string]struct {
		token string
		want  int64
	}{
		"assignee":       {s.worker, 1},
		"other worker":   {other, 0},
		"owner":          {s.customer, 1},
		"other customer": {dave, 0},
		"admin":          {s.admin, 1},
	}
	for name, tc := range counts {
		t.Run(name, func(t *testing.T) {
			rec := s.env.do(http.MethodGet, "/api/tasks/", tc.token, nil)
			expectStatus(t, rec, http.StatusOK)
			if got := decode[pageBody[taskBody]](t, rec).Count; got != tc.want {
				t.Fatalf("count = %d, want %d", got, tc.want)
			}
		})
	}

	rec := s.env.do(http.MethodGet, pathf("/api/tasks/%d/", s.task), s.worker, nil)
	expectStatus(t, rec, http.StatusOK)
	task := decode[taskBody](t, rec)
	if task.ServiceRequest != s.request || task.Status != "assigned" || task.ServiceRequestStatus != "in_progress" {
		t.Fatalf("task = %+v", task)
	}
	expectStatus(t, s.env.do(http.MethodGet, pathf("/api/tasks/%d/", s.task), other, nil), http.StatusNotFound)

	rec = s.env.do(http.MethodGet, "/api/tasks/?status=in_progress", s.worker, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[pageBody[taskBody]](t, rec).Count; got != 0 {
		t.Fatalf("in_progress count = %d", got)
	}
	expectFieldError(t, s.env.do(http.MethodGet, "/api/tasks/?status=paused", s.worker, nil), "status")
}

func TestTaskSetStatus(t *testing.T) {
	s := newTaskScene(t)
	path := pathf("/api/tasks/%d/set-status/", s.task)

	rec := s.env.do(http.MethodPost, path, s.worker, map[string]any{"status": "completed"})
	expectStatus(t, rec, http.StatusBadRequest)
	if got := decode[map[string]any](t, rec)["error"]; got != "Invalid status transition" {
		t.Fatalf("error = %v", got)
	}

	expectStatus(t, s.env.do(http.MethodPost, path, s.customer, map[string]any{"status": "in_progress"}), http.StatusForbidden)
	expectStatus(t, s.env.do(http.MethodPost, path, s.admin, map[string]any{"status": "in_progress"}), http.StatusForbidden)
	expectFieldError(t, s.env.do(http.MethodPost, path, s.worker, map[string]any{"status": "cancelled"}), "status")
	expectFieldError(t, s.env.do(http.MethodPost, path, s.worker, map[string]any{}), "status")

	rec = s.env.do(http.MethodPost, path, s.worker, map[string]any{"status": "in_progress"})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[taskBody](t, rec).Status; got != "in_progress" {
		t.Fatalf("status = %q", got)
	}

	rec = s.env.do(http.MethodPost, path, s.worker, map[string]any{"status": "completed"})
	expectStatus(t, rec, http.StatusOK)
	task := decode[taskBody](t, rec)
	if task.Status != "completed" || task.ServiceRequestStatus != "completed" {
		t.Fatalf("task = %+v", task)
	}

	expectStatus(t, s.env.do(http.MethodPost, path, s.worker, map[string]any{"status": "in_progress"}), http.StatusBadRequest)
}

func TestTaskUploadProof(t *testing.T) {
	s := newTaskScene(t)
	path := pathf("/api/tasks/%d/upload-proof/", s.task)
	image := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 256)...)
	notes := "  Replaced the washer "

	rec := s.env.send(multipartRequest(t, path, "after.png", image, &notes), s.worker)
	expectStatus(t, rec, http.StatusOK)
	task := decode[taskBody](t, rec)
	if task.Status != "completed" || task.ServiceRequestStatus != "completed" {
		t.Fatalf("task = %+v", task)
	}
	if task.Notes != "Replaced the washer" || task.ProofContentType != "image/png" {
		t.Fatalf("task = %+v", task)
	}
	if !strings.HasPrefix(task.ProofUpload, pathf("/media/task_proofs/%d/", s.task)) || !strings.HasSuffix(task.ProofUpload, ".png") {
		t.Fatalf("proof_upload = %q", task.ProofUpload)
	}

	served := s.env.do(http.MethodGet, task.ProofUpload, "", nil)
	expectStatus(t, served, http.StatusOK)
	if !bytes.Equal(served.Body.Bytes(), image) {
		t.Fatalf("served %d bytes, want %d", served.Body.Len(), len(image))
	}

	rec = s.env.do(http.MethodGet, pathf("/api/service-requests/%d/", s.request), s.customer, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[requestBody](t, rec).Status; got != "completed" {
		t.Fatalf("request status = %q", got)
	}
}

func TestTaskUploadProofRejections(t *testing.T) {
	s := newTaskScene(t)
	path := pathf("/api/tasks/%d/upload-proof/", s.task)

	rec := s.env.send(multipartRequest(t, path, "notes.txt", []byte("just some text"), nil), s.worker)
	expectFieldError(t, rec, "proof_upload")

	large := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 100<<10)...)
	rec = s.env.send(multipartRequest(t, path, "big.png", large, nil), s.worker)
	expectFieldError(t, rec, "proof_upload")

	rec = s.env.send(multipartRequest(t, path, "after.png", pngHeader, nil), s.customer)
	expectStatus(t, rec, http.StatusForbidden)

	rec = s.env.send(multipartRequest(t, path, "", nil, nil), s.worker)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[taskBody](t, rec).Status; got != "assigned" {
		t.Fatalf("empty upload changed status to %q", got)
	}

	rec = s.env.do(http.MethodPost, pathf("/api/service-requests/%d/assign/", s.request), s.admin, `{"assigned_field_worker":null}`)
	expectStatus(t, rec, http.StatusOK)
	rec = s.env.send(multipartRequest(t, path, "after.png", pngHeader, nil), s.worker)
	expectStatus(t, rec, http.StatusConflict)
}
