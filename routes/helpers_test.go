package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"field-service-server/config"
	"field-service-server/database/databasetest"
	"field-service-server/middleware"
	"field-service-server/models"
	"field-service-server/services"
	"field-service-server/storage"
	"field-service-server/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testPassword = "correct-horse-9"

type testEnv struct {
	t      *testing.T
	db     *gorm.DB
	deps   *Dependencies
	router *gin.Engine
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"http://app.example.com"}},
		JWT: config.JWTConfig{
			Secret:     "routes-test-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 24 * time.Hour,
			Issuer:     "field-service-test",
		},
		Media: config.MediaConfig{
			Backend:        config.MediaBackendLocal,
			Root:           t.TempDir(),
			URL:            "/media/",
			MaxUploadBytes: 64 << 10,
		},
		Auth: config.AuthConfig{BcryptCost: 4},
	}
}

func newTestEnv(t *testing.T, tweak ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig(t)
	for _, fn := range tweak {
		fn(cfg)
	}

	db := databasetest.Open(t)
	log := zap.NewNop()
	store, err := storage.NewLocalStore(cfg.Media.Root, cfg.Media.URL)
	if err != nil {
		t.Fatalf("local store: %v", err)
	}

	hub := websocket.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	jwt := services.NewJWTService(db, cfg.JWT, log)
	deps := &Dependencies{
		Config:     cfg,
		DB:         db,
		Log:        log,
		JWT:        jwt,
		Users:      services.NewUserService(db, cfg.Auth, log, jwt, hub),
		Requests:   services.NewServiceRequestService(db, log, hub),
		Tasks:      services.NewTaskService(db, log, hub, store, cfg.Media.MaxUploadBytes),
		Dashboards: services.NewDashboardService(db),
		Hub:        hub,
		Limiter:    middleware.NewRateLimiter(),
	}
	return &testEnv{t: t, db: db, deps: deps, router: SetupRouter(deps)}
}

// user creates an account directly in the database. Workers are approved.
func (e *testEnv) user(username string, role models.UserRole) *models.User {
	e.t.Helper()
	hash, err := e.deps.Users.HashPassword(testPassword)
	if err != nil {
		e.t.Fatalf("hash: %v", err)
	}
	u := &models.User{Username: username, PasswordHash: hash, Role: role, Phone: "+15550100"}
	if err := e.db.Create(u).Error; err != nil {
		e.t.Fatalf("create %s: %v", username, err)
	}
	if role == models.RoleWorker {
		if err := e.db.Model(u).Update("is_approved", true).Error; err != nil {
			e.t.Fatalf("approve %s: %v", username, err)
		}
	}
	return u
}

func (e *testEnv) token(u *models.User) string {
	e.t.Helper()
	pair, err := e.deps.JWT.GenerateTokenPair(context.Background(), u, services.ClientInfo{})
	if err != nil {
		e.t.Fatalf("token for %s: %v", u.Username, err)
	}
	return pair.AccessToken
}

func (e *testEnv) send(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// do sends body as JSON when it is not nil.
func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			if err != nil {
				e.t.Fatalf("marshal body: %v", err)
			}
			raw = string(b)
		}
		r = bytes.NewBufferString(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(req, token)
}

func pathf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, want, rec.Body.String())
	}
}

type errorBody struct {
	Error   string              `json:"error"`
	Details map[string][]string `json:"details"`
}

func expectFieldError(t *testing.T, rec *httptest.ResponseRecorder, field string) {
	t.Helper()
	expectStatus(t, rec, http.StatusBadRequest)
	body := decode[errorBody](t, rec)
	if body.Error != "Validation failed" {
		t.Fatalf("error = %q, want Validation failed", body.Error)
	}
	if len(body.Details[field]) == 0 {
		t.Fatalf("details = %v, want an entry for %q", body.Details, field)
	}
}

type requestBody struct {
	ID                  uint                `json:"id"`
	Status              string              `json:"status"`
	Urgency             string              `json:"urgency"`
	Rating              *int                `json:"rating"`
	ActiveTaskID        *uint               `json:"active_task_id"`
	Customer            *models.UserSummary `json:"customer"`
	AssignedFieldWorker *uint               `json:"assigned_field_worker"`
	AssignedWorker      *models.UserSummary `json:"assigned_field_worker_detail"`
}

type taskBody struct {
	ID                   uint   `json:"id"`
	ServiceRequest       uint   `json:"service_request"`
	ServiceRequestStatus string `json:"service_request_status"`
	Status               string `json:"status"`
	Notes                string `json:"notes"`
	ProofUpload          string `json:"proof_upload"`
	ProofContentType     string `json:"proof_content_type"`
}

type pageBody[T any] struct {
	Results []T   `json:"results"`
	Count   int64 `json:"count"`
	Page    int   `json:"page"`
	Limit   int   `json:"limit"`
}

// createRequest posts a service request as customer and returns its id.
func (e *testEnv) createRequest(customerToken string) uint {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/service-requests/", customerToken, map[string]any{
		"description": "Boiler makes a knocking noise",
		"location":    "4 Mill Lane",
		"urgency":     "high",
	})
	expectStatus(e.t, rec, http.StatusCreated)
	return decode[requestBody](e.t, rec).ID
}

// assign assigns the request and returns the new task id.
func (e *testEnv) assign(adminToken string, requestID, workerID uint) uint {
	e.t.Helper()
	rec := e.do(http.MethodPost, pathf("/api/service-requests/%d/assign/", requestID), adminToken, map[string]any{
		"assigned_field_worker": workerID,
	})
	expectStatus(e.t, rec, http.StatusOK)
	sr := decode[requestBody](e.t, rec)
	if sr.ActiveTaskID == nil {
		e.t.Fatalf("assigned request has no active task: %s", rec.Body.String())
	}
	return *sr.ActiveTaskID
}
