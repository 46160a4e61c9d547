package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"field-service-server/models"
	"field-service-server/storage"
)

// sniffLen is how much of an upload is buffered for content detection.
const sniffLen = 3072

type TaskService struct {
	db        *gorm.DB
	log       *zap.Logger
	notifier  Notifier
	store     storage.Store
	maxUpload int64
	now       func() time.Time
}

func NewTaskService(db *gorm.DB, log *zap.Logger, notifier Notifier, store storage.Store, maxUpload int64) *TaskService {
	return &TaskService{
		db:        db,
		log:       log.Named("tasks"),
		notifier:  notifierOrNop(notifier),
		store:     store,
		maxUpload: maxUpload,
		now:       time.Now,
	}
}

// ProofFile is an uploaded proof of completion.
type ProofFile struct {
	Filename string
	Size     int64
	Content  io.Reader
}

type ProofUpload struct {
	Notes *string
	File  *ProofFile
}

func (p ProofUpload) hasNotes() bool {
	return p.Notes != nil && strings.TrimSpace(*p.Notes) != ""
}

// scopedTasks limits q to the tasks actor may see: admins see all, workers
// their own, customers the tasks of their requests.
func scopedTasks(q *gorm.DB, actor *models.User) *gorm.DB {
	switch {
	case actor.IsAdmin():
		return q
	case actor.IsWorker():
		return q.Where("tasks.assigned_to_id = ?", actor.ID)
	default:
		owned := q.Session(&gorm.Session{NewDB: true}).
			Model(&models.ServiceRequest{}).Select("id").Where("customer_id = ?", actor.ID)
		return q.Where("tasks.service_request_id IN (?)", owned)
	}
}

func preloadTask(q *gorm.DB) *gorm.DB {
	return q.Preload("ServiceRequest").Preload("AssignedTo")
}

func (s *TaskService) List(ctx context.Context, actor *models.User, status models.TaskStatus, page Page) ([]models.Task, int64, error) {
	q := scopedTasks(s.db.WithContext(ctx).Model(&models.Task{}), actor)
	if status != "" {
		q = q.Where("tasks.status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	var tasks []models.Task
	if err := preloadTask(q).Order("tasks.created_at DESC, tasks.id DESC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&tasks).Error; err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, total, nil
}

func (s *TaskService) Get(ctx context.Context, actor *models.User, id uint) (*models.Task, error) {
	var task models.Task
	err := preloadTask(scopedTasks(s.db.WithContext(ctx), actor)).First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("Task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	return &task, nil
}

func (s *TaskService) load(ctx context.Context, id uint) (*models.Task, error) {
	var task models.Task
	if err := preloadTask(s.db.WithContext(ctx)).First(&task, id).Error; err != nil {
		return nil, fmt.Errorf("reload task: %w", err)
	}
	return &task, nil
}

// findForAssignee loads a task the actor is assigned to. Non-workers are
// refused; other workers' tasks do not exist for the caller.
func findForAssignee(q *gorm.DB, actor *models.User, id uint) (*models.Task, error) {
	if !actor.IsWorker() {
		return nil, forbidden("Only the assigned field worker can update this task")
	}
	var task models.Task
	err := q.Where("assigned_to_id = ?", actor.ID).First(&task, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("Task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	return &task, nil
}

// completeRequest closes the task's request unless it was cancelled meanwhile.
// It returns the request's customer id.
func completeRequest(tx *gorm.DB, requestID uint, at time.Time) (uint, error) {
	var sr models.ServiceRequest
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sr, requestID).Error; err != nil {
		return 0, fmt.Errorf("load service request: %w", err)
	}
	if sr.Status == models.RequestStatusCancelled {
		return sr.CustomerID, nil
	}
	if err := tx.Model(&sr).Updates(map[string]interface{}{
		"status":       models.RequestStatusCompleted,
		"completed_at": &at,
	}).Error; err != nil {
		return 0, fmt.Errorf("complete service request: %w", err)
	}
	return sr.CustomerID, nil
}

// advance moves task to next and stamps the matching timestamps.
func advance(task *models.Task, next models.TaskStatus, now time.Time) map[string]interface{} {
	updates := map[string]interface{}{"status": next}
	switch next {
	case models.TaskStatusInProgress:
		updates["started_at"] = &now
	case models.TaskStatusCompleted:
		if task.StartedAt == nil {
			updates["started_at"] = &now
		}
		updates["completed_at"] = &now
	}
	return updates
}

// SetStatus applies a worker requested transition. Only
// assigned -> in_progress -> completed is allowed, one step at a time.
func (s *TaskService) SetStatus(ctx context.Context, actor *models.User, id uint, next models.TaskStatus) (*models.Task, error) {
	if !actor.IsWorker() {
		return nil, forbidden("Only the assigned field worker can update this task")
	}
	if !next.WorkerSettable() {
		return nil, invalid("status", fmt.Sprintf("%q is not a valid choice.", next))
	}

	var customerID uint
	var from models.TaskStatus
	var requestID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := findForAssignee(tx.Clauses(clause.Locking{Strength: "UPDATE"}), actor, id)
		if err != nil {
			return err
		}
		if !task.Status.CanTransition(next) {
			return invalidTransition(task.Status, next)
		}
		from = task.Status
		requestID = task.ServiceRequestID

		now := s.now()
		if err := tx.Model(task).Updates(advance(task, next, now)).Error; err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		if next == models.TaskStatusCompleted {
			customerID, err = completeRequest(tx, task.ServiceRequestID, now)
			return err
		}
		if err := tx.Model(&models.ServiceRequest{}).Select("customer_id").
			Where("id = ?", task.ServiceRequestID).Scan(&customerID).Error; err != nil {
			return fmt.Errorf("load request owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("task status changed",
		zap.Uint("task_id", id),
		zap.Uint("worker_id", actor.ID),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
	)
	event := EventTaskStatusChanged
	if next == models.TaskStatusCompleted {
		event = EventServiceRequestCompleted
	}
	s.notifier.Notify(customerID, event, map[string]interface{}{
		"service_request_id": requestID,
		"task_id":            id,
		"status":             next,
	})
	return s.load(ctx, id)
}

// UploadProof attaches a proof file and/or notes. Attaching anything to an
// unfinished task completes it along with its service request. An empty
// upload is a no-op.
func (s *TaskService) UploadProof(ctx context.Context, actor *models.User, id uint, in ProofUpload) (*models.Task, error) {
	task, err := findForAssignee(s.db.WithContext(ctx), actor, id)
	if err != nil {
		return nil, err
	}
	if task.Status == models.TaskStatusCancelled {
		return nil, conflict("Cannot upload proof for a cancelled task")
	}
	if in.File == nil && !in.hasNotes() {
		return s.load(ctx, id)
	}

	var stored *storage.Object
	var contentType string
	if in.File != nil {
		stored, contentType, err = s.storeProof(ctx, task.ID, in.File)
		if err != nil {
			return nil, err
		}
	}

	var previousProof string
	var customerID uint
	completed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := findForAssignee(tx.Clauses(clause.Locking{Strength: "UPDATE"}), actor, id)
		if err != nil {
			return err
		}
		if task.Status == models.TaskStatusCancelled {
			return conflict("Cannot upload proof for a cancelled task")
		}

		updates := map[string]interface{}{}
		if stored != nil {
			previousProof = task.ProofPath
			updates["proof_url"] = stored.URL
			updates["proof_path"] = stored.Path
			updates["proof_content_type"] = contentType
			updates["proof_size"] = stored.Size
		}
		if in.hasNotes() {
			updates["notes"] = strings.TrimSpace(*in.Notes)
		}

		now := s.now()
		if task.Status != models.TaskStatusCompleted {
			for k, v := range advance(task, models.TaskStatusCompleted, now) {
				updates[k] = v
			}
			completed = true
		}
		if err := tx.Model(task).Updates(updates).Error; err != nil {
			return fmt.Errorf("save proof: %w", err)
		}
		if completed {
			customerID, err = completeRequest(tx, task.ServiceRequestID, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if stored != nil {
			s.removeProof(stored.Path)
		}
		return nil, err
	}

	if previousProof != "" && stored != nil && previousProof != stored.Path {
		s.removeProof(previousProof)
	}
	s.log.Info("task proof uploaded",
		zap.Uint("task_id", id),
		zap.Uint("worker_id", actor.ID),
		zap.Bool("file", stored != nil),
		zap.Bool("completed", completed),
	)
	if completed {
		s.notifier.Notify(customerID, EventServiceRequestCompleted, map[string]interface{}{
			"service_request_id": task.ServiceRequestID,
			"task_id":            id,
		})
	}
	return s.load(ctx, id)
}

// storeProof validates size and content type, then hands the bytes to the
// configured store.
func (s *TaskService) storeProof(ctx context.Context, taskID uint, f *ProofFile) (*storage.Object, string, error) {
	if f.Size > s.maxUpload {
		return nil, "", invalid("proof_upload", fmt.Sprintf("File is too large; the limit is %d bytes", s.maxUpload))
	}
	if s.store == nil {
		return nil, "", fmt.Errorf("no proof storage configured")
	}

	limited := io.LimitReader(f.Content, s.maxUpload+1)
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(limited, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, "", invalid("proof_upload", "The submitted file is empty.")
	}

	mtype := mimetype.Detect(head)
	if !allowedProofType(mtype) {
		return nil, "", invalid("proof_upload", fmt.Sprintf("Unsupported file type %s; upload an image or a PDF", mtype.String()))
	}

	ext := mtype.Extension()
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(f.Filename))
	}
	key := fmt.Sprintf("task_proofs/%d/%s%s", taskID, uuid.NewString(), ext)

	obj, err := s.store.Save(ctx, key, io.MultiReader(bytes.NewReader(head), limited), mtype.String())
	if err != nil {
		return nil, "", fmt.Errorf("store proof: %w", err)
	}
	if obj.Size > s.maxUpload {
		s.removeProof(obj.Path)
		return nil, "", invalid("proof_upload", fmt.Sprintf("File is too large; the limit is %d bytes", s.maxUpload))
	}
	return obj, mtype.String(), nil
}

func allowedProofType(m *mimetype.MIME) bool {
	// SVG can carry script.
	if m.Is("image/svg+xml") {
		return false
	}
	for ; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") || m.Is("application/pdf") {
			return true
		}
	}
	return false
}

func (s *TaskService) removeProof(path string) {
	if err := s.store.Delete(context.Background(), path); err != nil {
		s.log.Warn("failed to remove stored proof", zap.String("path", path), zap.Error(err))
	}
}
