package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"field-service-server/models"
)

// ServiceRequestService owns the request lifecycle: creation, edits,
// assignment, cancellation and rating.
type ServiceRequestService struct {
	db       *gorm.DB
	log      *zap.Logger
	notifier Notifier
	now      func() time.Time
}

func NewServiceRequestService(db *gorm.DB, log *zap.Logger, notifier Notifier) *ServiceRequestService {
	return &ServiceRequestService{
		db:       db,
		log:      log.Named("service_requests"),
		notifier: notifierOrNop(notifier),
		now:      time.Now,
	}
}

type ServiceRequestFilter struct {
	Status         models.ServiceRequestStatus
	Urgency        models.Urgency
	AssignedWorker *uint
}

// scopedRequests limits q to the requests actor may see. Customers only see their
// own; admins and workers see everything.
func scopedRequests(q *gorm.DB, actor *models.User) *gorm.DB {
	if actor.IsCustomer() {
		return q.Where("service_requests.customer_id = ?", actor.ID)
	}
	return q
}

func preloadRequest(q *gorm.DB) *gorm.DB {
	return q.Preload("Customer").Preload("AssignedWorker").Preload("Tasks")
}

func (s *ServiceRequestService) List(ctx context.Context, actor *models.User, filter ServiceRequestFilter, page Page) ([]models.ServiceRequest, int64, error) {
	q := scopedRequests(s.db.WithContext(ctx).Model(&models.ServiceRequest{}), actor)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Urgency != "" {
		q = q.Where("urgency = ?", filter.Urgency)
	}
	if filter.AssignedWorker != nil {
		q = q.Where("assigned_worker_id = ?", *filter.AssignedWorker)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count service requests: %w", err)
	}

	var requests []models.ServiceRequest
	if err := preloadRequest(q).Order("created_at DESC, id DESC").
		Offset(page.Offset()).Limit(page.Limit).
		Find(&requests).Error; err != nil {
		return nil, 0, fmt.Errorf("list service requests: %w", err)
	}
	return requests, total, nil
}

func (s *ServiceRequestService) Create(ctx context.Context, actor *models.User, in models.ServiceRequestCreate) (*models.ServiceRequest, error) {
	if !actor.IsCustomer() {
		return nil, forbidden("Only customers can create service requests")
	}
	urgency := in.Urgency
	if urgency == "" {
		urgency = models.UrgencyMedium
	}
	if !urgency.Valid() {
		return nil, invalid("urgency", "Urgency must be one of low, medium, high")
	}
	description := strings.TrimSpace(in.Description)
	location := strings.TrimSpace(in.Location)
	if description == "" {
		return nil, invalid("description", "This field may not be blank.")
	}
	if location == "" {
		return nil, invalid("location", "This field may not be blank.")
	}

	sr := &models.ServiceRequest{
		CustomerID:  actor.ID,
		Description: description,
		Location:    location,
		Urgency:     urgency,
		Status:      models.RequestStatusOpen,
	}
	if err := s.db.WithContext(ctx).Create(sr).Error; err != nil {
		return nil, fmt.Errorf("create service request: %w", err)
	}
	s.log.Info("service request created", zap.Uint("request_id", sr.ID), zap.Uint("customer_id", actor.ID))
	return s.load(ctx, s.db, sr.ID)
}

// Get returns a request the actor may see. Requests outside the actor's
// scope are reported as not found.
func (s *ServiceRequestService) Get(ctx context.Context, actor *models.User, id uint) (*models.ServiceRequest, error) {
	var sr models.ServiceRequest
	err := preloadRequest(scopedRequests(s.db.WithContext(ctx), actor)).First(&sr, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("Service request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load service request: %w", err)
	}
	return &sr, nil
}

func (s *ServiceRequestService) load(ctx context.Context, db *gorm.DB, id uint) (*models.ServiceRequest, error) {
	var sr models.ServiceRequest
	if err := preloadRequest(db.WithContext(ctx)).First(&sr, id).Error; err != nil {
		return nil, fmt.Errorf("reload service request: %w", err)
	}
	return &sr, nil
}

// lockForOwnerOrAdmin loads and locks a request for mutation by its owning
// customer or an admin. Workers are refused outright; other customers get
// not found.
func lockForOwnerOrAdmin(tx *gorm.DB, actor *models.User, id uint) (*models.ServiceRequest, error) {
	if actor.IsWorker() {
		return nil, forbidden("Only the owner or an admin can modify this service request")
	}
	var sr models.ServiceRequest
	err := scopedRequests(tx.Clauses(clause.Locking{Strength: "UPDATE"}), actor).First(&sr, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("Service request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load service request: %w", err)
	}
	return &sr, nil
}

// Update applies a partial edit. The owner may only edit while the request is
// open and unassigned; admins may edit anything that is not finished.
func (s *ServiceRequestService) Update(ctx context.Context, actor *models.User, id uint, in models.ServiceRequestUpdate) (*models.ServiceRequest, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sr, err := lockForOwnerOrAdmin(tx, actor, id)
		if err != nil {
			return err
		}
		if actor.IsAdmin() {
			if sr.Status.IsTerminal() {
				return conflict(fmt.Sprintf("Service request is %s and can no longer be edited", sr.Status))
			}
		} else if !sr.IsEditableByOwner() {
			return conflict("Service request can only be edited while it is open and unassigned")
		}

		updates := map[string]interface{}{}
		if in.Description != nil {
			d := strings.TrimSpace(*in.Description)
			if d == "" {
				return invalid("description", "This field may not be blank.")
			}
			updates["description"] = d
		}
		if in.Location != nil {
			l := strings.TrimSpace(*in.Location)
			if l == "" {
				return invalid("location", "This field may not be blank.")
			}
			updates["location"] = l
		}
		if in.Urgency != nil {
			if !in.Urgency.Valid() {
				return invalid("urgency", "Urgency must be one of low, medium, high")
			}
			updates["urgency"] = *in.Urgency
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(sr).Updates(updates).Error; err != nil {
			return fmt.Errorf("update service request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.load(ctx, s.db, id)
}

// Delete removes a request and its task history.
func (s *ServiceRequestService) Delete(ctx context.Context, actor *models.User, id uint) error {
	var assignee *uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sr, err := lockForOwnerOrAdmin(tx, actor, id)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && !sr.IsEditableByOwner() {
			return conflict("Service request can only be deleted while it is open and unassigned")
		}
		var active models.Task
		err = tx.Where("service_request_id = ? AND status IN ?", sr.ID, activeTaskStatuses).First(&active).Error
		if err == nil {
			assignee = active.AssignedToID
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load active task: %w", err)
		}
		if err := tx.Where("service_request_id = ?", sr.ID).Delete(&models.Task{}).Error; err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		if err := tx.Delete(sr).Error; err != nil {
			return fmt.Errorf("delete service request: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("service request deleted", zap.Uint("request_id", id), zap.Uint("actor_id", actor.ID))
	if assignee != nil {
		s.notifier.Notify(*assignee, EventTaskUnassigned, map[string]interface{}{"service_request_id": id})
	}
	return nil
}

var activeTaskStatuses = []models.TaskStatus{models.TaskStatusAssigned, models.TaskStatusInProgress}

// cancelActiveTask marks the request's live task cancelled, if any, and
// returns it.
func cancelActiveTask(tx *gorm.DB, requestID uint) (*models.Task, error) {
	var task models.Task
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("service_request_id = ? AND status IN ?", requestID, activeTaskStatuses).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load active task: %w", err)
	}
	if err := tx.Model(&task).Update("status", models.TaskStatusCancelled).Error; err != nil {
		return nil, fmt.Errorf("cancel task: %w", err)
	}
	return &task, nil
}

// releaseWorker cancels every live task held by workerID and puts the
// affected requests back in the open queue. It returns the released tasks.
func releaseWorker(tx *gorm.DB, workerID uint) ([]models.Task, error) {
	var tasks []models.Task
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("assigned_to_id = ? AND status IN ?", workerID, activeTaskStatuses).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("load active tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	ids := make([]uint, 0, len(tasks))
	requestIDs := make([]uint, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
		requestIDs = append(requestIDs, t.ServiceRequestID)
	}
	if err := tx.Model(&models.Task{}).Where("id IN ?", ids).
		Update("status", models.TaskStatusCancelled).Error; err != nil {
		return nil, fmt.Errorf("cancel tasks: %w", err)
	}
	if err := tx.Model(&models.ServiceRequest{}).
		Where("id IN ? AND assigned_worker_id = ? AND status NOT IN ?", requestIDs, workerID,
			[]models.ServiceRequestStatus{models.RequestStatusCompleted, models.RequestStatusCancelled}).
		Updates(map[string]interface{}{
			"assigned_worker_id": nil,
			"status":             models.RequestStatusOpen,
		}).Error; err != nil {
		return nil, fmt.Errorf("reopen service requests: %w", err)
	}
	return tasks, nil
}

// Assign binds an approved field worker to the request and creates its task.
// A nil workerID unassigns: the live task is cancelled and the request goes
// back to open. Unassigning a request nobody holds is a no-op.
func (s *ServiceRequestService) Assign(ctx context.Context, actor *models.User, id uint, workerID *uint) (*models.ServiceRequest, error) {
	if !actor.IsAdmin() {
		return nil, forbidden("Only admins can assign service requests")
	}

	type notice struct {
		userID uint
		event  string
		data   map[string]interface{}
	}
	var notices []notice

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sr models.ServiceRequest
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sr, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("Service request not found")
		}
		if err != nil {
			return fmt.Errorf("load service request: %w", err)
		}
		if sr.Status.IsTerminal() {
			return conflict(fmt.Sprintf("Cannot assign a %s service request", sr.Status))
		}

		if workerID == nil {
			if !sr.IsAssigned() {
				return nil
			}
			previous := *sr.AssignedWorkerID
			task, err := cancelActiveTask(tx, sr.ID)
			if err != nil {
				return err
			}
			if err := tx.Model(&sr).Updates(map[string]interface{}{
				"assigned_worker_id": nil,
				"status":             models.RequestStatusOpen,
			}).Error; err != nil {
				return fmt.Errorf("unassign service request: %w", err)
			}
			data := map[string]interface{}{"service_request_id": sr.ID}
			if task != nil {
				data["task_id"] = task.ID
			}
			notices = append(notices, notice{previous, EventTaskUnassigned, data})
			return nil
		}

		if sr.IsAssigned() {
			return conflict("Service request is already assigned; unassign it first")
		}

		var worker models.User
		err = tx.First(&worker, *workerID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invalid("assigned_field_worker", "User does not exist")
		}
		if err != nil {
			return fmt.Errorf("load worker: %w", err)
		}
		switch {
		case !worker.IsWorker():
			return invalid("assigned_field_worker", "User must be a field worker")
		case !worker.IsApproved:
			return invalid("assigned_field_worker", "Field worker must be approved")
		case !worker.IsActive:
			return invalid("assigned_field_worker", "Field worker must be active")
		}

		updates := map[string]interface{}{"assigned_worker_id": worker.ID}
		if sr.Status == models.RequestStatusOpen {
			updates["status"] = models.RequestStatusInProgress
		}
		if err := tx.Model(&sr).Updates(updates).Error; err != nil {
			return fmt.Errorf("assign service request: %w", err)
		}

		task := &models.Task{
			ServiceRequestID: sr.ID,
			AssignedToID:     &worker.ID,
			Status:           models.TaskStatusAssigned,
		}
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		notices = append(notices, notice{worker.ID, EventTaskAssigned, map[string]interface{}{
			"task_id":            task.ID,
			"service_request_id": sr.ID,
			"description":        sr.Description,
			"location":           sr.Location,
			"urgency":            sr.Urgency,
		}})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("service request assignment changed",
		zap.Uint("request_id", id),
		zap.Uint("admin_id", actor.ID),
		zap.Uintp("worker_id", workerID),
	)
	for _, n := range notices {
		s.notifier.Notify(n.userID, n.event, n.data)
	}
	return s.load(ctx, s.db, id)
}

// Rate stores the owning customer's 1-5 rating on a completed request.
// Rating again overwrites the previous value.
func (s *ServiceRequestService) Rate(ctx context.Context, actor *models.User, id uint, in models.RateRequest) (*models.ServiceRequest, error) {
	if !actor.IsCustomer() {
		return nil, forbidden("Only customers can rate service requests")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sr, err := lockForOwnerOrAdmin(tx, actor, id)
		if err != nil {
			return err
		}
		if in.Rating == nil || *in.Rating < 1 || *in.Rating > 5 {
			return invalid("rating", "Rating must be between 1 and 5")
		}
		if sr.Status != models.RequestStatusCompleted {
			return conflict("Rating allowed only when status is completed")
		}
		if err := tx.Model(sr).Updates(map[string]interface{}{
			"rating":         *in.Rating,
			"rating_comment": strings.TrimSpace(in.Comment),
		}).Error; err != nil {
			return fmt.Errorf("rate service request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("service request rated", zap.Uint("request_id", id), zap.Int("rating", *in.Rating))
	return s.load(ctx, s.db, id)
}

// Cancel withdraws a request that has not finished yet.
func (s *ServiceRequestService) Cancel(ctx context.Context, actor *models.User, id uint) (*models.ServiceRequest, error) {
	var worker *uint
	var taskID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sr, err := lockForOwnerOrAdmin(tx, actor, id)
		if err != nil {
			return err
		}
		if sr.Status.IsTerminal() {
			return conflict(fmt.Sprintf("Service request is already %s", sr.Status))
		}
		task, err := cancelActiveTask(tx, sr.ID)
		if err != nil {
			return err
		}
		if task != nil {
			worker = task.AssignedToID
			taskID = task.ID
		}
		now := s.now()
		if err := tx.Model(sr).Updates(map[string]interface{}{
			"status":       models.RequestStatusCancelled,
			"cancelled_at": &now,
		}).Error; err != nil {
			return fmt.Errorf("cancel service request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("service request cancelled", zap.Uint("request_id", id), zap.Uint("actor_id", actor.ID))
	if worker != nil {
		s.notifier.Notify(*worker, EventServiceRequestCancelled, map[string]interface{}{
			"service_request_id": id,
			"task_id":            taskID,
		})
	}
	return s.load(ctx, s.db, id)
}
