package services

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"field-service-server/models"
)

const recentItems = 10

// DashboardService computes the read-only per-role summaries.
type DashboardService struct {
	db *gorm.DB
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{db: db}
}

type groupCount struct {
	GroupKey string
	Count    int64
}

// countBy returns row counts of q grouped by column, plus the overall total.
func countBy(q *gorm.DB, column string) (map[string]int64, int64, error) {
	var rows []groupCount
	if err := q.Select(column + " AS group_key, COUNT(*) AS count").Group(column).Scan(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make(map[string]int64, len(rows))
	var total int64
	for _, r := range rows {
		out[r.GroupKey] = r.Count
		total += r.Count
	}
	return out, total, nil
}

func averageRating(q *gorm.DB) (*float64, error) {
	var avg sql.NullFloat64
	if err := q.Select("AVG(rating)").Where("rating IS NOT NULL").Row().Scan(&avg); err != nil {
		return nil, err
	}
	if !avg.Valid {
		return nil, nil
	}
	v := avg.Float64
	return &v, nil
}

func (s *DashboardService) Admin(ctx context.Context, actor *models.User) (*models.AdminDashboard, error) {
	if !actor.IsAdmin() {
		return nil, forbidden("Admin dashboard is only available to admins")
	}
	db := s.db.WithContext(ctx)
	out := &models.AdminDashboard{}

	roles, total, err := countBy(db.Model(&models.User{}), "role")
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	out.UsersTotal = total
	out.UsersAdmins = roles[string(models.RoleAdmin)]
	out.UsersWorkers = roles[string(models.RoleWorker)]
	out.UsersCustomers = roles[string(models.RoleCustomer)]
	if err := db.Model(&models.User{}).
		Where("role = ? AND is_approved = ? AND is_active = ?", models.RoleWorker, false, true).
		Count(&out.WorkersPendingApproval).Error; err != nil {
		return nil, fmt.Errorf("count pending workers: %w", err)
	}

	requests, total, err := countBy(db.Model(&models.ServiceRequest{}), "status")
	if err != nil {
		return nil, fmt.Errorf("count service requests: %w", err)
	}
	out.ServiceRequestsTotal = total
	out.ServiceRequestsOpen = requests[string(models.RequestStatusOpen)]
	out.ServiceRequestsInProgress = requests[string(models.RequestStatusInProgress)]
	out.ServiceRequestsCompleted = requests[string(models.RequestStatusCompleted)]
	out.ServiceRequestsCancelled = requests[string(models.RequestStatusCancelled)]

	tasks, total, err := countBy(db.Model(&models.Task{}), "status")
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	out.TasksTotal = total
	out.TasksAssigned = tasks[string(models.TaskStatusAssigned)]
	out.TasksInProgress = tasks[string(models.TaskStatusInProgress)]
	out.TasksCompleted = tasks[string(models.TaskStatusCompleted)]

	if out.AverageRating, err = averageRating(db.Model(&models.ServiceRequest{})); err != nil {
		return nil, fmt.Errorf("average rating: %w", err)
	}
	return out, nil
}

// Worker summarises the caller's tasks. Cancelled tasks are left out.
func (s *DashboardService) Worker(ctx context.Context, actor *models.User) (*models.WorkerDashboard, error) {
	if !actor.IsWorker() {
		return nil, forbidden("Worker dashboard is only available to field workers")
	}
	db := s.db.WithContext(ctx)

	counts, _, err := countBy(db.Model(&models.Task{}).Where("assigned_to_id = ?", actor.ID), "status")
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	out := &models.WorkerDashboard{
		Assigned:    counts[string(models.TaskStatusAssigned)],
		InProgress:  counts[string(models.TaskStatusInProgress)],
		Completed:   counts[string(models.TaskStatusCompleted)],
		RecentTasks: []models.TaskResponse{},
	}
	out.Total = out.Assigned + out.InProgress + out.Completed

	var recent []models.Task
	if err := preloadTask(db).Where("assigned_to_id = ? AND status <> ?", actor.ID, models.TaskStatusCancelled).
		Order("created_at DESC, id DESC").Limit(recentItems).Find(&recent).Error; err != nil {
		return nil, fmt.Errorf("recent tasks: %w", err)
	}
	for i := range recent {
		out.RecentTasks = append(out.RecentTasks, recent[i].ToResponse())
	}
	return out, nil
}

func (s *DashboardService) Customer(ctx context.Context, actor *models.User) (*models.CustomerDashboard, error) {
	if !actor.IsCustomer() {
		return nil, forbidden("Customer dashboard is only available to customers")
	}
	db := s.db.WithContext(ctx)
	own := func() *gorm.DB {
		return db.Model(&models.ServiceRequest{}).Where("customer_id = ?", actor.ID)
	}

	counts, total, err := countBy(own(), "status")
	if err != nil {
		return nil, fmt.Errorf("count service requests: %w", err)
	}
	out := &models.CustomerDashboard{
		RequestsTotal:      total,
		RequestsOpen:       counts[string(models.RequestStatusOpen)],
		RequestsInProgress: counts[string(models.RequestStatusInProgress)],
		RequestsCompleted:  counts[string(models.RequestStatusCompleted)],
		RequestsCancelled:  counts[string(models.RequestStatusCancelled)],
		RecentRequests:     []models.ServiceRequestResponse{},
	}
	if out.AverageRating, err = averageRating(own()); err != nil {
		return nil, fmt.Errorf("average rating: %w", err)
	}

	var recent []models.ServiceRequest
	if err := preloadRequest(own()).Order("created_at DESC, id DESC").Limit(recentItems).Find(&recent).Error; err != nil {
		return nil, fmt.Errorf("recent requests: %w", err)
	}
	for i := range recent {
		out.RecentRequests = append(out.RecentRequests, recent[i].ToResponse())
	}
	return out, nil
}
