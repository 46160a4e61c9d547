package models

import (
	"time"
)

type TaskStatus string

const (
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	// TaskStatusCancelled is only ever set by the system, when a request is
	// unassigned or cancelled.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// taskTransitions lists the moves a worker may make.
var taskTransitions = map[TaskStatus]TaskStatus{
	TaskStatusAssigned:   TaskStatusInProgress,
	TaskStatusInProgress: TaskStatusCompleted,
}

// CanTransition reports whether a worker may move a task from s to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	want, ok := taskTransitions[s]
	return ok && want == next
}

func (s TaskStatus) IsActive() bool {
	return s == TaskStatusAssigned || s == TaskStatusInProgress
}

// WorkerSettable reports whether a worker may request this status at all.
func (s TaskStatus) WorkerSettable() bool {
	switch s {
	case TaskStatusAssigned, TaskStatusInProgress, TaskStatusCompleted:
		return true
	}
	return false
}

type Task struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	ServiceRequestID uint           `json:"-" gorm:"not null;index"`
	ServiceRequest   ServiceRequest `json:"-" gorm:"foreignKey:ServiceRequestID"`
	AssignedToID     *uint          `json:"-" gorm:"index"`
	AssignedTo       *User          `json:"-" gorm:"foreignKey:AssignedToID;constraint:OnDelete:SET NULL"`
	Status           TaskStatus     `json:"status" gorm:"type:varchar(20);not null;default:'assigned';index;check:status IN ('assigned','in_progress','completed','cancelled')"`
	Notes            string         `json:"notes" gorm:"type:text"`

	ProofURL         string `json:"proof_url" gorm:"size:500"`
	ProofPath        string `json:"-" gorm:"size:500"`
	ProofContentType string `json:"proof_content_type" gorm:"size:100"`
	ProofSize        int64  `json:"proof_size"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Task) TableName() string {
	return "tasks"
}

func (t *Task) HasProof() bool {
	return t.ProofURL != ""
}

type SetTaskStatusRequest struct {
	Status TaskStatus `json:"status" binding:"required"`
}

type TaskResponse struct {
	ID                 uint                 `json:"id"`
	ServiceRequestID   uint                 `json:"service_request"`
	ServiceRequestStat ServiceRequestStatus `json:"service_request_status"`
	Description        string               `json:"description"`
	Location           string               `json:"location"`
	AssignedTo         *UserSummary         `json:"assigned_to"`
	Status             TaskStatus           `json:"status"`
	Notes              string               `json:"notes"`
	ProofURL           string               `json:"proof_upload"`
	ProofContentType   string               `json:"proof_content_type,omitempty"`
	ProofSize          int64                `json:"proof_size,omitempty"`
	StartedAt          *time.Time           `json:"started_at"`
	CompletedAt        *time.Time           `json:"completed_at"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// ToResponse expects ServiceRequest and AssignedTo to be preloaded. A task
// whose worker account was deleted reports a null assigned_to.
func (t *Task) ToResponse() TaskResponse {
	return TaskResponse{
		ID:                 t.ID,
		ServiceRequestID:   t.ServiceRequestID,
		ServiceRequestStat: t.ServiceRequest.Status,
		Description:        t.ServiceRequest.Description,
		Location:           t.ServiceRequest.Location,
		AssignedTo:         t.AssignedTo.Summary(),
		Status:             t.Status,
		Notes:              t.Notes,
		ProofURL:           t.ProofURL,
		ProofContentType:   t.ProofContentType,
		ProofSize:          t.ProofSize,
		StartedAt:          t.StartedAt,
		CompletedAt:        t.CompletedAt,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}
