package models

import (
	"time"
)

type ServiceRequestStatus string

const (
	RequestStatusOpen       ServiceRequestStatus = "open"
	RequestStatusInProgress ServiceRequestStatus = "in_progress"
	RequestStatusCompleted  ServiceRequestStatus = "completed"
	RequestStatusCancelled  ServiceRequestStatus = "cancelled"
)

// IsTerminal reports whether no further work can happen on the request.
func (s ServiceRequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusCancelled
}

func (s ServiceRequestStatus) Valid() bool {
	switch s {
	case RequestStatusOpen, RequestStatusInProgress, RequestStatusCompleted, RequestStatusCancelled:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// ServiceRequest is a customer work order.
type ServiceRequest struct {
	ID               uint                 `json:"id" gorm:"primaryKey"`
	CustomerID       uint                 `json:"-" gorm:"not null;index"`
	Customer         User                 `json:"-" gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE"`
	AssignedWorkerID *uint                `json:"-" gorm:"index"`
	AssignedWorker   *User                `json:"-" gorm:"foreignKey:AssignedWorkerID;constraint:OnDelete:SET NULL"`
	Description      string               `json:"description" gorm:"type:text;not null"`
	Location         string               `json:"location" gorm:"size:255;not null"`
	Urgency          Urgency              `json:"urgency" gorm:"type:varchar(10);not null;default:'medium';check:urgency IN ('low','medium','high')"`
	Status           ServiceRequestStatus `json:"status" gorm:"type:varchar(20);not null;default:'open';index;check:status IN ('open','in_progress','completed','cancelled')"`
	Rating           *int                 `json:"rating" gorm:"check:rating IS NULL OR (rating >= 1 AND rating <= 5)"`
	RatingComment    string               `json:"rating_comment" gorm:"type:text"`
	CompletedAt      *time.Time           `json:"completed_at"`
	CancelledAt      *time.Time           `json:"cancelled_at"`
	CreatedAt        time.Time            `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time            `json:"updated_at" gorm:"autoUpdateTime"`

	Tasks []Task `json:"-" gorm:"foreignKey:ServiceRequestID;constraint:OnDelete:CASCADE"`
}

func (ServiceRequest) TableName() string {
	return "service_requests"
}

func (sr *ServiceRequest) IsAssigned() bool {
	return sr.AssignedWorkerID != nil
}

// IsEditableByOwner reports whether the customer may still change or delete it.
func (sr *ServiceRequest) IsEditableByOwner() bool {
	return sr.Status == RequestStatusOpen && !sr.IsAssigned()
}

// ServiceRequestCreate is the body of POST /api/service-requests/.
type ServiceRequestCreate struct {
	Description string  `json:"description" binding:"required,notblank,max=5000"`
	Location    string  `json:"location" binding:"required,notblank,max=255"`
	Urgency     Urgency `json:"urgency" binding:"omitempty,oneof=low medium high"`
}

// ServiceRequestUpdate is the body of PATCH /api/service-requests/{id}/.
// Nil fields are left untouched.
type ServiceRequestUpdate struct {
	Description *string  `json:"description" binding:"omitempty,notblank,max=5000"`
	Location    *string  `json:"location" binding:"omitempty,notblank,max=255"`
	Urgency     *Urgency `json:"urgency" binding:"omitempty,oneof=low medium high"`
}

// RateRequest is the body of POST /api/service-requests/{id}/rate/.
type RateRequest struct {
	Rating  *int   `json:"rating" binding:"required"`
	Comment string `json:"comment" binding:"max=2000"`
}

// ServiceRequestResponse is the API representation of a request.
type ServiceRequestResponse struct {
	ID                  uint                 `json:"id"`
	Customer            *UserSummary         `json:"customer"`
	AssignedFieldWorker *uint                `json:"assigned_field_worker"`
	AssignedWorker      *UserSummary         `json:"assigned_field_worker_detail"`
	Description         string               `json:"description"`
	Location            string               `json:"location"`
	Urgency             Urgency              `json:"urgency"`
	Status              ServiceRequestStatus `json:"status"`
	Rating              *int                 `json:"rating"`
	RatingComment       string               `json:"rating_comment,omitempty"`
	ActiveTaskID        *uint                `json:"active_task_id"`
	CompletedAt         *time.Time           `json:"completed_at"`
	CancelledAt         *time.Time           `json:"cancelled_at"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// ToResponse expects Customer, AssignedWorker and Tasks to be preloaded.
func (sr *ServiceRequest) ToResponse() ServiceRequestResponse {
	resp := ServiceRequestResponse{
		ID:                  sr.ID,
		Customer:            sr.Customer.Summary(),
		AssignedFieldWorker: sr.AssignedWorkerID,
		AssignedWorker:      sr.AssignedWorker.Summary(),
		Description:         sr.Description,
		Location:            sr.Location,
		Urgency:             sr.Urgency,
		Status:              sr.Status,
		Rating:              sr.Rating,
		RatingComment:       sr.RatingComment,
		CompletedAt:         sr.CompletedAt,
		CancelledAt:         sr.CancelledAt,
		CreatedAt:           sr.CreatedAt,
		UpdatedAt:           sr.UpdatedAt,
	}
	for i := range sr.Tasks {
		if sr.Tasks[i].Status.IsActive() {
			id := sr.Tasks[i].ID
			resp.ActiveTaskID = &id
			break
		}
	}
	return resp
}
