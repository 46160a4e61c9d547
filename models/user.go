package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type UserRole string

const (
	RoleCustomer UserRole = "customer"
	RoleWorker   UserRole = "worker"
	RoleAdmin    UserRole = "admin"
)

// ParseRole maps a client supplied role to a UserRole. "field_worker" is
// accepted as an alias of worker. Empty input means customer.
func ParseRole(s string) (UserRole, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(RoleCustomer):
		return RoleCustomer, true
	case string(RoleWorker), "field_worker":
		return RoleWorker, true
	case string(RoleAdmin):
		return RoleAdmin, true
	default:
		return "", false
	}
}

type User struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Username     string    `json:"username" gorm:"size:150;uniqueIndex;not null"`
	Email        string    `json:"email" gorm:"size:254"`
	FirstName    string    `json:"first_name" gorm:"size:150"`
	LastName     string    `json:"last_name" gorm:"size:150"`
	Phone        string    `json:"phone_number" gorm:"size:20"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"`
	Role         UserRole  `json:"role" gorm:"type:varchar(20);not null;default:'customer';check:role IN ('customer','worker','admin')"`
	IsApproved   bool      `json:"is_approved" gorm:"not null;default:false"`
	IsActive     bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate defaults the role and approves everyone except workers.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.Role == "" {
		u.Role = RoleCustomer
	}
	if u.Role != RoleWorker {
		u.IsApproved = true
	}
	return nil
}

func (u *User) IsWorker() bool {
	return u.Role == RoleWorker
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) IsCustomer() bool {
	return u.Role == RoleCustomer
}

// UserSummary is the compact form embedded in request and task payloads.
type UserSummary struct {
	ID       uint     `json:"id"`
	Username string   `json:"username"`
	FullName string   `json:"full_name,omitempty"`
	Role     UserRole `json:"role"`
}

func (u *User) Summary() *UserSummary {
	if u == nil || u.ID == 0 {
		return nil
	}
	return &UserSummary{
		ID:       u.ID,
		Username: u.Username,
		FullName: strings.TrimSpace(u.FirstName + " " + u.LastName),
		Role:     u.Role,
	}
}
