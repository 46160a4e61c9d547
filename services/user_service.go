package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"field-service-server/config"
	"field-service-server/models"
)

// TokenRevoker invalidates every refresh token a user holds.
type TokenRevoker interface {
	RevokeAllUserTokens(ctx context.Context, userID uint) error
}

type UserService struct {
	db       *gorm.DB
	cfg      config.AuthConfig
	log      *zap.Logger
	tokens   TokenRevoker
	notifier Notifier
	cost     int
}

func NewUserService(db *gorm.DB, cfg config.AuthConfig, log *zap.Logger, tokens TokenRevoker, notifier Notifier) *UserService {
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &UserService{
		db:       db,
		cfg:      cfg,
		log:      log.Named("users"),
		tokens:   tokens,
		notifier: notifierOrNop(notifier),
		cost:     cost,
	}
}

type RegisterInput struct {
	Username  string `json:"username" binding:"required,min=3,max=150,username"`
	Password        string `json:"password" binding:"required,min=8,max=128"`
	PasswordConfirm string `json:"password_confirm" binding:"required"`
	Email           string `json:"email" binding:"omitempty,email,max=254"`
	FirstName       string `json:"first_name" binding:"max=150"`
	LastName        string `json:"last_name" binding:"max=150"`
	Phone           string `json:"phone_number" binding:"omitempty,max=20"`
	Role            string `json:"role"`
}

type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type ProfileUpdate struct {
	Email     *string `json:"email" binding:"omitempty,email,max=254"`
	FirstName *string `json:"first_name" binding:"omitempty,max=150"`
	LastName  *string `json:"last_name" binding:"omitempty,max=150"`
	Phone     *string `json:"phone_number" binding:"omitempty,max=20"`
}

type UserFilter struct {
	Role       models.UserRole
	IsApproved *bool
}

func (s *UserService) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Register creates an account. Workers need a phone number and start
// unapproved. Admin accounts can only be self-registered when enabled.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if in.Password != in.PasswordConfirm {
		return nil, invalid("", "Passwords don't match.")
	}
	role, ok := models.ParseRole(in.Role)
	if !ok {
		return nil, invalid("role", "Role must be one of customer, worker, admin")
	}
	if role == models.RoleAdmin && !s.cfg.AllowAdminRegistration {
		return nil, forbidden("Admin accounts cannot be self-registered")
	}
	phone := strings.TrimSpace(in.Phone)
	if role == models.RoleWorker && phone == "" {
		return nil, invalid("phone_number", "Phone number is required for field workers.")
	}

	username := strings.TrimSpace(in.Username)
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if count > 0 {
		return nil, conflict("A user with that username already exists")
	}

	hash, err := s.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        strings.TrimSpace(in.Email),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Phone:        phone,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, conflict("A user with that username already exists")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("user registered", zap.Uint("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// Authenticate checks credentials. Unknown user and wrong password look the
// same to the caller.
func (s *UserService) Authenticate(ctx context.Context, in LoginInput) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(in.Username)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !CheckPasswordHash(in.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, forbidden("User account is deactivated")
	}
	return &user, nil
}

func (s *UserService) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, user *models.User, in ProfileUpdate) (*models.User, error) {
	updates := map[string]interface{}{}
	if in.Email != nil {
		updates["email"] = strings.TrimSpace(*in.Email)
	}
	if in.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*in.LastName)
	}
	if in.Phone != nil {
		phone := strings.TrimSpace(*in.Phone)
		if phone == "" && user.IsWorker() {
			return nil, invalid("phone_number", "Phone number is required for field workers.")
		}
		updates["phone"] = phone
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update profile: %w", err)
		}
	}
	return s.GetByID(ctx, user.ID)
}

func (s *UserService) List(ctx context.Context, filter UserFilter, page Page) ([]models.User, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.User{})
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	if filter.IsApproved != nil {
		q = q.Where("is_approved = ?", *filter.IsApproved)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	var users []models.User
	if err := q.Order("id ASC").Offset(page.Offset()).Limit(page.Limit).Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

// Approve marks a field worker as assignable.
func (s *UserService) Approve(ctx context.Context, id uint) (*models.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.IsWorker() {
		return nil, invalid("role", "Only field workers require approval")
	}
	if err := s.db.WithContext(ctx).Model(user).Update("is_approved", true).Error; err != nil {
		return nil, fmt.Errorf("approve user: %w", err)
	}
	s.log.Info("worker approved", zap.Uint("user_id", id))
	return s.GetByID(ctx, id)
}

// Reject withdraws a worker's approval and deactivates the account. Any
// work the worker still holds goes back to the open queue.
func (s *UserService) Reject(ctx context.Context, id uint) (*models.User, error) {
	var released []models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, id)
		if err != nil {
			return err
		}
		if !user.IsWorker() {
			return invalid("role", "Only field workers can be rejected")
		}
		if err := tx.Model(user).Updates(map[string]interface{}{
			"is_approved": false,
			"is_active":   false,
		}).Error; err != nil {
			return fmt.Errorf("reject user: %w", err)
		}
		released, err = releaseWorker(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("worker rejected", zap.Uint("user_id", id), zap.Int("released_tasks", len(released)))
	if err := s.afterDeactivation(ctx, id, released); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// ToggleActive flips is_active. Deactivating an account signs it out
// everywhere and releases a worker's open tasks.
func (s *UserService) ToggleActive(ctx context.Context, actor *models.User, id uint) (*models.User, error) {
	if actor.ID == id {
		return nil, invalid("id", "You cannot deactivate your own account")
	}
	var (
		deactivated bool
		released    []models.Task
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, id)
		if err != nil {
			return err
		}
		deactivated = user.IsActive
		if err := tx.Model(user).Update("is_active", !user.IsActive).Error; err != nil {
			return fmt.Errorf("toggle active: %w", err)
		}
		if deactivated && user.IsWorker() {
			released, err = releaseWorker(tx, id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("user active flag toggled", zap.Uint("user_id", id), zap.Bool("is_active", !deactivated))
	if deactivated {
		if err := s.afterDeactivation(ctx, id, released); err != nil {
			return nil, err
		}
	}
	return s.GetByID(ctx, id)
}

func lockUser(tx *gorm.DB, id uint) (*models.User, error) {
	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}

// afterDeactivation revokes the user's refresh tokens and tells them which
// tasks were taken away.
func (s *UserService) afterDeactivation(ctx context.Context, id uint, released []models.Task) error {
	for _, t := range released {
		s.notifier.Notify(id, EventTaskUnassigned, map[string]interface{}{
			"task_id":            t.ID,
			"service_request_id": t.ServiceRequestID,
		})
	}
	if s.tokens == nil {
		return nil
	}
	if err := s.tokens.RevokeAllUserTokens(ctx, id); err != nil {
		return fmt.Errorf("revoke tokens for user %d: %w", id, err)
	}
	return nil
}

// EnsureAdmin creates the bootstrap admin if no user holds the username yet.
// It reports whether a user was created.
func (s *UserService) EnsureAdmin(ctx context.Context, username, password, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	admin := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}
	if err := s.db.WithContext(ctx).Create(admin).Error; err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}
