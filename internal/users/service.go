// Package users manages staff accounts and password login.
package users

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"habitat/server/internal/apperror"
	"habitat/server/internal/auth"
	"habitat/server/internal/models"
)

const (
	DefaultLimit      = 100
	MaxLimit          = 500
	MinPasswordLength = 8
)

type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type CreateRequest struct {
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
}

type UpdateRequest struct {
	Username *string      `json:"username"`
	Email    *string      `json:"email"`
	Password *string      `json:"password"`
	Role     *models.Role `json:"role"`
}

type Service struct {
	db     *gorm.DB
	hasher *auth.Hasher
	tokens *auth.TokenService
	logger *logrus.Logger
}

func NewService(db *gorm.DB, hasher *auth.Hasher, tokens *auth.TokenService, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Service{db: db, hasher: hasher, tokens: tokens, logger: logger}
}

// Authenticate checks a username and password and issues a bearer token.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Token, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if err != nil {
		if apperror.Is(apperror.FromStore(err, "user"), apperror.KindNotFound) {
			return nil, apperror.Unauthenticated("incorrect username or password")
		}
		s.logger.WithError(err).Error("Failed to load user for login")
		return nil, apperror.Internal(err, "failed to authenticate")
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.logger.WithField("username", user.Username).Warn("Rejected login attempt")
		return nil, apperror.Unauthenticated("incorrect username or password")
	}

	token, expiresAt, err := s.tokens.Issue(user.Username)
	if err != nil {
		s.logger.WithError(err).Error("Failed to issue token")
		return nil, apperror.Internal(err, "failed to issue token")
	}
	return &Token{AccessToken: token, TokenType: "bearer", ExpiresAt: expiresAt}, nil
}

// Me returns the authenticated caller's own account.
func (s *Service) Me(caller auth.Caller) (*models.User, error) {
	return auth.RequireUser(caller)
}

func (s *Service) List(ctx context.Context, skip, limit int, caller auth.Caller) ([]models.User, error) {
	if _, err := auth.RequireRole(caller, auth.AdminOnly...); err != nil {
		return nil, err
	}
	if skip < 0 {
		return nil, apperror.InvalidInput("skip must not be negative")
	}
	switch {
	case limit < 0:
		return nil, apperror.InvalidInput("limit must be positive")
	case limit == 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	var users []models.User
	if err := s.db.WithContext(ctx).Order("id ASC").Offset(skip).Limit(limit).Find(&users).Error; err != nil {
		s.logger.WithError(err).Error("Failed to list users")
		return nil, apperror.Internal(err, "failed to list users")
	}
	return users, nil
}

func (s *Service) Get(ctx context.Context, id int64, caller auth.Caller) (*models.User, error) {
	if _, err := auth.RequireRole(caller, auth.AdminOnly...); err != nil {
		return nil, err
	}
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, apperror.FromStore(err, "user")
	}
	return &user, nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest, caller auth.Caller) (*models.User, error) {
	admin, err := auth.RequireRole(caller, auth.AdminOnly...)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Role:     req.Role,
	}
	if user.Role == "" {
		user.Role = models.RoleStaff
	}
	if err := validate(user.Username, user.Email, user.Role); err != nil {
		return nil, err
	}
	if len(req.Password) < MinPasswordLength {
		return nil, apperror.InvalidInput("password must be at least %d characters", MinPasswordLength)
	}

	user.PasswordHash, err = s.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperror.Internal(err, "failed to hash password")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUnique(tx, 0, user.Username, user.Email); err != nil {
			return err
		}
		if err := tx.Create(&user).Error; err != nil {
			return apperror.Internal(err, "failed to create user")
		}
		return nil
	})
	if err != nil {
		s.logFailure(err, "Failed to create user")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    user.Role,
		"by":      admin.Username,
	}).Info("Created user")
	return &user, nil
}

func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest, caller auth.Caller) (*models.User, error) {
	admin, err := auth.RequireRole(caller, auth.AdminOnly...)
	if err != nil {
		return nil, err
	}
	if req.Password != nil && len(*req.Password) < MinPasswordLength {
		return nil, apperror.InvalidInput("password must be at least %d characters", MinPasswordLength)
	}

	var user models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			return apperror.FromStore(err, "user")
		}

		if req.Username != nil {
			user.Username = strings.TrimSpace(*req.Username)
		}
		if req.Email != nil {
			user.Email = strings.TrimSpace(*req.Email)
		}
		if req.Role != nil {
			user.Role = *req.Role
		}
		if err := validate(user.Username, user.Email, user.Role); err != nil {
			return err
		}
		if err := checkUnique(tx, user.ID, user.Username, user.Email); err != nil {
			return err
		}
		if req.Password != nil {
			digest, err := s.hasher.Hash(*req.Password)
			if err != nil {
				return apperror.Internal(err, "failed to hash password")
			}
			user.PasswordHash = digest
		}

		if err := tx.Save(&user).Error; err != nil {
			return apperror.Internal(err, "failed to update user")
		}
		return nil
	})
	if err != nil {
		s.logFailure(err, "Failed to update user")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"by":      admin.Username,
	}).Info("Updated user")
	return &user, nil
}

// Delete removes a user. Properties and contacts that referenced the user are
// kept with the reference cleared.
func (s *Service) Delete(ctx context.Context, id int64, caller auth.Caller) error {
	admin, err := auth.RequireRole(caller, auth.AdminOnly...)
	if err != nil {
		return err
	}
	if admin.ID == id {
		return apperror.InvalidInput("you cannot delete your own account")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Select("id").First(&user, id).Error; err != nil {
			return apperror.FromStore(err, "user")
		}
		if err := tx.Model(&models.Property{}).Where("assigned_to_id = ?", id).Update("assigned_to_id", nil).Error; err != nil {
			return apperror.Internal(err, "failed to unassign properties")
		}
		if err := tx.Model(&models.Property{}).Where("created_by_user_id = ?", id).Update("created_by_user_id", nil).Error; err != nil {
			return apperror.Internal(err, "failed to detach properties")
		}
		if err := tx.Model(&models.Contact{}).Where("assigned_to_id = ?", id).Update("assigned_to_id", nil).Error; err != nil {
			return apperror.Internal(err, "failed to unassign contacts")
		}
		if err := tx.Delete(&models.User{}, id).Error; err != nil {
			return apperror.Internal(err, "failed to delete user")
		}
		return nil
	})
	if err != nil {
		s.logFailure(err, "Failed to delete user")
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": id,
		"by":      admin.Username,
	}).Info("Deleted user")
	return nil
}

// EnsureAdmin creates an admin account when no user exists yet. It reports
// whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, email, password string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if password == "" {
		s.logger.Warn("No users exist and ADMIN_PASSWORD is empty, skipping admin seed")
		return false, nil
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return false, err
	}
	user := models.User{Username: username, Email: email, PasswordHash: digest, Role: models.RoleAdmin}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return false, err
	}

	s.logger.WithField("username", username).Info("Created initial admin user")
	return true, nil
}

func (s *Service) logFailure(err error, msg string) {
	if apperror.KindOf(err) == apperror.KindInternal {
		s.logger.WithError(err).Error(msg)
	}
}

func validate(username, email string, role models.Role) error {
	if username == "" {
		return apperror.InvalidInput("username is required")
	}
	if len(username) > 150 {
		return apperror.InvalidInput("username is longer than 150 characters")
	}
	if email == "" || !strings.Contains(email, "@") {
		return apperror.InvalidInput("a valid email is required")
	}
	if !role.Valid() {
		return apperror.InvalidInput("unknown role %q", role)
	}
	return nil
}

func checkUnique(tx *gorm.DB, selfID int64, username, email string) error {
	var count int64
	if err := tx.Model(&models.User{}).Where("username = ? AND id <> ?", username, selfID).Count(&count).Error; err != nil {
		return apperror.Internal(err, "failed to check username")
	}
	if count > 0 {
		return apperror.Conflict("username %q is already registered", username)
	}
	if err := tx.Model(&models.User{}).Where("email = ? AND id <> ?", email, selfID).Count(&count).Error; err != nil {
		return apperror.Internal(err, "failed to check email")
	}
	if count > 0 {
		return apperror.Conflict("email %q is already registered", email)
	}
	return nil
}
