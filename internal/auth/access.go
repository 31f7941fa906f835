package auth

import (
	"context"
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"habitat/server/internal/apperror"
	"habitat/server/internal/models"
)

// Explicit role sets. Roles are not nested; each operation names the roles it
// accepts.
var (
	StaffOrAbove   = []models.Role{models.RoleAdmin, models.RoleManager, models.RoleStaff}
	ManagerOrAbove = []models.Role{models.RoleAdmin, models.RoleManager}
	AdminOnly      = []models.Role{models.RoleAdmin}
)

// Resolver turns bearer tokens into callers.
type Resolver struct {
	db     *gorm.DB
	tokens *TokenService
	logger *logrus.Logger
}

func NewResolver(db *gorm.DB, tokens *TokenService, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Resolver{db: db, tokens: tokens, logger: logger}
}

// ResolveCaller never fails. Missing, malformed, expired or foreign tokens and
// subjects without a user all resolve to Anonymous.
func (r *Resolver) ResolveCaller(ctx context.Context, token string) Caller {
	if token == "" {
		return Anonymous()
	}

	username, err := r.tokens.Subject(token)
	if err != nil {
		r.logger.WithError(err).Debug("Rejected bearer token")
		return Anonymous()
	}

	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			r.logger.WithError(err).WithField("username", username).Error("Failed to load token subject")
		}
		return Anonymous()
	}

	return Authenticated(&user)
}

// RequireRole returns the caller's user when its role is one of roles.
func RequireRole(caller Caller, roles ...models.Role) (*models.User, error) {
	user, ok := caller.User()
	if !ok {
		return nil, apperror.Unauthenticated("not authenticated")
	}
	if !user.HasRole(roles...) {
		return nil, apperror.Unauthorized("insufficient permissions")
	}
	return user, nil
}

// RequireUser returns the caller's user for operations open to any role.
func RequireUser(caller Caller) (*models.User, error) {
	user, ok := caller.User()
	if !ok {
		return nil, apperror.Unauthenticated("not authenticated")
	}
	return user, nil
}
