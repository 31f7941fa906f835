// Package team manages the public team roster.
package team

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"habitat/server/internal/apperror"
	"habitat/server/internal/auth"
	"habitat/server/internal/models"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// Fields is a create or partial update. Nil fields are left unchanged.
type Fields struct {
	Name     *string `json:"name"`
	Position *string `json:"position"`
	ImageURL *string `json:"image_url"`
	Order    *int    `json:"order"`
}

type Service struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewService(db *gorm.DB, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Service{db: db, logger: logger}
}

// List returns members by display order. Members without an order come last.
func (s *Service) List(ctx context.Context, skip, limit int) ([]models.TeamMember, error) {
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

	var members []models.TeamMember
	err := s.db.WithContext(ctx).
		Order("CASE WHEN sort_order IS NULL THEN 1 ELSE 0 END").
		Order("sort_order ASC").
		Order("id ASC").
		Offset(skip).
		Limit(limit).
		Find(&members).Error
	if err != nil {
		s.logger.WithError(err).Error("Failed to list team members")
		return nil, apperror.Internal(err, "failed to list team members")
	}
	return members, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.TeamMember, error) {
	var member models.TeamMember
	if err := s.db.WithContext(ctx).First(&member, id).Error; err != nil {
		return nil, apperror.FromStore(err, "team member")
	}
	return &member, nil
}

func (s *Service) Create(ctx context.Context, fields Fields, caller auth.Caller) (*models.TeamMember, error) {
	admin, err := auth.RequireRole(caller, auth.AdminOnly...)
	if err != nil {
		return nil, err
	}

	var member models.TeamMember
	fields.apply(&member)
	if member.Name == "" {
		return nil, apperror.InvalidInput("name is required")
	}

	if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
		s.logger.WithError(err).Error("Failed to create team member")
		return nil, apperror.Internal(err, "failed to create team member")
	}

	s.logger.WithFields(logrus.Fields{
		"member_id": member.ID,
		"by":        admin.Username,
	}).Info("Created team member")
	return &member, nil
}

func (s *Service) Update(ctx context.Context, id int64, fields Fields, caller auth.Caller) (*models.TeamMember, error) {
	if _, err := auth.RequireRole(caller, auth.AdminOnly...); err != nil {
		return nil, err
	}

	var member models.TeamMember
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&member, id).Error; err != nil {
			return apperror.FromStore(err, "team member")
		}
		fields.apply(&member)
		if member.Name == "" {
			return apperror.InvalidInput("name cannot be empty")
		}
		if err := tx.Save(&member).Error; err != nil {
			return apperror.Internal(err, "failed to update team member")
		}
		return nil
	})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindInternal {
			s.logger.WithError(err).WithField("member_id", id).Error("Failed to update team member")
		}
		return nil, err
	}
	return &member, nil
}

func (s *Service) Delete(ctx context.Context, id int64, caller auth.Caller) error {
	admin, err := auth.RequireRole(caller, auth.AdminOnly...)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Delete(&models.TeamMember{}, id)
	if result.Error != nil {
		s.logger.WithError(result.Error).WithField("member_id", id).Error("Failed to delete team member")
		return apperror.Internal(result.Error, "failed to delete team member")
	}
	if result.RowsAffected == 0 {
		return apperror.NotFound("team member not found")
	}

	s.logger.WithFields(logrus.Fields{
		"member_id": id,
		"by":        admin.Username,
	}).Info("Deleted team member")
	return nil
}

func (f Fields) apply(m *models.TeamMember) {
	if f.Name != nil {
		m.Name = strings.TrimSpace(*f.Name)
	}
	if f.Position != nil {
		m.Position = f.Position
	}
	if f.ImageURL != nil {
		m.ImageURL = f.ImageURL
	}
	if f.Order != nil {
		m.Order = f.Order
	}
}
