// Package contact records contact-form submissions and lets staff triage and
// forward them.
package contact

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"habitat/server/internal/apperror"
	"habitat/server/internal/auth"
	"habitat/server/internal/models"
	"habitat/server/internal/notify"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500

	// RecipientSettingKey names the site setting that holds the default
	// forwarding address in value.text.
	RecipientSettingKey = "contact_email"
)

type Submission struct {
	Name       string  `json:"name"`
	Email      *string `json:"email"`
	Phone      *string `json:"phone"`
	Subject    *string `json:"subject"`
	Message    string  `json:"message"`
	PropertyID *int64  `json:"property_id"`
}

// Changes is the triage update. AssignedToID 0 clears the assignment.
type Changes struct {
	IsRead       *bool  `json:"is_read"`
	AssignedToID *int64 `json:"assigned_to_id"`
}

// SettingReader resolves text settings.
type SettingReader interface {
	Text(ctx context.Context, key string) (string, error)
}

// Alerter is told about every new submission.
type Alerter interface {
	NotifyNewContact(ctx context.Context, contact *models.Contact) error
}

type Service struct {
	db       *gorm.DB
	logger   *logrus.Logger
	mailer   notify.Mailer
	settings SettingReader
	alerter  Alerter
	now      func() time.Time
}

func NewService(db *gorm.DB, mailer notify.Mailer, settings SettingReader, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if mailer == nil {
		mailer = notify.DisabledMailer{}
	}
	return &Service{
		db:       db,
		logger:   logger,
		mailer:   mailer,
		settings: settings,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *Service) SetAlerter(alerter Alerter) {
	s.alerter = alerter
}

// Submit stores a public submission. No authentication is required.
func (s *Service) Submit(ctx context.Context, sub Submission) (*models.Contact, error) {
	contact := models.Contact{
		Name:        strings.TrimSpace(sub.Name),
		Email:       trimmed(sub.Email),
		Phone:       trimmed(sub.Phone),
		Subject:     trimmed(sub.Subject),
		Message:     strings.TrimSpace(sub.Message),
		PropertyID:  sub.PropertyID,
		SubmittedAt: s.now(),
	}
	if contact.Name == "" {
		return nil, apperror.InvalidInput("name is required")
	}
	if contact.Message == "" {
		return nil, apperror.InvalidInput("message is required")
	}

	db := s.db.WithContext(ctx)
	if contact.PropertyID != nil {
		var count int64
		// Submitters are anonymous: listings outside the public catalog look missing.
		err := db.Model(&models.Property{}).
			Where("id = ? AND status = ?", *contact.PropertyID, models.PropertyStatusAvailable).
			Count(&count).Error
		if err != nil {
			s.logger.WithError(err).Error("Failed to check contact property")
			return nil, apperror.Internal(err, "failed to save contact")
		}
		if count == 0 {
			return nil, apperror.InvalidInput("property %d is not available", *contact.PropertyID)
		}
	}

	if err := db.Omit("AssignedTo").Create(&contact).Error; err != nil {
		s.logger.WithError(err).Error("Failed to save contact")
		return nil, apperror.Internal(err, "failed to save contact")
	}

	s.logger.WithField("contact_id", contact.ID).Info("Received contact submission")

	if s.alerter != nil {
		if err := s.alerter.NotifyNewContact(ctx, &contact); err != nil {
			s.logger.WithError(err).WithField("contact_id", contact.ID).Warn("Failed to send contact alert")
		}
	}
	return &contact, nil
}

// List returns submissions newest first.
func (s *Service) List(ctx context.Context, skip, limit int, caller auth.Caller) ([]models.Contact, error) {
	if _, err := auth.RequireRole(caller, auth.StaffOrAbove...); err != nil {
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

	var contacts []models.Contact
	err := s.db.WithContext(ctx).
		Preload("AssignedTo").
		Order("submitted_at DESC").
		Order("id DESC").
		Offset(skip).
		Limit(limit).
		Find(&contacts).Error
	if err != nil {
		s.logger.WithError(err).Error("Failed to list contacts")
		return nil, apperror.Internal(err, "failed to list contacts")
	}
	return contacts, nil
}

func (s *Service) Get(ctx context.Context, id int64, caller auth.Caller) (*models.Contact, error) {
	if _, err := auth.RequireRole(caller, auth.StaffOrAbove...); err != nil {
		return nil, err
	}
	return s.find(s.db.WithContext(ctx), id)
}

// Update changes the read flag and assignment. Nothing else is mutable.
func (s *Service) Update(ctx context.Context, id int64, changes Changes, caller auth.Caller) (*models.Contact, error) {
	user, err := auth.RequireRole(caller, auth.ManagerOrAbove...)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.find(tx, id); err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if changes.IsRead != nil {
			updates["is_read"] = *changes.IsRead
		}
		if changes.AssignedToID != nil {
			if *changes.AssignedToID == 0 {
				updates["assigned_to_id"] = nil
			} else {
				var count int64
				if err := tx.Model(&models.User{}).Where("id = ?", *changes.AssignedToID).Count(&count).Error; err != nil {
					return apperror.Internal(err, "failed to look up assignee")
				}
				if count == 0 {
					return apperror.InvalidInput("assigned user %d does not exist", *changes.AssignedToID)
				}
				updates["assigned_to_id"] = *changes.AssignedToID
			}
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&models.Contact{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return apperror.Internal(err, "failed to update contact")
		}
		return nil
	})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindInternal {
			s.logger.WithError(err).WithField("contact_id", id).Error("Failed to update contact")
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"contact_id": id,
		"user":       user.Username,
	}).Info("Updated contact")

	return s.find(s.db.WithContext(ctx), id)
}

// Forward emails a submission. The recipient is override when given, else the
// contact_email setting, else the caller's own address. It returns the
// address used.
func (s *Service) Forward(ctx context.Context, id int64, override string, caller auth.Caller) (string, error) {
	user, err := auth.RequireRole(caller, auth.StaffOrAbove...)
	if err != nil {
		return "", err
	}

	contact, err := s.find(s.db.WithContext(ctx), id)
	if err != nil {
		return "", err
	}

	recipient := strings.TrimSpace(override)
	if recipient == "" && s.settings != nil {
		configured, err := s.settings.Text(ctx, RecipientSettingKey)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to read contact_email setting")
		}
		recipient = configured
	}
	if recipient == "" {
		recipient = strings.TrimSpace(user.Email)
	}
	if recipient == "" {
		return "", apperror.InvalidInput("no recipient email available")
	}

	msg := notify.Message{
		To:      recipient,
		Subject: forwardSubject(contact),
		Body:    forwardBody(contact),
	}
	if contact.Email != nil {
		msg.ReplyTo = *contact.Email
	}

	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"contact_id": id,
			"recipient":  recipient,
		}).Error("Failed to forward contact")
		return "", apperror.DeliveryFailed(err, "failed to send email")
	}

	s.logger.WithFields(logrus.Fields{
		"contact_id": id,
		"recipient":  recipient,
		"user":       user.Username,
	}).Info("Forwarded contact")
	return recipient, nil
}

func (s *Service) find(db *gorm.DB, id int64) (*models.Contact, error) {
	var contact models.Contact
	if err := db.Preload("AssignedTo").First(&contact, id).Error; err != nil {
		return nil, apperror.FromStore(err, "contact")
	}
	return &contact, nil
}

func forwardSubject(c *models.Contact) string {
	if c.Subject != nil && *c.Subject != "" {
		return fmt.Sprintf("Contact #%d: %s", c.ID, *c.Subject)
	}
	return fmt.Sprintf("Contact #%d from %s", c.ID, c.Name)
}

func forwardBody(c *models.Contact) string {
	value := func(s *string) string {
		if s == nil || *s == "" {
			return "-"
		}
		return *s
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", c.Name)
	fmt.Fprintf(&b, "Email: %s\n", value(c.Email))
	fmt.Fprintf(&b, "Phone: %s\n", value(c.Phone))
	fmt.Fprintf(&b, "Subject: %s\n", value(c.Subject))
	if c.PropertyID != nil {
		fmt.Fprintf(&b, "Property: #%d\n", *c.PropertyID)
	}
	fmt.Fprintf(&b, "Submitted: %s\n\n", c.SubmittedAt.UTC().Format("2006-01-02 15:04 MST"))
	b.WriteString(c.Message)
	b.WriteString("\n")
	return b.String()
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
