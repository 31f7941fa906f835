// Package property implements listing visibility, search and the property
// gallery aggregate.
package property

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"habitat/server/internal/apperror"
	"habitat/server/internal/auth"
	"habitat/server/internal/models"
)

// Geocoder resolves a free-text location to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (lat, lon float64, err error)
}

// Indexer mirrors listings into an external search index.
type Indexer interface {
	Sync(ctx context.Context, property *models.Property) error
	Remove(ctx context.Context, id int64) error
}

// Fields are the scalar listing attributes. Nil means "not provided".
type Fields struct {
	Title        *string                `json:"title"`
	Description  *string                `json:"description"`
	Price        *float64               `json:"price"`
	Location     *string                `json:"location"`
	PropertyType *string                `json:"property_type"`
	ListingType  *string                `json:"listing_type"`
	Bedrooms     *int                   `json:"bedrooms"`
	Bathrooms    *int                   `json:"bathrooms"`
	Area         *float64               `json:"area"`
	ImageURL     *string                `json:"image_url"`
	Latitude     *float64               `json:"latitude"`
	Longitude    *float64               `json:"longitude"`
	IsFeatured   *bool                  `json:"is_featured"`
	Status       *models.PropertyStatus `json:"status"`
	AssignedToID *int64                 `json:"assigned_to_id"`
}

type CreateRequest struct {
	Fields
	AdditionalImageURLs []string `json:"additional_image_urls"`
}

type UpdateRequest struct {
	Fields
	AdditionalImageURLs []string `json:"additional_image_urls"`
	DeleteImageIDs      []int64  `json:"delete_image_ids"`
}

type Service struct {
	db       *gorm.DB
	logger   *logrus.Logger
	geocoder Geocoder
	indexer  Indexer
	now      func() time.Time
}

func NewService(db *gorm.DB, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Service{
		db:     db,
		logger: logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *Service) SetGeocoder(geocoder Geocoder) {
	s.geocoder = geocoder
}

func (s *Service) SetIndexer(indexer Indexer) {
	s.indexer = indexer
}

// List returns the listings caller may see that match criteria, newest first.
func (s *Service) List(ctx context.Context, criteria Criteria, caller auth.Caller) ([]models.Property, error) {
	if err := criteria.Normalize(); err != nil {
		return nil, err
	}

	var properties []models.Property
	err := s.db.WithContext(ctx).
		Model(&models.Property{}).
		Scopes(visibleTo(caller), criteria.matching(), newestFirst, withGallery).
		Offset(criteria.Skip).
		Limit(criteria.Limit).
		Find(&properties).Error
	if err != nil {
		s.logger.WithError(err).Error("Failed to list properties")
		return nil, apperror.Internal(err, "failed to list properties")
	}
	return properties, nil
}

// Get returns one listing. Listings hidden from caller are reported as not
// found.
func (s *Service) Get(ctx context.Context, id int64, caller auth.Caller) (*models.Property, error) {
	var property models.Property
	err := s.db.WithContext(ctx).
		Scopes(visibleTo(caller), withGallery).
		Where("properties.id = ?", id).
		First(&property).Error
	if err != nil {
		return nil, apperror.FromStore(err, "property")
	}
	return &property, nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest, caller auth.Caller) (*models.Property, error) {
	user, err := auth.RequireRole(caller, auth.ManagerOrAbove...)
	if err != nil {
		return nil, err
	}
	if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
		return nil, apperror.InvalidInput("title is required")
	}
	if err := validateFields(req.Fields); err != nil {
		return nil, err
	}
	if err := validateURLs(req.AdditionalImageURLs); err != nil {
		return nil, err
	}

	property := models.Property{
		Status:          models.PropertyStatusAvailable,
		CreatedAt:       s.now(),
		CreatedByUserID: &user.ID,
	}
	req.Fields.applyTo(&property)
	if lat, lon := s.locate(ctx, req.Fields); lat != nil {
		property.Latitude, property.Longitude = lat, lon
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkAssignee(tx, property.AssignedToID); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(&property).Error; err != nil {
			return apperror.Internal(err, "failed to create property")
		}
		if len(req.AdditionalImageURLs) > 0 {
			images := galleryImages(property.ID, 0, req.AdditionalImageURLs)
			if err := tx.Create(&images).Error; err != nil {
				return apperror.Internal(err, "failed to create property images")
			}
		}
		return nil
	})
	if err != nil {
		s.logFailure(err, "Failed to create property")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"property_id": property.ID,
		"images":      len(req.AdditionalImageURLs),
		"user":        user.Username,
	}).Info("Created property")

	return s.reloadAndIndex(ctx, property.ID)
}

// Update applies gallery deletions, then additions, then scalar fields, and
// stamps updated_at, all in one transaction. Staff may only update listings
// assigned to them and may not reassign them.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest, caller auth.Caller) (*models.Property, error) {
	user, err := auth.RequireRole(caller, auth.StaffOrAbove...)
	if err != nil {
		return nil, err
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return nil, apperror.InvalidInput("title must not be empty")
	}
	if err := validateFields(req.Fields); err != nil {
		return nil, err
	}
	if err := validateURLs(req.AdditionalImageURLs); err != nil {
		return nil, err
	}

	lat, lon := s.locate(ctx, req.Fields)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var property models.Property
		if err := tx.Scopes(visibleTo(caller)).Where("properties.id = ?", id).First(&property).Error; err != nil {
			return apperror.FromStore(err, "property")
		}

		if req.AssignedToID != nil && user.Role == models.RoleStaff && !sameID(req.AssignedToID, property.AssignedToID) {
			return apperror.Unauthorized("staff cannot reassign properties")
		}
		if req.AssignedToID != nil {
			if err := checkAssignee(tx, req.AssignedToID); err != nil {
				return err
			}
		}

		removed, err := removeImages(tx, property.ID, req.DeleteImageIDs)
		if err != nil {
			return apperror.Internal(err, "failed to update gallery")
		}
		if err := appendImages(tx, property.ID, req.AdditionalImageURLs); err != nil {
			return apperror.Internal(err, "failed to update gallery")
		}

		req.Fields.applyTo(&property)
		if lat != nil {
			property.Latitude, property.Longitude = lat, lon
		}
		now := s.now()
		property.UpdatedAt = &now

		if err := tx.Omit(clause.Associations).Save(&property).Error; err != nil {
			return apperror.Internal(err, "failed to update property")
		}

		s.logger.WithFields(logrus.Fields{
			"property_id":    property.ID,
			"images_removed": removed,
			"images_added":   len(req.AdditionalImageURLs),
			"user":           user.Username,
		}).Info("Updated property")
		return nil
	})
	if err != nil {
		s.logFailure(err, "Failed to update property")
		return nil, err
	}

	return s.reloadAndIndex(ctx, id)
}

// Delete removes a listing with its gallery. Contacts that referenced it keep
// their history without the link.
func (s *Service) Delete(ctx context.Context, id int64, caller auth.Caller) error {
	if _, err := auth.RequireRole(caller, auth.ManagerOrAbove...); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var property models.Property
		if err := tx.Select("id").Where("id = ?", id).First(&property).Error; err != nil {
			return apperror.FromStore(err, "property")
		}
		if err := tx.Where("property_id = ?", id).Delete(&models.PropertyImage{}).Error; err != nil {
			return apperror.Internal(err, "failed to delete property images")
		}
		if err := tx.Model(&models.Contact{}).Where("property_id = ?", id).Update("property_id", nil).Error; err != nil {
			return apperror.Internal(err, "failed to detach contacts")
		}
		if err := tx.Delete(&models.Property{}, id).Error; err != nil {
			return apperror.Internal(err, "failed to delete property")
		}
		return nil
	})
	if err != nil {
		s.logFailure(err, "Failed to delete property")
		return err
	}

	s.logger.WithField("property_id", id).Info("Deleted property")

	if s.indexer != nil {
		if err := s.indexer.Remove(ctx, id); err != nil {
			s.logger.WithError(err).WithField("property_id", id).Warn("Failed to remove property from search index")
		}
	}
	return nil
}

func (s *Service) reloadAndIndex(ctx context.Context, id int64) (*models.Property, error) {
	var property models.Property
	if err := s.db.WithContext(ctx).Scopes(withGallery).First(&property, id).Error; err != nil {
		s.logger.WithError(err).WithField("property_id", id).Error("Failed to reload property")
		return nil, apperror.FromStore(err, "property")
	}

	if s.indexer != nil {
		if err := s.indexer.Sync(ctx, &property); err != nil {
			s.logger.WithError(err).WithField("property_id", id).Warn("Failed to sync property to search index")
		}
	}
	return &property, nil
}

// locate looks up coordinates for a location given without them. Failures
// return nil coordinates.
func (s *Service) locate(ctx context.Context, fields Fields) (*float64, *float64) {
	if s.geocoder == nil || fields.Location == nil || strings.TrimSpace(*fields.Location) == "" {
		return nil, nil
	}
	if fields.Latitude != nil || fields.Longitude != nil {
		return nil, nil
	}

	lat, lon, err := s.geocoder.Geocode(ctx, *fields.Location)
	if err != nil {
		s.logger.WithError(err).WithField("location", *fields.Location).Warn("Failed to geocode property location")
		return nil, nil
	}
	return &lat, &lon
}

func (s *Service) logFailure(err error, msg string) {
	if apperror.KindOf(err) == apperror.KindInternal {
		s.logger.WithError(err).Error(msg)
	}
}

func (f Fields) applyTo(p *models.Property) {
	if f.Title != nil {
		p.Title = strings.TrimSpace(*f.Title)
	}
	if f.Description != nil {
		p.Description = f.Description
	}
	if f.Price != nil {
		p.Price = f.Price
	}
	if f.Location != nil {
		p.Location = f.Location
	}
	if f.PropertyType != nil {
		p.PropertyType = f.PropertyType
	}
	if f.ListingType != nil {
		p.ListingType = f.ListingType
	}
	if f.Bedrooms != nil {
		p.Bedrooms = f.Bedrooms
	}
	if f.Bathrooms != nil {
		p.Bathrooms = f.Bathrooms
	}
	if f.Area != nil {
		p.Area = f.Area
	}
	if f.ImageURL != nil {
		p.ImageURL = f.ImageURL
	}
	if f.Latitude != nil {
		p.Latitude = f.Latitude
	}
	if f.Longitude != nil {
		p.Longitude = f.Longitude
	}
	if f.IsFeatured != nil {
		p.IsFeatured = *f.IsFeatured
	}
	if f.Status != nil {
		p.Status = *f.Status
	}
	if f.AssignedToID != nil {
		p.AssignedToID = f.AssignedToID
	}
}

func validateFields(f Fields) error {
	if f.Status != nil && !f.Status.Valid() {
		return apperror.InvalidInput("unknown status %q", *f.Status)
	}
	if f.Price != nil && *f.Price < 0 {
		return apperror.InvalidInput("price must not be negative")
	}
	if f.Latitude != nil && (*f.Latitude < -90 || *f.Latitude > 90) {
		return apperror.InvalidInput("latitude out of range")
	}
	if f.Longitude != nil && (*f.Longitude < -180 || *f.Longitude > 180) {
		return apperror.InvalidInput("longitude out of range")
	}
	return nil
}

func validateURLs(urls []string) error {
	for _, url := range urls {
		if strings.TrimSpace(url) == "" {
			return apperror.InvalidInput("image URLs must not be empty")
		}
	}
	return nil
}

func checkAssignee(tx *gorm.DB, id *int64) error {
	if id == nil {
		return nil
	}
	var count int64
	if err := tx.Model(&models.User{}).Where("id = ?", *id).Count(&count).Error; err != nil {
		return apperror.Internal(err, "failed to look up assignee")
	}
	if count == 0 {
		return apperror.InvalidInput("assigned user %d does not exist", *id)
	}
	return nil
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
