package property

import (
	"strings"

	"github.com/paulmach/orb"
	"gorm.io/gorm"

	"habitat/server/internal/apperror"
	"habitat/server/internal/auth"
	"habitat/server/internal/models"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Criteria are the listing filters. Range bounds are inclusive and nil means
// unbounded.
type Criteria struct {
	Skip  int
	Limit int

	Search       string
	PropertyType string
	ListingType  string

	MinPrice     *float64
	MaxPrice     *float64
	MinBedrooms  *int
	MaxBedrooms  *int
	MinBathrooms *int
	MaxBathrooms *int
	MinArea      *float64
	MaxArea      *float64

	Featured *bool
	Bounds   *orb.Bound
}

// Normalize validates c and fills pagination defaults. A zero Limit means
// DefaultLimit; limits above MaxLimit are capped.
func (c *Criteria) Normalize() error {
	if c.Skip < 0 {
		return apperror.InvalidInput("skip must not be negative")
	}
	switch {
	case c.Limit < 0:
		return apperror.InvalidInput("limit must be positive")
	case c.Limit == 0:
		c.Limit = DefaultLimit
	case c.Limit > MaxLimit:
		c.Limit = MaxLimit
	}

	c.Search = strings.TrimSpace(c.Search)

	if c.MinPrice != nil && c.MaxPrice != nil && *c.MinPrice > *c.MaxPrice {
		return apperror.InvalidInput("min_price must not exceed max_price")
	}
	if c.MinBedrooms != nil && c.MaxBedrooms != nil && *c.MinBedrooms > *c.MaxBedrooms {
		return apperror.InvalidInput("min_bedrooms must not exceed max_bedrooms")
	}
	if c.MinBathrooms != nil && c.MaxBathrooms != nil && *c.MinBathrooms > *c.MaxBathrooms {
		return apperror.InvalidInput("min_bathrooms must not exceed max_bathrooms")
	}
	if c.MinArea != nil && c.MaxArea != nil && *c.MinArea > *c.MaxArea {
		return apperror.InvalidInput("min_area must not exceed max_area")
	}
	return nil
}

// BoundsFromCorners builds a search box from optional corner coordinates. All
// four must be present or all absent.
func BoundsFromCorners(minLat, minLng, maxLat, maxLng *float64) (*orb.Bound, error) {
	if minLat == nil && minLng == nil && maxLat == nil && maxLng == nil {
		return nil, nil
	}
	if minLat == nil || minLng == nil || maxLat == nil || maxLng == nil {
		return nil, apperror.InvalidInput("min_lat, min_lng, max_lat and max_lng must be given together")
	}
	if *minLat > *maxLat || *minLng > *maxLng {
		return nil, apperror.InvalidInput("bounding box corners are inverted")
	}
	if *minLat < -90 || *maxLat > 90 || *minLng < -180 || *maxLng > 180 {
		return nil, apperror.InvalidInput("bounding box is outside valid coordinates")
	}

	bound := orb.MultiPoint{{*minLng, *minLat}, {*maxLng, *maxLat}}.Bound()
	return &bound, nil
}

// visibleTo restricts a property query to what caller may see. It is applied
// to every read so no path exposes unavailable listings to anonymous callers.
func visibleTo(caller auth.Caller) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		user, ok := caller.User()
		if !ok {
			return db.Where("properties.status = ?", models.PropertyStatusAvailable)
		}
		switch user.Role {
		case models.RoleAdmin, models.RoleManager:
			return db
		case models.RoleStaff:
			return db.Where("properties.assigned_to_id = ?", user.ID)
		default:
			return db.Where("properties.status = ?", models.PropertyStatusAvailable)
		}
	}
}

// likeEscaper makes search text match literally in a LIKE pattern. A
// backslash escape would itself be consumed by MySQL string literals.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// matching applies the caller-supplied filters.
func (c Criteria) matching() func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if c.Search != "" {
			pattern := "%" + likeEscaper.Replace(strings.ToLower(c.Search)) + "%"
			db = db.Where("(LOWER(properties.title) LIKE ? ESCAPE '!' OR LOWER(properties.location) LIKE ? ESCAPE '!')", pattern, pattern)
		}
		if c.PropertyType != "" {
			db = db.Where("properties.property_type = ?", c.PropertyType)
		}
		if c.ListingType != "" {
			db = db.Where("properties.listing_type = ?", c.ListingType)
		}
		if c.MinPrice != nil {
			db = db.Where("properties.price >= ?", *c.MinPrice)
		}
		if c.MaxPrice != nil {
			db = db.Where("properties.price <= ?", *c.MaxPrice)
		}
		if c.MinBedrooms != nil {
			db = db.Where("properties.bedrooms >= ?", *c.MinBedrooms)
		}
		if c.MaxBedrooms != nil {
			db = db.Where("properties.bedrooms <= ?", *c.MaxBedrooms)
		}
		if c.MinBathrooms != nil {
			db = db.Where("properties.bathrooms >= ?", *c.MinBathrooms)
		}
		if c.MaxBathrooms != nil {
			db = db.Where("properties.bathrooms <= ?", *c.MaxBathrooms)
		}
		if c.MinArea != nil {
			db = db.Where("properties.area >= ?", *c.MinArea)
		}
		if c.MaxArea != nil {
			db = db.Where("properties.area <= ?", *c.MaxArea)
		}
		if c.Featured != nil {
			db = db.Where("properties.is_featured = ?", *c.Featured)
		}
		if c.Bounds != nil {
			db = db.Where("properties.latitude BETWEEN ? AND ?", c.Bounds.Bottom(), c.Bounds.Top()).
				Where("properties.longitude BETWEEN ? AND ?", c.Bounds.Left(), c.Bounds.Right())
		}
		return db
	}
}

// newestFirst orders by last modification, falling back to creation time for
// listings never updated, then by id.
func newestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("COALESCE(properties.updated_at, properties.created_at) DESC").Order("properties.id DESC")
}

func withGallery(db *gorm.DB) *gorm.DB {
	return db.Preload("Images", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC").Order("id ASC")
	})
}
