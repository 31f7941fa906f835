package models

import (
	"time"

	"github.com/paulmach/orb"
)

// PropertyStatus is the lifecycle state of a listing.
type PropertyStatus string

const (
	PropertyStatusAvailable PropertyStatus = "available"
	PropertyStatusReserved  PropertyStatus = "reserved"
	PropertyStatusSold      PropertyStatus = "sold"
	PropertyStatusRented    PropertyStatus = "rented"
)

// Valid reports whether s is one of the known statuses.
func (s PropertyStatus) Valid() bool {
	switch s {
	case PropertyStatusAvailable, PropertyStatusReserved, PropertyStatusSold, PropertyStatusRented:
		return true
	}
	return false
}

type Property struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Title        string         `gorm:"type:varchar(255);not null" json:"title"`
	Description  *string        `gorm:"type:text" json:"description"`
	Price        *float64       `gorm:"index" json:"price"`
	Location     *string        `gorm:"type:varchar(255)" json:"location"`
	PropertyType *string        `gorm:"type:varchar(100);index" json:"property_type"`
	ListingType  *string        `gorm:"type:varchar(100);index" json:"listing_type"`
	Bedrooms     *int           `json:"bedrooms"`
	Bathrooms    *int           `json:"bathrooms"`
	Area         *float64       `json:"area"`
	ImageURL     *string        `gorm:"type:varchar(1024)" json:"image_url"`
	Latitude     *float64       `json:"latitude"`
	Longitude    *float64       `json:"longitude"`
	IsFeatured   bool           `gorm:"not null;default:false" json:"is_featured"`
	Status       PropertyStatus `gorm:"type:varchar(20);not null;default:'available';index" json:"status"`

	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt       *time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
	CreatedByUserID *int64     `gorm:"index" json:"created_by_user_id"`
	AssignedToID    *int64     `gorm:"index" json:"assigned_to_id"`

	Images []PropertyImage `gorm:"foreignKey:PropertyID;constraint:OnDelete:CASCADE" json:"images"`
}

func (Property) TableName() string {
	return "properties"
}

// Point returns the listing coordinates, if both are known.
func (p *Property) Point() (orb.Point, bool) {
	if p.Latitude == nil || p.Longitude == nil {
		return orb.Point{}, false
	}
	return orb.Point{*p.Longitude, *p.Latitude}, true
}

// IsAvailable reports whether the listing is visible in the public catalog.
func (p *Property) IsAvailable() bool {
	return p.Status == PropertyStatusAvailable
}

// PropertyImage is one entry of a property gallery. Order is a hint; ties are
// broken by ID.
type PropertyImage struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	PropertyID int64  `gorm:"not null;index" json:"property_id"`
	ImageURL   string `gorm:"type:varchar(1024);not null" json:"image_url"`
	Order      int    `gorm:"column:sort_order;not null;default:0" json:"order"`
}

func (PropertyImage) TableName() string {
	return "property_images"
}
