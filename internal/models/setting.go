package models

import "gorm.io/datatypes"

// DefaultSettingCategory is used when a setting is created without a category.
const DefaultSettingCategory = "General"

// SiteSetting is a namespaced configuration value. Value is always a JSON
// object; scalars are stored as {"text": scalar}.
type SiteSetting struct {
	Key      string         `gorm:"primaryKey;type:varchar(150)" json:"key"`
	Value    datatypes.JSON `json:"value"`
	Category string         `gorm:"type:varchar(100);not null;default:'General';index" json:"category"`
}

func (SiteSetting) TableName() string {
	return "site_settings"
}
