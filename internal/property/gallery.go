package property

import (
	"fmt"

	"gorm.io/gorm"

	"habitat/server/internal/models"
)

// galleryImages builds image rows for urls with orders start, start+1, ...
// in input order.
func galleryImages(propertyID int64, start int, urls []string) []models.PropertyImage {
	images := make([]models.PropertyImage, 0, len(urls))
	for i, url := range urls {
		images = append(images, models.PropertyImage{
			PropertyID: propertyID,
			ImageURL:   url,
			Order:      start + i,
		})
	}
	return images
}

// removeImages deletes the listed images that belong to propertyID. Ids owned
// by other properties, or unknown ids, are ignored.
func removeImages(tx *gorm.DB, propertyID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := tx.Where("property_id = ? AND id IN ?", propertyID, ids).Delete(&models.PropertyImage{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete images: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// appendImages adds urls after the current highest order, or from 0 when the
// gallery is empty. Must run after removeImages.
func appendImages(tx *gorm.DB, propertyID int64, urls []string) error {
	if len(urls) == 0 {
		return nil
	}

	var maxOrder int
	err := tx.Model(&models.PropertyImage{}).
		Where("property_id = ?", propertyID).
		Select("COALESCE(MAX(sort_order), -1)").
		Scan(&maxOrder).Error
	if err != nil {
		return fmt.Errorf("failed to read gallery order: %w", err)
	}

	images := galleryImages(propertyID, maxOrder+1, urls)
	if err := tx.Create(&images).Error; err != nil {
		return fmt.Errorf("failed to insert images: %w", err)
	}
	return nil
}
