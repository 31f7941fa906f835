// Package geometry renders listings as GeoJSON for map clients.
package geometry

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"habitat/server/internal/models"
)

// ListingCollection returns one point feature per located listing. When at
// least three distinct points are present a "coverage" polygon enclosing all
// of them is appended.
func ListingCollection(properties []models.Property) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	points := make([]orb.Point, 0, len(properties))

	for i := range properties {
		p := &properties[i]
		point, ok := p.Point()
		if !ok {
			continue
		}
		points = append(points, point)

		feature := geojson.NewFeature(point)
		feature.ID = p.ID
		feature.Properties = geojson.Properties{
			"id":          p.ID,
			"title":       p.Title,
			"status":      p.Status,
			"is_featured": p.IsFeatured,
			"kind":        "listing",
		}
		if p.Price != nil {
			feature.Properties["price"] = *p.Price
		}
		if p.ListingType != nil {
			feature.Properties["listing_type"] = *p.ListingType
		}
		if p.PropertyType != nil {
			feature.Properties["property_type"] = *p.PropertyType
		}
		if p.ImageURL != nil {
			feature.Properties["image_url"] = *p.ImageURL
		}
		fc.Append(feature)
	}

	if hull := ConvexHull(points); hull != nil {
		feature := geojson.NewFeature(orb.Polygon{hull})
		feature.Properties = geojson.Properties{
			"kind":        "coverage",
			"point_count": len(points),
		}
		fc.Append(feature)
	}
	return fc
}

// ConvexHull returns the closed counter-clockwise hull of points, or nil when
// the points do not span an area. The input is not modified.
func ConvexHull(points []orb.Point) orb.Ring {
	if len(points) < 3 {
		return nil
	}

	sorted := make([]orb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	// Monotone chain: lower hull then upper hull.
	hull := make([]orb.Point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// hull is closed here: the last point repeats the first.
	if len(hull) < 4 {
		return nil
	}
	return orb.Ring(hull)
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}
