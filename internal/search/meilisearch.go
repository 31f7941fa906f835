// Package search mirrors publicly visible listings into a Meilisearch index.
package search

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus"

	"habitat/server/internal/models"
)

// documents is the subset of *meilisearch.Index the indexer uses.
type documents interface {
	AddDocuments(documentsPtr interface{}, primaryKey ...string) (*meilisearch.TaskInfo, error)
	DeleteDocuments(identifiers []string) (*meilisearch.TaskInfo, error)
}

type Geo struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Document is the indexed form of a listing.
type Document struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	Description  *string  `json:"description,omitempty"`
	Location     *string  `json:"location,omitempty"`
	Price        *float64 `json:"price,omitempty"`
	PropertyType *string  `json:"property_type,omitempty"`
	ListingType  *string  `json:"listing_type,omitempty"`
	Bedrooms     *int     `json:"bedrooms,omitempty"`
	Bathrooms    *int     `json:"bathrooms,omitempty"`
	Area         *float64 `json:"area,omitempty"`
	ImageURL     *string  `json:"image_url,omitempty"`
	IsFeatured   bool     `json:"is_featured"`
	Geo          *Geo     `json:"_geo,omitempty"`
	UpdatedAt    int64    `json:"updated_at"`
}

type Indexer struct {
	client *meilisearch.Client
	index  string
	docs   documents
	logger *logrus.Logger
}

func NewIndexer(host, apiKey, index string, logger *logrus.Logger) *Indexer {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})
	return &Indexer{
		client: client,
		index:  index,
		docs:   client.Index(index),
		logger: logger,
	}
}

// InitIndex creates the index and configures its attributes. Creating an
// index that already exists is not an error.
func (i *Indexer) InitIndex() error {
	if _, err := i.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        i.index,
		PrimaryKey: "id",
	}); err != nil {
		i.logger.WithError(err).Warn("Could not create search index")
	}

	index := i.client.Index(i.index)
	if _, err := index.UpdateSearchableAttributes(&[]string{
		"title",
		"location",
		"description",
	}); err != nil {
		return err
	}
	if _, err := index.UpdateFilterableAttributes(&[]string{
		"price",
		"property_type",
		"listing_type",
		"bedrooms",
		"bathrooms",
		"area",
		"is_featured",
		"_geo",
	}); err != nil {
		return err
	}
	if _, err := index.UpdateSortableAttributes(&[]string{
		"price",
		"updated_at",
		"_geo",
	}); err != nil {
		return err
	}
	return nil
}

// Sync adds an available listing to the index and removes any other listing
// from it.
func (i *Indexer) Sync(ctx context.Context, property *models.Property) error {
	return i.SyncBatch(ctx, []*models.Property{property})
}

func (i *Indexer) Remove(ctx context.Context, id int64) error {
	return i.RemoveBatch(ctx, []int64{id})
}

// SyncBatch applies Sync to every listing with at most one add and one delete
// request.
func (i *Indexer) SyncBatch(ctx context.Context, properties []*models.Property) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	docs := make([]Document, 0, len(properties))
	var removed []int64
	for _, p := range properties {
		if p.IsAvailable() {
			docs = append(docs, NewDocument(p))
		} else {
			removed = append(removed, p.ID)
		}
	}

	if len(docs) > 0 {
		if _, err := i.docs.AddDocuments(docs, "id"); err != nil {
			return fmt.Errorf("failed to add %d documents: %w", len(docs), err)
		}
		i.logger.WithField("count", len(docs)).Debug("Indexed properties")
	}
	return i.RemoveBatch(ctx, removed)
}

func (i *Indexer) RemoveBatch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	identifiers := make([]string, len(ids))
	for n, id := range ids {
		identifiers[n] = strconv.FormatInt(id, 10)
	}
	if _, err := i.docs.DeleteDocuments(identifiers); err != nil {
		return fmt.Errorf("failed to delete %d documents: %w", len(ids), err)
	}
	i.logger.WithField("count", len(ids)).Debug("Removed properties from index")
	return nil
}

func NewDocument(p *models.Property) Document {
	doc := Document{
		ID:           p.ID,
		Title:        p.Title,
		Description:  p.Description,
		Location:     p.Location,
		Price:        p.Price,
		PropertyType: p.PropertyType,
		ListingType:  p.ListingType,
		Bedrooms:     p.Bedrooms,
		Bathrooms:    p.Bathrooms,
		Area:         p.Area,
		ImageURL:     p.ImageURL,
		IsFeatured:   p.IsFeatured,
		UpdatedAt:    p.CreatedAt.Unix(),
	}
	if p.UpdatedAt != nil {
		doc.UpdatedAt = p.UpdatedAt.Unix()
	}
	if point, ok := p.Point(); ok {
		doc.Geo = &Geo{Lat: point.Lat(), Lng: point.Lon()}
	}
	return doc
}
