package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"habitat/server/internal/models"
)

type mockDocuments struct {
	mock.Mock
}

func (m *mockDocuments) AddDocuments(documentsPtr interface{}, primaryKey ...string) (*meilisearch.TaskInfo, error) {
	args := m.Called(documentsPtr, primaryKey)
	return &meilisearch.TaskInfo{}, args.Error(0)
}

func (m *mockDocuments) DeleteDocuments(identifiers []string) (*meilisearch.TaskInfo, error) {
	args := m.Called(identifiers)
	return &meilisearch.TaskInfo{}, args.Error(0)
}

func newIndexer(docs documents) *Indexer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &Indexer{index: "properties", docs: docs, logger: logger}
}

func ptr[T any](v T) *T {
	return &v
}

func TestSyncAvailableAddsDocument(t *testing.T) {
	docs := &mockDocuments{}
	indexer := newIndexer(docs)

	property := &models.Property{
		ID:        7,
		Title:     "Casa",
		Status:    models.PropertyStatusAvailable,
		Latitude:  ptr(10.5),
		Longitude: ptr(-66.9),
		CreatedAt: time.Unix(1000, 0),
	}
	docs.On("AddDocuments", []Document{NewDocument(property)}, []string{"id"}).Return(nil).Once()

	require.NoError(t, indexer.Sync(context.Background(), property))
	docs.AssertExpectations(t)
}

func TestSyncUnavailableRemovesDocument(t *testing.T) {
	docs := &mockDocuments{}
	indexer := newIndexer(docs)

	docs.On("DeleteDocuments", []string{"9"}).Return(nil).Once()
	require.NoError(t, indexer.Sync(context.Background(), &models.Property{ID: 9, Status: models.PropertyStatusSold}))
	docs.AssertExpectations(t)
	docs.AssertNotCalled(t, "AddDocuments", mock.Anything, mock.Anything)
}

func TestRemovePropagatesErrors(t *testing.T) {
	docs := &mockDocuments{}
	indexer := newIndexer(docs)

	docs.On("DeleteDocuments", []string{"3"}).Return(errors.New("meilisearch down")).Once()
	assert.Error(t, indexer.Remove(context.Background(), 3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, indexer.Remove(ctx, 3), context.Canceled)
}

func TestSyncBatchSplitsByStatus(t *testing.T) {
	docs := &mockDocuments{}
	indexer := newIndexer(docs)

	available := &models.Property{ID: 1, Title: "Casa", Status: models.PropertyStatusAvailable, CreatedAt: time.Unix(1000, 0)}
	sold := &models.Property{ID: 2, Title: "Quinta", Status: models.PropertyStatusSold, CreatedAt: time.Unix(1000, 0)}
	docs.On("AddDocuments", []Document{NewDocument(available)}, []string{"id"}).Return(nil).Once()
	docs.On("DeleteDocuments", []string{"2"}).Return(nil).Once()

	require.NoError(t, indexer.SyncBatch(context.Background(), []*models.Property{available, sold}))
	docs.AssertExpectations(t)
}

func TestRemoveBatchEmptyIsNoop(t *testing.T) {
	docs := &mockDocuments{}
	indexer := newIndexer(docs)

	require.NoError(t, indexer.RemoveBatch(context.Background(), nil))
	docs.AssertNotCalled(t, "DeleteDocuments", mock.Anything)
}

func TestNewDocument(t *testing.T) {
	updated := time.Unix(5000, 0)
	doc := NewDocument(&models.Property{
		ID:        1,
		Title:     "Apartamento",
		Price:     ptr(120000.0),
		Latitude:  ptr(10.5),
		Longitude: ptr(-66.9),
		CreatedAt: time.Unix(1000, 0),
		UpdatedAt: &updated,
	})
	assert.Equal(t, int64(5000), doc.UpdatedAt)
	require.NotNil(t, doc.Geo)
	assert.Equal(t, 10.5, doc.Geo.Lat)
	assert.Equal(t, -66.9, doc.Geo.Lng)

	doc = NewDocument(&models.Property{ID: 2, Title: "Sin coordenadas", CreatedAt: time.Unix(1000, 0)})
	assert.Nil(t, doc.Geo)
	assert.Equal(t, int64(1000), doc.UpdatedAt)
}
