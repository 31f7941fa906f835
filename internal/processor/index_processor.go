package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"habitat/server/internal/models"
	"habitat/server/internal/queue"
)

// BulkIndexer writes listings to the search index in bulk.
type BulkIndexer interface {
	SyncBatch(ctx context.Context, properties []*models.Property) error
	RemoveBatch(ctx context.Context, ids []int64) error
}

type Options struct {
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// IndexProcessor feeds listing changes to a BulkIndexer off the request path.
// It satisfies property.Indexer.
type IndexProcessor struct {
	db      *gorm.DB
	queue   *queue.IndexQueue
	indexer BulkIndexer
	opts    Options
	logger  *logrus.Logger
}

func NewIndexProcessor(db *gorm.DB, q *queue.IndexQueue, indexer BulkIndexer, opts Options, logger *logrus.Logger) *IndexProcessor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &IndexProcessor{
		db:      db,
		queue:   q,
		indexer: indexer,
		opts:    opts,
		logger:  logger,
	}
}

// Start begins processing batches from the queue
func (p *IndexProcessor) Start() {
	p.queue.Subscribe(p.processBatch)
	p.queue.Start()
}

// Stop closes the queue and waits until queued batches are flushed or ctx
// is done.
func (p *IndexProcessor) Stop(ctx context.Context) error {
	if err := p.queue.Close(); err != nil {
		return err
	}
	select {
	case <-p.queue.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync queues the listing for indexing. The caller's copy is not retained.
func (p *IndexProcessor) Sync(_ context.Context, property *models.Property) error {
	snapshot := *property
	return p.queue.Push([]queue.Job{{PropertyID: property.ID, Property: &snapshot}})
}

func (p *IndexProcessor) Remove(_ context.Context, id int64) error {
	return p.queue.Push([]queue.Job{{PropertyID: id}})
}

// Reindex queues every available listing. It returns how many were queued.
func (p *IndexProcessor) Reindex(ctx context.Context) (int, error) {
	var batch []models.Property
	total := 0
	result := p.db.WithContext(ctx).
		Where("status = ?", models.PropertyStatusAvailable).
		FindInBatches(&batch, p.opts.BatchSize, func(tx *gorm.DB, _ int) error {
			jobs := make([]queue.Job, len(batch))
			for i := range batch {
				property := batch[i]
				jobs[i] = queue.Job{PropertyID: property.ID, Property: &property}
			}
			if err := p.queue.PushWait(ctx, jobs); err != nil {
				return err
			}
			total += len(jobs)
			return nil
		})
	if result.Error != nil {
		return total, fmt.Errorf("failed to queue reindex: %w", result.Error)
	}
	p.logger.WithField("count", total).Info("Queued listings for reindex")
	return total, nil
}

func (p *IndexProcessor) processBatch(batch []queue.Job) error {
	upserts, removes := split(batch)

	var err error
	for attempt := 0; attempt <= p.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying index batch, attempt %d of %d", attempt, p.opts.MaxRetries)
			time.Sleep(p.opts.RetryDelay)
		}

		err = p.flush(upserts, removes)
		if err == nil {
			p.logger.WithFields(logrus.Fields{
				"synced":  len(upserts),
				"removed": len(removes),
			}).Debug("Flushed index batch")
			return nil
		}
		p.logger.WithError(err).Warn("Index batch failed")
	}
	return fmt.Errorf("failed to index batch after %d attempts: %w", p.opts.MaxRetries+1, err)
}

func (p *IndexProcessor) flush(upserts []*models.Property, removes []int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if len(upserts) > 0 {
		if err := p.indexer.SyncBatch(ctx, upserts); err != nil {
			errs = append(errs, err)
		}
	}
	if len(removes) > 0 {
		if err := p.indexer.RemoveBatch(ctx, removes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// split keeps the last job per listing and separates upserts from removals.
func split(batch []queue.Job) ([]*models.Property, []int64) {
	last := make(map[int64]int, len(batch))
	for i, job := range batch {
		last[job.PropertyID] = i
	}

	var upserts []*models.Property
	var removes []int64
	for i, job := range batch {
		if last[job.PropertyID] != i {
			continue
		}
		if job.Property == nil {
			removes = append(removes, job.PropertyID)
		} else {
			upserts = append(upserts, job.Property)
		}
	}
	return upserts, removes
}
