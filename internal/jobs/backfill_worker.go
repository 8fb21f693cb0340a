package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/curatorhq/curator/internal/domain"
)

const (
	// MaxAttempts is the maximum number of embedding attempts per item
	MaxAttempts = 3

	// batchSize bounds how many pending items one poll picks up
	batchSize = 50
)

// PendingItemRepository defines the persistence interface for items whose
// embedding is still missing
type PendingItemRepository interface {
	// ListPendingEmbedding returns items with a NULL embedding and fewer
	// than maxAttempts recorded attempts
	ListPendingEmbedding(ctx context.Context, maxAttempts, limit int) ([]*domain.KnowledgeItem, error)

	// UpdateEmbedding stores a freshly generated embedding
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error

	// IncrementEmbedAttempts records a failed attempt
	IncrementEmbedAttempts(ctx context.Context, id string) error
}

// EmbeddingService defines the interface for generating embeddings
type EmbeddingService interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// BackfillWorker retries embedding generation for items that were stored
// without a vector. Ingestion never blocks on the embedding backend; this
// worker closes the gap afterwards.
type BackfillWorker struct {
	repos   []PendingItemRepository
	service EmbeddingService
}

// NewBackfillWorker creates a new BackfillWorker over one or more item
// repositories
func NewBackfillWorker(service EmbeddingService, repos ...PendingItemRepository) *BackfillWorker {
	return &BackfillWorker{
		repos:   repos,
		service: service,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *BackfillWorker) ProcessJobs(ctx context.Context) error {
	for _, repo := range w.repos {
		if err := w.processRepo(ctx, repo); err != nil {
			return err
		}
	}
	return nil
}

func (w *BackfillWorker) processRepo(ctx context.Context, repo PendingItemRepository) error {
	items, err := repo.ListPendingEmbedding(ctx, MaxAttempts, batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending items: %w", err)
	}

	if len(items) == 0 {
		return nil
	}

	log.Printf("Backfilling embeddings for %d items", len(items))

	for _, item := range items {
		if err := w.processItem(ctx, repo, item); err != nil {
			log.Printf("Error backfilling item %s: %v", item.ID, err)
		}
	}

	return nil
}

func (w *BackfillWorker) processItem(ctx context.Context, repo PendingItemRepository, item *domain.KnowledgeItem) error {
	vector, err := w.service.GenerateEmbedding(ctx, item.Text)
	if err != nil {
		if incErr := repo.IncrementEmbedAttempts(ctx, item.ID); incErr != nil {
			return fmt.Errorf("failed to record attempt: %w", incErr)
		}
		return fmt.Errorf("embedding failed: %w", err)
	}

	if err := repo.UpdateEmbedding(ctx, item.ID, vector); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	log.Printf("Backfilled embedding for item %s", item.ID)
	return nil
}
