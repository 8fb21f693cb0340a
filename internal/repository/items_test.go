//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/curatorhq/curator/internal/domain"
	"github.com/curatorhq/curator/internal/pagination"
	"github.com/curatorhq/curator/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepos(ctx context.Context, t *testing.T) (*ItemRepository, *ItemRepository, *pgxpool.Pool, func()) {
	pc := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	cleanup := func() {
		pool.Close()
		pc.Terminate(ctx)
	}
	return NewKnowledgeItemRepository(pool), NewThreadItemRepository(pool), pool, cleanup
}

func testItem(ts string, vector []float32) *domain.KnowledgeItem {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.KnowledgeItem{
		ID:     uuid.NewString(),
		Text:   "deploy window is tuesday",
		Vector: vector,
		Metadata: domain.Metadata{
			Source:       domain.SourceFinalChanges,
			Author:       "alice",
			TimestampKey: ts,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestItemRepository_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	knowledge, _, _, cleanup := setupRepos(ctx, t)
	defer cleanup()

	item := testItem("100.1", make([]float32, 1536))
	item.Vector[0] = 0.5
	require.NoError(t, knowledge.Insert(ctx, item))

	got, err := knowledge.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, item.Text, got.Text)
	assert.Equal(t, item.Metadata.Source, got.Metadata.Source)
	assert.Equal(t, item.Metadata.TimestampKey, got.Metadata.TimestampKey)
	require.Len(t, got.Vector, 1536)
	assert.InDelta(t, 0.5, got.Vector[0], 1e-6)
}

func TestItemRepository_InsertWithoutVector(t *testing.T) {
	ctx := context.Background()
	knowledge, _, _, cleanup := setupRepos(ctx, t)
	defer cleanup()

	item := testItem("100.2", nil)
	require.NoError(t, knowledge.Insert(ctx, item))

	got, err := knowledge.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Vector)

	pending, err := knowledge.ListPendingEmbedding(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, item.ID, pending[0].ID)
}

func TestItemRepository_GetByID_NotFound(t *testing.T) {
	ctx := context.Background()
	knowledge, _, _, cleanup := setupRepos(ctx, t)
	defer cleanup()

	_, err := knowledge.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestItemRepository_FilterOperations(t *testing.T) {
	ctx := context.Background()
	knowledge, _, _, cleanup := setupRepos(ctx, t)
	defer cleanup()

	a := testItem("200.1", nil)
	b := testItem("200.1", nil)
	b.Metadata.Filename = "runbook.md"
	c := testItem("200.2", nil)
	for _, item := range []*domain.KnowledgeItem{a, b, c} {
		require.NoError(t, knowledge.Insert(ctx, item))
	}

	count, err := knowledge.CountByFilter(ctx, domain.ItemFilter{TimestampKey: "200.1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	listed, err := knowledge.ListByFilter(ctx, domain.ItemFilter{TimestampKey: "200.1", Filename: "runbook.md"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, b.ID, listed[0].ID)

	removed, err := knowledge.DeleteByFilter(ctx, domain.ItemFilter{TimestampKey: "200.1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	remaining, err := knowledge.CountByFilter(ctx, domain.ItemFilter{TimestampKey: "200.2"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, remaining)
}

func TestItemRepository_DeleteByFilter_EmptyFilterRejected(t *testing.T) {
	ctx := context.Background()
	knowledge, _, _, cleanup := setupRepos(ctx, t)
	defer cleanup()

	_, err := knowledge.DeleteByFilter(ctx, domain.ItemFilter{})
	assert.ErrorIs(t, err, domain.ErrEmptyFilter)
}

func TestItemRepository_UpdateContent(t *testing.T) {
	ctx := context.Background()
	knowledge, _, _, cleanup := setupRepos(ctx, t)
	defer cleanup()

	item := testItem("300.1", nil)
	require.NoError(t, knowledge.Insert(ctx, item))

	vector := make([]float32, 1536)
	vector[3] = 1
	require.NoError(t, knowledge.UpdateContent(ctx, item.ID, "corrected text", vector))

	got, err := knowledge.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "corrected text", got.Text)
	assert.InDelta(t, 1.0, got.Vector[3], 1e-6)

	err = knowledge.UpdateContent(ctx, uuid.NewString(), "x", nil)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestItemRepository_EmbeddingBackfill(t *testing.T) {
	ctx := context.Background()
	knowledge, _, _, cleanup := setupRepos(ctx, t)
	defer cleanup()

	item := testItem("400.1", nil)
	require.NoError(t, knowledge.Insert(ctx, item))

	require.NoError(t, knowledge.IncrementEmbedAttempts(ctx, item.ID))
	require.NoError(t, knowledge.IncrementEmbedAttempts(ctx, item.ID))
	require.NoError(t, knowledge.IncrementEmbedAttempts(ctx, item.ID))

	// Three failed attempts exhaust the retry budget.
	pending, err := knowledge.ListPendingEmbedding(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	vector := make([]float32, 1536)
	require.NoError(t, knowledge.UpdateEmbedding(ctx, item.ID, vector))

	got, err := knowledge.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, got.Vector, 1536)
}

func TestItemRepository_ListWithCursor(t *testing.T) {
	ctx := context.Background()
	knowledge, _, _, cleanup := setupRepos(ctx, t)
	defer cleanup()

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 5; i++ {
		item := testItem("500.1", nil)
		item.CreatedAt = base.Add(time.Duration(i) * time.Second)
		item.UpdatedAt = item.CreatedAt
		require.NoError(t, knowledge.Insert(ctx, item))
	}

	first, cursor, err := knowledge.ListWithCursor(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotEmpty(t, cursor)
	assert.True(t, first[0].CreatedAt.After(first[1].CreatedAt))

	decoded, err := pagination.DecodeCursor(cursor)
	require.NoError(t, err)

	second, cursor2, err := knowledge.ListWithCursor(ctx, decoded, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.NotEmpty(t, cursor2)
	assert.True(t, first[1].CreatedAt.After(second[0].CreatedAt))

	decoded2, err := pagination.DecodeCursor(cursor2)
	require.NoError(t, err)

	last, cursor3, err := knowledge.ListWithCursor(ctx, decoded2, 2)
	require.NoError(t, err)
	assert.Len(t, last, 1)
	assert.Empty(t, cursor3)
}

func TestItemRepository_CollectionsAreSeparate(t *testing.T) {
	ctx := context.Background()
	knowledge, threads, _, cleanup := setupRepos(ctx, t)
	defer cleanup()

	leaf := testItem("600.1", nil)
	require.NoError(t, knowledge.Insert(ctx, leaf))

	story := testItem("600.1", nil)
	story.Metadata.Source = domain.SourceIdeas
	story.Metadata.ThreadKey = "600.0"
	require.NoError(t, threads.Insert(ctx, story))

	knowledgeCount, err := knowledge.CountByFilter(ctx, domain.ItemFilter{TimestampKey: "600.1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, knowledgeCount)

	threadMatches, err := threads.ListByFilter(ctx, domain.ItemFilter{ThreadKey: "600.0"})
	require.NoError(t, err)
	require.Len(t, threadMatches, 1)
	assert.Equal(t, story.ID, threadMatches[0].ID)

	_, err = knowledge.GetByID(ctx, story.ID)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}
