package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/curatorhq/curator/internal/domain"
	"github.com/curatorhq/curator/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const itemColumns = `id, text, embedding, source, author, filename, chunk_index, ts, thread_ts, source_of_truth, public, created_at, updated_at`

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ItemRepository persists knowledge items in one table. The knowledge and
// thread collections share the schema, so both are instances of this type.
type ItemRepository struct {
	db    dbtx
	table string
}

// NewKnowledgeItemRepository returns the repository for leaf items and file chunks.
func NewKnowledgeItemRepository(pool *pgxpool.Pool) *ItemRepository {
	return &ItemRepository{db: pool, table: "knowledge_items"}
}

// NewThreadItemRepository returns the repository for thread stories.
func NewThreadItemRepository(pool *pgxpool.Pool) *ItemRepository {
	return &ItemRepository{db: pool, table: "thread_items"}
}

func (r *ItemRepository) Insert(ctx context.Context, item *domain.KnowledgeItem) error {
	var embedding any
	if item.Vector != nil {
		embedding = pgvector.NewVector(item.Vector)
	}
	_, err := r.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, r.table, itemColumns),
		item.ID, item.Text, embedding,
		item.Metadata.Source, item.Metadata.Author, item.Metadata.Filename, item.Metadata.ChunkIndex,
		item.Metadata.TimestampKey, item.Metadata.ThreadKey, item.Metadata.SourceOfTruth, item.Metadata.Public,
		item.CreatedAt, item.UpdatedAt,
	)
	return err
}

// FetchAll returns every stored item with its vector. Retrieval scores the
// whole collection in process; this is the assumed full-scan store.
func (r *ItemRepository) FetchAll(ctx context.Context) ([]*domain.KnowledgeItem, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s`, itemColumns, r.table),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItemRows(rows)
}

func (r *ItemRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, itemColumns, r.table),
		id,
	)
	item, err := scanItemRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// UpdateContent replaces an item's text and vector in place. Used for edits
// of leaf items; thread items are replaced wholesale instead.
func (r *ItemRepository) UpdateContent(ctx context.Context, id string, text string, vector []float32) error {
	var embedding any
	if vector != nil {
		embedding = pgvector.NewVector(vector)
	}
	cmdTag, err := r.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET text = $1, embedding = $2, updated_at = $3 WHERE id = $4`, r.table),
		text, embedding, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (r *ItemRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	cmdTag, err := r.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET embedding = $1, updated_at = $2 WHERE id = $3`, r.table),
		pgvector.NewVector(embedding), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (r *ItemRepository) ListByFilter(ctx context.Context, filter domain.ItemFilter) ([]*domain.KnowledgeItem, error) {
	where, args := filterClause(filter)
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY created_at`, itemColumns, r.table, where),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItemRows(rows)
}

func (r *ItemRepository) CountByFilter(ctx context.Context, filter domain.ItemFilter) (int64, error) {
	where, args := filterClause(filter)
	var count int64
	err := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, r.table, where),
		args...,
	).Scan(&count)
	return count, err
}

func (r *ItemRepository) DeleteByFilter(ctx context.Context, filter domain.ItemFilter) (int64, error) {
	if filter.IsZero() {
		return 0, domain.ErrEmptyFilter
	}
	where, args := filterClause(filter)
	cmdTag, err := r.db.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s %s`, r.table, where),
		args...,
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

// ListWithCursor pages through stored items newest-first for the inspection API.
func (r *ItemRepository) ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*domain.KnowledgeItem, string, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = r.db.Query(ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE (created_at, id) < ($1, $2) ORDER BY created_at DESC, id DESC LIMIT $3`, itemColumns, r.table),
			cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC, id DESC LIMIT $1`, itemColumns, r.table),
			limit+1,
		)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	items, err := scanItemRows(rows)
	if err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}
	return items, nextCursor, nil
}

// ListPendingEmbedding returns items persisted without a vector that have not
// exhausted their retry budget. Consumed by the backfill worker.
func (r *ItemRepository) ListPendingEmbedding(ctx context.Context, maxAttempts, limit int) ([]*domain.KnowledgeItem, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE embedding IS NULL AND embed_attempts < $1 ORDER BY created_at LIMIT $2`, itemColumns, r.table),
		maxAttempts, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItemRows(rows)
}

func (r *ItemRepository) IncrementEmbedAttempts(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET embed_attempts = embed_attempts + 1 WHERE id = $1`, r.table),
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func filterClause(filter domain.ItemFilter) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("ts", filter.TimestampKey)
	add("thread_ts", filter.ThreadKey)
	add("filename", filter.Filename)
	add("source", filter.Source)

	if len(clauses) == 0 {
		return "", nil
	}
	where := "WHERE " + clauses[0]
	for _, clause := range clauses[1:] {
		where += " AND " + clause
	}
	return where, args
}

func scanItemRows(rows pgx.Rows) ([]*domain.KnowledgeItem, error) {
	items := make([]*domain.KnowledgeItem, 0)
	for rows.Next() {
		item, err := scanItemRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItemRow(row pgx.Row) (*domain.KnowledgeItem, error) {
	var item domain.KnowledgeItem
	var embedding *pgvector.Vector
	err := row.Scan(
		&item.ID, &item.Text, &embedding,
		&item.Metadata.Source, &item.Metadata.Author, &item.Metadata.Filename, &item.Metadata.ChunkIndex,
		&item.Metadata.TimestampKey, &item.Metadata.ThreadKey, &item.Metadata.SourceOfTruth, &item.Metadata.Public,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if embedding != nil {
		item.Vector = embedding.Slice()
	}
	return &item, nil
}
