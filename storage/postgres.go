// Package storage provides vector store implementations and the rating
// store. Postgres with the pgvector extension is the primary store; Chromem
// is an embedded alternative for tests and small corpora.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	goagenticrag "github.com/MegaGrindStone/go-agentic-rag"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultBatchSize = 1000
	defaultPageSize  = 500
)

// distanceOps maps distance names to pgvector operators.
var distanceOps = map[goagenticrag.Distance]string{
	goagenticrag.DistanceL2:           "<->",
	goagenticrag.DistanceInnerProduct: "<#>",
	goagenticrag.DistanceCosine:       "<=>",
	goagenticrag.DistanceL1:           "<+>",
	goagenticrag.DistanceHamming:      "<~>",
	goagenticrag.DistanceJaccard:      "<%>",
}

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Postgres implements the VectorStorage interface on Postgres with the
// pgvector extension. A table is persisted between instances; opening an
// existing table with a different dimension fails.
type Postgres struct {
	pool      *pgxpool.Pool
	table     string
	dimension int

	logger *slog.Logger
}

// NewPostgres connects to the database, ensures the pgvector extension and
// the table exist, and verifies the table's embedding dimension. The logger
// may be nil.
func NewPostgres(ctx context.Context, connString, table string, dimension int, logger *slog.Logger) (Postgres, error) {
	if !tableNameRe.MatchString(table) {
		return Postgres{}, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return Postgres{}, fmt.Errorf("failed to create connection pool: %w", err)
	}

	p := Postgres{
		pool:      pool,
		table:     table,
		dimension: dimension,
		logger:    logger.With(slog.String("package", "storage"), slog.String("table", table)),
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return Postgres{}, fmt.Errorf("failed to install vector extension: %w", err)
	}

	createQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			embedding vector(%d),
			file_name text,
			file_position integer,
			content text,
			metadata jsonb,
			updated_at timestamp with time zone DEFAULT now()
		)`, table, dimension)
	if _, err := pool.Exec(ctx, createQuery); err != nil {
		return Postgres{}, fmt.Errorf("failed to create table: %w", err)
	}

	// For the vector type atttypmod holds the declared dimension; it differs
	// from the requested one when the table predates this instance.
	var actual int
	err = pool.QueryRow(ctx, `
		SELECT atttypmod
		FROM pg_attribute
		WHERE attrelid = $1::regclass AND attname = 'embedding'`, table).Scan(&actual)
	if err != nil {
		return Postgres{}, fmt.Errorf("failed to read table dimension: %w", err)
	}
	if actual != dimension {
		return Postgres{}, fmt.Errorf("%w: table %s has dimension %d, want %d",
			goagenticrag.ErrDimensionMismatch, table, actual, dimension)
	}

	return p, nil
}

// Close releases the connection pool.
func (p Postgres) Close() {
	p.pool.Close()
}

// Insert stores a single vector. The ID and UpdatedAt fields are assigned by
// the database.
func (p Postgres) Insert(ctx context.Context, v goagenticrag.Vector) error {
	if len(v.Embedding) != p.dimension {
		return fmt.Errorf("%w: embedding has dimension %d, want %d",
			goagenticrag.ErrDimensionMismatch, len(v.Embedding), p.dimension)
	}

	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (embedding, file_name, file_position, content, metadata)
		VALUES ($1::vector, $2, $3, $4, $5)`, p.table)
	if _, err := p.pool.Exec(ctx, query,
		vectorLiteral(v.Embedding), v.FileName, v.FilePosition, v.Content, metadata); err != nil {
		return fmt.Errorf("failed to insert vector: %w", err)
	}

	return nil
}

// BatchInsert ingests vectors in fixed-size pages within batches; each batch
// commits atomically. Zero batchSize and pageSize select the defaults of
// 1000 and 500.
func (p Postgres) BatchInsert(ctx context.Context, vs []goagenticrag.Vector, batchSize, pageSize int) error {
	if len(vs) == 0 {
		return nil
	}
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}

	for _, v := range vs {
		if len(v.Embedding) != p.dimension {
			return fmt.Errorf("%w: embedding has dimension %d, want %d",
				goagenticrag.ErrDimensionMismatch, len(v.Embedding), p.dimension)
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (embedding, file_name, file_position, content, metadata)
		VALUES ($1::vector, $2, $3, $4, $5)`, p.table)

	for start := 0; start < len(vs); start += batchSize {
		end := min(start+batchSize, len(vs))

		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		for pageStart := start; pageStart < end; pageStart += pageSize {
			pageEnd := min(pageStart+pageSize, end)

			batch := new(pgx.Batch)
			for _, v := range vs[pageStart:pageEnd] {
				metadata, err := json.Marshal(v.Metadata)
				if err != nil {
					_ = tx.Rollback(ctx)
					return fmt.Errorf("failed to marshal metadata: %w", err)
				}
				batch.Queue(query, vectorLiteral(v.Embedding), v.FileName, v.FilePosition, v.Content, metadata)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("failed to send batch: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit batch: %w", err)
		}
		p.logger.Debug("Inserted batch", "from", start, "to", end, "total", len(vs))
	}

	return nil
}

// Query returns the k rows closest to embedding under the named distance,
// ascending. Ties break on id, keeping the order deterministic.
func (p Postgres) Query(ctx context.Context, embedding []float32, k int, distance goagenticrag.Distance) ([]goagenticrag.Vector, error) {
	op, ok := distanceOps[distance]
	if !ok {
		return nil, fmt.Errorf("%w: %s", goagenticrag.ErrUnsupportedDistance, distance)
	}

	query := fmt.Sprintf(`
		SELECT id, embedding::text, file_name, file_position, content, metadata, updated_at,
			embedding %s $1::vector AS distance
		FROM %s
		ORDER BY distance, id
		LIMIT $2`, op, p.table)

	rows, err := p.pool.Query(ctx, query, vectorLiteral(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var result []goagenticrag.Vector
	for rows.Next() {
		var (
			v        goagenticrag.Vector
			raw      string
			metadata []byte
			dist     float64
		)
		if err := rows.Scan(&v.ID, &raw, &v.FileName, &v.FilePosition, &v.Content, &metadata, &v.UpdatedAt, &dist); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if v.Embedding, err = parseVectorLiteral(raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &v.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return result, nil
}

// File returns all rows of one source file ordered by position.
func (p Postgres) File(ctx context.Context, name string) ([]goagenticrag.Vector, error) {
	query := fmt.Sprintf(`
		SELECT id, embedding::text, file_name, file_position, content, metadata, updated_at
		FROM %s
		WHERE file_name = $1
		ORDER BY file_position`, p.table)

	rows, err := p.pool.Query(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query file rows: %w", err)
	}
	defer rows.Close()

	var result []goagenticrag.Vector
	for rows.Next() {
		var (
			v        goagenticrag.Vector
			raw      string
			metadata []byte
		)
		if err := rows.Scan(&v.ID, &raw, &v.FileName, &v.FilePosition, &v.Content, &metadata, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if v.Embedding, err = parseVectorLiteral(raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &v.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return result, nil
}

// DeleteFile removes all rows of one source file.
func (p Postgres) DeleteFile(ctx context.Context, name string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE file_name = $1", p.table)
	if _, err := p.pool.Exec(ctx, query, name); err != nil {
		return fmt.Errorf("failed to delete file rows: %w", err)
	}
	return nil
}

// Clear removes all rows, keeping the table.
func (p Postgres) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", p.table)); err != nil {
		return fmt.Errorf("failed to truncate table: %w", err)
	}
	return nil
}

// Drop removes the table entirely.
func (p Postgres) Drop(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", p.table)); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	return nil
}

// vectorLiteral renders an embedding in pgvector's input syntax.
func vectorLiteral(embedding []float32) string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, v := range embedding {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	sb.WriteString("]")
	return sb.String()
}

func parseVectorLiteral(raw string) ([]float32, error) {
	raw = strings.Trim(strings.TrimSpace(raw), "[]")
	if raw == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	embedding := make([]float32, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse vector element %q: %w", part, err)
		}
		embedding[i] = float32(f)
	}
	return embedding, nil
}
