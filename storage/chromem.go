package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	goagenticrag "github.com/MegaGrindStone/go-agentic-rag"
	"github.com/cespare/xxhash"
	"github.com/philippgille/chromem-go"
)

// Chromem implements the VectorStorage interface on an in-memory chromem-go
// collection. It supports cosine distance only and lives for the process;
// use Postgres for persistence and the full distance set.
type Chromem struct {
	db        *chromem.DB
	coll      *chromem.Collection
	name      string
	dimension int

	mu   *sync.Mutex
	rows map[int64]goagenticrag.Vector
	// file name -> IDs in insertion order
	files map[string][]int64

	logger *slog.Logger
}

// NewChromem creates an embedded store with a fixed dimension. The logger may
// be nil.
func NewChromem(name string, dimension int, logger *slog.Logger) (*Chromem, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db := chromem.NewDB()
	coll, err := db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return &Chromem{
		db:        db,
		coll:      coll,
		name:      name,
		dimension: dimension,
		mu:        new(sync.Mutex),
		rows:      make(map[int64]goagenticrag.Vector),
		files:     make(map[string][]int64),
		logger:    logger.With(slog.String("package", "storage"), slog.String("collection", name)),
	}, nil
}

// noEmbedding guards against chromem embedding on our behalf; every document
// carries a precomputed embedding.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("documents must carry precomputed embeddings")
}

// rowID derives a deterministic ID from the row's source coordinates, giving
// stable tie-break ordering across runs.
func rowID(fileName string, filePosition int) int64 {
	return int64(xxhash.Sum64String(fileName + "#" + strconv.Itoa(filePosition)))
}

// Insert stores a single vector. Re-inserting the same file position
// overwrites the previous row.
func (c *Chromem) Insert(ctx context.Context, v goagenticrag.Vector) error {
	return c.add(ctx, []goagenticrag.Vector{v})
}

// BatchInsert stores vectors in batches; pageSize is ignored, the store is
// embedded. Zero batchSize selects the default of 1000.
func (c *Chromem) BatchInsert(ctx context.Context, vs []goagenticrag.Vector, batchSize, _ int) error {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	for start := 0; start < len(vs); start += batchSize {
		end := min(start+batchSize, len(vs))
		if err := c.add(ctx, vs[start:end]); err != nil {
			return err
		}
		c.logger.Debug("Inserted batch", "from", start, "to", end, "total", len(vs))
	}
	return nil
}

func (c *Chromem) add(ctx context.Context, vs []goagenticrag.Vector) error {
	if len(vs) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(vs))
	for i, v := range vs {
		if len(v.Embedding) != c.dimension {
			return fmt.Errorf("%w: embedding has dimension %d, want %d",
				goagenticrag.ErrDimensionMismatch, len(v.Embedding), c.dimension)
		}
		docs[i] = chromem.Document{
			ID:        strconv.FormatInt(rowID(v.FileName, v.FilePosition), 10),
			Content:   v.Content,
			Embedding: v.Embedding,
		}
	}

	if err := c.coll.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, v := range vs {
		id := rowID(v.FileName, v.FilePosition)
		v.ID = id
		v.UpdatedAt = now
		if _, exists := c.rows[id]; !exists {
			c.files[v.FileName] = append(c.files[v.FileName], id)
		}
		c.rows[id] = v
	}

	return nil
}

// Query returns the k rows closest to embedding under cosine distance,
// ascending, ties broken on ID. Other distances return
// ErrUnsupportedDistance.
func (c *Chromem) Query(ctx context.Context, embedding []float32, k int, distance goagenticrag.Distance) ([]goagenticrag.Vector, error) {
	if distance != goagenticrag.DistanceCosine {
		return nil, fmt.Errorf("%w: %s", goagenticrag.ErrUnsupportedDistance, distance)
	}
	if len(embedding) != c.dimension {
		return nil, fmt.Errorf("%w: embedding has dimension %d, want %d",
			goagenticrag.ErrDimensionMismatch, len(embedding), c.dimension)
	}

	if count := c.coll.Count(); k > count {
		k = count
	}
	if k == 0 {
		return nil, nil
	}

	results, err := c.coll.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	type scored struct {
		vector   goagenticrag.Vector
		distance float32
	}

	c.mu.Lock()
	rows := make([]scored, 0, len(results))
	for _, result := range results {
		id, err := strconv.ParseInt(result.ID, 10, 64)
		if err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("failed to parse row ID %q: %w", result.ID, err)
		}
		row, ok := c.rows[id]
		if !ok {
			continue
		}
		rows = append(rows, scored{vector: row, distance: 1 - result.Similarity})
	}
	c.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].distance != rows[j].distance {
			return rows[i].distance < rows[j].distance
		}
		return rows[i].vector.ID < rows[j].vector.ID
	})

	out := make([]goagenticrag.Vector, len(rows))
	for i, row := range rows {
		out[i] = row.vector
	}
	return out, nil
}

// File returns all rows of one source file in insertion order.
func (c *Chromem) File(_ context.Context, name string) ([]goagenticrag.Vector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.files[name]
	out := make([]goagenticrag.Vector, 0, len(ids))
	for _, id := range ids {
		if row, ok := c.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// DeleteFile removes all rows of one source file.
func (c *Chromem) DeleteFile(ctx context.Context, name string) error {
	c.mu.Lock()
	ids := c.files[name]
	docIDs := make([]string, len(ids))
	for i, id := range ids {
		docIDs[i] = strconv.FormatInt(id, 10)
		delete(c.rows, id)
	}
	delete(c.files, name)
	c.mu.Unlock()

	if len(docIDs) == 0 {
		return nil
	}
	if err := c.coll.Delete(ctx, nil, nil, docIDs...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Clear removes all rows, keeping the collection usable.
func (c *Chromem) Clear(_ context.Context) error {
	if err := c.db.DeleteCollection(c.name); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	coll, err := c.db.GetOrCreateCollection(c.name, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("failed to recreate collection: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.coll = coll
	c.rows = make(map[int64]goagenticrag.Vector)
	c.files = make(map[string][]int64)
	return nil
}

// Drop is Clear for the embedded store; there is no table to remove.
func (c *Chromem) Drop(ctx context.Context) error {
	return c.Clear(ctx)
}
