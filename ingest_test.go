package goagenticrag_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	goagenticrag "github.com/MegaGrindStone/go-agentic-rag"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubHandler struct{}

func (stubHandler) ChunkDocument(content, fileName string, _ time.Time) ([]goagenticrag.Chunk, error) {
	return []goagenticrag.Chunk{{
		Content:      content,
		FileName:     fileName,
		FilePosition: 0,
		Metadata:     map[string]string{},
	}}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string, _ string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) Tokenize(text string) ([]int, error) { return make([]int, len(text)), nil }

func (stubEmbedder) Dimension() int { return 2 }

func (stubEmbedder) MaxTokens() int { return 512 }

func (s stubEmbedder) Clone() goagenticrag.EmbeddingModel { return s }

// recordingStorage tracks operations so the tests can assert on churn.
type recordingStorage struct {
	mu      sync.Mutex
	rows    map[string][]goagenticrag.Vector
	inserts int
	deletes int
	clears  int
}

func newRecordingStorage() *recordingStorage {
	return &recordingStorage{rows: map[string][]goagenticrag.Vector{}}
}

func (r *recordingStorage) Insert(_ context.Context, v goagenticrag.Vector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v.UpdatedAt = time.Now()
	r.rows[v.FileName] = append(r.rows[v.FileName], v)
	r.inserts++
	return nil
}

func (r *recordingStorage) BatchInsert(ctx context.Context, vs []goagenticrag.Vector, _, _ int) error {
	for _, v := range vs {
		if err := r.Insert(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func (r *recordingStorage) Query(context.Context, []float32, int, goagenticrag.Distance) ([]goagenticrag.Vector, error) {
	return nil, nil
}

func (r *recordingStorage) File(_ context.Context, name string) ([]goagenticrag.Vector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[name], nil
}

func (r *recordingStorage) DeleteFile(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, name)
	r.deletes++
	return nil
}

func (r *recordingStorage) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = map[string][]goagenticrag.Vector{}
	r.clears++
	return nil
}

func (r *recordingStorage) Drop(ctx context.Context) error { return r.Clear(ctx) }

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return root
}

func TestIngest_CreateMode(t *testing.T) {
	root := writeCorpus(t, map[string]string{
		"a.md":       "# A\n\ncontent a\n",
		"sub/b.md":   "# B\n\ncontent b\n",
		"notes.txt":  "not markdown",
		"sub/c.json": "{}",
	})
	store := newRecordingStorage()

	err := goagenticrag.Ingest(context.Background(), root,
		stubHandler{}, stubEmbedder{}, store, goagenticrag.ModeCreate, testLogger())
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if store.clears != 1 {
		t.Errorf("clears = %d, want 1", store.clears)
	}
	if len(store.rows) != 2 {
		t.Fatalf("ingested files = %d, want 2 (markdown only): %v", len(store.rows), store.rows)
	}
	if _, ok := store.rows["a.md"]; !ok {
		t.Error("a.md missing from store")
	}
	if _, ok := store.rows["sub/b.md"]; !ok {
		t.Error("sub/b.md missing from store, file names must be slash-separated relative paths")
	}
}

func TestIngest_UpdateModeIsIdempotent(t *testing.T) {
	root := writeCorpus(t, map[string]string{"a.md": "# A\n\ncontent a\n"})
	store := newRecordingStorage()
	ctx := context.Background()

	err := goagenticrag.Ingest(ctx, root,
		stubHandler{}, stubEmbedder{}, store, goagenticrag.ModeUpdate, testLogger())
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	if store.inserts != 1 {
		t.Fatalf("inserts after first run = %d, want 1", store.inserts)
	}

	// Unchanged directory: second run must not touch the store.
	err = goagenticrag.Ingest(ctx, root,
		stubHandler{}, stubEmbedder{}, store, goagenticrag.ModeUpdate, testLogger())
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}
	if store.inserts != 1 {
		t.Errorf("inserts after second run = %d, want 1 (no churn)", store.inserts)
	}
	if store.deletes != 0 {
		t.Errorf("deletes = %d, want 0", store.deletes)
	}
}

func TestIngest_UpdateModeReplacesStaleFile(t *testing.T) {
	root := writeCorpus(t, map[string]string{"a.md": "# A\n\nold content\n"})
	store := newRecordingStorage()
	ctx := context.Background()

	err := goagenticrag.Ingest(ctx, root,
		stubHandler{}, stubEmbedder{}, store, goagenticrag.ModeUpdate, testLogger())
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}

	// Backdate the stored rows, then touch the file forward.
	store.mu.Lock()
	rows := store.rows["a.md"]
	for i := range rows {
		rows[i].UpdatedAt = time.Now().Add(-time.Hour)
	}
	store.mu.Unlock()
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(filepath.Join(root, "a.md"), future, future); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}

	err = goagenticrag.Ingest(ctx, root,
		stubHandler{}, stubEmbedder{}, store, goagenticrag.ModeUpdate, testLogger())
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}

	if store.deletes != 1 {
		t.Errorf("deletes = %d, want 1 (stale rows replaced)", store.deletes)
	}
	if store.inserts != 2 {
		t.Errorf("inserts = %d, want 2", store.inserts)
	}
}

func TestIngest_HonorsIgnoreFile(t *testing.T) {
	root := writeCorpus(t, map[string]string{
		"a.md":        "# A\n\ncontent a\n",
		"drafts/b.md": "# B\n\ncontent b\n",
		"internal.md": "# Internal\n\nskip me\n",
		".ragignore":  "drafts/\ninternal.md\n",
	})
	store := newRecordingStorage()

	err := goagenticrag.Ingest(context.Background(), root,
		stubHandler{}, stubEmbedder{}, store, goagenticrag.ModeCreate, testLogger())
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if len(store.rows) != 1 {
		t.Fatalf("ingested files = %d, want 1: %v", len(store.rows), store.rows)
	}
	if _, ok := store.rows["a.md"]; !ok {
		t.Error("a.md missing from store")
	}
}

func TestIngest_RejectsUnknownMode(t *testing.T) {
	err := goagenticrag.Ingest(context.Background(), t.TempDir(),
		stubHandler{}, stubEmbedder{}, newRecordingStorage(), "upsert", testLogger())
	if err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}
