package storage_test

import (
	"context"
	"errors"
	"testing"

	goagenticrag "github.com/MegaGrindStone/go-agentic-rag"
	"github.com/MegaGrindStone/go-agentic-rag/storage"
)

func seedChromem(t *testing.T) (*storage.Chromem, []goagenticrag.Vector) {
	t.Helper()

	store, err := storage.NewChromem("test", 2, nil)
	if err != nil {
		t.Fatalf("NewChromem failed: %v", err)
	}

	vectors := []goagenticrag.Vector{
		{Embedding: []float32{1, 0}, FileName: "a.md", FilePosition: 0, Content: "first", Metadata: map[string]string{"source": "A"}},
		{Embedding: []float32{0, 1}, FileName: "a.md", FilePosition: 1, Content: "second", Metadata: map[string]string{"source": "A"}},
		{Embedding: []float32{0.6, 0.8}, FileName: "b.md", FilePosition: 0, Content: "third", Metadata: map[string]string{}},
	}
	if err := store.BatchInsert(context.Background(), vectors, 0, 0); err != nil {
		t.Fatalf("BatchInsert failed: %v", err)
	}

	return store, vectors
}

func TestChromem_RetrievalSanity(t *testing.T) {
	store, vectors := seedChromem(t)
	ctx := context.Background()

	for _, v := range vectors {
		got, err := store.Query(ctx, v.Embedding, 1, goagenticrag.DistanceCosine)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("Query returned %d rows, want 1", len(got))
		}
		if got[0].Content != v.Content {
			t.Errorf("Query(%v) top hit = %q, want %q", v.Embedding, got[0].Content, v.Content)
		}
	}
}

func TestChromem_QueryIsDeterministic(t *testing.T) {
	store, _ := seedChromem(t)
	ctx := context.Background()

	first, err := store.Query(ctx, []float32{1, 0}, 3, goagenticrag.DistanceCosine)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	for range 5 {
		again, err := store.Query(ctx, []float32{1, 0}, 3, goagenticrag.DistanceCosine)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("result size changed across identical queries")
		}
		for i := range again {
			if again[i].ID != first[i].ID {
				t.Fatalf("result order changed across identical queries")
			}
		}
	}
}

func TestChromem_UnsupportedDistance(t *testing.T) {
	store, _ := seedChromem(t)

	for _, distance := range []goagenticrag.Distance{
		goagenticrag.DistanceL2,
		goagenticrag.DistanceInnerProduct,
		goagenticrag.DistanceL1,
		goagenticrag.DistanceHamming,
		goagenticrag.DistanceJaccard,
	} {
		_, err := store.Query(context.Background(), []float32{1, 0}, 1, distance)
		if !errors.Is(err, goagenticrag.ErrUnsupportedDistance) {
			t.Errorf("Query(%s) err = %v, want ErrUnsupportedDistance", distance, err)
		}
	}
}

func TestChromem_RejectsWrongDimension(t *testing.T) {
	store, _ := seedChromem(t)

	err := store.Insert(context.Background(), goagenticrag.Vector{
		Embedding: []float32{1, 0, 0},
		FileName:  "c.md",
	})
	if !errors.Is(err, goagenticrag.ErrDimensionMismatch) {
		t.Fatalf("Insert err = %v, want ErrDimensionMismatch", err)
	}

	_, err = store.Query(context.Background(), []float32{1}, 1, goagenticrag.DistanceCosine)
	if !errors.Is(err, goagenticrag.ErrDimensionMismatch) {
		t.Fatalf("Query err = %v, want ErrDimensionMismatch", err)
	}
}

func TestChromem_FileAndDeleteFile(t *testing.T) {
	store, _ := seedChromem(t)
	ctx := context.Background()

	rows, err := store.File(ctx, "a.md")
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("File returned %d rows, want 2", len(rows))
	}
	if rows[0].FilePosition != 0 || rows[1].FilePosition != 1 {
		t.Errorf("rows out of insertion order: %+v", rows)
	}

	if err := store.DeleteFile(ctx, "a.md"); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	rows, err = store.File(ctx, "a.md")
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("File returned %d rows after delete, want 0", len(rows))
	}

	// The other file stays queryable.
	got, err := store.Query(ctx, []float32{0.6, 0.8}, 1, goagenticrag.DistanceCosine)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 1 || got[0].Content != "third" {
		t.Errorf("Query after delete = %+v, want the remaining row", got)
	}
}

func TestChromem_Clear(t *testing.T) {
	store, _ := seedChromem(t)
	ctx := context.Background()

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	got, err := store.Query(ctx, []float32{1, 0}, 1, goagenticrag.DistanceCosine)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Query after clear returned %d rows, want 0", len(got))
	}

	// The store stays usable after a wipe.
	err = store.Insert(ctx, goagenticrag.Vector{
		Embedding: []float32{1, 0}, FileName: "d.md", Content: "fresh",
	})
	if err != nil {
		t.Fatalf("Insert after clear failed: %v", err)
	}
}
