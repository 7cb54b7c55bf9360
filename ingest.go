package goagenticrag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// IngestMode selects how the embedding routine treats existing rows.
type IngestMode string

const (
	// ModeCreate wipes the collection and re-ingests everything.
	ModeCreate IngestMode = "create"
	// ModeUpdate ingests only files that are new or whose modification time
	// is newer than their stored rows.
	ModeUpdate IngestMode = "update"
)

// RagIgnoreFile is the name of the optional ignore file at the corpus root.
// It uses gitignore syntax; matched paths are skipped during ingestion.
const RagIgnoreFile = ".ragignore"

// Ingest walks the directory tree under root, parses and chunks every .md
// file, embeds the chunks, and upserts them into the vector store. File names
// are stored relative to root. Non-markdown files are silently ignored, and a
// file that fails to parse is logged and skipped; ingestion continues.
func Ingest(
	ctx context.Context,
	root string,
	handler DocumentHandler,
	embedder EmbeddingModel,
	storage VectorStorage,
	mode IngestMode,
	logger *slog.Logger,
) error {
	if mode != ModeCreate && mode != ModeUpdate {
		return fmt.Errorf("mode must be either %q or %q", ModeCreate, ModeUpdate)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		slog.String("package", "goagenticrag"),
		slog.String("function", "Ingest"),
	)

	if mode == ModeCreate {
		if err := storage.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear collection: %w", err)
		}
	}

	var matcher *ignore.GitIgnore
	ignorePath := filepath.Join(root, RagIgnoreFile)
	if _, err := os.Stat(ignorePath); err == nil {
		matcher, err = ignore.CompileIgnoreFile(ignorePath)
		if err != nil {
			return fmt.Errorf("failed to compile %s: %w", RagIgnoreFile, err)
		}
		logger.Debug("Compiled ignore file", "path", ignorePath)
	}

	processed := 0

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if matcher != nil && rel != "." && matcher.MatchesPath(rel) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			return nil
		}

		if err := ingestFile(ctx, path, filepath.ToSlash(rel), handler, embedder, storage, mode, logger); err != nil {
			return err
		}

		processed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", root, err)
	}

	logger.Info("Ingestion done", "files", processed, "mode", string(mode))

	return nil
}

func ingestFile(
	ctx context.Context,
	path, name string,
	handler DocumentHandler,
	embedder EmbeddingModel,
	storage VectorStorage,
	mode IngestMode,
	logger *slog.Logger,
) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	chunks, err := handler.ChunkDocument(string(data), name, info.ModTime())
	if err != nil {
		var parseErr ParseError
		if errors.As(err, &parseErr) {
			logger.Warn("Skipping file, parse failed", "file", name, "error", err)
			return nil
		}
		return fmt.Errorf("failed to chunk %s: %w", name, err)
	}
	if len(chunks) == 0 {
		logger.Debug("No chunks emitted", "file", name)
		return nil
	}

	contents := make([]string, len(chunks))
	for i, chunk := range chunks {
		contents[i] = chunk.Content
	}

	embeddings, err := embedder.Embed(ctx, contents, "")
	if err != nil {
		return fmt.Errorf("failed to embed chunks of %s: %w", name, err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedding count %d does not match chunk count %d for %s",
			len(embeddings), len(chunks), name)
	}

	vectors := make([]Vector, len(chunks))
	for i, chunk := range chunks {
		vectors[i] = VectorFromChunk(chunk, embeddings[i])
	}

	switch mode {
	case ModeCreate:
		if err := storage.BatchInsert(ctx, vectors, 0, 0); err != nil {
			return fmt.Errorf("failed to insert vectors of %s: %w", name, err)
		}
	case ModeUpdate:
		existing, err := storage.File(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to fetch existing rows of %s: %w", name, err)
		}
		if len(existing) == 0 {
			if err := storage.BatchInsert(ctx, vectors, 0, 0); err != nil {
				return fmt.Errorf("failed to insert vectors of %s: %w", name, err)
			}
			break
		}

		stale := false
		for _, row := range existing {
			if row.UpdatedAt.Before(info.ModTime()) {
				stale = true
				break
			}
		}
		if !stale {
			logger.Debug("File unchanged, skipping", "file", name)
			return nil
		}

		if err := storage.DeleteFile(ctx, name); err != nil {
			return fmt.Errorf("failed to delete stale rows of %s: %w", name, err)
		}
		if err := storage.BatchInsert(ctx, vectors, 0, 0); err != nil {
			return fmt.Errorf("failed to insert vectors of %s: %w", name, err)
		}
	}

	logger.Info("Ingested file", "file", name, "chunks", len(chunks))

	return nil
}
