// Package indexer loads documents into the vector and keyword backends.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/ragbudget/internal/docstore"
	"github.com/ziadkadry99/ragbudget/internal/knowledge"
	"github.com/ziadkadry99/ragbudget/internal/vectordb"
	"github.com/ziadkadry99/ragbudget/internal/walker"
)

const (
	DefaultChunkWords   = 300
	DefaultOverlapWords = 40
	DefaultConcurrency  = 4
)

// ProgressFunc is called after each file with the number of files handled.
type ProgressFunc func(done, total int, relPath string)

// Options controls how files are labelled and split.
type Options struct {
	Category     knowledge.Category
	CompanyID    string
	ProjectID    string
	ChunkWords   int
	OverlapWords int
	Concurrency  int
	// Force reindexes files whose content hash is unchanged.
	Force bool
}

// Result summarizes an indexing run.
type Result struct {
	FilesIndexed int
	FilesSkipped int
	FilesFailed  int
	Chunks       int
	Errors       []error
	Duration     time.Duration
}

// Indexer writes chunks to both search backends.
type Indexer struct {
	vectors    vectordb.VectorStore
	docs       *docstore.Store
	dataDir    string
	opts       Options
	logger     *slog.Logger
	onProgress ProgressFunc

	// writeMu serializes SQLite writes.
	writeMu sync.Mutex
}

// New creates an Indexer. The vector store is persisted to dataDir after
// each run when dataDir is not empty.
func New(vectors vectordb.VectorStore, docs *docstore.Store, dataDir string, opts Options, logger *slog.Logger) *Indexer {
	if opts.Category == "" {
		opts.Category = knowledge.CategoryGeneral
	}
	if opts.ChunkWords <= 0 {
		opts.ChunkWords = DefaultChunkWords
	}
	if opts.OverlapWords <= 0 {
		opts.OverlapWords = DefaultOverlapWords
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{vectors: vectors, docs: docs, dataDir: dataDir, opts: opts, logger: logger}
}

// SetProgressFunc sets the progress callback.
func (ix *Indexer) SetProgressFunc(fn ProgressFunc) {
	ix.onProgress = fn
}

// Run indexes files concurrently. Per-file failures are collected in the
// result; only a failure to persist the vector store is returned as an
// error.
func (ix *Indexer) Run(ctx context.Context, files []walker.FileInfo) (*Result, error) {
	if !ix.opts.Category.Valid() {
		return nil, fmt.Errorf("indexer: unknown category %q", ix.opts.Category)
	}
	start := time.Now()
	res := &Result{}
	var mu sync.Mutex
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Concurrency)
	for _, f := range files {
		g.Go(func() error {
			chunks, skipped, err := ix.indexFile(gctx, f)

			mu.Lock()
			switch {
			case err != nil:
				res.FilesFailed++
				res.Errors = append(res.Errors, fmt.Errorf("index %s: %w", f.RelPath, err))
			case skipped:
				res.FilesSkipped++
			default:
				res.FilesIndexed++
				res.Chunks += chunks
			}
			mu.Unlock()

			n := int(done.Add(1))
			if ix.onProgress != nil {
				ix.onProgress(n, len(files), f.RelPath)
			}
			// Per-file errors never cancel the rest of the run.
			return nil
		})
	}
	_ = g.Wait()

	if ix.dataDir != "" && res.FilesIndexed > 0 {
		if err := ix.vectors.Persist(ctx, ix.dataDir); err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("indexer: persist vectors: %w", err)
		}
	}
	res.Duration = time.Since(start)
	ix.logger.Info("indexer: run complete",
		"indexed", res.FilesIndexed, "skipped", res.FilesSkipped,
		"failed", res.FilesFailed, "chunks", res.Chunks, "duration", res.Duration)
	return res, nil
}

func (ix *Indexer) indexFile(ctx context.Context, f walker.FileInfo) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if !ix.opts.Force {
		ix.writeMu.Lock()
		prev, ok, err := ix.docs.FileHash(ctx, f.RelPath)
		ix.writeMu.Unlock()
		if err != nil {
			return 0, false, err
		}
		if ok && prev == f.ContentHash {
			return 0, true, nil
		}
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, false, fmt.Errorf("read: %w", err)
	}
	text := string(data)
	title := Title(text, f.RelPath)
	chunks := Chunk(text, ix.opts.ChunkWords, ix.opts.OverlapWords)

	vecDocs := make([]vectordb.Document, len(chunks))
	rows := make([]docstore.Document, len(chunks))
	for i, c := range chunks {
		sourceID := fmt.Sprintf("%s#%d", f.RelPath, i)
		vecDocs[i] = vectordb.Document{
			ID:      sourceID,
			Content: c,
			Metadata: vectordb.DocumentMetadata{
				SourceID:    sourceID,
				Chunk:       i,
				Category:    ix.opts.Category,
				CompanyID:   ix.opts.CompanyID,
				ProjectID:   ix.opts.ProjectID,
				Title:       title,
				Path:        f.RelPath,
				ContentHash: f.ContentHash,
				CreatedAt:   f.ModTime,
			},
		}
		rows[i] = docstore.Document{
			ID:          sourceID,
			SourceID:    sourceID,
			Chunk:       i,
			Category:    ix.opts.Category,
			CompanyID:   ix.opts.CompanyID,
			ProjectID:   ix.opts.ProjectID,
			Title:       title,
			Path:        f.RelPath,
			Content:     c,
			ContentHash: f.ContentHash,
			CreatedAt:   f.ModTime,
		}
	}

	// Old chunks go first so a shorter file leaves no stale tail.
	if err := ix.vectors.DeleteByPath(ctx, f.RelPath); err != nil {
		return 0, false, err
	}
	if err := ix.vectors.AddDocuments(ctx, vecDocs); err != nil {
		return 0, false, err
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()
	if _, err := ix.docs.DeleteByPath(ctx, f.RelPath); err != nil {
		return 0, false, err
	}
	if err := ix.docs.Put(ctx, rows); err != nil {
		return 0, false, err
	}
	return len(chunks), false, nil
}
