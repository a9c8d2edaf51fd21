// Package index builds and holds the embedding index over the advice corpus.
//
// The index stores one embedding vector per corpus entry plus one per
// distinct category. It is built once at startup and then shared read-only
// by every request; no locking is needed after Build returns.
//
// Build is idempotent under caching: a persisted manifest (see cache.go) is
// loaded when its version and embedding model match the current build, a
// .backup sibling is tried next, and only then are embeddings recomputed.
// Recomputation is guarded by an advisory file lock so that one process in a
// multi-process deployment does the work while the others wait for the fresh
// cache.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/gofrs/flock"

	"github.com/advisorhq/advisor/internal/corpus"
)

var (
	// ErrBuildFailed indicates the embedding provider failed during index
	// construction. Fatal: initialization cannot proceed.
	ErrBuildFailed = errors.New("index build failed")

	// ErrLockTimeout indicates another process held the build lock longer
	// than the configured timeout. Fatal rather than deadlocking.
	ErrLockTimeout = errors.New("timed out waiting for index build lock")
)

// EmbeddingRecord pairs a corpus entry with its embedding vector.
// Created during Build, never mutated, replaced wholesale on rebuild.
type EmbeddingRecord struct {
	Entry  corpus.Entry `json:"entry"`
	Vector []float32    `json:"vector"`
}

// Index is the immutable embedding index.
type Index struct {
	records    []EmbeddingRecord
	categories map[string][]float32
	model      string
}

// Records returns all embedding records in corpus order. Callers must not
// modify the returned slice.
func (idx *Index) Records() []EmbeddingRecord {
	return idx.records
}

// CategoryVector returns the embedding for a category value.
func (idx *Index) CategoryVector(category string) ([]float32, bool) {
	v, ok := idx.categories[category]
	return v, ok
}

// Model returns the embedding model the index was built with.
func (idx *Index) Model() string {
	return idx.model
}

// Len returns the number of indexed entries.
func (idx *Index) Len() int {
	return len(idx.records)
}

// Builder constructs the index, consulting the persisted cache first.
type Builder struct {
	embedder     ai.Embedder
	model        string
	cachePath    string
	lockTimeout  time.Duration
	pollInterval time.Duration
	callTimeout  time.Duration
	logger       *slog.Logger
}

// BuilderConfig contains required parameters for a Builder.
type BuilderConfig struct {
	Embedder     ai.Embedder
	Model        string        // embedding model ID, recorded in the manifest
	CachePath    string        // manifest location; .lock and .backup siblings share the directory
	LockTimeout  time.Duration // how long to wait for another process's build
	PollInterval time.Duration // wait between lock attempts
	CallTimeout  time.Duration // per embedding call
	Logger       *slog.Logger  // nil = slog.Default()
}

// NewBuilder creates a Builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	if cfg.CachePath == "" {
		return nil, errors.New("cache path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Minute
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &Builder{
		embedder:     cfg.Embedder,
		model:        cfg.Model,
		cachePath:    cfg.CachePath,
		lockTimeout:  lockTimeout,
		pollInterval: pollInterval,
		callTimeout:  cfg.CallTimeout,
		logger:       logger,
	}, nil
}

// Build returns the index for the given corpus, loading the cache when
// possible and computing embeddings otherwise. Embedding provider errors
// during computation are fatal.
func (b *Builder) Build(ctx context.Context, repo *corpus.Repository) (*Index, error) {
	if idx := b.tryLoadCache(); idx != nil {
		return idx, nil
	}

	return b.buildLocked(ctx, repo, false)
}

// Rebuild recomputes all embeddings unconditionally, ignoring any existing
// cache. Used by the reindex command after corpus or model changes.
func (b *Builder) Rebuild(ctx context.Context, repo *corpus.Repository) (*Index, error) {
	return b.buildLocked(ctx, repo, true)
}

// tryLoadCache attempts the manifest and then its .backup copy. A cache that
// fails validation is treated as absent, never as an error.
func (b *Builder) tryLoadCache() *Index {
	idx, err := loadManifest(b.cachePath, b.model)
	if err == nil {
		b.logger.Info("loaded embedding cache", "path", b.cachePath, "entries", idx.Len())
		return idx
	}
	b.logger.Debug("embedding cache unavailable", "path", b.cachePath, "reason", err)

	backup := b.cachePath + backupSuffix
	idx, err = loadManifest(backup, b.model)
	if err == nil {
		b.logger.Warn("restored embedding cache from backup", "path", backup, "entries", idx.Len())
		// Best-effort: promote the backup so the next start loads directly.
		if saveErr := saveManifest(b.cachePath, idx); saveErr != nil {
			b.logger.Warn("promoting backup cache", "error", saveErr)
		}
		return idx
	}
	b.logger.Debug("backup cache unavailable", "path", backup, "reason", err)

	return nil
}

// buildLocked computes embeddings under the cross-process file lock.
// Processes that lose the race poll for the lock; once acquired they try the
// cache again before computing, since the winner has usually just written it.
// With force set the post-lock cache check is skipped and embeddings are
// always recomputed.
func (b *Builder) buildLocked(ctx context.Context, repo *corpus.Repository, force bool) (*Index, error) {
	lock := flock.New(b.cachePath + lockSuffix)
	deadline := time.Now().Add(b.lockTimeout)

	for {
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("%w: acquiring build lock: %v", ErrBuildFailed, err)
		}
		if locked {
			break
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: held for over %s", ErrLockTimeout, b.lockTimeout)
		}

		b.logger.Info("waiting for another process to build the index")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrBuildFailed, ctx.Err())
		case <-time.After(b.pollInterval):
		}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			b.logger.Warn("releasing build lock", "error", err)
		}
	}()

	// Another process may have finished the build while we waited.
	if !force {
		if idx := b.tryLoadCache(); idx != nil {
			return idx, nil
		}
	}

	idx, err := b.compute(ctx, repo)
	if err != nil {
		return nil, err
	}

	if err := b.persist(idx); err != nil {
		// The index itself is fine; failing to cache is not fatal.
		b.logger.Warn("persisting embedding cache", "error", err)
	}

	return idx, nil
}

// compute embeds every distinct category and every corpus entry.
func (b *Builder) compute(ctx context.Context, repo *corpus.Repository) (*Index, error) {
	start := time.Now()
	b.logger.Info("computing embeddings",
		"entries", repo.Len(),
		"categories", len(repo.Categories()),
		"model", b.model)

	categories := make(map[string][]float32, len(repo.Categories()))
	for _, category := range repo.Categories() {
		vec, err := b.embedText(ctx, category)
		if err != nil {
			return nil, fmt.Errorf("%w: embedding category %q: %v", ErrBuildFailed, category, err)
		}
		categories[category] = vec
	}

	entries := repo.Entries()
	records := make([]EmbeddingRecord, 0, len(entries))
	for i, entry := range entries {
		vec, err := b.embedText(ctx, entry.SearchText())
		if err != nil {
			return nil, fmt.Errorf("%w: embedding entry %d: %v", ErrBuildFailed, i, err)
		}
		records = append(records, EmbeddingRecord{Entry: entry, Vector: vec})
	}

	b.logger.Info("embeddings computed", "duration", time.Since(start))

	return &Index{records: records, categories: categories, model: b.model}, nil
}

func (b *Builder) embedText(ctx context.Context, text string) ([]float32, error) {
	if b.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	resp, err := b.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("provider returned empty embedding")
	}

	return resp.Embeddings[0].Embedding, nil
}

// persist writes the manifest, preserving the prior valid cache as .backup
// before overwriting it.
func (b *Builder) persist(idx *Index) error {
	if prior, err := loadManifest(b.cachePath, b.model); err == nil && prior.Len() > 0 {
		if err := saveManifest(b.cachePath+backupSuffix, prior); err != nil {
			return fmt.Errorf("writing backup cache: %w", err)
		}
	}

	if err := saveManifest(b.cachePath, idx); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}

	b.logger.Info("embedding cache written", "path", b.cachePath, "entries", idx.Len())
	return nil
}
