// Package search implements semantic retrieval over the embedding index.
//
// A query is embedded once, scored against every indexed entry with a
// blended cosine similarity, and the results are returned sorted and
// threshold-filtered. Scoring is a synchronous O(n) scan over the corpus;
// fine for corpora in the low thousands.
//
// Quality selection — deciding how many of the ranked results are good
// enough to ground an answer — lives in quality.go.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/advisorhq/advisor/internal/corpus"
	"github.com/advisorhq/advisor/internal/index"
)

// ErrQueryEmbedding indicates the embedding provider failed on a live query.
// Fatal to that one request only.
var ErrQueryEmbedding = errors.New("query embedding failed")

// Result is one scored corpus entry, produced per query and never persisted.
type Result struct {
	Entry      corpus.Entry `json:"entry"`
	Similarity float64      `json:"similarity"`
}

// Engine scores queries against the index.
//
// The combined score is direct*wd + category*wc with wd+wc = 1. The weights
// are configuration: 1.0/0.0 (the default) means ungated direct similarity;
// a nonzero category weight blends in how close the query is to the entry's
// whole category.
type Engine struct {
	index          *index.Index
	embedder       ai.Embedder
	directWeight   float64
	categoryWeight float64
	callTimeout    time.Duration
	logger         *slog.Logger
}

// EngineConfig contains required parameters for an Engine.
type EngineConfig struct {
	Index          *index.Index
	Embedder       ai.Embedder
	DirectWeight   float64
	CategoryWeight float64
	CallTimeout    time.Duration // per query embedding call; 0 = no timeout
	Logger         *slog.Logger  // nil = slog.Default()
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Index == nil {
		return nil, errors.New("index is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if math.Abs(cfg.DirectWeight+cfg.CategoryWeight-1) > 1e-9 {
		return nil, fmt.Errorf("similarity weights must sum to 1, got %v + %v",
			cfg.DirectWeight, cfg.CategoryWeight)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		index:          cfg.Index,
		embedder:       cfg.Embedder,
		directWeight:   cfg.DirectWeight,
		categoryWeight: cfg.CategoryWeight,
		callTimeout:    cfg.CallTimeout,
		logger:         logger,
	}, nil
}

// Search embeds the query and returns every indexed entry whose combined
// similarity is at least threshold, sorted descending. Ties keep corpus
// order, so identical inputs always produce identical output. An empty
// result is a normal outcome, not an error; only a provider failure on the
// query embedding returns one.
func (e *Engine) Search(ctx context.Context, query string, threshold float64) ([]Result, error) {
	queryVec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryEmbedding, err)
	}

	records := e.index.Records()
	results := make([]Result, 0, len(records))
	for _, rec := range records {
		direct := CosineSimilarity(queryVec, rec.Vector)

		combined := direct * e.directWeight
		if e.categoryWeight > 0 {
			if catVec, ok := e.index.CategoryVector(rec.Entry.Category); ok {
				combined += CosineSimilarity(queryVec, catVec) * e.categoryWeight
			}
		}

		results = append(results, Result{Entry: rec.Entry, Similarity: combined})
	}

	// Stable keeps corpus order on ties for deterministic results.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	filtered := results[:0]
	for _, r := range results {
		if r.Similarity >= threshold {
			filtered = append(filtered, r)
		} else {
			break // sorted descending, nothing below passes
		}
	}

	e.logger.Debug("semantic search",
		"corpus", len(records),
		"matched", len(filtered),
		"threshold", threshold)

	return filtered, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(query, nil)},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("provider returned empty embedding")
	}

	return resp.Embeddings[0].Embedding, nil
}

// CosineSimilarity returns dot(a,b) / (|a|*|b|), in [-1, 1]. By convention
// it is 0 when either vector is empty or zero-magnitude; there is never a
// division by zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		magA += av * av
		magB += bv * bv
	}

	if magA == 0 || magB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(magA) * math.Sqrt(magB))

	// Clamp float drift so callers can rely on the [-1, 1] contract.
	switch {
	case sim > 1:
		return 1
	case sim < -1:
		return -1
	}
	return sim
}
