package search

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisorhq/advisor/internal/corpus"
	"github.com/advisorhq/advisor/internal/index"
	"github.com/advisorhq/advisor/internal/log"
)

// mockEmbedder implements ai.Embedder with a fixed vector per input text.
type mockEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	embedErr error
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(api.Registry) {}

func (m *mockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}

	var text string
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		text = req.Input[0].Content[0].Text
	}

	vec, ok := m.vectors[text]
	if !ok {
		vec = m.fallback
	}
	return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: vec}}}, nil
}

// unitVec returns a 2D unit vector whose cosine similarity with (1, 0) is s.
func unitVec(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s))}
}

func testEntry(category, advice string) corpus.Entry {
	return corpus.Entry{
		Category:      category,
		SubCategory:   "general",
		Advice:        advice,
		DisplayAdvice: advice,
	}
}

// buildTestIndex builds an index whose entry vectors give the listed direct
// similarities against the query vector (1, 0).
func buildTestIndex(t *testing.T, emb *mockEmbedder, entries []corpus.Entry) *index.Index {
	t.Helper()

	builder, err := index.NewBuilder(index.BuilderConfig{
		Embedder:  emb,
		Model:     "mock-model",
		CachePath: filepath.Join(t.TempDir(), "embeddings.json"),
		Logger:    log.NewNop(),
	})
	require.NoError(t, err)

	idx, err := builder.Build(context.Background(), corpus.NewRepository(entries))
	require.NoError(t, err)
	return idx
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"scaled copies still identical", []float32{1, 1}, []float32{5, 5}, 1},
		{"empty a", nil, []float32{1, 2}, 0},
		{"empty b", []float32{1, 2}, nil, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"zero magnitude", []float32{0, 0}, []float32{1, 2}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}

func TestCosineSimilarity_StaysInRange(t *testing.T) {
	// Large same-direction vectors accumulate float drift; the result must
	// still respect the contract.
	a := make([]float32, 1000)
	for i := range a {
		a[i] = 0.1
	}
	sim := CosineSimilarity(a, a)
	assert.LessOrEqual(t, sim, 1.0)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

func TestNewEngine_RejectsBadWeights(t *testing.T) {
	emb := &mockEmbedder{fallback: unitVec(0.5)}
	idx := buildTestIndex(t, emb, []corpus.Entry{testEntry("career", "negotiate early")})

	_, err := NewEngine(EngineConfig{
		Index:          idx,
		Embedder:       emb,
		DirectWeight:   0.8,
		CategoryWeight: 0.1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1")
}

func TestSearch_SortsAndFiltersByThreshold(t *testing.T) {
	low := testEntry("career", "low relevance advice")
	mid := testEntry("career", "mid relevance advice")
	high := testEntry("career", "high relevance advice")

	emb := &mockEmbedder{
		vectors: map[string][]float32{
			"query": {1, 0},
			low.SearchText(): unitVec(0.2),
			mid.SearchText(): unitVec(0.6),
			high.SearchText(): unitVec(0.9),
		},
		fallback: unitVec(0),
	}
	// Corpus order deliberately differs from similarity order.
	idx := buildTestIndex(t, emb, []corpus.Entry{low, mid, high})

	engine, err := NewEngine(EngineConfig{
		Index:          idx,
		Embedder:       emb,
		DirectWeight:   1.0,
		CategoryWeight: 0.0,
		Logger:         log.NewNop(),
	})
	require.NoError(t, err)

	results, err := engine.Search(context.Background(), "query", 0.3)
	require.NoError(t, err)

	// 0.2 falls below the threshold; the rest come back sorted descending.
	require.Len(t, results, 2)
	assert.Equal(t, high.Advice, results[0].Entry.Advice)
	assert.Equal(t, mid.Advice, results[1].Entry.Advice)
	assert.InDelta(t, 0.9, results[0].Similarity, 1e-6)
	assert.InDelta(t, 0.6, results[1].Similarity, 1e-6)
}

func TestSearch_EmptyResultIsNotAnError(t *testing.T) {
	entry := testEntry("career", "unrelated advice")
	emb := &mockEmbedder{
		vectors: map[string][]float32{
			"query": {1, 0},
			entry.SearchText(): unitVec(0.1),
		},
		fallback: unitVec(0),
	}
	idx := buildTestIndex(t, emb, []corpus.Entry{entry})

	engine, err := NewEngine(EngineConfig{
		Index:        idx,
		Embedder:     emb,
		DirectWeight: 1.0,
		Logger:       log.NewNop(),
	})
	require.NoError(t, err)

	results, err := engine.Search(context.Background(), "query", 0.5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_BlendsCategorySimilarity(t *testing.T) {
	entry := testEntry("career", "salary advice")
	emb := &mockEmbedder{
		vectors: map[string][]float32{
			"query": {1, 0},
			entry.SearchText(): unitVec(0.6),
			"career": unitVec(1.0),
		},
		fallback: unitVec(0),
	}
	idx := buildTestIndex(t, emb, []corpus.Entry{entry})

	engine, err := NewEngine(EngineConfig{
		Index:          idx,
		Embedder:       emb,
		DirectWeight:   0.5,
		CategoryWeight: 0.5,
		Logger:         log.NewNop(),
	})
	require.NoError(t, err)

	results, err := engine.Search(context.Background(), "query", 0)
	require.NoError(t, err)

	require.Len(t, results, 1)
	// 0.6*0.5 + 1.0*0.5
	assert.InDelta(t, 0.8, results[0].Similarity, 1e-6)
}

func TestSearch_EmbedderFailureWrapsSentinel(t *testing.T) {
	entry := testEntry("career", "some advice")
	goodEmb := &mockEmbedder{fallback: unitVec(0.5)}
	idx := buildTestIndex(t, goodEmb, []corpus.Entry{entry})

	engine, err := NewEngine(EngineConfig{
		Index:        idx,
		Embedder:     &mockEmbedder{embedErr: errors.New("provider down")},
		DirectWeight: 1.0,
		Logger:       log.NewNop(),
	})
	require.NoError(t, err)

	_, err = engine.Search(context.Background(), "query", 0.3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryEmbedding)
}

func TestSearch_DeterministicOnTies(t *testing.T) {
	first := testEntry("career", "first tied advice")
	second := testEntry("career", "second tied advice")
	emb := &mockEmbedder{
		vectors: map[string][]float32{
			"query": {1, 0},
			first.SearchText(): unitVec(0.7),
			second.SearchText(): unitVec(0.7),
		},
		fallback: unitVec(0),
	}
	idx := buildTestIndex(t, emb, []corpus.Entry{first, second})

	engine, err := NewEngine(EngineConfig{
		Index:        idx,
		Embedder:     emb,
		DirectWeight: 1.0,
		Logger:       log.NewNop(),
	})
	require.NoError(t, err)

	for range 5 {
		results, err := engine.Search(context.Background(), "query", 0)
		require.NoError(t, err)
		require.Len(t, results, 2)
		// Ties keep corpus order.
		assert.Equal(t, first.Advice, results[0].Entry.Advice)
		assert.Equal(t, second.Advice, results[1].Entry.Advice)
	}
}
