package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/advisorhq/advisor/internal/corpus"
	"github.com/advisorhq/advisor/internal/log"
	"github.com/advisorhq/advisor/internal/message"
	"github.com/advisorhq/advisor/internal/search"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSearcher struct {
	results       []search.Result
	err           error
	lastQuery     string
	lastThreshold float64
}

func (f *fakeSearcher) Search(_ context.Context, query string, threshold float64) ([]search.Result, error) {
	f.lastQuery = query
	f.lastThreshold = threshold
	return f.results, f.err
}

type fakeModel struct {
	mu sync.Mutex

	generateText  string
	generateErr   error
	generateCalls int

	streamChunks []string
	streamErr    error

	lastSystem string
	lastPrompt string
}

func (f *fakeModel) Generate(_ context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls++
	f.lastSystem = system
	f.lastPrompt = prompt
	return f.generateText, f.generateErr
}

func (f *fakeModel) GenerateStream(_ context.Context, system, prompt string, onChunk func(context.Context, string) error) (string, error) {
	f.mu.Lock()
	f.lastSystem = system
	f.lastPrompt = prompt
	chunks := f.streamChunks
	streamErr := f.streamErr
	f.mu.Unlock()

	if streamErr != nil {
		return "", streamErr
	}

	var full strings.Builder
	for _, chunk := range chunks {
		if err := onChunk(context.Background(), chunk); err != nil {
			return "", err
		}
		full.WriteString(chunk)
	}
	return full.String(), nil
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls
}

func (f *fakeModel) prompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPrompt
}

// memStore is an in-memory MessageStore.
type memStore struct {
	mu   sync.Mutex
	msgs map[uuid.UUID]*message.Message

	attachFinalErr error
}

func newMemStore() *memStore {
	return &memStore{msgs: make(map[uuid.UUID]*message.Message)}
}

func (s *memStore) put(msg *message.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[msg.ID] = msg
}

func (s *memStore) AttachStage1(_ context.Context, id uuid.UUID, stage1 string, meta *message.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.msgs[id]
	if !ok {
		return message.ErrNotFound
	}
	msg.Stage1Response = &stage1
	msg.Metadata = meta
	return nil
}

func (s *memStore) AttachFinal(_ context.Context, id uuid.UUID, final string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachFinalErr != nil {
		return s.attachFinalErr
	}
	msg, ok := s.msgs[id]
	if !ok {
		return message.ErrNotFound
	}
	msg.FinalResponse = &final
	return nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.msgs[id]
	if !ok {
		return nil, message.ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func groundedResults(n int) []search.Result {
	results := make([]search.Result, n)
	for i := range results {
		results[i] = search.Result{
			Entry: corpus.Entry{
				Category:    "Career",
				SubCategory: "Growth",
				Advice:      fmt.Sprintf("advice %d", i),
				SourceTitle: fmt.Sprintf("source %d", i),
				SourceLink:  fmt.Sprintf("https://example.com/%d", i),
			},
			Similarity: 0.95 - float64(i)*0.001,
		}
	}
	return results
}

func newTestPipeline(t *testing.T, searcher Searcher, model Model, store MessageStore) *Pipeline {
	t.Helper()
	p, err := New(Config{
		Searcher:  searcher,
		Selector:  search.NewSelector(0.49, 0.08, 10),
		Model:     model,
		Messages:  store,
		Threshold: 0.3,
		Logger:    log.NewNop(),
	})
	require.NoError(t, err)
	return p
}

func newPendingMessage(store *memStore, query string) *message.Message {
	msg := &message.Message{ID: uuid.New(), Query: query}
	store.put(msg)
	return msg
}

func TestRespond_NoGroundingReturnsSentinel(t *testing.T) {
	store := newMemStore()
	model := &fakeModel{}
	p := newTestPipeline(t, &fakeSearcher{}, model, store)
	msg := newPendingMessage(store, "something uncovered")

	answer, err := p.Respond(context.Background(), msg)
	require.NoError(t, err)

	chunks, err := collect(answer.Stream)
	require.NoError(t, err)
	assert.Equal(t, []string{NoAdviceResponse}, chunks)

	final, err := answer.Final(context.Background())
	require.NoError(t, err)
	require.NotNil(t, final.Stage1Response)
	require.NotNil(t, final.FinalResponse)
	assert.Equal(t, NoAdviceResponse, *final.Stage1Response)
	assert.Equal(t, NoAdviceResponse, *final.FinalResponse)

	// The sentinel path never touches the model.
	assert.Zero(t, model.calls())
}

func TestRespond_GroundedHappyPath(t *testing.T) {
	store := newMemStore()
	searcher := &fakeSearcher{results: groundedResults(3)}
	model := &fakeModel{
		generateText: "grounded draft",
		streamChunks: []string{"Styled ", "answer."},
	}
	p := newTestPipeline(t, searcher, model, store)
	msg := newPendingMessage(store, "how do I grow my career")

	answer, err := p.Respond(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "how do I grow my career", searcher.lastQuery)
	assert.InDelta(t, 0.3, searcher.lastThreshold, 1e-9)

	chunks, err := collect(answer.Stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"Styled ", "answer."}, chunks)

	final, err := answer.Final(context.Background())
	require.NoError(t, err)
	require.NotNil(t, final.Stage1Response)
	assert.Equal(t, "grounded draft", *final.Stage1Response)
	require.NotNil(t, final.FinalResponse)
	assert.Equal(t, "Styled answer.", *final.FinalResponse)

	require.NotNil(t, final.Metadata)
	assert.Len(t, final.Metadata.DisplayEntries, 3)

	// Stage 2 operates on the stage 1 draft, not the query.
	assert.Equal(t, "grounded draft", model.prompt())
}

func TestBuildStage1Prompt_CarriesGroundingAndQuery(t *testing.T) {
	prompt := buildStage1Prompt("the query text", groundedResults(2))

	assert.Contains(t, prompt, "advice 0")
	assert.Contains(t, prompt, "advice 1")
	assert.Contains(t, prompt, "source 0")
	assert.Contains(t, prompt, "https://example.com/1")
	assert.Contains(t, prompt, "Query: the query text")
}

func TestRespond_SearchErrorPropagates(t *testing.T) {
	store := newMemStore()
	searchErr := fmt.Errorf("%w: provider down", search.ErrQueryEmbedding)
	p := newTestPipeline(t, &fakeSearcher{err: searchErr}, &fakeModel{}, store)
	msg := newPendingMessage(store, "query")

	_, err := p.Respond(context.Background(), msg)
	assert.ErrorIs(t, err, search.ErrQueryEmbedding)
}

func TestRespond_Stage1FailureAbortsBeforeStreaming(t *testing.T) {
	store := newMemStore()
	model := &fakeModel{generateErr: errors.New("model exploded")}
	p := newTestPipeline(t, &fakeSearcher{results: groundedResults(3)}, model, store)
	msg := newPendingMessage(store, "query")

	_, err := p.Respond(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStage1)

	// Nothing persisted on failure.
	stored, getErr := store.Get(context.Background(), msg.ID)
	require.NoError(t, getErr)
	assert.Nil(t, stored.Stage1Response)
}

func TestRespond_EmptyStage1IsAnError(t *testing.T) {
	store := newMemStore()
	model := &fakeModel{generateText: "   \n  "}
	p := newTestPipeline(t, &fakeSearcher{results: groundedResults(3)}, model, store)
	msg := newPendingMessage(store, "query")

	_, err := p.Respond(context.Background(), msg)
	assert.ErrorIs(t, err, ErrStage1)
}

func TestRespond_Stage2FailureEndsStreamWithError(t *testing.T) {
	store := newMemStore()
	model := &fakeModel{
		generateText: "draft",
		streamErr:    errors.New("stream exploded"),
	}
	p := newTestPipeline(t, &fakeSearcher{results: groundedResults(3)}, model, store)
	msg := newPendingMessage(store, "query")

	answer, err := p.Respond(context.Background(), msg)
	require.NoError(t, err)

	_, streamErr := collect(answer.Stream)
	assert.ErrorIs(t, streamErr, ErrStage2)

	_, finalErr := answer.Final(context.Background())
	assert.ErrorIs(t, finalErr, ErrStage2)
}

func TestRespond_UnchunkedResponseStillStreams(t *testing.T) {
	store := newMemStore()
	// GenerateStream returning the full text without onChunk calls models
	// providers that do not stream.
	model := &nonStreamingModel{text: "whole response"}
	p := newTestPipeline(t, &fakeSearcher{results: groundedResults(3)}, model, store)
	msg := newPendingMessage(store, "query")

	answer, err := p.Respond(context.Background(), msg)
	require.NoError(t, err)

	chunks, err := collect(answer.Stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"whole response"}, chunks)

	final, err := answer.Final(context.Background())
	require.NoError(t, err)
	require.NotNil(t, final.FinalResponse)
	assert.Equal(t, "whole response", *final.FinalResponse)
}

func TestRespond_PersistFailureAfterStreamingIsTerminal(t *testing.T) {
	store := newMemStore()
	store.attachFinalErr = errors.New("disk full")
	model := &fakeModel{
		generateText: "draft",
		streamChunks: []string{"chunk"},
	}
	p := newTestPipeline(t, &fakeSearcher{results: groundedResults(3)}, model, store)
	msg := newPendingMessage(store, "query")

	answer, err := p.Respond(context.Background(), msg)
	require.NoError(t, err)

	_, streamErr := collect(answer.Stream)
	assert.ErrorIs(t, streamErr, ErrStage2)

	_, finalErr := answer.Final(context.Background())
	assert.ErrorIs(t, finalErr, ErrStage2)
}

// nonStreamingModel returns its full text without invoking onChunk.
type nonStreamingModel struct {
	text string
}

func (m *nonStreamingModel) Generate(context.Context, string, string) (string, error) {
	return "draft", nil
}

func (m *nonStreamingModel) GenerateStream(context.Context, string, string, func(context.Context, string) error) (string, error) {
	return m.text, nil
}
