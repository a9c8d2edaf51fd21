// Package pipeline orchestrates the two-stage answer generation.
//
// Per request: semantic retrieval selects a grounding set, stage 1 produces
// a grounded draft (persisted), stage 2 transforms the draft into the final
// voice and streams it chunk by chunk (persisted on completion). When
// retrieval finds nothing usable the pipeline short-circuits with the
// no-advice sentinel, which skips stage 2 entirely.
//
// Failure semantics: retrieval and stage 1 errors are returned directly and
// abort the request before any streaming begins. Stage 2 errors surface as
// the stream's terminal error, since partial output may already have been
// delivered. Provider errors are never retried here; the caller gets one
// terminal outcome per request.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/advisorhq/advisor/internal/message"
	"github.com/advisorhq/advisor/internal/search"
)

var (
	// ErrStage1 indicates the grounded synthesis call failed.
	ErrStage1 = errors.New("stage 1 generation failed")

	// ErrStage2 indicates the style transform call failed.
	ErrStage2 = errors.New("stage 2 generation failed")
)

// errStreamStopped aborts generation when the consumer stops pulling.
// Cancellation, not failure; never surfaced.
var errStreamStopped = errors.New("stream consumer stopped")

// Searcher retrieves scored corpus entries for a query.
// Implemented by search.Engine.
type Searcher interface {
	Search(ctx context.Context, query string, threshold float64) ([]search.Result, error)
}

// MessageStore persists pipeline results. Implemented by message.Store.
type MessageStore interface {
	AttachStage1(ctx context.Context, id uuid.UUID, stage1 string, meta *message.Metadata) error
	AttachFinal(ctx context.Context, id uuid.UUID, final string) error
	Get(ctx context.Context, id uuid.UUID) (*message.Message, error)
}

// Config contains required parameters for a Pipeline.
type Config struct {
	Searcher    Searcher
	Selector    *search.Selector
	Model       Model
	Messages    MessageStore
	Threshold   float64       // minimum combined similarity for retrieval
	CallTimeout time.Duration // per model call; 0 = no timeout
	Logger      *slog.Logger  // nil = slog.Default()
}

// Pipeline answers queries. Stateless across requests; safe for concurrent
// use since every dependency is read-only or internally synchronized.
type Pipeline struct {
	searcher    Searcher
	selector    *search.Selector
	model       Model
	messages    MessageStore
	threshold   float64
	callTimeout time.Duration
	logger      *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if cfg.Selector == nil {
		return nil, errors.New("selector is required")
	}
	if cfg.Model == nil {
		return nil, errors.New("model is required")
	}
	if cfg.Messages == nil {
		return nil, errors.New("message store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		searcher:    cfg.Searcher,
		selector:    cfg.Selector,
		model:       cfg.Model,
		messages:    cfg.Messages,
		threshold:   cfg.Threshold,
		callTimeout: cfg.CallTimeout,
		logger:      logger,
	}, nil
}

type finalResult struct {
	msg *message.Message
	err error
}

// Answer is an in-flight response: the chunk stream plus the final persisted
// message, available once the stream completes.
type Answer struct {
	Stream *Stream
	final  chan finalResult
}

// Final blocks until generation and persistence finish and returns the
// complete message. Callers drain the stream first; Final resolves shortly
// after the last chunk.
func (a *Answer) Final(ctx context.Context) (*message.Message, error) {
	select {
	case r := <-a.final:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for final response: %w", ctx.Err())
	}
}

// Respond runs the pipeline for a previously created message. Retrieval and
// stage 1 run synchronously; on success stage 2 streaming has started and
// the returned Answer's Stream yields its chunks. A returned error means
// nothing was streamed.
func (p *Pipeline) Respond(ctx context.Context, msg *message.Message) (*Answer, error) {
	sorted, err := p.searcher.Search(ctx, msg.Query, p.threshold)
	if err != nil {
		return nil, err
	}

	grounding := p.selector.SelectGrounding(sorted)
	display := p.selector.SelectDisplay(sorted)
	meta := &message.Metadata{DisplayEntries: display}

	p.logger.Debug("retrieval complete",
		"message_id", msg.ID,
		"candidates", len(sorted),
		"grounding", len(grounding),
		"display", len(display))

	if len(grounding) == 0 {
		return p.respondNoAdvice(ctx, msg, meta)
	}

	stage1, err := p.GenerateGrounded(ctx, msg.Query, grounding)
	if err != nil {
		return nil, err
	}

	if err := p.messages.AttachStage1(ctx, msg.ID, stage1, meta); err != nil {
		return nil, fmt.Errorf("persisting stage 1 response: %w", err)
	}

	stream := newStream()
	answer := &Answer{Stream: stream, final: make(chan finalResult, 1)}
	go p.streamStyled(ctx, msg, stage1, stream, answer.final)

	return answer, nil
}

// respondNoAdvice handles the shortcut when the grounding set is empty: the
// sentinel becomes both the stage 1 response and, unchanged, the sole
// streamed chunk. No model call is made.
func (p *Pipeline) respondNoAdvice(ctx context.Context, msg *message.Message, meta *message.Metadata) (*Answer, error) {
	if err := p.messages.AttachStage1(ctx, msg.ID, NoAdviceResponse, meta); err != nil {
		return nil, fmt.Errorf("persisting stage 1 response: %w", err)
	}
	if err := p.messages.AttachFinal(ctx, msg.ID, NoAdviceResponse); err != nil {
		return nil, fmt.Errorf("persisting final response: %w", err)
	}

	final, err := p.messages.Get(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("reading persisted message: %w", err)
	}

	p.logger.Info("no relevant advice found", "message_id", msg.ID)

	answer := &Answer{Stream: newSentinelStream(NoAdviceResponse), final: make(chan finalResult, 1)}
	answer.final <- finalResult{msg: final}
	return answer, nil
}

// GenerateGrounded runs stage 1: a single non-streamed synthesis over the
// grounding entries.
func (p *Pipeline) GenerateGrounded(ctx context.Context, query string, grounding []search.Result) (string, error) {
	callCtx, cancel := p.callContext(ctx)
	defer cancel()

	text, err := p.model.Generate(callCtx, stage1SystemPrompt, buildStage1Prompt(query, grounding))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStage1, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: model returned empty response", ErrStage1)
	}

	return text, nil
}

// streamStyled runs stage 2 in the background, forwarding chunks into the
// stream and persisting the final text on success. Any failure becomes the
// stream's terminal error. Consumer disconnects abort the model call and
// end quietly.
func (p *Pipeline) streamStyled(ctx context.Context, msg *message.Message, stage1 string, stream *Stream, final chan<- finalResult) {
	callCtx, cancel := p.callContext(ctx)
	defer cancel()

	chunks := 0
	full, err := p.model.GenerateStream(callCtx, stage2SystemPrompt, stage1,
		func(_ context.Context, text string) error {
			if text == "" {
				return nil
			}
			if !stream.push(text) {
				return errStreamStopped
			}
			chunks++
			return nil
		})

	if err != nil {
		if errors.Is(err, errStreamStopped) || ctx.Err() != nil {
			// Client went away; stop quietly, no terminal event owed.
			p.logger.Debug("stream consumer gone", "message_id", msg.ID, "chunks", chunks)
			stream.finish()
			final <- finalResult{err: fmt.Errorf("request canceled: %w", context.Canceled)}
			return
		}

		wrapped := fmt.Errorf("%w: %v", ErrStage2, err)
		p.logger.Error("stage 2 generation failed", "message_id", msg.ID, "error", err)
		stream.fail(wrapped)
		final <- finalResult{err: wrapped}
		return
	}

	// Some providers deliver the whole response without intermediate
	// chunks; forward it so the consumer still sees the content.
	if chunks == 0 && full != "" {
		stream.push(full)
	}

	// Persistence failures after streaming are still terminal errors: the
	// caller must never see an unlabeled partial success.
	if err := p.messages.AttachFinal(ctx, msg.ID, full); err != nil {
		wrapped := fmt.Errorf("%w: persisting final response: %v", ErrStage2, err)
		stream.fail(wrapped)
		final <- finalResult{err: wrapped}
		return
	}

	persisted, err := p.messages.Get(ctx, msg.ID)
	if err != nil {
		wrapped := fmt.Errorf("%w: reading persisted message: %v", ErrStage2, err)
		stream.fail(wrapped)
		final <- finalResult{err: wrapped}
		return
	}

	final <- finalResult{msg: persisted}
	stream.finish()
}

func (p *Pipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.callTimeout > 0 {
		return context.WithTimeout(ctx, p.callTimeout)
	}
	return context.WithCancel(ctx)
}
