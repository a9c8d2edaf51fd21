package pipeline

import (
	"errors"
	"iter"
	"sync"
)

// ErrStreamConsumed indicates a Stream was iterated a second time. Streams
// are single-consumption by contract; re-iteration is a programming error,
// surfaced explicitly rather than silently restarting or yielding nothing.
var ErrStreamConsumed = errors.New("stream already consumed")

// streamBuffer bounds how far the producer may run ahead of the consumer.
const streamBuffer = 16

type streamState int

const (
	streamIdle streamState = iota
	streamActive
	streamExhausted
)

type streamEvent struct {
	text string
	err  error
}

// Stream is an ordered, single-consumption sequence of text chunks ending in
// completion or error. The consumer may stop early by breaking out of the
// iteration; the producer observes that and stops generating, without error.
type Stream struct {
	events chan streamEvent
	stop   chan struct{}

	stopOnce sync.Once
	mu       sync.Mutex
	state    streamState
}

func newStream() *Stream {
	return &Stream{
		events: make(chan streamEvent, streamBuffer),
		stop:   make(chan struct{}),
	}
}

// newSentinelStream returns an already-complete stream yielding text as its
// only chunk. Used for the no-advice path, where the sentinel must pass
// through unchanged.
func newSentinelStream(text string) *Stream {
	s := &Stream{
		events: make(chan streamEvent, 1),
		stop:   make(chan struct{}),
	}
	s.events <- streamEvent{text: text}
	close(s.events)
	return s
}

// Chunks returns the chunk sequence. It may be ranged over exactly once;
// any later call yields a single ErrStreamConsumed. A non-nil error is
// always the final element.
func (s *Stream) Chunks() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s.mu.Lock()
		if s.state != streamIdle {
			s.mu.Unlock()
			yield("", ErrStreamConsumed)
			return
		}
		s.state = streamActive
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			s.state = streamExhausted
			s.mu.Unlock()
			s.cancel() // no-op if the producer already finished
		}()

		for ev := range s.events {
			if ev.err != nil {
				yield("", ev.err)
				return
			}
			if !yield(ev.text, nil) {
				return
			}
		}
	}
}

// cancel tells the producer the consumer is gone. Idempotent.
func (s *Stream) cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// push delivers one chunk. Returns false when the consumer has stopped
// pulling, which the producer treats as cancellation, not an error.
func (s *Stream) push(text string) bool {
	select {
	case s.events <- streamEvent{text: text}:
		return true
	case <-s.stop:
		return false
	}
}

// fail delivers a terminal error. No chunks may follow.
func (s *Stream) fail(err error) {
	select {
	case s.events <- streamEvent{err: err}:
	case <-s.stop:
	}
	close(s.events)
}

// finish marks normal completion. No chunks may follow.
func (s *Stream) finish() {
	close(s.events)
}
