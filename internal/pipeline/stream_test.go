package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(s *Stream) ([]string, error) {
	var chunks []string
	for chunk, err := range s.Chunks() {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func TestStream_DeliversChunksInOrder(t *testing.T) {
	s := newStream()

	go func() {
		s.push("one")
		s.push("two")
		s.push("three")
		s.finish()
	}()

	chunks, err := collect(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, chunks)
}

func TestStream_ErrorIsTerminal(t *testing.T) {
	s := newStream()
	boom := errors.New("boom")

	go func() {
		s.push("partial")
		s.fail(boom)
	}()

	chunks, err := collect(s)
	assert.Equal(t, []string{"partial"}, chunks)
	assert.ErrorIs(t, err, boom)
}

func TestStream_SecondIterationFails(t *testing.T) {
	s := newStream()
	go func() {
		s.push("only")
		s.finish()
	}()

	_, err := collect(s)
	require.NoError(t, err)

	chunks, err := collect(s)
	assert.Empty(t, chunks)
	assert.ErrorIs(t, err, ErrStreamConsumed)
}

func TestStream_ConcurrentIterationOnlyOneWins(t *testing.T) {
	s := newStream()
	go func() {
		s.push("only")
		s.finish()
	}()

	_, firstErr := collect(s)
	_, secondErr := collect(s)
	_, thirdErr := collect(s)

	require.NoError(t, firstErr)
	assert.ErrorIs(t, secondErr, ErrStreamConsumed)
	assert.ErrorIs(t, thirdErr, ErrStreamConsumed)
}

func TestStream_ConsumerBreakStopsProducer(t *testing.T) {
	s := newStream()

	produced := make(chan bool, 1)
	go func() {
		for i := 0; ; i++ {
			if !s.push("chunk") {
				produced <- false
				return
			}
		}
	}()

	count := 0
	for _, err := range s.Chunks() {
		require.NoError(t, err)
		count++
		if count == 2 {
			break
		}
	}

	select {
	case ok := <-produced:
		assert.False(t, ok, "push should report the consumer is gone")
	case <-time.After(time.Second):
		t.Fatal("producer did not observe consumer break")
	}
}

func TestSentinelStream_YieldsExactlyOneChunk(t *testing.T) {
	s := newSentinelStream(NoAdviceResponse)

	chunks, err := collect(s)
	require.NoError(t, err)
	assert.Equal(t, []string{NoAdviceResponse}, chunks)

	_, err = collect(s)
	assert.ErrorIs(t, err, ErrStreamConsumed)
}
