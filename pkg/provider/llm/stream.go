package llm

import "context"

// relayBuffer lets a backend run a few fragments ahead of a slow reader.
const relayBuffer = 32

// Relay runs produce on its own goroutine and returns the chunks it emits.
// Empty chunks are dropped. emit reports false once ctx is done, after
// which produce should return. A non-nil error from produce becomes a final
// [FinishReasonError] chunk unless ctx was cancelled. The channel is closed
// when produce returns.
func Relay(ctx context.Context, produce func(emit func(Chunk) bool) error) <-chan Chunk {
	out := make(chan Chunk, relayBuffer)
	emit := func(c Chunk) bool {
		if c.Text == "" && c.FinishReason == "" {
			return ctx.Err() == nil
		}
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(out)
		if err := produce(emit); err != nil && ctx.Err() == nil {
			emit(Chunk{FinishReason: FinishReasonError, Text: err.Error()})
		}
	}()
	return out
}
