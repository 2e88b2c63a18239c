package llm

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
)

type serialGenerator struct {
	next Generator
	slot chan struct{}
}

// Serialize allows one generation in flight on g. Callers waiting for the slot
// give up when their context is done.
func Serialize(g Generator) Generator {
	return &serialGenerator{next: g, slot: make(chan struct{}, 1)}
}

func (s *serialGenerator) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: wait for generation slot: %w", ErrGeneration, ctx.Err())
	}
}

func (s *serialGenerator) release() {
	<-s.slot
}

func (s *serialGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	defer s.release()
	return s.next.Generate(ctx, prompt, opts)
}

func (s *serialGenerator) Stream(ctx context.Context, prompt string, opts Options) iter.Seq2[string, error] {
	inner := s.next.Stream(ctx, prompt, opts)
	var consumed atomic.Bool
	return func(yield func(string, error) bool) {
		if consumed.Swap(true) {
			yield("", fmt.Errorf("%w: stream already consumed", ErrGeneration))
			return
		}
		if err := s.acquire(ctx); err != nil {
			yield("", err)
			return
		}
		defer s.release()
		for token, err := range inner {
			if !yield(token, err) {
				return
			}
		}
	}
}

func (s *serialGenerator) Name() string {
	name, _ := Describe(s.next)
	return name
}

func (s *serialGenerator) Mode() Mode {
	_, mode := Describe(s.next)
	return mode
}
