package llm

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"
)

type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	b.started <- struct{}{}
	<-b.release
	return "SELECT 1", nil
}

func (b *blockingGenerator) Stream(ctx context.Context, prompt string, opts Options) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		text, err := b.Generate(ctx, prompt, opts)
		yield(text, err)
	}
}

func (b *blockingGenerator) Name() string { return "blocking" }
func (b *blockingGenerator) Mode() Mode   { return ModeBaseline }

func TestSerializeAllowsOneGenerationInFlight(t *testing.T) {
	inner := &blockingGenerator{started: make(chan struct{}, 2), release: make(chan struct{})}
	gen := Serialize(inner)

	done := make(chan error, 1)
	go func() {
		_, err := gen.Generate(context.Background(), "first", DefaultOptions())
		done <- err
	}()
	<-inner.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := gen.Generate(ctx, "second", DefaultOptions()); !errors.Is(err, ErrGeneration) {
		t.Fatalf("second Generate() error = %v, want ErrGeneration", err)
	}

	close(inner.release)
	if err := <-done; err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}

	text, err := Collect(gen.Stream(context.Background(), "third", DefaultOptions()))
	if err != nil || text != "SELECT 1" {
		t.Fatalf("Stream() = %q, %v", text, err)
	}
}

func TestSerializeDescribesInner(t *testing.T) {
	gen := Serialize(&blockingGenerator{})
	name, mode := Describe(gen)
	if name != "blocking" || mode != ModeBaseline {
		t.Fatalf("Describe() = %q, %q", name, mode)
	}
}

type replayGenerator struct {
	ranges int
}

func (r *replayGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return Collect(r.Stream(ctx, prompt, opts))
}

func (r *replayGenerator) Stream(context.Context, string, Options) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		r.ranges++
		yield("SELECT 1", nil)
	}
}

func (r *replayGenerator) Name() string { return "replay" }
func (r *replayGenerator) Mode() Mode   { return ModeBaseline }

func TestSerializeStreamIsSingleUse(t *testing.T) {
	inner := &replayGenerator{}
	seq := Serialize(inner).Stream(context.Background(), "prompt", DefaultOptions())

	if text, err := Collect(seq); err != nil || text != "SELECT 1" {
		t.Fatalf("first Collect() = %q, %v", text, err)
	}
	if _, err := Collect(seq); !errors.Is(err, ErrGeneration) {
		t.Fatalf("second Collect() error = %v, want ErrGeneration", err)
	}
	if inner.ranges != 1 {
		t.Fatalf("inner ranged %d times, want 1", inner.ranges)
	}
}
