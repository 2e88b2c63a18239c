package llm

import (
	"context"
	"errors"
	"iter"
	"strings"
)

var (
	// ErrModelLoad reports a missing weight file or a runtime that could not load the model.
	ErrModelLoad = errors.New("model load error")
	// ErrGeneration reports a failed, rejected or cancelled generation.
	ErrGeneration = errors.New("generation error")
)

// Mode is the execution mode the model ended up loaded in.
type Mode string

const (
	ModeAccelerated Mode = "accelerated"
	ModeBaseline    Mode = "baseline"
)

type Sampling struct {
	TopK          int
	TopP          float64
	RepeatPenalty float64
}

type Options struct {
	MaxTokens   int
	Temperature float64
	Sampling    Sampling
}

func DefaultOptions() Options {
	return Options{
		MaxTokens:   250,
		Temperature: 0.1,
		Sampling: Sampling{
			TopK:          40,
			TopP:          0.4,
			RepeatPenalty: 1.18,
		},
	}
}

// Generator produces text continuations for a prompt.
//
// Stream is lazy: nothing is requested until the sequence is ranged over, and a
// sequence can be consumed once. Concatenating its tokens yields the text
// Generate would have returned.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	Stream(ctx context.Context, prompt string, opts Options) iter.Seq2[string, error]
}

// Describer is implemented by generators that report their model and execution mode.
type Describer interface {
	Name() string
	Mode() Mode
}

func Describe(g Generator) (string, Mode) {
	if d, ok := g.(Describer); ok {
		return d.Name(), d.Mode()
	}
	return "", ""
}

// Collect drains seq and returns the concatenated text.
func Collect(seq iter.Seq2[string, error]) (string, error) {
	var builder strings.Builder
	for token, err := range seq {
		if err != nil {
			return builder.String(), err
		}
		builder.WriteString(token)
	}
	return builder.String(), nil
}
