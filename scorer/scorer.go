package scorer

import (
	"context"

	"github.com/medguard-ai/medguard/vectordb"
)

type Label string

const (
	LabelReal Label = "REAL"
	LabelFake Label = "FAKE"
)

// Outcome is the result of scoring one image. Matches is only set by
// scorers backed by the vector index.
type Outcome struct {
	Label    Label
	RawScore float64
	Matches  []vectordb.Match
}

// Scorer scores a single image reference. Implementations hold no state
// across calls and must be safe for concurrent use.
type Scorer interface {
	Score(ctx context.Context, imageRef string) (Outcome, error)
}

// Func adapts a function to the Scorer interface.
type Func func(ctx context.Context, imageRef string) (Outcome, error)

func (f Func) Score(ctx context.Context, imageRef string) (Outcome, error) {
	return f(ctx, imageRef)
}

// Static returns a fixed outcome per image, falling back to Default.
type Static struct {
	Outcomes map[string]Outcome
	Default  Outcome
}

func (s Static) Score(ctx context.Context, imageRef string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if o, ok := s.Outcomes[imageRef]; ok {
		return o, nil
	}
	return s.Default, nil
}
