package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/sibylquant/sibyl/internal/features"
)

const FrameworkLinear = "linear"

const (
	linkIdentity = "identity"
	linkLogistic = "logistic"
)

// linearSpec is the artifact payload for in-process linear models. A
// plain model uses Intercept/Coefficients; a multinomial model carries one
// ClassWeights block per class and yields softmax probabilities.
type linearSpec struct {
	Intercept    float64            `json:"intercept"`
	Coefficients map[string]float64 `json:"coefficients"`
	Link         string             `json:"link,omitempty"`
	Classes      []classWeights     `json:"classes,omitempty"`
}

type classWeights struct {
	Intercept    float64            `json:"intercept"`
	Coefficients map[string]float64 `json:"coefficients"`
}

// LinearScorer scores with a linear (optionally logistic or multinomial)
// model entirely in-process.
type LinearScorer struct {
	spec linearSpec
}

// NewLinearScorer parses a linear artifact payload.
func NewLinearScorer(payload json.RawMessage) (*LinearScorer, error) {
	var spec linearSpec
	if err := json.Unmarshal(payload, &spec); err != nil {
		return nil, fmt.Errorf("linear: parse artifact: %w", err)
	}

	if len(spec.Classes) == 0 && len(spec.Coefficients) == 0 {
		return nil, fmt.Errorf("linear: artifact has no coefficients")
	}
	if len(spec.Classes) == 1 {
		return nil, fmt.Errorf("linear: multinomial artifact needs at least 2 classes")
	}

	switch spec.Link {
	case "", linkIdentity, linkLogistic:
	default:
		return nil, fmt.Errorf("linear: unknown link %q", spec.Link)
	}

	return &LinearScorer{spec: spec}, nil
}

func (s *LinearScorer) Framework() string { return FrameworkLinear }

// Score evaluates the model. Features absent from the vector contribute
// zero, so an older schema keeps scoring with the weights it has.
func (s *LinearScorer) Score(_ context.Context, v *features.Vector) (Score, error) {
	if len(s.spec.Classes) > 0 {
		return s.scoreMultinomial(v), nil
	}

	value := dot(v, s.spec.Intercept, s.spec.Coefficients)
	if s.spec.Link == linkLogistic {
		value = sigmoid(value)
	}

	return Score{Value: value}, nil
}

func (s *LinearScorer) scoreMultinomial(v *features.Vector) Score {
	logits := make([]float64, len(s.spec.Classes))
	for i, cw := range s.spec.Classes {
		logits[i] = dot(v, cw.Intercept, cw.Coefficients)
	}

	probs := softmax(logits)

	top := probs[0]
	for _, p := range probs[1:] {
		if p > top {
			top = p
		}
	}

	return Score{Value: top, Probs: probs}
}

func dot(v *features.Vector, intercept float64, coefficients map[string]float64) float64 {
	sum := intercept
	for name, w := range coefficients {
		if x, ok := v.Get(name); ok {
			sum += w * x
		}
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func softmax(logits []float64) []float64 {
	max := logits[0]
	for _, l := range logits[1:] {
		if l > max {
			max = l
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(l - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
