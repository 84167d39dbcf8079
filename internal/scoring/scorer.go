// Package scoring defines the single capability interface every model
// framework adapts to, plus one adapter per framework. The prediction
// executor only ever calls Score; it never branches on framework identity.
package scoring

import (
	"context"

	"github.com/sibylquant/sibyl/internal/features"
)

// Score is one framework's raw output for one feature vector.
//
// Regression scorers fill Value. Binary scorers fill Value with the
// probability of class 1. Multi-class scorers fill Probs with per-class
// confidences and Value with the top confidence.
type Score struct {
	Value float64   `json:"value"`
	Probs []float64 `json:"probs,omitempty"`
}

// Scorer scores a feature vector. Implementations must be safe for
// concurrent use; artifacts are immutable once loaded.
type Scorer interface {
	Framework() string
	Score(ctx context.Context, v *features.Vector) (Score, error)
}
