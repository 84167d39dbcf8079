package predict

import (
	"math"
	"testing"

	"github.com/sibylquant/sibyl/internal/catalog"
	"github.com/sibylquant/sibyl/internal/scoring"
)

func TestCombineRegression(t *testing.T) {
	task := catalog.Task{Name: "return_1step", Kind: catalog.KindRegression}

	ens := combine(task, []scoring.Score{{Value: 0.10}, {Value: 0.12}})

	if math.Abs(ens.Value-0.11) > 1e-12 {
		t.Errorf("Value = %f, want 0.11", ens.Value)
	}
	if ens.Class != nil {
		t.Error("Regression ensemble should not carry a class")
	}
}

func TestCombineRegressionSingleScore(t *testing.T) {
	task := catalog.Task{Name: "return_1step", Kind: catalog.KindRegression}

	ens := combine(task, []scoring.Score{{Value: -0.03}})
	if math.Abs(ens.Value-(-0.03)) > 1e-12 {
		t.Errorf("Value = %f, want -0.03", ens.Value)
	}
}

func TestCombineBinary(t *testing.T) {
	task := catalog.Task{Name: "direction_4step", Kind: catalog.KindBinary, Classes: 2}

	tests := []struct {
		name      string
		values    []float64
		wantClass int
	}{
		{"majority for 1", []float64{0.9, 0.8, 0.4}, 1},
		{"majority for 0", []float64{0.1, 0.2, 0.8}, 0},
		{"tie broken by confidence toward 1", []float64{0.9, 0.45}, 1},
		{"tie broken by confidence toward 0", []float64{0.55, 0.1}, 0},
		{"exact tie falls to class 0", []float64{0.6, 0.4}, 0},
		{"threshold votes for 1", []float64{0.5}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := make([]scoring.Score, len(tt.values))
			var sum float64
			for i, v := range tt.values {
				scores[i] = scoring.Score{Value: v}
				sum += v
			}

			ens := combine(task, scores)

			if ens.Class == nil {
				t.Fatal("Binary ensemble missing class")
			}
			if *ens.Class != tt.wantClass {
				t.Errorf("Class = %d, want %d", *ens.Class, tt.wantClass)
			}

			wantValue := sum / float64(len(tt.values))
			if math.Abs(ens.Value-wantValue) > 1e-12 {
				t.Errorf("Value = %f, want mean %f", ens.Value, wantValue)
			}
		})
	}
}

func TestCombineMultiClass(t *testing.T) {
	task := catalog.Task{Name: "regime", Kind: catalog.KindMultiClass, Classes: 3}

	tests := []struct {
		name      string
		probs     [][]float64
		wantClass int
	}{
		{
			"clear argmax",
			[][]float64{{0.2, 0.5, 0.3}, {0.1, 0.6, 0.3}},
			1,
		},
		{
			"disagreement resolved by summed confidence",
			[][]float64{{0.6, 0.4, 0.0}, {0.1, 0.5, 0.4}, {0.1, 0.5, 0.4}},
			1,
		},
		{
			"exact tie resolves to lowest index",
			[][]float64{{0.4, 0.4, 0.2}},
			0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := make([]scoring.Score, len(tt.probs))
			for i, p := range tt.probs {
				scores[i] = scoring.Score{Probs: p}
			}

			ens := combine(task, scores)

			if ens.Class == nil {
				t.Fatal("Multi-class ensemble missing class")
			}
			if *ens.Class != tt.wantClass {
				t.Errorf("Class = %d, want %d", *ens.Class, tt.wantClass)
			}
		})
	}
}

func TestCombineMultiClassValue(t *testing.T) {
	task := catalog.Task{Name: "regime", Kind: catalog.KindMultiClass, Classes: 3}

	ens := combine(task, []scoring.Score{
		{Probs: []float64{0.2, 0.5, 0.3}},
		{Probs: []float64{0.2, 0.7, 0.1}},
	})

	// Winning class 1 has summed confidence 1.2 over 2 frameworks.
	if math.Abs(ens.Value-0.6) > 1e-12 {
		t.Errorf("Value = %f, want 0.6", ens.Value)
	}
}
