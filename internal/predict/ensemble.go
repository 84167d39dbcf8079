package predict

import (
	"math"

	"github.com/sibylquant/sibyl/internal/catalog"
	"github.com/sibylquant/sibyl/internal/scoring"
)

// combine aggregates the successful framework scores for one task into an
// ensemble value. Callers guarantee scores is non-empty and, for
// multi-class tasks, that every Probs slice has the task's cardinality.
func combine(task catalog.Task, scores []scoring.Score) *Ensemble {
	switch task.Kind {
	case catalog.KindBinary:
		return combineBinary(scores)
	case catalog.KindMultiClass:
		return combineMultiClass(scores, task.Classes)
	default:
		return combineRegression(scores)
	}
}

// combineRegression takes the arithmetic mean of framework values.
func combineRegression(scores []scoring.Score) *Ensemble {
	var sum float64
	for _, s := range scores {
		sum += s.Value
	}
	return &Ensemble{Value: sum / float64(len(scores))}
}

// combineBinary decides by majority vote over per-framework discrete
// predictions (Value >= 0.5 votes for class 1). An even vote resolves by
// the side with the larger summed confidence (distance from the 0.5
// threshold); if those are equal too, class 0 wins. Value reports the
// mean probability of class 1 across frameworks.
func combineBinary(scores []scoring.Score) *Ensemble {
	var votes1, votes0 int
	var conf1, conf0 float64
	var probSum float64

	for _, s := range scores {
		probSum += s.Value
		if s.Value >= 0.5 {
			votes1++
			conf1 += s.Value - 0.5
		} else {
			votes0++
			conf0 += 0.5 - s.Value
		}
	}

	class := 0
	switch {
	case votes1 > votes0:
		class = 1
	case votes1 == votes0 && conf1 > conf0:
		class = 1
	}

	return &Ensemble{
		Value: probSum / float64(len(scores)),
		Class: &class,
	}
}

// combineMultiClass sums per-framework confidences per class and picks
// the class with the highest total. Equal totals resolve to the lowest
// class index.
func combineMultiClass(scores []scoring.Score, classes int) *Ensemble {
	totals := make([]float64, classes)
	for _, s := range scores {
		for i, p := range s.Probs {
			totals[i] += p
		}
	}

	best := 0
	for i, t := range totals {
		if t > totals[best] && !almostEqual(t, totals[best]) {
			best = i
		}
	}

	return &Ensemble{
		Value: totals[best] / float64(len(scores)),
		Class: &best,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12
}
