package predict

import (
	"errors"
	"time"

	"github.com/sibylquant/sibyl/internal/catalog"
)

// Request-scoped validation failures. These reject the whole request;
// everything narrower is absorbed into the result as a condition.
var (
	ErrUnknownEntity = errors.New("predict: unknown entity")
	ErrUnknownTask   = errors.New("predict: unknown task")
)

// Condition is a structured, non-fatal failure recorded inside an
// otherwise successful response.
type Condition string

const (
	// CondModelNotLoaded: the active snapshot has no models for the task.
	CondModelNotLoaded Condition = "MODEL_NOT_LOADED"

	// CondPredictionFailed: every framework for the task failed.
	CondPredictionFailed Condition = "PREDICTION_FAILED"

	// CondTimeout: the request deadline expired before the task finished.
	CondTimeout Condition = "TIMEOUT"
)

// FrameworkScore is one framework's raw output (or failure) for a task.
// A non-empty Error means the framework was excluded from the ensemble.
type FrameworkScore struct {
	Framework string    `json:"framework"`
	Version   string    `json:"version,omitempty"`
	Value     float64   `json:"value"`
	Probs     []float64 `json:"probs,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Ensemble is the combined prediction for one task.
//
// Regression: Value is the mean of successful framework values. Binary:
// Class is the majority vote and Value the mean probability of class 1.
// Multi-class: Class is the argmax of summed per-framework confidence and
// Value that summed confidence averaged over frameworks.
type Ensemble struct {
	Value float64 `json:"value"`
	Class *int    `json:"class,omitempty"`
}

// TaskResult is the per-task output. Never mutated after construction.
type TaskResult struct {
	Task       string           `json:"task"`
	Kind       catalog.TaskKind `json:"kind"`
	Condition  Condition        `json:"condition,omitempty"`
	Frameworks []FrameworkScore `json:"frameworks,omitempty"`
	Ensemble   *Ensemble        `json:"ensemble,omitempty"`
}

// Result is the per-entity output. Every task in one Result was scored
// against the same pool snapshot generation.
type Result struct {
	Entity     string                 `json:"entity"`
	Generation uint64                 `json:"generation"`
	FeaturesAt time.Time              `json:"features_at"`
	Tasks      map[string]*TaskResult `json:"tasks"`
}

// EntityOutcome is one entity's slot in a batch response: either a result
// or an error, never both.
type EntityOutcome struct {
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// BatchResult maps each requested entity to its independent outcome.
type BatchResult struct {
	Entities map[string]*EntityOutcome `json:"entities"`
}
