package predict

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sibylquant/sibyl/internal/catalog"
	"github.com/sibylquant/sibyl/internal/features"
	"github.com/sibylquant/sibyl/internal/modelpool"
	"github.com/sibylquant/sibyl/internal/scoring"
)

// Executor runs multi-model, multi-task predictions against the active
// pool snapshot with partial-failure tolerance at the framework and task
// level. Only a missing feature vector fails a whole per-entity call.
type Executor struct {
	catalog       *catalog.Catalog
	cache         *features.Cache
	pool          *modelpool.Pool
	schemaVersion string
	deadline      time.Duration
	batchLimit    int
	log           zerolog.Logger
}

// NewExecutor creates a prediction executor.
func NewExecutor(
	cat *catalog.Catalog,
	cache *features.Cache,
	pool *modelpool.Pool,
	schemaVersion string,
	deadline time.Duration,
	batchLimit int,
	log zerolog.Logger,
) *Executor {
	if batchLimit <= 0 {
		batchLimit = 1
	}
	return &Executor{
		catalog:       cat,
		cache:         cache,
		pool:          pool,
		schemaVersion: schemaVersion,
		deadline:      deadline,
		batchLimit:    batchLimit,
		log:           log.With().Str("component", "predict.executor").Logger(),
	}
}

// Predict scores one entity for the requested tasks. An empty task list
// means every configured task. The same snapshot generation serves all
// tasks of the call; tasks still pending at the request deadline come
// back with a TIMEOUT condition instead of aborting completed ones.
func (e *Executor) Predict(ctx context.Context, entity string, taskNames []string) (*Result, error) {
	if !e.catalog.HasEntity(entity) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}

	tasks, err := e.resolveTasks(taskNames)
	if err != nil {
		return nil, err
	}

	if e.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.deadline)
		defer cancel()
	}

	fv, err := e.cache.GetOrCompute(ctx, entity, e.schemaVersion)
	if err != nil {
		return nil, err
	}

	// Pin one snapshot for the whole call.
	snap := e.pool.Active()

	result := &Result{
		Entity:     entity,
		Generation: snap.Generation(),
		FeaturesAt: fv.ComputedAt,
		Tasks:      make(map[string]*TaskResult, len(tasks)),
	}

	// Tasks score independently so one slow model cannot stall the rest.
	var mu sync.Mutex
	var abandoned bool
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task catalog.Task) {
			defer wg.Done()
			tr := e.scoreTask(ctx, snap, task, fv)
			mu.Lock()
			if !abandoned {
				result.Tasks[task.Name] = tr
			}
			mu.Unlock()
		}(task)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Abandon what has not finished; completed tasks stand. The
		// abandoned flag keeps stragglers from mutating the result after
		// it is returned.
		mu.Lock()
		abandoned = true
		for _, task := range tasks {
			if _, ok := result.Tasks[task.Name]; !ok {
				result.Tasks[task.Name] = &TaskResult{
					Task:      task.Name,
					Kind:      task.Kind,
					Condition: CondTimeout,
				}
			}
		}
		mu.Unlock()
	}

	return result, nil
}

// PredictBatch applies Predict to each entity independently. One entity
// failing (unknown, features unavailable) never aborts the others. An
// empty entity list means every configured entity.
func (e *Executor) PredictBatch(ctx context.Context, entities []string, taskNames []string) (*BatchResult, error) {
	// Task names are request-scoped: reject the whole batch up front.
	if _, err := e.resolveTasks(taskNames); err != nil {
		return nil, err
	}

	if len(entities) == 0 {
		entities = e.catalog.Entities
	}

	batch := &BatchResult{
		Entities: make(map[string]*EntityOutcome, len(entities)),
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.batchLimit)

	for _, entity := range entities {
		entity := entity
		g.Go(func() error {
			res, err := e.Predict(ctx, entity, taskNames)

			outcome := &EntityOutcome{}
			if err != nil {
				outcome.Error = err.Error()
			} else {
				outcome.Result = res
			}

			mu.Lock()
			batch.Entities[entity] = outcome
			mu.Unlock()
			return nil
		})
	}

	// Goroutines never return errors; Wait only synchronizes.
	_ = g.Wait()

	return batch, nil
}

// resolveTasks maps requested names to catalog tasks; empty means all.
func (e *Executor) resolveTasks(taskNames []string) ([]catalog.Task, error) {
	if len(taskNames) == 0 {
		taskNames = e.catalog.TaskNames()
	}

	tasks := make([]catalog.Task, 0, len(taskNames))
	for _, name := range taskNames {
		task, ok := e.catalog.Task(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// scoreTask runs every framework registered for the task and combines
// the survivors. Framework failures are recorded and excluded; the task
// fails only when nothing survives.
func (e *Executor) scoreTask(ctx context.Context, snap *modelpool.Snapshot, task catalog.Task, fv *features.Vector) *TaskResult {
	models := snap.Lookup(task.Name)
	if len(models) == 0 {
		return &TaskResult{
			Task:      task.Name,
			Kind:      task.Kind,
			Condition: CondModelNotLoaded,
		}
	}

	tr := &TaskResult{
		Task:       task.Name,
		Kind:       task.Kind,
		Frameworks: make([]FrameworkScore, 0, len(models)),
	}

	var good []int
	for _, m := range models {
		fs := FrameworkScore{
			Framework: m.Key.Framework,
			Version:   m.Version,
		}

		score, err := m.Scorer.Score(ctx, fv)
		if err == nil {
			err = validateShape(task, score)
		}

		if err != nil {
			fs.Error = err.Error()
			e.log.Warn().
				Str("entity", fv.Entity).
				Str("task", task.Name).
				Str("framework", m.Key.Framework).
				Err(err).
				Msg("framework scoring failed")
		} else {
			fs.Value = score.Value
			fs.Probs = score.Probs
			good = append(good, len(tr.Frameworks))
		}

		tr.Frameworks = append(tr.Frameworks, fs)
	}

	if len(good) == 0 {
		tr.Condition = CondPredictionFailed
		return tr
	}

	scores := make([]scoring.Score, 0, len(good))
	for _, i := range good {
		scores = append(scores, scoring.Score{
			Value: tr.Frameworks[i].Value,
			Probs: tr.Frameworks[i].Probs,
		})
	}

	tr.Ensemble = combine(task, scores)
	return tr
}

// validateShape rejects a score whose shape does not fit the task kind,
// so a mis-registered model degrades into a framework failure instead of
// corrupting the ensemble.
func validateShape(task catalog.Task, s scoring.Score) error {
	switch task.Kind {
	case catalog.KindMultiClass:
		if len(s.Probs) != task.Classes {
			return fmt.Errorf("score has %d class confidences, task has %d classes", len(s.Probs), task.Classes)
		}
	case catalog.KindBinary:
		if s.Value < 0 || s.Value > 1 {
			return fmt.Errorf("binary score %.4f outside [0, 1]", s.Value)
		}
	}
	return nil
}
