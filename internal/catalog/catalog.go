package catalog

import (
	"fmt"
)

// TaskKind classifies what a prediction task outputs.
type TaskKind string

const (
	KindRegression TaskKind = "regression"
	KindBinary     TaskKind = "binary"
	KindMultiClass TaskKind = "multiclass"
)

// Task is a named prediction objective. The catalog of tasks is fixed for
// the lifetime of the process.
type Task struct {
	Name    string   `yaml:"name" json:"name"`
	Kind    TaskKind `yaml:"kind" json:"kind"`
	Classes int      `yaml:"classes,omitempty" json:"classes,omitempty"`
	Horizon string   `yaml:"horizon,omitempty" json:"horizon,omitempty"`
}

// Catalog holds the configured tasks and entities. Immutable after Load.
type Catalog struct {
	Tasks    []Task   `yaml:"tasks" json:"tasks"`
	Entities []string `yaml:"entities" json:"entities"`

	byName    map[string]Task
	entitySet map[string]struct{}
}

// New builds a validated, indexed catalog from task and entity lists.
func New(tasks []Task, entities []string) (*Catalog, error) {
	c := &Catalog{Tasks: tasks, Entities: entities}
	if err := Validate(c); err != nil {
		return nil, err
	}
	c.index()
	return c, nil
}

// index builds the lookup maps. Called once at construction.
func (c *Catalog) index() {
	c.byName = make(map[string]Task, len(c.Tasks))
	for _, t := range c.Tasks {
		c.byName[t.Name] = t
	}
	c.entitySet = make(map[string]struct{}, len(c.Entities))
	for _, e := range c.Entities {
		c.entitySet[e] = struct{}{}
	}
}

// Task returns the task definition for a name.
func (c *Catalog) Task(name string) (Task, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// HasEntity reports whether an entity is configured.
func (c *Catalog) HasEntity(entity string) bool {
	_, ok := c.entitySet[entity]
	return ok
}

// TaskNames returns all configured task names in catalog order.
func (c *Catalog) TaskNames() []string {
	names := make([]string, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		names = append(names, t.Name)
	}
	return names
}

// Validate checks catalog consistency.
func Validate(c *Catalog) error {
	if len(c.Tasks) == 0 {
		return fmt.Errorf("catalog: at least one task is required")
	}
	if len(c.Entities) == 0 {
		return fmt.Errorf("catalog: at least one entity is required")
	}

	seen := make(map[string]struct{}, len(c.Tasks))
	for _, t := range c.Tasks {
		if t.Name == "" {
			return fmt.Errorf("catalog: task with empty name")
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("catalog: duplicate task %q", t.Name)
		}
		seen[t.Name] = struct{}{}

		switch t.Kind {
		case KindRegression:
			if t.Classes != 0 {
				return fmt.Errorf("catalog: task %q is regression but declares classes", t.Name)
			}
		case KindBinary:
			if t.Classes != 0 && t.Classes != 2 {
				return fmt.Errorf("catalog: task %q is binary but declares %d classes", t.Name, t.Classes)
			}
		case KindMultiClass:
			if t.Classes < 3 {
				return fmt.Errorf("catalog: task %q is multiclass and needs classes >= 3", t.Name)
			}
		default:
			return fmt.Errorf("catalog: task %q has unknown kind %q", t.Name, t.Kind)
		}
	}

	seenEntity := make(map[string]struct{}, len(c.Entities))
	for _, e := range c.Entities {
		if e == "" {
			return fmt.Errorf("catalog: empty entity name")
		}
		if _, dup := seenEntity[e]; dup {
			return fmt.Errorf("catalog: duplicate entity %q", e)
		}
		seenEntity[e] = struct{}{}
	}

	return nil
}
