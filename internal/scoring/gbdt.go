package scoring

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sibylquant/sibyl/internal/features"
)

const FrameworkGBDT = "gbdt"

// gbdtSpec is the artifact payload for in-process gradient-boosted trees
// exported from the training pipeline.
type gbdtSpec struct {
	BaseScore float64    `json:"base_score"`
	Link      string     `json:"link,omitempty"`
	Trees     []gbdtTree `json:"trees"`
}

type gbdtTree struct {
	Nodes []gbdtNode `json:"nodes"`
}

// gbdtNode is either a split (Feature/Threshold/Left/Right) or a leaf
// (Leaf set).
type gbdtNode struct {
	Feature   string   `json:"feature,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`
	Left      int      `json:"left,omitempty"`
	Right     int      `json:"right,omitempty"`
	Leaf      *float64 `json:"leaf,omitempty"`
}

// GBDTScorer evaluates an additive tree ensemble in-process.
type GBDTScorer struct {
	spec gbdtSpec
}

// NewGBDTScorer parses a gbdt artifact payload and validates tree
// structure so scoring never walks out of bounds.
func NewGBDTScorer(payload json.RawMessage) (*GBDTScorer, error) {
	var spec gbdtSpec
	if err := json.Unmarshal(payload, &spec); err != nil {
		return nil, fmt.Errorf("gbdt: parse artifact: %w", err)
	}

	if len(spec.Trees) == 0 {
		return nil, fmt.Errorf("gbdt: artifact has no trees")
	}

	switch spec.Link {
	case "", linkIdentity, linkLogistic:
	default:
		return nil, fmt.Errorf("gbdt: unknown link %q", spec.Link)
	}

	for ti, tree := range spec.Trees {
		if len(tree.Nodes) == 0 {
			return nil, fmt.Errorf("gbdt: tree %d is empty", ti)
		}
		for ni, node := range tree.Nodes {
			if node.Leaf != nil {
				continue
			}
			if node.Left < 0 || node.Left >= len(tree.Nodes) ||
				node.Right < 0 || node.Right >= len(tree.Nodes) {
				return nil, fmt.Errorf("gbdt: tree %d node %d has out-of-range children", ti, ni)
			}
			if node.Left == ni || node.Right == ni {
				return nil, fmt.Errorf("gbdt: tree %d node %d points to itself", ti, ni)
			}
		}
	}

	return &GBDTScorer{spec: spec}, nil
}

func (s *GBDTScorer) Framework() string { return FrameworkGBDT }

// Score sums the leaf values of every tree. A feature missing from the
// vector takes the left branch, matching the exporter's missing-value
// convention.
func (s *GBDTScorer) Score(_ context.Context, v *features.Vector) (Score, error) {
	value := s.spec.BaseScore
	for _, tree := range s.spec.Trees {
		leaf, err := walk(tree, v)
		if err != nil {
			return Score{}, err
		}
		value += leaf
	}

	if s.spec.Link == linkLogistic {
		value = sigmoid(value)
	}

	return Score{Value: value}, nil
}

func walk(tree gbdtTree, v *features.Vector) (float64, error) {
	idx := 0
	// Bounded by node count; a valid tree reaches a leaf well before that.
	for steps := 0; steps <= len(tree.Nodes); steps++ {
		node := tree.Nodes[idx]
		if node.Leaf != nil {
			return *node.Leaf, nil
		}

		x, ok := v.Get(node.Feature)
		if !ok || x < node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
	return 0, fmt.Errorf("gbdt: tree walk exceeded %d steps, cyclic tree", len(tree.Nodes))
}
