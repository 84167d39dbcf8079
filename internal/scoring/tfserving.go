package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sibylquant/sibyl/internal/features"
	"github.com/sibylquant/sibyl/pkg/httputil"
)

const FrameworkTFServing = "tfserving"

// tfServingSpec is the artifact payload for models served by a TensorFlow
// Serving REST endpoint. The registry artifact carries routing, not
// weights.
type tfServingSpec struct {
	Endpoint     string `json:"endpoint"`
	ModelName    string `json:"model_name"`
	ModelVersion string `json:"model_version,omitempty"`
}

// TFServingScorer scores through a TF Serving REST endpoint
// (POST /v1/models/{name}[/versions/{v}]:predict).
type TFServingScorer struct {
	spec tfServingSpec
	http *httputil.Client
}

// NewTFServingScorer parses a tfserving artifact payload.
func NewTFServingScorer(payload json.RawMessage, httpClient *httputil.Client) (*TFServingScorer, error) {
	var spec tfServingSpec
	if err := json.Unmarshal(payload, &spec); err != nil {
		return nil, fmt.Errorf("tfserving: parse artifact: %w", err)
	}

	if spec.Endpoint == "" || spec.ModelName == "" {
		return nil, fmt.Errorf("tfserving: artifact needs endpoint and model_name")
	}

	spec.Endpoint = strings.TrimRight(spec.Endpoint, "/")
	return &TFServingScorer{spec: spec, http: httpClient}, nil
}

func (s *TFServingScorer) Framework() string { return FrameworkTFServing }

func (s *TFServingScorer) url() string {
	if s.spec.ModelVersion != "" {
		return fmt.Sprintf("%s/v1/models/%s/versions/%s:predict", s.spec.Endpoint, s.spec.ModelName, s.spec.ModelVersion)
	}
	return fmt.Sprintf("%s/v1/models/%s:predict", s.spec.Endpoint, s.spec.ModelName)
}

// Score sends the feature vector as one instance and maps the single
// prediction back. A scalar prediction fills Value; a per-class vector
// fills Probs.
func (s *TFServingScorer) Score(ctx context.Context, v *features.Vector) (Score, error) {
	req := map[string]interface{}{
		"instances": [][]float64{v.Values},
	}

	resp, err := s.http.PostJSON(ctx, s.url(), req)
	if err != nil {
		return Score{}, fmt.Errorf("tfserving: %s: %w", s.spec.ModelName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Score{}, fmt.Errorf("tfserving: %s: status %d", s.spec.ModelName, resp.StatusCode)
	}

	var out struct {
		Predictions []json.RawMessage `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Score{}, fmt.Errorf("tfserving: %s: decode response: %w", s.spec.ModelName, err)
	}
	if len(out.Predictions) != 1 {
		return Score{}, fmt.Errorf("tfserving: %s: expected 1 prediction, got %d", s.spec.ModelName, len(out.Predictions))
	}

	return parsePrediction(FrameworkTFServing, out.Predictions[0])
}

// parsePrediction accepts a scalar or a per-class vector, which is all
// the remote serving runtimes return for single-instance requests.
func parsePrediction(framework string, raw json.RawMessage) (Score, error) {
	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return Score{Value: scalar}, nil
	}

	var vector []float64
	if err := json.Unmarshal(raw, &vector); err == nil && len(vector) > 0 {
		top := vector[0]
		for _, p := range vector[1:] {
			if p > top {
				top = p
			}
		}
		return Score{Value: top, Probs: vector}, nil
	}

	return Score{}, fmt.Errorf("%s: unsupported prediction shape %s", framework, string(raw))
}
