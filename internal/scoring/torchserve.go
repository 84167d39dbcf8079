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

const FrameworkTorchServe = "torchserve"

// torchServeSpec is the artifact payload for models served by a
// TorchServe REST endpoint.
type torchServeSpec struct {
	Endpoint  string `json:"endpoint"`
	ModelName string `json:"model_name"`
}

// TorchServeScorer scores through a TorchServe inference endpoint
// (POST /predictions/{name}).
type TorchServeScorer struct {
	spec torchServeSpec
	http *httputil.Client
}

// NewTorchServeScorer parses a torchserve artifact payload.
func NewTorchServeScorer(payload json.RawMessage, httpClient *httputil.Client) (*TorchServeScorer, error) {
	var spec torchServeSpec
	if err := json.Unmarshal(payload, &spec); err != nil {
		return nil, fmt.Errorf("torchserve: parse artifact: %w", err)
	}

	if spec.Endpoint == "" || spec.ModelName == "" {
		return nil, fmt.Errorf("torchserve: artifact needs endpoint and model_name")
	}

	spec.Endpoint = strings.TrimRight(spec.Endpoint, "/")
	return &TorchServeScorer{spec: spec, http: httpClient}, nil
}

func (s *TorchServeScorer) Framework() string { return FrameworkTorchServe }

// Score sends named features and maps the response back. TorchServe
// handlers here return either a bare number or a per-class array.
func (s *TorchServeScorer) Score(ctx context.Context, v *features.Vector) (Score, error) {
	named := make(map[string]float64, len(v.Names))
	for i, name := range v.Names {
		named[name] = v.Values[i]
	}

	url := fmt.Sprintf("%s/predictions/%s", s.spec.Endpoint, s.spec.ModelName)
	resp, err := s.http.PostJSON(ctx, url, map[string]interface{}{"features": named})
	if err != nil {
		return Score{}, fmt.Errorf("torchserve: %s: %w", s.spec.ModelName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Score{}, fmt.Errorf("torchserve: %s: status %d", s.spec.ModelName, resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Score{}, fmt.Errorf("torchserve: %s: decode response: %w", s.spec.ModelName, err)
	}

	return parsePrediction(FrameworkTorchServe, raw)
}
