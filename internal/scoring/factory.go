package scoring

import (
	"encoding/json"
	"fmt"

	"github.com/sibylquant/sibyl/pkg/httputil"
)

// Factory builds the Scorer adapter for a framework from a registry
// artifact payload. Adding a framework means adding one adapter and one
// case here.
type Factory struct {
	http *httputil.Client
}

// NewFactory creates a scorer factory. The HTTP client is shared by all
// remote scorers.
func NewFactory(httpClient *httputil.Client) *Factory {
	return &Factory{http: httpClient}
}

// New builds a scorer for the given framework.
func (f *Factory) New(framework string, payload json.RawMessage) (Scorer, error) {
	switch framework {
	case FrameworkLinear:
		return NewLinearScorer(payload)
	case FrameworkGBDT:
		return NewGBDTScorer(payload)
	case FrameworkTFServing:
		return NewTFServingScorer(payload, f.http)
	case FrameworkTorchServe:
		return NewTorchServeScorer(payload, f.http)
	default:
		return nil, fmt.Errorf("scoring: unknown framework %q", framework)
	}
}
