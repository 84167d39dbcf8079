package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sibylquant/sibyl/pkg/httputil"
)

// ErrRegistryUnavailable marks transport-level failures against the
// registry. Callers keep serving from the previous snapshot when they see
// this.
var ErrRegistryUnavailable = errors.New("registry: unavailable")

const (
	stageProduction = "Production"

	searchPath   = "/api/2.0/mlflow/registered-models/search"
	artifactPath = "/api/2.0/mlflow-artifacts/artifacts/"

	artifactScheme = "mlflow-artifacts:/"

	// Upper bound on search pages per listing. With max_results=200 this
	// covers far more model versions than any deployment carries and stops
	// the loop if the registry misbehaves.
	maxSearchPages = 50
)

// Client is a thin synchronous adapter over the MLflow-style model
// registry. It lists promoted model versions and fetches artifacts; it
// never caches — loaded artifacts live in the model pool.
type Client struct {
	baseURL string
	http    *httputil.Client
	log     zerolog.Logger
}

// NewClient creates a registry client.
func NewClient(baseURL string, httpClient *httputil.Client, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     log.With().Str("component", "registry.client").Logger(),
	}
}

// ListProductionModels returns one Entry per model version currently at
// the Production stage. Versions whose name or tags cannot be resolved to
// a (task, framework) pair are skipped with a warning.
func (c *Client) ListProductionModels(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	pageToken := ""

	for page := 0; ; page++ {
		if page >= maxSearchPages {
			return nil, fmt.Errorf("registry: search did not terminate after %d pages", maxSearchPages)
		}

		u := c.baseURL + searchPath + "?max_results=200"
		if pageToken != "" {
			u += "&page_token=" + url.QueryEscape(pageToken)
		}

		resp, err := c.http.Get(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("%w: search: %v", ErrRegistryUnavailable, err)
		}

		var search searchResponse
		err = decodeBody(resp, &search)
		if err != nil {
			return nil, err
		}

		for _, m := range search.RegisteredModels {
			for _, v := range m.LatestVersions {
				if v.CurrentStage != stageProduction {
					continue
				}

				entry, err := toEntry(v)
				if err != nil {
					c.log.Warn().
						Str("model", v.Name).
						Str("version", v.Version).
						Err(err).
						Msg("skipping unresolvable model version")
					continue
				}
				entries = append(entries, entry)
			}
		}

		if search.NextPageToken == "" {
			break
		}
		// A registry echoing the token it was given would otherwise loop
		// forever re-reading the same page.
		if search.NextPageToken == pageToken {
			return nil, fmt.Errorf("registry: search repeated page token %q", pageToken)
		}
		pageToken = search.NextPageToken
	}

	c.log.Debug().Int("entries", len(entries)).Msg("listed production models")
	return entries, nil
}

// Fetch downloads the artifact payload for a registry entry.
func (c *Client) Fetch(ctx context.Context, ref string) (*Artifact, error) {
	u := c.baseURL + artifactPath + strings.TrimLeft(ref, "/")

	resp, err := c.http.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrRegistryUnavailable, ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s: status %d", ErrRegistryUnavailable, ref, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrRegistryUnavailable, ref, err)
	}

	if !json.Valid(payload) {
		return nil, fmt.Errorf("registry: artifact %s is not valid JSON", ref)
	}

	return &Artifact{Ref: ref, Payload: payload}, nil
}

// toEntry converts a wire model version into the fixed internal
// representation. Task and framework come from version tags, falling back
// to the "<prefix>.<task>.<framework>" naming convention.
func toEntry(v modelVersion) (Entry, error) {
	task, framework := "", ""
	for _, t := range v.Tags {
		switch t.Key {
		case "task":
			task = t.Value
		case "framework":
			framework = t.Value
		}
	}

	if task == "" || framework == "" {
		parts := strings.Split(v.Name, ".")
		if len(parts) != 3 {
			return Entry{}, fmt.Errorf("cannot derive task/framework from %q", v.Name)
		}
		if task == "" {
			task = parts[1]
		}
		if framework == "" {
			framework = parts[2]
		}
	}

	if v.Source == "" {
		return Entry{}, fmt.Errorf("model %q version %s has no artifact source", v.Name, v.Version)
	}

	return Entry{
		Task:        task,
		Framework:   framework,
		Version:     v.Version,
		ArtifactRef: strings.TrimPrefix(v.Source, artifactScheme),
	}, nil
}

func decodeBody(resp *http.Response, dest interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrRegistryUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("registry: decode response: %w", err)
	}
	return nil
}
