package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sibylquant/sibyl/pkg/httputil"
	"github.com/sibylquant/sibyl/pkg/logger"
)

func newTestClient(baseURL string) *Client {
	httpClient := httputil.New(logger.NewDefault()).DisableRetry()
	return NewClient(baseURL, httpClient, zerolog.Nop())
}

func TestListProductionModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/2.0/mlflow/registered-models/search" {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"registered_models": [
				{
					"name": "sibyl.return_1step.linear",
					"latest_versions": [
						{
							"name": "sibyl.return_1step.linear",
							"version": "7",
							"current_stage": "Production",
							"source": "mlflow-artifacts:/12/abc/artifacts/model.json"
						},
						{
							"name": "sibyl.return_1step.linear",
							"version": "8",
							"current_stage": "Staging",
							"source": "mlflow-artifacts:/12/def/artifacts/model.json"
						}
					]
				},
				{
					"name": "direction-model",
					"latest_versions": [
						{
							"name": "direction-model",
							"version": "3",
							"current_stage": "Production",
							"source": "mlflow-artifacts:/13/ghi/artifacts/model.json",
							"tags": [
								{"key": "task", "value": "direction_4step"},
								{"key": "framework", "value": "gbdt"}
							]
						}
					]
				},
				{
					"name": "unresolvable",
					"latest_versions": [
						{
							"name": "unresolvable",
							"version": "1",
							"current_stage": "Production",
							"source": "mlflow-artifacts:/14/jkl/artifacts/model.json"
						}
					]
				}
			]
		}`))
	}))
	defer srv.Close()

	entries, err := newTestClient(srv.URL).ListProductionModels(context.Background())
	if err != nil {
		t.Fatalf("ListProductionModels() failed: %v", err)
	}

	// Staging version and the unresolvable name are skipped.
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}

	first := entries[0]
	if first.Task != "return_1step" || first.Framework != "linear" {
		t.Errorf("Name-convention entry resolved to %s/%s", first.Task, first.Framework)
	}
	if first.Version != "7" {
		t.Errorf("Expected version 7, got %s", first.Version)
	}
	if first.ArtifactRef != "12/abc/artifacts/model.json" {
		t.Errorf("Expected artifact scheme stripped, got %s", first.ArtifactRef)
	}

	second := entries[1]
	if second.Task != "direction_4step" || second.Framework != "gbdt" {
		t.Errorf("Tagged entry resolved to %s/%s", second.Task, second.Framework)
	}
}

func TestListProductionModelsPagination(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Query().Get("page_token") == "" {
			_, _ = w.Write([]byte(`{
				"registered_models": [{
					"name": "sibyl.return_1step.linear",
					"latest_versions": [{
						"name": "sibyl.return_1step.linear",
						"version": "1",
						"current_stage": "Production",
						"source": "mlflow-artifacts:/1/a/model.json"
					}]
				}],
				"next_page_token": "page2"
			}`))
			return
		}

		_, _ = w.Write([]byte(`{
			"registered_models": [{
				"name": "sibyl.regime.linear",
				"latest_versions": [{
					"name": "sibyl.regime.linear",
					"version": "2",
					"current_stage": "Production",
					"source": "mlflow-artifacts:/2/b/model.json"
				}]
			}]
		}`))
	}))
	defer srv.Close()

	entries, err := newTestClient(srv.URL).ListProductionModels(context.Background())
	if err != nil {
		t.Fatalf("ListProductionModels() failed: %v", err)
	}

	if calls != 2 {
		t.Errorf("Expected 2 pages fetched, got %d", calls)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 entries across pages, got %d", len(entries))
	}
}

func TestListProductionModelsRepeatedPageToken(t *testing.T) {
	// A registry that hands back the token it was given would otherwise
	// keep the listing spinning on the same page until the context expires.
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"registered_models": [{
				"name": "sibyl.return_1step.linear",
				"latest_versions": [{
					"name": "sibyl.return_1step.linear",
					"version": "1",
					"current_stage": "Production",
					"source": "mlflow-artifacts:/1/a/model.json"
				}]
			}],
			"next_page_token": "stuck"
		}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ListProductionModels(context.Background())
	if err == nil {
		t.Fatal("Expected an error for a repeating page token, got nil")
	}
	if calls != 2 {
		t.Errorf("Server hit %d times, want 2 (first page plus the repeat)", calls)
	}
}

func TestListProductionModelsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ListProductionModels(context.Background())
	if !errors.Is(err, ErrRegistryUnavailable) {
		t.Errorf("Expected ErrRegistryUnavailable, got %v", err)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/2.0/mlflow-artifacts/artifacts/12/abc/model.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"intercept": 0.1}`))
	}))
	defer srv.Close()

	artifact, err := newTestClient(srv.URL).Fetch(context.Background(), "12/abc/model.json")
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}

	if artifact.Ref != "12/abc/model.json" {
		t.Errorf("Unexpected ref %s", artifact.Ref)
	}
	if string(artifact.Payload) != `{"intercept": 0.1}` {
		t.Errorf("Unexpected payload %s", artifact.Payload)
	}
}

func TestFetchInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Fetch(context.Background(), "ref"); err == nil {
		t.Error("Expected error for invalid JSON artifact, got nil")
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Fetch(context.Background(), "missing")
	if !errors.Is(err, ErrRegistryUnavailable) {
		t.Errorf("Expected ErrRegistryUnavailable, got %v", err)
	}
}

func TestToEntry(t *testing.T) {
	tests := []struct {
		name          string
		version       modelVersion
		wantTask      string
		wantFramework string
		wantErr       bool
	}{
		{
			name: "tags win over name",
			version: modelVersion{
				Name:    "whatever",
				Version: "1",
				Source:  "mlflow-artifacts:/1/a",
				Tags: []modelTag{
					{Key: "task", Value: "regime"},
					{Key: "framework", Value: "tfserving"},
				},
			},
			wantTask:      "regime",
			wantFramework: "tfserving",
		},
		{
			name: "name convention fallback",
			version: modelVersion{
				Name:    "sibyl.direction_4step.torchserve",
				Version: "2",
				Source:  "mlflow-artifacts:/2/b",
			},
			wantTask:      "direction_4step",
			wantFramework: "torchserve",
		},
		{
			name: "partial tags fill from name",
			version: modelVersion{
				Name:    "sibyl.regime.linear",
				Version: "3",
				Source:  "mlflow-artifacts:/3/c",
				Tags:    []modelTag{{Key: "task", Value: "regime_alt"}},
			},
			wantTask:      "regime_alt",
			wantFramework: "linear",
		},
		{
			name: "unresolvable name",
			version: modelVersion{
				Name:    "just-a-name",
				Version: "4",
				Source:  "mlflow-artifacts:/4/d",
			},
			wantErr: true,
		},
		{
			name: "missing source",
			version: modelVersion{
				Name:    "sibyl.regime.linear",
				Version: "5",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := toEntry(tt.version)
			if (err != nil) != tt.wantErr {
				t.Fatalf("toEntry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if entry.Task != tt.wantTask || entry.Framework != tt.wantFramework {
				t.Errorf("toEntry() = %s/%s, want %s/%s", entry.Task, entry.Framework, tt.wantTask, tt.wantFramework)
			}
		})
	}
}
