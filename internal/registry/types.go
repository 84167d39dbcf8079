package registry

import "encoding/json"

// Entry is the fixed internal representation of one promoted model in the
// registry. Loose registry payloads are converted to this at the client
// boundary; nothing past this package handles raw registry JSON.
type Entry struct {
	Task        string `json:"task"`
	Framework   string `json:"framework"`
	Version     string `json:"version"`
	ArtifactRef string `json:"artifact_ref"`
}

// Artifact is a fetched model payload. The scoring layer interprets the
// payload according to the framework it was registered under.
type Artifact struct {
	Ref     string
	Payload json.RawMessage
}

// Wire types for the MLflow-style REST API. Only this package decodes them.

type searchResponse struct {
	RegisteredModels []registeredModel `json:"registered_models"`
	NextPageToken    string            `json:"next_page_token"`
}

type registeredModel struct {
	Name           string         `json:"name"`
	LatestVersions []modelVersion `json:"latest_versions"`
}

type modelVersion struct {
	Name         string     `json:"name"`
	Version      string     `json:"version"`
	CurrentStage string     `json:"current_stage"`
	Source       string     `json:"source"`
	Tags         []modelTag `json:"tags"`
}

type modelTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
