package rpc

import (
	"github.com/jcdickinson/cratedoc/internal/index"
	"github.com/jcdickinson/cratedoc/internal/pipeline"
	"github.com/jcdickinson/cratedoc/internal/walker"
)

// BuildRequest is the request body for POST /build. With Replace the crate
// set becomes Crates; otherwise Crates are added to the current set. An
// empty replace request rebuilds the configured crates.
type BuildRequest struct {
	Crates  []walker.Root `json:"crates"`
	Replace bool          `json:"replace,omitempty"`
	Strict  bool          `json:"strict,omitempty"`
}

// BuildResult is the final line of a build stream.
type BuildResult struct {
	Hash        string             `json:"hash,omitempty"`
	Crates      []CrateStatus      `json:"crates,omitempty"`
	Stats       pipeline.Stats     `json:"stats"`
	Diagnostics []index.Diagnostic `json:"diagnostics,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// ProgressLine is a single line of NDJSON streamed from the build endpoint.
type ProgressLine struct {
	Type    string         `json:"type"` // "progress" or "result"
	State   pipeline.State `json:"state,omitempty"`
	Crate   string         `json:"crate,omitempty"`
	Done    int            `json:"done,omitempty"`
	Total   int            `json:"total,omitempty"`
	Message string         `json:"message,omitempty"`
	Result  *BuildResult   `json:"result,omitempty"`
}

// GetDocRequest is the request body for POST /get-doc.
type GetDocRequest struct {
	Crate    string `json:"crate"`
	Version  string `json:"version"`
	Path     string `json:"path"`
	Fragment string `json:"fragment,omitempty"`
}

// GetDocResponse is the response body for POST /get-doc.
type GetDocResponse struct {
	URI      string `json:"uri"`
	Markdown string `json:"markdown"`
}

// LookupRequest is the request body for POST /lookup.
type LookupRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// LookupResponse is the response body for POST /lookup.
type LookupResponse struct {
	Results []ItemResult `json:"results"`
}

type ItemResult struct {
	URI          string `json:"uri"`
	CrateName    string `json:"crate_name"`
	CrateVersion string `json:"crate_version"`
	Path         string `json:"path"`
	Kind         string `json:"kind"`
	Signature    string `json:"signature,omitempty"`
	Summary      string `json:"summary,omitempty"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	State  pipeline.State `json:"state"`
	Hash   string         `json:"hash,omitempty"`
	Stats  pipeline.Stats `json:"stats"`
	Crates []CrateStatus  `json:"crates"`
}

type CrateStatus struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Items     int    `json:"items"`
	Partial   bool   `json:"partial,omitempty"`
	Processed bool   `json:"processed"`
}
