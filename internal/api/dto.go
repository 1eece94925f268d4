package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marginalia/internal/artifact"
)

// RegenerateRequest is the body of the update and redo endpoints.
type RegenerateRequest struct {
	Result   string   `json:"result"`
	Progress *float64 `json:"progress_decimal"`
	artifact.Meta
}

// Validate checks the request.
func (r RegenerateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Result, validation.Required),
		validation.Field(&r.Progress, validation.NotNil, validation.Min(0.0), validation.Max(1.0)),
	)
}

// PositionRequest is the body of PUT /position.
type PositionRequest struct {
	Progress    *float64 `json:"progress_decimal"`
	HiddenFlows []string `json:"hidden_flows"`
}

// Validate checks the request.
func (r PositionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Progress, validation.NotNil, validation.Min(0.0), validation.Max(1.0)),
	)
}

// MoveRequest is the body of POST /documents/move.
type MoveRequest struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

// Validate checks the request.
func (r MoveRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OldPath, validation.Required),
		validation.Field(&r.NewPath, validation.Required),
	)
}

// NotebookRequest is the body of PUT /notebook.
type NotebookRequest struct {
	Content string `json:"content"`
}

// ArtifactListResponse wraps the artifacts of a document.
type ArtifactListResponse struct {
	Document  string             `json:"document"`
	Artifacts []artifact.Summary `json:"artifacts"`
}

// IndexPathsResponse lists the documents of an index.
type IndexPathsResponse struct {
	Index string   `json:"index"`
	Paths []string `json:"paths"`
}
