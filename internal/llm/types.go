// Package llm defines the model backend contract and its Gemini
// implementation.
package llm

import (
	"context"
	"iter"
)

// Role of a turn in the request
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Part is one piece of a turn: text, or inline binary data with its MIME type
type Part struct {
	Text     string
	MimeType string
	Data     []byte
}

// IsInline reports whether the part carries binary data
func (p Part) IsInline() bool {
	return p.Data != nil
}

// TextPart creates a text part
func TextPart(text string) Part {
	return Part{Text: text}
}

// InlinePart creates a binary part
func InlinePart(mimeType string, data []byte) Part {
	return Part{MimeType: mimeType, Data: data}
}

// Turn is a role-tagged sequence of parts
type Turn struct {
	Role  Role
	Parts []Part
}

// Request is everything the backend needs for one generation
type Request struct {
	// Model overrides the backend's default model when set
	Model             string
	SystemInstruction string
	Turns             []Turn
	// URLs enables URL-grounded retrieval when non-empty
	URLs []string
	// JSON asks for an application/json response
	JSON bool
}

// Citation attributes a byte range of the final text to a source
type Citation struct {
	StartIndex int
	EndIndex   int
	URI        string
	License    string
	Title      string
}

// URLStatus is the retrieval outcome for one URL
type URLStatus struct {
	URL    string
	Status string
}

// Chunk is one streamed piece of a response. Citations and URLs are
// terminal metadata; the last non-empty values seen win.
type Chunk struct {
	Text      string
	Citations []Citation
	URLs      []URLStatus
}

// Backend is a model service
type Backend interface {
	// Configured reports whether a credential is present
	Configured() bool
	// Stream yields chunks in arrival order. A non-nil error is terminal.
	Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error]
	// Generate returns a complete, non-streamed response
	Generate(ctx context.Context, req Request) (string, error)
}
