// Package attachment tracks user-supplied files through loading, loaded and
// error states.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Status is the load state of an attachment.
type Status string

const (
	StatusLoading Status = "loading"
	StatusLoaded  Status = "loaded"
	StatusError   Status = "error"
)

var (
	ErrUnknownAttachment = errors.New("unknown attachment")
	ErrAlreadySettled    = errors.New("attachment already settled")
)

// Attachment is a file in the knowledge base or attached to a message.
// Data holds the base64 payload and is only set when Status is loaded.
type Attachment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	Data         string `json:"data,omitempty"`
	Status       Status `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Loaded reports whether the attachment carries usable data.
func (a Attachment) Loaded() bool {
	return a.Status == StatusLoaded
}

// Decode returns the raw bytes of a loaded attachment.
func (a Attachment) Decode() ([]byte, error) {
	if !a.Loaded() {
		return nil, fmt.Errorf("attachment %s is %s", a.Name, a.Status)
	}
	raw, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", a.Name, err)
	}
	return raw, nil
}

// Size returns the decoded payload size without decoding it.
func (a Attachment) Size() int {
	if a.Data == "" {
		return 0
	}
	return base64.StdEncoding.DecodedLen(len(a.Data)) - strings.Count(a.Data[max(0, len(a.Data)-2):], "=")
}

// LoadedOnly filters out attachments that are still loading or failed.
func LoadedOnly(in []Attachment) []Attachment {
	out := make([]Attachment, 0, len(in))
	for _, a := range in {
		if a.Loaded() {
			out = append(out, a)
		}
	}
	return out
}

// Clone copies a slice of attachments.
func Clone(in []Attachment) []Attachment {
	if in == nil {
		return nil
	}
	out := make([]Attachment, len(in))
	copy(out, in)
	return out
}
