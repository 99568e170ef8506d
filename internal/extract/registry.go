// Package extract turns knowledge-base documents into request parts. Types
// the model reads natively are passed through inline and text-like documents
// are converted to plain text. A supported document that cannot be read is
// replaced by a short note; unsupported types are dropped.
package extract

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/kbchat/internal/attachment"
	"github.com/entrepeneur4lyf/kbchat/internal/llm"
)

// Extractor converts raw document bytes to text.
type Extractor func(raw []byte) (string, error)

const (
	DocxMimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	XlsxMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// extensions covers types missing from the stdlib table on hosts without
// a system mime.types file.
var extensions = map[string]string{
	".docx": DocxMimeType,
	".xlsx": XlsxMimeType,
	".md":   "text/markdown",
	".csv":  "text/csv",
	".txt":  "text/plain",
}

// TypeByExtension returns the MIME type for a file name's extension, or "".
func TypeByExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := extensions[ext]; ok {
		return mt
	}
	return mime.TypeByExtension(ext)
}

// Registry maps MIME types to extractors.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
	inline     map[string]bool
	logger     *log.Logger
}

// NewRegistry returns a registry with the built-in extractors.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default().With("component", "extract")
	}
	r := &Registry{
		extractors: make(map[string]Extractor),
		inline:     make(map[string]bool),
		logger:     logger,
	}

	for _, m := range []string{"text/plain", "text/markdown", "text/x-markdown", "text/csv", "application/json"} {
		r.Register(m, PlainText)
	}
	r.Register("text/html", HTML)
	r.Register("application/xhtml+xml", HTML)
	r.Register(DocxMimeType, Docx)
	r.Register(XlsxMimeType, Xlsx)

	r.Inline("application/pdf")
	for _, m := range []string{"image/png", "image/jpeg", "image/webp", "image/heic", "image/heif", "image/gif"} {
		r.Inline(m)
	}
	return r
}

// Register installs fn for mimeType, replacing any previous extractor.
func (r *Registry) Register(mimeType string, fn Extractor) {
	r.mu.Lock()
	r.extractors[normalize(mimeType)] = fn
	r.mu.Unlock()
}

// Inline marks mimeType as sent to the model as raw bytes.
func (r *Registry) Inline(mimeType string) {
	r.mu.Lock()
	r.inline[normalize(mimeType)] = true
	r.mu.Unlock()
}

func normalize(mimeType string) string {
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func (r *Registry) lookup(mimeType string) (Extractor, bool, bool) {
	mt := normalize(mimeType)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.inline[mt] {
		return nil, true, true
	}
	if fn, ok := r.extractors[mt]; ok {
		return fn, false, true
	}
	if strings.HasPrefix(mt, "text/") {
		return PlainText, false, true
	}
	return nil, false, false
}

// Supports reports whether documents of mimeType can be sent at all.
func (r *Registry) Supports(mimeType string) bool {
	_, _, ok := r.lookup(mimeType)
	return ok
}

// Extract returns the text of a loaded attachment. It reports false for
// inline and unsupported types. A document that fails to decode or parse
// yields a note naming the failure.
func (r *Registry) Extract(a attachment.Attachment) (string, bool) {
	if !a.Loaded() {
		return "", false
	}
	fn, inline, ok := r.lookup(a.MimeType)
	if !ok || inline {
		return "", false
	}
	raw, err := a.Decode()
	if err != nil {
		r.logger.Warn("Undecodable attachment", "name", a.Name, "err", err)
		return unreadable(a, err), true
	}
	text, err := fn(raw)
	if err != nil {
		r.logger.Warn("Extraction failed", "name", a.Name, "mime", a.MimeType, "err", err)
		return unreadable(a, err), true
	}
	return text, true
}

func unreadable(a attachment.Attachment, err error) string {
	return fmt.Sprintf("[The contents of %q (%s) could not be read: %v]", a.Name, normalize(a.MimeType), err)
}

// Part builds the request part for an attachment.
func (r *Registry) Part(a attachment.Attachment) (llm.Part, bool) {
	if !a.Loaded() {
		return llm.Part{}, false
	}
	_, inline, ok := r.lookup(a.MimeType)
	if !ok {
		return llm.Part{}, false
	}
	if inline {
		raw, err := a.Decode()
		if err != nil || len(raw) == 0 {
			return llm.Part{}, false
		}
		return llm.InlinePart(normalize(a.MimeType), raw), true
	}
	text, ok := r.Extract(a)
	if !ok || strings.TrimSpace(text) == "" {
		return llm.Part{}, false
	}
	return llm.TextPart(fmt.Sprintf("Document %q:\n%s", a.Name, text)), true
}
