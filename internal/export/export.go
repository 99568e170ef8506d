// Package export renders a conversation log as plain text or markdown.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/entrepeneur4lyf/kbchat/internal/attachment"
	"github.com/entrepeneur4lyf/kbchat/internal/chat"
	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/i18n"
)

// Format is an export file format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts "text"/"txt" and "markdown"/"md".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "txt", "plain":
		return FormatText, nil
	case "markdown", "md", "":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string {
	if f == FormatText {
		return ".txt"
	}
	return ".md"
}

// ContentType returns the MIME type of the rendered file.
func (f Format) ContentType() string {
	if f == FormatText {
		return "text/plain; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

// Options controls rendering.
type Options struct {
	Translator i18n.Translator
	Numbering  chat.Numbering
	// Location for timestamps; UTC when nil
	Location *time.Location
}

func (o Options) withDefaults() Options {
	if o.Translator == nil {
		o.Translator = i18n.New("en")
	}
	if o.Numbering == "" {
		o.Numbering = chat.NumberProcessing
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// Messages returns the log without the welcome message.
func Messages(conv conversation.Conversation) []conversation.Message {
	msgs := conv.Messages
	if len(msgs) > 0 && msgs[0].Sender == conversation.SenderSystem {
		msgs = msgs[1:]
	}
	return msgs
}

// Render renders conv in format.
func Render(conv conversation.Conversation, format Format, opts Options) string {
	opts = opts.withDefaults()
	if format == FormatText {
		return renderText(conv, opts)
	}
	return renderMarkdown(conv, opts)
}

func label(tr i18n.Translator, s conversation.Sender) string {
	switch s {
	case conversation.SenderUser:
		return tr.T(i18n.KeyLabelUser)
	case conversation.SenderModel:
		return tr.T(i18n.KeyLabelModel)
	default:
		return tr.T(i18n.KeyLabelSystem)
	}
}

func attachmentNames(atts []attachment.Attachment) string {
	names := make([]string, 0, len(atts))
	for _, a := range attachment.LoadedOnly(atts) {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

func stamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateTime)
}

func renderText(conv conversation.Conversation, opts Options) string {
	var b strings.Builder
	b.WriteString(conv.Name + "\n\n")
	for _, m := range Messages(conv) {
		fmt.Fprintf(&b, "[%s] %s:\n", stamp(m.Timestamp, opts.Location), label(opts.Translator, m.Sender))
		if names := attachmentNames(m.Attachments); names != "" {
			fmt.Fprintf(&b, "%s: %s\n", opts.Translator.T(i18n.KeyLabelAttachments), names)
		}
		b.WriteString(strings.TrimSpace(m.Text) + "\n")

		if m.Sender == conversation.SenderModel && len(m.Citations) > 0 {
			rendered := chat.RenderCitations(m.Text, m.Citations, opts.Numbering)
			fmt.Fprintf(&b, "%s:\n", opts.Translator.T(i18n.KeyLabelSources))
			for _, s := range rendered.Sources {
				fmt.Fprintf(&b, "  - %s\n", s.URI)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderMarkdown(conv conversation.Conversation, opts Options) string {
	var b strings.Builder
	b.WriteString("# " + conv.Name + "\n\n")
	for _, m := range Messages(conv) {
		fmt.Fprintf(&b, "## %s\n\n", label(opts.Translator, m.Sender))
		fmt.Fprintf(&b, "_%s_\n\n", stamp(m.Timestamp, opts.Location))
		if names := attachmentNames(m.Attachments); names != "" {
			fmt.Fprintf(&b, "**%s:** %s\n\n", opts.Translator.T(i18n.KeyLabelAttachments), names)
		}

		text := strings.TrimSpace(m.Text)
		var footnotes string
		if m.Sender == conversation.SenderModel && len(m.Citations) > 0 {
			rendered := chat.RenderCitations(m.Text, m.Citations, opts.Numbering)
			text = strings.TrimSpace(rendered.Text)
			footnotes = chat.FormatFootnotes(rendered.Sources)
		}
		b.WriteString(text + "\n\n")
		if footnotes != "" {
			b.WriteString(footnotes + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

var lower = cases.Lower(language.Und)

// FileName derives a file name from the conversation name.
func FileName(conv conversation.Conversation, format Format) string {
	var b strings.Builder
	dash := false
	for _, r := range lower.String(conv.Name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "conversation"
	}
	return name + format.Ext()
}

// Exporter writes rendered conversations into a directory.
type Exporter struct {
	dir  string
	opts Options
}

// New creates an exporter writing into dir.
func New(dir string, opts Options) *Exporter {
	return &Exporter{dir: strings.TrimSpace(dir), opts: opts}
}

// Export writes conv and returns the file path.
func (e *Exporter) Export(conv conversation.Conversation, format Format) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(e.dir, FileName(conv, format))
	if err := os.WriteFile(path, []byte(Render(conv, format, e.opts)), 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}
