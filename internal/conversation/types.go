package conversation

import (
	"time"

	"github.com/entrepeneur4lyf/kbchat/internal/attachment"
	"github.com/entrepeneur4lyf/kbchat/internal/events"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderModel  Sender = "model"
	SenderSystem Sender = "system"
)

// CitationSource is a half-open byte range of a model message's final text
// attributed to a source.
type CitationSource struct {
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
	URI        string `json:"uri"`
	License    string `json:"license,omitempty"`
	Title      string `json:"title,omitempty"`
}

// URLRetrievalRecord reports how the backend fared fetching one URL.
type URLRetrievalRecord struct {
	RetrievedURL       string `json:"retrievedUrl"`
	URLRetrievalStatus string `json:"urlRetrievalStatus"`
}

// Message is one entry of a conversation log. A model message is created
// loading with empty text and finalized in place.
type Message struct {
	ID          string                  `json:"id"`
	Text        string                  `json:"text"`
	Sender      Sender                  `json:"sender"`
	Timestamp   time.Time               `json:"timestamp"`
	IsLoading   bool                    `json:"isLoading,omitempty"`
	Attachments []attachment.Attachment `json:"attachments,omitempty"`
	Citations   []CitationSource        `json:"citations,omitempty"`
	URLContext  []URLRetrievalRecord    `json:"urlContext,omitempty"`
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	out := m
	out.Attachments = attachment.Clone(m.Attachments)
	if m.Citations != nil {
		out.Citations = append([]CitationSource(nil), m.Citations...)
	}
	if m.URLContext != nil {
		out.URLContext = append([]URLRetrievalRecord(nil), m.URLContext...)
	}
	return out
}

// Conversation is a named message log with its own knowledge base.
type Conversation struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	URLs        []string                `json:"urls"`
	Files       []attachment.Attachment `json:"files"`
	Messages    []Message               `json:"messages"`
	LastUpdated time.Time               `json:"lastUpdated"`
}

// ContextItems counts URLs and files.
func (c Conversation) ContextItems() int {
	return len(c.URLs) + len(c.Files)
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	out := c
	out.URLs = append([]string{}, c.URLs...)
	out.Files = attachment.Clone(c.Files)
	if out.Files == nil {
		out.Files = []attachment.Attachment{}
	}
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// Snapshot is the persisted state of the repository.
type Snapshot struct {
	Conversations   []Conversation `json:"conversations"`
	ActiveID        string         `json:"activeConversationId"`
	MaxContextItems int            `json:"maxContextItems"`
}

// Change describes one repository mutation. Hooks and broker subscribers
// receive copies, never live state.
type Change struct {
	Kind           events.EventType `json:"kind"`
	ConversationID string           `json:"conversationId,omitempty"`
	Active         bool             `json:"active"`
	URLsChanged    bool             `json:"urlsChanged,omitempty"`
	Conversation   *Conversation    `json:"conversation,omitempty"`
	Message        *Message         `json:"message,omitempty"`
	Suggestions    []string         `json:"suggestions,omitempty"`
}
