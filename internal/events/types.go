package events

import (
	"context"
	"time"
)

// EventType identifies the type of event
type EventType string

// Core event types
const (
	// Conversation events
	ConversationCreated   EventType = "conversation.created"
	ConversationUpdated   EventType = "conversation.updated"
	ConversationDeleted   EventType = "conversation.deleted"
	ConversationActivated EventType = "conversation.activated"

	// Message events
	MessageAppended EventType = "message.appended"
	MessageUpdated  EventType = "message.updated"

	// Side channels
	SuggestionsUpdated EventType = "suggestions.updated"
	SpeechRequested    EventType = "speech.requested"
	SettingsUpdated    EventType = "settings.updated"
)

// Event represents a generic event in the system
type Event[T any] struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Payload        T              `json:"payload"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	ConversationID string         `json:"conversationId,omitempty"`
}

// Publisher defines the interface for publishing events
type Publisher[T any] interface {
	Publish(eventType EventType, payload T, opts ...PublishOption)
}

// Subscriber defines the interface for subscribing to events
type Subscriber[T any] interface {
	Subscribe(ctx context.Context, filter ...EventFilter) <-chan Event[T]
}

// EventFilter decides whether an event is delivered. It only sees the
// envelope, never the payload.
type EventFilter func(Envelope) bool

// Envelope is the payload-free part of an event.
type Envelope struct {
	ID             string
	Type           EventType
	Timestamp      time.Time
	ConversationID string
}

func envelopeOf[T any](e Event[T]) Envelope {
	return Envelope{ID: e.ID, Type: e.Type, Timestamp: e.Timestamp, ConversationID: e.ConversationID}
}

// PublishOption defines options for publishing events
type PublishOption func(*PublishOptions)

// PublishOptions contains options for publishing events
type PublishOptions struct {
	ConversationID string
	Metadata       map[string]any
}

// WithConversationID tags the event with the conversation it concerns
func WithConversationID(id string) PublishOption {
	return func(opts *PublishOptions) {
		opts.ConversationID = id
	}
}

// WithMetadata sets metadata for the event
func WithMetadata(metadata map[string]any) PublishOption {
	return func(opts *PublishOptions) {
		opts.Metadata = metadata
	}
}

// FilterByType creates a filter for specific event types
func FilterByType(eventTypes ...EventType) EventFilter {
	typeMap := make(map[EventType]bool)
	for _, t := range eventTypes {
		typeMap[t] = true
	}
	return func(e Envelope) bool {
		return typeMap[e.Type]
	}
}

// FilterByConversation creates a filter for one conversation
func FilterByConversation(id string) EventFilter {
	return func(e Envelope) bool {
		return e.ConversationID == id
	}
}

// CombineFilters combines multiple filters with AND logic
func CombineFilters(filters ...EventFilter) EventFilter {
	return func(e Envelope) bool {
		for _, filter := range filters {
			if !filter(e) {
				return false
			}
		}
		return true
	}
}
