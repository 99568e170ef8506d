package voice

import (
	"context"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/text/language"

	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/events"
)

// NopSpeaker discards text.
type NopSpeaker struct{}

func (NopSpeaker) Speak(context.Context, string, string) {}

// BrokerSpeaker hands normalized text to connected clients as a
// speech.requested event. Clients run the synthesis engine.
type BrokerSpeaker struct {
	broker  *events.Broker[conversation.Change]
	locale  func() language.Tag
	enabled atomic.Bool
	logger  *log.Logger
}

// NewBrokerSpeaker publishes on broker. locale supplies the fallback voice
// language and may be nil.
func NewBrokerSpeaker(broker *events.Broker[conversation.Change], locale func() language.Tag, enabled bool) *BrokerSpeaker {
	if locale == nil {
		locale = func() language.Tag { return language.English }
	}
	s := &BrokerSpeaker{
		broker: broker,
		locale: locale,
		logger: log.Default().With("component", "voice"),
	}
	s.enabled.Store(enabled)
	return s
}

// SetEnabled toggles read-aloud.
func (s *BrokerSpeaker) SetEnabled(on bool) {
	s.enabled.Store(on)
}

// Enabled reports whether read-aloud is on.
func (s *BrokerSpeaker) Enabled() bool {
	return s.enabled.Load()
}

func (s *BrokerSpeaker) Speak(ctx context.Context, convID, text string) {
	if !s.enabled.Load() || ctx.Err() != nil {
		return
	}
	spoken := Normalize(text)
	if spoken == "" {
		return
	}
	lang := Language(spoken, s.locale())
	s.logger.Debug("Speech requested", "conversation", convID, "lang", lang, "chars", len(spoken))
	s.broker.Publish(events.SpeechRequested, conversation.Change{
		Kind:           events.SpeechRequested,
		ConversationID: convID,
		Message:        &conversation.Message{Text: spoken, Sender: conversation.SenderModel},
	}, events.WithConversationID(convID), events.WithMetadata(map[string]any{"lang": lang.String()}))
}
