package voice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/events"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"markdown", "## Answer\n\nThe **answer** is `42`[^1].", "Answer The answer is 42."},
		{"arabic diacritics", "مَرْحَبًا بِكُمْ", "مرحبا بكم"},
		{"tatweel", "كـــتاب", "كتاب"},
		{"latin accents kept", "café résumé", "café résumé"},
		{"empty", "  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestHasArabic(t *testing.T) {
	assert.True(t, HasArabic("hello مرحبا"))
	assert.False(t, HasArabic("hello"))
	assert.False(t, HasArabic("َ"))
}

func TestLanguage(t *testing.T) {
	assert.Equal(t, language.Arabic, Language("مرحبا", language.Spanish))
	assert.Equal(t, language.Spanish, Language("hola", language.Spanish))
}

func TestCleanTranscript(t *testing.T) {
	assert.Equal(t, "what is this page about", CleanTranscript("  what is\tthis  page\nabout "))
}

func TestBrokerSpeaker(t *testing.T) {
	broker := events.NewBroker[conversation.Change]()
	t.Cleanup(broker.Shutdown)

	s := NewBrokerSpeaker(broker, nil, false)
	s.Speak(context.Background(), "c1", "ignored")
	assert.Empty(t, broker.GetHistory())

	s.SetEnabled(true)
	require.True(t, s.Enabled())
	s.Speak(context.Background(), "c1", "**Hello** there")

	hist := broker.GetHistory(events.FilterByType(events.SpeechRequested))
	require.Len(t, hist, 1)
	assert.Equal(t, "c1", hist[0].ConversationID)
	require.NotNil(t, hist[0].Payload.Message)
	assert.Equal(t, "Hello there", hist[0].Payload.Message.Text)
	assert.Equal(t, "en", hist[0].Metadata["lang"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Speak(ctx, "c1", "late")
	assert.Len(t, broker.GetHistory(), 1)
}

func TestNopSpeaker(t *testing.T) {
	NopSpeaker{}.Speak(context.Background(), "c", "text")
}
