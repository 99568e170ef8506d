// Package summary asks the model backend for a short recap of a
// conversation.
package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/export"
	"github.com/entrepeneur4lyf/kbchat/internal/i18n"
	"github.com/entrepeneur4lyf/kbchat/internal/llm"
)

var ErrNothingToSummarize = &conversation.Error{Key: i18n.KeyNothingToSummarize, Message: "nothing to summarize"}

const instruction = `Summarize the following conversation between a user and an assistant in a few short bullet points. Mention the main questions asked and the key answers. Reply in the language the conversation is written in.`

// Summarizer produces conversation summaries.
type Summarizer struct {
	backend llm.Backend
	tr      i18n.Translator
	model   string
	logger  *log.Logger
}

// New creates a summarizer. model may be empty to use the backend default.
func New(backend llm.Backend, tr i18n.Translator, model string) *Summarizer {
	if tr == nil {
		tr = i18n.New("en")
	}
	return &Summarizer{
		backend: backend,
		tr:      tr,
		model:   model,
		logger:  log.Default().With("component", "summary"),
	}
}

func hasContent(conv conversation.Conversation) bool {
	for _, m := range export.Messages(conv) {
		if m.Sender != conversation.SenderSystem && !m.IsLoading && strings.TrimSpace(m.Text) != "" {
			return true
		}
	}
	return false
}

// Summarize returns a summary of conv's user and model turns.
func (s *Summarizer) Summarize(ctx context.Context, conv conversation.Conversation) (string, error) {
	if !hasContent(conv) {
		return "", ErrNothingToSummarize
	}
	if !s.backend.Configured() {
		return "", llm.ErrNotConfigured
	}

	transcript := export.Render(conv, export.FormatText, export.Options{Translator: s.tr})
	reply, err := s.backend.Generate(ctx, llm.Request{
		Model:             s.model,
		SystemInstruction: instruction,
		Turns: []llm.Turn{{
			Role:  llm.RoleUser,
			Parts: []llm.Part{llm.TextPart(transcript)},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", conv.ID, err)
	}
	s.logger.Debug("Summary generated", "conversation", conv.ID, "chars", len(reply))
	return strings.TrimSpace(reply), nil
}

// Append summarizes a stored conversation and appends the result as a
// system message.
func (s *Summarizer) Append(ctx context.Context, repo *conversation.Repository, convID string) (conversation.Message, error) {
	conv, err := repo.Get(convID)
	if err != nil {
		return conversation.Message{}, err
	}
	text, err := s.Summarize(ctx, conv)
	if err != nil {
		return conversation.Message{}, err
	}
	return repo.AppendMessage(convID, conversation.Message{
		Sender: conversation.SenderSystem,
		Text:   fmt.Sprintf("**%s**\n\n%s", s.tr.T(i18n.KeySummaryTitle), text),
	})
}
