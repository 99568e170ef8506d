// Package suggest fetches follow-up question suggestions for the active
// conversation's knowledge base.
package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/kbchat/internal/chat"
	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/events"
	"github.com/entrepeneur4lyf/kbchat/internal/i18n"
	"github.com/entrepeneur4lyf/kbchat/internal/llm"
)

// MaxSuggestions caps how many suggestions are kept.
const MaxSuggestions = 4

const slotOwner = "suggestions"

const prompt = `Based on the content of the following URLs, suggest up to %d short, distinct questions a user might ask about them.
Respond only with JSON of the form {"suggestions": ["question one", "question two"]}.

URLs:
- %s`

// Options configures a Fetcher.
type Options struct {
	Backend    llm.Backend
	Repository *conversation.Repository
	Slot       *chat.Slot
	Translator i18n.Translator
	Broker     *events.Broker[conversation.Change]
	// Model overrides the backend's default model for suggestions
	Model  string
	Logger *log.Logger
}

// Fetcher keeps one suggestion list per conversation. A newer trigger
// cancels a pending fetch. A fetch skipped while a generation holds the
// slot is retried for the active conversation once the slot is freed.
type Fetcher struct {
	opts   Options
	logger *log.Logger

	mu          sync.Mutex
	suggestions map[string][]string
	cancel      context.CancelFunc
	done        chan struct{}
	deferred    string
}

// New creates a fetcher. Backend, Repository and Slot are required.
func New(opts Options) *Fetcher {
	if opts.Translator == nil {
		opts.Translator = i18n.New("en")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default().With("component", "suggest")
	}
	f := &Fetcher{
		opts:        opts,
		logger:      logger,
		suggestions: make(map[string][]string),
	}
	if opts.Slot != nil {
		opts.Slot.OnRelease(f.slotReleased)
	}
	return f
}

// Suggestions returns the current list for a conversation.
func (f *Fetcher) Suggestions(convID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.suggestions[convID])
}

// Clear drops a conversation's suggestions.
func (f *Fetcher) Clear(convID string) {
	f.mu.Lock()
	_, had := f.suggestions[convID]
	delete(f.suggestions, convID)
	f.mu.Unlock()
	if had {
		f.publish(convID, nil)
	}
}

// HandleChange triggers a fetch when the active conversation's URL set
// changes or a different conversation becomes active.
func (f *Fetcher) HandleChange(ch conversation.Change) {
	switch {
	case ch.Kind == events.ConversationDeleted:
		f.mu.Lock()
		delete(f.suggestions, ch.ConversationID)
		f.mu.Unlock()
	case ch.Kind == events.ConversationActivated && ch.Conversation != nil:
		f.Trigger(ch.ConversationID, ch.Conversation.URLs)
	case ch.URLsChanged && ch.Active && ch.Conversation != nil:
		f.Trigger(ch.ConversationID, ch.Conversation.URLs)
	}
}

// Trigger starts a fetch for urls, replacing any pending one. The returned
// channel is closed when the fetch has finished or been skipped.
func (f *Fetcher) Trigger(convID string, urls []string) <-chan struct{} {
	f.mu.Lock()
	f.deferred = ""
	f.mu.Unlock()

	done := make(chan struct{})
	if !f.opts.Backend.Configured() {
		f.stop()
		close(done)
		return done
	}
	if len(urls) == 0 {
		f.stop()
		f.Clear(convID)
		close(done)
		return done
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	prev := f.done
	f.cancel = cancel
	f.done = done
	f.mu.Unlock()

	urls = slices.Clone(urls)
	go func() {
		defer close(done)
		defer cancel()
		if prev != nil {
			// the replaced fetch still holds the slot until it unwinds
			<-prev
		}
		if ctx.Err() != nil {
			return
		}
		f.fetch(ctx, convID, urls)
	}()
	return done
}

// stop cancels the pending fetch, if any. Its done channel is kept so the
// next trigger still waits for it to release the slot.
func (f *Fetcher) stop() {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.mu.Unlock()
}

func (f *Fetcher) fetch(ctx context.Context, convID string, urls []string) {
	if !f.opts.Slot.TryAcquire(slotOwner) {
		f.logger.Debug("Deferring suggestions, generation in flight", "conversation", convID)
		f.mu.Lock()
		if ctx.Err() == nil {
			f.deferred = convID
		}
		f.mu.Unlock()
		if !f.opts.Slot.Busy() {
			// freed before the deferral was recorded
			f.slotReleased("")
		}
		return
	}
	defer f.opts.Slot.Release(slotOwner)

	reply, err := f.opts.Backend.Generate(ctx, llm.Request{
		Model: f.opts.Model,
		JSON:  true,
		Turns: []llm.Turn{{
			Role:  llm.RoleUser,
			Parts: []llm.Part{llm.TextPart(fmt.Sprintf(prompt, MaxSuggestions, strings.Join(urls, "\n- ")))},
		}},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		f.logger.Warn("Suggestion fetch failed", "conversation", convID, "err", err)
		_, _ = f.opts.Repository.AppendMessage(convID, conversation.Message{
			Sender: conversation.SenderSystem,
			Text:   f.opts.Translator.T(i18n.KeySuggestions, llm.Detail(err)),
		})
		return
	}

	list := Parse(reply)
	f.mu.Lock()
	if ctx.Err() != nil {
		f.mu.Unlock()
		return
	}
	f.suggestions[convID] = list
	f.mu.Unlock()
	f.logger.Debug("Suggestions updated", "conversation", convID, "count", len(list))
	f.publish(convID, list)
}

// slotReleased retries a deferred fetch with the conversation's current
// URLs, provided it is still the active one.
func (f *Fetcher) slotReleased(owner string) {
	if owner == slotOwner {
		return
	}
	f.mu.Lock()
	convID := f.deferred
	f.deferred = ""
	f.mu.Unlock()
	if convID == "" || f.opts.Repository.ActiveID() != convID {
		return
	}
	conv, err := f.opts.Repository.Get(convID)
	if err != nil {
		return
	}
	f.logger.Debug("Retrying deferred suggestions", "conversation", convID)
	f.Trigger(convID, conv.URLs)
}

func (f *Fetcher) publish(convID string, list []string) {
	if f.opts.Broker == nil {
		return
	}
	f.opts.Broker.Publish(events.SuggestionsUpdated, conversation.Change{
		Kind:           events.SuggestionsUpdated,
		ConversationID: convID,
		Suggestions:    slices.Clone(list),
	}, events.WithConversationID(convID))
}

// Parse extracts suggestions from a model reply. Anything unparseable
// yields an empty list.
func Parse(reply string) []string {
	body := strings.TrimSpace(reply)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	var raw []string
	var wrapped struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(body), &wrapped); err == nil {
		raw = wrapped.Suggestions
	} else if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return []string{}
	}

	out := make([]string, 0, MaxSuggestions)
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out
}
