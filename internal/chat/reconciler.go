// Package chat merges streamed model output into conversation state and
// replays history for edits and regenerations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/kbchat/internal/attachment"
	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/events"
	"github.com/entrepeneur4lyf/kbchat/internal/i18n"
	"github.com/entrepeneur4lyf/kbchat/internal/llm"
)

// Switch policies for a generation whose conversation loses focus.
const (
	PolicyLand  = "land"
	PolicyAbort = "abort"
)

const slotOwner = "generation"

var (
	ErrBusy         = &conversation.Error{Key: i18n.KeyBusy, Message: "a response is already being generated"}
	ErrReplayTarget = &conversation.Error{Key: i18n.KeyReplayTarget, Message: "message cannot be edited or regenerated"}
	ErrEmptyMessage = &conversation.Error{Key: i18n.KeyEmptyMessage, Message: "message is empty"}
	errAborted      = fmt.Errorf("generation aborted: %w", context.Canceled)
)

// Speaker receives finalized model text for read-aloud.
type Speaker interface {
	Speak(ctx context.Context, conversationID, text string)
}

// SuggestionClearer drops suggestions when a send begins.
type SuggestionClearer interface {
	Clear(conversationID string)
}

// Options configures a Reconciler.
type Options struct {
	Backend           llm.Backend
	Repository        *conversation.Repository
	Slot              *Slot
	Translator        i18n.Translator
	Parts             PartMaker
	Speaker           Speaker
	Suggestions       SuggestionClearer
	SystemInstruction string
	SwitchPolicy      string
	StreamTimeout     time.Duration
	Logger            *log.Logger
}

// Reconciler runs one generation at a time and merges its stream into the
// placeholder message it created.
type Reconciler struct {
	opts   Options
	logger *log.Logger

	mu      sync.Mutex
	current *Generation
	policy  string
	timeout time.Duration
}

// New creates a reconciler. Backend and Repository are required.
func New(opts Options) *Reconciler {
	if opts.Slot == nil {
		opts.Slot = &Slot{}
	}
	if opts.Translator == nil {
		opts.Translator = i18n.New("en")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default().With("component", "chat")
	}
	policy := opts.SwitchPolicy
	if policy != PolicyAbort {
		policy = PolicyLand
	}
	return &Reconciler{opts: opts, logger: logger, policy: policy, timeout: opts.StreamTimeout}
}

// Slot returns the shared in-flight guard.
func (r *Reconciler) Slot() *Slot {
	return r.opts.Slot
}

// Busy reports whether a generation or suggestion fetch is in flight.
func (r *Reconciler) Busy() bool {
	return r.opts.Slot.Busy()
}

// Configured reports whether the backend has a credential.
func (r *Reconciler) Configured() bool {
	return r.opts.Backend.Configured()
}

// SetSwitchPolicy changes the policy for later conversation switches.
func (r *Reconciler) SetSwitchPolicy(policy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if policy == PolicyAbort {
		r.policy = PolicyAbort
	} else {
		r.policy = PolicyLand
	}
}

// SwitchPolicy returns the current switch policy.
func (r *Reconciler) SwitchPolicy() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy
}

// SetStreamTimeout bounds later generations; zero means no limit.
func (r *Reconciler) SetStreamTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

// Result is the outcome of a finished generation.
type Result struct {
	// Message is the finalized model message, or the system message that
	// replaced the placeholder on failure.
	Message conversation.Message
	Err     error
}

// Generation is an in-flight response.
type Generation struct {
	ConversationID string
	MessageID      string

	cancel context.CancelCauseFunc
	done   chan struct{}
	result Result
}

// Done is closed when the generation has finished.
func (g *Generation) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the generation finishes.
func (g *Generation) Wait() Result {
	<-g.done
	return g.result
}

// Send appends a user message and streams the model's reply to it.
func (r *Reconciler) Send(ctx context.Context, convID, text string, atts []attachment.Attachment) (*Generation, error) {
	text = strings.TrimSpace(text)
	atts = attachment.LoadedOnly(atts)
	if text == "" && len(atts) == 0 {
		return nil, ErrEmptyMessage
	}
	if !r.opts.Backend.Configured() {
		return nil, llm.ErrNotConfigured
	}
	if _, err := r.opts.Repository.Get(convID); err != nil {
		return nil, err
	}
	if !r.opts.Slot.TryAcquire(slotOwner) {
		return nil, ErrBusy
	}

	r.clearSuggestions(convID)
	if _, err := r.opts.Repository.AppendMessage(convID, conversation.Message{
		Text:        text,
		Sender:      conversation.SenderUser,
		Attachments: atts,
	}); err != nil {
		r.opts.Slot.Release(slotOwner)
		return nil, err
	}
	return r.start(ctx, convID)
}

// Edit replaces a user message with new text, discards everything after
// it, and regenerates the reply. The original attachments are kept.
func (r *Reconciler) Edit(ctx context.Context, convID, msgID, newText string) (*Generation, error) {
	newText = strings.TrimSpace(newText)
	target, _, err := r.opts.Repository.Message(convID, msgID)
	if err != nil {
		return nil, err
	}
	if target.Sender != conversation.SenderUser {
		return nil, ErrReplayTarget
	}
	if newText == "" && len(attachment.LoadedOnly(target.Attachments)) == 0 {
		return nil, ErrEmptyMessage
	}
	if !r.opts.Backend.Configured() {
		return nil, llm.ErrNotConfigured
	}
	if !r.opts.Slot.TryAcquire(slotOwner) {
		return nil, ErrBusy
	}

	if _, err := r.opts.Repository.Truncate(convID, msgID); err != nil {
		r.opts.Slot.Release(slotOwner)
		return nil, err
	}
	r.clearSuggestions(convID)
	if _, err := r.opts.Repository.AppendMessage(convID, conversation.Message{
		Text:        newText,
		Sender:      conversation.SenderUser,
		Attachments: attachment.LoadedOnly(target.Attachments),
	}); err != nil {
		r.opts.Slot.Release(slotOwner)
		return nil, err
	}
	return r.start(ctx, convID)
}

// Regenerate discards a model message and everything after it, then asks
// for a new reply to the remaining history.
func (r *Reconciler) Regenerate(ctx context.Context, convID, msgID string) (*Generation, error) {
	target, _, err := r.opts.Repository.Message(convID, msgID)
	if err != nil {
		return nil, err
	}
	if target.Sender != conversation.SenderModel {
		return nil, ErrReplayTarget
	}
	if !r.opts.Backend.Configured() {
		return nil, llm.ErrNotConfigured
	}
	if !r.opts.Slot.TryAcquire(slotOwner) {
		return nil, ErrBusy
	}

	if _, err := r.opts.Repository.Truncate(convID, msgID); err != nil {
		r.opts.Slot.Release(slotOwner)
		return nil, err
	}
	r.clearSuggestions(convID)
	return r.start(ctx, convID)
}

func (r *Reconciler) clearSuggestions(convID string) {
	if r.opts.Suggestions != nil {
		r.opts.Suggestions.Clear(convID)
	}
}

// start appends the placeholder and launches the stream. The caller holds
// the slot; it is released when the generation finishes.
func (r *Reconciler) start(ctx context.Context, convID string) (*Generation, error) {
	repo := r.opts.Repository

	conv, err := repo.Get(convID)
	if err != nil {
		r.opts.Slot.Release(slotOwner)
		return nil, err
	}
	req := BuildRequest(conv, conv.Messages, r.opts.Parts, r.opts.SystemInstruction)

	placeholder, err := repo.AppendMessage(convID, conversation.Message{
		Sender:    conversation.SenderModel,
		IsLoading: true,
	})
	if err != nil {
		r.opts.Slot.Release(slotOwner)
		return nil, err
	}

	r.mu.Lock()
	timeout := r.timeout
	// the stream outlives the request that started it
	genCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	var stopTimer context.CancelFunc = func() {}
	if timeout > 0 {
		genCtx, stopTimer = context.WithTimeout(genCtx, timeout)
	}
	gen := &Generation{
		ConversationID: convID,
		MessageID:      placeholder.ID,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	r.current = gen
	r.mu.Unlock()

	r.logger.Debug("Generation started", "conversation", convID, "message", placeholder.ID, "turns", len(req.Turns))
	go func() {
		defer stopTimer()
		r.run(genCtx, gen, req)
	}()
	return gen, nil
}

func (r *Reconciler) run(ctx context.Context, gen *Generation, req llm.Request) {
	repo := r.opts.Repository
	collector := llm.NewCollector()

	defer func() {
		r.mu.Lock()
		if r.current == gen {
			r.current = nil
		}
		r.mu.Unlock()
		gen.cancel(nil)
		r.opts.Slot.Release(slotOwner)
		close(gen.done)
	}()

	var streamErr error
	func() {
		defer func() {
			if p := recover(); p != nil {
				streamErr = fmt.Errorf("generation panicked: %v", p)
			}
		}()
		for chunk, err := range r.opts.Backend.Stream(ctx, req) {
			if err != nil {
				streamErr = err
				return
			}
			full := collector.Add(chunk)
			if chunk.Text == "" {
				continue
			}
			if _, err := repo.UpdateMessage(gen.ConversationID, gen.MessageID, func(m *conversation.Message) {
				m.Text = full
			}); err != nil {
				streamErr = err
				return
			}
		}
	}()
	if ctx.Err() != nil {
		// the stream reports a bare context error; the cause says why
		streamErr = context.Cause(ctx)
	}
	collector.EndTime = time.Now()

	if streamErr != nil {
		r.fail(gen, streamErr)
		return
	}

	final, err := repo.UpdateMessage(gen.ConversationID, gen.MessageID, func(m *conversation.Message) {
		m.Text = collector.Text()
		m.IsLoading = false
		m.Citations = toCitationSources(collector.Citations)
		m.URLContext = toRetrievalRecords(collector.URLs)
	})
	if err != nil {
		gen.result = Result{Err: err}
		r.logger.Warn("Generation target vanished", "conversation", gen.ConversationID, "err", err)
		return
	}
	gen.result = Result{Message: final}
	r.logger.Info("Generation finished",
		"conversation", gen.ConversationID,
		"chunks", collector.Chunks,
		"citations", len(final.Citations),
		"duration", collector.Duration().Round(time.Millisecond))

	if r.opts.Speaker != nil && final.Text != "" {
		r.opts.Speaker.Speak(context.WithoutCancel(ctx), gen.ConversationID, final.Text)
	}
}

// fail replaces the placeholder with a system message describing err.
func (r *Reconciler) fail(gen *Generation, err error) {
	if errors.Is(err, conversation.ErrUnknownMessage) || errors.Is(err, conversation.ErrUnknownConversation) {
		gen.result = Result{Err: err}
		r.logger.Debug("Generation target vanished", "conversation", gen.ConversationID)
		return
	}

	text := llm.Describe(err, r.opts.Translator)
	msg, uerr := r.opts.Repository.ReplaceMessage(gen.ConversationID, gen.MessageID, conversation.Message{
		Text:   text,
		Sender: conversation.SenderSystem,
	})
	if uerr != nil {
		gen.result = Result{Err: err}
		return
	}
	gen.result = Result{Message: msg, Err: err}
	r.logger.Warn("Generation failed", "conversation", gen.ConversationID, "kind", llm.Classify(err), "err", err)
}

// Current returns the in-flight generation, or nil.
func (r *Reconciler) Current() *Generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Cancel stops the in-flight generation. Its placeholder becomes a
// cancellation notice. It reports false when nothing was running.
func (r *Reconciler) Cancel() bool {
	gen := r.Current()
	if gen == nil {
		return false
	}
	gen.cancel(errAborted)
	return true
}

// HandleChange reacts to repository changes: a deleted conversation always
// stops its generation, and a switch away from it stops it under the abort
// policy.
func (r *Reconciler) HandleChange(ch conversation.Change) {
	r.mu.Lock()
	gen := r.current
	policy := r.policy
	r.mu.Unlock()
	if gen == nil {
		return
	}

	switch ch.Kind {
	case events.ConversationDeleted:
		if ch.ConversationID == gen.ConversationID {
			gen.cancel(conversation.ErrUnknownConversation)
		}
	case events.ConversationActivated:
		if policy == PolicyAbort && ch.ConversationID != gen.ConversationID {
			r.logger.Info("Aborting generation after conversation switch", "conversation", gen.ConversationID)
			gen.cancel(errAborted)
		}
	}
}

func toCitationSources(in []llm.Citation) []conversation.CitationSource {
	if len(in) == 0 {
		return nil
	}
	out := make([]conversation.CitationSource, len(in))
	for i, c := range in {
		out[i] = conversation.CitationSource{
			StartIndex: c.StartIndex,
			EndIndex:   c.EndIndex,
			URI:        c.URI,
			License:    c.License,
			Title:      c.Title,
		}
	}
	return out
}

func toRetrievalRecords(in []llm.URLStatus) []conversation.URLRetrievalRecord {
	if len(in) == 0 {
		return nil
	}
	out := make([]conversation.URLRetrievalRecord, len(in))
	for i, u := range in {
		out[i] = conversation.URLRetrievalRecord{RetrievedURL: u.URL, URLRetrievalStatus: u.Status}
	}
	return out
}
