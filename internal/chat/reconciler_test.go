package chat

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/entrepeneur4lyf/kbchat/internal/attachment"
	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/llm"
	"github.com/entrepeneur4lyf/kbchat/internal/llm/llmtest"
)

type textParts struct{}

func (textParts) Part(a attachment.Attachment) (llm.Part, bool) {
	raw, err := a.Decode()
	if err != nil {
		return llm.Part{}, false
	}
	if a.MimeType == "image/png" {
		return llm.InlinePart(a.MimeType, raw), true
	}
	if a.MimeType == "text/plain" {
		return llm.TextPart(string(raw)), true
	}
	return llm.Part{}, false
}

type recordingSpeaker struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSpeaker) Speak(_ context.Context, _ string, text string) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
}

type recordingClearer struct {
	mu      sync.Mutex
	cleared []string
}

func (c *recordingClearer) Clear(id string) {
	c.mu.Lock()
	c.cleared = append(c.cleared, id)
	c.mu.Unlock()
}

type fixture struct {
	repo    *conversation.Repository
	backend *llmtest.Backend
	rec     *Reconciler
	speaker *recordingSpeaker
	clearer *recordingClearer
}

func newFixture(t *testing.T, policy string, steps ...llmtest.Step) *fixture {
	t.Helper()
	f := &fixture{
		repo:    conversation.New(),
		backend: llmtest.New(steps...),
		speaker: &recordingSpeaker{},
		clearer: &recordingClearer{},
	}
	f.rec = New(Options{
		Backend:           f.backend,
		Repository:        f.repo,
		Parts:             textParts{},
		Speaker:           f.speaker,
		Suggestions:       f.clearer,
		SystemInstruction: "be helpful",
		SwitchPolicy:      policy,
	})
	f.repo.OnChange(f.rec.HandleChange)
	return f
}

func (f *fixture) send(t *testing.T, convID, text string) Result {
	t.Helper()
	gen, err := f.rec.Send(context.Background(), convID, text, nil)
	require.NoError(t, err)
	return gen.Wait()
}

func waitStarted(t *testing.T, b *llmtest.Backend) {
	t.Helper()
	select {
	case <-b.Started:
	case <-time.After(2 * time.Second):
		t.Fatal("backend was never called")
	}
}

func TestSend_StreamsDeltasIntoPlaceholder(t *testing.T) {
	steps := llmtest.Text("Hel", "lo")
	steps = append(steps, llmtest.Step{Chunk: llm.Chunk{
		Citations: []llm.Citation{{StartIndex: 0, EndIndex: 5, URI: "u"}},
		URLs:      []llm.URLStatus{{URL: "https://example.com", Status: "URL_RETRIEVAL_STATUS_SUCCESS"}},
	}})
	f := newFixture(t, PolicyLand, steps...)
	id := f.repo.ActiveID()

	res := f.send(t, id, "hi")
	require.NoError(t, res.Err)

	history, _ := f.repo.History(id)
	require.Len(t, history, 3)
	final := history[2]
	assert.Equal(t, conversation.SenderModel, final.Sender)
	assert.Equal(t, "Hello", final.Text)
	assert.False(t, final.IsLoading)
	assert.Equal(t, res.Message.ID, final.ID)
	require.Len(t, final.URLContext, 1)

	rendered := RenderCitations(final.Text, final.Citations, NumberProcessing)
	assert.Equal(t, "Hello[^1]", rendered.Text)

	assert.Equal(t, []string{"Hello"}, f.speaker.texts)
	assert.Equal(t, []string{id}, f.clearer.cleared)
	assert.False(t, f.rec.Busy())

	req := f.backend.LastRequest()
	assert.Equal(t, "be helpful", req.SystemInstruction)
	require.Len(t, req.Turns, 1, "welcome message is not sent")
	assert.Equal(t, llm.RoleUser, req.Turns[0].Role)
	assert.Equal(t, "hi", req.Turns[0].Parts[0].Text)
}

func TestSend_NotConfigured(t *testing.T) {
	f := newFixture(t, PolicyLand, llmtest.Text("x")...)
	f.backend.SetConfigured(false)
	id := f.repo.ActiveID()

	_, err := f.rec.Send(context.Background(), id, "hi", nil)
	assert.ErrorIs(t, err, llm.ErrNotConfigured)

	history, _ := f.repo.History(id)
	assert.Len(t, history, 1)
	assert.Empty(t, f.backend.Requests())
}

func TestSend_Empty(t *testing.T) {
	f := newFixture(t, PolicyLand)
	_, err := f.rec.Send(context.Background(), f.repo.ActiveID(), "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSend_RejectsWhileInFlight(t *testing.T) {
	f := newFixture(t, PolicyLand, llmtest.Text("done")...)
	f.backend.Hold()
	id := f.repo.ActiveID()

	gen, err := f.rec.Send(context.Background(), id, "first", nil)
	require.NoError(t, err)
	waitStarted(t, f.backend)
	assert.True(t, f.rec.Busy())

	_, err = f.rec.Send(context.Background(), id, "second", nil)
	assert.ErrorIs(t, err, ErrBusy)

	history, _ := f.repo.History(id)
	assert.Len(t, history, 3, "rejected send appends nothing")

	f.backend.Release()
	res := gen.Wait()
	require.NoError(t, res.Err)
	assert.Equal(t, "done", res.Message.Text)
	assert.False(t, f.rec.Busy())
}

func TestSend_BlockedBySuggestionFetch(t *testing.T) {
	f := newFixture(t, PolicyLand, llmtest.Text("x")...)
	require.True(t, f.rec.Slot().TryAcquire("suggestions"))

	_, err := f.rec.Send(context.Background(), f.repo.ActiveID(), "hi", nil)
	assert.ErrorIs(t, err, ErrBusy)
	f.rec.Slot().Release("suggestions")
}

func TestSend_FailureReplacesPlaceholder(t *testing.T) {
	f := newFixture(t, PolicyLand,
		llmtest.Step{Chunk: llm.Chunk{Text: "partial"}},
		llmtest.Step{Err: genai.APIError{Code: 429, Message: "quota exceeded", Status: "RESOURCE_EXHAUSTED"}},
	)
	id := f.repo.ActiveID()

	res := f.send(t, id, "hi")
	require.Error(t, res.Err)
	assert.Equal(t, llm.KindQuota, llm.Classify(res.Err))

	history, _ := f.repo.History(id)
	require.Len(t, history, 3)
	last := history[2]
	assert.Equal(t, conversation.SenderSystem, last.Sender)
	assert.False(t, last.IsLoading)
	assert.Equal(t, "The model service quota has been exceeded. Try again later.", last.Text)
	assert.Empty(t, f.speaker.texts)
	assert.False(t, f.rec.Busy())
}

func TestSend_DistinctFailureMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"invalid key", genai.APIError{Code: 400, Message: "API key not valid"}, "The API key was rejected by the model service. Check that it is valid."},
		{"tool config", genai.APIError{Code: 400, Message: "url_context is not supported"}, "The model rejected the URL retrieval tool configuration: url_context is not supported"},
		{"backend", genai.APIError{Code: 500, Message: "internal"}, "The model service returned an error: internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, PolicyLand, llmtest.Step{Err: tt.err})
			res := f.send(t, f.repo.ActiveID(), "hi")
			assert.Equal(t, tt.want, res.Message.Text)
		})
	}
}

func seedExchanges(t *testing.T, f *fixture, id string, n int) []conversation.Message {
	t.Helper()
	for i := 0; i < n; i++ {
		res := f.send(t, id, "question")
		require.NoError(t, res.Err)
	}
	history, err := f.repo.History(id)
	require.NoError(t, err)
	return history
}

func TestEdit_TruncatesAndRegenerates(t *testing.T) {
	for _, exchanges := range []int{1, 3, 5} {
		f := newFixture(t, PolicyLand, llmtest.Text("answer")...)
		id := f.repo.ActiveID()
		history := seedExchanges(t, f, id, exchanges)

		// index 1 is the first user message
		const i = 1
		target := history[i]
		gen, err := f.rec.Edit(context.Background(), id, target.ID, "edited question")
		require.NoError(t, err)
		require.NoError(t, gen.Wait().Err)

		after, _ := f.repo.History(id)
		require.Len(t, after, i+1+1)
		assert.Equal(t, "edited question", after[i].Text)
		assert.Equal(t, conversation.SenderUser, after[i].Sender)
		assert.Equal(t, conversation.SenderModel, after[i+1].Sender)
		assert.Equal(t, "answer", after[i+1].Text)
	}
}

func TestEdit_KeepsAttachments(t *testing.T) {
	f := newFixture(t, PolicyLand, llmtest.Text("ok")...)
	id := f.repo.ActiveID()
	note := attachment.Attachment{
		ID: "n1", Name: "note.txt", MimeType: "text/plain",
		Status: attachment.StatusLoaded, Data: base64.StdEncoding.EncodeToString([]byte("file body")),
	}

	gen, err := f.rec.Send(context.Background(), id, "read this", []attachment.Attachment{note})
	require.NoError(t, err)
	gen.Wait()
	history, _ := f.repo.History(id)

	gen, err = f.rec.Edit(context.Background(), id, history[1].ID, "read it again")
	require.NoError(t, err)
	gen.Wait()

	after, _ := f.repo.History(id)
	require.Len(t, after[1].Attachments, 1)
	assert.Equal(t, "note.txt", after[1].Attachments[0].Name)

	req := f.backend.LastRequest()
	require.Len(t, req.Turns, 1)
	require.Len(t, req.Turns[0].Parts, 2)
	assert.Equal(t, "file body", req.Turns[0].Parts[1].Text)
}

func TestRegenerate_TruncatesFromModelMessage(t *testing.T) {
	f := newFixture(t, PolicyLand, llmtest.Text("answer")...)
	id := f.repo.ActiveID()
	history := seedExchanges(t, f, id, 3)

	// welcome, u, m, u, m, u, m
	const i = 4
	require.Equal(t, conversation.SenderModel, history[i].Sender)
	f.backend.SetSteps(llmtest.Text("fresh")...)

	gen, err := f.rec.Regenerate(context.Background(), id, history[i].ID)
	require.NoError(t, err)
	require.NoError(t, gen.Wait().Err)

	after, _ := f.repo.History(id)
	require.Len(t, after, i+1)
	assert.Equal(t, "fresh", after[i].Text)
	assert.NotEqual(t, history[i].ID, after[i].ID)
}

func TestReplay_PreconditionsLeaveStateUnchanged(t *testing.T) {
	f := newFixture(t, PolicyLand, llmtest.Text("answer")...)
	id := f.repo.ActiveID()
	history := seedExchanges(t, f, id, 1)

	_, err := f.rec.Edit(context.Background(), id, history[2].ID, "x")
	assert.ErrorIs(t, err, ErrReplayTarget, "model messages cannot be edited")

	_, err = f.rec.Regenerate(context.Background(), id, history[1].ID)
	assert.ErrorIs(t, err, ErrReplayTarget, "user messages cannot be regenerated")

	_, err = f.rec.Regenerate(context.Background(), id, history[0].ID)
	assert.ErrorIs(t, err, ErrReplayTarget, "system messages cannot be regenerated")

	_, err = f.rec.Edit(context.Background(), id, "missing", "x")
	assert.ErrorIs(t, err, conversation.ErrUnknownMessage)

	f.backend.Hold()
	gen, err := f.rec.Send(context.Background(), id, "another", nil)
	require.NoError(t, err)
	during, _ := f.repo.History(id)

	_, err = f.rec.Edit(context.Background(), id, history[1].ID, "x")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = f.rec.Regenerate(context.Background(), id, history[2].ID)
	assert.ErrorIs(t, err, ErrBusy)

	still, _ := f.repo.History(id)
	assert.Equal(t, len(during), len(still))

	f.backend.Release()
	gen.Wait()
}

func TestSwitchPolicy_Abort(t *testing.T) {
	f := newFixture(t, PolicyAbort, llmtest.Text("never shown")...)
	f.backend.Hold()
	origin := f.repo.ActiveID()

	gen, err := f.rec.Send(context.Background(), origin, "hi", nil)
	require.NoError(t, err)
	waitStarted(t, f.backend)

	_, err = f.repo.Create("elsewhere")
	require.NoError(t, err)

	res := gen.Wait()
	assert.Equal(t, llm.KindCancelled, llm.Classify(res.Err))
	assert.Equal(t, conversation.SenderSystem, res.Message.Sender)

	history, _ := f.repo.History(origin)
	last := history[len(history)-1]
	assert.Equal(t, "The response was cancelled.", last.Text)
	assert.False(t, last.IsLoading)
	assert.False(t, f.rec.Busy())
}

func TestCancel(t *testing.T) {
	f := newFixture(t, PolicyLand, llmtest.Text("never shown")...)
	assert.False(t, f.rec.Cancel())

	f.backend.Hold()
	gen, err := f.rec.Send(context.Background(), f.repo.ActiveID(), "hi", nil)
	require.NoError(t, err)
	waitStarted(t, f.backend)
	require.Same(t, gen, f.rec.Current())

	assert.True(t, f.rec.Cancel())
	res := gen.Wait()
	assert.Equal(t, llm.KindCancelled, llm.Classify(res.Err))
	assert.Nil(t, f.rec.Current())
	assert.False(t, f.rec.Busy())
}

func TestSwitchPolicy_Land(t *testing.T) {
	f := newFixture(t, PolicyLand, llmtest.Text("landed")...)
	f.backend.Hold()
	origin := f.repo.ActiveID()

	gen, err := f.rec.Send(context.Background(), origin, "hi", nil)
	require.NoError(t, err)
	waitStarted(t, f.backend)

	other, err := f.repo.Create("elsewhere")
	require.NoError(t, err)
	f.backend.Release()

	res := gen.Wait()
	require.NoError(t, res.Err)

	history, _ := f.repo.History(origin)
	assert.Equal(t, "landed", history[len(history)-1].Text)
	otherHistory, _ := f.repo.History(other.ID)
	assert.Len(t, otherHistory, 1)
}

func TestDeletingConversationStopsGeneration(t *testing.T) {
	f := newFixture(t, PolicyLand, llmtest.Text("x")...)
	keep := f.repo.ActiveID()
	doomed, err := f.repo.Create("doomed")
	require.NoError(t, err)

	f.backend.Hold()
	gen, err := f.rec.Send(context.Background(), doomed.ID, "hi", nil)
	require.NoError(t, err)
	waitStarted(t, f.backend)

	require.NoError(t, f.repo.Delete(doomed.ID))
	res := gen.Wait()
	assert.ErrorIs(t, res.Err, conversation.ErrUnknownConversation)
	assert.Equal(t, keep, f.repo.ActiveID())
	assert.False(t, f.rec.Busy())
}

func TestStreamTimeout(t *testing.T) {
	f := newFixture(t, PolicyLand, llmtest.Text("late")...)
	f.rec.SetStreamTimeout(20 * time.Millisecond)
	f.backend.Hold()
	defer f.backend.Release()

	res := f.send(t, f.repo.ActiveID(), "hi")
	assert.Equal(t, llm.KindNetwork, llm.Classify(res.Err))
	assert.Contains(t, res.Message.Text, "Could not reach the model service")
}

func TestBuildRequest(t *testing.T) {
	png := attachment.Attachment{ID: "p", Name: "a.png", MimeType: "image/png", Status: attachment.StatusLoaded, Data: base64.StdEncoding.EncodeToString([]byte{9})}
	doc := attachment.Attachment{ID: "d", Name: "kb.txt", MimeType: "text/plain", Status: attachment.StatusLoaded, Data: base64.StdEncoding.EncodeToString([]byte("kb text"))}
	pending := attachment.Attachment{ID: "x", MimeType: "text/plain", Status: attachment.StatusLoading}
	unsupported := attachment.Attachment{ID: "z", MimeType: "application/zip", Status: attachment.StatusLoaded, Data: "AA=="}

	conv := conversation.Conversation{
		URLs:  []string{"https://a.example", "https://b.example"},
		Files: []attachment.Attachment{doc, pending, unsupported},
	}
	history := []conversation.Message{
		{Sender: conversation.SenderSystem, Text: "welcome"},
		{Sender: conversation.SenderUser, Text: "one"},
		{Sender: conversation.SenderUser, Text: "two", Attachments: []attachment.Attachment{png}},
		{Sender: conversation.SenderModel, Text: "reply"},
		{Sender: conversation.SenderSystem, Text: "an error"},
		{Sender: conversation.SenderUser, Text: "three"},
		{Sender: conversation.SenderModel, IsLoading: true},
	}

	req := BuildRequest(conv, history, textParts{}, "sys")
	assert.Equal(t, "sys", req.SystemInstruction)
	assert.Equal(t, conv.URLs, req.URLs)
	require.Len(t, req.Turns, 3)

	assert.Equal(t, llm.RoleUser, req.Turns[0].Role)
	require.Len(t, req.Turns[0].Parts, 3, "adjacent user turns merge")
	assert.True(t, req.Turns[0].Parts[2].IsInline())

	assert.Equal(t, llm.RoleModel, req.Turns[1].Role)

	last := req.Turns[2]
	assert.Equal(t, llm.RoleUser, last.Role)
	require.Len(t, last.Parts, 3)
	assert.Equal(t, "three", last.Parts[0].Text)
	assert.Equal(t, "kb text", last.Parts[1].Text)
	assert.Equal(t, "Context URLs:\n- https://a.example\n- https://b.example", last.Parts[2].Text)
}
