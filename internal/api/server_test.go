package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrepeneur4lyf/kbchat/internal/attachment"
	"github.com/entrepeneur4lyf/kbchat/internal/chat"
	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/events"
	"github.com/entrepeneur4lyf/kbchat/internal/extract"
	"github.com/entrepeneur4lyf/kbchat/internal/i18n"
	"github.com/entrepeneur4lyf/kbchat/internal/llm/llmtest"
	"github.com/entrepeneur4lyf/kbchat/internal/suggest"
	"github.com/entrepeneur4lyf/kbchat/internal/summary"
)

type fixture struct {
	server  *Server
	handler http.Handler
	repo    *conversation.Repository
	backend *llmtest.Backend
	rec     *chat.Reconciler
	broker  *events.Broker[conversation.Change]
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	tr := i18n.New("en")
	broker := events.NewBroker[conversation.Change]()
	t.Cleanup(broker.Shutdown)

	reg := extract.NewRegistry(nil)
	repo := conversation.New(
		conversation.WithTranslator(tr),
		conversation.WithBroker(broker),
		conversation.WithFileFilter(reg.Supports),
	)
	backend := llmtest.New(llmtest.Text("Hel", "lo")...)
	slot := &chat.Slot{}
	fetcher := suggest.New(suggest.Options{Backend: backend, Repository: repo, Slot: slot, Translator: tr, Broker: broker})
	rec := chat.New(chat.Options{
		Backend:     backend,
		Repository:  repo,
		Slot:        slot,
		Translator:  tr,
		Parts:       reg,
		Suggestions: fetcher,
	})
	repo.OnChange(rec.HandleChange)

	s := NewServer(Deps{
		Repository:  repo,
		Reconciler:  rec,
		Suggestions: fetcher,
		Attachments: attachment.NewStore(nil),
		Summarizer:  summary.New(backend, tr, ""),
		Broker:      broker,
		I18n:        tr,
	}, opts)
	return &fixture{server: s, handler: s.Router(), repo: repo, backend: backend, rec: rec, broker: broker}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func waitStarted(t *testing.T, b *llmtest.Backend) {
	t.Helper()
	select {
	case <-b.Started:
	case <-time.After(2 * time.Second):
		t.Fatal("backend was never called")
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["configured"])
	assert.Equal(t, false, body["busy"])
}

func TestConversationLifecycle(t *testing.T) {
	f := newFixture(t, Options{})
	first := f.repo.ActiveID()

	rr := f.do(t, http.MethodPost, "/api/v1/conversations", map[string]string{"name": "Research"})
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decode[conversation.Conversation](t, rr)
	assert.Equal(t, "Research", created.Name)

	rr = f.do(t, http.MethodGet, "/api/v1/conversations", nil)
	list := decode[ConversationList](t, rr)
	require.Len(t, list.Conversations, 2)
	assert.Equal(t, created.ID, list.ActiveID)
	assert.Equal(t, conversation.DefaultMaxContextItems, list.MaxContextItems)

	rr = f.do(t, http.MethodPatch, "/api/v1/conversations/"+created.ID, map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, i18n.KeyEmptyName, decode[ErrorResponse](t, rr).Code)

	rr = f.do(t, http.MethodPut, "/api/v1/active", map[string]string{"conversationId": first})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, first, f.repo.ActiveID())

	rr = f.do(t, http.MethodDelete, "/api/v1/conversations/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(t, http.MethodDelete, "/api/v1/conversations/"+first, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, i18n.KeyLastConversation, decode[ErrorResponse](t, rr).Code)

	rr = f.do(t, http.MethodGet, "/api/v1/conversations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateConversation_DefaultName(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.do(t, http.MethodPost, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, f.repo.DefaultName(), decode[conversation.Conversation](t, rr).Name)
}

func TestURLs(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.repo.ActiveID()
	path := "/api/v1/conversations/" + id + "/urls"

	rr := f.do(t, http.MethodPost, path, map[string]string{"url": "notaurl"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, i18n.KeyInvalidURL, decode[ErrorResponse](t, rr).Code)

	rr = f.do(t, http.MethodPost, path, map[string]string{"url": "https://example.com"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"https://example.com"}, decode[conversation.Conversation](t, rr).URLs)

	rr = f.do(t, http.MethodPost, path, map[string]string{"url": "https://example.com"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, http.MethodDelete, path+"?url=https://example.com", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[conversation.Conversation](t, rr).URLs)
}

func TestSendMessage_Wait(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.repo.ActiveID()

	rr := f.do(t, http.MethodPost, "/api/v1/conversations/"+id+"/messages?wait=true", map[string]string{"text": "hi"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[GenerationResponse](t, rr)
	assert.True(t, resp.Done)
	require.NotNil(t, resp.Message)
	assert.Equal(t, "Hello", resp.Message.Text)
	assert.Equal(t, conversation.SenderModel, resp.Message.Sender)

	msgs, err := f.repo.History(id)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hi", msgs[1].Text)
}

func TestSendMessage_Errors(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.repo.ActiveID()
	path := "/api/v1/conversations/" + id + "/messages"

	rr := f.do(t, http.MethodPost, path, map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, i18n.KeyEmptyMessage, decode[ErrorResponse](t, rr).Code)

	f.backend.SetConfigured(false)
	rr = f.do(t, http.MethodPost, path, map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, i18n.KeyNotConfigured, decode[ErrorResponse](t, rr).Code)
}

func TestSendMessage_Busy(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.repo.ActiveID()
	path := "/api/v1/conversations/" + id + "/messages"

	f.backend.Hold()
	rr := f.do(t, http.MethodPost, path, map[string]string{"text": "one"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	waitStarted(t, f.backend)
	gen := f.rec.Current()
	require.NotNil(t, gen)

	rr = f.do(t, http.MethodPost, path, map[string]string{"text": "two"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, i18n.KeyBusy, decode[ErrorResponse](t, rr).Code)

	rr = f.do(t, http.MethodGet, "/api/v1/generation", nil)
	assert.Equal(t, gen.MessageID, decode[map[string]any](t, rr)["messageId"])

	f.backend.Release()
	res := gen.Wait()
	require.NoError(t, res.Err)
}

func TestCancelGeneration(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.repo.ActiveID()

	rr := f.do(t, http.MethodDelete, "/api/v1/generation", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	f.backend.Hold()
	defer f.backend.Release()
	rr = f.do(t, http.MethodPost, "/api/v1/conversations/"+id+"/messages", map[string]string{"text": "one"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	waitStarted(t, f.backend)
	gen := f.rec.Current()
	require.NotNil(t, gen)

	rr = f.do(t, http.MethodDelete, "/api/v1/generation", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	res := gen.Wait()
	require.Error(t, res.Err)
	assert.Equal(t, conversation.SenderSystem, res.Message.Sender)
	assert.False(t, f.rec.Busy())
}

func TestRegenerate(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.repo.ActiveID()
	rr := f.do(t, http.MethodPost, "/api/v1/conversations/"+id+"/messages?wait=true", map[string]string{"text": "hi"})
	require.Equal(t, http.StatusOK, rr.Code)
	model := decode[GenerationResponse](t, rr).Message

	f.backend.SetSteps(llmtest.Text("Again")...)
	rr = f.do(t, http.MethodPost, "/api/v1/conversations/"+id+"/messages/"+model.ID+"/regenerate?wait=true", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Again", decode[GenerationResponse](t, rr).Message.Text)

	msgs, err := f.repo.History(id)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	rr = f.do(t, http.MethodPut, "/api/v1/conversations/"+id+"/messages/"+msgs[0].ID, map[string]string{"text": "edit"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, i18n.KeyReplayTarget, decode[ErrorResponse](t, rr).Code)
}

func multipartBody(t *testing.T, files map[string]string, contentType string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadFiles(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.repo.ActiveID()

	body, ct := multipartBody(t, map[string]string{"notes.txt": "some notes"}, "text/plain", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+id+"/files", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	require.Len(t, decode[conversation.Conversation](t, rr).Files, 1)

	require.Eventually(t, func() bool {
		conv, err := f.repo.Get(id)
		return err == nil && len(conv.Files) == 1 && conv.Files[0].Status == attachment.StatusLoaded
	}, 2*time.Second, 10*time.Millisecond)

	conv, _ := f.repo.Get(id)
	rr = f.do(t, http.MethodDelete, "/api/v1/conversations/"+id+"/files/"+conv.Files[0].ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[conversation.Conversation](t, rr).Files)
}

func TestUploadFiles_SpreadsheetByExtension(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.repo.ActiveID()

	body, ct := multipartBody(t, map[string]string{"stock.xlsx": "PK"}, "application/octet-stream", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+id+"/files", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	files := decode[conversation.Conversation](t, rr).Files
	require.Len(t, files, 1)
	assert.Equal(t, extract.XlsxMimeType, files[0].MimeType)
}

func TestUploadFiles_Unsupported(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.repo.ActiveID()

	body, ct := multipartBody(t, map[string]string{"a.zip": "PK"}, "application/zip", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+id+"/files", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)

	conv, _ := f.repo.Get(id)
	assert.Empty(t, conv.Files)
}

func TestSendMessage_MultipartAttachments(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.repo.ActiveID()

	body, ct := multipartBody(t, map[string]string{"doc.md": "# Title"}, "text/markdown", map[string]string{"text": "read this"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+id+"/messages?wait=true", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	msgs, err := f.repo.History(id)
	require.NoError(t, err)
	require.Len(t, msgs[1].Attachments, 1)
	assert.Equal(t, "doc.md", msgs[1].Attachments[0].Name)
	assert.True(t, msgs[1].Attachments[0].Loaded())
}

func TestExport(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.repo.ActiveID()
	_, err := f.repo.Rename(id, "Field Notes")
	require.NoError(t, err)
	f.do(t, http.MethodPost, "/api/v1/conversations/"+id+"/messages?wait=true", map[string]string{"text": "hi"})

	rr := f.do(t, http.MethodGet, "/api/v1/conversations/"+id+"/export?format=markdown", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "field-notes.md")
	assert.Contains(t, rr.Body.String(), "# Field Notes")
	assert.Contains(t, rr.Body.String(), "Hello")

	rr = f.do(t, http.MethodGet, "/api/v1/conversations/"+id+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSummary(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.repo.ActiveID()

	rr := f.do(t, http.MethodPost, "/api/v1/conversations/"+id+"/summary", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, i18n.KeyNothingToSummarize, decode[ErrorResponse](t, rr).Code)

	f.do(t, http.MethodPost, "/api/v1/conversations/"+id+"/messages?wait=true", map[string]string{"text": "hi"})
	f.backend.SetReply("They said hi.", nil)
	rr = f.do(t, http.MethodPost, "/api/v1/conversations/"+id+"/summary", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, decode[conversation.Message](t, rr).Text, "They said hi.")
}

func TestSuggestions(t *testing.T) {
	f := newFixture(t, Options{})
	id := f.repo.ActiveID()

	rr := f.do(t, http.MethodGet, "/api/v1/conversations/"+id+"/suggestions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[map[string]any](t, rr)["suggestions"])

	_, err := f.repo.AddURL(id, "https://example.com")
	require.NoError(t, err)
	f.backend.SetReply(`{"suggestions": ["What is it?"]}`, nil)
	rr = f.do(t, http.MethodPost, "/api/v1/conversations/"+id+"/suggestions", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.Eventually(t, func() bool {
		rr := f.do(t, http.MethodGet, "/api/v1/conversations/"+id+"/suggestions", nil)
		list, _ := decode[map[string]any](t, rr)["suggestions"].([]any)
		return len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSettings(t *testing.T) {
	f := newFixture(t, Options{})

	rr := f.do(t, http.MethodGet, "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	settings := decode[Settings](t, rr)
	assert.Equal(t, "en", settings.Locale)
	assert.Equal(t, chat.PolicyLand, settings.SwitchPolicy)

	rr = f.do(t, http.MethodPut, "/api/v1/settings", map[string]any{"locale": "es-MX", "switchPolicy": "abort", "maxContextItems": 5})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	settings = decode[Settings](t, rr)
	assert.Equal(t, "es", settings.Locale)
	assert.Equal(t, chat.PolicyAbort, settings.SwitchPolicy)
	assert.Equal(t, 5, settings.MaxContextItems)

	rr = f.do(t, http.MethodPut, "/api/v1/settings", map[string]any{"maxContextItems": 0, "locale": "en"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "es", f.server.deps.I18n.Locale().String())

	rr = f.do(t, http.MethodPut, "/api/v1/settings", map[string]any{"readAloud": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStrings(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.do(t, http.MethodGet, "/api/v1/i18n?locale=ar", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "ar", body["locale"])
	assert.NotEmpty(t, body["strings"])
}

func TestLocalhostOnly(t *testing.T) {
	f := newFixture(t, Options{LocalOnly: true})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, Options{AllowedOrigins: []string{"https://app.example"}})
	cases := map[string]bool{
		"https://app.example":   true,
		"http://localhost:5173": true,
		"https://evil.example":  false,
	}
	for origin, allowed := range cases {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/conversations", nil)
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		f.handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		if allowed {
			assert.Equal(t, origin, rr.Header().Get("Access-Control-Allow-Origin"), origin)
		} else {
			assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"), origin)
		}
	}
}

func TestEventsSSE(t *testing.T) {
	f := newFixture(t, Options{})
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?types=conversation.created", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	next := func() string {
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
				return strings.TrimPrefix(line, "event: ")
			}
		}
		return ""
	}
	require.Equal(t, "connected", next())

	_, err = f.repo.Create("From feed")
	require.NoError(t, err)
	assert.Equal(t, string(events.ConversationCreated), next())
}

func TestWebSocket(t *testing.T) {
	f := newFixture(t, Options{})
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.server.Connections().Pump(ctx, f.broker)
	require.Eventually(t, func() bool {
		return f.broker.GetStats().SubscriberCount > 0
	}, 2*time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.Type)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "ping", EventID: "p1"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Type)
	assert.Equal(t, "p1", msg.EventID)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "set_active", Data: json.RawMessage(`{"conversationId":"nope"}`)}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, i18n.KeyUnknownConversation, msg.Code)

	_, err = f.repo.Create("Over the wire")
	require.NoError(t, err)
	for {
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == string(events.ConversationCreated) {
			break
		}
	}
	var ev events.Event[conversation.Change]
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	require.NotNil(t, ev.Payload.Conversation)
	assert.Equal(t, "Over the wire", ev.Payload.Conversation.Name)
	assert.Equal(t, 1, f.server.Connections().Stats().Connections)
}
