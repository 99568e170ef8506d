package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/entrepeneur4lyf/kbchat/internal/attachment"
	"github.com/entrepeneur4lyf/kbchat/internal/chat"
	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/export"
	"github.com/entrepeneur4lyf/kbchat/internal/llm"
	"github.com/entrepeneur4lyf/kbchat/internal/voice"
)

type sendRequest struct {
	Text string `json:"text"`
	// Attachments must already be loaded; others are dropped.
	Attachments []attachment.Attachment `json:"attachments,omitempty"`
	Transcript  bool                    `json:"transcript,omitempty"`
}

type editRequest struct {
	Text string `json:"text"`
}

// GenerationResponse describes a started or finished generation.
type GenerationResponse struct {
	ConversationID string                `json:"conversationId"`
	MessageID      string                `json:"messageId"`
	Done           bool                  `json:"done"`
	Message        *conversation.Message `json:"message,omitempty"`
	Error          string                `json:"error,omitempty"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.deps.Repository.History(pathVar(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

// handleSendMessage accepts JSON or a multipart form with a "text" field and
// "files" parts. Multipart attachments are read before the send.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	var req sendRequest

	if isMultipart(r) {
		sources, err := s.readUploads(w, r)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "", err.Error())
			return
		}
		req.Text = r.FormValue("text")
		req.Transcript, _ = strconv.ParseBool(r.FormValue("transcript"))
		atts, err := s.loadAttachments(r.Context(), sources)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		req.Attachments = atts
	} else if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	text := req.Text
	if req.Transcript {
		text = voice.CleanTranscript(text)
	}
	gen, err := s.deps.Reconciler.Send(context.WithoutCancel(r.Context()), id, text, req.Attachments)
	s.respondGeneration(w, r, gen, err)
}

func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	gen, err := s.deps.Reconciler.Edit(context.WithoutCancel(r.Context()), pathVar(r, "id"), pathVar(r, "msgId"), req.Text)
	s.respondGeneration(w, r, gen, err)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	gen, err := s.deps.Reconciler.Regenerate(context.WithoutCancel(r.Context()), pathVar(r, "id"), pathVar(r, "msgId"))
	s.respondGeneration(w, r, gen, err)
}

// respondGeneration answers 202 at once, or with the finished result when
// ?wait=true. A client that goes away while waiting does not stop the
// generation.
func (s *Server) respondGeneration(w http.ResponseWriter, r *http.Request, gen *chat.Generation, err error) {
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	resp := GenerationResponse{ConversationID: gen.ConversationID, MessageID: gen.MessageID}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		s.writeJSON(w, http.StatusAccepted, resp)
		return
	}

	select {
	case <-gen.Done():
	case <-r.Context().Done():
		return
	}
	res := gen.Wait()
	resp.Done = true
	if res.Message.ID != "" {
		resp.Message = &res.Message
	}
	if res.Err != nil {
		resp.Error = llm.Describe(res.Err, s.deps.I18n)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGenerationStatus(w http.ResponseWriter, r *http.Request) {
	gen := s.deps.Reconciler.Current()
	if gen == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"busy": s.deps.Reconciler.Busy()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"busy":           true,
		"conversationId": gen.ConversationID,
		"messageId":      gen.MessageID,
	})
}

func (s *Server) handleCancelGeneration(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Reconciler.Cancel() {
		s.writeError(w, http.StatusNotFound, "", "no generation in progress")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSuggestions(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	if _, err := s.deps.Repository.Get(id); err != nil {
		s.writeFailure(w, err)
		return
	}
	list := []string{}
	if s.deps.Suggestions != nil {
		list = append(list, s.deps.Suggestions.Suggestions(id)...)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversationId": id, "suggestions": list})
}

// handleRefreshSuggestions refetches suggestions for the conversation's
// URLs. The result arrives through the change feed.
func (s *Server) handleRefreshSuggestions(w http.ResponseWriter, r *http.Request) {
	conv, err := s.deps.Repository.Get(pathVar(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if s.deps.Suggestions == nil {
		s.writeFailure(w, llm.ErrNotConfigured)
		return
	}
	s.deps.Suggestions.Trigger(conv.ID, conv.URLs)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	conv, err := s.deps.Repository.Get(pathVar(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}

	body := export.Render(conv, format, export.Options{Translator: s.deps.I18n, Numbering: s.deps.Numbering})
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(conv, format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.Summarizer == nil {
		s.writeFailure(w, llm.ErrNotConfigured)
		return
	}
	msg, err := s.deps.Summarizer.Append(r.Context(), s.deps.Repository, pathVar(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, msg)
}

// loadAttachments reads message attachments and returns them in upload
// order once all have settled.
func (s *Server) loadAttachments(ctx context.Context, sources []attachment.Source) ([]attachment.Attachment, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	var (
		mu      sync.Mutex
		settled = make(map[string]attachment.Attachment, len(sources))
	)
	store := s.deps.Attachments
	batch := store.Load(ctx, sources, func(a attachment.Attachment) {
		mu.Lock()
		settled[a.ID] = a
		mu.Unlock()
	})
	waitErr := batch.Wait()

	out := make([]attachment.Attachment, 0, len(sources))
	for _, p := range batch.Placeholders {
		store.Forget(p.ID)
		if a, ok := settled[p.ID]; ok {
			out = append(out, a)
		}
	}
	if waitErr != nil {
		return nil, waitErr
	}
	return out, nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/")
}
