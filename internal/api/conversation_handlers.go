package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/entrepeneur4lyf/kbchat/internal/attachment"
	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/extract"
)

// ConversationList is the body of GET /conversations.
type ConversationList struct {
	Conversations   []conversation.Conversation `json:"conversations"`
	ActiveID        string                      `json:"activeConversationId"`
	MaxContextItems int                         `json:"maxContextItems"`
}

type createRequest struct {
	Name *string `json:"name"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type activeRequest struct {
	ConversationID string `json:"conversationId"`
}

type urlRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	repo := s.deps.Repository
	s.writeJSON(w, http.StatusOK, ConversationList{
		Conversations:   repo.List(),
		ActiveID:        repo.ActiveID(),
		MaxContextItems: repo.MaxContextItems(),
	})
}

// handleCreateConversation creates a conversation. An empty body or a
// missing name uses the default name.
func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "", err.Error())
			return
		}
	}
	name := s.deps.Repository.DefaultName()
	if req.Name != nil {
		name = *req.Name
	}
	conv, err := s.deps.Repository.Create(name)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.deps.Repository.Get(pathVar(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	conv, err := s.deps.Repository.Rename(pathVar(r, "id"), req.Name)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	if err := s.deps.Repository.Delete(id); err != nil {
		s.writeFailure(w, err)
		return
	}
	if s.deps.Suggestions != nil {
		s.deps.Suggestions.Clear(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	conv, err := s.deps.Repository.ClearMessages(id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if s.deps.Suggestions != nil {
		s.deps.Suggestions.Clear(id)
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleGetActive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Repository.Active())
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	conv, err := s.deps.Repository.SetActive(req.ConversationID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleAddURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	conv, err := s.deps.Repository.AddURL(pathVar(r, "id"), req.URL)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

// handleRemoveURL takes the URL from ?url= so DELETE needs no body.
func (s *Server) handleRemoveURL(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "", "url query parameter is required")
		return
	}
	conv, err := s.deps.Repository.RemoveURL(pathVar(r, "id"), raw)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

// handleUploadFiles adds knowledge-base files from a multipart form. The
// placeholders are returned at once with 202; each file settles through the
// change feed.
func (s *Server) handleUploadFiles(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	if _, err := s.deps.Repository.Get(id); err != nil {
		s.writeFailure(w, err)
		return
	}

	sources, err := s.readUploads(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	if len(sources) == 0 {
		s.writeError(w, http.StatusBadRequest, "", "no files in request")
		return
	}

	batch := s.deps.Attachments.Stage(sources)
	conv, err := s.deps.Repository.AddFiles(id, batch.Placeholders)
	if err != nil {
		batch.Abandon()
		s.writeFailure(w, err)
		return
	}

	store := s.deps.Attachments
	batch.Start(context.WithoutCancel(r.Context()), func(a attachment.Attachment) {
		s.deps.Repository.ResolveFile(id, a)
		store.Forget(a.ID)
	})
	s.writeJSON(w, http.StatusAccepted, conv)
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	conv, err := s.deps.Repository.RemoveFile(pathVar(r, "id"), pathVar(r, "fileId"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

// readUploads buffers the "files" parts of a multipart request. The form's
// temporary files are gone once the handler returns, so reads that settle
// later work from memory.
func (s *Server) readUploads(w http.ResponseWriter, r *http.Request) ([]attachment.Source, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)
	if err := r.ParseMultipartForm(s.opts.MaxUploadSize); err != nil {
		return nil, fmt.Errorf("invalid upload: %w", err)
	}
	if r.MultipartForm == nil {
		return nil, nil
	}

	headers := r.MultipartForm.File["files"]
	sources := make([]attachment.Source, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		sources = append(sources, attachment.Source{
			Name:     fh.Filename,
			MimeType: detectMimeType(fh, data),
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			},
		})
	}
	return sources, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// detectMimeType prefers the part's declared type, then the file extension,
// then content sniffing.
func detectMimeType(fh *multipart.FileHeader, data []byte) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if byExt := extract.TypeByExtension(fh.Filename); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}
