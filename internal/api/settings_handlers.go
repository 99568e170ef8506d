package api

import (
	"net/http"

	"github.com/entrepeneur4lyf/kbchat/internal/chat"
	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/events"
	"github.com/entrepeneur4lyf/kbchat/internal/i18n"
)

// Settings are the runtime-adjustable options.
type Settings struct {
	MaxContextItems  int      `json:"maxContextItems"`
	Locale           string   `json:"locale"`
	SupportedLocales []string `json:"supportedLocales"`
	ReadAloud        bool     `json:"readAloud"`
	SwitchPolicy     string   `json:"switchPolicy"`
}

// SettingsUpdate changes only the fields that are set.
type SettingsUpdate struct {
	MaxContextItems *int    `json:"maxContextItems,omitempty"`
	Locale          *string `json:"locale,omitempty"`
	ReadAloud       *bool   `json:"readAloud,omitempty"`
	SwitchPolicy    *string `json:"switchPolicy,omitempty"`
}

func (s *Server) settings() Settings {
	out := Settings{
		MaxContextItems:  s.deps.Repository.MaxContextItems(),
		Locale:           s.deps.I18n.Locale().String(),
		SupportedLocales: s.deps.I18n.Supported(),
		ReadAloud:        s.deps.Speaker != nil && s.deps.Speaker.Enabled(),
		SwitchPolicy:     chat.PolicyLand,
	}
	if s.deps.Reconciler != nil {
		out.SwitchPolicy = s.deps.Reconciler.SwitchPolicy()
	}
	return out
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.settings())
}

// handleUpdateSettings applies the context item limit first so a rejected
// limit leaves every other setting untouched.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsUpdate
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "", err.Error())
		return
	}
	if req.SwitchPolicy != nil && *req.SwitchPolicy != chat.PolicyLand && *req.SwitchPolicy != chat.PolicyAbort {
		s.writeError(w, http.StatusBadRequest, "", "switchPolicy must be land or abort")
		return
	}
	if req.ReadAloud != nil && s.deps.Speaker == nil {
		s.writeError(w, http.StatusBadRequest, "", "read-aloud is not available")
		return
	}

	if req.MaxContextItems != nil {
		if err := s.deps.Repository.SetMaxContextItems(*req.MaxContextItems); err != nil {
			s.writeFailure(w, err)
			return
		}
	}

	changed := false
	if req.Locale != nil {
		s.deps.I18n.SetLocale(*req.Locale)
		changed = true
	}
	if req.ReadAloud != nil {
		s.deps.Speaker.SetEnabled(*req.ReadAloud)
		changed = true
	}
	if req.SwitchPolicy != nil && s.deps.Reconciler != nil {
		s.deps.Reconciler.SetSwitchPolicy(*req.SwitchPolicy)
		changed = true
	}
	if changed && s.deps.Broker != nil {
		s.deps.Broker.Publish(events.SettingsUpdated, conversation.Change{Kind: events.SettingsUpdated})
	}

	s.writeJSON(w, http.StatusOK, s.settings())
}

// handleStrings returns the UI catalog for the active locale, or for the
// locale named by ?locale=.
func (s *Server) handleStrings(w http.ResponseWriter, r *http.Request) {
	tr := s.deps.I18n
	if loc := r.URL.Query().Get("locale"); loc != "" {
		tr = i18n.New(loc)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"locale":  tr.Locale().String(),
		"strings": tr.Strings(),
	})
}
