package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/events"
)

const sseKeepAlive = 15 * time.Second

// SSEEvent represents a Server-Sent Event
type SSEEvent struct {
	ID    string `json:"id,omitempty"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data"`
}

// handleEventsSSE streams repository changes. ?conversation= limits the feed
// to one conversation and ?types= to a comma separated list of event types.
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	if s.deps.Broker == nil {
		http.Error(w, "Event feed unavailable", http.StatusServiceUnavailable)
		return
	}

	var filters []events.EventFilter
	if id := r.URL.Query().Get("conversation"); id != "" {
		filters = append(filters, events.FilterByConversation(id))
	}
	if raw := r.URL.Query().Get("types"); raw != "" {
		var types []events.EventType
		for t := range strings.SplitSeq(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, events.EventType(t))
			}
		}
		filters = append(filters, events.FilterByType(types...))
	}

	ctx := r.Context()
	feed := s.deps.Broker.Subscribe(ctx, filters...)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSEEvent(w, SSEEvent{Event: "connected", Data: map[string]any{
		"timestamp":            time.Now().Unix(),
		"activeConversationId": s.deps.Repository.ActiveID(),
	}}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-feed:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, changeEvent(ev)); err != nil {
				s.logger.Debug("Failed to write SSE event", "err", err)
				return
			}
			flusher.Flush()
		}
	}
}

func changeEvent(ev events.Event[conversation.Change]) SSEEvent {
	return SSEEvent{ID: ev.ID, Event: string(ev.Type), Data: ev}
}

// writeSSEEvent writes an SSE event to the response writer
func writeSSEEvent(w http.ResponseWriter, event SSEEvent) error {
	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return err
		}
	}
	if event.Event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Event); err != nil {
			return err
		}
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		if _, writeErr := fmt.Fprint(w, "data: {\"error\": \"Failed to serialize data\"}\n\n"); writeErr != nil {
			return writeErr
		}
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
