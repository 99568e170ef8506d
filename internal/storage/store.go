// Package storage persists the conversation state under a key scope.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
)

// ErrNotFound is returned by KV.Get for missing keys.
var ErrNotFound = errors.New("key not found")

// Key names under a scope.
const (
	KeyConversations   = "conversations"
	KeyActive          = "activeConversationId"
	KeyMaxContextItems = "maxContextItems"
)

// KV is a flat durable key-value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// PutAll writes every entry atomically.
	PutAll(ctx context.Context, entries map[string][]byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// State reads and writes repository snapshots as three JSON values under
// "<scope>/".
type State struct {
	kv    KV
	scope string
}

// NewState binds kv to scope.
func NewState(kv KV, scope string) *State {
	scope = strings.Trim(scope, "/")
	if scope == "" {
		scope = "kbchat"
	}
	return &State{kv: kv, scope: scope}
}

func (s *State) key(name string) string {
	return s.scope + "/" + name
}

// Scope returns the key prefix.
func (s *State) Scope() string {
	return s.scope
}

// Save writes the snapshot.
func (s *State) Save(ctx context.Context, snap conversation.Snapshot) error {
	convs, err := json.Marshal(snap.Conversations)
	if err != nil {
		return fmt.Errorf("failed to encode conversations: %w", err)
	}
	active, err := json.Marshal(snap.ActiveID)
	if err != nil {
		return fmt.Errorf("failed to encode active id: %w", err)
	}
	limit, err := json.Marshal(snap.MaxContextItems)
	if err != nil {
		return fmt.Errorf("failed to encode context limit: %w", err)
	}
	return s.kv.PutAll(ctx, map[string][]byte{
		s.key(KeyConversations):   convs,
		s.key(KeyActive):          active,
		s.key(KeyMaxContextItems): limit,
	})
}

// Load reads the snapshot. It reports false when nothing was saved yet.
// Missing active id or limit values are left zero for the repository to
// default.
func (s *State) Load(ctx context.Context) (conversation.Snapshot, bool, error) {
	var snap conversation.Snapshot

	raw, err := s.kv.Get(ctx, s.key(KeyConversations))
	if errors.Is(err, ErrNotFound) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, err
	}
	if err := json.Unmarshal(raw, &snap.Conversations); err != nil {
		return snap, false, fmt.Errorf("failed to decode conversations: %w", err)
	}

	if raw, err := s.kv.Get(ctx, s.key(KeyActive)); err == nil {
		_ = json.Unmarshal(raw, &snap.ActiveID)
	} else if !errors.Is(err, ErrNotFound) {
		return snap, false, err
	}
	if raw, err := s.kv.Get(ctx, s.key(KeyMaxContextItems)); err == nil {
		_ = json.Unmarshal(raw, &snap.MaxContextItems)
	} else if !errors.Is(err, ErrNotFound) {
		return snap, false, err
	}
	return snap, true, nil
}

// Clear removes every key of the scope.
func (s *State) Clear(ctx context.Context) error {
	keys, err := s.kv.Keys(ctx, s.scope+"/")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.kv.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying store.
func (s *State) Close() error {
	return s.kv.Close()
}
