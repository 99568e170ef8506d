package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	defaultBufferSize = 64
	defaultMaxEvents  = 256
)

// Broker implements a generic publish-subscribe broker with type safety
type Broker[T any] struct {
	subs         map[chan Event[T]]SubscriberInfo
	mu           sync.RWMutex
	done         chan struct{}
	maxEvents    int
	bufferSize   int
	eventHistory []Event[T]
	historyMu    sync.RWMutex
	dropped      uint64
	logger       *log.Logger
}

// SubscriberInfo contains metadata about a subscriber
type SubscriberInfo struct {
	ID      string
	Filters []EventFilter
	Created time.Time
}

// NewBroker creates a new broker with default settings
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithOptions[T](defaultBufferSize, defaultMaxEvents)
}

// NewBrokerWithOptions creates a new broker with custom settings
func NewBrokerWithOptions[T any](channelBufferSize, maxEvents int) *Broker[T] {
	return &Broker[T]{
		subs:         make(map[chan Event[T]]SubscriberInfo),
		done:         make(chan struct{}),
		maxEvents:    maxEvents,
		bufferSize:   channelBufferSize,
		eventHistory: make([]Event[T], 0, maxEvents),
		logger:       log.Default().With("component", "events"),
	}
}

// Publish publishes an event to all subscribers. Slow subscribers lose
// events rather than block the publisher.
func (b *Broker[T]) Publish(eventType EventType, payload T, opts ...PublishOption) {
	if b.isShutdown() {
		return
	}

	options := &PublishOptions{}
	for _, opt := range opts {
		opt(options)
	}

	event := Event[T]{
		ID:             uuid.NewString(),
		Type:           eventType,
		Payload:        payload,
		Timestamp:      time.Now(),
		ConversationID: options.ConversationID,
		Metadata:       options.Metadata,
	}

	b.addToHistory(event)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, info := range b.subs {
		if !matches(event, info.Filters) {
			continue
		}
		select {
		case ch <- event:
		default:
			b.historyMu.Lock()
			b.dropped++
			b.historyMu.Unlock()
			b.logger.Warn("Event channel full, dropping event", "subscriber", info.ID, "type", event.Type)
		}
	}
}

// Subscribe creates a new subscription with optional filters. The channel
// is closed when ctx is done or the broker shuts down.
func (b *Broker[T]) Subscribe(ctx context.Context, filters ...EventFilter) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event[T], b.bufferSize)
	if b.isShutdown() {
		close(ch)
		return ch
	}
	b.subs[ch] = SubscriberInfo{
		ID:      uuid.NewString(),
		Filters: filters,
		Created: time.Now(),
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.unsubscribe(ch)
	}()

	return ch
}

func (b *Broker[T]) unsubscribe(ch chan Event[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[ch]; exists {
		delete(b.subs, ch)
		close(ch)
	}
}

func matches[T any](event Event[T], filters []EventFilter) bool {
	if len(filters) == 0 {
		return true
	}
	env := envelopeOf(event)
	for _, filter := range filters {
		if !filter(env) {
			return false
		}
	}
	return true
}

func (b *Broker[T]) addToHistory(event Event[T]) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	b.eventHistory = append(b.eventHistory, event)
	if len(b.eventHistory) > b.maxEvents {
		copy(b.eventHistory, b.eventHistory[len(b.eventHistory)-b.maxEvents:])
		b.eventHistory = b.eventHistory[:b.maxEvents]
	}
}

// GetHistory returns recent events matching the given filters
func (b *Broker[T]) GetHistory(filters ...EventFilter) []Event[T] {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	var result []Event[T]
	for _, event := range b.eventHistory {
		if matches(event, filters) {
			result = append(result, event)
		}
	}
	return result
}

// BrokerStats contains broker statistics
type BrokerStats struct {
	SubscriberCount int    `json:"subscriberCount"`
	EventHistory    int    `json:"eventHistory"`
	Dropped         uint64 `json:"dropped"`
	MaxEvents       int    `json:"maxEvents"`
	BufferSize      int    `json:"bufferSize"`
	IsShutdown      bool   `json:"isShutdown"`
}

// GetStats returns broker statistics
func (b *Broker[T]) GetStats() BrokerStats {
	b.mu.RLock()
	subs := len(b.subs)
	b.mu.RUnlock()

	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	return BrokerStats{
		SubscriberCount: subs,
		EventHistory:    len(b.eventHistory),
		Dropped:         b.dropped,
		MaxEvents:       b.maxEvents,
		BufferSize:      b.bufferSize,
		IsShutdown:      b.isShutdown(),
	}
}

func (b *Broker[T]) isShutdown() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Shutdown closes every subscriber channel. Later publishes are ignored.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isShutdown() {
		return
	}
	close(b.done)

	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	b.logger.Debug("Event broker shut down")
}

// String returns a string representation of the broker
func (b *Broker[T]) String() string {
	stats := b.GetStats()
	return fmt.Sprintf("Broker[subscribers=%d, history=%d, shutdown=%v]",
		stats.SubscriberCount, stats.EventHistory, stats.IsShutdown)
}
