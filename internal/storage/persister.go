package storage

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
)

// SnapshotSource yields the state to persist.
type SnapshotSource interface {
	Snapshot() conversation.Snapshot
}

// Persister saves the repository after every change. Saves run on one
// goroutine and bursts of changes collapse into a single write of the
// latest snapshot.
type Persister struct {
	state  *State
	source SnapshotSource
	logger *log.Logger

	kick chan struct{}
	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	pending int
	idle    *sync.Cond
	lastErr error
	once    sync.Once
}

// NewPersister starts the save loop.
func NewPersister(state *State, source SnapshotSource, logger *log.Logger) *Persister {
	if logger == nil {
		logger = log.Default().With("component", "storage")
	}
	p := &Persister{
		state:  state,
		source: source,
		logger: logger,
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	p.idle = sync.NewCond(&p.mu)
	go p.loop()
	return p
}

// Hook schedules a save. It matches the repository change-hook signature.
func (p *Persister) Hook(conversation.Change) {
	p.mu.Lock()
	p.pending++
	p.mu.Unlock()
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Persister) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.kick:
			p.save()
		case <-p.stop:
			p.save()
			return
		}
	}
}

func (p *Persister) save() {
	p.mu.Lock()
	n := p.pending
	p.mu.Unlock()
	if n == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := p.state.Save(ctx, p.source.Snapshot())
	cancel()
	if err != nil {
		p.logger.Error("Failed to persist state", "err", err)
	}

	p.mu.Lock()
	p.lastErr = err
	p.pending -= n
	if p.pending == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

// Flush blocks until every scheduled save has been written and returns the
// last save error.
func (p *Persister) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		select {
		case <-p.done:
			return p.lastErr
		default:
		}
		p.idle.Wait()
	}
	return p.lastErr
}

// Close writes any pending change and stops the loop. The state store is
// left open.
func (p *Persister) Close() error {
	p.once.Do(func() { close(p.stop) })
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}
