// Package llmtest provides a scripted llm.Backend for tests.
package llmtest

import (
	"context"
	"iter"
	"sync"

	"github.com/entrepeneur4lyf/kbchat/internal/llm"
)

// Step is one scripted stream event. A step with Err ends the stream.
type Step struct {
	Chunk llm.Chunk
	Err   error
}

// Text scripts a stream of plain text deltas.
func Text(deltas ...string) []Step {
	steps := make([]Step, len(deltas))
	for i, d := range deltas {
		steps[i] = Step{Chunk: llm.Chunk{Text: d}}
	}
	return steps
}

// Backend replays the same script for every Stream call and records the
// requests it receives.
type Backend struct {
	mu            sync.Mutex
	notConfigured bool
	steps         []Step
	reply         string
	generateErr   error
	gate          chan struct{}
	requests      []llm.Request

	// Started receives a value each time a Stream or Generate call begins.
	Started chan struct{}
}

// New creates a configured backend streaming steps.
func New(steps ...Step) *Backend {
	return &Backend{steps: steps, Started: make(chan struct{}, 64)}
}

// SetConfigured toggles the credential.
func (b *Backend) SetConfigured(ok bool) {
	b.mu.Lock()
	b.notConfigured = !ok
	b.mu.Unlock()
}

// SetSteps replaces the stream script.
func (b *Backend) SetSteps(steps ...Step) {
	b.mu.Lock()
	b.steps = steps
	b.mu.Unlock()
}

// SetReply scripts the Generate result.
func (b *Backend) SetReply(reply string, err error) {
	b.mu.Lock()
	b.reply, b.generateErr = reply, err
	b.mu.Unlock()
}

// Hold makes subsequent calls block before producing anything until
// Release is called or their context ends.
func (b *Backend) Hold() {
	b.mu.Lock()
	b.gate = make(chan struct{})
	b.mu.Unlock()
}

// Release unblocks held calls.
func (b *Backend) Release() {
	b.mu.Lock()
	if b.gate != nil {
		close(b.gate)
		b.gate = nil
	}
	b.mu.Unlock()
}

// Requests returns every request received so far.
func (b *Backend) Requests() []llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Request(nil), b.requests...)
}

// LastRequest returns the most recent request.
func (b *Backend) LastRequest() llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		return llm.Request{}
	}
	return b.requests[len(b.requests)-1]
}

func (b *Backend) Configured() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.notConfigured
}

func (b *Backend) begin(req llm.Request) (chan struct{}, []Step) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	gate := b.gate
	steps := append([]Step(nil), b.steps...)
	b.mu.Unlock()

	select {
	case b.Started <- struct{}{}:
	default:
	}
	return gate, steps
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return ctx.Err()
	}
	select {
	case <-gate:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) Stream(ctx context.Context, req llm.Request) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		if !b.Configured() {
			yield(llm.Chunk{}, llm.ErrNotConfigured)
			return
		}
		gate, steps := b.begin(req)
		if err := wait(ctx, gate); err != nil {
			yield(llm.Chunk{}, err)
			return
		}
		for _, s := range steps {
			if s.Err != nil {
				yield(llm.Chunk{}, s.Err)
				return
			}
			if !yield(s.Chunk, nil) {
				return
			}
		}
	}
}

func (b *Backend) Generate(ctx context.Context, req llm.Request) (string, error) {
	if !b.Configured() {
		return "", llm.ErrNotConfigured
	}
	gate, _ := b.begin(req)
	if err := wait(ctx, gate); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reply, b.generateErr
}
