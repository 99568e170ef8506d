package attachment

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many sources are read at once.
const DefaultConcurrency = 4

// Store holds attachments that have been started but may not have settled.
// Settled attachments stay until Forget is called.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Attachment
	logger  *log.Logger
}

// NewStore creates an empty store.
func NewStore(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		entries: make(map[string]*Attachment),
		logger:  logger,
	}
}

// Begin registers a new attachment in the loading state.
func (s *Store) Begin(name, mimeType string) Attachment {
	a := &Attachment{
		ID:       uuid.NewString(),
		Name:     name,
		MimeType: mimeType,
		Status:   StatusLoading,
	}
	s.mu.Lock()
	s.entries[a.ID] = a
	s.mu.Unlock()
	return *a
}

// Complete moves a loading attachment to loaded with the given bytes.
func (s *Store) Complete(id string, raw []byte) (Attachment, error) {
	return s.settle(id, func(a *Attachment) {
		a.Status = StatusLoaded
		a.Data = base64.StdEncoding.EncodeToString(raw)
		a.ErrorMessage = ""
	})
}

// Fail moves a loading attachment to error with a message.
func (s *Store) Fail(id, message string) (Attachment, error) {
	return s.settle(id, func(a *Attachment) {
		a.Status = StatusError
		a.Data = ""
		a.ErrorMessage = message
	})
}

func (s *Store) settle(id string, apply func(*Attachment)) (Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.entries[id]
	if !ok {
		return Attachment{}, ErrUnknownAttachment
	}
	if a.Status != StatusLoading {
		return *a, ErrAlreadySettled
	}
	apply(a)
	return *a, nil
}

// Get returns the current state of an attachment.
func (s *Store) Get(id string) (Attachment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.entries[id]
	if !ok {
		return Attachment{}, false
	}
	return *a, true
}

// Forget drops an attachment from the store.
func (s *Store) Forget(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Source is a file to be read into an attachment.
type Source struct {
	Name     string
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// Batch is a set of attachments being loaded concurrently.
type Batch struct {
	// Placeholders are the loading entries, in source order.
	Placeholders []Attachment

	store   *Store
	sources []Source
	g       *errgroup.Group
}

// Stage registers a loading placeholder for every source without reading
// anything. Call Start to begin reading.
func (s *Store) Stage(sources []Source) *Batch {
	b := &Batch{store: s, sources: sources, Placeholders: make([]Attachment, len(sources))}
	for i, src := range sources {
		b.Placeholders[i] = s.Begin(src.Name, src.MimeType)
	}
	return b
}

// Start reads every source. onResolved is called once per source, from the
// reading goroutine, with the settled attachment.
func (b *Batch) Start(ctx context.Context, onResolved func(Attachment)) *Batch {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultConcurrency)

	// Go blocks once the limit is reached, so schedule from a goroutine.
	scheduled := make(chan struct{})
	go func() {
		defer close(scheduled)
		for i, src := range b.sources {
			id := b.Placeholders[i].ID
			g.Go(func() error {
				return b.store.read(ctx, id, src, onResolved)
			})
		}
	}()
	b.g = &errgroup.Group{}
	b.g.Go(func() error {
		<-scheduled
		return g.Wait()
	})
	return b
}

// Abandon drops the placeholders of a batch that will never be started.
func (b *Batch) Abandon() {
	for _, p := range b.Placeholders {
		b.store.Forget(p.ID)
	}
}

// Wait blocks until every source has settled. Per-file read failures are
// reported through the error status, not here; only cancellation is.
func (b *Batch) Wait() error {
	if b.g == nil {
		return nil
	}
	return b.g.Wait()
}

// Load stages and starts reading every source. The placeholders are
// available immediately.
func (s *Store) Load(ctx context.Context, sources []Source, onResolved func(Attachment)) *Batch {
	return s.Stage(sources).Start(ctx, onResolved)
}

func (s *Store) read(ctx context.Context, id string, src Source, onResolved func(Attachment)) error {
	if err := ctx.Err(); err != nil {
		a, _ := s.Fail(id, err.Error())
		notify(onResolved, a)
		return err
	}

	raw, err := readAll(src)
	var a Attachment
	if err != nil {
		s.logger.Warn("Failed to read attachment", "name", src.Name, "err", err)
		a, _ = s.Fail(id, err.Error())
	} else {
		a, _ = s.Complete(id, raw)
	}
	notify(onResolved, a)
	return nil
}

func readAll(src Source) ([]byte, error) {
	if src.Open == nil {
		return nil, fmt.Errorf("no reader for %s", src.Name)
	}
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func notify(fn func(Attachment), a Attachment) {
	if fn != nil && a.ID != "" {
		fn(a)
	}
}
