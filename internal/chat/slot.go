package chat

import "sync"

// Slot is the single in-flight generation guard shared by the reconciler
// and the suggestion fetcher. Acquisition never blocks.
type Slot struct {
	mu        sync.Mutex
	owner     string
	onRelease []func(owner string)
}

// OnRelease registers fn to run after the slot is freed, outside the lock.
func (s *Slot) OnRelease(fn func(owner string)) {
	s.mu.Lock()
	s.onRelease = append(s.onRelease, fn)
	s.mu.Unlock()
}

// TryAcquire takes the slot for owner. It reports false if it is held.
func (s *Slot) TryAcquire(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != "" {
		return false
	}
	s.owner = owner
	return true
}

// Release frees the slot if owner holds it.
func (s *Slot) Release(owner string) {
	s.mu.Lock()
	if s.owner != owner {
		s.mu.Unlock()
		return
	}
	s.owner = ""
	hooks := s.onRelease
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(owner)
	}
}

// Busy reports whether the slot is held.
func (s *Slot) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner != ""
}

// Owner returns the current holder, or "".
func (s *Slot) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}
