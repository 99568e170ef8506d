package attachment

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringSource(name, body string) Source {
	return Source{
		Name:     name,
		MimeType: "text/plain",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		},
	}
}

func TestStore_Lifecycle(t *testing.T) {
	s := NewStore(nil)

	a := s.Begin("notes.txt", "text/plain")
	assert.Equal(t, StatusLoading, a.Status)
	assert.NotEmpty(t, a.ID)

	done, err := s.Complete(a.ID, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, done.Loaded())
	assert.Equal(t, "aGVsbG8=", done.Data)
	assert.Equal(t, 5, done.Size())

	raw, err := done.Decode()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(raw))

	_, err = s.Fail(a.ID, "late failure")
	assert.ErrorIs(t, err, ErrAlreadySettled)

	got, ok := s.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, StatusLoaded, got.Status)

	s.Forget(a.ID)
	_, ok = s.Get(a.ID)
	assert.False(t, ok)

	_, err = s.Complete("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownAttachment)
}

func TestAttachment_DecodeRequiresLoaded(t *testing.T) {
	a := Attachment{Name: "x", Status: StatusError, ErrorMessage: "boom"}
	_, err := a.Decode()
	assert.Error(t, err)
}

func TestLoadedOnly(t *testing.T) {
	in := []Attachment{
		{ID: "1", Status: StatusLoaded},
		{ID: "2", Status: StatusLoading},
		{ID: "3", Status: StatusError},
		{ID: "4", Status: StatusLoaded},
	}
	out := LoadedOnly(in)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0].ID)
	assert.Equal(t, "4", out[1].ID)
}

func TestStore_LoadMixedResults(t *testing.T) {
	s := NewStore(nil)
	sources := []Source{
		stringSource("a.txt", "alpha"),
		{
			Name:     "broken.txt",
			MimeType: "text/plain",
			Open: func() (io.ReadCloser, error) {
				return nil, errors.New("permission denied")
			},
		},
		stringSource("c.txt", "gamma"),
		stringSource("d.txt", "delta"),
		stringSource("e.txt", "epsilon"),
		stringSource("f.txt", "zeta"),
	}

	var mu sync.Mutex
	resolved := make(map[string]Attachment)
	batch := s.Load(context.Background(), sources, func(a Attachment) {
		mu.Lock()
		resolved[a.ID] = a
		mu.Unlock()
	})

	require.Len(t, batch.Placeholders, len(sources))
	for i, p := range batch.Placeholders {
		assert.Equal(t, StatusLoading, p.Status)
		assert.Equal(t, sources[i].Name, p.Name)
	}

	require.NoError(t, batch.Wait())
	require.Len(t, resolved, len(sources))

	broken := resolved[batch.Placeholders[1].ID]
	assert.Equal(t, StatusError, broken.Status)
	assert.Contains(t, broken.ErrorMessage, "permission denied")
	assert.Empty(t, broken.Data)

	first := resolved[batch.Placeholders[0].ID]
	assert.Equal(t, StatusLoaded, first.Status)
	raw, err := first.Decode()
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(raw))
}

func TestStore_LoadCancelled(t *testing.T) {
	s := NewStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := s.Load(ctx, []Source{stringSource("a.txt", "alpha")}, nil)
	err := batch.Wait()
	assert.ErrorIs(t, err, context.Canceled)

	got, ok := s.Get(batch.Placeholders[0].ID)
	require.True(t, ok)
	assert.Equal(t, StatusError, got.Status)
}

func TestStore_StageThenStart(t *testing.T) {
	s := NewStore(nil)
	batch := s.Stage([]Source{stringSource("a.txt", "alpha")})
	id := batch.Placeholders[0].ID

	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusLoading, got.Status)
	assert.NoError(t, batch.Wait())

	var resolved []Attachment
	var mu sync.Mutex
	require.NoError(t, batch.Start(context.Background(), func(a Attachment) {
		mu.Lock()
		resolved = append(resolved, a)
		mu.Unlock()
	}).Wait())
	require.Len(t, resolved, 1)
	assert.Equal(t, StatusLoaded, resolved[0].Status)
}

func TestStore_Abandon(t *testing.T) {
	s := NewStore(nil)
	batch := s.Stage([]Source{stringSource("a.txt", "alpha"), stringSource("b.txt", "beta")})
	batch.Abandon()
	for _, p := range batch.Placeholders {
		_, ok := s.Get(p.ID)
		assert.False(t, ok)
	}
}
