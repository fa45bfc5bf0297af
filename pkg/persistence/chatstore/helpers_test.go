package chatstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type backendCase struct {
	name     string
	endpoint func(t *testing.T) string
}

func backendCases() []backendCase {
	return []backendCase{
		{name: "memory", endpoint: memoryEndpoint},
		{name: "sqlite", endpoint: func(t *testing.T) string {
			return "sqlite://" + filepath.Join(t.TempDir(), "threads.db")
		}},
		{name: "redis", endpoint: func(t *testing.T) string {
			mr := miniredis.RunT(t)
			return "redis://" + mr.Addr()
		}},
	}
}

func memoryEndpoint(t *testing.T) string {
	t.Helper()
	name := "test-" + uuid.NewString()
	t.Cleanup(func() { ResetInMemoryListSpace(name) })
	return memoryScheme + name
}

func openStore(t *testing.T, endpoint string, opts ...StoreOption) *Store {
	t.Helper()
	s, err := Open(context.Background(), endpoint, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func texts(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Text()
	}
	return out
}

func requireSameMessages(t *testing.T, want, got []Message) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Truef(t, want[i].Equal(got[i]), "message %d: want %+v, got %+v", i, want[i], got[i])
	}
}

// recordingSink collects published log events.
type recordingSink struct {
	mu     sync.Mutex
	events []LogEvent
	err    error
}

func (r *recordingSink) PublishLogEvent(_ context.Context, ev LogEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) Events() []LogEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEvent(nil), r.events...)
}

// faultyBackend wraps the in-memory backend and injects failures.
type faultyBackend struct {
	*InMemoryListBackend
	trimErr    error
	closeCalls int
}

func newFaultyBackend() *faultyBackend {
	return &faultyBackend{InMemoryListBackend: NewInMemoryListBackend()}
}

func (f *faultyBackend) Trim(ctx context.Context, key string, start, stop int64) error {
	if f.trimErr != nil {
		return backendError("faulty backend: trim", f.trimErr)
	}
	return f.InMemoryListBackend.Trim(ctx, key, start, stop)
}

func (f *faultyBackend) Close() error {
	f.closeCalls++
	return f.InMemoryListBackend.Close()
}

var errInjected = errors.New("injected failure")
