package chatstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryListBackend is a process-local ListBackend. It mirrors the ordering
// semantics of the Redis and SQLite backends so tests and demos behave the same.
//
// Several handles may share one list space (see OpenInMemoryListBackend);
// closing a handle does not drop the data.
type InMemoryListBackend struct {
	space  *inMemListSpace
	mu     sync.Mutex
	closed bool
}

type inMemListSpace struct {
	mu    sync.Mutex
	lists map[string][][]byte
}

var _ ListBackend = &InMemoryListBackend{}
var _ KeyScanner = &InMemoryListBackend{}

var (
	inMemSpacesMu sync.Mutex
	inMemSpaces   = map[string]*inMemListSpace{}
)

// NewInMemoryListBackend returns a backend over a private, empty list space.
func NewInMemoryListBackend() *InMemoryListBackend {
	return &InMemoryListBackend{space: &inMemListSpace{lists: map[string][][]byte{}}}
}

// OpenInMemoryListBackend returns a handle on the named process-wide list
// space, creating it on first use. Handles opened with the same name see the
// same lists, which is what lets a restored store reattach in-process.
func OpenInMemoryListBackend(name string) *InMemoryListBackend {
	name = strings.TrimSpace(name)
	inMemSpacesMu.Lock()
	defer inMemSpacesMu.Unlock()
	space := inMemSpaces[name]
	if space == nil {
		space = &inMemListSpace{lists: map[string][][]byte{}}
		inMemSpaces[name] = space
	}
	return &InMemoryListBackend{space: space}
}

// ResetInMemoryListSpace drops the named list space.
func ResetInMemoryListSpace(name string) {
	inMemSpacesMu.Lock()
	defer inMemSpacesMu.Unlock()
	delete(inMemSpaces, strings.TrimSpace(name))
}

func (b *InMemoryListBackend) check(ctx context.Context) error {
	if b == nil || b.space == nil {
		return errors.New("in-memory list backend: nil backend")
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errors.New("in-memory list backend: closed")
	}
	if err := ctx.Err(); err != nil {
		return backendError("in-memory list backend", err)
	}
	return nil
}

func (b *InMemoryListBackend) Push(ctx context.Context, key string, items ...[]byte) (int64, error) {
	if err := b.check(ctx); err != nil {
		return 0, err
	}
	b.space.mu.Lock()
	defer b.space.mu.Unlock()
	list := b.space.lists[key]
	for _, item := range items {
		list = append(list, append([]byte(nil), item...))
	}
	b.space.lists[key] = list
	return int64(len(list)), nil
}

func (b *InMemoryListBackend) Trim(ctx context.Context, key string, start, stop int64) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	b.space.mu.Lock()
	defer b.space.mu.Unlock()
	list := b.space.lists[key]
	lo, hi, ok := resolveRange(int64(len(list)), start, stop)
	if !ok {
		delete(b.space.lists, key)
		return nil
	}
	kept := make([][]byte, hi-lo)
	copy(kept, list[lo:hi])
	b.space.lists[key] = kept
	return nil
}

func (b *InMemoryListBackend) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	b.space.mu.Lock()
	defer b.space.mu.Unlock()
	list := b.space.lists[key]
	lo, hi, ok := resolveRange(int64(len(list)), start, stop)
	if !ok {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, hi-lo)
	for _, item := range list[lo:hi] {
		out = append(out, append([]byte(nil), item...))
	}
	return out, nil
}

func (b *InMemoryListBackend) Delete(ctx context.Context, key string) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	b.space.mu.Lock()
	defer b.space.mu.Unlock()
	delete(b.space.lists, key)
	return nil
}

func (b *InMemoryListBackend) Len(ctx context.Context, key string) (int64, error) {
	if err := b.check(ctx); err != nil {
		return 0, err
	}
	b.space.mu.Lock()
	defer b.space.mu.Unlock()
	return int64(len(b.space.lists[key])), nil
}

func (b *InMemoryListBackend) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	b.space.mu.Lock()
	defer b.space.mu.Unlock()
	keys := make([]string, 0, len(b.space.lists))
	for k := range b.space.lists {
		if prefix == "" || strings.HasPrefix(k, prefix+KeySeparator) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *InMemoryListBackend) Ping(ctx context.Context) error {
	return b.check(ctx)
}

func (b *InMemoryListBackend) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
