package chatstore

import "context"

// ListBackend is the keyed ordered-list primitive a ConversationLog is built on.
//
// Indices follow Redis list semantics: zero-based, negative values count from
// the tail (-1 is the last element) and stop is inclusive. Push must be atomic
// per key: either every item is appended, in order, or none is.
type ListBackend interface {
	Push(ctx context.Context, key string, items ...[]byte) (int64, error)
	Trim(ctx context.Context, key string, start, stop int64) error
	Range(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// KeyScanner is implemented by backends that can enumerate their keys.
type KeyScanner interface {
	ScanKeys(ctx context.Context, prefix string) ([]string, error)
}

// resolveRange maps Redis-style (start, stop) indices onto [lo, hi) of a list
// of length n. ok is false when the range is empty.
func resolveRange(n, start, stop int64) (lo, hi int64, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}
