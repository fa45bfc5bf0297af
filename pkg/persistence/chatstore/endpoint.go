package chatstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	memoryScheme = "memory://"
	sqliteScheme = "sqlite://"
)

// OpenListBackend picks a backend from the endpoint scheme:
//
//	redis://, rediss://, unix://  Redis
//	sqlite://<path>, file:<path>  SQLite (":memory:" for a private database)
//	memory://<name>               process-local list space shared by name
func OpenListBackend(ctx context.Context, endpoint string) (ListBackend, error) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return nil, errors.Wrap(ErrMissingConnectionInfo, "open list backend")
	case strings.HasPrefix(endpoint, "redis://"),
		strings.HasPrefix(endpoint, "rediss://"),
		strings.HasPrefix(endpoint, "unix://"):
		return NewRedisListBackend(ctx, endpoint)
	case strings.HasPrefix(endpoint, sqliteScheme):
		path := strings.TrimPrefix(endpoint, sqliteScheme)
		if path == ":memory:" {
			return NewSQLiteListBackend(ctx, path)
		}
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "sqlite list backend: create directory")
			}
		}
		dsn, err := SQLiteListDSNForFile(path)
		if err != nil {
			return nil, errors.Wrap(ErrInvalidConfig, err.Error())
		}
		return NewSQLiteListBackend(ctx, dsn)
	case strings.HasPrefix(endpoint, "file:"):
		return NewSQLiteListBackend(ctx, endpoint)
	case strings.HasPrefix(endpoint, memoryScheme):
		b := OpenInMemoryListBackend(strings.TrimPrefix(endpoint, memoryScheme))
		if err := b.Ping(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		return b, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedEndpoint, "open list backend: %s", RedactEndpoint(endpoint))
	}
}

// RedactEndpoint hides the password of a URL-style endpoint for logging.
func RedactEndpoint(endpoint string) string {
	schemeEnd := strings.Index(endpoint, "://")
	if schemeEnd < 0 {
		return endpoint
	}
	rest := endpoint[schemeEnd+3:]
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return endpoint
	}
	userinfo := rest[:at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		userinfo = userinfo[:colon+1] + "xxxxx"
	}
	return endpoint[:schemeEnd+3] + userinfo + rest[at:]
}

// ListThreadKeys enumerates the conversation keys stored under prefix.
func ListThreadKeys(ctx context.Context, endpoint, prefix string) ([]string, error) {
	backend, err := OpenListBackend(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer func() { _ = backend.Close() }()
	return ScanThreadKeys(ctx, backend, prefix)
}

// ScanThreadKeys enumerates keys on an already opened backend.
func ScanThreadKeys(ctx context.Context, backend ListBackend, prefix string) ([]string, error) {
	scanner, ok := backend.(KeyScanner)
	if !ok {
		return nil, errors.Errorf("list thread keys: backend %T cannot enumerate keys", backend)
	}
	keys, err := scanner.ScanKeys(ctx, strings.TrimSpace(prefix))
	if err != nil {
		return nil, errors.Wrap(err, "list thread keys")
	}
	return keys, nil
}

// RawRecord is one undecoded list entry.
type RawRecord struct {
	Index   int
	Payload []byte
}

// InspectKey returns the raw entries stored under an arbitrary key without
// decoding them. A missing key yields an empty slice.
func InspectKey(ctx context.Context, backend ListBackend, key string) ([]RawRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("inspect key: key is empty")
	}
	items, err := backend.Range(ctx, key, 0, -1)
	if err != nil {
		return nil, errors.Wrapf(err, "inspect key %s", key)
	}
	out := make([]RawRecord, len(items))
	for i, item := range items {
		out[i] = RawRecord{Index: i, Payload: item}
	}
	return out, nil
}
