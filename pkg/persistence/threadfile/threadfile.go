// Package threadfile keeps thread-state blobs as named files on disk, so a
// conversation can be saved under a readable name and reattached later.
package threadfile

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/threadlog/pkg/persistence/chatstore"
)

// Format selects the on-disk encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DefaultName is used when a name slugifies to nothing.
const DefaultName = "conversation"

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9-]+`)
	dashRuns     = regexp.MustCompile(`-+`)
)

// Slugify lowercases name and collapses everything outside [a-z0-9-] into
// single dashes.
func Slugify(name string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	slug = strings.Trim(dashRuns.ReplaceAllString(slug, "-"), "-")
	if slug == "" {
		return DefaultName
	}
	return slug
}

// Entry is one saved thread.
type Entry struct {
	Name   string
	Path   string
	Format Format
}

// Dir is a directory of saved thread states.
type Dir struct {
	Root   string
	Format Format
}

func New(root string, format Format) (*Dir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("threadfile: root is empty")
	}
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatYAML:
	default:
		return nil, errors.Errorf("threadfile: unknown format %q", format)
	}
	return &Dir{Root: root, Format: format}, nil
}

func (d *Dir) pathFor(slug string, format Format) string {
	return filepath.Join(d.Root, slug+extension(format))
}

func extension(format Format) string {
	if format == FormatYAML {
		return ".yaml"
	}
	return ".json"
}

// Save writes ts under the slug of name and returns the slug. The file is
// written to a temporary path and renamed into place.
func (d *Dir) Save(name string, ts chatstore.ThreadState) (string, error) {
	if d == nil {
		return "", errors.New("threadfile: dir is nil")
	}
	slug := Slugify(name)
	var (
		data []byte
		err  error
	)
	if d.Format == FormatYAML {
		data, err = chatstore.MarshalThreadStateYAML(ts)
	} else {
		data, err = chatstore.MarshalThreadState(ts)
	}
	if err != nil {
		return "", errors.Wrap(err, "threadfile: encode")
	}
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return "", errors.Wrap(err, "threadfile: create dir")
	}
	path := d.pathFor(slug, d.Format)
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return "", err
	}
	// A thread saved earlier in the other format would shadow this one on Load.
	other := FormatYAML
	if d.Format == FormatYAML {
		other = FormatJSON
	}
	if err := os.Remove(d.pathFor(slug, other)); err != nil && !os.IsNotExist(err) {
		return "", errors.Wrap(err, "threadfile: remove stale copy")
	}
	return slug, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "threadfile: create temp file")
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "threadfile: write %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "threadfile: close %s", tmpPath)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return errors.Wrapf(err, "threadfile: chmod %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrapf(err, "threadfile: rename %s to %s", tmpPath, path)
	}
	return nil
}

// Load reads the thread saved under name, in either format.
func (d *Dir) Load(name string) (chatstore.ThreadState, string, error) {
	if d == nil {
		return chatstore.ThreadState{}, "", errors.New("threadfile: dir is nil")
	}
	slug := Slugify(name)
	for _, format := range []Format{d.Format, FormatJSON, FormatYAML} {
		data, err := os.ReadFile(d.pathFor(slug, format))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return chatstore.ThreadState{}, slug, errors.Wrapf(err, "threadfile: read %s", slug)
		}
		ts, err := chatstore.UnmarshalThreadState(data)
		if err != nil {
			return chatstore.ThreadState{}, slug, errors.Wrapf(err, "threadfile: decode %s", slug)
		}
		return ts, slug, nil
	}
	return chatstore.ThreadState{}, slug, errors.Wrapf(os.ErrNotExist, "threadfile: no saved thread %q", slug)
}

// List returns saved threads sorted by name. A missing root yields no entries.
func (d *Dir) List() ([]Entry, error) {
	if d == nil {
		return nil, errors.New("threadfile: dir is nil")
	}
	dirEntries, err := os.ReadDir(d.Root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "threadfile: list")
	}
	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		ext := filepath.Ext(de.Name())
		var format Format
		switch ext {
		case ".json":
			format = FormatJSON
		case ".yaml", ".yml":
			format = FormatYAML
		default:
			continue
		}
		out = append(out, Entry{
			Name:   strings.TrimSuffix(de.Name(), ext),
			Path:   filepath.Join(d.Root, de.Name()),
			Format: format,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes the saved thread. It does not touch the conversation log.
func (d *Dir) Delete(name string) error {
	if d == nil {
		return errors.New("threadfile: dir is nil")
	}
	slug := Slugify(name)
	removed := false
	for _, format := range []Format{FormatJSON, FormatYAML} {
		err := os.Remove(d.pathFor(slug, format))
		if err == nil {
			removed = true
			continue
		}
		if !os.IsNotExist(err) {
			return errors.Wrapf(err, "threadfile: delete %s", slug)
		}
	}
	if !removed {
		return errors.Wrapf(os.ErrNotExist, "threadfile: no saved thread %q", slug)
	}
	return nil
}
