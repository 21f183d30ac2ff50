// Package archive copies terminal records (paid or expired claims, closed
// policies) to durable storage outside the engine database.
package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Archiver stores one record.
type Archiver interface {
	Archive(ctx context.Context, kind, id string, v any) error
}

// Key returns the object key of kind/id under prefix.
func Key(prefix, kind, id string) string {
	k := kind + "/" + id + ".json"
	if p := strings.Trim(prefix, "/"); p != "" {
		return p + "/" + k
	}
	return k
}

func encode(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	return b, eris.Wrap(err, "archive: encode")
}

// Nop discards records.
type Nop struct{}

func (Nop) Archive(context.Context, string, string, any) error { return nil }

// FS writes records as JSON files below a directory.
type FS struct {
	dir string
}

// NewFS returns a filesystem archiver rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	if dir == "" {
		return nil, eris.New("archive: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, eris.Wrapf(err, "archive: create %s", dir)
	}
	return &FS{dir: dir}, nil
}

func (f *FS) Archive(_ context.Context, kind, id string, v any) error {
	body, err := encode(v)
	if err != nil {
		return err
	}
	path := filepath.Join(f.dir, filepath.FromSlash(Key("", kind, filepath.Base(id))))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return eris.Wrapf(err, "archive: create %s", filepath.Dir(path))
	}
	// Write then rename so readers never see a partial file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o640); err != nil {
		return eris.Wrapf(err, "archive: write %s", tmp)
	}
	return eris.Wrapf(os.Rename(tmp, path), "archive: rename %s", path)
}
