package docstore

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// FileStore keeps evidence on the local filesystem.
type FileStore struct {
	dir     string
	prefix  string
	baseURL string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir, prefix, baseURL string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "docstore: resolve %s", dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, eris.Wrapf(err, "docstore: create %s", abs)
	}
	return &FileStore{dir: abs, prefix: prefix, baseURL: baseURL}, nil
}

// Put writes obj via a temp file and rename so readers never see a partial
// file.
func (f *FileStore) Put(ctx context.Context, obj Object) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}
	key, sum := objectKey(f.prefix, obj)
	path := filepath.Join(f.dir, filepath.FromSlash(key))
	out := Stored{Key: key, Size: int64(len(obj.Data)), SHA256: sum, URL: f.url(path, key)}

	if _, err := os.Stat(path); err == nil {
		return out, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Stored{}, eris.Wrapf(err, "docstore: mkdir for %s", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return Stored{}, eris.Wrap(err, "docstore: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(obj.Data); err != nil {
		tmp.Close() //nolint:errcheck
		return Stored{}, eris.Wrapf(err, "docstore: write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return Stored{}, eris.Wrapf(err, "docstore: close %s", key)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Stored{}, eris.Wrapf(err, "docstore: rename %s", key)
	}
	return out, nil
}

func (f *FileStore) url(path, key string) string {
	if u := publicURL(f.baseURL, key); u != "" {
		return u
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
