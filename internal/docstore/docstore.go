// Package docstore stores evaluation evidence files and returns the URL that
// is recorded on the document.
package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/regenmark/internal/config"
)

// Object is one uploaded file.
type Object struct {
	EvaluationID string
	Name         string
	MimeType     string
	Data         []byte
}

// Stored describes where an object ended up.
type Stored struct {
	Key    string
	URL    string
	Size   int64
	SHA256 string
}

// Store persists evidence files. Keys are content addressed per evaluation,
// so uploading the same bytes twice is a no-op.
type Store interface {
	Put(ctx context.Context, obj Object) (Stored, error)
}

// New returns the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.DocumentsConfig) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileStore(cfg.Dir, cfg.Prefix, cfg.PublicBaseURL)
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:        cfg.Bucket,
			Region:        cfg.Region,
			Endpoint:      cfg.Endpoint,
			Prefix:        cfg.Prefix,
			PublicBaseURL: cfg.PublicBaseURL,
		})
	}
	return nil, eris.Errorf("docstore: unknown driver %q", cfg.Driver)
}

// objectKey builds <prefix><evaluation>/<sha256><ext>.
func objectKey(prefix string, obj Object) (key, sum string) {
	h := sha256.Sum256(obj.Data)
	sum = hex.EncodeToString(h[:])
	ext := strings.ToLower(path.Ext(sanitize(obj.Name)))
	return prefix + sanitize(obj.EvaluationID) + "/" + sum + ext, sum
}

// sanitize keeps a path segment free of separators and traversal.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r < 0x20:
			return '_'
		}
		return r
	}, s)
	s = strings.ReplaceAll(s, "..", "_")
	s = strings.TrimLeft(s, ".")
	if s == "" {
		return "_"
	}
	return s
}

func publicURL(base, key string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + key
}
