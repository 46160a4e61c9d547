// Package storage persists uploaded task proofs.
package storage

import (
	"context"
	"fmt"
	"io"

	"field-service-server/config"
)

// Object describes a stored file.
type Object struct {
	// Path identifies the object inside its backend, used for deletion.
	Path string
	// URL is what clients fetch.
	URL  string
	Size int64
}

// Store saves and removes uploaded files. key is a slash separated relative
// path such as "task_proofs/12/<uuid>.jpg".
type Store interface {
	Save(ctx context.Context, key string, r io.Reader, contentType string) (*Object, error)
	Delete(ctx context.Context, path string) error
}

// New picks the backend named in cfg.
func New(media config.MediaConfig, cld config.CloudinaryConfig) (Store, error) {
	switch media.Backend {
	case "", config.MediaBackendLocal:
		return NewLocalStore(media.Root, media.URL)
	case config.MediaBackendCloudinary:
		return NewCloudinaryStore(cld.CloudinaryURL())
	default:
		return nil, fmt.Errorf("unknown media backend %q", media.Backend)
	}
}
