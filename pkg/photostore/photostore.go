// Package photostore reads owner-scoped recipe photos for the vision
// extractor. Upload and thumbnailing live elsewhere; this package only needs
// to confirm a photo exists and hand back its bytes.
package photostore

import (
	"context"
	"fmt"
	"strings"
)

// MaxPhotoBytes caps a single photo read.
const MaxPhotoBytes = 10 << 20

// Backend identifies a storage backend in errors.
type Backend string

const (
	BackendFile Backend = "file"
	BackendS3   Backend = "s3"
)

// Meta describes a stored photo.
type Meta struct {
	ID          string
	OwnerID     string
	Size        int64
	ContentType string
}

// Photo is a stored photo with its bytes.
type Photo struct {
	Meta
	Data []byte
}

// Store reads photos by owner and id. A photo that exists under another
// owner is reported as ErrNotFound.
type Store interface {
	Head(ctx context.Context, ownerID, photoID string) (*Meta, error)
	Get(ctx context.Context, ownerID, photoID string) (*Photo, error)
}

// Putter is implemented by stores that can also write photos.
type Putter interface {
	Put(ctx context.Context, ownerID, photoID, contentType string, data []byte) error
}

// Key builds the object key "<owner>/<photo>" after validating both parts.
func Key(ownerID, photoID string) (string, error) {
	parts := []struct{ name, value string }{{"owner id", ownerID}, {"photo id", photoID}}
	for _, p := range parts {
		name, v := p.name, strings.TrimSpace(p.value)
		if v == "" {
			return "", fmt.Errorf("%s is required", name)
		}
		if strings.ContainsAny(v, `/\`) || v == "." || v == ".." {
			return "", fmt.Errorf("invalid %s %q", name, v)
		}
	}
	return strings.TrimSpace(ownerID) + "/" + strings.TrimSpace(photoID), nil
}
