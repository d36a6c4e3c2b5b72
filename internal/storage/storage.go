package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUploadFailed = errors.New("failed to upload object")
	ErrDeleteFailed = errors.New("failed to delete object")
)

// ObjectStore is the object storage used for certificate files. Put returns
// a URL for the stored object which may carry a signed query string.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// ObjectKey builds "<prefix>/<purpose>-<unix ms>-<owner>-<random><ext>".
// The random part keeps uploads made in the same millisecond apart.
func ObjectKey(prefix, purpose, ownerID, filename string, now time.Time) string {
	name := fmt.Sprintf("%s-%d-%s-%s%s", purpose, now.UnixMilli(), ownerID, uuid.NewString()[:8], Ext(filename))
	if prefix = strings.Trim(prefix, "/"); prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Ext returns the extension of filename if it is short and alphanumeric.
func Ext(filename string) string {
	ext := path.Ext(filename)
	if len(ext) < 2 || len(ext) > 16 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}

// StripQuery drops the query string and fragment, leaving the canonical link.
func StripQuery(link string) string {
	if i := strings.IndexAny(link, "?#"); i >= 0 {
		return link[:i]
	}
	return link
}

// KeyFromLink recovers the object key from a stored link. Path-style links
// carry the bucket as the first segment. Links that do not parse fall back
// to "certificates/<name>".
func KeyFromLink(link, bucket, fallbackName string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return "certificates/" + fallbackName
	}
	key := strings.TrimPrefix(u.Path, "/")
	if bucket != "" {
		key = strings.TrimPrefix(key, bucket+"/")
	}
	return key
}
