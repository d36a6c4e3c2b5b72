package storage

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"smilecert/internal/config"
)

func TestObjectKey(t *testing.T) {
	now := time.UnixMilli(1717236000123)
	tests := []struct {
		prefix, purpose, owner, filename string
		want                             string
	}{
		{"certificates", "smile", "u-1", "photo.JPG", `^certificates/smile-1717236000123-u-1-[0-9a-f]{8}\.JPG$`},
		{"/certificates/", "digital", "u-1", "scan.tar.gz", `^certificates/digital-1717236000123-u-1-[0-9a-f]{8}\.gz$`},
		{"", "file", "u-2", "noext", `^file-1717236000123-u-2-[0-9a-f]{8}$`},
		{"uploads", "file", "u-2", "evil.p/hp", `^uploads/file-1717236000123-u-2-[0-9a-f]{8}$`},
	}
	for _, tt := range tests {
		got := ObjectKey(tt.prefix, tt.purpose, tt.owner, tt.filename, now)
		if !regexp.MustCompile(tt.want).MatchString(got) {
			t.Fatalf("ObjectKey(%q, %q, %q, %q) = %q, want match for %s", tt.prefix, tt.purpose, tt.owner, tt.filename, got, tt.want)
		}
	}
}

func TestObjectKeyUniqueWithinMillisecond(t *testing.T) {
	now := time.UnixMilli(1717236000123)
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		key := ObjectKey("certificates", "smile", "u-1", "photo.jpg", now)
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate key %s", key)
		}
		seen[key] = struct{}{}
	}
}

func TestStripQuery(t *testing.T) {
	tests := map[string]string{
		"https://s3.local/b/certificates/a.jpg?X-Amz-Signature=abc": "https://s3.local/b/certificates/a.jpg",
		"https://s3.local/b/a.jpg#frag":                             "https://s3.local/b/a.jpg",
		"https://s3.local/b/a.jpg":                                  "https://s3.local/b/a.jpg",
	}
	for in, want := range tests {
		if got := StripQuery(in); got != want {
			t.Fatalf("StripQuery(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKeyFromLink(t *testing.T) {
	tests := []struct {
		link, bucket, name string
		want               string
	}{
		{"https://minio.local:9000/certs/certificates/smile-1-u.jpg", "certs", "x", "certificates/smile-1-u.jpg"},
		{"https://certs.s3.eu-west-1.amazonaws.com/certificates/smile-1-u.jpg", "certs", "x", "certificates/smile-1-u.jpg"},
		{"https://storage.example.net/certificates/a%20b.jpg", "", "x", "certificates/a b.jpg"},
		{"not a url", "certs", "smile-1-u.jpg", "certificates/smile-1-u.jpg"},
		{"", "certs", "old.png", "certificates/old.png"},
	}
	for _, tt := range tests {
		if got := KeyFromLink(tt.link, tt.bucket, tt.name); got != tt.want {
			t.Fatalf("KeyFromLink(%q) = %q, want %q", tt.link, got, tt.want)
		}
	}
}

func TestMinioPresignedLinkRoundTrip(t *testing.T) {
	store, err := NewMinioStore(config.StorageConfig{
		Endpoint:   "minio.local:9000",
		AccessKey:  "minio",
		SecretKey:  "minio-secret",
		Bucket:     "certs",
		PresignTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	signed, err := store.presign(context.Background(), "certificates/smile-1-u.jpg")
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(signed, "X-Amz-Signature=") {
		t.Fatalf("expected signed url, got %s", signed)
	}
	link := StripQuery(signed)
	if link != "http://minio.local:9000/certs/certificates/smile-1-u.jpg" {
		t.Fatalf("unexpected canonical link %s", link)
	}
	if key := KeyFromLink(link, store.Bucket(), "x"); key != "certificates/smile-1-u.jpg" {
		t.Fatalf("unexpected key %s", key)
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore("https://mem.local/b")
	ctx := context.Background()

	u, err := m.Put(ctx, "k/1", strings.NewReader("data"), 4, "text/plain")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if StripQuery(u) != "https://mem.local/b/k/1" || !m.Has("k/1") {
		t.Fatalf("unexpected put result %s", u)
	}

	m.DeleteErr = func(string) error { return errors.New("denied") }
	if err := m.Delete(ctx, "k/1"); !errors.Is(err, ErrDeleteFailed) {
		t.Fatalf("expected ErrDeleteFailed, got %v", err)
	}
	m.DeleteErr = nil
	if err := m.Delete(ctx, "k/1"); err != nil || m.Has("k/1") {
		t.Fatalf("delete: %v", err)
	}
}
