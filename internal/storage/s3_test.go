package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	if _, err := New(Config{Bucket: "prints"}); err == nil {
		t.Error("expected error without endpoint")
	}
	if _, err := New(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Error("expected error without bucket")
	}
}

func TestPresignedURL(t *testing.T) {
	// With an explicit region the client signs locally without a bucket lookup.
	store, err := New(Config{
		Endpoint:  "localhost:9000",
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "prints",
		Region:    "us-east-1",
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	raw, err := store.PresignedURL(context.Background(), "campusprint/u1/abc-thesis.pdf", 15*time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Host != "localhost:9000" {
		t.Errorf("expected endpoint host, got %q", u.Host)
	}
	if !strings.HasPrefix(u.Path, "/prints/campusprint/u1/") {
		t.Errorf("expected bucket and key in path, got %q", u.Path)
	}
	if u.Query().Get("X-Amz-Expires") != "900" {
		t.Errorf("expected 900s expiry, got %q", u.Query().Get("X-Amz-Expires"))
	}
	if u.Query().Get("X-Amz-Signature") == "" {
		t.Error("expected signature in query")
	}
}
