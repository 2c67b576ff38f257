// Package storage provides the document blob store. Documents are written
// under {publisher-slug}/{sourceID} keys; the backend is local disk or S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrObjectNotFound is returned when a key has no stored object
var ErrObjectNotFound = errors.New("object not found")

// Store persists raw document blobs by relative key
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Key builds the canonical storage key for a document
func Key(publisher, sourceID string) string {
	return fmt.Sprintf("%s/%s", Slug(publisher), sourceID)
}

// Slug lower-cases a publisher name and collapses non-alphanumerics to
// single dashes
func Slug(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "unknown"
	}
	return s
}
