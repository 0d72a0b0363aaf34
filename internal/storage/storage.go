// Package storage resolves public URLs for objects the pipeline uploads
// (screenshots, recordings). The bucket is public, so no signing is
// involved.
package storage

import (
	"fmt"
	"strings"
)

// Resolver builds public object URLs from a base endpoint and bucket.
type Resolver struct {
	baseURL string
	bucket  string
}

// NewResolver creates a resolver. Trailing slashes on baseURL are
// tolerated.
func NewResolver(baseURL, bucket string) *Resolver {
	return &Resolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		bucket:  bucket,
	}
}

// PublicURL returns the public URL for fileName. Absolute inputs pass
// through unchanged so rows that already store full URLs keep working.
func (r *Resolver) PublicURL(fileName string) string {
	if fileName == "" {
		return ""
	}
	if strings.HasPrefix(fileName, "http://") || strings.HasPrefix(fileName, "https://") {
		return fileName
	}
	return fmt.Sprintf("%s/%s/%s", r.baseURL, r.bucket, strings.TrimLeft(fileName, "/"))
}
