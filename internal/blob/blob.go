// Package blob talks to the external object store holding event images.
//
// Store implementations never return Go errors: every failure comes back in
// the result so callers can decide between the local-disk fallback and
// failing the request.
package blob

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// KeyPrefix is the folder every uploaded image key lives under.
const KeyPrefix = "images/"

// PutResult is the outcome of an upload.
type PutResult struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Error   string `json:"error,omitempty"`
}

// DeleteResult is the outcome of a delete.
type DeleteResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Store uploads and deletes image objects.
type Store interface {
	// Put uploads the file at localPath under targetKey.
	Put(ctx context.Context, targetKey, localPath string) PutResult
	// Delete removes an object given its key or the URL Put returned.
	Delete(ctx context.Context, keyOrURL string) DeleteResult
}

func putFailure(msg string) PutResult       { return PutResult{Error: msg} }
func deleteFailure(msg string) DeleteResult { return DeleteResult{Error: msg} }

var urlPattern = regexp.MustCompile(`(?i)^https?://`)

// IsURL reports whether s is an http(s) URL.
func IsURL(s string) bool { return urlPattern.MatchString(s) }

// KeyFromURL turns a stored image reference back into an object key. Plain
// keys pass through. For URLs the key is whatever follows prefix; when the
// prefix is absent it falls back to images/<basename of the URL path>.
func KeyFromURL(keyOrURL, prefix string) string {
	if !IsURL(keyOrURL) {
		return strings.TrimPrefix(keyOrURL, "/")
	}
	if prefix != "" {
		if i := strings.Index(keyOrURL, prefix); i >= 0 {
			if key := keyOrURL[i+len(prefix):]; key != "" {
				return key
			}
		}
	}
	u, err := url.Parse(keyOrURL)
	if err != nil {
		return keyOrURL
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return keyOrURL
	}
	return KeyPrefix + base
}

// Disabled is the Store used when no backend is configured. Every call fails,
// which sends uploads down the local-storage path.
type Disabled struct{}

const disabledMsg = "blob storage is not configured"

func (Disabled) Put(context.Context, string, string) PutResult { return putFailure(disabledMsg) }
func (Disabled) Delete(context.Context, string) DeleteResult  { return deleteFailure(disabledMsg) }
