package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultAPIBase is the blob HTTP API used when none is configured.
const DefaultAPIBase = "https://api.vercel.com/v1/blob"

// apiKeyPrefix is the path segment the API puts in front of object keys in
// the URLs it hands back.
const apiKeyPrefix = "/v1/blob/"

// maxErrorBody caps how much of a failed response is echoed in the error.
const maxErrorBody = 4 << 10

// HTTPConfig configures an HTTPStore.
type HTTPConfig struct {
	APIBase string
	Token   string
	// Client defaults to a client with a 30 second timeout.
	Client *http.Client
}

// HTTPStore stores objects through a bearer-token HTTP API:
// PUT {apiBase}/{key} with the raw bytes, DELETE {apiBase}/{key}.
type HTTPStore struct {
	apiBase string
	token   string
	client  *http.Client
}

// NewHTTPStore returns a store for cfg.
func NewHTTPStore(cfg HTTPConfig) *HTTPStore {
	base := cfg.APIBase
	if base == "" {
		base = DefaultAPIBase
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPStore{
		apiBase: strings.TrimRight(base, "/"),
		token:   cfg.Token,
		client:  client,
	}
}

func (s *HTTPStore) objectURL(key string) string {
	return s.apiBase + "/" + strings.TrimLeft(key, "/")
}

// Put reads localPath fully and uploads it under targetKey.
func (s *HTTPStore) Put(ctx context.Context, targetKey, localPath string) PutResult {
	if s.token == "" {
		return putFailure("no blob token configured")
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return putFailure(err.Error())
	}

	target := s.objectURL(targetKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return putFailure(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return putFailure(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return putFailure(httpError(resp))
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return putFailure(fmt.Sprintf("decode response: %v", err))
	}
	if body.URL == "" {
		return PutResult{Success: true, URL: target}
	}
	return PutResult{Success: true, URL: body.URL}
}

// Delete removes the object named by keyOrURL.
func (s *HTTPStore) Delete(ctx context.Context, keyOrURL string) DeleteResult {
	if s.token == "" {
		return deleteFailure("no blob token configured")
	}

	key := KeyFromURL(keyOrURL, apiKeyPrefix)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(key), nil)
	if err != nil {
		return deleteFailure(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return deleteFailure(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return deleteFailure(httpError(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return DeleteResult{Success: true}
}

func httpError(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(b))
}
