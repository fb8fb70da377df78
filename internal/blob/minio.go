package blob

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures a MinioStore.
type MinioConfig struct {
	Endpoint  string // "minio:9000" or "https://s3.example.com"
	AccessKey string
	SecretKey string
	Bucket    string
	// PublicURL is the base used to build object URLs. Defaults to the endpoint.
	PublicURL string
}

// MinioStore stores objects in an S3-compatible bucket.
type MinioStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		secure = (u.Scheme == "https")
		return u.Host, secure, nil
	}

	// No scheme: host:port, plain HTTP.
	return raw, false, nil
}

// NewMinioStore connects to the endpoint and checks that the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("minio bucket does not exist: %s", cfg.Bucket)
	}

	return &MinioStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: publicBase(cfg.PublicURL, endpoint, secure),
	}, nil
}

func publicBase(configured, endpoint string, secure bool) string {
	if configured != "" {
		return strings.TrimRight(configured, "/")
	}
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}

func (s *MinioStore) objectURL(key string) string {
	return s.publicURL + "/" + s.bucket + "/" + key
}

// Put uploads localPath under targetKey with a content type guessed from the
// file extension.
func (s *MinioStore) Put(ctx context.Context, targetKey, localPath string) PutResult {
	key := strings.TrimLeft(targetKey, "/")
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(localPath)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return putFailure(err.Error())
	}
	return PutResult{Success: true, URL: s.objectURL(key)}
}

// Delete removes the object named by keyOrURL.
func (s *MinioStore) Delete(ctx context.Context, keyOrURL string) DeleteResult {
	key := KeyFromURL(keyOrURL, "/"+s.bucket+"/")
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return deleteFailure(err.Error())
	}
	return DeleteResult{Success: true}
}
