package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketCreatives)
	if err != nil {
		return fmt.Errorf("creatives bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, cfg.BucketCreatives, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("make creatives bucket: %w", err)
	}
	return nil
}

func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketCreatives)
	if err != nil {
		return fmt.Errorf("creatives bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("creatives bucket missing: %s", cfg.BucketCreatives)
	}
	return nil
}

// Signer issues short-lived download URLs for creative assets. The ad
// platform fetches the asset over this URL during creative upload.
type Signer struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

func NewSigner(client *minio.Client, cfg Config) (*Signer, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Signer{
		client: client,
		bucket: cfg.BucketCreatives,
		ttl:    cfg.PresignTTL,
	}, nil
}

func (s *Signer) SignedAssetURL(ctx context.Context, objectKey string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("signer not initialized")
	}
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return "", errors.New("object key is required")
	}
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, s.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign asset %s: %w", objectKey, err)
	}
	return signed.String(), nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
