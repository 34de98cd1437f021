package objectstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adlift-labs/adlift-go/internal/platform/env"
)

type Config struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	Region          string
	UseSSL          bool
	BucketCreatives string
	PresignTTL      time.Duration
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("ADLIFT_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	presignTTL, err := env.Duration("ADLIFT_MINIO_PRESIGN_TTL", 15*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:        env.String("ADLIFT_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:       env.String("ADLIFT_MINIO_ACCESS_KEY", "adlift"),
		SecretKey:       env.String("ADLIFT_MINIO_SECRET_KEY", "adliftminio"),
		Region:          env.String("ADLIFT_MINIO_REGION", "us-east-1"),
		UseSSL:          useSSL,
		BucketCreatives: env.String("ADLIFT_MINIO_BUCKET_CREATIVES", "creatives"),
		PresignTTL:      presignTTL,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketCreatives) == "" {
		return errors.New("creatives bucket is required")
	}
	if c.PresignTTL <= 0 {
		return errors.New("presign ttl must be positive")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
