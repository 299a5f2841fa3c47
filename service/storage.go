package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"CharacterReel-server/logging"
)

// MinioOptions configures a MinioStore.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL is the non-expiring base that object URLs are built on.
	// Required: persisted artifact URLs must not expire.
	PublicBaseURL string
}

// MinioStore is the durable object store for every artifact the pipeline
// keeps: uploads, styled characters, scene images, clips and playlists.
type MinioStore struct {
	client *minio.Client
	opts   MinioOptions
	log    *slog.Logger

	bucketMu    sync.Mutex
	bucketReady bool
}

func NewMinioStore(opts MinioOptions, log *slog.Logger) (*MinioStore, error) {
	if opts.PublicBaseURL == "" {
		return nil, fmt.Errorf("init minio client: public base url is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	return &MinioStore{
		client: client,
		opts:   opts,
		log:    logging.WithComponent(logging.OrDefault(log), "storage"),
	}, nil
}

// ensureBucket creates the bucket on first use. A failed check is retried
// on the next call.
func (s *MinioStore) ensureBucket(ctx context.Context) error {
	s.bucketMu.Lock()
	defer s.bucketMu.Unlock()
	if s.bucketReady {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.opts.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if err := s.client.SetBucketPolicy(ctx, s.opts.Bucket, publicReadPolicy(s.opts.Bucket)); err != nil {
			return fmt.Errorf("set bucket policy: %w", err)
		}
		s.log.Info("bucket created", slog.String("bucket", s.opts.Bucket))
	}
	s.bucketReady = true
	return nil
}

// ContentTypeFor guesses a content type from the object name.
func ContentTypeFor(objectName string) string {
	switch strings.ToLower(filepath.Ext(objectName)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

// Put uploads data under key and returns a URL for it.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	_, err := s.client.PutObject(ctx, s.opts.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload to minio failed: %w", err)
	}
	s.log.Debug("object stored", slog.String("key", key), slog.Int("bytes", len(data)))
	return s.URL(key), nil
}

// URL returns the public URL of key.
func (s *MinioStore) URL(key string) string {
	return ObjectURL(s.opts.PublicBaseURL, s.opts.Bucket, key)
}

// ObjectURL joins a public base, bucket and object key.
func ObjectURL(base, bucket, key string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + strings.TrimLeft(key, "/")
}

// publicReadPolicy allows anonymous GetObject on every key in bucket.
func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.opts.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object failed: %w", err)
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object failed: %w", err)
	}
	return b, nil
}
