package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joseph-ayodele/docextract/internal/common"
)

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Source reads documents from an S3-compatible bucket. Refs are object keys.
type S3Source struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

func NewS3Source(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: bucket %s", common.ErrNotFound, cfg.Bucket)
	}

	logger.Info("s3 document source ready", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return &S3Source{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (s *S3Source) Read(ctx context.Context, ref string) (Document, error) {
	key := strings.TrimPrefix(strings.TrimSpace(ref), "/")
	if key == "" {
		return Document{}, fmt.Errorf("%w: document ref is required", common.ErrInvalidInput)
	}

	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Document{}, s.wrap(ref, err)
	}
	defer object.Close()

	info, err := object.Stat()
	if err != nil {
		return Document{}, s.wrap(ref, err)
	}

	buf := bytes.NewBuffer(make([]byte, 0, info.Size))
	if _, err := buf.ReadFrom(object); err != nil {
		return Document{}, s.wrap(ref, err)
	}
	return newDocument(ref, buf.Bytes(), info.ContentType), nil
}

func (s *S3Source) List(ctx context.Context, prefix string) ([]string, error) {
	var refs []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    strings.TrimPrefix(prefix, "/"),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		if IsHidden(obj.Key) || !Allowed(obj.Key) {
			continue
		}
		refs = append(refs, obj.Key)
	}
	sort.Strings(refs)
	return refs, nil
}

func (s *S3Source) wrap(ref string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: document %s", common.ErrNotFound, ref)
	}
	s.logger.Error("failed to get object from S3", "document_ref", ref, "bucket", s.bucket, "error", err)
	return fmt.Errorf("failed to get object from S3: %w", err)
}
