package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	mio "github.com/you-humble/amazonmain/core/libs/minio"

	"github.com/minio/minio-go/v7"
)

const (
	metaSHA256 = "sha256"
	metaRun    = "run"
)

// minioReplica is the bucket side of the results store. Every finished image
// is uploaded with its sha256 and the run directory it belongs to as object
// metadata, so a copy can be verified without downloading it.
type minioReplica struct {
	db          *minio.Client
	bucket      string
	basePath    string
	contentType string
}

func NewMinIOReplica(ctx context.Context, cfg mio.Config, contentType string) (*minioReplica, error) {
	mioClient, err := mio.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	basePath := strings.Trim(cfg.BasePath, "/")
	if basePath != "" {
		basePath += "/"
	}

	return &minioReplica{
		db:          mioClient,
		bucket:      cfg.Bucket,
		basePath:    basePath,
		contentType: contentType,
	}, nil
}

// SaveChecked uploads an image. When sum is set the received bytes must hash
// to it; a mismatching object is removed again so no corrupt copy survives.
func (s *minioReplica) SaveChecked(
	ctx context.Context,
	reader io.Reader,
	filename string,
	size int64,
	sum string,
) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	objectName, err := s.objectName(filename)
	if err != nil {
		return 0, err
	}

	hasher := sha256.New()
	if size <= 0 {
		size = -1
	}

	info, err := s.db.PutObject(ctx, s.bucket, objectName, io.TeeReader(reader, hasher), size, minio.PutObjectOptions{
		ContentType:  s.contentType,
		UserMetadata: imageMetadata(filename, sum),
	})
	if err != nil {
		return 0, fmt.Errorf("put image: %w", err)
	}

	if got := hex.EncodeToString(hasher.Sum(nil)); sum != "" && got != sum {
		if rerr := s.db.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); rerr != nil {
			return 0, fmt.Errorf("checksum mismatch for %s (want %s, got %s); remove: %w", filename, sum, got, rerr)
		}
		return 0, fmt.Errorf("checksum mismatch for %s: want %s, got %s", filename, sum, got)
	}

	return info.Size, nil
}

// Checksum reads the sha256 recorded at upload time.
func (s *minioReplica) Checksum(ctx context.Context, filename string) (string, bool, error) {
	objectName, err := s.objectName(filename)
	if err != nil {
		return "", false, err
	}

	st, err := s.db.StatObject(ctx, s.bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == minio.NoSuchKey {
			return "", false, nil
		}
		return "", false, fmt.Errorf("stat image: %w", err)
	}

	sum := metadataValue(st.UserMetadata, metaSHA256)
	return sum, sum != "", nil
}

func (s *minioReplica) Open(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	objectName, err := s.objectName(filename)
	if err != nil {
		return nil, 0, err
	}

	obj, err := s.db.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get image: %w", err)
	}

	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == minio.NoSuchKey {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return nil, 0, fmt.Errorf("stat image: %w", err)
	}

	return obj, st.Size, nil
}

func (s *minioReplica) Delete(ctx context.Context, filename string) error {
	objectName, err := s.objectName(filename)
	if err != nil {
		return err
	}

	err = s.db.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
	var merr minio.ErrorResponse
	if err != nil && !(errors.As(err, &merr) && merr.Code == minio.NoSuchKey) {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

// CleanupOlderThan removes images uploaded before now-maxAge. Listing errors
// on single objects are skipped.
func (s *minioReplica) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)

	for obj := range s.db.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.basePath,
		Recursive: true,
	}) {
		if obj.Err != nil || !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := s.db.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove expired image %s: %w", obj.Key, err)
		}
	}

	return nil
}

func (s *minioReplica) objectName(filename string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("empty filename")
	}

	clean := path.Clean(filename)
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid filename: %s", filename)
	}

	return s.basePath + strings.TrimLeft(clean, "/"), nil
}

// imageMetadata builds the user metadata of an uploaded image. The run is the
// directory a result was written under; images at the top level have none.
func imageMetadata(filename, sum string) map[string]string {
	meta := map[string]string{}
	if sum != "" {
		meta[metaSHA256] = sum
	}
	clean := strings.TrimLeft(path.Clean(filename), "/")
	if dir := path.Dir(clean); dir != "." {
		meta[metaRun] = strings.SplitN(dir, "/", 2)[0]
	}
	return meta
}

// metadataValue looks a key up in metadata returned by the server, which
// comes back canonicalised ("Sha256") and sometimes still prefixed.
func metadataValue(meta map[string]string, key string) string {
	for k, v := range meta {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if k == key {
			return v
		}
	}
	return ""
}
