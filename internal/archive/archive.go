// Package archive uploads finalized run bundles to S3-compatible object
// storage (MinIO, S3, R2). Each bundle file becomes one object under
// <prefix>/<run-id>/<file>.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver stores a finalized bundle and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, runID uuid.UUID, dir string) (string, error)
}

// Config configures the MinIO archiver.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// MinIO uploads bundles with minio-go.
type MinIO struct {
	mc     *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

var _ Archiver = (*MinIO)(nil)

// New creates a MinIO archiver. It does not contact the server; the bucket
// is checked on first upload.
func New(logger *slog.Logger, cfg Config) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("archive: endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("archive: access key and secret key are required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: create client: %w", err)
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "shirabe-bundles"
	}
	return &MinIO{mc: mc, bucket: bucket, prefix: strings.Trim(cfg.Prefix, "/"), logger: logger}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.mc.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("archive: check bucket: %w", err)
	}
	if !exists {
		if err := m.mc.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("archive: create bucket: %w", err)
		}
		m.logger.Info("archive: created bucket", "bucket", m.bucket)
	}
	return nil
}

// Archive uploads every regular file in dir. The manifest is uploaded last
// so a reader that sees it can trust the rest of the bundle is present.
func (m *MinIO) Archive(ctx context.Context, runID uuid.UUID, dir string) (string, error) {
	if err := m.EnsureBucket(ctx); err != nil {
		return "", err
	}
	files, err := bundleFiles(dir)
	if err != nil {
		return "", err
	}
	base := objectPrefix(m.prefix, runID)
	for _, name := range files {
		key := path.Join(base, name)
		if _, err := m.mc.FPutObject(ctx, m.bucket, key, filepath.Join(dir, name), minio.PutObjectOptions{
			ContentType: contentType(name),
		}); err != nil {
			return "", fmt.Errorf("archive: upload %s: %w", key, err)
		}
	}
	uri := fmt.Sprintf("s3://%s/%s/", m.bucket, base)
	m.logger.Info("archive: bundle uploaded", "run_id", runID, "uri", uri, "files", len(files))
	return uri, nil
}

// ObjectKeys lists the keys archived for runID.
func (m *MinIO) ObjectKeys(ctx context.Context, runID uuid.UUID) ([]string, error) {
	var keys []string
	for obj := range m.mc.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    objectPrefix(m.prefix, runID) + "/",
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("archive: list objects: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func objectPrefix(prefix string, runID uuid.UUID) string {
	if prefix == "" {
		return runID.String()
	}
	return prefix + "/" + runID.String()
}

// manifestName matches bundle.FileManifest without importing the bundle
// package.
const manifestName = "manifest.json"

// bundleFiles returns the regular files in dir with the manifest last.
// Temporary files left by interrupted writes are skipped.
func bundleFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("archive: read bundle: %w", err)
	}
	var files []string
	hasManifest := false
	for _, e := range entries {
		name := e.Name()
		switch {
		case !e.Type().IsRegular(), strings.HasPrefix(name, "."), strings.HasSuffix(name, ".tmp"):
			continue
		case name == manifestName:
			hasManifest = true
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	if hasManifest {
		files = append(files, manifestName)
	}
	return files, nil
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".jsonl":
		return "application/x-ndjson"
	case ".md":
		return "text/markdown; charset=utf-8"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
