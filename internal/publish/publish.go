// Package publish mirrors written vector files to an S3-compatible object
// store.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/banshee-data/velocity.piv/internal/config"
	"github.com/banshee-data/velocity.piv/internal/evaluation"
	"github.com/banshee-data/velocity.piv/internal/fsutil"
	"github.com/banshee-data/velocity.piv/internal/monitoring"
)

// ObjectStore is the subset of *minio.Client used by Publisher.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
}

// Publisher uploads every output it is told about. It implements
// evaluation.Sink.
type Publisher struct {
	store  ObjectStore
	bucket string
	prefix string
	fsys   fsutil.FileSystem
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithFileSystem sets where output files are read from.
func WithFileSystem(fsys fsutil.FileSystem) Option {
	return func(p *Publisher) { p.fsys = fsys }
}

// New wraps store. Object keys are the output paths below prefix.
func New(store ObjectStore, bucket, prefix string, opts ...Option) *Publisher {
	p := &Publisher{store: store, bucket: bucket, prefix: prefix, fsys: fsutil.OSFileSystem{}}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FromConfig connects to the configured endpoint. Credentials come from
// the environment variables named in cfg. It returns nil when no endpoint
// is configured.
func FromConfig(cfg *config.PublishConfig, opts ...Option) (*Publisher, error) {
	if cfg.GetEndpoint() == "" {
		return nil, nil
	}
	access := os.Getenv(cfg.GetAccessKeyEnv())
	secret := os.Getenv(cfg.GetSecretKeyEnv())
	if access == "" || secret == "" {
		return nil, fmt.Errorf("publish: credentials not set, export %s and %s",
			cfg.GetAccessKeyEnv(), cfg.GetSecretKeyEnv())
	}
	client, err := minio.New(cfg.GetEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.GetSecure(),
	})
	if err != nil {
		return nil, fmt.Errorf("publish: connect to %s: %w", cfg.GetEndpoint(), err)
	}
	return New(client, cfg.GetBucket(), cfg.GetPrefix(), opts...), nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (p *Publisher) EnsureBucket(ctx context.Context) error {
	ok, err := p.store.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("publish: check bucket %s: %w", p.bucket, err)
	}
	if ok {
		return nil
	}
	monitoring.Logf("publish: creating bucket %s", p.bucket)
	if err := p.store.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("publish: create bucket %s: %w", p.bucket, err)
	}
	return nil
}

// Key returns the object key for a local output path.
func (p *Publisher) Key(name string) string {
	name = filepath.ToSlash(filepath.Clean(name))
	for {
		switch {
		case strings.HasPrefix(name, "/"):
			name = name[1:]
		case strings.HasPrefix(name, "../"):
			name = name[3:]
		default:
			return path.Join(p.prefix, name)
		}
	}
}

// Append uploads out.Path. It implements evaluation.Sink.
func (p *Publisher) Append(ctx context.Context, out evaluation.Output) error {
	r, err := p.fsys.Open(out.Path)
	if err != nil {
		return fmt.Errorf("publish %s: %w", out.Path, err)
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return fmt.Errorf("publish %s: %w", out.Path, err)
	}

	key := p.Key(out.Path)
	meta := map[string]string{
		"kind":    out.Kind,
		"vectors": strconv.Itoa(out.Vectors),
		"invalid": strconv.Itoa(out.Invalid),
	}
	if out.FrameA != "" {
		meta["frame-a"] = out.FrameA
	}
	if out.FrameB != "" {
		meta["frame-b"] = out.FrameB
	}
	info, err := p.store.PutObject(ctx, p.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/plain", UserMetadata: meta})
	if err != nil {
		return fmt.Errorf("publish %s to %s/%s: %w", out.Path, p.bucket, key, err)
	}
	monitoring.Debugf("publish: %s -> %s/%s (%d bytes)", out.Path, p.bucket, key, info.Size)
	return nil
}
