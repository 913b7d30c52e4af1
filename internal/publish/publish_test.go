package publish

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/velocity.piv/internal/config"
	"github.com/banshee-data/velocity.piv/internal/evaluation"
	"github.com/banshee-data/velocity.piv/internal/fsutil"
)

type putCall struct {
	bucket, key string
	body        string
	opts        minio.PutObjectOptions
}

type fakeStore struct {
	mu      sync.Mutex
	buckets map[string]bool
	puts    []putCall
	putErr  error
}

func (s *fakeStore) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if s.putErr != nil {
		return minio.UploadInfo{}, s.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, putCall{bucket: bucket, key: object, body: string(b), opts: opts})
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func (s *fakeStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets[bucket], nil
}

func (s *fakeStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets == nil {
		s.buckets = map[string]bool{}
	}
	s.buckets[bucket] = true
	return nil
}

func TestKey(t *testing.T) {
	t.Parallel()

	p := New(&fakeStore{}, "piv", "runs/2026")
	tests := []struct {
		in, want string
	}{
		{"vec0001.jvc", "runs/2026/vec0001.jvc"},
		{"out/vec.jvc", "runs/2026/out/vec.jvc"},
		{"/data/out/vec.jvc", "runs/2026/data/out/vec.jvc"},
		{"../../vec.jvc", "runs/2026/vec.jvc"},
		{"./a/../b.jvc", "runs/2026/b.jvc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Key(tt.in), tt.in)
	}
	assert.Equal(t, "b.jvc", New(&fakeStore{}, "piv", "").Key("b.jvc"))
}

func TestAppend_UploadsFile(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	fsys.WriteFile("out/vec01.jvc", []byte("8 8 0.5 0.25 3.2\n"))
	store := &fakeStore{}
	p := New(store, "piv", "mirror", WithFileSystem(fsys))

	err := p.Append(context.Background(), evaluation.Output{
		Path: "out/vec01.jvc", Kind: "evaluation", FrameA: "a.tif", FrameB: "b.tif", Vectors: 1,
	})
	require.NoError(t, err)
	require.Len(t, store.puts, 1)
	got := store.puts[0]
	assert.Equal(t, "piv", got.bucket)
	assert.Equal(t, "mirror/out/vec01.jvc", got.key)
	assert.Equal(t, "8 8 0.5 0.25 3.2\n", got.body)
	assert.Equal(t, "text/plain", got.opts.ContentType)
	assert.Equal(t, "evaluation", got.opts.UserMetadata["kind"])
	assert.Equal(t, "a.tif", got.opts.UserMetadata["frame-a"])
	assert.Equal(t, "1", got.opts.UserMetadata["vectors"])
}

func TestAppend_Errors(t *testing.T) {
	t.Parallel()

	fsys := fsutil.NewMemoryFileSystem()
	p := New(&fakeStore{}, "piv", "", WithFileSystem(fsys))
	assert.Error(t, p.Append(context.Background(), evaluation.Output{Path: "missing.jvc"}))

	fsys.WriteFile("x.jvc", []byte("1"))
	failing := New(&fakeStore{putErr: errors.New("connection refused")}, "piv", "", WithFileSystem(fsys))
	err := failing.Append(context.Background(), evaluation.Output{Path: "x.jvc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "piv/x.jvc")

	// Through a MultiSink the failure is reported but other sinks still run.
	var seen int
	sink := evaluation.MultiSink{failing, evaluation.SinkFunc(func(context.Context, evaluation.Output) error {
		seen++
		return nil
	})}
	assert.Error(t, sink.Append(context.Background(), evaluation.Output{Path: "x.jvc"}))
	assert.Equal(t, 1, seen)
}

func TestEnsureBucket(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	p := New(store, "piv", "")
	require.NoError(t, p.EnsureBucket(context.Background()))
	assert.True(t, store.buckets["piv"])
	require.NoError(t, p.EnsureBucket(context.Background()))
}

func TestFromConfig(t *testing.T) {
	p, err := FromConfig(&config.PublishConfig{})
	require.NoError(t, err)
	assert.Nil(t, p)

	endpoint, bucket := "localhost:9000", "piv"
	insecure := false
	cfg := &config.PublishConfig{Endpoint: &endpoint, Bucket: &bucket, Secure: &insecure}

	t.Setenv("PIV_S3_ACCESS_KEY", "")
	t.Setenv("PIV_S3_SECRET_KEY", "")
	_, err = FromConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PIV_S3_ACCESS_KEY")

	t.Setenv("PIV_S3_ACCESS_KEY", "minioadmin")
	t.Setenv("PIV_S3_SECRET_KEY", "minioadmin")
	p, err = FromConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "piv", p.bucket)
}
