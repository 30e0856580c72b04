package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNewLocalDir(t *testing.T) {
	_, err := NewLocalDir("")
	assert.Error(t, err)

	_, err = NewLocalDir(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	file := filepath.Join(t.TempDir(), "file")
	writeFile(t, file, "x")
	_, err = NewLocalDir(file)
	assert.Error(t, err)
}

func TestLocalDir_Place(t *testing.T) {
	stage := t.TempDir()
	dest, err := NewLocalDir(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	src := filepath.Join(stage, "mc.7z")
	writeFile(t, src, "new")

	exists, err := dest.Exists(ctx, "mc.7z")
	require.NoError(t, err)
	assert.False(t, exists)

	final, err := dest.Place(ctx, src, "mc.7z")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest.String(), "mc.7z"), final)

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source should be gone after placement")

	exists, err = dest.Exists(ctx, "mc.7z")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalDir_PlaceNeverOverwrites(t *testing.T) {
	stage := t.TempDir()
	dest, err := NewLocalDir(t.TempDir())
	require.NoError(t, err)

	existing := filepath.Join(dest.String(), "mc.7z")
	writeFile(t, existing, "old")
	src := filepath.Join(stage, "mc.7z")
	writeFile(t, src, "new")

	_, err = dest.Place(context.Background(), src, "mc.7z")
	require.Error(t, err)
	assert.True(t, IsCollision(err))

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	_, err = os.Stat(src)
	assert.NoError(t, err, "source must survive a collision")
}

func TestCopyExclusive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.7z")
	dst := filepath.Join(dir, "dst.7z")
	writeFile(t, src, "payload")

	require.NoError(t, copyExclusive(context.Background(), src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	err = copyExclusive(context.Background(), src, dst)
	assert.True(t, IsCollision(err))
}

func TestLocalDir_List(t *testing.T) {
	dest, err := NewLocalDir(t.TempDir())
	require.NoError(t, err)

	writeFile(t, filepath.Join(dest.String(), "mc-01.01.25-1200(1).7z"), "b")
	writeFile(t, filepath.Join(dest.String(), "mc-01.01.25-1200.7z"), "a")
	writeFile(t, filepath.Join(dest.String(), "other-01.01.25-1200.7z"), "c")
	writeFile(t, filepath.Join(dest.String(), "notes.txt"), "d")

	items, err := dest.List(context.Background(), "mc-")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "mc-01.01.25-1200(1).7z", items[0].Key)
	assert.Equal(t, "mc-01.01.25-1200.7z", items[1].Key)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	dest, err := Open(context.Background(), dir, S3Options{})
	require.NoError(t, err)
	assert.IsType(t, &LocalDir{}, dest)

	_, err = Open(context.Background(), "s3://", S3Options{})
	assert.Error(t, err)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("dial tcp: i/o timeout"), true},
		{errors.New("api error SlowDown: reduce your request rate"), true},
		{errors.New("api error AccessDenied: Access Denied"), false},
		{errors.New("api error PreconditionFailed: At least one of the pre-conditions you specified did not hold"), false},
		{errors.New("something odd"), false},
		{context.Canceled, false},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableError(tt.err), "%v", tt.err)
	}
}

func TestWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}

	calls := 0
	var retries []int
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		retries = append(retries, attempt)
	}
	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)

	calls = 0
	err = WithRetry(context.Background(), cfg, func() error {
		calls++
		return errors.New("AccessDenied")
	})
	assert.ErrorContains(t, err, "non-retryable")
	assert.Equal(t, 1, calls)

	calls = 0
	err = WithRetry(context.Background(), cfg, func() error {
		calls++
		return errors.New("i/o timeout")
	})
	assert.ErrorContains(t, err, "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

// fakeS3 is just enough of the S3 REST API for HeadObject, conditional
// PutObject and ListObjectsV2 with path-style addressing.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	switch r.Method {
	case http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		if _, ok := f.objects[key]; ok && r.Header.Get("If-None-Match") == "*" {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusPreconditionFailed)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>PreconditionFailed</Code><Message>At least one of the pre-conditions you specified did not hold</Message></Error>`)
			return
		}
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		prefix := r.URL.Query().Get("prefix")
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>backups</Name><IsTruncated>false</IsTruncated>`)
		for k, v := range f.objects {
			if strings.HasPrefix(k, prefix) {
				fmt.Fprintf(&b, `<Contents><Key>%s</Key><Size>%d</Size><LastModified>2025-01-01T12:00:00.000Z</LastModified></Contents>`, k, len(v))
			}
		}
		b.WriteString(`</ListBucketResult>`)
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, b.String())
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3(t *testing.T) (*fakeS3, *S3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("test", "test", ""),
	})
	dest := NewS3FromClient(client, "backups", "servers/mc").WithRetryConfig(RetryConfig{MaxAttempts: 1})
	return fake, dest
}

func TestS3_PlaceAndCollide(t *testing.T) {
	fake, dest := newFakeS3(t)
	ctx := context.Background()
	assert.Equal(t, "s3://backups/servers/mc", dest.String())

	exists, err := dest.Exists(ctx, "mc.7z")
	require.NoError(t, err)
	assert.False(t, exists)

	src := filepath.Join(t.TempDir(), "mc.7z")
	writeFile(t, src, "archive")

	final, err := dest.Place(ctx, src, "mc.7z")
	require.NoError(t, err)
	assert.Equal(t, "s3://backups/servers/mc/mc.7z", final)
	assert.Contains(t, fake.objects, "servers/mc/mc.7z")

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	exists, err = dest.Exists(ctx, "mc.7z")
	require.NoError(t, err)
	assert.True(t, exists)

	again := filepath.Join(t.TempDir(), "mc.7z")
	writeFile(t, again, "second")
	_, err = dest.Place(ctx, again, "mc.7z")
	require.Error(t, err)
	assert.True(t, IsCollision(err), "got %v", err)

	_, err = os.Stat(again)
	assert.NoError(t, err)
}

func TestS3_List(t *testing.T) {
	fake, dest := newFakeS3(t)
	fake.objects["servers/mc/mc-01.01.25-1200.7z"] = []byte("abc")
	fake.objects["servers/other/x.7z"] = []byte("zz")

	items, err := dest.List(context.Background(), "mc-")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "mc-01.01.25-1200.7z", items[0].Key)
	assert.Equal(t, int64(3), items[0].Size)
}
