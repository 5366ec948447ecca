package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObject struct {
	data  []byte
	mtime time.Time
}

// memS3 is a single-bucket in-memory stand-in for the S3 API.
type memS3 struct {
	mu      sync.Mutex
	objects map[string]memObject
	parts   map[string]map[int32][]byte
	now     time.Time
}

func newMemS3() *memS3 {
	return &memS3{
		objects: make(map[string]memObject),
		parts:   make(map[string]map[int32][]byte),
		now:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memS3) put(key string, data []byte) {
	m.now = m.now.Add(time.Second)
	m.objects[key] = memObject{data: data, mtime: m.now}
}

func notFound() error { return &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"} }

func (m *memS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (m *memS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if n := aws.ToInt32(in.MaxKeys); n > 0 && len(keys) > int(n) {
		keys = keys[:n]
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false), KeyCount: aws.Int32(int32(len(keys)))}
	for _, k := range keys {
		o := m.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(o.data))),
			LastModified: aws.Time(o.mtime),
			ETag:         aws.String(`"etag"`),
		})
	}
	return out, nil
}

func (m *memS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound"}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(o.data))),
		LastModified:  aws.Time(o.mtime),
		ETag:          aws.String(`"etag"`),
	}, nil
}

func (m *memS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, notFound()
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(o.data))}, nil
}

func (m *memS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(aws.ToString(in.Key), data)
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *memS3) DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range in.Delete.Objects {
		delete(m.objects, aws.ToString(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (m *memS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("upload-%d", len(m.parts)+1)
	m.parts[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (m *memS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := aws.ToInt32(in.PartNumber)
	m.parts[aws.ToString(in.UploadId)][n] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("part-%d", n))}, nil
}

func (m *memS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.parts[aws.ToString(in.UploadId)]
	var buf bytes.Buffer
	for _, part := range in.MultipartUpload.Parts {
		buf.Write(stored[aws.ToInt32(part.PartNumber)])
	}
	m.put(aws.ToString(in.Key), buf.Bytes())
	delete(m.parts, aws.ToString(in.UploadId))
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (m *memS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.parts, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestListFilesDerivesFolders(t *testing.T) {
	mem := newMemS3()
	mem.put("vault/a.md", []byte("a"))
	mem.put("vault/sub/deep/b.md", []byte("b"))
	mem.put("vault/empty/", nil)
	mem.put("other/c.md", []byte("c"))

	p := newWithClient("s3", "bucket", mem)
	entries, err := p.ListFiles(t.Context(), "vault")
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		suffix := ""
		if e.IsFolder {
			suffix = "/"
		}
		paths = append(paths, e.Path+suffix)
	}
	assert.Equal(t, []string{
		"vault/a.md",
		"vault/empty/",
		"vault/sub/",
		"vault/sub/deep/",
		"vault/sub/deep/b.md",
	}, paths)
}

func TestUploadStatDownloadDelete(t *testing.T) {
	ctx := t.Context()
	mem := newMemS3()
	p := newWithClient("s3", "bucket", mem)
	require.NoError(t, p.Connect(ctx))

	e, err := p.UploadFile(ctx, "vault/a.md", []byte("hello"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, e.Size)
	assert.Equal(t, "etag", e.ETag)
	assert.False(t, e.ModifiedTime.IsZero())

	content, err := p.DownloadFileContent(ctx, "vault/a.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	_, err = p.DownloadFileContent(ctx, "vault/missing.md")
	assert.ErrorIs(t, err, provider.ErrNotFound)

	ok, err := p.FolderExists(ctx, "vault")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, p.DeleteFile(ctx, "vault/a.md"))
	ok, err = p.FolderExists(ctx, "vault")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMultipartUpload(t *testing.T) {
	mem := newMemS3()
	p := newWithClient("s3", "bucket", mem)
	p.multipartThreshold = 10
	p.partSize = 4

	content := []byte("0123456789abcdefghij-")
	_, err := p.UploadFile(t.Context(), "big.bin", content)
	require.NoError(t, err)
	assert.Equal(t, content, mem.objects["big.bin"].data)
	assert.Empty(t, mem.parts)
}

func TestDeleteFolderRemovesPrefix(t *testing.T) {
	mem := newMemS3()
	mem.put("vault/old/", nil)
	mem.put("vault/old/a.md", nil)
	mem.put("vault/older.md", nil)

	p := newWithClient("s3", "bucket", mem)
	require.NoError(t, p.DeleteFolder(t.Context(), "vault/old"))
	assert.Len(t, mem.objects, 1)
	assert.Contains(t, mem.objects, "vault/older.md")

	assert.ErrorIs(t, p.DeleteFolder(t.Context(), ""), provider.ErrNotSupported)
	assert.ErrorIs(t, p.CreateFolder(t.Context(), "x"), provider.ErrNotSupported)
}

func TestClientDoesNotRetryItself(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	p, err := New(t.Context(), "s3", config.S3Config{
		Bucket:    "vault",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "key",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	err = p.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, provider.IsTransient(err), "%v", err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestClassify(t *testing.T) {
	cases := map[string]error{
		"NoSuchKey":    provider.ErrNotFound,
		"AccessDenied": provider.ErrAuth,
		"SlowDown":     provider.ErrTransient,
	}
	for code, want := range cases {
		err := classify("op", "k", &smithy.GenericAPIError{Code: code})
		assert.ErrorIs(t, err, want, code)
	}
	assert.Equal(t, provider.KindUnknown, provider.KindOf(classify("op", "k", fmt.Errorf("boom"))))
}
