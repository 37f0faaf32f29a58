package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/require"

	"github.com/ShoshinNikita/rthumb/rthumb"
)

const testBucket = "test-bucket"

func TestS3Store(t *testing.T) {
	t.Parallel()

	testObjectStore(t, NewS3Store(newFakeS3(), testBucket))
}

func TestS3Store_Put(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	client := newFakeS3()
	store := NewS3Store(client, testBucket)

	err := store.Put(context.Background(), "tmp/a b.png", []byte("x"), rthumb.PutOptions{
		ContentType: "image/png",
		Filename:    "a b.png",
		Metadata:    map[string]string{rthumb.MetadataDigest: "123"},
	})
	r.NoError(err)

	obj := client.objects["tmp/a b.png"]
	r.Equal("image/png", obj.contentType)
	r.Equal("inline; filename=a%20b.png", obj.contentDisposition)
	r.Equal(map[string]*string{"digest": aws.String("123")}, obj.metadata)
}

func TestS3Store_DeletePrefixBatches(t *testing.T) {
	t.Parallel()

	r := require.New(t)
	ctx := context.Background()

	client := newFakeS3()
	store := NewS3Store(client, testBucket)

	for i := range 2500 {
		key := fmt.Sprintf("tmp/%04d.png", i)
		r.NoError(store.Put(ctx, key, nil, rthumb.PutOptions{}))
	}

	r.NoError(store.DeletePrefix(ctx, "tmp/"))
	r.Empty(client.objects)
	// Default batch size is 100.
	r.Equal(25, client.deleteObjectsCalls)
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	r.True(isNotFound(awserr.NewRequestFailure(awserr.New("NotFound", "", nil), http.StatusNotFound, "")))
	r.True(isNotFound(awserr.New(s3.ErrCodeNoSuchKey, "", nil)))
	r.False(isNotFound(awserr.NewRequestFailure(awserr.New("AccessDenied", "", nil), http.StatusForbidden, "")))
	r.False(isNotFound(io.EOF))
}

// fakeS3 implements methods of [s3iface.S3API] used by [S3Store].
type fakeS3 struct {
	s3iface.S3API

	mu                 sync.Mutex
	objects            map[string]fakeS3Object
	deleteObjectsCalls int
}

type fakeS3Object struct {
	data               []byte
	contentType        string
	contentDisposition string
	metadata           map[string]*string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string]fakeS3Object),
	}
}

func notFoundError(code string) error {
	return awserr.NewRequestFailure(awserr.New(code, "not found", nil), http.StatusNotFound, "request-id")
}

func checkBucket(bucket *string) error {
	if aws.StringValue(bucket) != testBucket {
		return awserr.NewRequestFailure(awserr.New(s3.ErrCodeNoSuchBucket, "no such bucket", nil), http.StatusNotFound, "")
	}
	return nil
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	if err := checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, notFoundError("NotFound")
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	if err := checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, notFoundError(s3.ErrCodeNoSuchKey)
	}

	// S3 returns canonicalized metadata keys.
	metadata := make(map[string]*string, len(obj.metadata))
	for k, v := range obj.metadata {
		metadata[http.CanonicalHeaderKey(k)] = v
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
		Metadata:      metadata,
	}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if err := checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.objects[aws.StringValue(in.Key)] = fakeS3Object{
		data:               data,
		contentType:        aws.StringValue(in.ContentType),
		contentDisposition: aws.StringValue(in.ContentDisposition),
		metadata:           in.Metadata,
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	if err := checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.objects, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CopyObjectWithContext(_ aws.Context, in *s3.CopyObjectInput, _ ...request.Option) (*s3.CopyObjectOutput, error) {
	if err := checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	source, err := url.PathUnescape(aws.StringValue(in.CopySource))
	if err != nil {
		return nil, err
	}
	bucket, key, _ := strings.Cut(source, "/")
	if err := checkBucket(&bucket); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[key]
	if !ok {
		return nil, notFoundError(s3.ErrCodeNoSuchKey)
	}
	f.objects[aws.StringValue(in.Key)] = obj
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2PagesWithContext(
	_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option,
) error {

	if err := checkBucket(in.Bucket); err != nil {
		return err
	}

	f.mu.Lock()
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.StringValue(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	f.mu.Unlock()

	slices.Sort(keys)

	// Small pages to check pagination.
	const pageSize = 2

	chunks := slices.Collect(slices.Chunk(keys, pageSize))
	if len(chunks) == 0 {
		fn(&s3.ListObjectsV2Output{}, true)
		return nil
	}
	for i, chunk := range chunks {
		page := &s3.ListObjectsV2Output{}
		for _, key := range chunk {
			page.Contents = append(page.Contents, &s3.Object{Key: aws.String(key)})
		}
		if !fn(page, i == len(chunks)-1) {
			break
		}
	}
	return nil
}

func (f *fakeS3) DeleteObjectsWithContext(_ aws.Context, in *s3.DeleteObjectsInput, _ ...request.Option) (*s3.DeleteObjectsOutput, error) {
	if err := checkBucket(in.Bucket); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleteObjectsCalls++

	out := &s3.DeleteObjectsOutput{}
	for _, obj := range in.Delete.Objects {
		key := aws.StringValue(obj.Key)
		delete(f.objects, key)
		out.Deleted = append(out.Deleted, &s3.DeletedObject{Key: aws.String(key)})
	}
	return out, nil
}
