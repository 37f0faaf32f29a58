package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/ShoshinNikita/rthumb/pkg/metrics"
	"github.com/ShoshinNikita/rthumb/rthumb"
)

// defaultEndpointRegion is used to sign requests to custom endpoints without region.
const defaultEndpointRegion = "us-east-1"

// S3Store is an [rthumb.ObjectStore] backed by a single S3 bucket.
type S3Store struct {
	client      s3iface.S3API
	bucket      string
	batchDelete *s3manager.BatchDelete
}

var _ rthumb.ObjectStore = (*S3Store)(nil)

// NewS3Client builds an S3 client. It doesn't perform any requests.
func NewS3Client(cfg Config) (s3iface.S3API, error) {
	awsCfg := aws.NewConfig().WithS3ForcePathStyle(cfg.ForcePathStyle)

	if cfg.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(
			credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		)
	}

	switch {
	case cfg.Endpoint != "":
		region := cfg.Region
		if region == "" {
			region = defaultEndpointRegion
		}
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithRegion(region)

	case cfg.Region != "":
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}

	if cfg.InsecureSkipVerify {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		awsCfg = awsCfg.WithHTTPClient(&http.Client{Transport: transport})
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't create aws session: %w", err)
	}
	return s3.New(sess), nil
}

func NewS3Store(client s3iface.S3API, bucket string) *S3Store {
	return &S3Store{
		client:      client,
		bucket:      bucket,
		batchDelete: s3manager.NewBatchDeleteWithClient(client),
	}
}

func (s *S3Store) Exists(ctx context.Context, key string) (_ bool, err error) {
	defer trackRequest("exists", time.Now(), &err)

	_, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("couldn't check object %q: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) Get(ctx context.Context, key string) (_ *rthumb.Object, err error) {
	defer trackRequest("get", time.Now(), &err)

	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %q", rthumb.ErrNotFound, key)
		}
		return nil, fmt.Errorf("couldn't get object %q: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("couldn't read object %q: %w", key, err)
	}

	return &rthumb.Object{
		Data:        data,
		ContentType: aws.StringValue(out.ContentType),
		Metadata:    normalizeMetadata(aws.StringValueMap(out.Metadata)),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, opts rthumb.PutOptions) (err error) {
	defer trackRequest("put", time.Now(), &err)

	contentType := opts.ContentType
	if contentType == "" {
		contentType = rthumb.DefaultContentType
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if opts.Filename != "" {
		input.ContentDisposition = aws.String(ContentDisposition(opts.Filename))
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = aws.StringMap(opts.Metadata)
	}

	if _, err := s.client.PutObjectWithContext(ctx, input); err != nil {
		return fmt.Errorf("couldn't put object %q: %w", key, err)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) (err error) {
	defer trackRequest("delete", time.Now(), &err)

	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("couldn't delete object %q: %w", key, err)
	}
	return nil
}

// Move copies src to dst and removes src. It is not atomic: concurrent writers
// can still create dst between the checks and the copy.
func (s *S3Store) Move(ctx context.Context, src, dst string) (bool, error) {
	srcExists, err := s.Exists(ctx, src)
	if err != nil {
		return false, err
	}
	if !srcExists {
		return false, nil
	}
	dstExists, err := s.Exists(ctx, dst)
	if err != nil {
		return false, err
	}
	if dstExists {
		return false, nil
	}

	err = func() (err error) {
		defer trackRequest("copy", time.Now(), &err)

		_, err = s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(dst),
			CopySource: aws.String(url.PathEscape(s.bucket + "/" + src)),
		})
		return err
	}()
	if err != nil {
		return false, fmt.Errorf("couldn't copy %q to %q: %w", src, dst, err)
	}

	if err := s.Delete(ctx, src); err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) (_ []string, err error) {
	defer trackRequest("list", time.Now(), &err)

	var keys []string
	err = s.client.ListObjectsV2PagesWithContext(ctx,
		&s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		},
		func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, obj := range page.Contents {
				keys = append(keys, aws.StringValue(obj.Key))
			}
			return true
		},
	)
	if err != nil {
		return nil, fmt.Errorf("couldn't list objects with prefix %q: %w", prefix, err)
	}
	return keys, nil
}

// DeletePrefix removes all objects with the passed prefix. The empty prefix is
// rejected to not wipe the whole bucket by mistake.
func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return errors.New("prefix can't be empty")
	}

	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	iter := &s3manager.DeleteObjectsIterator{
		Objects: make([]s3manager.BatchDeleteObject, 0, len(keys)),
	}
	for _, key := range keys {
		iter.Objects = append(iter.Objects, s3manager.BatchDeleteObject{
			Object: &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			},
		})
	}

	err = func() (err error) {
		defer trackRequest("batch_delete", time.Now(), &err)
		return s.batchDelete.Delete(ctx, iter)
	}()
	if err != nil {
		return fmt.Errorf("couldn't delete objects with prefix %q: %w", prefix, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}

	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// normalizeMetadata converts keys to lower case: S3 returns them canonicalized as
// HTTP headers ("Digest").
func normalizeMetadata(metadata map[string]string) map[string]string {
	res := make(map[string]string, len(metadata))
	for k, v := range metadata {
		res[strings.ToLower(k)] = v
	}
	return res
}

func trackRequest(operation string, start time.Time, errp *error) {
	metrics.StorageRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if *errp != nil && !errors.Is(*errp, rthumb.ErrNotFound) {
		metrics.StorageErrors.WithLabelValues(operation).Inc()
	}
}
