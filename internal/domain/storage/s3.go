package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3Config selects the bucket, region, optional endpoint (MinIO, localstack)
// and key prefix of an S3Backend.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
	Attempts uint
}

// S3Backend stores objects in a bucket; metadata travels as object user
// metadata. Transient failures are retried.
type S3Backend struct {
	client   s3iface.S3API
	bucket   string
	prefix   string
	attempts uint
}

func NewS3Backend(cfg S3Config) (*S3Backend, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, err
	}
	return NewS3BackendWithClient(s3.New(sess), cfg), nil
}

// NewS3BackendWithClient wraps an existing client.
func NewS3BackendWithClient(client s3iface.S3API, cfg S3Config) *S3Backend {
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = 3
	}
	return &S3Backend{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/"), attempts: attempts}
}

func (b *S3Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

func isS3NotFound(err error) bool {
	var aerr awserr.RequestFailure
	if errors.As(err, &aerr) && aerr.StatusCode() == http.StatusNotFound {
		return true
	}
	var e awserr.Error
	if errors.As(err, &e) {
		switch e.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func (b *S3Backend) do(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(b.attempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !isS3NotFound(err) }),
	)
}

func toS3Metadata(m *Metadata) map[string]*string {
	return map[string]*string{
		"Filename":   aws.String(m.Filename),
		"Sha256":     aws.String(m.SHA256),
		"Creator":    aws.String(m.Creator),
		"Created-At": aws.String(m.CreatedAt.UTC().Format(time.RFC3339Nano)),
	}
}

func metaValue(m map[string]*string, name string) string {
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return aws.StringValue(v)
		}
	}
	return ""
}

func fromS3(key string, user map[string]*string, contentType *string, length *int64) *Metadata {
	meta := &Metadata{
		Key:      key,
		Filename: metaValue(user, "Filename"),
		MimeType: aws.StringValue(contentType),
		Length:   aws.Int64Value(length),
		SHA256:   metaValue(user, "Sha256"),
		Creator:  metaValue(user, "Creator"),
	}
	if t, err := time.Parse(time.RFC3339Nano, metaValue(user, "Created-At")); err == nil {
		meta.CreatedAt = t
	}
	return meta
}

func (b *S3Backend) Put(ctx context.Context, key string, data []byte, meta *Metadata) error {
	return b.do(ctx, func() error {
		_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(b.objectKey(key)),
			Body:          bytes.NewReader(data),
			ContentType:   aws.String(meta.MimeType),
			ContentLength: aws.Int64(int64(len(data))),
			Metadata:      toS3Metadata(meta),
		})
		return err
	})
}

func (b *S3Backend) Get(ctx context.Context, key string) (io.ReadCloser, *Metadata, error) {
	var out *s3.GetObjectOutput
	err := b.do(ctx, func() error {
		var err error
		out, err = b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.objectKey(key)),
		})
		return err
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil, notFound(key)
		}
		return nil, nil, err
	}
	return out.Body, fromS3(key, out.Metadata, out.ContentType, out.ContentLength), nil
}

func (b *S3Backend) Stat(ctx context.Context, key string) (*Metadata, error) {
	var out *s3.HeadObjectOutput
	err := b.do(ctx, func() error {
		var err error
		out, err = b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.objectKey(key)),
		})
		return err
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, notFound(key)
		}
		return nil, err
	}
	return fromS3(key, out.Metadata, out.ContentType, out.ContentLength), nil
}

// Delete removes key. S3 deletes are idempotent so existence is checked first.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.Stat(ctx, key); err != nil {
		return err
	}
	return b.do(ctx, func() error {
		_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.objectKey(key)),
		})
		return err
	})
}

func (b *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	strip := ""
	if b.prefix != "" {
		strip = b.prefix + "/"
	}
	err := b.do(ctx, func() error {
		keys = keys[:0]
		return b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(b.bucket),
			Prefix: aws.String(strip + prefix),
		}, func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, obj := range page.Contents {
				keys = append(keys, strings.TrimPrefix(aws.StringValue(obj.Key), strip))
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// String describes the backend for startup logs.
func (b *S3Backend) String() string {
	return "s3://" + b.bucket + "/" + b.prefix + " (attempts " + strconv.Itoa(int(b.attempts)) + ")"
}
