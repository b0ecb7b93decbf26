package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data        []byte
	contentType string
	meta        map[string]*string
}

type fakeS3 struct {
	s3iface.S3API
	objects  map[string]fakeObject
	failPuts int
	putCalls int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]fakeObject{}}
}

func notFoundErr() error {
	return awserr.NewRequestFailure(awserr.New("NotFound", "not found", nil), http.StatusNotFound, "req")
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	f.putCalls++
	if f.failPuts > 0 {
		f.failPuts--
		return nil, awserr.New("InternalError", "try again", nil)
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Key] = fakeObject{data: data, contentType: aws.StringValue(in.ContentType), meta: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	o, ok := f.objects[*in.Key]
	if !ok {
		return nil, notFoundErr()
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(o.data)),
		ContentType:   aws.String(o.contentType),
		ContentLength: aws.Int64(int64(len(o.data))),
		Metadata:      o.meta,
	}, nil
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	o, ok := f.objects[*in.Key]
	if !ok {
		return nil, notFoundErr()
	}
	return &s3.HeadObjectOutput{ContentType: aws.String(o.contentType), ContentLength: aws.Int64(int64(len(o.data))), Metadata: o.meta}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2PagesWithContext(_ aws.Context, in *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	page := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		page.Contents = append(page.Contents, &s3.Object{Key: aws.String(k)})
	}
	fn(page, true)
	return nil
}

func TestS3Backend(t *testing.T) {
	fake := newFakeS3()
	b := NewS3BackendWithClient(fake, S3Config{Bucket: "emr", Prefix: "/blobs/"})
	backendContract(t, b)
	for k := range fake.objects {
		assert.True(t, strings.HasPrefix(k, "blobs/"), k)
	}
}

func TestS3Backend_RetriesTransientFailures(t *testing.T) {
	fake := newFakeS3()
	fake.failPuts = 2
	b := NewS3BackendWithClient(fake, S3Config{Bucket: "emr", Attempts: 3})

	require.NoError(t, b.Put(context.Background(), "k", []byte("v"), &Metadata{Filename: "f"}))
	assert.Equal(t, 3, fake.putCalls)

	meta, err := b.Stat(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "f", meta.Filename)
}

func TestIsS3NotFound(t *testing.T) {
	assert.True(t, isS3NotFound(notFoundErr()))
	assert.True(t, isS3NotFound(awserr.New(s3.ErrCodeNoSuchKey, "gone", nil)))
	assert.False(t, isS3NotFound(errors.New("boom")))
}
