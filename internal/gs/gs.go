// Package gs reads objects out of the backing object store. Paths are
// "bucket/key" strings as they appear in request URLs. Failures are
// classified so callers can distinguish a missing key from an
// authorization problem from a transient backend outage.
package gs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/google/cro3-sub001/internal/errkind"
)

// Stat is object metadata without the body.
type Stat struct {
	ContentType   string
	ContentLength int64
}

// Client is the object store surface this service needs.
type Client interface {
	// Stat returns metadata for the object at path.
	Stat(ctx context.Context, path string) (Stat, error)
	// StreamingRead opens the object body for streaming. The caller
	// must close the returned reader.
	StreamingRead(ctx context.Context, path string) (io.ReadCloser, error)
}

// s3API is the subset of the S3 client used here, split out so tests
// can substitute a fake.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 implements Client on an S3-compatible endpoint.
type S3 struct {
	api s3API
}

func NewS3(api s3API) *S3 { return &S3{api: api} }

// splitPath separates "bucket/key/parts" into bucket and key.
func splitPath(path string) (bucket, key string, err error) {
	path = strings.TrimPrefix(path, "/")
	bucket, key, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", errkind.Newf(errkind.KindValidation, "object path %q must be bucket/key", path)
	}
	return bucket, key, nil
}

func (c *S3) Stat(ctx context.Context, path string) (Stat, error) {
	bucket, key, err := splitPath(path)
	if err != nil {
		return Stat{}, err
	}

	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Stat{}, classify(err, path)
	}

	st := Stat{ContentType: aws.ToString(out.ContentType)}
	if out.ContentLength != nil {
		st.ContentLength = *out.ContentLength
	}
	if st.ContentType == "" {
		st.ContentType = "application/octet-stream"
	}
	return st, nil
}

func (c *S3) StreamingRead(ctx context.Context, path string) (io.ReadCloser, error) {
	bucket, key, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(err, path)
	}
	return out.Body, nil
}

// classify maps SDK errors onto the service taxonomy.
func classify(err error, path string) error {
	var noKey *s3types.NoSuchKey
	var noBucket *s3types.NoSuchBucket
	var notFound *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &noBucket) || errors.As(err, &notFound) {
		return errkind.Wrapf(errkind.KindNotFound, err, "object %q not found", path)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return errkind.Wrapf(errkind.KindNotFound, err, "object %q not found", path)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return errkind.Wrapf(errkind.KindAuth, err, "not authorized to read %q", path)
		}
	}

	// HeadObject errors carry no code, only the response status
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return errkind.Wrapf(errkind.KindNotFound, err, "object %q not found", path)
		case http.StatusForbidden, http.StatusUnauthorized:
			return errkind.Wrapf(errkind.KindAuth, err, "not authorized to read %q", path)
		}
	}

	return errkind.Wrapf(errkind.KindUnavailable, err, "object store read %q", path)
}
