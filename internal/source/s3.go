package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectAPI is the slice of the S3 client the source needs.
type ObjectAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source pages over the objects under a bucket prefix, holding one listing
// page at a time. Object bodies are fetched lazily, when the pipeline is
// ready to embed the item.
type S3Source struct {
	client ObjectAPI
	bucket string
	prefix string

	token     *string // continuation token for the next listing call
	pageToken *string // token that listed the current page
	page      []s3types.Object
	pos       int
	done      bool
}

// NewS3Source creates a source over s3://bucket/prefix.
func NewS3Source(client ObjectAPI, bucket, prefix string) *S3Source {
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

// ResumeFrom positions the source at a continuation token recorded by a
// previous run.
func (s *S3Source) ResumeFrom(token string) {
	if token != "" {
		s.token = aws.String(token)
		s.pageToken = s.token
	}
}

// Cursor returns the continuation token that listed the page currently being
// yielded, or "" before the first page. Resuming from it re-lists that whole
// page, so items the interrupted run never finished are enumerated again;
// callers filter out the ones that already reached a terminal outcome.
func (s *S3Source) Cursor() string {
	return aws.ToString(s.pageToken)
}

func (s *S3Source) Next(ctx context.Context) (*Item, error) {
	for {
		if s.pos < len(s.page) {
			obj := s.page[s.pos]
			s.pos++

			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue // folder marker
			}
			meta := map[string]any{"source": "s3", "bucket": s.bucket, "key": key}
			bucket := s.bucket
			return NewLazyItem(fmt.Sprintf("s3://%s/%s", bucket, key), meta, func(ctx context.Context) ([]byte, error) {
				return s.fetchObject(ctx, bucket, key)
			}), nil
		}

		if s.done {
			return nil, nil
		}

		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            prefixOrNil(s.prefix),
			ContinuationToken: s.token,
		})
		if err != nil {
			return nil, &EnumerationError{Err: fmt.Errorf("listing s3://%s/%s: %w", s.bucket, s.prefix, err)}
		}

		s.page = out.Contents
		s.pos = 0
		s.pageToken = s.token
		s.token = out.NextContinuationToken
		s.done = !aws.ToBool(out.IsTruncated)

		if len(s.page) == 0 && s.done {
			return nil, nil
		}
	}
}

func (s *S3Source) fetchObject(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func prefixOrNil(p string) *string {
	if p == "" {
		return nil
	}
	return aws.String(p)
}
