package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors/document"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors/types"
)

// VectorsAPI is the slice of the S3 Vectors client the adapter needs.
type VectorsAPI interface {
	PutVectors(ctx context.Context, params *s3vectors.PutVectorsInput, optFns ...func(*s3vectors.Options)) (*s3vectors.PutVectorsOutput, error)
	GetIndex(ctx context.Context, params *s3vectors.GetIndexInput, optFns ...func(*s3vectors.Options)) (*s3vectors.GetIndexOutput, error)
}

// S3Vectors writes batches into an S3 Vectors index. PutVectors is keyed by
// vector key, so writes are idempotent upserts.
type S3Vectors struct {
	client VectorsAPI
	bucket string
	index  string
}

// NewS3Vectors creates a writer for the given vector bucket and index.
func NewS3Vectors(client VectorsAPI, bucket, index string) *S3Vectors {
	return &S3Vectors{client: client, bucket: bucket, index: index}
}

// DescribeIndex fetches the index contract the pipeline validates against.
func (s *S3Vectors) DescribeIndex(ctx context.Context) (IndexSpec, error) {
	out, err := s.client.GetIndex(ctx, &s3vectors.GetIndexInput{
		VectorBucketName: aws.String(s.bucket),
		IndexName:        aws.String(s.index),
	})
	if err != nil {
		return IndexSpec{}, fmt.Errorf("describing index %s/%s: %w", s.bucket, s.index, err)
	}
	if out.Index == nil {
		return IndexSpec{}, fmt.Errorf("describing index %s/%s: empty response", s.bucket, s.index)
	}

	spec := IndexSpec{
		VectorBucket:   s.bucket,
		IndexName:      s.index,
		Dimension:      int(aws.ToInt32(out.Index.Dimension)),
		DistanceMetric: string(out.Index.DistanceMetric),
	}
	if mc := out.Index.MetadataConfiguration; mc != nil {
		spec.NonFilterable = mc.NonFilterableMetadataKeys
	}
	return spec, nil
}

// Put upserts a batch. PutVectors is all-or-nothing on the wire; when the
// service rejects a multi-item batch for a validation problem, the batch is
// probed item by item so one poison item cannot take down its batchmates.
func (s *S3Vectors) Put(ctx context.Context, items []PutItem) ([]Outcome, error) {
	err := s.put(ctx, items)
	if err == nil {
		outcomes := make([]Outcome, len(items))
		for i, it := range items {
			outcomes[i] = Outcome{Key: it.Key}
		}
		return outcomes, nil
	}

	we := ClassifyWrite(err)
	if we.Kind != WriteRejected || len(items) == 1 {
		return nil, we
	}

	outcomes := make([]Outcome, len(items))
	for i, it := range items {
		oc := Outcome{Key: it.Key}
		if err := s.put(ctx, items[i : i+1]); err != nil {
			oc.Err = ClassifyWrite(err)
		}
		outcomes[i] = oc
	}
	return outcomes, nil
}

func (s *S3Vectors) put(ctx context.Context, items []PutItem) error {
	vectors := make([]types.PutInputVector, len(items))
	for i, it := range items {
		v := types.PutInputVector{
			Key:  aws.String(it.Key),
			Data: &types.VectorDataMemberFloat32{Value: it.Vector},
		}
		if len(it.Metadata) > 0 {
			v.Metadata = document.NewLazyDocument(it.Metadata)
		}
		vectors[i] = v
	}

	_, err := s.client.PutVectors(ctx, &s3vectors.PutVectorsInput{
		VectorBucketName: aws.String(s.bucket),
		IndexName:        aws.String(s.index),
		Vectors:          vectors,
	})
	if err != nil {
		return fmt.Errorf("putting %d vectors into %s/%s: %w", len(items), s.bucket, s.index, err)
	}
	return nil
}
