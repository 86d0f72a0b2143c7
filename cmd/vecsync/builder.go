package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3vectors"

	"github.com/kalambet/vecsync/internal/api"
	"github.com/kalambet/vecsync/internal/checkpoint"
	"github.com/kalambet/vecsync/internal/config"
	"github.com/kalambet/vecsync/internal/embed"
	"github.com/kalambet/vecsync/internal/pipeline"
	"github.com/kalambet/vecsync/internal/source"
	"github.com/kalambet/vecsync/internal/store"
)

// clients bundles the AWS service clients shared by every job.
type clients struct {
	s3      *s3.Client
	bedrock *bedrockruntime.Client
	vectors *s3vectors.Client
}

func newClients(ctx context.Context, cfg config.Config) (*clients, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &clients{
		s3:      s3.NewFromConfig(awsCfg),
		bedrock: bedrockruntime.NewFromConfig(awsCfg),
		vectors: s3vectors.NewFromConfig(awsCfg),
	}, nil
}

// newPipelineBuilder wires a job spec into a runnable pipeline: source,
// embedder, writer, index contract, and checkpoint recorder.
func newPipelineBuilder(cfg config.Config, cl *clients, ckpt *checkpoint.Store) api.PipelineBuilder {
	return func(ctx context.Context, jobID string, spec api.JobSpec) (*pipeline.Pipeline, error) {
		src, err := buildSource(cl, ckpt, jobID, spec)
		if err != nil {
			return nil, err
		}

		writer := newWriter(cl, spec)
		index, err := writer.DescribeIndex(ctx)
		if err != nil {
			return nil, err
		}

		modelID := spec.ModelID
		if modelID == "" {
			modelID = cfg.Embedding.ModelID
		}
		embedder := embed.NewBedrock(cl.bedrock, modelID)

		var recorder pipeline.Recorder
		if ckpt != nil {
			recorder = ckpt.ForJob(jobID)
		}

		return pipeline.New(pipelineConfig(cfg.Pipeline), src, embedder, writer, index, recorder), nil
	}
}

func newWriter(cl *clients, spec api.JobSpec) *store.S3Vectors {
	return store.NewS3Vectors(cl.vectors, spec.VectorBucket, spec.IndexName)
}

func buildSource(cl *clients, ckpt *checkpoint.Store, jobID string, spec api.JobSpec) (source.Source, error) {
	var src source.Source
	switch {
	case len(spec.Text) > 0:
		inputs := make([]source.TextInput, len(spec.Text))
		for i, t := range spec.Text {
			inputs[i] = source.TextInput{ID: t.ID, Text: t.Text, Metadata: t.Metadata}
		}
		src = source.NewTextSource(inputs...)
	case spec.Files != "":
		src = source.NewFileSource(spec.Files)
	case spec.S3 != nil:
		s3src := source.NewS3Source(cl.s3, spec.S3.Bucket, spec.S3.Prefix)
		if spec.ResumeJobID != "" && ckpt != nil {
			if job, err := ckpt.GetJob(spec.ResumeJobID); err == nil && job != nil {
				s3src.ResumeFrom(job.Cursor)
			}
		}
		src = s3src
	default:
		return nil, fmt.Errorf("job spec has no source")
	}

	if spec.ResumeJobID != "" && ckpt != nil {
		seen, err := ckpt.TerminalKeys(spec.ResumeJobID)
		if err != nil {
			return nil, fmt.Errorf("loading checkpoint for job %s: %w", spec.ResumeJobID, err)
		}
		src = source.Checkpointed(src, seen)
	}
	return src, nil
}

func pipelineConfig(pc config.PipelineConfig) pipeline.Config {
	return pipeline.Config{
		MaxBatchItems:        pc.MaxBatchItems,
		MaxBatchBytes:        pc.MaxBatchBytes,
		MaxConcurrentWorkers: pc.MaxConcurrentWorkers,
		RequestsPerSecond:    pc.RequestsPerSecond,
		MaxRetryAttempts:     pc.MaxRetryAttempts,
		BaseBackoff:          pc.BaseBackoff,
		MaxBackoff:           pc.MaxBackoff,
		QuotaCooldown:        pc.QuotaCooldown,
		PerCallTimeout:       pc.PerCallTimeout,
		FlushInterval:        pc.FlushInterval,
	}
}
