package pipeline

import "time"

// Config holds the pipeline's tuning knobs. Zero values are replaced with
// defaults sized for Bedrock and S3 Vectors documented limits.
type Config struct {
	// MaxBatchItems caps the number of vectors per write call.
	MaxBatchItems int
	// MaxBatchBytes caps the approximate payload size per write call.
	MaxBatchBytes int
	// MaxConcurrentWorkers bounds concurrent embedding calls.
	MaxConcurrentWorkers int
	// RequestsPerSecond is the shared token-bucket budget for embedding calls.
	RequestsPerSecond float64
	// MaxRetryAttempts is the total attempts per unit of work (first try included).
	MaxRetryAttempts int
	// BaseBackoff is the first retry delay; it doubles per attempt up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// QuotaCooldown pauses all dispatch after a QuotaExceeded error.
	QuotaCooldown time.Duration
	// PerCallTimeout bounds each external call, not the job.
	PerCallTimeout time.Duration
	// FlushInterval flushes a partial batch so low-volume streams don't stall.
	FlushInterval time.Duration
	// QueueDepth bounds the internal work queue; a full queue pauses enumeration.
	QueueDepth int
}

func (c Config) withDefaults() Config {
	if c.MaxBatchItems <= 0 {
		c.MaxBatchItems = 500 // PutVectors limit
	}
	if c.MaxBatchBytes <= 0 {
		c.MaxBatchBytes = 2 << 20
	}
	if c.MaxConcurrentWorkers <= 0 {
		c.MaxConcurrentWorkers = 5
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.QuotaCooldown <= 0 {
		c.QuotaCooldown = 30 * time.Second
	}
	if c.PerCallTimeout <= 0 {
		c.PerCallTimeout = 30 * time.Second
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 2 * c.MaxConcurrentWorkers
	}
	return c
}
