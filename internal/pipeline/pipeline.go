// Package pipeline turns a stream of source items into embedding vectors and
// commits them to a vector index under concurrency, rate, and quota limits.
//
// The moving parts: a producer enumerates items with backpressure, a bounded
// pool of workers embeds and validates them, a batcher groups validated
// vectors into write-sized batches, and write workers upsert those batches.
// Every external call is wrapped in bounded backoff, and every item's fate
// lands in the job's Report — item failures never abort the job.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kalambet/vecsync/internal/embed"
	"github.com/kalambet/vecsync/internal/source"
	"github.com/kalambet/vecsync/internal/store"
)

// writeWorkers bounds concurrent write calls. Write volume is already
// throttled by batch formation, so a small fixed pool is enough.
const writeWorkers = 2

// KindDimensionMismatch marks vectors whose length doesn't match the index.
const KindDimensionMismatch = "DimensionMismatch"

// DimensionMismatchError reports a vector that can never fit the target
// index. It is terminal: retrying an embedding call cannot change a model's
// output dimension.
type DimensionMismatchError struct {
	Key  string
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector for %s has dimension %d, index requires %d", e.Key, e.Got, e.Want)
}

// Pipeline is one job's worth of machinery. Create with New, run once with
// Run.
type Pipeline struct {
	cfg      Config
	src      source.Source
	embedder embed.Embedder
	writer   store.Writer
	index    store.IndexSpec
	recorder Recorder
	logger   *slog.Logger
}

// New assembles a pipeline. recorder may be nil when the job doesn't need to
// be resumable.
func New(cfg Config, src source.Source, embedder embed.Embedder, writer store.Writer, index store.IndexSpec, recorder Recorder) *Pipeline {
	return &Pipeline{
		cfg:      cfg.withDefaults(),
		src:      src,
		embedder: embedder,
		writer:   writer,
		index:    index,
		recorder: recorder,
		logger:   slog.Default(),
	}
}

// Run processes every item the source yields and returns the job's report.
// Cancelling ctx stops new dispatch, lets in-flight calls finish under their
// per-call timeouts, and records undispatched items as cancelled; the report
// is produced either way.
func (p *Pipeline) Run(ctx context.Context) *Report {
	agg := newAggregator(p.recorder)
	g8 := &gate{}
	limiter := rate.NewLimiter(rate.Limit(p.cfg.RequestsPerSecond), burst(p.cfg.RequestsPerSecond))

	items := make(chan *source.Item, p.cfg.QueueDepth)
	validated := make(chan batchItem, p.cfg.QueueDepth)
	batches := make(chan []batchItem, 1)

	go p.produce(ctx, items, agg)

	var workers errgroup.Group
	for range p.cfg.MaxConcurrentWorkers {
		workers.Go(func() error {
			for it := range items {
				if ctx.Err() != nil {
					agg.cancelled(it.Key)
					continue
				}
				p.processItem(ctx, it, limiter, g8, validated, agg)
			}
			return nil
		})
	}
	go func() {
		_ = workers.Wait()
		close(validated)
	}()

	go p.runBatcher(validated, batches)

	var writers errgroup.Group
	for range writeWorkers {
		writers.Go(func() error {
			for batch := range batches {
				if ctx.Err() != nil {
					for _, it := range batch {
						agg.cancelled(it.key)
					}
					continue
				}
				p.writeBatch(ctx, batch, g8, agg)
			}
			return nil
		})
	}
	_ = writers.Wait()

	rep := agg.finalize()
	p.logger.Info("job finished",
		"succeeded", rep.Succeeded,
		"retried_succeeded", rep.RetriedSucceeded,
		"failed", rep.Failed,
		"cancelled", rep.Cancelled,
	)
	return rep
}

// produce enumerates items into the bounded queue. A full queue blocks the
// source rather than buffering unboundedly. Enumeration failures end
// enumeration but not the job: everything already queued still completes.
func (p *Pipeline) produce(ctx context.Context, items chan<- *source.Item, agg *aggregator) {
	defer close(items)
	for {
		if ctx.Err() != nil {
			return
		}
		it, err := p.src.Next(ctx)
		if err != nil {
			p.logger.Error("enumeration failed", "error", err)
			agg.jobError(err)
			return
		}
		if it == nil {
			return
		}
		agg.itemEnumerated()

		if p.recorder != nil {
			if cur, ok := p.src.(source.Cursored); ok {
				p.recorder.Cursor(cur.Cursor())
			}
		}

		select {
		case items <- it:
		case <-ctx.Done():
			agg.cancelled(it.Key)
			return
		}
	}
}

// processItem runs one item through fetch, embed, and dimension validation,
// then hands the vector to the batcher. Terminal failures are recorded here;
// success is recorded only after the write lands.
func (p *Pipeline) processItem(ctx context.Context, it *source.Item, limiter *rate.Limiter, g *gate, validated chan<- batchItem, agg *aggregator) {
	r := &retrier{
		maxAttempts: p.cfg.MaxRetryAttempts,
		base:        p.cfg.BaseBackoff,
		max:         p.cfg.MaxBackoff,
		perCall:     p.cfg.PerCallTimeout,
		cooldown:    p.cfg.QuotaCooldown,
		gate:        g,
		retryable:   embedRetryable,
		quota:       embedQuota,
	}

	prepare := func(ctx context.Context) error {
		if err := g.Wait(ctx); err != nil {
			return err
		}
		return limiter.Wait(ctx)
	}

	var result embed.Embedding
	attempts, err := r.do(ctx, prepare, func(callCtx context.Context) error {
		content, err := it.Content(callCtx)
		if err != nil {
			return embed.Classify(err)
		}
		e, err := p.embedder.Embed(callCtx, content)
		if err != nil {
			return embed.Classify(err)
		}
		result = e
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			agg.cancelled(it.Key)
			return
		}
		ee := embed.Classify(err)
		p.logger.Warn("item failed to embed", "item", it.Key, "kind", ee.Kind, "attempts", attempts, "error", err)
		agg.fail(it.Key, string(ee.Kind), err.Error(), attempts)
		return
	}

	if err := p.validateDimension(it.Key, result); err != nil {
		p.logger.Warn("dimension mismatch", "item", it.Key, "error", err)
		agg.fail(it.Key, KindDimensionMismatch, err.Error(), attempts)
		return
	}

	validated <- batchItem{key: it.Key, vector: result.Vector, metadata: it.Metadata, attempts: attempts}
}

// validateDimension checks the vector against the index contract before it
// may enter a batch, so one mismatched model/index pairing cannot
// contaminate an otherwise valid batch. Both the model's declared dimension
// and the actual vector length must agree with the index.
func (p *Pipeline) validateDimension(key string, e embed.Embedding) error {
	want := p.index.Dimension
	if want <= 0 {
		return nil
	}
	if e.ModelDimension != 0 && e.ModelDimension != want {
		return &DimensionMismatchError{Key: key, Got: e.ModelDimension, Want: want}
	}
	if len(e.Vector) != want {
		return &DimensionMismatchError{Key: key, Got: len(e.Vector), Want: want}
	}
	return nil
}

// writeBatch upserts a batch, retrying only the transiently failed subset.
// Upserts are keyed by item key, so re-submitting survivors of a previous
// attempt overwrites rather than duplicates.
func (p *Pipeline) writeBatch(ctx context.Context, batch []batchItem, g *gate, agg *aggregator) {
	bo := (&retrier{base: p.cfg.BaseBackoff, max: p.cfg.MaxBackoff}).newBackOff(ctx)

	pending := batch
	for attempt := 1; len(pending) > 0; attempt++ {
		if err := g.Wait(ctx); err != nil {
			p.cancelAll(pending, agg)
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.PerCallTimeout)
		puts := make([]store.PutItem, len(pending))
		for i, it := range pending {
			puts[i] = it.putItem()
		}
		outcomes, err := p.writer.Put(callCtx, puts)
		cancel()

		var next []batchItem
		switch {
		case err != nil:
			if ctx.Err() != nil {
				p.cancelAll(pending, agg)
				return
			}
			we := store.ClassifyWrite(err)
			if we.Kind == store.WriteQuota {
				g.Trip(p.cfg.QuotaCooldown)
			}
			if !we.Retryable() || attempt >= p.cfg.MaxRetryAttempts {
				for _, it := range pending {
					agg.fail(it.key, string(we.Kind), err.Error(), it.attempts+attempt-1)
				}
				return
			}
			next = pending
		default:
			next = p.applyOutcomes(pending, outcomes, attempt, g, agg)
		}

		if len(next) == 0 {
			return
		}
		pending = next

		d := bo.NextBackOff()
		if d < 0 {
			d = p.cfg.MaxBackoff
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.cancelAll(pending, agg)
			return
		case <-timer.C:
		}
	}
}

// applyOutcomes records per-item write results and returns the subset worth
// retrying. Items the store rejected outright are terminal; their batchmates
// are unaffected.
func (p *Pipeline) applyOutcomes(pending []batchItem, outcomes []store.Outcome, attempt int, g *gate, agg *aggregator) []batchItem {
	byKey := make(map[string]error, len(outcomes))
	for _, oc := range outcomes {
		byKey[oc.Key] = oc.Err
	}

	var next []batchItem
	for _, it := range pending {
		err, ok := byKey[it.key]
		if !ok {
			// The store said nothing about this item; treat as transient.
			err = &store.WriteError{Kind: store.WriteTransient, Err: errors.New("no outcome reported for item")}
		}
		if err == nil {
			agg.success(it.key, it.attempts > 1 || attempt > 1, it.attempts+attempt-1)
			continue
		}

		we := store.ClassifyWrite(err)
		if we.Kind == store.WriteQuota {
			g.Trip(p.cfg.QuotaCooldown)
		}
		if we.Retryable() && attempt < p.cfg.MaxRetryAttempts {
			next = append(next, it)
			continue
		}
		p.logger.Warn("item failed to write", "item", it.key, "kind", we.Kind, "error", err)
		agg.fail(it.key, string(we.Kind), err.Error(), it.attempts+attempt-1)
	}
	return next
}

func (p *Pipeline) cancelAll(items []batchItem, agg *aggregator) {
	for _, it := range items {
		agg.cancelled(it.key)
	}
}

func embedRetryable(err error) bool {
	var ee *embed.Error
	if errors.As(err, &ee) {
		return ee.Retryable()
	}
	return false
}

func embedQuota(err error) bool {
	var ee *embed.Error
	return errors.As(err, &ee) && ee.Kind == embed.QuotaExceeded
}

func burst(rps float64) int {
	if rps < 1 {
		return 1
	}
	return int(rps)
}
