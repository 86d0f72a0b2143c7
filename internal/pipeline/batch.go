package pipeline

import (
	"fmt"
	"time"

	"github.com/kalambet/vecsync/internal/store"
)

// batchItem is one validated vector waiting for a write slot. attempts is
// the embed-side attempt count, carried through so the final outcome can
// tell a first-try success from a retried one.
type batchItem struct {
	key      string
	vector   []float32
	metadata map[string]any
	attempts int
}

// byteSize approximates the item's wire size: four bytes per float plus key
// and metadata text. It only needs to be close enough to keep batches under
// the store's payload limit.
func (it batchItem) byteSize() int {
	n := 4*len(it.vector) + len(it.key)
	for k, v := range it.metadata {
		n += len(k) + len(fmt.Sprint(v))
	}
	return n
}

func (it batchItem) putItem() store.PutItem {
	return store.PutItem{Key: it.key, Vector: it.vector, Metadata: it.metadata}
}

// runBatcher groups validated items into write-sized batches. A batch
// flushes when it hits the item-count limit, the byte-size limit, or the
// flush interval, so low-volume streams don't stall. A batch of one is just
// a small batch.
func (p *Pipeline) runBatcher(in <-chan batchItem, out chan<- []batchItem) {
	defer close(out)

	var (
		cur      []batchItem
		curBytes int
	)
	timer := time.NewTimer(p.cfg.FlushInterval)
	defer timer.Stop()

	flush := func() {
		if len(cur) == 0 {
			return
		}
		out <- cur
		cur = nil
		curBytes = 0
	}

	for {
		select {
		case it, ok := <-in:
			if !ok {
				flush()
				return
			}
			if len(cur) == 0 {
				// Restart the accumulation clock at the first item of a batch.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(p.cfg.FlushInterval)
			}
			cur = append(cur, it)
			curBytes += it.byteSize()
			if len(cur) >= p.cfg.MaxBatchItems || curBytes >= p.cfg.MaxBatchBytes {
				flush()
			}
		case <-timer.C:
			flush()
			timer.Reset(p.cfg.FlushInterval)
		}
	}
}
