// Package source enumerates the items a sync job embeds and stores.
//
// A Source produces items one at a time so a job over thousands of inputs
// never holds more than one listing page in memory. Enumeration failures are
// reported as *EnumerationError and are never retried here; callers decide
// whether re-running the job makes sense (listing failures are usually
// permission or configuration problems, not blips).
package source

import (
	"context"
	"fmt"
)

// Item is a single unit of work: a stable key, lazily loaded content, and
// metadata that travels with the vector into the index. Items are immutable
// once enumerated; Content may be called more than once across retries and
// caches the bytes after the first successful load.
type Item struct {
	Key      string
	Metadata map[string]any

	data  []byte
	fetch func(ctx context.Context) ([]byte, error)
}

// NewItem creates an item with inline content.
func NewItem(key string, data []byte, metadata map[string]any) *Item {
	return &Item{Key: key, Metadata: metadata, data: data}
}

// NewLazyItem creates an item whose content is loaded on first use.
func NewLazyItem(key string, metadata map[string]any, fetch func(ctx context.Context) ([]byte, error)) *Item {
	return &Item{Key: key, Metadata: metadata, fetch: fetch}
}

// Content returns the item's bytes, loading them if necessary.
func (it *Item) Content(ctx context.Context) ([]byte, error) {
	if it.data != nil || it.fetch == nil {
		return it.data, nil
	}
	data, err := it.fetch(ctx)
	if err != nil {
		return nil, err
	}
	it.data = data
	return data, nil
}

// Source is a lazy sequence of items. Next returns (nil, nil) once the
// sequence is exhausted.
type Source interface {
	Next(ctx context.Context) (*Item, error)
}

// Cursored is implemented by sources that can report a resume position.
type Cursored interface {
	Cursor() string
}

// EnumerationError wraps a failure of the underlying listing API.
type EnumerationError struct {
	Err error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumerating items: %v", e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// Checkpointed wraps src, skipping items whose keys already reached a
// terminal outcome in a previous run of the same job.
func Checkpointed(src Source, seen map[string]bool) Source {
	if len(seen) == 0 {
		return src
	}
	return &checkpointed{src: src, seen: seen}
}

type checkpointed struct {
	src  Source
	seen map[string]bool
}

func (c *checkpointed) Next(ctx context.Context) (*Item, error) {
	for {
		it, err := c.src.Next(ctx)
		if err != nil || it == nil {
			return it, err
		}
		if !c.seen[it.Key] {
			return it, nil
		}
	}
}

func (c *checkpointed) Cursor() string {
	if cur, ok := c.src.(Cursored); ok {
		return cur.Cursor()
	}
	return ""
}
