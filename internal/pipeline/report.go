package pipeline

import (
	"sync"
)

// Outcome status values recorded for each item.
const (
	StatusSucceeded = "succeeded"
	StatusRetried   = "retried" // succeeded after at least one retry
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// KindCancelled marks items whose processing was cut short by job
// cancellation.
const KindCancelled = "Cancelled"

// Failure is one item's terminal failure.
type Failure struct {
	ItemID    string `json:"itemId"`
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message"`
}

// Report is the job's final accounting. Every enumerated item lands in
// exactly one of the four counts; Failures lists failed and cancelled items
// in the order their outcomes arrived.
type Report struct {
	Succeeded        int       `json:"succeeded"`
	RetriedSucceeded int       `json:"retriedSucceeded"`
	Failed           int       `json:"failed"`
	Cancelled        int       `json:"cancelled"`
	Failures         []Failure `json:"failures,omitempty"`
	Err              string    `json:"error,omitempty"`
}

// Total is the number of items that reached a terminal outcome.
func (r *Report) Total() int {
	return r.Succeeded + r.RetriedSucceeded + r.Failed + r.Cancelled
}

// Recorder receives terminal outcomes and enumeration cursors as they
// happen, so a job can be resumed after a crash. Implementations must be
// safe for concurrent use.
type Recorder interface {
	Outcome(key, status, kind, message string, attempts int)
	Cursor(token string)
}

// aggregator collects per-item outcomes. Each key is recorded at most once;
// the pipeline's routing guarantees each item reaches exactly one terminal
// path, and the aggregator keeps the first outcome if that ever breaks.
type aggregator struct {
	mu         sync.Mutex
	enumerated int
	seen       map[string]bool
	report     Report
	rec        Recorder
}

func newAggregator(rec Recorder) *aggregator {
	return &aggregator{seen: make(map[string]bool), rec: rec}
}

func (a *aggregator) itemEnumerated() {
	a.mu.Lock()
	a.enumerated++
	a.mu.Unlock()
}

func (a *aggregator) success(key string, retried bool, attempts int) {
	status := StatusSucceeded
	a.mu.Lock()
	if !a.record(key) {
		a.mu.Unlock()
		return
	}
	if retried {
		a.report.RetriedSucceeded++
		status = StatusRetried
	} else {
		a.report.Succeeded++
	}
	a.mu.Unlock()

	if a.rec != nil {
		a.rec.Outcome(key, status, "", "", attempts)
	}
}

func (a *aggregator) fail(key, kind, message string, attempts int) {
	a.mu.Lock()
	if !a.record(key) {
		a.mu.Unlock()
		return
	}
	a.report.Failed++
	a.report.Failures = append(a.report.Failures, Failure{ItemID: key, ErrorKind: kind, Message: message})
	a.mu.Unlock()

	if a.rec != nil {
		a.rec.Outcome(key, StatusFailed, kind, message, attempts)
	}
}

func (a *aggregator) cancelled(key string) {
	a.mu.Lock()
	if !a.record(key) {
		a.mu.Unlock()
		return
	}
	a.report.Cancelled++
	a.report.Failures = append(a.report.Failures, Failure{ItemID: key, ErrorKind: KindCancelled, Message: "job cancelled before item completed"})
	a.mu.Unlock()

	if a.rec != nil {
		a.rec.Outcome(key, StatusCancelled, KindCancelled, "", 0)
	}
}

// record must be called with the mutex held.
func (a *aggregator) record(key string) bool {
	if a.seen[key] {
		return false
	}
	a.seen[key] = true
	return true
}

func (a *aggregator) jobError(err error) {
	a.mu.Lock()
	if a.report.Err == "" {
		a.report.Err = err.Error()
	}
	a.mu.Unlock()
}

func (a *aggregator) finalize() *Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	rep := a.report
	return &rep
}
