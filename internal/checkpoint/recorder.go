package checkpoint

import "log/slog"

// JobRecorder adapts the store to the pipeline's Recorder interface for one
// job. Persistence failures are logged, never surfaced: losing a checkpoint
// must not fail the item it was checkpointing.
type JobRecorder struct {
	store  *Store
	jobID  string
	logger *slog.Logger
}

// ForJob returns a recorder bound to jobID.
func (s *Store) ForJob(jobID string) *JobRecorder {
	return &JobRecorder{store: s, jobID: jobID, logger: slog.Default()}
}

func (r *JobRecorder) Outcome(key, status, kind, message string, attempts int) {
	if err := r.store.RecordOutcome(r.jobID, key, status, kind, message, attempts); err != nil {
		r.logger.Error("failed to checkpoint outcome", "job_id", r.jobID, "item", key, "error", err)
	}
}

func (r *JobRecorder) Cursor(token string) {
	if err := r.store.SaveCursor(r.jobID, token); err != nil {
		r.logger.Error("failed to checkpoint cursor", "job_id", r.jobID, "error", err)
	}
}
