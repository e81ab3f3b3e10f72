package domain

import "time"

// RunStatus is the outcome of one analyze_week call.
type RunStatus string

const (
	// RunNotPerformed means BucketCheck failed: no bucket or no eligible images.
	RunNotPerformed RunStatus = "not_performed"
	// RunCompleted means a ledger exists after the batch, even if some files failed.
	RunCompleted RunStatus = "completed"
	// RunFailed means every file failed and no ledger exists.
	RunFailed RunStatus = "failed"
)

// Stage names the per-file step where a failure happened.
type Stage string

const (
	StageFetch  Stage = "fetch"
	StageInfer  Stage = "infer"
	StageParse  Stage = "parse"
	StageAppend Stage = "append"
)

// FileFailure is a per-file error that was contained within the batch.
type FileFailure struct {
	File  string
	Stage Stage
	Err   error
}

// AnalysisResult is what analyze_week reports upward.
type AnalysisResult struct {
	Week   WeekID
	RunID  string
	Status RunStatus

	// Reason explains a RunNotPerformed result.
	Reason string

	Images    int
	Processed int
	Skipped   []string
	Failures  []FileFailure

	Ledger  *Ledger
	Summary Summary

	StartedAt  time.Time
	FinishedAt time.Time
}

// Performed reports whether any file was considered at all.
func (r *AnalysisResult) Performed() bool {
	return r.Status != RunNotPerformed
}
