package model

import "time"

// SyncStatus is the lifecycle state of a sync run.
type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncSource identifies which external system a run pulled from.
type SyncSource string

const (
	SourceCRM      SyncSource = "crm"
	SourcePayments SyncSource = "payments"
	SourceUsage    SyncSource = "usage"
)

// SyncRun is one row of the sync log: created in running state when an
// orchestrator run starts and always finalized as completed or failed.
type SyncRun struct {
	ID            int64      `json:"id"`
	Source        SyncSource `json:"source"`
	Status        SyncStatus `json:"status"`
	RecordsFound  int        `json:"records_found"`
	RecordsSynced int        `json:"records_synced"`
	RecordsFailed int        `json:"records_failed"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// HealthSummary aggregates account health for the status endpoint.
type HealthSummary struct {
	TotalAccounts int                    `json:"total_accounts"`
	ByCategory    map[HealthCategory]int `json:"by_category"`
	AverageScore  float64                `json:"average_score"`
}
