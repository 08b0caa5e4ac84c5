package models

import "time"

type SyncKind string

const (
	SyncImport    SyncKind = "import"
	SyncComplete  SyncKind = "complete"
	SyncReconcile SyncKind = "reconcile"
)

type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
	SyncCancelled SyncStatus = "cancelled"
)

// SyncLog is the append-only progress row of one run.
type SyncLog struct {
	ID          string      `json:"id"`
	ContentType ContentType `json:"content_type"`
	Provider    Provider    `json:"provider"`
	Kind        SyncKind    `json:"kind"`
	Status      SyncStatus  `json:"status"`
	StartPage   int         `json:"start_page"`
	CurrentPage int         `json:"current_page"`
	Pages       int         `json:"pages"`
	Processed   int         `json:"processed"`
	Created     int         `json:"created"`
	Updated     int         `json:"updated"`
	Pending     int         `json:"pending"`
	ErrorCount  int         `json:"error_count"`
	Errors      []string    `json:"errors,omitempty"`
	Message     string      `json:"message,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
}

// ContentSyncStatus is the resume point per content type and provider.
type ContentSyncStatus struct {
	ContentType    ContentType `json:"content_type"`
	Provider       Provider    `json:"provider"`
	LastPage       int         `json:"last_page"`
	LastExternalID *int64      `json:"last_external_id,omitempty"`
	TotalProcessed int         `json:"total_processed"`
	Status         SyncStatus  `json:"status"`
	LastRunID      string      `json:"last_run_id,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
