package model

import "time"

// Dataset is what a row source yields: ordered column names plus rows.
type Dataset struct {
	Columns []string    `json:"columns"`
	Rows    []SourceRow `json:"rows"`
}

// SyncRequest describes one synchronization of a dataset into one or more tables.
type SyncRequest struct {
	Credentials Credentials `json:"-"`
	AppToken    string      `json:"app_token"`
	// TableIDs may be empty; the first table of the app is used then.
	TableIDs []string `json:"table_ids,omitempty"`
	Dataset  Dataset  `json:"-"`
	// File is set when the dataset came from an uploaded file.
	File           *FileInfo `json:"file,omitempty"`
	RefreshSchema  bool      `json:"refresh_schema,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Source         string    `json:"source,omitempty"`
}

// Target names destination tables and the credentials that reach them.
type Target struct {
	AppToken    string
	TableIDs    []string
	Credentials Credentials
}

// SyncJob is a queued SyncRequest.
type SyncJob struct {
	ID         string
	Request    SyncRequest
	EnqueuedAt time.Time
}

// TableResult is the outcome of synchronizing one destination table.
type TableResult struct {
	TableID        string            `json:"table_id"`
	MatchedColumns int               `json:"matched_columns"`
	Result         SyncRunResult     `json:"result"`
	Warnings       []CoercionWarning `json:"warnings,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Failed reports whether the table could not be fully synchronized.
func (r TableResult) Failed() bool { return r.Error != "" || r.Result.Aborted }
