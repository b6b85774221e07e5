// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// SourceRow maps a source column name to its raw scalar value.
type SourceRow map[string]any

// TargetField is one field of the remote table schema.
type TargetField struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
}

// FieldNames returns the schema names in schema order.
func FieldNames(fields []TargetField) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// FieldMatch is the matching decision for one source column.
type FieldMatch struct {
	SourceColumn string  `json:"source_column"`
	TargetField  string  `json:"target_field,omitempty"`
	Matched      bool    `json:"matched"`
	Similarity   float64 `json:"similarity"`
}

// MetadataMapping assigns the synthetic upload columns to target field names.
// Empty means the role found no field.
type MetadataMapping struct {
	FileName   string `json:"file_name,omitempty"`
	FileSize   string `json:"file_size,omitempty"`
	FileType   string `json:"file_type,omitempty"`
	FileURL    string `json:"file_url,omitempty"`
	UploadTime string `json:"upload_time,omitempty"`
}

// TargetRecord maps target field names to coerced values.
type TargetRecord map[string]any

// Link is the structured value of a Url field.
type Link struct {
	Text string `json:"text"`
	Link string `json:"link"`
}

// Table identifies one table inside a remote app.
type Table struct {
	ID   string `json:"table_id"`
	Name string `json:"name"`
}

// TableRef addresses a table for record writes.
type TableRef struct {
	AppToken string `json:"app_token"`
	TableID  string `json:"table_id"`
}

func (r TableRef) String() string { return r.AppToken + "/" + r.TableID }

// Credentials are the application credentials exchanged for an access token.
type Credentials struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

// Empty reports whether either half of the pair is missing.
func (c Credentials) Empty() bool { return c.AppID == "" || c.AppSecret == "" }

// AccessToken is a short-lived tenant token.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token can still be used at now.
func (t AccessToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// BatchOutcome is the per-record result of one batch write call.
type BatchOutcome struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	RecordIDs []string `json:"record_ids,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// SyncRunResult accumulates across all chunks of one run.
type SyncRunResult struct {
	APICallCount    int    `json:"api_call_count"`
	SyncedRowCount  int    `json:"synced_row_count"`
	FailedRowCount  int    `json:"failed_row_count"`
	DroppedRowCount int    `json:"dropped_row_count"`
	FallbackCount   int    `json:"fallback_count"`
	ChunkCount      int    `json:"chunk_count"`
	ChunksCompleted int    `json:"chunks_completed"`
	Aborted         bool   `json:"aborted"`
	Message         string `json:"message"`
}

// CoercionWarning reports a cell that coerced through a fallback value.
// Row is -1 for file metadata values.
type CoercionWarning struct {
	Row    int       `json:"row"`
	Column string    `json:"column"`
	Field  string    `json:"field"`
	Kind   FieldKind `json:"kind"`
	Raw    string    `json:"raw"`
}

func (w CoercionWarning) String() string {
	if w.Row < 0 {
		return fmt.Sprintf("metadata -> %s (%s) used a fallback for %q", w.Field, w.Kind, w.Raw)
	}
	return fmt.Sprintf("row %d: %q -> %s (%s) used a fallback for %q", w.Row+1, w.Column, w.Field, w.Kind, w.Raw)
}
