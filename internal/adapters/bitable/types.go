package bitable

import (
	"encoding/json"

	"github.com/okian/sheetsync/internal/domain/model"
)

type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type tokenRequest struct {
	AppID     string `json:"app_id"`
	AppSecret string `json:"app_secret"`
}

type tokenResponse struct {
	envelope
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

type page[T any] struct {
	Items     []T    `json:"items"`
	HasMore   bool   `json:"has_more"`
	PageToken string `json:"page_token"`
	Total     int    `json:"total"`
}

type pageResponse[T any] struct {
	envelope
	Data page[T] `json:"data"`
}

type tableItem struct {
	TableID  string `json:"table_id"`
	Name     string `json:"name"`
	Revision int    `json:"revision,omitempty"`
}

type fieldItem struct {
	FieldID   string `json:"field_id"`
	FieldName string `json:"field_name"`
	Name      string `json:"name"`
	Type      int    `json:"type"`
}

func (f fieldItem) toModel() model.TargetField {
	name := f.FieldName
	if name == "" {
		name = f.Name
	}
	return model.TargetField{ID: f.FieldID, Name: name, Kind: model.KindFromWire(f.Type)}
}

type recordFields struct {
	Fields model.TargetRecord `json:"fields"`
}

type batchCreateRequest struct {
	Records []recordFields `json:"records"`
}

type recordItem struct {
	RecordID string          `json:"record_id"`
	Fields   map[string]any  `json:"fields,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
}

func (r recordItem) failed() bool {
	return len(r.Error) > 0 && string(r.Error) != "null"
}

type batchCreateResponse struct {
	envelope
	Data struct {
		Records []recordItem `json:"records"`
	} `json:"data"`
}

// FieldSpec describes a field to create.
type FieldSpec struct {
	Name string          `json:"field_name"`
	Kind model.FieldKind `json:"type"`
}

type createTableRequest struct {
	Table struct {
		Name   string      `json:"name"`
		Fields []FieldSpec `json:"fields,omitempty"`
	} `json:"table"`
}

type createTableResponse struct {
	envelope
	Data struct {
		TableID string `json:"table_id"`
	} `json:"data"`
}

type createFieldResponse struct {
	envelope
	Data struct {
		Field fieldItem `json:"field"`
	} `json:"data"`
}

// Record is a stored remote record.
type Record struct {
	ID     string         `json:"record_id"`
	Fields map[string]any `json:"fields"`
}

// RecordPage is one page of ListRecords.
type RecordPage struct {
	Records   []Record `json:"records"`
	HasMore   bool     `json:"has_more"`
	PageToken string   `json:"page_token,omitempty"`
	Total     int      `json:"total"`
}
