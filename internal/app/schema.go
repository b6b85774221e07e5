package service

import (
	"context"
	"fmt"

	"github.com/okian/sheetsync/internal/adapters/bitable"
	"github.com/okian/sheetsync/internal/domain/model"
)

// Tables lists the tables of an app.
func (s *Service) Tables(ctx context.Context, creds model.Credentials, appToken string, refresh bool) ([]model.Table, error) {
	if appToken == "" {
		return nil, fmt.Errorf("tables: %w: app token is required", ErrInvalidRequest)
	}
	return s.remote.ListTables(ctx, creds, appToken, refresh)
}

// Fields lists the fields of a table.
func (s *Service) Fields(ctx context.Context, creds model.Credentials, ref model.TableRef, refresh bool) ([]model.TargetField, error) {
	return s.remote.ListFields(ctx, creds, ref, refresh)
}

// CreateTable creates a table with the given fields.
func (s *Service) CreateTable(ctx context.Context, creds model.Credentials, appToken, name string, fields []bitable.FieldSpec) (model.Table, error) {
	return s.remote.CreateTable(ctx, creds, appToken, name, fields)
}

// CreateField adds one field to a table.
func (s *Service) CreateField(ctx context.Context, creds model.Credentials, ref model.TableRef, spec bitable.FieldSpec) (model.TargetField, error) {
	return s.remote.CreateField(ctx, creds, ref, spec)
}

// Records reads one page of records stored in a table.
func (s *Service) Records(ctx context.Context, creds model.Credentials, ref model.TableRef, pageSize int, pageToken string) (bitable.RecordPage, error) {
	return s.remote.ListRecords(ctx, creds, ref, pageSize, pageToken)
}

// InvalidateSchema drops cached schema for a table, or for the whole app
// when tableID is empty.
func (s *Service) InvalidateSchema(appToken, tableID string) {
	if tableID == "" {
		s.remote.InvalidateApp(appToken)
		return
	}
	s.remote.InvalidateFields(model.TableRef{AppToken: appToken, TableID: tableID})
}
