package service_test

import (
	"context"
	"errors"
	"sync"

	"github.com/okian/sheetsync/internal/adapters/bitable"
	"github.com/okian/sheetsync/internal/domain/model"
)

type fakeRemote struct {
	mu          sync.Mutex
	tables      []model.Table
	fields      map[string][]model.TargetField
	fieldErr    map[string]error
	batchErr    error
	batches     map[string][][]model.TargetRecord
	invalidated []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		tables: []model.Table{{ID: "tblPeople", Name: "People"}, {ID: "tblArchive", Name: "Archive"}},
		fields: map[string][]model.TargetField{
			"tblPeople": {
				{ID: "f1", Name: "Name", Kind: model.KindText},
				{ID: "f2", Name: "Age", Kind: model.KindNumber},
				{ID: "f3", Name: "Joined", Kind: model.KindDate},
				{ID: "f4", Name: "文件名", Kind: model.KindText},
				{ID: "f5", Name: "文件链接", Kind: model.KindURL},
			},
			"tblArchive": {
				{ID: "g1", Name: "Name", Kind: model.KindText},
			},
		},
		fieldErr: map[string]error{},
		batches:  map[string][][]model.TargetRecord{},
	}
}

func (f *fakeRemote) ListTables(_ context.Context, creds model.Credentials, _ string, _ bool) ([]model.Table, error) {
	if creds.Empty() {
		return nil, bitable.ErrAuthenticationMissing
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Table(nil), f.tables...), nil
}

func (f *fakeRemote) ListFields(_ context.Context, _ model.Credentials, ref model.TableRef, _ bool) ([]model.TargetField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fieldErr[ref.TableID]; err != nil {
		return nil, err
	}
	fields, ok := f.fields[ref.TableID]
	if !ok {
		return nil, bitable.ErrResourceNotFound
	}
	return fields, nil
}

func (f *fakeRemote) BatchCreate(_ context.Context, _ model.Credentials, ref model.TableRef, records []model.TargetRecord) (model.BatchOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return model.BatchOutcome{}, f.batchErr
	}
	f.batches[ref.TableID] = append(f.batches[ref.TableID], records)
	return model.BatchOutcome{Succeeded: len(records)}, nil
}

func (f *fakeRemote) CreateTable(_ context.Context, _ model.Credentials, _, name string, _ []bitable.FieldSpec) (model.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := model.Table{ID: "tblNew", Name: name}
	f.tables = append(f.tables, t)
	return t, nil
}

func (f *fakeRemote) CreateField(_ context.Context, _ model.Credentials, ref model.TableRef, spec bitable.FieldSpec) (model.TargetField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.fields[ref.TableID]; !ok {
		return model.TargetField{}, errors.New("no such table")
	}
	field := model.TargetField{ID: "fNew", Name: spec.Name, Kind: spec.Kind}
	f.fields[ref.TableID] = append(f.fields[ref.TableID], field)
	return field, nil
}

func (f *fakeRemote) ListRecords(context.Context, model.Credentials, model.TableRef, int, string) (bitable.RecordPage, error) {
	return bitable.RecordPage{Records: []bitable.Record{{ID: "rec1"}}}, nil
}

func (f *fakeRemote) InvalidateApp(appToken string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, appToken)
}

func (f *fakeRemote) InvalidateFields(ref model.TableRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, ref.String())
}

func (f *fakeRemote) Stats() map[string]any { return map[string]any{"fake": true} }

func (f *fakeRemote) written(tableID string) []model.TargetRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.TargetRecord
	for _, b := range f.batches[tableID] {
		out = append(out, b...)
	}
	return out
}

func (f *fakeRemote) calls(tableID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches[tableID])
}
