package api

import (
	"net/http"
	"strings"

	"github.com/okian/sheetsync/internal/adapters/bitable"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/spf13/cast"
)

// TablesHandler exposes the remote schema. Credentials travel in the
// X-App-Id and X-App-Secret headers; the app comes from app_token or link.
type TablesHandler struct {
	deps Dependencies
}

// NewTablesHandler creates a new tables handler.
func NewTablesHandler(deps Dependencies) *TablesHandler {
	return &TablesHandler{deps: deps}
}

type createTableRequest struct {
	AppToken string              `json:"app_token"`
	Link     string              `json:"link"`
	Name     string              `json:"name"`
	Fields   []bitable.FieldSpec `json:"fields"`
}

type createFieldRequest struct {
	AppToken string `json:"app_token"`
	Link     string `json:"link"`
	bitable.FieldSpec
}

type fieldsResponse struct {
	TableID string              `json:"table_id"`
	Fields  []model.TargetField `json:"fields"`
}

// HandleList handles GET /v1/tables requests.
func (h *TablesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_tables"
	appToken, err := appFromQuery(r)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	tables, err := h.deps.Tables(r.Context(), credentials(r, "", ""), appToken, refresh(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"app_token": appToken, "tables": tables})
}

// HandleCreate handles POST /v1/tables requests.
func (h *TablesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_table"
	var body createTableRequest
	if err := decodeJSON(r.Body, &body); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	appToken, _, err := resolveTarget(body.Link, body.AppToken, nil)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeFailure(w, NewKind(op+": missing name", ErrBadRequest))
		return
	}
	table, err := h.deps.CreateTable(r.Context(), credentials(r, "", ""), appToken, strings.TrimSpace(body.Name), body.Fields)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, table)
}

// HandleFields handles GET /v1/tables/{tableId}/fields requests.
func (h *TablesHandler) HandleFields(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_fields"
	ref, err := tableFromRequest(r)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	fields, err := h.deps.Fields(r.Context(), credentials(r, "", ""), ref, refresh(r))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fieldsResponse{TableID: ref.TableID, Fields: fields})
}

// HandleCreateField handles POST /v1/tables/{tableId}/fields requests.
func (h *TablesHandler) HandleCreateField(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_field"
	var body createFieldRequest
	if err := decodeJSON(r.Body, &body); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	appToken, _, err := resolveTarget(body.Link, body.AppToken, nil)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeFailure(w, NewKind(op+": missing field_name", ErrBadRequest))
		return
	}
	ref := model.TableRef{AppToken: appToken, TableID: r.PathValue("tableId")}
	field, err := h.deps.CreateField(r.Context(), credentials(r, "", ""), ref, body.FieldSpec)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, field)
}

// HandleRecords handles GET /v1/tables/{tableId}/records requests.
func (h *TablesHandler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_records"
	ref, err := tableFromRequest(r)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	q := r.URL.Query()
	pageSize := 0
	if v := q.Get("page_size"); v != "" {
		if pageSize, err = cast.ToIntE(v); err != nil {
			writeFailure(w, WrapKind(op, ErrBadRequest, err))
			return
		}
	}
	page, err := h.deps.Records(r.Context(), credentials(r, "", ""), ref, pageSize, q.Get("page_token"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleInvalidate handles DELETE /v1/cache?app_token=..[&table_id=..] requests.
func (h *TablesHandler) HandleInvalidate(w http.ResponseWriter, r *http.Request) {
	const op = "api.invalidate"
	appToken, err := appFromQuery(r)
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	h.deps.InvalidateSchema(appToken, r.URL.Query().Get("table_id"))
	w.WriteHeader(http.StatusNoContent)
}

func appFromQuery(r *http.Request) (string, error) {
	q := r.URL.Query()
	appToken, _, err := resolveTarget(q.Get("link"), q.Get("app_token"), nil)
	return appToken, err
}

func tableFromRequest(r *http.Request) (model.TableRef, error) {
	appToken, err := appFromQuery(r)
	if err != nil {
		return model.TableRef{}, err
	}
	return model.TableRef{AppToken: appToken, TableID: r.PathValue("tableId")}, nil
}

func refresh(r *http.Request) bool {
	return cast.ToBool(r.URL.Query().Get("refresh"))
}
