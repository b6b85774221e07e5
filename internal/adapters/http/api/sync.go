package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"

	"github.com/okian/sheetsync/internal/adapters/bitable"
	service "github.com/okian/sheetsync/internal/app"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/logger"
	"github.com/spf13/cast"
)

// Request headers.
const (
	HeaderAppID          = "X-App-Id"
	HeaderAppSecret      = "X-App-Secret"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// multipart bodies keep at most this much in memory; the rest spills to disk.
const multipartMemory = 8 << 20

// SyncHandler handles plan and sync requests.
type SyncHandler struct {
	deps      Dependencies
	maxUpload int64
	logger    logger.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(deps Dependencies) *SyncHandler {
	return &SyncHandler{
		deps:      deps,
		maxUpload: DefaultMaxUploadBytes,
		logger:    logger.Get().Named("api"),
	}
}

// planRequest mirrors the OpenAPI schema for POST /v1/plan.
type planRequest struct {
	AppID         string          `json:"app_id"`
	AppSecret     string          `json:"app_secret"`
	Link          string          `json:"link"`
	AppToken      string          `json:"app_token"`
	TableID       string          `json:"table_id"`
	Columns       []string        `json:"columns"`
	File          *model.FileInfo `json:"file"`
	RefreshSchema bool            `json:"refresh_schema"`
}

// syncRequest mirrors the OpenAPI schema for a JSON POST /v1/sync.
type syncRequest struct {
	AppID         string           `json:"app_id"`
	AppSecret     string           `json:"app_secret"`
	Link          string           `json:"link"`
	AppToken      string           `json:"app_token"`
	TableIDs      []string         `json:"table_ids"`
	Columns       []string         `json:"columns"`
	Rows          []map[string]any `json:"rows"`
	RefreshSchema bool             `json:"refresh_schema"`
}

type acceptedResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// HandlePlan handles POST /v1/plan requests.
func (h *SyncHandler) HandlePlan(w http.ResponseWriter, r *http.Request) {
	const op = "api.plan"
	var body planRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, h.maxUpload), &body); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	appToken, tableIDs, err := resolveTarget(body.Link, body.AppToken, []string{body.TableID})
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	req := service.PlanRequest{
		Credentials:   credentials(r, body.AppID, body.AppSecret),
		AppToken:      appToken,
		Columns:       body.Columns,
		File:          body.File,
		RefreshSchema: body.RefreshSchema,
	}
	if len(tableIDs) > 0 {
		req.TableID = tableIDs[0]
	}

	res, err := h.deps.Plan(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSync handles POST /v1/sync requests. Multipart bodies carry a file,
// JSON bodies carry rows. With ?async=true the run is queued and 202 is
// returned with the job id.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	const op = "api.sync"
	var (
		req model.SyncRequest
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		req, err = h.fromMultipart(w, r)
	} else {
		req, err = h.fromJSON(w, r)
	}
	if err != nil {
		writeFailure(w, fmt.Errorf("%s: %w", op, err))
		return
	}

	if !cast.ToBool(r.URL.Query().Get("async")) {
		run, err := h.deps.Import(r.Context(), req)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
		return
	}

	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	id, dup, err := h.deps.Submit(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if dup {
		writeJSON(w, http.StatusOK, acceptedResponse{JobID: id, Status: "duplicate", Duplicate: true})
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+id)
	writeJSON(w, http.StatusAccepted, acceptedResponse{JobID: id, Status: "queued"})
}

func (h *SyncHandler) fromJSON(w http.ResponseWriter, r *http.Request) (model.SyncRequest, error) {
	var body syncRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, h.maxUpload), &body); err != nil {
		return model.SyncRequest{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	appToken, tableIDs, err := resolveTarget(body.Link, body.AppToken, body.TableIDs)
	if err != nil {
		return model.SyncRequest{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	columns := body.Columns
	if len(columns) == 0 {
		columns = columnsOf(body.Rows)
	}
	rows := make([]model.SourceRow, len(body.Rows))
	for i, row := range body.Rows {
		rows[i] = model.SourceRow(row)
	}
	return model.SyncRequest{
		Credentials:   credentials(r, body.AppID, body.AppSecret),
		AppToken:      appToken,
		TableIDs:      tableIDs,
		Dataset:       model.Dataset{Columns: columns, Rows: rows},
		RefreshSchema: body.RefreshSchema,
		Source:        "api",
	}, nil
}

func (h *SyncHandler) fromMultipart(w http.ResponseWriter, r *http.Request) (model.SyncRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return model.SyncRequest{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	appToken, tableIDs, err := resolveTarget(r.FormValue("link"), r.FormValue("appToken"), formList(r, "tableId"))
	if err != nil {
		return model.SyncRequest{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return model.SyncRequest{}, fmt.Errorf("%w: file: %w", ErrBadRequest, err)
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		return model.SyncRequest{}, fmt.Errorf("read upload: %w", err)
	}

	dataset, info, err := h.deps.PrepareUpload(r.Context(), header.Filename, data, r.FormValue("sheetName"))
	if err != nil {
		return model.SyncRequest{}, err
	}
	h.logger.Debug(r.Context(), "upload prepared",
		logger.String("file", info.Name),
		logger.Int64("size", info.Size),
		logger.Int("rows", len(dataset.Rows)),
	)
	return model.SyncRequest{
		Credentials:   credentials(r, r.FormValue("appId"), r.FormValue("appSecret")),
		AppToken:      appToken,
		TableIDs:      tableIDs,
		Dataset:       dataset,
		File:          &info,
		RefreshSchema: cast.ToBool(r.FormValue("refreshSchema")),
		Source:        "upload:" + info.Name,
	}, nil
}

// decodeJSON decodes one JSON document; numbers stay json.Number so large
// identifiers and compact dates survive.
func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// resolveTarget returns the app token and table ids, taking them from link
// when it is set. Table ids given explicitly win over the one in the link.
func resolveTarget(link, appToken string, tableIDs []string) (string, []string, error) {
	ids := make([]string, 0, len(tableIDs))
	for _, id := range tableIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if link = strings.TrimSpace(link); link != "" {
		ref, err := bitable.ParseLink(link)
		if err != nil {
			return "", nil, err
		}
		if len(ids) == 0 && ref.TableID != "" {
			ids = append(ids, ref.TableID)
		}
		return ref.AppToken, ids, nil
	}
	appToken = strings.TrimSpace(appToken)
	if appToken == "" {
		return "", nil, errors.New("link or app token is required")
	}
	return appToken, ids, nil
}

// credentials prefers the request headers over the body fields.
func credentials(r *http.Request, appID, appSecret string) model.Credentials {
	if v := strings.TrimSpace(r.Header.Get(HeaderAppID)); v != "" {
		appID = v
	}
	if v := strings.TrimSpace(r.Header.Get(HeaderAppSecret)); v != "" {
		appSecret = v
	}
	return model.Credentials{AppID: strings.TrimSpace(appID), AppSecret: strings.TrimSpace(appSecret)}
}

// formList returns every value of key, splitting comma separated values.
func formList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.MultipartForm.Value[key] {
		out = append(out, strings.Split(v, ",")...)
	}
	return out
}

// columnsOf returns the sorted union of the row keys.
func columnsOf(rows []map[string]any) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	slices.Sort(cols)
	return cols
}
