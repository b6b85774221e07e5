// Package bitable is the client for the remote structured-table service.
package bitable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/logger"
	"github.com/okian/sheetsync/pkg/metrics"
)

// Client defaults.
const (
	DefaultBaseURL    = "https://open.feishu.cn/open-apis"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
	DefaultCacheTTL   = 5 * time.Minute

	// MaxBatchRecords is the remote limit for one batch_create call.
	MaxBatchRecords = 500

	listPageSize  = 100
	maxRecordPage = 500
	maxBodyBytes  = 16 << 20
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets the attempts made for a retryable failure.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay sets the base backoff; attempt k waits k times this.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithCacheTTL sets how long schema lookups are reused.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.cacheTTL = d
		}
	}
}

// WithCacheDisabled turns the schema cache off.
func WithCacheDisabled() Option {
	return func(c *Client) {
		c.cacheTTL = 0
	}
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock overrides the time source used for token and cache expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client talks to the remote table service. It is safe for concurrent use.
type Client struct {
	baseURL    string
	http       *http.Client
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	cacheTTL   time.Duration
	now        func() time.Time
	log        logger.Logger

	cache  *schemaCache
	tokens *tokenSource
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		http:       &http.Client{},
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		cacheTTL:   DefaultCacheTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("bitable")
	}
	c.cache = newSchemaCache(c.cacheTTL, c.now)
	c.tokens = newTokenSource(c)
	return c
}

// ListTables returns the tables of an app. skipCache forces a remote read
// and refreshes the cached copy.
func (c *Client) ListTables(ctx context.Context, creds model.Credentials, appToken string, skipCache bool) ([]model.Table, error) {
	const op = "list tables"
	if appToken == "" {
		return nil, newError(op, KindParamInvalid, "app token is required")
	}
	key := tablesKey(appToken)
	if !skipCache {
		if v, ok := c.cache.get(key); ok {
			return slices.Clone(v.([]model.Table)), nil
		}
	}

	items, err := listAll[tableItem](ctx, c, op, creds, appPath(appToken)+"/tables")
	if err != nil {
		return nil, err
	}
	tables := make([]model.Table, len(items))
	for i, it := range items {
		tables[i] = model.Table{ID: it.TableID, Name: it.Name}
	}
	c.cache.set(key, tables)
	return slices.Clone(tables), nil
}

// ListFields returns the schema of a table in remote order.
func (c *Client) ListFields(ctx context.Context, creds model.Credentials, ref model.TableRef, skipCache bool) ([]model.TargetField, error) {
	const op = "list fields"
	if err := checkRef(op, ref); err != nil {
		return nil, err
	}
	key := fieldsKey(ref.AppToken, ref.TableID)
	if !skipCache {
		if v, ok := c.cache.get(key); ok {
			return slices.Clone(v.([]model.TargetField)), nil
		}
	}

	items, err := listAll[fieldItem](ctx, c, op, creds, tablePath(ref)+"/fields")
	if err != nil {
		return nil, err
	}
	fields := make([]model.TargetField, len(items))
	for i, it := range items {
		fields[i] = it.toModel()
	}
	c.cache.set(key, fields)
	return slices.Clone(fields), nil
}

// BatchCreate writes up to MaxBatchRecords records in one call. Rows the
// remote rejects individually are reported in the outcome, not as an error.
func (c *Client) BatchCreate(ctx context.Context, creds model.Credentials, ref model.TableRef, records []model.TargetRecord) (model.BatchOutcome, error) {
	const op = "batch create"
	if err := checkRef(op, ref); err != nil {
		return model.BatchOutcome{}, err
	}
	if len(records) > MaxBatchRecords {
		return model.BatchOutcome{}, newError(op, KindParamInvalid,
			fmt.Sprintf("%d records exceed the batch limit of %d", len(records), MaxBatchRecords))
	}
	if len(records) == 0 {
		return model.BatchOutcome{}, nil
	}

	body := batchCreateRequest{Records: make([]recordFields, len(records))}
	for i, r := range records {
		body.Records[i] = recordFields{Fields: r}
	}
	var resp batchCreateResponse
	req := request{method: http.MethodPost, path: tablePath(ref) + "/records/batch_create", body: body}
	if err := c.do(ctx, op, &creds, req, &resp); err != nil {
		return model.BatchOutcome{}, err
	}

	var out model.BatchOutcome
	for _, r := range resp.Data.Records {
		if r.failed() {
			out.Failed++
			out.Errors = append(out.Errors, string(r.Error))
			continue
		}
		out.Succeeded++
		out.RecordIDs = append(out.RecordIDs, r.RecordID)
	}
	return out, nil
}

// CreateTable creates a table and drops the cached table list of the app.
func (c *Client) CreateTable(ctx context.Context, creds model.Credentials, appToken, name string, fields []FieldSpec) (model.Table, error) {
	const op = "create table"
	if appToken == "" || strings.TrimSpace(name) == "" {
		return model.Table{}, newError(op, KindParamInvalid, "app token and table name are required")
	}
	var body createTableRequest
	body.Table.Name = name
	body.Table.Fields = fields

	var resp createTableResponse
	req := request{method: http.MethodPost, path: appPath(appToken) + "/tables", body: body}
	if err := c.do(ctx, op, &creds, req, &resp); err != nil {
		return model.Table{}, err
	}
	c.InvalidateTables(appToken)
	c.log.Info(ctx, "table created", logger.String("app", appToken), logger.String("table_id", resp.Data.TableID))
	return model.Table{ID: resp.Data.TableID, Name: name}, nil
}

// CreateField adds a field and drops the cached schema of the table.
func (c *Client) CreateField(ctx context.Context, creds model.Credentials, ref model.TableRef, spec FieldSpec) (model.TargetField, error) {
	const op = "create field"
	if err := checkRef(op, ref); err != nil {
		return model.TargetField{}, err
	}
	if strings.TrimSpace(spec.Name) == "" || spec.Kind == model.KindUnsupported {
		return model.TargetField{}, newError(op, KindParamInvalid, "field name and a supported kind are required")
	}

	var resp createFieldResponse
	req := request{method: http.MethodPost, path: tablePath(ref) + "/fields", body: spec}
	if err := c.do(ctx, op, &creds, req, &resp); err != nil {
		return model.TargetField{}, err
	}
	c.InvalidateFields(ref)
	f := resp.Data.Field.toModel()
	if f.Name == "" {
		f.Name, f.Kind = spec.Name, spec.Kind
	}
	return f, nil
}

// ListRecords reads one page of stored records.
func (c *Client) ListRecords(ctx context.Context, creds model.Credentials, ref model.TableRef, pageSize int, pageToken string) (RecordPage, error) {
	const op = "list records"
	if err := checkRef(op, ref); err != nil {
		return RecordPage{}, err
	}
	if pageSize <= 0 || pageSize > maxRecordPage {
		pageSize = listPageSize
	}
	q := url.Values{"page_size": {strconv.Itoa(pageSize)}}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}

	var resp pageResponse[Record]
	req := request{method: http.MethodGet, path: tablePath(ref) + "/records", query: q}
	if err := c.do(ctx, op, &creds, req, &resp); err != nil {
		return RecordPage{}, err
	}
	return RecordPage{
		Records:   resp.Data.Items,
		HasMore:   resp.Data.HasMore,
		PageToken: resp.Data.PageToken,
		Total:     resp.Data.Total,
	}, nil
}

// InvalidateTables drops the cached table list of an app.
func (c *Client) InvalidateTables(appToken string) { c.cache.delete(tablesKey(appToken)) }

// InvalidateFields drops the cached schema of a table.
func (c *Client) InvalidateFields(ref model.TableRef) {
	c.cache.delete(fieldsKey(ref.AppToken, ref.TableID))
}

// InvalidateApp drops every cached entry of an app.
func (c *Client) InvalidateApp(appToken string) {
	c.cache.delete(tablesKey(appToken))
	c.cache.deletePrefix(fieldsKey(appToken, ""))
}

// ClearCache drops every cached schema entry. Tokens are kept.
func (c *Client) ClearCache() { c.cache.clear() }

// Stats reports cache occupancy.
func (c *Client) Stats() map[string]any {
	return map[string]any{
		"schema_cache_entries": c.cache.len(),
		"cached_tokens":        c.tokens.len(),
		"cache_ttl":            c.cacheTTL.String(),
	}
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
}

// do runs one logical call. creds is nil for the token endpoint.
func (c *Client) do(ctx context.Context, op string, creds *model.Credentials, r request, out any) error {
	refreshed := false
	for attempt := 1; ; {
		var token string
		if creds != nil {
			t, err := c.tokens.token(ctx, *creds)
			if err != nil {
				return err
			}
			token = t
		}

		err := c.attempt(ctx, op, token, r, out)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		kind, _ := KindOf(err)

		if creds != nil && !refreshed && kind == KindTokenExpired {
			refreshed = true
			c.tokens.invalidate(*creds)
			metrics.RecordRemoteRetry(op, string(kind))
			c.log.Debug(ctx, "token expired, refreshing", logger.String("op", op))
			continue
		}
		if !Retryable(err) || attempt >= c.maxRetries {
			return err
		}

		metrics.RecordRemoteRetry(op, string(kind))
		delay := c.retryDelay * time.Duration(attempt)
		c.log.Warn(ctx, "remote call failed, retrying",
			logger.String("op", op),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		attempt++
	}
}

func (c *Client) attempt(ctx context.Context, op, token string, r request, out any) error {
	start := time.Now()
	err := c.roundTrip(ctx, op, token, r, out)
	metrics.RecordRemoteRequest(op, err == nil, float64(time.Since(start).Milliseconds()))
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, token string, r request, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return &Error{Op: op, Kind: KindParamInvalid, Msg: "encode request", Err: err}
		}
		body = bytes.NewReader(b)
	}
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return &Error{Op: op, Kind: KindParamInvalid, Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Kind: KindServiceUnavailable, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Op: op, Kind: KindServiceUnavailable, Status: resp.StatusCode, Msg: "read response", Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		kind := KindServiceUnavailable
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = KindFromStatus(resp.StatusCode)
		}
		return &Error{Op: op, Kind: kind, Status: resp.StatusCode, Msg: "invalid response body", Err: err}
	}
	if env.Code != 0 {
		kind := KindFromResponse(env.Code, resp.StatusCode)
		if op == "auth" && kind == KindParamInvalid {
			kind = KindAuthenticationInvalid
		}
		return &Error{Op: op, Kind: kind, Code: env.Code, Status: resp.StatusCode, Msg: env.Msg}
	}
	if resp.StatusCode >= 400 {
		return &Error{Op: op, Kind: KindFromStatus(resp.StatusCode), Status: resp.StatusCode, Msg: env.Msg}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Op: op, Kind: KindServiceUnavailable, Status: resp.StatusCode, Msg: "decode response", Err: err}
		}
	}
	return nil
}

func listAll[T any](ctx context.Context, c *Client, op string, creds model.Credentials, path string) ([]T, error) {
	var all []T
	q := url.Values{"page_size": {strconv.Itoa(listPageSize)}}
	for {
		var resp pageResponse[T]
		req := request{method: http.MethodGet, path: path, query: q}
		if err := c.do(ctx, op, &creds, req, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Data.Items...)
		if !resp.Data.HasMore || resp.Data.PageToken == "" {
			return all, nil
		}
		q = url.Values{"page_size": {strconv.Itoa(listPageSize)}, "page_token": {resp.Data.PageToken}}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func checkRef(op string, ref model.TableRef) error {
	if ref.AppToken == "" || ref.TableID == "" {
		return newError(op, KindParamInvalid, "app token and table id are required")
	}
	return nil
}

func appPath(appToken string) string {
	return "/bitable/v1/apps/" + url.PathEscape(appToken)
}

func tablePath(ref model.TableRef) string {
	return appPath(ref.AppToken) + "/tables/" + url.PathEscape(ref.TableID)
}

// IsContextError reports whether err came from the caller's context.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
