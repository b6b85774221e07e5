package bitable_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/sheetsync/internal/adapters/bitable"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var creds = model.Credentials{AppID: "cli_a1b2c3d4e5", AppSecret: "s3cret"}

// fakeRemote mimics the remote API. Hooks let a test inject failures.
type fakeRemote struct {
	tokenCalls   atomic.Int32
	tableCalls   atomic.Int32
	fieldCalls   atomic.Int32
	batchCalls   atomic.Int32
	tokenLatency time.Duration

	mu       sync.Mutex
	lastAuth string
	batches  [][]map[string]any
	// batchHook may write its own response; returning true skips the default.
	batchHook func(w http.ResponseWriter, call int32) bool
}

func (f *fakeRemote) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenCalls.Add(1)
		time.Sleep(f.tokenLatency)
		var req struct {
			AppID     string `json:"app_id"`
			AppSecret string `json:"app_secret"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.AppSecret != "s3cret" {
			writeJSON(w, http.StatusOK, map[string]any{"code": 10014, "msg": "app secret invalid"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"code": 0, "msg": "ok", "tenant_access_token": "t-" + string(rune('0'+n)), "expire": 7200,
		})
	})
	mux.HandleFunc("GET /bitable/v1/apps/{app}/tables", func(w http.ResponseWriter, r *http.Request) {
		f.tableCalls.Add(1)
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		f.mu.Unlock()
		if r.PathValue("app") == "missing" {
			writeJSON(w, http.StatusOK, map[string]any{"code": 99991704, "msg": "not found"})
			return
		}
		if r.URL.Query().Get("page_token") == "" {
			writeJSON(w, http.StatusOK, map[string]any{"code": 0, "data": map[string]any{
				"items":    []map[string]any{{"table_id": "tbl1", "name": "Orders"}, {"table_id": "tbl2", "name": "Files"}},
				"has_more": true, "page_token": "p2",
			}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"code": 0, "data": map[string]any{
			"items":    []map[string]any{{"table_id": "tbl3", "name": "Archive"}},
			"has_more": false,
		}})
	})
	mux.HandleFunc("POST /bitable/v1/apps/{app}/tables", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"code": 0, "data": map[string]any{"table_id": "tblNew"}})
	})
	mux.HandleFunc("GET /bitable/v1/apps/{app}/tables/{table}/fields", func(w http.ResponseWriter, _ *http.Request) {
		f.fieldCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"code": 0, "data": map[string]any{
			"items": []map[string]any{
				{"field_id": "fld1", "field_name": "客户名称", "type": 1},
				{"field_id": "fld2", "name": "金额", "type": 2},
				{"field_id": "fld3", "field_name": "公式", "type": 20},
			},
		}})
	})
	mux.HandleFunc("POST /bitable/v1/apps/{app}/tables/{table}/fields", func(w http.ResponseWriter, r *http.Request) {
		var spec map[string]any
		_ = json.NewDecoder(r.Body).Decode(&spec)
		writeJSON(w, http.StatusOK, map[string]any{"code": 0, "data": map[string]any{
			"field": map[string]any{"field_id": "fldNew", "field_name": spec["field_name"], "type": spec["type"]},
		}})
	})
	mux.HandleFunc("GET /bitable/v1/apps/{app}/tables/{table}/records", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"code": 0, "data": map[string]any{
			"items":    []map[string]any{{"record_id": "rec1", "fields": map[string]any{"客户名称": "Acme"}}},
			"has_more": true, "page_token": "next", "total": 2,
		}})
	})
	mux.HandleFunc("POST /bitable/v1/apps/{app}/tables/{table}/records/batch_create", func(w http.ResponseWriter, r *http.Request) {
		n := f.batchCalls.Add(1)
		if f.batchHook != nil && f.batchHook(w, n) {
			return
		}
		var body struct {
			Records []struct {
				Fields map[string]any `json:"fields"`
			} `json:"records"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		out := make([]map[string]any, 0, len(body.Records))
		batch := make([]map[string]any, 0, len(body.Records))
		for i, rec := range body.Records {
			batch = append(batch, rec.Fields)
			if rec.Fields["reject"] == true {
				out = append(out, map[string]any{"error": map[string]any{"code": 1254060, "msg": "TextFieldConvFail"}})
				continue
			}
			out = append(out, map[string]any{"record_id": "rec" + string(rune('a'+i)), "fields": rec.Fields})
		}
		f.mu.Lock()
		f.batches = append(f.batches, batch)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"code": 0, "data": map[string]any{"records": out}})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newClient(srv *httptest.Server, opts ...bitable.Option) *bitable.Client {
	base := []bitable.Option{
		bitable.WithBaseURL(srv.URL),
		bitable.WithRetryDelay(time.Millisecond),
		bitable.WithTimeout(2 * time.Second),
	}
	return bitable.New(append(base, opts...)...)
}

func TestClientSchema(t *testing.T) {
	Convey("Given a client against a fake remote", t, func() {
		remote := &fakeRemote{}
		srv := httptest.NewServer(remote.handler())
		defer srv.Close()
		c := newClient(srv)
		ctx := context.Background()

		Convey("Tables are read across pages", func() {
			tables, err := c.ListTables(ctx, creds, "app1", false)
			So(err, ShouldBeNil)
			So(tables, ShouldResemble, []model.Table{
				{ID: "tbl1", Name: "Orders"}, {ID: "tbl2", Name: "Files"}, {ID: "tbl3", Name: "Archive"},
			})
			So(remote.tableCalls.Load(), ShouldEqual, 2)
			So(remote.lastAuth, ShouldEqual, "Bearer t-1")
		})

		Convey("Table lists are cached until skipped or invalidated", func() {
			_, _ = c.ListTables(ctx, creds, "app1", false)
			_, _ = c.ListTables(ctx, creds, "app1", false)
			So(remote.tableCalls.Load(), ShouldEqual, 2)

			_, _ = c.ListTables(ctx, creds, "app1", true)
			So(remote.tableCalls.Load(), ShouldEqual, 4)

			_, err := c.CreateTable(ctx, creds, "app1", "New", []bitable.FieldSpec{{Name: "Title", Kind: model.KindText}})
			So(err, ShouldBeNil)
			_, _ = c.ListTables(ctx, creds, "app1", false)
			So(remote.tableCalls.Load(), ShouldEqual, 6)
		})

		Convey("Fields fall back to name and map unknown kinds", func() {
			fields, err := c.ListFields(ctx, creds, model.TableRef{AppToken: "app1", TableID: "tbl1"}, false)
			So(err, ShouldBeNil)
			So(fields, ShouldResemble, []model.TargetField{
				{ID: "fld1", Name: "客户名称", Kind: model.KindText},
				{ID: "fld2", Name: "金额", Kind: model.KindNumber},
				{ID: "fld3", Name: "公式", Kind: model.KindUnsupported},
			})
		})

		Convey("Creating a field invalidates the cached schema", func() {
			ref := model.TableRef{AppToken: "app1", TableID: "tbl1"}
			_, _ = c.ListFields(ctx, creds, ref, false)
			f, err := c.CreateField(ctx, creds, ref, bitable.FieldSpec{Name: "备注", Kind: model.KindText})
			So(err, ShouldBeNil)
			So(f, ShouldResemble, model.TargetField{ID: "fldNew", Name: "备注", Kind: model.KindText})
			_, _ = c.ListFields(ctx, creds, ref, false)
			So(remote.fieldCalls.Load(), ShouldEqual, 2)
		})

		Convey("A disabled cache always reads through", func() {
			nc := newClient(srv, bitable.WithCacheDisabled())
			ref := model.TableRef{AppToken: "app1", TableID: "tbl1"}
			_, _ = nc.ListFields(ctx, creds, ref, false)
			_, _ = nc.ListFields(ctx, creds, ref, false)
			So(remote.fieldCalls.Load(), ShouldEqual, 2)
		})

		Convey("Records are paged", func() {
			page, err := c.ListRecords(ctx, creds, model.TableRef{AppToken: "app1", TableID: "tbl1"}, 1, "")
			So(err, ShouldBeNil)
			So(page.Records, ShouldHaveLength, 1)
			So(page.HasMore, ShouldBeTrue)
			So(page.PageToken, ShouldEqual, "next")
		})
	})
}

func TestClientTokens(t *testing.T) {
	Convey("Given a client against a fake remote", t, func() {
		remote := &fakeRemote{tokenLatency: 50 * time.Millisecond}
		srv := httptest.NewServer(remote.handler())
		defer srv.Close()
		c := newClient(srv, bitable.WithCacheDisabled())
		ctx := context.Background()

		Convey("Concurrent callers share one token refresh", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = c.ListTables(ctx, creds, "app1", false)
				}()
			}
			wg.Wait()
			So(remote.tokenCalls.Load(), ShouldEqual, 1)
		})

		Convey("Missing credentials fail before any request", func() {
			_, err := c.ListTables(ctx, model.Credentials{AppID: "cli_x"}, "app1", false)
			So(errors.Is(err, bitable.ErrAuthenticationMissing), ShouldBeTrue)
			So(remote.tokenCalls.Load(), ShouldEqual, 0)
			So(remote.tableCalls.Load(), ShouldEqual, 0)
		})

		Convey("A rejected secret is an authentication error", func() {
			_, err := c.ListTables(ctx, model.Credentials{AppID: "cli_x", AppSecret: "wrong"}, "app1", false)
			So(errors.Is(err, bitable.ErrAuthenticationInvalid), ShouldBeTrue)
			So(remote.tokenCalls.Load(), ShouldEqual, 1)
		})

		Convey("An expired token is refreshed once and the call retried", func() {
			remote.batchHook = func(w http.ResponseWriter, call int32) bool {
				if call == 1 {
					writeJSON(w, http.StatusOK, map[string]any{"code": 99991671, "msg": "token expired"})
					return true
				}
				return false
			}
			out, err := c.BatchCreate(ctx, creds, model.TableRef{AppToken: "app1", TableID: "tbl1"},
				[]model.TargetRecord{{"客户名称": "Acme"}})
			So(err, ShouldBeNil)
			So(out.Succeeded, ShouldEqual, 1)
			So(remote.tokenCalls.Load(), ShouldEqual, 2)
			So(remote.batchCalls.Load(), ShouldEqual, 2)
		})

		Convey("A token that keeps expiring is not refreshed twice", func() {
			remote.batchHook = func(w http.ResponseWriter, _ int32) bool {
				writeJSON(w, http.StatusOK, map[string]any{"code": 99991668, "msg": "token invalid"})
				return true
			}
			_, err := c.BatchCreate(ctx, creds, model.TableRef{AppToken: "app1", TableID: "tbl1"},
				[]model.TargetRecord{{"客户名称": "Acme"}})
			So(errors.Is(err, bitable.ErrTokenExpired), ShouldBeTrue)
			So(remote.batchCalls.Load(), ShouldEqual, 2)
		})
	})
}

func TestClientSharedRefresh(t *testing.T) {
	Convey("Given a slow token endpoint", t, func() {
		remote := &fakeRemote{tokenLatency: 300 * time.Millisecond}
		srv := httptest.NewServer(remote.handler())
		defer srv.Close()
		c := newClient(srv, bitable.WithCacheDisabled())

		Convey("A caller that gives up does not fail the others waiting on the refresh", func() {
			short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			var (
				wg       sync.WaitGroup
				shortErr error
				longErr  error
			)
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, shortErr = c.ListTables(short, creds, "app1", false)
			}()
			go func() {
				defer wg.Done()
				time.Sleep(10 * time.Millisecond)
				_, longErr = c.ListTables(context.Background(), creds, "app1", false)
			}()
			wg.Wait()

			So(errors.Is(shortErr, context.DeadlineExceeded), ShouldBeTrue)
			So(longErr, ShouldBeNil)
			So(remote.tokenCalls.Load(), ShouldEqual, 1)
		})
	})
}

// manualClock is a time source tests move by hand.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func TestClientExpiry(t *testing.T) {
	Convey("Given a client on a manual clock", t, func() {
		remote := &fakeRemote{}
		srv := httptest.NewServer(remote.handler())
		defer srv.Close()
		clock := &manualClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
		ctx := context.Background()

		Convey("Tokens are replaced a minute before the remote expiry", func() {
			c := newClient(srv, bitable.WithClock(clock.Now), bitable.WithCacheDisabled())
			_, err := c.ListTables(ctx, creds, "app1", false)
			So(err, ShouldBeNil)
			So(remote.tokenCalls.Load(), ShouldEqual, 1)

			clock.Advance(7139 * time.Second)
			_, err = c.ListTables(ctx, creds, "app1", false)
			So(err, ShouldBeNil)
			So(remote.tokenCalls.Load(), ShouldEqual, 1)

			clock.Advance(2 * time.Second)
			_, err = c.ListTables(ctx, creds, "app1", false)
			So(err, ShouldBeNil)
			So(remote.tokenCalls.Load(), ShouldEqual, 2)
			So(remote.lastAuth, ShouldEqual, "Bearer t-2")
		})

		Convey("Cached fields are read again once the TTL passes", func() {
			c := newClient(srv, bitable.WithClock(clock.Now), bitable.WithCacheTTL(time.Minute))
			ref := model.TableRef{AppToken: "app1", TableID: "tbl1"}

			_, err := c.ListFields(ctx, creds, ref, false)
			So(err, ShouldBeNil)
			clock.Advance(59 * time.Second)
			_, _ = c.ListFields(ctx, creds, ref, false)
			So(remote.fieldCalls.Load(), ShouldEqual, 1)

			clock.Advance(2 * time.Second)
			_, _ = c.ListFields(ctx, creds, ref, false)
			So(remote.fieldCalls.Load(), ShouldEqual, 2)
		})
	})
}

func TestClientBatchCreate(t *testing.T) {
	Convey("Given a client against a fake remote", t, func() {
		remote := &fakeRemote{}
		srv := httptest.NewServer(remote.handler())
		defer srv.Close()
		c := newClient(srv)
		ctx := context.Background()
		ref := model.TableRef{AppToken: "app1", TableID: "tbl1"}

		Convey("Per-record errors are counted, not returned", func() {
			out, err := c.BatchCreate(ctx, creds, ref, []model.TargetRecord{
				{"客户名称": "A"}, {"reject": true}, {"客户名称": "C", "金额": 12.35},
			})
			So(err, ShouldBeNil)
			So(out.Succeeded, ShouldEqual, 2)
			So(out.Failed, ShouldEqual, 1)
			So(out.RecordIDs, ShouldResemble, []string{"reca", "recc"})
			So(out.Errors[0], ShouldContainSubstring, "TextFieldConvFail")
			So(remote.batches[0][2]["金额"], ShouldEqual, 12.35)
		})

		Convey("Links are sent as objects", func() {
			_, err := c.BatchCreate(ctx, creds, ref, []model.TargetRecord{
				{"链接": model.Link{Text: "https://x.test", Link: "https://x.test"}},
			})
			So(err, ShouldBeNil)
			So(remote.batches[0][0]["链接"], ShouldResemble, map[string]any{"text": "https://x.test", "link": "https://x.test"})
		})

		Convey("Oversized batches are rejected locally", func() {
			_, err := c.BatchCreate(ctx, creds, ref, make([]model.TargetRecord, bitable.MaxBatchRecords+1))
			So(errors.Is(err, bitable.ErrParamInvalid), ShouldBeTrue)
			So(remote.batchCalls.Load(), ShouldEqual, 0)
		})
	})
}

func TestClientRetries(t *testing.T) {
	ref := model.TableRef{AppToken: "app1", TableID: "tbl1"}
	recs := []model.TargetRecord{{"客户名称": "Acme"}}

	Convey("Given a remote that fails transiently", t, func() {
		remote := &fakeRemote{}
		srv := httptest.NewServer(remote.handler())
		defer srv.Close()
		c := newClient(srv)
		ctx := context.Background()

		Convey("Unavailable responses are retried until they succeed", func() {
			remote.batchHook = func(w http.ResponseWriter, call int32) bool {
				if call < 3 {
					w.WriteHeader(http.StatusServiceUnavailable)
					_, _ = w.Write([]byte("<html>bad gateway</html>"))
					return true
				}
				return false
			}
			out, err := c.BatchCreate(ctx, creds, ref, recs)
			So(err, ShouldBeNil)
			So(out.Succeeded, ShouldEqual, 1)
			So(remote.batchCalls.Load(), ShouldEqual, 3)
		})

		Convey("Retries stop at the configured maximum", func() {
			remote.batchHook = func(w http.ResponseWriter, _ int32) bool {
				writeJSON(w, http.StatusOK, map[string]any{"code": 99991400, "msg": "request too frequent"})
				return true
			}
			_, err := c.BatchCreate(ctx, creds, ref, recs)
			So(errors.Is(err, bitable.ErrRateLimited), ShouldBeTrue)
			So(bitable.Retryable(err), ShouldBeTrue)
			So(remote.batchCalls.Load(), ShouldEqual, bitable.DefaultMaxRetries)
		})

		Convey("Throttled statuses are retried whatever their body code", func() {
			remote.batchHook = func(w http.ResponseWriter, call int32) bool {
				switch call {
				case 1:
					writeJSON(w, http.StatusTooManyRequests, map[string]any{"code": 1254999, "msg": "slow down"})
					return true
				case 2:
					writeJSON(w, http.StatusInternalServerError, map[string]any{"code": 1255001, "msg": "internal"})
					return true
				}
				return false
			}
			out, err := c.BatchCreate(ctx, creds, ref, recs)
			So(err, ShouldBeNil)
			So(out.Succeeded, ShouldEqual, 1)
			So(remote.batchCalls.Load(), ShouldEqual, 3)
		})

		Convey("Known rate-limit codes are retried", func() {
			remote.batchHook = func(w http.ResponseWriter, _ int32) bool {
				writeJSON(w, http.StatusTooManyRequests, map[string]any{"code": 1254290, "msg": "TooManyRequest"})
				return true
			}
			_, err := c.BatchCreate(ctx, creds, ref, recs)
			So(errors.Is(err, bitable.ErrRateLimited), ShouldBeTrue)
			So(remote.batchCalls.Load(), ShouldEqual, bitable.DefaultMaxRetries)
		})

		Convey("Fatal kinds are not retried", func() {
			_, err := c.ListTables(ctx, creds, "missing", false)
			So(errors.Is(err, bitable.ErrResourceNotFound), ShouldBeTrue)
			So(remote.tableCalls.Load(), ShouldEqual, 1)

			kind, ok := bitable.KindOf(err)
			So(ok, ShouldBeTrue)
			So(kind, ShouldEqual, bitable.KindResourceNotFound)
		})

		Convey("Status codes classify bodies without a code", func() {
			remote.batchHook = func(w http.ResponseWriter, _ int32) bool {
				writeJSON(w, http.StatusForbidden, map[string]any{})
				return true
			}
			_, err := c.BatchCreate(ctx, creds, ref, recs)
			So(errors.Is(err, bitable.ErrAuthenticationInvalid), ShouldBeTrue)
			So(remote.batchCalls.Load(), ShouldEqual, 1)
		})

		Convey("A cancelled caller stops the backoff", func() {
			slow := newClient(srv, bitable.WithRetryDelay(time.Hour))
			remote.batchHook = func(w http.ResponseWriter, _ int32) bool {
				w.WriteHeader(http.StatusBadGateway)
				return true
			}
			cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			defer cancel()

			start := time.Now()
			_, err := slow.BatchCreate(cctx, creds, ref, recs)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			So(bitable.IsContextError(err), ShouldBeTrue)
			So(time.Since(start), ShouldBeLessThan, 5*time.Second)
			So(remote.batchCalls.Load(), ShouldEqual, 1)
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Remote codes map to kinds", t, func() {
		cases := map[int]bitable.Kind{
			99991663: bitable.KindAuthenticationInvalid,
			99991664: bitable.KindAuthenticationInvalid,
			99991700: bitable.KindAuthenticationInvalid,
			99991671: bitable.KindTokenExpired,
			99991668: bitable.KindTokenExpired,
			99991704: bitable.KindResourceNotFound,
			99991714: bitable.KindRateLimited,
			99991400: bitable.KindRateLimited,
			1254290:  bitable.KindRateLimited,
			1254001:  bitable.KindParamInvalid,
		}
		for code, kind := range cases {
			So(bitable.KindFromCode(code), ShouldEqual, kind)
		}
	})

	Convey("Unlisted codes follow an error status", t, func() {
		So(bitable.KindFromResponse(1254999, 429), ShouldEqual, bitable.KindRateLimited)
		So(bitable.KindFromResponse(1254999, 503), ShouldEqual, bitable.KindServiceUnavailable)
		So(bitable.KindFromResponse(1254999, 404), ShouldEqual, bitable.KindResourceNotFound)
		So(bitable.KindFromResponse(1254999, 200), ShouldEqual, bitable.KindParamInvalid)
		So(bitable.KindFromResponse(99991671, 401), ShouldEqual, bitable.KindTokenExpired)
	})

	Convey("HTTP statuses map to kinds", t, func() {
		So(bitable.KindFromStatus(401), ShouldEqual, bitable.KindAuthenticationInvalid)
		So(bitable.KindFromStatus(403), ShouldEqual, bitable.KindAuthenticationInvalid)
		So(bitable.KindFromStatus(404), ShouldEqual, bitable.KindResourceNotFound)
		So(bitable.KindFromStatus(429), ShouldEqual, bitable.KindRateLimited)
		So(bitable.KindFromStatus(502), ShouldEqual, bitable.KindServiceUnavailable)
		So(bitable.KindFromStatus(400), ShouldEqual, bitable.KindParamInvalid)
	})

	Convey("Errors read well and unwrap to their cause", t, func() {
		cause := errors.New("dial tcp: refused")
		err := &bitable.Error{Op: "list tables", Kind: bitable.KindServiceUnavailable, Err: cause}
		So(err.Error(), ShouldEqual, "list tables: service unavailable: dial tcp: refused")
		So(errors.Is(err, cause), ShouldBeTrue)
		So(errors.Is(err, bitable.ErrServiceUnavailable), ShouldBeTrue)
		So(strings.Contains((&bitable.Error{Op: "x", Kind: bitable.KindParamInvalid, Code: 1254001}).Error(), "code 1254001"), ShouldBeTrue)
	})
}

func TestParseLink(t *testing.T) {
	Convey("Shared links yield the app token and table", t, func() {
		ref, err := bitable.ParseLink("https://acme.feishu.cn/base/bascnAbc123?table=tblXyz&view=vew1")
		So(err, ShouldBeNil)
		So(ref, ShouldResemble, model.TableRef{AppToken: "bascnAbc123", TableID: "tblXyz"})

		ref, err = bitable.ParseLink("https://acme.feishu.cn/base/bascnAbc123?sheet=shtQ")
		So(err, ShouldBeNil)
		So(ref.TableID, ShouldEqual, "shtQ")

		ref, err = bitable.ParseLink("https://acme.feishu.cn/base/bascnAbc123")
		So(err, ShouldBeNil)
		So(ref.TableID, ShouldBeEmpty)

		_, err = bitable.ParseLink("https://acme.feishu.cn/docs/abc")
		So(errors.Is(err, bitable.ErrInvalidLink), ShouldBeTrue)

		_, err = bitable.ParseLink("not a link")
		So(err, ShouldNotBeNil)
	})
}
