package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/sheetsync/internal/adapters/bitable"
	repository "github.com/okian/sheetsync/internal/adapters/repository"
	service "github.com/okian/sheetsync/internal/app"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var (
	cst   = time.FixedZone("CST", 8*3600)
	clock = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	creds = model.Credentials{AppID: "cli_test", AppSecret: "secret"}
)

func newService(remote *fakeRemote, opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithRemote(remote),
		service.WithLocation(cst),
		service.WithClock(clock),
		service.WithWorkerCount(2),
	}
	return service.New(append(base, opts...)...)
}

func people() model.Dataset {
	return model.Dataset{
		Columns: []string{"Name", "Age", "Joined", "Remarks"},
		Rows: []model.SourceRow{
			{"Name": "Ada", "Age": "36", "Joined": "20240301", "Remarks": "countess"},
			{"Name": "Alan", "Age": "41.456", "Joined": "2024-03-02", "Remarks": ""},
			{"Name": "", "Age": nil, "Joined": "", "Remarks": "ghost"},
		},
	}
}

func syncRequest() model.SyncRequest {
	return model.SyncRequest{Credentials: creds, AppToken: "bascnApp", Dataset: people()}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := newService(newFakeRemote())
		ctx := context.Background()

		Convey("Then it reports defaults before starting", func() {
			stats := svc.GetStats(ctx)
			So(stats["started"], ShouldEqual, false)
			So(stats["chunkSize"], ShouldEqual, 500)
			So(stats["timezone"], ShouldEqual, "CST")
			So(svc.Stop(ctx), ShouldBeNil)
		})

		Convey("When starting the service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then it is started", func() {
				So(svc.Started(), ShouldBeTrue)
				stats := svc.GetStats(ctx)
				So(stats["started"], ShouldEqual, true)
				So(stats["queueLength"], ShouldEqual, 0)
			})

			Convey("Then stopping marks it stopped", func() {
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.Started(), ShouldBeFalse)
			})
		})
	})
}

func TestService_Plan(t *testing.T) {
	Convey("Given a remote with two tables", t, func() {
		svc := newService(newFakeRemote())
		ctx := context.Background()

		Convey("When planning without a table id", func() {
			res, err := svc.Plan(ctx, service.PlanRequest{
				Credentials: creds,
				AppToken:    "bascnApp",
				Columns:     []string{"name", "Age", "Remarks"},
			})

			Convey("Then the first table is used and columns are matched", func() {
				So(err, ShouldBeNil)
				So(res.TableID, ShouldEqual, "tblPeople")
				So(res.Fields, ShouldHaveLength, 5)
				So(res.Matched, ShouldEqual, 2)
				So(res.Matches[0].TargetField, ShouldEqual, "Name")
				So(res.Matches[2].Matched, ShouldBeFalse)
				So(res.Metadata.FileName, ShouldBeEmpty)
			})
		})

		Convey("When planning for an uploaded file", func() {
			res, err := svc.Plan(ctx, service.PlanRequest{
				Credentials: creds,
				AppToken:    "bascnApp",
				TableID:     "tblPeople",
				File:        &model.FileInfo{Name: "people.csv"},
			})

			Convey("Then metadata roles are mapped", func() {
				So(err, ShouldBeNil)
				So(res.Metadata.FileName, ShouldEqual, "Name")
				So(res.Metadata.FileURL, ShouldEqual, "文件链接")
			})
		})

		Convey("When the app token is missing", func() {
			_, err := svc.Plan(ctx, service.PlanRequest{Credentials: creds})
			So(errors.Is(err, service.ErrInvalidRequest), ShouldBeTrue)
		})
	})
}

func TestService_Sync(t *testing.T) {
	Convey("Given a service with a small chunk size", t, func() {
		remote := newFakeRemote()
		svc := newService(remote, service.WithChunkSize(1))
		ctx := context.Background()

		Convey("When syncing into the default table", func() {
			results, err := svc.Sync(ctx, syncRequest())

			Convey("Then matched cells are coerced and empty rows dropped", func() {
				So(err, ShouldBeNil)
				So(results, ShouldHaveLength, 1)
				r := results[0]
				So(r.TableID, ShouldEqual, "tblPeople")
				So(r.Error, ShouldBeEmpty)
				So(r.MatchedColumns, ShouldEqual, 3)
				So(r.Result.SyncedRowCount, ShouldEqual, 2)
				So(r.Result.DroppedRowCount, ShouldEqual, 1)
				So(r.Result.ChunkCount, ShouldEqual, 2)
				So(r.Result.APICallCount, ShouldEqual, 2)
				So(remote.calls("tblPeople"), ShouldEqual, 2)

				written := remote.written("tblPeople")
				So(written[0]["Name"], ShouldEqual, "Ada")
				So(written[0]["Age"], ShouldEqual, 36.0)
				So(written[0]["Joined"], ShouldEqual, time.Date(2024, 3, 1, 0, 0, 0, 0, cst).UnixMilli())
				So(written[1]["Age"], ShouldEqual, 41.46)
				So(written[0], ShouldNotContainKey, "Remarks")
			})
		})

		Convey("When syncing into two tables and one schema lookup fails", func() {
			remote.fieldErr["tblArchive"] = bitable.ErrRateLimited
			req := syncRequest()
			req.TableIDs = []string{"tblPeople", "tblArchive", "tblPeople"}

			results, err := svc.Sync(ctx, req)

			Convey("Then the other table still syncs", func() {
				So(err, ShouldBeNil)
				So(results, ShouldHaveLength, 2)
				So(results[0].Failed(), ShouldBeFalse)
				So(results[0].Result.SyncedRowCount, ShouldEqual, 2)
				So(results[1].Failed(), ShouldBeTrue)
				So(results[1].Error, ShouldContainSubstring, "rate limited")
			})
		})

		Convey("When the batch write fails", func() {
			remote.batchErr = bitable.ErrAuthenticationInvalid

			results, err := svc.Sync(ctx, syncRequest())

			Convey("Then the table result is aborted", func() {
				So(err, ShouldBeNil)
				So(results[0].Result.Aborted, ShouldBeTrue)
				So(results[0].Result.Message, ShouldStartWith, "run aborted after 0 of 2 chunks")
				So(results[0].Failed(), ShouldBeTrue)
			})
		})

		Convey("When no column matches", func() {
			req := syncRequest()
			req.Dataset = model.Dataset{Columns: []string{"zzz"}, Rows: []model.SourceRow{{"zzz": "1"}}}

			results, err := svc.Sync(ctx, req)

			Convey("Then nothing is submitted", func() {
				So(err, ShouldBeNil)
				So(results[0].Result.APICallCount, ShouldEqual, 0)
				So(results[0].Result.DroppedRowCount, ShouldEqual, 1)
				So(results[0].Result.Message, ShouldEqual, "no records to submit")
			})
		})

		Convey("When the request is invalid", func() {
			noCreds := syncRequest()
			noCreds.Credentials = model.Credentials{}
			_, err := svc.Sync(ctx, noCreds)
			So(errors.Is(err, bitable.ErrAuthenticationMissing), ShouldBeTrue)

			noApp := syncRequest()
			noApp.AppToken = ""
			_, err = svc.Sync(ctx, noApp)
			So(errors.Is(err, service.ErrInvalidRequest), ShouldBeTrue)

			empty := syncRequest()
			empty.Dataset = model.Dataset{}
			_, err = svc.Sync(ctx, empty)
			So(errors.Is(err, service.ErrInvalidRequest), ShouldBeTrue)
		})

		Convey("When the app has no tables", func() {
			remote.tables = nil
			_, err := svc.Sync(ctx, syncRequest())
			So(errors.Is(err, service.ErrNoTables), ShouldBeTrue)
		})
	})
}

func TestService_Upload(t *testing.T) {
	Convey("Given a service without upload storage", t, func() {
		remote := newFakeRemote()
		svc := newService(remote)
		ctx := context.Background()

		Convey("When preparing a csv upload", func() {
			ds, info, err := svc.PrepareUpload(ctx, "/tmp/people.csv", []byte("Name,Age\nAda,36\n"), "")

			Convey("Then the file is parsed and described", func() {
				So(err, ShouldBeNil)
				So(ds.Columns, ShouldResemble, []string{"Name", "Age"})
				So(ds.Rows, ShouldHaveLength, 1)
				So(info.Name, ShouldEqual, "people.csv")
				So(info.Size, ShouldEqual, 16)
				So(info.Type, ShouldEqual, "text/csv")
				So(info.URL, ShouldEqual, "file://people.csv")
				So(info.UploadTime, ShouldEqual, "2024/05/06 15:08:09")
			})
		})

		Convey("When preparing a pdf", func() {
			ds, info, err := svc.PrepareUpload(ctx, "report.pdf", []byte("%PDF-1.4"), "")
			So(err, ShouldBeNil)
			So(ds.Columns, ShouldBeEmpty)
			So(info.Type, ShouldEqual, "application/pdf")

			Convey("Then syncing writes one metadata-only record", func() {
				req := model.SyncRequest{Credentials: creds, AppToken: "bascnApp", Dataset: ds, File: &info}
				results, err := svc.Sync(ctx, req)
				So(err, ShouldBeNil)
				So(results[0].Result.SyncedRowCount, ShouldEqual, 1)

				rec := remote.written("tblPeople")[0]
				So(rec["Name"], ShouldEqual, "report.pdf")
				So(rec["文件链接"], ShouldEqual, "file://report.pdf")
			})
		})

		Convey("When the file type is not allowed", func() {
			_, _, err := svc.PrepareUpload(ctx, "setup.exe", []byte("MZ"), "")
			So(errors.Is(err, service.ErrUnsupportedFile), ShouldBeTrue)
		})

		Convey("When the file is too large", func() {
			small := newService(remote, service.WithMaxUploadBytes(4))
			_, _, err := small.PrepareUpload(ctx, "people.csv", []byte("Name\nAda\n"), "")
			So(errors.Is(err, service.ErrFileTooLarge), ShouldBeTrue)
		})
	})
}

func TestService_Jobs(t *testing.T) {
	Convey("Given a started service", t, func() {
		remote := newFakeRemote()
		svc := newService(remote)
		ctx := context.Background()

		Convey("Submitting before start fails", func() {
			_, _, err := svc.Submit(ctx, syncRequest())
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})

		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When a job is submitted", func() {
			req := syncRequest()
			req.IdempotencyKey = "import-42"
			id, dup, err := svc.Submit(ctx, req)
			So(err, ShouldBeNil)
			So(dup, ShouldBeFalse)
			So(id, ShouldNotBeEmpty)

			Convey("Then it runs to completion", func() {
				run := waitForRun(svc, id)
				So(run.Status, ShouldEqual, repository.StatusSucceeded)
				So(run.Results, ShouldHaveLength, 1)
				So(run.Results[0].Result.SyncedRowCount, ShouldEqual, 2)
				So(run.StartedAt.IsZero(), ShouldBeFalse)
			})

			Convey("Then resubmitting the key returns the same job", func() {
				again, dup, err := svc.Submit(ctx, req)
				So(err, ShouldBeNil)
				So(dup, ShouldBeTrue)
				So(again, ShouldEqual, id)
			})
		})

		Convey("When a job fails", func() {
			remote.fieldErr["tblPeople"] = bitable.ErrResourceNotFound
			req := syncRequest()
			req.IdempotencyKey = "import-broken"
			id, _, err := svc.Submit(ctx, req)
			So(err, ShouldBeNil)

			Convey("Then the run is failed and the key is released", func() {
				run := waitForRun(svc, id)
				So(run.Status, ShouldEqual, repository.StatusFailed)
				So(run.Error, ShouldEqual, "1 of 1 tables failed")

				retry, dup, err := svc.Submit(ctx, req)
				So(err, ShouldBeNil)
				So(dup, ShouldBeFalse)
				So(retry, ShouldNotEqual, id)
			})
		})

		Convey("When runs are listed", func() {
			run, err := svc.Import(ctx, syncRequest())
			So(err, ShouldBeNil)
			So(run.Status, ShouldEqual, repository.StatusSucceeded)

			runs, err := svc.Runs(ctx, 10)
			So(err, ShouldBeNil)
			So(runs, ShouldNotBeEmpty)
			So(runs[0].ID, ShouldEqual, run.ID)

			_, err = svc.Run(ctx, "missing")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestService_Schema(t *testing.T) {
	Convey("Given a service", t, func() {
		remote := newFakeRemote()
		svc := newService(remote)
		ctx := context.Background()
		ref := model.TableRef{AppToken: "bascnApp", TableID: "tblPeople"}

		Convey("Schema calls pass through", func() {
			tables, err := svc.Tables(ctx, creds, "bascnApp", false)
			So(err, ShouldBeNil)
			So(tables, ShouldHaveLength, 2)

			fields, err := svc.Fields(ctx, creds, ref, true)
			So(err, ShouldBeNil)
			So(fields, ShouldHaveLength, 5)

			tbl, err := svc.CreateTable(ctx, creds, "bascnApp", "Imports", nil)
			So(err, ShouldBeNil)
			So(tbl.Name, ShouldEqual, "Imports")

			f, err := svc.CreateField(ctx, creds, ref, bitable.FieldSpec{Name: "Email", Kind: model.KindText})
			So(err, ShouldBeNil)
			So(f.Name, ShouldEqual, "Email")

			page, err := svc.Records(ctx, creds, ref, 10, "")
			So(err, ShouldBeNil)
			So(page.Records, ShouldHaveLength, 1)
		})

		Convey("Tables needs an app token", func() {
			_, err := svc.Tables(ctx, creds, "", false)
			So(errors.Is(err, service.ErrInvalidRequest), ShouldBeTrue)
		})

		Convey("Invalidation targets a table or the app", func() {
			svc.InvalidateSchema("bascnApp", "tblPeople")
			svc.InvalidateSchema("bascnApp", "")
			So(remote.invalidated, ShouldResemble, []string{"bascnApp/tblPeople", "bascnApp"})
		})
	})
}

func waitForRun(svc *service.Service, id string) repository.Run {
	deadline := time.Now().Add(5 * time.Second)
	for {
		run, err := svc.Run(context.Background(), id)
		if err == nil && run.Done() {
			return run
		}
		if time.Now().After(deadline) {
			panic(fmt.Sprintf("run %s did not finish: %+v %v", id, run, err))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
