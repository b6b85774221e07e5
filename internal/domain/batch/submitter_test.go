package batch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/sheetsync/internal/domain/batch"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type fakeWriter struct {
	mu        sync.Mutex
	sizes     []int
	failOn    int // 1-based call that fails; 0 never
	rejectRow int // per call, rows whose index equals this are rejected; -1 none
	err       error
}

func (f *fakeWriter) BatchCreate(_ context.Context, _ model.Credentials, _ model.TableRef, records []model.TargetRecord) (model.BatchOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, len(records))
	if f.failOn == len(f.sizes) {
		return model.BatchOutcome{}, f.err
	}
	out := model.BatchOutcome{}
	for i := range records {
		if i == f.rejectRow {
			out.Failed++
			out.Errors = append(out.Errors, "FieldConvFail")
			continue
		}
		out.Succeeded++
		out.RecordIDs = append(out.RecordIDs, fmt.Sprintf("rec%d", i))
	}
	return out, nil
}

func makeRecords(n int) []model.TargetRecord {
	recs := make([]model.TargetRecord, n)
	for i := range recs {
		recs[i] = model.TargetRecord{"name": fmt.Sprintf("row-%d", i)}
	}
	return recs
}

var (
	creds = model.Credentials{AppID: "cli_test", AppSecret: "secret"}
	ref   = model.TableRef{AppToken: "app", TableID: "tbl"}
)

func TestSubmit(t *testing.T) {
	Convey("Given a submitter with the default chunk size", t, func() {
		w := &fakeWriter{rejectRow: -1}
		s := batch.New(w)

		Convey("1200 records take three calls", func() {
			res, err := s.Submit(context.Background(), creds, ref, makeRecords(1200))
			So(err, ShouldBeNil)
			So(w.sizes, ShouldResemble, []int{500, 500, 200})
			So(res.APICallCount, ShouldEqual, 3)
			So(res.ChunkCount, ShouldEqual, 3)
			So(res.ChunksCompleted, ShouldEqual, 3)
			So(res.SyncedRowCount, ShouldEqual, 1200)
			So(res.Message, ShouldEqual, "1200 rows synced, 0 rows failed")
		})

		Convey("501 records leave one record for the second call", func() {
			res, err := s.Submit(context.Background(), creds, ref, makeRecords(501))
			So(err, ShouldBeNil)
			So(w.sizes, ShouldResemble, []int{500, 1})
			So(res.APICallCount, ShouldEqual, 2)
		})

		Convey("No records make no calls", func() {
			res, err := s.Submit(context.Background(), creds, ref, nil)
			So(err, ShouldBeNil)
			So(w.sizes, ShouldBeEmpty)
			So(res.APICallCount, ShouldEqual, 0)
			So(res.Message, ShouldEqual, "0 rows synced, 0 rows failed")
		})
	})

	Convey("Given rows rejected individually", t, func() {
		w := &fakeWriter{rejectRow: 0}
		s := batch.New(w, batch.WithChunkSize(10))

		res, err := s.Submit(context.Background(), creds, ref, makeRecords(25))

		Convey("They are counted as failed without aborting", func() {
			So(err, ShouldBeNil)
			So(res.Aborted, ShouldBeFalse)
			So(res.FailedRowCount, ShouldEqual, 3)
			So(res.SyncedRowCount, ShouldEqual, 22)
			So(res.Message, ShouldEqual, "22 rows synced, 3 rows failed")
		})
	})

	Convey("Given a call that fails outright", t, func() {
		boom := errors.New("service unavailable")
		w := &fakeWriter{rejectRow: -1, failOn: 2, err: boom}
		s := batch.New(w, batch.WithChunkSize(100))

		res, err := s.Submit(context.Background(), creds, ref, makeRecords(350))

		Convey("The run aborts with the partial result", func() {
			So(errors.Is(err, boom), ShouldBeTrue)
			So(res.Aborted, ShouldBeTrue)
			So(res.APICallCount, ShouldEqual, 2)
			So(res.ChunksCompleted, ShouldEqual, 1)
			So(res.SyncedRowCount, ShouldEqual, 100)
			So(res.Message, ShouldStartWith, "run aborted after 1 of 4 chunks")
		})
	})

	Convey("Given a cancelled context", t, func() {
		w := &fakeWriter{rejectRow: -1}
		s := batch.New(w)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := s.Submit(ctx, creds, ref, makeRecords(10))

		Convey("Nothing is sent", func() {
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(w.sizes, ShouldBeEmpty)
			So(res.Aborted, ShouldBeTrue)
			So(res.Message, ShouldStartWith, "run aborted after 0 of 1 chunks")
		})
	})

	Convey("Chunk sizes are clamped", t, func() {
		So(batch.New(&fakeWriter{}, batch.WithChunkSize(0)).ChunkSize(), ShouldEqual, 1)
		So(batch.New(&fakeWriter{}, batch.WithChunkSize(9000)).ChunkSize(), ShouldEqual, batch.MaxChunkSize)
		So(batch.New(&fakeWriter{}, batch.WithChunkSize(42)).ChunkSize(), ShouldEqual, 42)
	})
}
