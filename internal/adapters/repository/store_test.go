package repository_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/sheetsync/internal/adapters/repository"
	"github.com/okian/sheetsync/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func sampleRun(id string, created time.Time) repository.Run {
	return repository.Run{
		ID:        id,
		Status:    repository.StatusQueued,
		AppToken:  "bascnApp",
		TableIDs:  []string{"tbl1", "tbl2"},
		Source:    "orders.xlsx",
		CreatedAt: created,
	}
}

func exerciseStore(newStore func() repository.Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	store := newStore()
	defer store.Close()

	Convey("When a run is saved", func() {
		So(store.Save(ctx, sampleRun("run-1", base)), ShouldBeNil)

		Convey("Then it can be read back", func() {
			got, err := store.Get(ctx, "run-1")
			So(err, ShouldBeNil)
			So(got.Status, ShouldEqual, repository.StatusQueued)
			So(got.TableIDs, ShouldResemble, []string{"tbl1", "tbl2"})
			So(got.CreatedAt.Equal(base), ShouldBeTrue)
			So(got.FinishedAt.IsZero(), ShouldBeTrue)
		})

		Convey("And saving it again replaces it", func() {
			run := sampleRun("run-1", base)
			run.Status = repository.StatusSucceeded
			run.StartedAt = base.Add(time.Second)
			run.FinishedAt = base.Add(3 * time.Second)
			run.Results = []model.TableResult{{
				TableID:        "tbl1",
				MatchedColumns: 4,
				Result:         model.SyncRunResult{APICallCount: 2, SyncedRowCount: 600, ChunkCount: 2, ChunksCompleted: 2, Message: "600 rows synced, 0 rows failed"},
			}}
			So(store.Save(ctx, run), ShouldBeNil)

			got, err := store.Get(ctx, "run-1")
			So(err, ShouldBeNil)
			So(got.Status, ShouldEqual, repository.StatusSucceeded)
			So(got.Done(), ShouldBeTrue)
			So(got.Results, ShouldHaveLength, 1)
			So(got.Results[0].Result.SyncedRowCount, ShouldEqual, 600)
			So(got.FinishedAt.Sub(got.StartedAt), ShouldEqual, 2*time.Second)

			n, err := store.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})
	})

	Convey("When several runs exist", func() {
		for i := 1; i <= 5; i++ {
			So(store.Save(ctx, sampleRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))), ShouldBeNil)
		}

		Convey("Then List returns the newest first", func() {
			runs, err := store.List(ctx, 3)
			So(err, ShouldBeNil)
			So(runs, ShouldHaveLength, 3)
			So(runs[0].ID, ShouldEqual, "run-5")
			So(runs[2].ID, ShouldEqual, "run-3")
		})
	})

	Convey("When reading an unknown run", func() {
		_, err := store.Get(ctx, "nope")

		Convey("Then ErrNotFound is returned", func() {
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})

	Convey("When listing with a bad limit", func() {
		_, err := store.List(ctx, 0)

		Convey("Then ErrInvalidLimit is returned", func() {
			So(errors.Is(err, repository.ErrInvalidLimit), ShouldBeTrue)
		})
	})

	Convey("When saving a run without an id", func() {
		err := store.Save(ctx, repository.Run{})

		Convey("Then it is rejected", func() {
			So(errors.Is(err, repository.ErrInvalidRun), ShouldBeTrue)
		})
	})
}

func TestMemoryStore(t *testing.T) {
	Convey("Given a memory store", t, func() {
		exerciseStore(func() repository.Store { return repository.NewMemoryStore() })
	})

	Convey("Given a bounded memory store", t, func() {
		s := repository.NewMemoryStore(repository.WithMaxRuns(2))
		ctx := context.Background()
		for i := 1; i <= 3; i++ {
			So(s.Save(ctx, sampleRun(fmt.Sprintf("run-%d", i), time.Now())), ShouldBeNil)
		}

		Convey("The oldest run is dropped", func() {
			_, err := s.Get(ctx, "run-1")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			n, _ := s.Count(ctx)
			So(n, ShouldEqual, 2)
		})
	})
}

func TestSQLStore(t *testing.T) {
	Convey("Given a SQLite store", t, func() {
		exerciseStore(func() repository.Store {
			s, err := repository.OpenSQLStore(context.Background(), "sqlite", filepath.Join(t.TempDir(), "runs.db"))
			So(err, ShouldBeNil)
			return s
		})
	})

	Convey("Given an unknown driver", t, func() {
		_, err := repository.OpenSQLStore(context.Background(), "oracle", "x")
		So(err, ShouldNotBeNil)
	})
}
