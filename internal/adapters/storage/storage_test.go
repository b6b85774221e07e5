package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/sheetsync/internal/adapters/storage"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDirUploader(t *testing.T) {
	Convey("Given a directory uploader", t, func() {
		dir := t.TempDir()
		ctx := context.Background()

		Convey("With a base URL the key is appended", func() {
			u, err := storage.NewDirUploader(dir, "https://files.example.com/u/")
			So(err, ShouldBeNil)
			link, err := u.Upload(ctx, "Report.PDF", []byte("%PDF-1.7"))
			So(err, ShouldBeNil)
			So(link, ShouldStartWith, "https://files.example.com/u/")
			So(link, ShouldEndWith, ".pdf")

			entries, err := os.ReadDir(dir)
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 1)
			data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "%PDF-1.7")
		})

		Convey("Without a base URL a file URL is returned", func() {
			u, err := storage.NewDirUploader(filepath.Join(dir, "nested"), "")
			So(err, ShouldBeNil)
			link, err := u.Upload(ctx, "a.csv", []byte("x"))
			So(err, ShouldBeNil)
			So(strings.HasPrefix(link, "file://"), ShouldBeTrue)
		})
	})

	Convey("The nop uploader always fails", t, func() {
		_, err := storage.NopUploader{}.Upload(context.Background(), "a.csv", nil)
		So(errors.Is(err, storage.ErrUploadDisabled), ShouldBeTrue)
		So(storage.FallbackURL("a.csv"), ShouldEqual, "file://a.csv")
	})
}
