package source

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestDocumentsToDataset(t *testing.T) {
	Convey("Given decoded documents", t, func() {
		oid := bson.NewObjectID()
		at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
		docs := []bson.D{
			{{Key: "_id", Value: oid}, {Key: "name", Value: "Acme"}, {Key: "at", Value: bson.NewDateTimeFromTime(at)}},
			{{Key: "name", Value: "Beta"}, {Key: "tags", Value: bson.A{"a", "b"}}},
		}

		ds := documentsToDataset(docs)

		Convey("Columns keep first-seen order", func() {
			So(ds.Columns, ShouldResemble, []string{"_id", "name", "at", "tags"})
		})

		Convey("BSON values become plain scalars", func() {
			So(ds.Rows[0]["_id"], ShouldEqual, oid.Hex())
			So(ds.Rows[0]["at"].(time.Time).Equal(at), ShouldBeTrue)
			So(ds.Rows[1]["tags"], ShouldEqual, `["a","b"]`)
		})
	})
}
