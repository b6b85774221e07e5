package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/sheetsync/internal/domain/model"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoReader reads documents of one collection. Columns follow the order
// in which fields first appear.
type MongoReader struct {
	URI        string
	Database   string
	Collection string
	// Filter is an Extended JSON document; empty matches everything.
	Filter string
	Limit  int64
}

func (r *MongoReader) Read(ctx context.Context) (model.Dataset, error) {
	filter := bson.D{}
	if r.Filter != "" {
		if err := bson.UnmarshalExtJSON([]byte(r.Filter), false, &filter); err != nil {
			return model.Dataset{}, fmt.Errorf("%w: filter: %v", ErrInvalidSpec, err)
		}
	}

	client, err := mongo.Connect(options.Client().ApplyURI(r.URI))
	if err != nil {
		return model.Dataset{}, fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = client.Disconnect(context.WithoutCancel(ctx)) }()

	opts := options.Find()
	if r.Limit > 0 {
		opts.SetLimit(r.Limit)
	}
	cur, err := client.Database(r.Database).Collection(r.Collection).Find(ctx, filter, opts)
	if err != nil {
		return model.Dataset{}, fmt.Errorf("find: %w", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var docs []bson.D
	for cur.Next(ctx) {
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return model.Dataset{}, fmt.Errorf("decode: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return model.Dataset{}, fmt.Errorf("cursor: %w", err)
	}
	return documentsToDataset(docs), nil
}

func documentsToDataset(docs []bson.D) model.Dataset {
	var ds model.Dataset
	seen := map[string]bool{}
	for _, doc := range docs {
		row := make(model.SourceRow, len(doc))
		for _, e := range doc {
			if !seen[e.Key] {
				seen[e.Key] = true
				ds.Columns = append(ds.Columns, e.Key)
			}
			row[e.Key] = bsonScalar(e.Value)
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds
}

func bsonScalar(v any) any {
	switch t := v.(type) {
	case bson.ObjectID:
		return t.Hex()
	case bson.DateTime:
		return t.Time()
	case bson.Decimal128:
		return t.String()
	case bson.D, bson.A, bson.M:
		b, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: t}}, false, false)
		if err != nil {
			return fmt.Sprint(t)
		}
		s := string(b)
		if !strings.HasPrefix(s, `{"v":`) {
			return s
		}
		return strings.TrimSuffix(strings.TrimPrefix(s, `{"v":`), "}")
	default:
		return t
	}
}
