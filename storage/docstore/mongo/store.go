package mongostore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/kupanda/core"
)

const collectionName = "documents"

var nowFunc = time.Now // mockable

// Store keeps every document in one collection keyed by path; a batch is one multi-document transaction,
// so the server must run as a replica set.
type Store struct {
	client *mongo.Client
	docs   *mongo.Collection
	maxOps int
}

var _ core.DocStore = (*Store)(nil) // interface compliance check

type record struct {
	Path       string    `bson:"_id"`
	Collection string    `bson:"collection"`
	Data       bson.M    `bson:"data"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

// Open connects to uri and makes sure the collection index exists.
func Open(ctx context.Context, uri, database string, maxBatchOps int) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongo")
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "pinging mongo")
	}

	docs := client.Database(database).Collection(collectionName)
	_, err = docs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "collection", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "creating index")
	}

	if maxBatchOps <= 0 {
		maxBatchOps = core.DefaultMaxBatchOps
	}
	return &Store{client: client, docs: docs, maxOps: maxBatchOps}, nil
}

func (s *Store) MaxBatchOps() int { return s.maxOps }

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func closedOr(err error) error {
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return errors.WithStack(core.ErrStoreClosed)
	}
	return err
}

// toFields brings decoded BSON back to JSON types (eg. int32 -> float64).
func toFields(rec record) (core.Document, error) {
	data, err := core.ToFields(rec.Data)
	if err != nil {
		return core.Document{}, errors.Wrapf(err, "decoding %q", rec.Path)
	}
	if data == nil {
		data = core.Fields{}
	}
	return core.Document{Path: rec.Path, Data: data}, nil
}

func (s *Store) Get(ctx context.Context, path string) (core.Document, error) {
	var rec record
	if err := s.docs.FindOne(ctx, bson.M{"_id": path}).Decode(&rec); err != nil {
		if err == mongo.ErrNoDocuments {
			return core.Document{}, errors.Wrapf(core.ErrDocNotFound, "%q", path)
		}
		return core.Document{}, errors.Wrapf(closedOr(err), "getting %q", path)
	}
	return toFields(rec)
}

func (s *Store) Query(ctx context.Context, collection string) ([]core.Document, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.docs.Find(ctx, bson.M{"collection": collection}, findOptions)
	if err != nil {
		return nil, errors.Wrapf(closedOr(err), "querying %q", collection)
	}
	defer func() { _ = cursor.Close(ctx) }()

	docs := make([]core.Document, 0)
	for cursor.Next(ctx) {
		var rec record
		if err = cursor.Decode(&rec); err != nil {
			return nil, errors.Wrapf(err, "decoding document of %q", collection)
		}
		doc, err := toFields(rec)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err = cursor.Err(); err != nil {
		return nil, errors.Wrapf(err, "querying %q", collection)
	}
	return docs, nil
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	n, err := s.docs.CountDocuments(ctx, bson.M{"collection": collection})
	if err != nil {
		return 0, errors.Wrapf(closedOr(err), "counting %q", collection)
	}
	return int(n), nil
}

// models converts ops into bulk write models, in order.
func models(ops []core.WriteOp, now time.Time) []mongo.WriteModel {
	out := make([]mongo.WriteModel, 0, len(ops))
	for _, op := range ops {
		collection, _ := core.SplitPath(op.Path)
		switch op.Kind {
		case core.OpSet:
			data := bson.M(op.Data.Clone())
			if data == nil {
				data = bson.M{}
			}
			out = append(out, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"_id": op.Path}).
				SetReplacement(record{Path: op.Path, Collection: collection, Data: data, UpdatedAt: now}).
				SetUpsert(true))
		case core.OpMerge:
			set := bson.M{"collection": collection, "updatedAt": now}
			for k, v := range op.Data {
				set["data."+k] = v
			}
			out = append(out, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": op.Path}).
				SetUpdate(bson.M{"$set": set}).
				SetUpsert(true))
		case core.OpDelete:
			out = append(out, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": op.Path}))
		}
	}
	return out
}

func (s *Store) Commit(ctx context.Context, ops []core.WriteOp) error {
	if err := core.ValidateBatch(ops, s.maxOps); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	session, err := s.client.StartSession()
	if err != nil {
		return errors.Wrap(closedOr(err), "starting session")
	}
	defer session.EndSession(ctx)

	writes := models(ops, nowFunc().UTC())
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return s.docs.BulkWrite(sc, writes, options.BulkWrite().SetOrdered(true))
	})
	if err != nil {
		return errors.Wrap(closedOr(err), "committing batch")
	}
	return nil
}
