package docstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/storage/database"
	"github.com/trezcool/kupanda/storage/docstore/bolt"
	"github.com/trezcool/kupanda/storage/docstore/inmem"
	"github.com/trezcool/kupanda/storage/docstore/mongo"
	"github.com/trezcool/kupanda/storage/docstore/postgres"
)

// Open opens the document store selected by conf.Store.Engine.
// The postgres store is created and migrated on the way.
func Open(ctx context.Context, conf *core.Config) (core.DocStore, error) {
	maxOps := conf.Store.MaxBatchOps

	switch conf.Store.Engine {
	case core.StoreMemory, "":
		return inmemstore.Open(maxOps), nil

	case core.StorePostgres:
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		if err = database.Migrate(db.DB, "up"); err != nil {
			_ = db.Close()
			return nil, err
		}
		return pgstore.New(db, maxOps), nil

	case core.StoreMongo:
		store, err := mongostore.Open(ctx, conf.Mongo.URI, conf.Mongo.Database, maxOps)
		if err != nil {
			return nil, err
		}
		return store, nil

	case core.StoreBolt:
		store, err := boltstore.Open(conf.Bolt.Path, maxOps)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, errors.Errorf("unknown store engine %q", conf.Store.Engine)
	}
}
