package boltdb

import (
	"context"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/ideal-lab5/etf-cli/common/log"
	"github.com/ideal-lab5/etf-cli/etf"
	"github.com/ideal-lab5/etf-cli/internal/metrics"
	"github.com/ideal-lab5/etf-cli/internal/store"
)

// BoltFileName is the name of the file boltdb writes to
const BoltFileName = "bundles.db"

// BoltStoreOpenPerm is the permission we will use to read bolt store file from disk
const BoltStoreOpenPerm = 0660

var bundleBucket = []byte("bundles")

// BoltStore implements store.Store using the kv storage boltdb (native golang
// implementation). Bundles are stored in their canonical CBOR encoding.
type BoltStore struct {
	sync.Mutex
	db  *bolt.DB
	log log.Logger
}

var _ store.Store = (*BoltStore)(nil)

// NewBoltStore returns a Store implementation using the boltdb storage engine.
func NewBoltStore(ctx context.Context, l log.Logger, folder string, opts *bolt.Options) (*BoltStore, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if err := os.MkdirAll(folder, 0700); err != nil {
		return nil, err
	}
	dbPath := path.Join(folder, BoltFileName)
	db, err := bolt.Open(dbPath, BoltStoreOpenPerm, opts)
	if err != nil {
		return nil, err
	}
	// create the bucket already
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bundleBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{
		log: l.Named("boltdb"),
		db:  db,
	}, nil
}

// Len returns the number of stored bundles.
func (b *BoltStore) Len(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	var length = 0
	err := b.db.View(func(tx *bolt.Tx) error {
		length = tx.Bucket(bundleBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		b.log.Warnw("", "boltdb", "error getting length", "err", err)
	}
	return length, err
}

func (b *BoltStore) Close() error {
	err := b.db.Close()
	if err != nil {
		b.log.Errorw("", "boltdb", "close", "err", err)
	}
	return err
}

// Put stores the bundle under a fresh random id.
func (b *BoltStore) Put(ctx context.Context, bundle *etf.Bundle) (uuid.UUID, error) {
	select {
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	default:
	}

	buff, err := etf.Encode(bundle)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, err
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bundleBucket)
		key := id[:]
		if bucket.Get(key) != nil {
			return fmt.Errorf("id %s already in use", id)
		}
		return bucket.Put(key, buff)
	})
	if err != nil {
		b.log.Errorw("storing bundle", "id", id, "err", err)
		return uuid.Nil, err
	}
	metrics.BundleStoreOps.WithLabelValues("put").Inc()
	b.log.Debugw("stored bundle", "id", id, "size", len(buff))
	return id, nil
}

// Get returns the bundle stored under id.
func (b *BoltStore) Get(ctx context.Context, id uuid.UUID) (*etf.Bundle, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buff []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bundleBucket).Get(id[:])
		if v == nil {
			return fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		// v is only valid for the life of the transaction
		buff = make([]byte, len(v))
		copy(buff, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.BundleStoreOps.WithLabelValues("get").Inc()
	return etf.Decode(buff)
}

// List returns every stored id in byte order.
func (b *BoltStore) List(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bundleBucket).ForEach(func(k, _ []byte) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			id, err := uuid.FromBytes(k)
			if err != nil {
				return fmt.Errorf("invalid key %x: %w", k, err)
			}
			ids = append(ids, id)
			return nil
		})
	})
	return ids, err
}

// Del removes the bundle stored under id. Removing an unknown id is not an
// error.
func (b *BoltStore) Del(ctx context.Context, id uuid.UUID) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bundleBucket).Delete(id[:])
	})
	if err == nil {
		metrics.BundleStoreOps.WithLabelValues("del").Inc()
	}
	return err
}
