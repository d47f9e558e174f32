package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/helmsman/pkg/pathid"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntries = []byte("entries")
	bucketVersions = []byte("versions")
	bucketRoot     = []byte("root")
)

var rootKey = []byte("root")

// BoltRepository implements Repository on top of go.etcd.io/bbolt, one
// bucket per entity kind, matching the teacher's bucket-per-entity
// layout.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository opens (creating if necessary) a bbolt database
// under dataDir.
func NewBoltRepository(dataDir string) (*BoltRepository, error) {
	dbPath := filepath.Join(dataDir, "helmsman.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: opening database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEntries, bucketVersions, bucketRoot} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("storage: creating bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltRepository{db: db}, nil
}

func (r *BoltRepository) Close() error {
	return r.db.Close()
}

func (r *BoltRepository) Get(id pathid.Path) ([]byte, bool, error) {
	var data []byte
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketEntries).Get([]byte(id))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, data != nil, err
}

func (r *BoltRepository) Put(id pathid.Path, data []byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketEntries).Put([]byte(id), data); err != nil {
			return err
		}
		return appendVersion(tx, id)
	})
}

func (r *BoltRepository) Delete(id pathid.Path) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(id))
	})
}

func (r *BoltRepository) Versions(id pathid.Path) ([]time.Time, error) {
	var versions []time.Time
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketVersions).Get([]byte(id))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &versions)
	})
	return versions, err
}

func appendVersion(tx *bolt.Tx, id pathid.Path) error {
	b := tx.Bucket(bucketVersions)
	var versions []time.Time
	if existing := b.Get([]byte(id)); existing != nil {
		if err := json.Unmarshal(existing, &versions); err != nil {
			return err
		}
	}
	versions = append(versions, time.Now())
	data, err := json.Marshal(versions)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}

func (r *BoltRepository) List(prefix pathid.Path) ([]pathid.Path, error) {
	var ids []pathid.Path
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, _ []byte) error {
			p := pathid.Path(k)
			if p == prefix || p.IsChildOf(prefix) {
				ids = append(ids, p)
			}
			return nil
		})
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids, err
}

func (r *BoltRepository) Root() ([]byte, bool, error) {
	var data []byte
	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRoot).Get(rootKey)
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return data, data != nil, err
}

func (r *BoltRepository) PutRoot(data []byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoot).Put(rootKey, data)
	})
}

var _ Repository = (*BoltRepository)(nil)
