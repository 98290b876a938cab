package formdata

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"usrtaskmgt/internal/domain"
)

var boltBucket = []byte("form-data")

// BoltStore keeps form data in a single bbolt bucket.
type BoltStore struct {
	DB *bbolt.DB
}

// OpenBoltStore opens (creating if needed) the bbolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	conn, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := conn.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		conn.Close()
		return nil, err
	}
	return &BoltStore{DB: conn}, nil
}

var errNoBucket = errors.New("bucket form-data missing")

func (s *BoltStore) GetFormData(ctx context.Context, tdk, pid string) (domain.FormData, bool, error) {
	key := Key(tdk, pid)
	if err := ctx.Err(); err != nil {
		return domain.FormData{}, false, storageErr("get", key, err)
	}
	var raw []byte
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b == nil {
			return errNoBucket
		}
		if v := b.Get([]byte(key)); v != nil {
			// bbolt values are only valid inside the transaction.
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return domain.FormData{}, false, storageErr("get", key, err)
	}
	if raw == nil {
		return domain.FormData{}, false, nil
	}
	fd, err := decode(raw)
	if err != nil {
		return domain.FormData{}, false, storageErr("decode", key, err)
	}
	return fd, true, nil
}

func (s *BoltStore) PutFormData(ctx context.Context, tdk, pid string, fd domain.FormData) error {
	key := Key(tdk, pid)
	if err := ctx.Err(); err != nil {
		return storageErr("put", key, err)
	}
	v, err := encode(fd)
	if err != nil {
		return storageErr("encode", key, err)
	}
	err = s.DB.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), v)
	})
	if err != nil {
		return storageErr("put", key, err)
	}
	return nil
}

func (s *BoltStore) DeleteByProcessInstanceID(ctx context.Context, pid string) error {
	prefix := []byte(ProcessPrefix(pid))
	if err := ctx.Err(); err != nil {
		return storageErr("delete", string(prefix), err)
	}
	err := s.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b == nil {
			return nil
		}
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("delete", string(prefix), err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.DB.Close()
}
