// Package kv implements the hot point store (spec.md §6) on top of an
// embedded badger database. It is the one store component that is a core,
// in-scope piece of the engine rather than an interface standing in for an
// out-of-scope external collaborator.
package kv

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store"
)

// Store is a badger-backed PointStore. Keys follow the scheme from spec §6:
// RawItem:{pointId}, FinalItem:{pointId}, WriteItem:{pointId},
// GlobalVariable:{id}, plus arbitrary checkpoint keys passed to
// Get/Set/DeleteState (PIDState:{pidId} and every other processor's
// per-block state).
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) a badger database rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("kv: close: %w", err)
	}
	return nil
}

func rawKey(pointID string) string   { return "RawItem:" + pointID }
func finalKey(pointID string) string { return "FinalItem:" + pointID }
func writeKey(pointID string) string { return "WriteItem:" + pointID }
func globalVarKey(name string) string { return "GlobalVariable:" + name }

func (s *Store) getJSON(key string, out interface{}) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if err == badger.ErrKeyNotFound {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("kv: get %s: %w", key, err)
	}
	return nil
}

func (s *Store) setJSON(key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: marshal %s: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), b)
	})
	if err != nil {
		return fmt.Errorf("kv: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) deleteKey(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("kv: delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) scanPrefix(prefix string, fn func(key, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				return fn(item.Key(), val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetRaw(_ context.Context, pointID string) (model.RawValue, error) {
	var v model.RawValue
	err := s.getJSON(rawKey(pointID), &v)
	return v, err
}

func (s *Store) SetRaw(_ context.Context, v model.RawValue) error {
	return s.setJSON(rawKey(v.PointID), v)
}

func (s *Store) AllRaw(_ context.Context) ([]model.RawValue, error) {
	var out []model.RawValue
	err := s.scanPrefix("RawItem:", func(_, val []byte) error {
		var v model.RawValue
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: scan raw: %w", err)
	}
	return out, nil
}

func (s *Store) GetFinal(_ context.Context, pointID string) (model.FinalValue, error) {
	var v model.FinalValue
	err := s.getJSON(finalKey(pointID), &v)
	return v, err
}

func (s *Store) SetFinal(_ context.Context, v model.FinalValue) error {
	return s.setJSON(finalKey(v.PointID), v)
}

func (s *Store) UpsertWriteItem(_ context.Context, item model.WriteItem) error {
	return s.setJSON(writeKey(item.PointID), item)
}

func (s *Store) PendingWriteItems(_ context.Context) ([]model.WriteItem, error) {
	var out []model.WriteItem
	err := s.scanPrefix("WriteItem:", func(_, val []byte) error {
		var v model.WriteItem
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: scan write items: %w", err)
	}
	return out, nil
}

func (s *Store) GetState(_ context.Context, key string, out interface{}) error {
	return s.getJSON(key, out)
}

func (s *Store) SetState(_ context.Context, key string, v interface{}) error {
	return s.setJSON(key, v)
}

func (s *Store) DeleteState(_ context.Context, key string) error {
	return s.deleteKey(key)
}

func (s *Store) GetGlobalVariable(_ context.Context, name string) (model.GlobalVariable, error) {
	var v model.GlobalVariable
	err := s.getJSON(globalVarKey(name), &v)
	return v, err
}

func (s *Store) SetGlobalVariable(_ context.Context, v model.GlobalVariable) error {
	return s.setJSON(globalVarKey(v.Name), v)
}

var _ store.PointStore = (*Store)(nil)
