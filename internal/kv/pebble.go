package kv

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Pebble is a Store persisted on disk with cockroachdb/pebble
type Pebble struct {
	logger *zap.SugaredLogger
	db     *pebble.DB
}

// OpenPebble opens (creating if needed) a pebble database in dir
func OpenPebble(logger *zap.SugaredLogger, dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble.Open: %w", err)
	}

	logger.Debugf("Opened pebble store in %s", dir)

	return &Pebble{
		logger: logger,
		db:     db,
	}, nil
}

func (p *Pebble) Get(key string) ([]byte, error) {
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	// value is only valid until closer is closed
	return append([]byte(nil), v...), nil
}

func (p *Pebble) Set(key string, value []byte) error {
	return p.db.Set([]byte(key), value, pebble.Sync)
}

func (p *Pebble) Delete(key string) error {
	return p.db.Delete([]byte(key), pebble.Sync)
}

func (p *Pebble) DeletePrefix(prefix string) (int, error) {
	var keys [][]byte
	err := p.iterate(prefix, func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		if err := batch.Delete(k, nil); err != nil {
			return 0, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}

	p.logger.Debugf("Deleted %d records with prefix %q", len(keys), prefix)

	return len(keys), nil
}

func (p *Pebble) Scan(prefix string, fn func(key string, value []byte) error) error {
	type record struct {
		key   string
		value []byte
	}

	// records are collected first so fn may write back into the store
	var records []record
	err := p.iterate(prefix, func(k, v []byte) error {
		records = append(records, record{key: string(k), value: append([]byte(nil), v...)})
		return nil
	})
	if err != nil {
		return err
	}

	for _, r := range records {
		if err := fn(r.key, r.value); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pebble) iterate(prefix string, fn func(k, v []byte) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()

	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (p *Pebble) Close() error {
	return p.db.Close()
}
