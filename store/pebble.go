package store

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
	"github.com/drpcorg/plitka/utils"
)

var pebbleWriteOptions = pebble.WriteOptions{Sync: false}

// Pebble keeps the whole canvas in one cockroachdb/pebble keyspace:
//
//	'R' x y  -> sealed region image
//	'T' x y  -> thumbnail bytes
//	'G'      -> sealed index image
//
// Region values reuse the exact file image Dir writes, so the two
// backends stay dump-compatible and share one decode path.
type Pebble struct {
	db  *pebble.DB
	log utils.Logger
}

func OpenPebble(path string, log utils.Logger) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Pebble{db: db, log: log}, nil
}

func pebbleKey(lit byte, key geo.Key) []byte {
	var ret = [9]byte{lit}
	k := binary.BigEndian.AppendUint32(ret[:1], uint32(key.X))
	return binary.BigEndian.AppendUint32(k, uint32(key.Y))
}

func pebbleKeyParse(k []byte) (key geo.Key, ok bool) {
	if len(k) != 9 {
		return key, false
	}
	key.X = int32(binary.BigEndian.Uint32(k[1:5]))
	key.Y = int32(binary.BigEndian.Uint32(k[5:9]))
	return key, true
}

func (p *Pebble) get(k []byte) ([]byte, error) {
	value, closer, err := p.db.Get(k)
	if closer != nil {
		defer closer.Close()
	}
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// the value buffer dies with the closer
	return append([]byte(nil), value...), nil
}

func (p *Pebble) Load(key geo.Key) (item.Items, error) {
	data, err := p.get(pebbleKey('R', key))
	if err != nil {
		return nil, err
	}
	items, err := DecodeRegion(key, data)
	if err != nil {
		p.log.Warn("stored region unreadable", "key", key.String(), "err", err)
		return nil, ErrNotFound
	}
	return items, nil
}

func (p *Pebble) Save(key geo.Key, items item.Items) error {
	return p.db.Set(pebbleKey('R', key), EncodeRegion(key, items), &pebbleWriteOptions)
}

func (p *Pebble) Delete(key geo.Key) error {
	return p.db.Delete(pebbleKey('R', key), &pebbleWriteOptions)
}

func (p *Pebble) Keys() (keys []geo.Key, err error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'R'},
		UpperBound: []byte{'S'},
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	for valid := iter.First(); valid; valid = iter.Next() {
		if key, ok := pebbleKeyParse(iter.Key()); ok {
			keys = append(keys, key)
		}
	}
	return keys, iter.Error()
}

func (p *Pebble) LoadIndex() (*Index, error) {
	data, err := p.get([]byte{'G'})
	if err != nil {
		return nil, err
	}
	ix, err := decodeIndex(data)
	if err != nil {
		p.log.Warn("stored index unreadable, rebuild required", "err", err)
		return nil, ErrNotFound
	}
	return ix, nil
}

func (p *Pebble) SaveIndex(ix *Index) error {
	return p.db.Set([]byte{'G'}, encodeIndex(ix), &pebbleWriteOptions)
}

func (p *Pebble) LoadThumb(key geo.Key) ([]byte, error) {
	return p.get(pebbleKey('T', key))
}

func (p *Pebble) SaveThumb(key geo.Key, data []byte) error {
	return p.db.Set(pebbleKey('T', key), data, &pebbleWriteOptions)
}

func (p *Pebble) DeleteThumb(key geo.Key) error {
	return p.db.Delete(pebbleKey('T', key), &pebbleWriteOptions)
}

func (p *Pebble) Close() error {
	if err := p.db.Flush(); err != nil {
		_ = p.db.Close()
		return err
	}
	return p.db.Close()
}
