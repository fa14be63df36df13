/*
Package store is the durable side of the region engine. A Store keeps
region files (one per tile), an index file (key -> bounds, plus the item
id watermark) and cached thumbnails, and it never lets a broken file
escape as anything worse than "absent".

Three backends share one file image:

  - Dir: loose files in a directory, atomic replace on every write
  - Archive: a read-only zip opened in place, extracted tile by tile on
    first access into an overlay Dir, deletions masked with tombstones
  - Pebble: everything in a cockroachdb/pebble keyspace

The file image is a sealed TLV envelope:

	P <payload>   region or index payload
	H <xxhash64>  checksum of the payload bytes

A region payload is a K record (the owning key, so a misplaced file is
caught) followed by the encoded item list. An index payload is a W
record (id watermark) followed by E entries {K key, B bounds}.

A file that fails the checksum or the decode is data loss for that tile
only: the backend logs it and reports ErrNotFound. Recovery from a lost
index file is RebuildIndex, an O(regions) full scan.
*/
package store

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash"
	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
	"github.com/drpcorg/plitka/tlv"
	"github.com/drpcorg/plitka/utils"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrCorrupt  = errors.New("store: corrupt file image")
)

type Store interface {
	// Load returns the items of one stored region. A missing or
	// unreadable file is ErrNotFound, never a decode error.
	Load(key geo.Key) (item.Items, error)
	Save(key geo.Key, items item.Items) error
	Delete(key geo.Key) error
	// Keys enumerates every stored region.
	Keys() ([]geo.Key, error)

	LoadIndex() (*Index, error)
	SaveIndex(ix *Index) error

	LoadThumb(key geo.Key) ([]byte, error)
	SaveThumb(key geo.Key, data []byte) error
	DeleteThumb(key geo.Key) error

	Close() error
}

// Index is the persisted global index: authoritative key -> bounds map
// plus the highest item id ever handed out, so ids stay monotonic
// across sessions.
type Index struct {
	Bounds map[geo.Key]geo.Rect
	LastID uint64
}

func NewIndex() *Index {
	return &Index{Bounds: make(map[geo.Key]geo.Rect)}
}

func seal(payload []byte) []byte {
	ret := make([]byte, 0, len(payload)+16)
	ret = tlv.Append(ret, 'P', payload)
	ret = tlv.Append(ret, 'h', geo.ZipUint64(xxhash.Sum64(payload)))
	return ret
}

func unseal(data []byte) ([]byte, error) {
	payload, rest, err := tlv.TakeWary('P', data)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	sum, _, err := tlv.TakeWary('H', rest)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	if xxhash.Sum64(payload) != geo.UnzipUint64(sum) {
		return nil, errors.Join(ErrCorrupt, fmt.Errorf("checksum mismatch"))
	}
	return payload, nil
}

// EncodeRegion produces the full file image for one region.
func EncodeRegion(key geo.Key, items item.Items) []byte {
	payload := make([]byte, 0, items.EstSize()+16)
	payload = tlv.Append(payload, 'k', geo.ZipKey(key))
	for _, it := range items {
		payload = item.Append(payload, it)
	}
	return seal(payload)
}

// DecodeRegion parses a region file image, verifying the checksum and
// that the file actually belongs to key.
func DecodeRegion(key geo.Key, data []byte) (item.Items, error) {
	payload, err := unseal(data)
	if err != nil {
		return nil, err
	}
	kz, rest, err := tlv.TakeWary('K', payload)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	fk, err := geo.UnzipKey(kz)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	if fk != key {
		return nil, errors.Join(ErrCorrupt, fmt.Errorf("file holds %s, expected %s", fk.String(), key.String()))
	}
	items, err := item.Decode(rest)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	return items, nil
}

func encodeIndex(ix *Index) []byte {
	payload := make([]byte, 0, 16+24*len(ix.Bounds))
	payload = tlv.Append(payload, 'w', geo.ZipUint64(ix.LastID))
	for key, bounds := range ix.Bounds {
		payload = tlv.Append(payload, 'e',
			tlv.Record('k', geo.ZipKey(key)),
			tlv.Record('b', geo.ZipRect(bounds)))
	}
	return seal(payload)
}

func decodeIndex(data []byte) (*Index, error) {
	payload, err := unseal(data)
	if err != nil {
		return nil, err
	}
	wz, rest, err := tlv.TakeWary('W', payload)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	ix := NewIndex()
	ix.LastID = geo.UnzipUint64(wz)
	for len(rest) > 0 {
		var entry []byte
		if entry, rest, err = tlv.TakeWary('E', rest); err != nil {
			return nil, errors.Join(ErrCorrupt, err)
		}
		var kz, bz []byte
		if kz, entry, err = tlv.TakeWary('K', entry); err != nil {
			return nil, errors.Join(ErrCorrupt, err)
		}
		if bz, _, err = tlv.TakeWary('B', entry); err != nil {
			return nil, errors.Join(ErrCorrupt, err)
		}
		key, err := geo.UnzipKey(kz)
		if err != nil {
			return nil, errors.Join(ErrCorrupt, err)
		}
		bounds, err := geo.UnzipRect(bz)
		if err != nil {
			return nil, errors.Join(ErrCorrupt, err)
		}
		ix.Bounds[key] = bounds
	}
	return ix, nil
}

// RebuildIndex recovers a lost or unreadable index by enumerating all
// stored regions and recomputing each one's bounds from a full load.
// The id watermark is restored from the highest item id seen. Call once
// at startup; it reads every region file.
func RebuildIndex(s Store, log utils.Logger) (*Index, error) {
	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}
	ix := NewIndex()
	for _, key := range keys {
		items, err := s.Load(key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue // that tile is lost, the rest are not
			}
			return nil, err
		}
		if len(items) == 0 {
			continue
		}
		ix.Bounds[key] = items.Bounds()
		for _, it := range items {
			if it.ID > ix.LastID {
				ix.LastID = it.ID
			}
		}
	}
	log.Info("index rebuilt from region files", "regions", len(ix.Bounds), "last_id", ix.LastID)
	return ix, nil
}
