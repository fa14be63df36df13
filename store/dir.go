package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
	"github.com/drpcorg/plitka/utils"
	"github.com/google/uuid"
)

const indexFileName = "index.bin"

// Dir stores regions as loose files in one directory: r_<x>_<y>.bin per
// region, index.bin, t_<x>_<y>.png per thumbnail. Every write goes
// through an atomic replace, so a crash mid-write leaves either the old
// file or the new one, never a torn hybrid.
type Dir struct {
	path string
	log  utils.Logger
}

func NewDir(path string, log utils.Logger) (*Dir, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	d := &Dir{path: path, log: log}
	d.sweepTemp()
	return d, nil
}

// sweepTemp removes temp files a crashed session left behind.
func (d *Dir) sweepTemp() {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			_ = os.Remove(filepath.Join(d.path, e.Name()))
		}
	}
}

func (d *Dir) Path() string { return d.path }

func regionFileName(key geo.Key) string {
	return fmt.Sprintf("r_%d_%d.bin", key.X, key.Y)
}

func thumbFileName(key geo.Key) string {
	return fmt.Sprintf("t_%d_%d.png", key.X, key.Y)
}

// parseRegionFileName is strict: the parsed key must render back to the
// exact name, otherwise r_1_2.bin.gone and friends would slip through.
func parseRegionFileName(name string) (key geo.Key, ok bool) {
	var x, y int32
	if n, err := fmt.Sscanf(name, "r_%d_%d.bin", &x, &y); n != 2 || err != nil {
		return key, false
	}
	key = geo.Key{X: x, Y: y}
	return key, regionFileName(key) == name
}

// writeAtomic writes data to a uniquely named temp file in the same
// directory, verifies the byte count, then replaces name with it.
// Replacement tries rename, then delete+rename, then a stream copy.
func (d *Dir) writeAtomic(name string, data []byte) error {
	dst := filepath.Join(d.path, name)
	tmp := dst + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	st, err := os.Stat(tmp)
	if err != nil || st.Size() != int64(len(data)) {
		_ = os.Remove(tmp)
		return errors.Join(ErrCorrupt, fmt.Errorf("short write to %s", tmp))
	}
	if err = os.Rename(tmp, dst); err == nil {
		return nil
	}
	d.log.Warn("rename failed, retrying after delete", "file", name, "err", err)
	if rmErr := os.Remove(dst); rmErr == nil || errors.Is(rmErr, fs.ErrNotExist) {
		if err = os.Rename(tmp, dst); err == nil {
			return nil
		}
	}
	d.log.Warn("rename failed again, falling back to copy", "file", name, "err", err)
	in, err := os.Open(tmp)
	if err != nil {
		return err
	}
	defer in.Close()
	defer os.Remove(tmp)
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (d *Dir) Load(key geo.Key) (item.Items, error) {
	data, err := os.ReadFile(filepath.Join(d.path, regionFileName(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	items, err := DecodeRegion(key, data)
	if err != nil {
		// data loss for this tile only, the session goes on
		d.log.Warn("region file unreadable", "key", key.String(), "err", err)
		return nil, ErrNotFound
	}
	return items, nil
}

func (d *Dir) Save(key geo.Key, items item.Items) error {
	return d.writeAtomic(regionFileName(key), EncodeRegion(key, items))
}

func (d *Dir) Delete(key geo.Key) error {
	err := os.Remove(filepath.Join(d.path, regionFileName(key)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (d *Dir) Keys() (keys []geo.Key, err error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if key, ok := parseRegionFileName(e.Name()); ok {
			keys = append(keys, key)
		}
	}
	return
}

func (d *Dir) LoadIndex() (*Index, error) {
	data, err := os.ReadFile(filepath.Join(d.path, indexFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ix, err := decodeIndex(data)
	if err != nil {
		d.log.Warn("index file unreadable, rebuild required", "err", err)
		return nil, ErrNotFound
	}
	return ix, nil
}

func (d *Dir) SaveIndex(ix *Index) error {
	return d.writeAtomic(indexFileName, encodeIndex(ix))
}

func (d *Dir) LoadThumb(key geo.Key) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.path, thumbFileName(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (d *Dir) SaveThumb(key geo.Key, data []byte) error {
	return d.writeAtomic(thumbFileName(key), data)
}

func (d *Dir) DeleteThumb(key geo.Key) error {
	err := os.Remove(filepath.Join(d.path, thumbFileName(key)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (d *Dir) Close() error {
	return nil
}
