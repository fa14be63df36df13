package store

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
	"github.com/drpcorg/plitka/utils"
)

// Archive serves a canvas opened straight from a packaged .zip without
// extracting it up front. Region bytes are materialized into an overlay
// Dir on first access (faster open, first-touch latency per tile), and
// all writes land in the overlay. A deletion of an archived member is
// recorded as a <name>.gone tombstone in the overlay, since the zip
// itself stays read-only.
type Archive struct {
	overlay *Dir
	zr      *zip.ReadCloser
	members map[geo.Key]*zip.File
	thumbs  map[geo.Key]*zip.File
	index   *zip.File
	log     utils.Logger
}

func OpenArchive(zipPath, overlayPath string, log utils.Logger) (*Archive, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, err
	}
	overlay, err := NewDir(overlayPath, log)
	if err != nil {
		_ = zr.Close()
		return nil, err
	}
	a := &Archive{
		overlay: overlay,
		zr:      zr,
		members: make(map[geo.Key]*zip.File),
		thumbs:  make(map[geo.Key]*zip.File),
		log:     log,
	}
	for _, f := range zr.File {
		name := path.Base(f.Name) // members may sit inside a zip folder
		if key, ok := parseRegionFileName(name); ok {
			a.members[key] = f
			continue
		}
		if key, ok := parseThumbFileName(name); ok {
			a.thumbs[key] = f
			continue
		}
		if name == indexFileName {
			a.index = f
		}
	}
	return a, nil
}

func parseThumbFileName(name string) (key geo.Key, ok bool) {
	var x, y int32
	if n, err := fmt.Sscanf(name, "t_%d_%d.png", &x, &y); n != 2 || err != nil {
		return key, false
	}
	key = geo.Key{X: x, Y: y}
	return key, thumbFileName(key) == name
}

func (a *Archive) gonePath(name string) string {
	return filepath.Join(a.overlay.Path(), name+".gone")
}

func (a *Archive) isGone(name string) bool {
	_, err := os.Stat(a.gonePath(name))
	return err == nil
}

func (a *Archive) setGone(name string, gone bool) error {
	if gone {
		return os.WriteFile(a.gonePath(name), nil, 0644)
	}
	err := os.Remove(a.gonePath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func readZipMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (a *Archive) Load(key geo.Key) (item.Items, error) {
	if a.isGone(regionFileName(key)) {
		return nil, ErrNotFound
	}
	items, err := a.overlay.Load(key)
	if err == nil {
		return items, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	f, ok := a.members[key]
	if !ok {
		return nil, ErrNotFound
	}
	data, err := readZipMember(f)
	if err != nil {
		a.log.Warn("archive member unreadable", "key", key.String(), "err", err)
		return nil, ErrNotFound
	}
	items, err = DecodeRegion(key, data)
	if err != nil {
		a.log.Warn("archived region unreadable", "key", key.String(), "err", err)
		return nil, ErrNotFound
	}
	// materialize so the next load skips the archive
	if err = a.overlay.writeAtomic(regionFileName(key), data); err != nil {
		a.log.Warn("region extraction failed", "key", key.String(), "err", err)
	}
	return items, nil
}

func (a *Archive) Save(key geo.Key, items item.Items) error {
	if err := a.setGone(regionFileName(key), false); err != nil {
		return err
	}
	return a.overlay.Save(key, items)
}

func (a *Archive) Delete(key geo.Key) error {
	if err := a.overlay.Delete(key); err != nil {
		return err
	}
	if _, ok := a.members[key]; ok {
		return a.setGone(regionFileName(key), true)
	}
	return nil
}

func (a *Archive) Keys() ([]geo.Key, error) {
	seen := make(map[geo.Key]bool)
	overlayKeys, err := a.overlay.Keys()
	if err != nil {
		return nil, err
	}
	for _, key := range overlayKeys {
		seen[key] = true
	}
	for key := range a.members {
		seen[key] = true
	}
	keys := make([]geo.Key, 0, len(seen))
	for key := range seen {
		if !a.isGone(regionFileName(key)) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (a *Archive) LoadIndex() (*Index, error) {
	ix, err := a.overlay.LoadIndex()
	if err == nil || !errors.Is(err, ErrNotFound) {
		return ix, err
	}
	if a.index == nil {
		return nil, ErrNotFound
	}
	data, err := readZipMember(a.index)
	if err != nil {
		a.log.Warn("archived index unreadable, rebuild required", "err", err)
		return nil, ErrNotFound
	}
	ix, err = decodeIndex(data)
	if err != nil {
		a.log.Warn("archived index unreadable, rebuild required", "err", err)
		return nil, ErrNotFound
	}
	return ix, nil
}

func (a *Archive) SaveIndex(ix *Index) error {
	return a.overlay.SaveIndex(ix)
}

func (a *Archive) LoadThumb(key geo.Key) ([]byte, error) {
	if a.isGone(thumbFileName(key)) {
		return nil, ErrNotFound
	}
	data, err := a.overlay.LoadThumb(key)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return data, err
	}
	if f, ok := a.thumbs[key]; ok {
		return readZipMember(f)
	}
	return nil, ErrNotFound
}

func (a *Archive) SaveThumb(key geo.Key, data []byte) error {
	if err := a.setGone(thumbFileName(key), false); err != nil {
		return err
	}
	return a.overlay.SaveThumb(key, data)
}

func (a *Archive) DeleteThumb(key geo.Key) error {
	if err := a.overlay.DeleteThumb(key); err != nil {
		return err
	}
	if _, ok := a.thumbs[key]; ok {
		return a.setGone(thumbFileName(key), true)
	}
	return nil
}

func (a *Archive) Close() error {
	err := a.zr.Close()
	if cerr := a.overlay.Close(); err == nil {
		err = cerr
	}
	return err
}
