package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/drpcorg/plitka"
	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/item"
	"github.com/drpcorg/plitka/store"
	"github.com/drpcorg/plitka/utils"
	"github.com/ergochat/readline"
)

type REPL struct {
	rl   *readline.Instance
	eng  *plitka.Engine
	pins map[geo.Key]bool
}

var ErrNotOpen = errors.New("no canvas open, see: open <path> [dir|zip|pebble]")
var ErrBadArgs = errors.New("bad arguments")

func parseFloats(args []string, n int) ([]float64, error) {
	if len(args) < n {
		return nil, ErrBadArgs
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrBadArgs, args[i])
		}
		out[i] = v
	}
	return out, nil
}

func parseKey(args []string) (geo.Key, error) {
	if len(args) < 2 {
		return geo.Key{}, fmt.Errorf("%w: need <kx> <ky>", ErrBadArgs)
	}
	x, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return geo.Key{}, fmt.Errorf("%w: %q is not a key coordinate", ErrBadArgs, args[0])
	}
	y, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return geo.Key{}, fmt.Errorf("%w: %q is not a key coordinate", ErrBadArgs, args[1])
	}
	return geo.Key{X: int32(x), Y: int32(y)}, nil
}

func rectOf(vals []float64) geo.Rect {
	r := geo.Rect{X0: vals[0], Y0: vals[1], X1: vals[2], Y1: vals[3]}
	if r.X0 > r.X1 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y0 > r.Y1 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r
}

func (rp *REPL) CommandOpen(args []string) error {
	if rp.eng != nil {
		return errors.New("a canvas is already open, close it first")
	}
	if len(args) < 1 {
		return fmt.Errorf("%w: open <path> [dir|zip|pebble]", ErrBadArgs)
	}
	path := args[0]
	backend := "dir"
	if strings.HasSuffix(path, ".zip") {
		backend = "zip"
	}
	if len(args) > 1 {
		backend = args[1]
	}
	log := utils.NewDefaultLogger(slog.LevelWarn)

	var st store.Store
	var err error
	switch backend {
	case "dir":
		st, err = store.NewDir(path, log)
	case "zip":
		st, err = store.OpenArchive(path, strings.TrimSuffix(path, ".zip")+".overlay", log)
	case "pebble":
		st, err = store.OpenPebble(path, log)
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrBadArgs, backend)
	}
	if err != nil {
		return err
	}
	rp.eng, err = plitka.Open(st, plitka.Options{Renderer: asciiThumb{}, Logger: log})
	if err != nil {
		return err
	}
	rp.pins = make(map[geo.Key]bool)
	s := rp.eng.Stats()
	fmt.Printf("%s: %d regions, last id #%d\n", path, s.Regions, s.LastID)
	return nil
}

func (rp *REPL) CommandClose() error {
	if rp.eng == nil {
		return nil
	}
	err := rp.eng.Close()
	rp.eng = nil
	if err == nil {
		fmt.Println("closed")
	}
	return err
}

// stroke <x> <y> <x> <y> [<x> <y> ...] [width]
func (rp *REPL) CommandStroke(args []string) error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	vals, err := parseFloats(args, len(args))
	if err != nil {
		return err
	}
	width := 2.0
	if len(vals)%2 == 1 {
		width = vals[len(vals)-1]
		vals = vals[:len(vals)-1]
	}
	if len(vals) < 4 {
		return fmt.Errorf("%w: need at least two points", ErrBadArgs)
	}
	pts := make([]geo.Point, 0, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		pts = append(pts, geo.Point{X: vals[i], Y: vals[i+1]})
	}
	return rp.add(item.Item{
		Kind:   item.KindStroke,
		Stroke: &item.Stroke{Points: pts, Width: width, Color: 0xff000000},
	})
}

// text <x> <y> <size> <body...>
func (rp *REPL) CommandText(args []string) error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	vals, err := parseFloats(args, 3)
	if err != nil {
		return fmt.Errorf("%w: text <x> <y> <size> <body>", ErrBadArgs)
	}
	body := strings.Join(args[3:], " ")
	if body == "" {
		return fmt.Errorf("%w: empty text body", ErrBadArgs)
	}
	return rp.add(item.Item{
		Kind: item.KindText,
		Text: &item.Text{Pos: geo.Point{X: vals[0], Y: vals[1]}, Size: vals[2], Body: body},
	})
}

// image <x0> <y0> <x1> <y1> <ref>
func (rp *REPL) CommandImage(args []string) error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	vals, err := parseFloats(args, 4)
	if err != nil || len(args) < 5 {
		return fmt.Errorf("%w: image <x0> <y0> <x1> <y1> <ref>", ErrBadArgs)
	}
	return rp.add(item.Item{
		Kind:  item.KindImage,
		Image: &item.Image{Rect: rectOf(vals), Ref: args[4]},
	})
}

// link <x0> <y0> <x1> <y1> <url>
func (rp *REPL) CommandLink(args []string) error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	vals, err := parseFloats(args, 4)
	if err != nil || len(args) < 5 {
		return fmt.Errorf("%w: link <x0> <y0> <x1> <y1> <url>", ErrBadArgs)
	}
	return rp.add(item.Item{
		Kind: item.KindLink,
		Link: &item.Link{Rect: rectOf(vals), URL: args[4]},
	})
}

func (rp *REPL) add(it item.Item) error {
	id, err := rp.eng.AddItem(context.Background(), it)
	if err != nil {
		return err
	}
	fmt.Printf("#%d\n", id)
	return nil
}

// rm <id> [<id> ...]
func (rp *REPL) CommandRemove(args []string) error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: rm <id> [<id> ...]", ErrBadArgs)
	}
	want := make(map[uint64]bool, len(args))
	for _, a := range args {
		id, err := strconv.ParseUint(strings.TrimPrefix(a, "#"), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not an id", ErrBadArgs, a)
		}
		want[id] = true
	}
	ctx := context.Background()
	all, err := rp.eng.GetRegionsInRect(ctx, rp.eng.GetContentBounds())
	if err != nil {
		return err
	}
	var victims item.Items
	for _, it := range all {
		if want[it.ID] {
			victims = append(victims, it)
		}
	}
	removed, err := rp.eng.RemoveItems(ctx, victims)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d of %d\n", removed, len(want))
	return nil
}

// get <kx> <ky>
func (rp *REPL) CommandGet(args []string) error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	key, err := parseKey(args)
	if err != nil {
		return err
	}
	items, err := rp.eng.GetRegion(context.Background(), key)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Printf("%s: empty\n", key.String())
		return nil
	}
	for _, it := range items {
		fmt.Println(it.String())
	}
	return nil
}

// query <x0> <y0> <x1> <y1>
func (rp *REPL) CommandQuery(args []string) error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	vals, err := parseFloats(args, 4)
	if err != nil {
		return fmt.Errorf("%w: query <x0> <y0> <x1> <y1>", ErrBadArgs)
	}
	items, err := rp.eng.GetRegionsInRect(context.Background(), rectOf(vals))
	if err != nil {
		return err
	}
	for _, it := range items {
		fmt.Println(it.String())
	}
	fmt.Printf("%d items\n", len(items))
	return nil
}

func (rp *REPL) CommandList() error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	rp.eng.DumpIndex(os.Stdout)
	return nil
}

// thumb <kx> <ky>
func (rp *REPL) CommandThumb(args []string) error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	key, err := parseKey(args)
	if err != nil {
		return err
	}
	data, err := rp.eng.GetThumbnail(context.Background(), key)
	if err != nil {
		return err
	}
	if data == nil {
		fmt.Printf("%s: empty\n", key.String())
		return nil
	}
	os.Stdout.Write(data)
	return nil
}

// pin/unpin <kx> <ky> [<kx> <ky> ...]
func (rp *REPL) CommandPin(args []string, on bool) error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	for len(args) >= 2 {
		key, err := parseKey(args)
		if err != nil {
			return err
		}
		if on {
			rp.pins[key] = true
		} else {
			delete(rp.pins, key)
		}
		args = args[2:]
	}
	keys := make([]geo.Key, 0, len(rp.pins))
	for key := range rp.pins {
		keys = append(keys, key)
	}
	rp.eng.SetPinnedRegions(keys)
	fmt.Printf("%d regions pinned\n", len(keys))
	return nil
}

func (rp *REPL) CommandFlush() error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	if err := rp.eng.SaveAll(context.Background()); err != nil {
		return err
	}
	fmt.Println("flushed")
	return nil
}

func (rp *REPL) CommandClear() error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	if err := rp.eng.Clear(context.Background()); err != nil {
		return err
	}
	rp.pins = make(map[geo.Key]bool)
	fmt.Println("cleared")
	return nil
}

func (rp *REPL) CommandAudit() error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	if rp.eng.Audit() {
		fmt.Println("skeleton index rebuilt")
	} else {
		fmt.Println("consistent")
	}
	return nil
}

func (rp *REPL) CommandStats() error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	s := rp.eng.Stats()
	fmt.Printf("regions:   %d\n", s.Regions)
	fmt.Printf("cache:     %d regions, %d bytes\n", s.CacheRegions, s.CacheBytes)
	fmt.Printf("overflow:  %d regions, %d bytes\n", s.OverflowRegions, s.OverflowBytes)
	fmt.Printf("pending:   %d\n", s.PendingFlush)
	fmt.Printf("pinned:    %d\n", s.Pinned)
	fmt.Printf("last id:   #%d\n", s.LastID)
	fmt.Printf("load avg:  %.0f us\n", s.LoadAvgMicros)
	if !s.ContentBounds.IsEmpty() {
		fmt.Printf("content:   %s\n", s.ContentBounds.String())
	}
	return nil
}

// dump [index|tiers|region <kx> <ky>]
func (rp *REPL) CommandDump(args []string) error {
	if rp.eng == nil {
		return ErrNotOpen
	}
	if len(args) == 0 {
		rp.eng.DumpAll(os.Stdout)
		return nil
	}
	switch args[0] {
	case "index":
		rp.eng.DumpIndex(os.Stdout)
	case "tiers":
		rp.eng.DumpTiers(os.Stdout)
	case "region":
		key, err := parseKey(args[1:])
		if err != nil {
			return err
		}
		rp.eng.DumpRegion(os.Stdout, key)
	default:
		return fmt.Errorf("%w: dump [index|tiers|region <kx> <ky>]", ErrBadArgs)
	}
	return nil
}

func (rp *REPL) CommandHelp() {
	fmt.Print(`open <path> [dir|zip|pebble]   open or create a canvas
close                          flush and close it
stroke <x y x y ...> [width]   draw a polyline stroke
text <x> <y> <size> <body>     place a text block
image <x0 y0 x1 y1> <ref>      place an image
link <x0 y0 x1 y1> <url>       place a link area
rm <id> ...                    remove items by id
get <kx> <ky>                  list one region's items
query <x0 y0 x1 y1>            list items in a rectangle
ls                             list regions with bounds
thumb <kx> <ky>                render a tile preview
pin|unpin <kx ky> ...          keep regions resident
flush                          persist everything dirty
clear                          drop all content
audit                          check the spatial index
stats                          engine counters
dump [index|tiers|region k k]  inspect internals
exit                           close and leave
`)
}
