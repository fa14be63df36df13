package geo

import (
	"encoding/binary"
	"errors"
	"math"
	"math/bits"
)

// Compact little-endian codecs. Ints drop trailing zero bytes, floats are
// bit-reversed first so round values zip short. The byte length carries
// part of the information, so every zipped value must be framed (TLV
// records do that for us).

var ErrBadZip = errors.New("geo: malformed zip encoding")

// ZipUint64 packs v into the shortest possible byte string.
func ZipUint64(v uint64) []byte {
	buf := [8]byte{}
	i := 0
	for v > 0 {
		buf[i] = uint8(v)
		v >>= 8
		i++
	}
	return buf[0:i]
}

func UnzipUint64(zip []byte) (v uint64) {
	for i := len(zip) - 1; i >= 0; i-- {
		v <<= 8
		v |= uint64(zip[i])
	}
	return
}

func ZigZagInt64(i int64) uint64 {
	return uint64(i*2) ^ uint64(i>>63)
}

func ZagZigUint64(u uint64) int64 {
	half := u >> 1
	mask := -(u & 1)
	return int64(half ^ mask)
}

func ZipInt64(i int64) []byte {
	return ZipUint64(ZigZagInt64(i))
}

func UnzipInt64(zip []byte) int64 {
	return ZagZigUint64(UnzipUint64(zip))
}

func ZipFloat64(f float64) []byte {
	fb := math.Float64bits(f)
	return ZipUint64(bits.Reverse64(fb))
}

func UnzipFloat64(zip []byte) float64 {
	b := UnzipUint64(zip)
	return math.Float64frombits(bits.Reverse64(b))
}

func zipLen(n uint64) int {
	switch {
	case n == 0:
		return 0
	case n <= 0xff:
		return 1
	case n <= 0xffff:
		return 2
	case n <= 0xffffffff:
		return 4
	default:
		return 8
	}
}

// ZipKey packs a key's zigzagged coordinates as a pattern byte plus the
// coordinate bytes, 1..9 bytes total.
func ZipKey(k Key) []byte {
	x := ZigZagInt64(int64(k.X))
	y := ZigZagInt64(int64(k.Y))
	lx, ly := zipLen(x), zipLen(y)
	ret := make([]byte, 1, 1+lx+ly)
	ret[0] = byte(lx<<4 | ly)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], x)
	ret = append(ret, b[:lx]...)
	binary.LittleEndian.PutUint64(b[:], y)
	ret = append(ret, b[:ly]...)
	return ret
}

func UnzipKey(zip []byte) (k Key, err error) {
	if len(zip) == 0 {
		return Key{}, ErrBadZip
	}
	lx, ly := int(zip[0]>>4), int(zip[0]&0xf)
	if !validZipLen(lx) || !validZipLen(ly) || len(zip) != 1+lx+ly {
		return Key{}, ErrBadZip
	}
	x := ZagZigUint64(UnzipUint64(zip[1 : 1+lx]))
	y := ZagZigUint64(UnzipUint64(zip[1+lx:]))
	if x < math.MinInt32 || x > math.MaxInt32 || y < math.MinInt32 || y > math.MaxInt32 {
		return Key{}, ErrBadZip
	}
	return Key{int32(x), int32(y)}, nil
}

func validZipLen(l int) bool {
	return l == 0 || l == 1 || l == 2 || l == 4 || l == 8
}

// ZipRect packs four floats, each prefixed by its zipped length.
func ZipRect(r Rect) []byte {
	ret := make([]byte, 0, 4*9)
	for _, f := range [4]float64{r.X0, r.Y0, r.X1, r.Y1} {
		z := ZipFloat64(f)
		ret = append(ret, byte(len(z)))
		ret = append(ret, z...)
	}
	return ret
}

func UnzipRect(zip []byte) (r Rect, err error) {
	out := [4]float64{}
	for i := 0; i < 4; i++ {
		if len(zip) < 1 {
			return Rect{}, ErrBadZip
		}
		l := int(zip[0])
		if l > 8 || len(zip) < 1+l {
			return Rect{}, ErrBadZip
		}
		out[i] = UnzipFloat64(zip[1 : 1+l])
		zip = zip[1+l:]
	}
	if len(zip) != 0 {
		return Rect{}, ErrBadZip
	}
	return Rect{out[0], out[1], out[2], out[3]}, nil
}

// ZipPoints packs stroke points as fixed-width coordinate pairs; strokes
// are the bulk of a canvas and decode speed beats squeezing bytes here.
func ZipPoints(pts []Point) []byte {
	ret := make([]byte, 0, len(pts)*16)
	var b [8]byte
	for _, p := range pts {
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(p.X))
		ret = append(ret, b[:]...)
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(p.Y))
		ret = append(ret, b[:]...)
	}
	return ret
}

func UnzipPoints(zip []byte) ([]Point, error) {
	if len(zip)%16 != 0 {
		return nil, ErrBadZip
	}
	pts := make([]Point, 0, len(zip)/16)
	for i := 0; i+16 <= len(zip); i += 16 {
		pts = append(pts, Point{
			X: math.Float64frombits(binary.LittleEndian.Uint64(zip[i : i+8])),
			Y: math.Float64frombits(binary.LittleEndian.Uint64(zip[i+8 : i+16])),
		})
	}
	return pts, nil
}
