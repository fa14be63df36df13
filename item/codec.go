package item

import (
	"github.com/drpcorg/plitka/geo"
	"github.com/drpcorg/plitka/tlv"
)

// Wire layout: one outer TLV record per item, record type = the kind tag
// ('S','I','T','L' stay uppercase so the tag survives tiny-format
// normalization). The body is a fixed-order sequence of inner records:
//
//	i  zipped id
//	z  zipped z-order
//	S: w zipped width, c zipped color, p packed points
//	I: b zipped rect,  u source ref
//	T: a packed anchor point, s zipped font size, t body text
//	L: b zipped rect,  u target url
//
// Inner records use lowercase types; small values collapse to the tiny
// format and the ordered parse does not need the type back.

// Append encodes one item and appends the record to buf.
func Append(buf []byte, it Item) []byte {
	if !it.Valid() {
		panic("encoding an invalid item")
	}
	body := make([]byte, 0, 32)
	body = tlv.Append(body, 'i', geo.ZipUint64(it.ID))
	body = tlv.Append(body, 'z', geo.ZipInt64(int64(it.Z)))
	switch it.Kind {
	case KindStroke:
		body = tlv.Append(body, 'w', geo.ZipFloat64(it.Stroke.Width))
		body = tlv.Append(body, 'c', geo.ZipUint64(uint64(it.Stroke.Color)))
		body = tlv.Append(body, 'p', geo.ZipPoints(it.Stroke.Points))
	case KindImage:
		body = tlv.Append(body, 'b', geo.ZipRect(it.Image.Rect))
		body = tlv.Append(body, 'u', []byte(it.Image.Ref))
	case KindText:
		body = tlv.Append(body, 'a', geo.ZipPoints([]geo.Point{it.Text.Pos}))
		body = tlv.Append(body, 's', geo.ZipFloat64(it.Text.Size))
		body = tlv.Append(body, 't', []byte(it.Text.Body))
	case KindLink:
		body = tlv.Append(body, 'b', geo.ZipRect(it.Link.Rect))
		body = tlv.Append(body, 'u', []byte(it.Link.URL))
	}
	return tlv.Append(buf, byte(it.Kind), body)
}

// Encode packs the whole item list into one byte string.
func Encode(items Items) []byte {
	buf := make([]byte, 0, items.EstSize())
	for _, it := range items {
		buf = Append(buf, it)
	}
	return buf
}

// Take decodes one item off the head of data. The input is untrusted
// (it comes straight from a file), so every field parse is checked.
func Take(data []byte) (it Item, rest []byte, err error) {
	lit, body, rest, err := tlv.TakeAnyWary(data)
	if err != nil {
		return Item{}, data, err
	}
	k := Kind(lit)
	if !k.Valid() {
		return Item{}, data, ErrBadItem
	}
	it.Kind = k

	var f []byte
	if f, body, err = tlv.TakeWary('I', body); err != nil {
		return Item{}, data, err
	}
	it.ID = geo.UnzipUint64(f)
	if f, body, err = tlv.TakeWary('Z', body); err != nil {
		return Item{}, data, err
	}
	it.Z = int32(geo.UnzipInt64(f))

	switch k {
	case KindStroke:
		s := &Stroke{}
		if f, body, err = tlv.TakeWary('W', body); err != nil {
			return Item{}, data, err
		}
		s.Width = geo.UnzipFloat64(f)
		if f, body, err = tlv.TakeWary('C', body); err != nil {
			return Item{}, data, err
		}
		s.Color = uint32(geo.UnzipUint64(f))
		if f, _, err = tlv.TakeWary('P', body); err != nil {
			return Item{}, data, err
		}
		if s.Points, err = geo.UnzipPoints(f); err != nil {
			return Item{}, data, err
		}
		it.Stroke = s
	case KindImage:
		i := &Image{}
		if f, body, err = tlv.TakeWary('B', body); err != nil {
			return Item{}, data, err
		}
		if i.Rect, err = geo.UnzipRect(f); err != nil {
			return Item{}, data, err
		}
		if f, _, err = tlv.TakeWary('U', body); err != nil {
			return Item{}, data, err
		}
		i.Ref = string(f)
		it.Image = i
	case KindText:
		x := &Text{}
		if f, body, err = tlv.TakeWary('A', body); err != nil {
			return Item{}, data, err
		}
		var pts []geo.Point
		if pts, err = geo.UnzipPoints(f); err != nil || len(pts) != 1 {
			return Item{}, data, ErrBadItem
		}
		x.Pos = pts[0]
		if f, body, err = tlv.TakeWary('S', body); err != nil {
			return Item{}, data, err
		}
		x.Size = geo.UnzipFloat64(f)
		if f, _, err = tlv.TakeWary('T', body); err != nil {
			return Item{}, data, err
		}
		x.Body = string(f)
		it.Text = x
	case KindLink:
		l := &Link{}
		if f, body, err = tlv.TakeWary('B', body); err != nil {
			return Item{}, data, err
		}
		if l.Rect, err = geo.UnzipRect(f); err != nil {
			return Item{}, data, err
		}
		if f, _, err = tlv.TakeWary('U', body); err != nil {
			return Item{}, data, err
		}
		l.URL = string(f)
		it.Link = l
	}
	if !it.Valid() {
		return Item{}, data, ErrBadItem
	}
	return it, rest, nil
}

// Decode parses a full item list produced by Encode.
func Decode(data []byte) (items Items, err error) {
	for len(data) > 0 {
		var it Item
		if it, data, err = Take(data); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return
}
