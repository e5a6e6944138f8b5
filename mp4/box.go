// Package mp4 implements the fragmented-MP4 segment parser glue of §4.3:
// a streaming box-header reader, a minimal ISO-BMFF walk of the boxes the
// engine actually needs (ftyp/moov/moof/mdat and their children), and the
// avcC/esds decoder-configuration derivation of §6. This is not a
// general-purpose MP4 library — only enough of the box tree to drive the
// engine's data flow and satisfy the "ISO file" collaborator interface
// named in §6.
package mp4

import (
	"encoding/binary"

	"github.com/zsiec/msecore/playerr"
)

// BoxResult mirrors the three-way outcome of §4.3/§6's parseOneBox
// contract: Ok, NeedMoreData, or InvalidData.
type BoxResult int

const (
	ResultOk BoxResult = iota
	ResultNeedMoreData
	ResultInvalidData
)

// Box is a parsed top-level box header: its four-character type, the byte
// offset of its payload within the buffer passed to ParseOneBox, and the
// payload size.
type Box struct {
	Type  string
	Start int // offset of the payload (after the header) within the input
	Size  int // payload size in bytes, excluding the header
}

// End returns the offset one past the box's payload.
func (b Box) End() int { return b.Start + b.Size }

// ParseOneBox reads a single ISO-BMFF box header from the front of data:
// a 4-byte size, a 4-byte type, and (if size == 1) an 8-byte large size.
// It returns ResultNeedMoreData if data doesn't yet contain a full header
// plus its declared payload, and ResultInvalidData if the header is
// structurally malformed (size < header length, for instance).
func ParseOneBox(data []byte) (Box, BoxResult) {
	if len(data) < 8 {
		return Box{}, ResultNeedMoreData
	}

	size64 := uint64(binary.BigEndian.Uint32(data[0:4]))
	typ := string(data[4:8])
	headerLen := 8

	if size64 == 1 {
		if len(data) < 16 {
			return Box{}, ResultNeedMoreData
		}
		size64 = binary.BigEndian.Uint64(data[8:16])
		headerLen = 16
	} else if size64 == 0 {
		// size 0 means "box extends to end of file"; not meaningful for a
		// bounded fragment buffer, treat as the remainder of data.
		size64 = uint64(len(data))
	}

	if size64 < uint64(headerLen) {
		return Box{}, ResultInvalidData
	}

	total := size64
	if total > uint64(len(data)) {
		return Box{}, ResultNeedMoreData
	}

	return Box{
		Type:  typ,
		Start: headerLen,
		Size:  int(total) - headerLen,
	}, ResultOk
}

// iterateBoxes walks every top-level box in data, calling fn with the
// box's type and its payload slice. It stops and returns fn's error if
// fn returns one, and returns a ParseError if a box is malformed.
func iterateBoxes(data []byte, fn func(boxType string, payload []byte) error) error {
	offset := 0
	for offset < len(data) {
		b, res := ParseOneBox(data[offset:])
		switch res {
		case ResultNeedMoreData:
			// A truncated trailing box inside an already-buffered segment is
			// a malformed fragment, not "need more data" (the caller is
			// expected to have already buffered the whole segment).
			return playerr.NewParseError("box-header", errShortBox)
		case ResultInvalidData:
			return playerr.NewParseError("box-header", errMalformedBox)
		}
		payload := data[offset+b.Start : offset+b.End()]
		if err := fn(b.Type, payload); err != nil {
			return err
		}
		offset += b.End()
	}
	return nil
}

// findBox returns the payload of the first direct child box of the given
// type, or nil if absent.
func findBox(data []byte, boxType string) []byte {
	var found []byte
	_ = iterateBoxes(data, func(t string, payload []byte) error {
		if found == nil && t == boxType {
			found = payload
		}
		return nil
	})
	return found
}

// findBoxes returns the payloads of every direct child box of the given
// type, in order.
func findBoxes(data []byte, boxType string) [][]byte {
	var found [][]byte
	_ = iterateBoxes(data, func(t string, payload []byte) error {
		if t == boxType {
			found = append(found, payload)
		}
		return nil
	})
	return found
}
