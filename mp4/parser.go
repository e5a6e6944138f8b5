package mp4

import (
	"log/slog"

	"github.com/zsiec/msecore/media"
	"github.com/zsiec/msecore/playerr"
)

// EventKind distinguishes the outcomes the segment parser glue can emit
// while pumping an appended byte buffer (§4.3).
type EventKind int

const (
	EventInitSegment EventKind = iota
	EventMediaSegment
	EventParseError
)

// Event is one outcome of Parser.Feed: either a freshly parsed Info (from
// ftyp+moov), a batch of samples per track (from moof+mdat), or a parse
// error that the source buffer turns into append-error (§7).
type Event struct {
	Kind    EventKind
	Info    Info
	Samples map[uint32][]media.Sample
	Err     error
}

// Parser is the glue layer of §4.3: it pumps an appended byte buffer,
// dispatches by top-level box type, and buffers partial ftyp/moov/moof
// data across Feed calls until a full box is available.
//
// The bytes given to a single Feed call need not end on a box boundary: a
// trailing partial top-level box (header or body) is reported as
// NeedMoreData and its bytes are retained for the next Feed, which
// completes it.
type Parser struct {
	log      *slog.Logger
	initBuf  []byte // accumulated ftyp + moov bytes
	moofBuf  []byte // buffered moof box pending its mdat
	pending  []byte // bytes left over from a short trailing box
	lastInfo Info   // most recently parsed init segment, for moof/mdat track lookup
}

// NewParser creates a segment parser, logging under the given logger.
func NewParser(log *slog.Logger) *Parser {
	return &Parser{log: log.With("component", "mp4.Parser")}
}

// Feed pumps newly appended bytes (prefixed by any bytes retained from a
// prior short read) and returns the events produced. It never blocks and
// never returns NeedMoreData to the caller — that state is absorbed
// internally and surfaces only as an empty event list.
func (p *Parser) Feed(data []byte) []Event {
	buf := append(p.pending, data...)
	p.pending = nil

	var events []Event
	offset := 0
	for offset < len(buf) {
		b, res := ParseOneBox(buf[offset:])
		switch res {
		case ResultNeedMoreData:
			p.pending = append([]byte(nil), buf[offset:]...)
			return events
		case ResultInvalidData:
			events = append(events, Event{Kind: EventParseError, Err: playerr.NewParseError("box-header", errMalformedBox)})
			return events
		}

		boxBytes := buf[offset : offset+b.End()]
		switch b.Type {
		case "ftyp":
			p.initBuf = append(p.initBuf, boxBytes...)
		case "moov":
			p.initBuf = append(p.initBuf, boxBytes...)
			info, err := ParseInitSegment(p.initBuf)
			if err != nil {
				events = append(events, Event{Kind: EventParseError, Err: err})
			} else {
				p.lastInfo = info
				events = append(events, Event{Kind: EventInitSegment, Info: info})
			}
		case "moof":
			p.moofBuf = append([]byte(nil), boxBytes...)
		case "mdat":
			if p.moofBuf == nil {
				events = append(events, Event{Kind: EventParseError, Err: playerr.NewParseError("mdat", errMissingBox)})
				break
			}
			segment := append(append([]byte(nil), p.moofBuf...), boxBytes...)
			samples, err := ParseMediaSegment(segment, p.lastInfo)
			p.moofBuf = nil
			if err != nil {
				events = append(events, Event{Kind: EventParseError, Err: err})
			} else {
				events = append(events, Event{Kind: EventMediaSegment, Samples: samples})
			}
		default:
			// skipped, per §4.3 "all other box types are skipped"
		}
		offset += b.End()
	}
	return events
}

// Reset discards any buffered init/moof state, as run by SourceBuffer.abort
// (§4.4).
func (p *Parser) Reset() {
	p.initBuf = nil
	p.moofBuf = nil
	p.pending = nil
}
