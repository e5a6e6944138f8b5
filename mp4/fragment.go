package mp4

import (
	"encoding/binary"

	"github.com/zsiec/msecore/media"
	"github.com/zsiec/msecore/playerr"
)

const (
	tfhdBaseDataOffsetPresent    = 0x000001
	tfhdSampleDescriptionPresent = 0x000002
	tfhdDefaultDurationPresent   = 0x000008
	tfhdDefaultSizePresent       = 0x000010
	tfhdDefaultFlagsPresent      = 0x000020

	trunDataOffsetPresent     = 0x000001
	trunFirstSampleFlagsSet   = 0x000004
	trunSampleDurationPresent = 0x000100
	trunSampleSizePresent     = 0x000200
	trunSampleFlagsPresent    = 0x000400
	trunSampleCompTimePresent = 0x000800
	sampleFlagsNonSyncBit     = 1 << 16
)

type trackFragmentHeader struct {
	trackID         uint32
	baseDataOffset  int64
	hasBaseOffset   bool
	defaultDuration uint32
	defaultSize     uint32
	defaultFlags    uint32
}

// ParseMediaSegment parses a media segment (a moof box immediately
// followed by its mdat, exactly as delivered to appendBuffer for a
// CMAF-style fragment — §4.3 step "moof/mdat: ... extract samples") into
// per-sample media.Sample values, grouped by track ID. Byte offsets in
// trun are interpreted relative to the start of the moof box, matching
// the common default-base-is-moof fragment layout. A tfhd
// base-data-offset, when present, is added to the trun data offset and is
// likewise measured from the start of the moof, not from the start of the
// file.
func ParseMediaSegment(segment []byte, info Info) (map[uint32][]media.Sample, error) {
	moofBox, res := ParseOneBox(segment)
	if res != ResultOk || moofBox.Type != "moof" {
		return nil, playerr.NewParseError("moof", errMissingBox)
	}
	moof := segment[moofBox.Start:moofBox.End()]

	mdatBox := findTopLevelBox(segment[moofBox.End():], "mdat")
	if mdatBox == nil {
		return nil, playerr.NewParseError("mdat", errMissingBox)
	}

	out := make(map[uint32][]media.Sample)
	err := iterateBoxes(moof, func(boxType string, payload []byte) error {
		if boxType != "traf" {
			return nil
		}
		samples, err := parseTraf(payload, info, segment)
		if err != nil {
			return err
		}
		for trackID, s := range samples {
			out[trackID] = append(out[trackID], s...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = mdatBox // presence validated; sample bytes are sliced directly from segment
	return out, nil
}

// findTopLevelBox scans data's top-level boxes for the first of boxType,
// returning its full payload, or nil if absent.
func findTopLevelBox(data []byte, boxType string) []byte {
	offset := 0
	for offset < len(data) {
		b, res := ParseOneBox(data[offset:])
		if res != ResultOk {
			return nil
		}
		if b.Type == boxType {
			return data[offset+b.Start : offset+b.End()]
		}
		offset += b.End()
	}
	return nil
}

func parseTraf(traf []byte, info Info, segment []byte) (map[uint32][]media.Sample, error) {
	tfhdPayload := findBox(traf, "tfhd")
	if tfhdPayload == nil {
		return nil, playerr.NewParseError("tfhd", errMissingBox)
	}
	tfhd, err := parseTfhd(tfhdPayload)
	if err != nil {
		return nil, err
	}

	track, ok := info.TrackByID(tfhd.trackID)
	if !ok {
		return nil, playerr.NewParseError("traf", errUnknownTrack)
	}

	var baseDecodeTime int64
	if tfdtPayload := findBox(traf, "tfdt"); tfdtPayload != nil {
		baseDecodeTime, err = parseTfdt(tfdtPayload)
		if err != nil {
			return nil, err
		}
	}

	result := make(map[uint32][]media.Sample)
	dts := baseDecodeTime
	for _, trunPayload := range findBoxes(traf, "trun") {
		samples, nextDts, err := parseTrun(trunPayload, tfhd, track, dts, segment)
		if err != nil {
			return nil, err
		}
		dts = nextDts
		result[tfhd.trackID] = append(result[tfhd.trackID], samples...)
	}
	return result, nil
}

func parseTfhd(tfhd []byte) (trackFragmentHeader, error) {
	if len(tfhd) < 8 {
		return trackFragmentHeader{}, playerr.NewParseError("tfhd", errShortBox)
	}
	flags := binary.BigEndian.Uint32(tfhd[0:4]) & 0x00FFFFFF
	h := trackFragmentHeader{trackID: binary.BigEndian.Uint32(tfhd[4:8])}
	off := 8

	if flags&tfhdBaseDataOffsetPresent != 0 {
		if len(tfhd) < off+8 {
			return trackFragmentHeader{}, playerr.NewParseError("tfhd", errShortBox)
		}
		h.baseDataOffset = int64(binary.BigEndian.Uint64(tfhd[off : off+8]))
		h.hasBaseOffset = true
		off += 8
	}
	if flags&tfhdSampleDescriptionPresent != 0 {
		off += 4
	}
	if flags&tfhdDefaultDurationPresent != 0 {
		if len(tfhd) < off+4 {
			return trackFragmentHeader{}, playerr.NewParseError("tfhd", errShortBox)
		}
		h.defaultDuration = binary.BigEndian.Uint32(tfhd[off : off+4])
		off += 4
	}
	if flags&tfhdDefaultSizePresent != 0 {
		if len(tfhd) < off+4 {
			return trackFragmentHeader{}, playerr.NewParseError("tfhd", errShortBox)
		}
		h.defaultSize = binary.BigEndian.Uint32(tfhd[off : off+4])
		off += 4
	}
	if flags&tfhdDefaultFlagsPresent != 0 {
		if len(tfhd) < off+4 {
			return trackFragmentHeader{}, playerr.NewParseError("tfhd", errShortBox)
		}
		h.defaultFlags = binary.BigEndian.Uint32(tfhd[off : off+4])
		off += 4
	}
	return h, nil
}

func parseTfdt(tfdt []byte) (int64, error) {
	if len(tfdt) < 4 {
		return 0, playerr.NewParseError("tfdt", errShortBox)
	}
	version := tfdt[0]
	if version == 1 {
		if len(tfdt) < 12 {
			return 0, playerr.NewParseError("tfdt", errShortBox)
		}
		return int64(binary.BigEndian.Uint64(tfdt[4:12])), nil
	}
	if len(tfdt) < 8 {
		return 0, playerr.NewParseError("tfdt", errShortBox)
	}
	return int64(binary.BigEndian.Uint32(tfdt[4:8])), nil
}

func parseTrun(trun []byte, tfhd trackFragmentHeader, track TrackInfo, startDts int64, segment []byte) ([]media.Sample, int64, error) {
	if len(trun) < 8 {
		return nil, 0, playerr.NewParseError("trun", errShortBox)
	}
	version := trun[0]
	flags := binary.BigEndian.Uint32(trun[0:4]) & 0x00FFFFFF
	sampleCount := binary.BigEndian.Uint32(trun[4:8])
	off := 8

	dataOffset := int64(0)
	if tfhd.hasBaseOffset {
		dataOffset = tfhd.baseDataOffset
	}
	if flags&trunDataOffsetPresent != 0 {
		if len(trun) < off+4 {
			return nil, 0, playerr.NewParseError("trun", errShortBox)
		}
		dataOffset += int64(int32(binary.BigEndian.Uint32(trun[off : off+4])))
		off += 4
	}

	firstSampleFlags := tfhd.defaultFlags
	hasFirstFlags := false
	if flags&trunFirstSampleFlagsSet != 0 {
		if len(trun) < off+4 {
			return nil, 0, playerr.NewParseError("trun", errShortBox)
		}
		firstSampleFlags = binary.BigEndian.Uint32(trun[off : off+4])
		hasFirstFlags = true
		off += 4
	}

	cursor := dataOffset
	dts := startDts
	samples := make([]media.Sample, 0, sampleCount)

	for i := uint32(0); i < sampleCount; i++ {
		duration := tfhd.defaultDuration
		if flags&trunSampleDurationPresent != 0 {
			if len(trun) < off+4 {
				return nil, 0, playerr.NewParseError("trun", errShortBox)
			}
			duration = binary.BigEndian.Uint32(trun[off : off+4])
			off += 4
		}
		size := tfhd.defaultSize
		if flags&trunSampleSizePresent != 0 {
			if len(trun) < off+4 {
				return nil, 0, playerr.NewParseError("trun", errShortBox)
			}
			size = binary.BigEndian.Uint32(trun[off : off+4])
			off += 4
		}
		sampleFlags := tfhd.defaultFlags
		if i == 0 && hasFirstFlags {
			sampleFlags = firstSampleFlags
		} else if flags&trunSampleFlagsPresent != 0 {
			if len(trun) < off+4 {
				return nil, 0, playerr.NewParseError("trun", errShortBox)
			}
			sampleFlags = binary.BigEndian.Uint32(trun[off : off+4])
			off += 4
		}
		var compOffset int64
		if flags&trunSampleCompTimePresent != 0 {
			if len(trun) < off+4 {
				return nil, 0, playerr.NewParseError("trun", errShortBox)
			}
			raw := binary.BigEndian.Uint32(trun[off : off+4])
			if version == 1 {
				compOffset = int64(int32(raw))
			} else {
				compOffset = int64(raw)
			}
			off += 4
		}

		if cursor < 0 || int(cursor)+int(size) > len(segment) {
			return nil, 0, playerr.NewParseError("trun", errSampleOverrun)
		}
		data := segment[cursor : cursor+int64(size)]

		samples = append(samples, media.Sample{
			TrackID:       tfhd.trackID,
			TimescaleHz:   track.TimescaleHz,
			DTSTicks:      dts,
			CTSTicks:      dts + compOffset,
			DurationTicks: duration,
			Data:          data,
			IsSync:        sampleFlags&sampleFlagsNonSyncBit == 0,
		})

		cursor += int64(size)
		dts += int64(duration)
	}

	return samples, dts, nil
}
