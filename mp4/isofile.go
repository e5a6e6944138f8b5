package mp4

import (
	"encoding/binary"

	"github.com/zsiec/msecore/media"
	"github.com/zsiec/msecore/playerr"
)

// TrackInfo is one track's identity and decoder configuration, as read
// from an initialization segment's moov box (§4.3, §6).
type TrackInfo struct {
	ID          uint32
	Type        media.TrackType
	TimescaleHz uint32
	Video       media.VideoConfig
	Audio       media.AudioConfig
}

// Info is the result of parsing an initialization segment: every track's
// identity and codec configuration, keyed for lookup by the segment
// parser's moof/traf handling (§6 "ISO file" collaborator: getInfo,
// getTrackById).
type Info struct {
	Tracks []TrackInfo
	// DurationSec is the movie header's stated duration, or 0 if absent or
	// its timescale is unknown (§4.4 "set duration to info.duration").
	DurationSec float64
}

// TrackByID returns the track with the given ID, if present.
func (i Info) TrackByID(id uint32) (TrackInfo, bool) {
	for _, t := range i.Tracks {
		if t.ID == id {
			return t, true
		}
	}
	return TrackInfo{}, false
}

// ParseInitSegment parses an ftyp+moov initialization segment into an
// Info: one TrackInfo per trak box, with its timescale and avcC/esds
// derived decoder configuration (§4.3 step "moov: ... extract Info").
func ParseInitSegment(data []byte) (Info, error) {
	moov := findBox(data, "moov")
	if moov == nil {
		return Info{}, playerr.NewParseError("moov", errMissingBox)
	}

	var info Info
	err := iterateBoxes(moov, func(boxType string, payload []byte) error {
		switch boxType {
		case "trak":
			t, err := parseTrak(payload)
			if err != nil {
				return err
			}
			info.Tracks = append(info.Tracks, t)
		case "mvhd":
			info.DurationSec = mvhdDurationSec(payload)
		}
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	if len(info.Tracks) == 0 {
		return Info{}, playerr.NewParseError("moov", errNoTracks)
	}
	return info, nil
}

// mvhdDurationSec reads the movie header's duration and timescale,
// returning 0 if either is absent or the timescale is zero (unknown).
func mvhdDurationSec(mvhd []byte) float64 {
	if len(mvhd) < 4 {
		return 0
	}
	version := mvhd[0]
	var off int
	var timescale uint32
	var duration uint64
	if version == 1 {
		off = 4 + 8 + 8
		if len(mvhd) < off+12 {
			return 0
		}
		timescale = binary.BigEndian.Uint32(mvhd[off : off+4])
		duration = binary.BigEndian.Uint64(mvhd[off+4 : off+12])
	} else {
		off = 4 + 4 + 4
		if len(mvhd) < off+8 {
			return 0
		}
		timescale = binary.BigEndian.Uint32(mvhd[off : off+4])
		duration = uint64(binary.BigEndian.Uint32(mvhd[off+4 : off+8]))
	}
	if timescale == 0 {
		return 0
	}
	return float64(duration) / float64(timescale)
}

func parseTrak(trak []byte) (TrackInfo, error) {
	tkhd := findBox(trak, "tkhd")
	if tkhd == nil {
		return TrackInfo{}, playerr.NewParseError("tkhd", errMissingBox)
	}
	trackID, err := tkhdTrackID(tkhd)
	if err != nil {
		return TrackInfo{}, err
	}

	mdia := findBox(trak, "mdia")
	if mdia == nil {
		return TrackInfo{}, playerr.NewParseError("mdia", errMissingBox)
	}
	mdhd := findBox(mdia, "mdhd")
	if mdhd == nil {
		return TrackInfo{}, playerr.NewParseError("mdhd", errMissingBox)
	}
	timescale, err := mdhdTimescale(mdhd)
	if err != nil {
		return TrackInfo{}, err
	}

	hdlr := findBox(mdia, "hdlr")
	if hdlr == nil {
		return TrackInfo{}, playerr.NewParseError("hdlr", errMissingBox)
	}
	handlerType := hdlrType(hdlr)

	minf := findBox(mdia, "minf")
	if minf == nil {
		return TrackInfo{}, playerr.NewParseError("minf", errMissingBox)
	}
	stbl := findBox(minf, "stbl")
	if stbl == nil {
		return TrackInfo{}, playerr.NewParseError("stbl", errMissingBox)
	}
	stsd := findBox(stbl, "stsd")
	if stsd == nil {
		return TrackInfo{}, playerr.NewParseError("stsd", errMissingBox)
	}

	info := TrackInfo{ID: trackID, TimescaleHz: timescale}

	switch handlerType {
	case "vide":
		info.Type = media.TrackVideo
		cfg, err := parseVisualSampleEntry(stsd)
		if err != nil {
			return TrackInfo{}, err
		}
		info.Video = cfg
	case "soun":
		info.Type = media.TrackAudio
		cfg, err := parseAudioSampleEntry(stsd)
		if err != nil {
			return TrackInfo{}, err
		}
		info.Audio = cfg
	default:
		return TrackInfo{}, playerr.NewParseError("hdlr", errUnsupportedHandler)
	}

	return info, nil
}

func tkhdTrackID(tkhd []byte) (uint32, error) {
	if len(tkhd) < 4 {
		return 0, playerr.NewParseError("tkhd", errShortBox)
	}
	version := tkhd[0]
	var off int
	if version == 1 {
		off = 4 + 8 + 8 // version+flags, creation, modification
	} else {
		off = 4 + 4 + 4
	}
	if len(tkhd) < off+4 {
		return 0, playerr.NewParseError("tkhd", errShortBox)
	}
	return binary.BigEndian.Uint32(tkhd[off : off+4]), nil
}

func mdhdTimescale(mdhd []byte) (uint32, error) {
	if len(mdhd) < 4 {
		return 0, playerr.NewParseError("mdhd", errShortBox)
	}
	version := mdhd[0]
	var off int
	if version == 1 {
		off = 4 + 8 + 8
	} else {
		off = 4 + 4 + 4
	}
	if len(mdhd) < off+4 {
		return 0, playerr.NewParseError("mdhd", errShortBox)
	}
	return binary.BigEndian.Uint32(mdhd[off : off+4]), nil
}

func hdlrType(hdlr []byte) string {
	// version(1) + flags(3) + pre_defined(4) + handler_type(4)
	if len(hdlr) < 12 {
		return ""
	}
	return string(hdlr[8:12])
}

const (
	visualSampleEntryFixedLen = 78
	audioSampleEntryFixedLen  = 28
)

func parseVisualSampleEntry(stsd []byte) (media.VideoConfig, error) {
	entry, err := firstSampleEntry(stsd)
	if err != nil {
		return media.VideoConfig{}, err
	}
	if len(entry) < visualSampleEntryFixedLen {
		return media.VideoConfig{}, playerr.NewParseError("stsd.avc1", errShortBox)
	}
	avcC := findBox(entry[visualSampleEntryFixedLen:], "avcC")
	if avcC == nil {
		return media.VideoConfig{}, playerr.NewParseError("stsd.avc1", errMissingBox)
	}
	cfg, _, err := ParseAVCDecoderConfiguration(avcC)
	return cfg, err
}

func parseAudioSampleEntry(stsd []byte) (media.AudioConfig, error) {
	entry, err := firstSampleEntry(stsd)
	if err != nil {
		return media.AudioConfig{}, err
	}
	if len(entry) < audioSampleEntryFixedLen {
		return media.AudioConfig{}, playerr.NewParseError("stsd.mp4a", errShortBox)
	}
	esds := findBox(entry[audioSampleEntryFixedLen:], "esds")
	if esds == nil {
		return media.AudioConfig{}, playerr.NewParseError("stsd.mp4a", errMissingBox)
	}
	asc, err := parseESDS(esds)
	if err != nil {
		return media.AudioConfig{}, err
	}
	return ParseAudioSpecificConfig(asc)
}

// firstSampleEntry returns the payload of the first sample entry inside an
// stsd box. Sample entries are themselves boxes (size+fourcc) following an
// 8-byte stsd header (version/flags + entry_count).
func firstSampleEntry(stsd []byte) ([]byte, error) {
	if len(stsd) < 8 {
		return nil, playerr.NewParseError("stsd", errShortBox)
	}
	b, res := ParseOneBox(stsd[8:])
	if res != ResultOk {
		return nil, playerr.NewParseError("stsd.entry", errMalformedBox)
	}
	rest := stsd[8:]
	return rest[b.Start:b.End()], nil
}
