package mp4

import (
	"github.com/zsiec/msecore/media"
	"github.com/zsiec/msecore/playerr"
)

// aacSampleRates is the AAC sample rate index table (ISO 14496-3 Table 1.16).
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// ParseAudioSpecificConfig reads the AudioSpecificConfig payload carried
// inside an esds box's decoder-specific-info (ISO 14496-3): a 5-bit object
// type, a 4-bit sample rate index (or 24-bit explicit rate if the index is
// 0xF), and a 4-bit channel configuration. Only the plain (non-SBR/PS)
// layout is parsed; extension fields aren't needed to drive playback.
func ParseAudioSpecificConfig(asc []byte) (media.AudioConfig, error) {
	if len(asc) < 2 {
		return media.AudioConfig{}, playerr.NewParseError("esds.asc", errShortBox)
	}

	objectType := asc[0] >> 3
	sampleRateIdx := ((asc[0] & 0x07) << 1) | (asc[1] >> 7)
	channelCfg := (asc[1] >> 3) & 0x0F

	var sampleRate int
	if sampleRateIdx == 0x0F {
		if len(asc) < 5 {
			return media.AudioConfig{}, playerr.NewParseError("esds.asc", errShortBox)
		}
		sampleRate = int(asc[1]&0x7F)<<17 | int(asc[2])<<9 | int(asc[3])<<1 | int(asc[4]>>7)
		channelCfg = (asc[4] >> 3) & 0x0F
	} else if int(sampleRateIdx) < len(aacSampleRates) {
		sampleRate = aacSampleRates[sampleRateIdx]
	} else {
		return media.AudioConfig{}, playerr.NewParseError("esds.asc", errBadSampleRate)
	}

	return media.AudioConfig{
		Codec:         aacCodecString(objectType),
		SampleRate:    sampleRate,
		Channels:      int(channelCfg),
		DecoderConfig: append([]byte(nil), asc...),
	}, nil
}

// aacCodecString returns the RFC 6381 codec parameter string for an AAC
// object type, e.g. "mp4a.40.2" for AAC-LC.
func aacCodecString(objectType byte) string {
	switch objectType {
	case 1:
		return "mp4a.40.1" // AAC Main
	case 2:
		return "mp4a.40.2" // AAC-LC
	case 5:
		return "mp4a.40.5" // HE-AAC (SBR)
	case 29:
		return "mp4a.40.29" // HE-AACv2 (SBR+PS)
	default:
		return "mp4a.40.2"
	}
}

// parseESDS walks an esds box's MPEG-4 descriptor tree far enough to reach
// the AudioSpecificConfig nested inside the DecoderSpecificInfo descriptor
// (tag 0x05), skipping the ES descriptor (0x03) and DecoderConfigDescriptor
// (0x04) headers that precede it.
func parseESDS(esds []byte) ([]byte, error) {
	if len(esds) < 4 {
		return nil, playerr.NewParseError("esds", errShortBox)
	}
	// esds payload starts with a 4-byte full-box header (version + flags).
	data := esds[4:]

	for len(data) > 0 {
		tag := data[0]
		data = data[1:]
		length, consumed, ok := readDescriptorLength(data)
		if !ok {
			return nil, playerr.NewParseError("esds.descriptor", errShortBox)
		}
		data = data[consumed:]
		if length > len(data) {
			return nil, playerr.NewParseError("esds.descriptor", errShortBox)
		}
		body := data[:length]

		switch tag {
		case 0x03: // ES_DescrTag: 2-byte ES_ID + 1-byte flags precede nested descriptors
			if len(body) < 3 {
				return nil, playerr.NewParseError("esds.es", errShortBox)
			}
			data = body[3:]
			continue
		case 0x04: // DecoderConfigDescrTag: 13-byte fixed fields precede DecoderSpecificInfo
			if len(body) < 13 {
				return nil, playerr.NewParseError("esds.decoderConfig", errShortBox)
			}
			data = body[13:]
			continue
		case 0x05: // DecoderSpecificInfoTag: AudioSpecificConfig itself
			return body, nil
		default:
			data = data[length:]
		}
	}
	return nil, playerr.NewParseError("esds", errNoASC)
}

// readDescriptorLength reads an MPEG-4 descriptor's variable-length size
// field: up to 4 bytes, each contributing 7 bits, continuing while the
// high bit is set.
func readDescriptorLength(data []byte) (length, consumed int, ok bool) {
	for i := 0; i < 4 && i < len(data); i++ {
		b := data[i]
		length = (length << 7) | int(b&0x7F)
		consumed++
		if b&0x80 == 0 {
			return length, consumed, true
		}
	}
	return 0, 0, false
}
