package mp4

import "testing"

// aacLC44100Stereo builds a 2-byte AudioSpecificConfig for AAC-LC,
// 44100 Hz (index 4), stereo (channel config 2).
func aacLC44100Stereo() []byte {
	objectType := byte(2) // AAC-LC
	sampleRateIdx := byte(4)
	channelCfg := byte(2)
	b0 := (objectType << 3) | (sampleRateIdx >> 1)
	b1 := (sampleRateIdx&0x01)<<7 | (channelCfg << 3)
	return []byte{b0, b1}
}

func TestParseAudioSpecificConfig(t *testing.T) {
	t.Parallel()

	cfg, err := ParseAudioSpecificConfig(aacLC44100Stereo())
	if err != nil {
		t.Fatalf("ParseAudioSpecificConfig: %v", err)
	}
	if cfg.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", cfg.SampleRate)
	}
	if cfg.Channels != 2 {
		t.Errorf("Channels = %d, want 2", cfg.Channels)
	}
	if cfg.Codec != "mp4a.40.2" {
		t.Errorf("Codec = %q, want mp4a.40.2", cfg.Codec)
	}
}

func TestParseAudioSpecificConfigBadSampleRateIndex(t *testing.T) {
	t.Parallel()

	// index 13 is reserved/unassigned in the 13-entry table.
	bad := []byte{(2 << 3) | (13 >> 1), (13 & 0x01) << 7}
	if _, err := ParseAudioSpecificConfig(bad); err == nil {
		t.Error("expected error for out-of-range sample rate index")
	}
}

func buildESDS(asc []byte) []byte {
	// esds full-box header
	out := []byte{0, 0, 0, 0}

	decSpecific := append([]byte{0x05, byte(len(asc))}, asc...)
	decConfig := append([]byte{0x04, byte(13 + len(decSpecific))}, make([]byte, 13)...)
	decConfig = append(decConfig, decSpecific...)
	esDescr := append([]byte{0x03, byte(3 + len(decConfig))}, 0, 0, 0)
	esDescr = append(esDescr, decConfig...)

	return append(out, esDescr...)
}

func TestParseESDSExtractsAudioSpecificConfig(t *testing.T) {
	t.Parallel()

	asc := aacLC44100Stereo()
	esds := buildESDS(asc)

	got, err := parseESDS(esds)
	if err != nil {
		t.Fatalf("parseESDS: %v", err)
	}
	if len(got) != len(asc) || got[0] != asc[0] || got[1] != asc[1] {
		t.Errorf("parseESDS = %x, want %x", got, asc)
	}
}
