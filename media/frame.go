// Package media defines the core frame and configuration types that flow
// from the segment parser through the track buffers to the decode
// scheduler: coded samples as parsed off the wire, coded frames as queued
// in a track buffer, and the codec configuration records that accompany
// them.
package media

import "github.com/google/uuid"

// TrackType distinguishes audio from video track buffers (§3 TrackBuffer).
type TrackType int

// Track types understood by the engine. Text tracks are explicitly out of
// scope (§1 Non-goals).
const (
	TrackAudio TrackType = iota
	TrackVideo
)

func (t TrackType) String() string {
	switch t {
	case TrackAudio:
		return "audio"
	case TrackVideo:
		return "video"
	default:
		return "unknown"
	}
}

// FrameKind reflects a coded frame's Sample.IsSync flag once it has been
// queued into a track buffer (§3 CodedFrame).
type FrameKind int

const (
	// Delta is a non-random-access frame, decodable only with reference to
	// prior frames in its GOP.
	Delta FrameKind = iota
	// Key is a random-access point; video GOPs always start with one.
	Key
)

// Sample is a single coded access unit as emitted by the segment parser,
// immutable after emission (§3 Sample). Timestamps are carried at the
// track's native timescale; CTS/DTS are converted to microseconds via
// round(1e6 * ticks / timescaleHz) at the trackbuffer boundary.
type Sample struct {
	TrackID       uint32
	TimescaleHz   uint32
	DTSTicks      int64
	CTSTicks      int64
	DurationTicks uint32
	Data          []byte
	IsSync        bool
}

// TimestampUs converts the sample's CTS to microseconds.
func (s Sample) TimestampUs() int64 {
	return ticksToUs(s.CTSTicks, s.TimescaleHz)
}

// DecodeTimestampUs converts the sample's DTS to microseconds.
func (s Sample) DecodeTimestampUs() int64 {
	return ticksToUs(s.DTSTicks, s.TimescaleHz)
}

// DurationUs converts the sample's duration to microseconds.
func (s Sample) DurationUs() int64 {
	return ticksToUs(int64(s.DurationTicks), s.TimescaleHz)
}

func ticksToUs(ticks int64, timescaleHz uint32) int64 {
	if timescaleHz == 0 {
		return 0
	}
	// round(1e6 * ticks / timescaleHz) without intermediate float rounding
	// error for large tick counts.
	num := ticks * 1_000_000
	den := int64(timescaleHz)
	if num >= 0 {
		return (num + den/2) / den
	}
	return -((-num + den/2) / den)
}

// CodedFrame is a Sample after conversion to microsecond timestamps and
// queueing into a TrackBuffer (§3 CodedFrame). Invariant: DurationUs > 0.
type CodedFrame struct {
	TimestampUs int64
	DurationUs  int64
	Data        []byte
	Kind        FrameKind
}

// EndUs returns TimestampUs + DurationUs, the frame's presentation end.
func (f CodedFrame) EndUs() int64 {
	return f.TimestampUs + f.DurationUs
}

// Contains reports whether tUs falls within [TimestampUs, TimestampUs+DurationUs).
func (f CodedFrame) Contains(tUs int64) bool {
	return tUs >= f.TimestampUs && tUs < f.EndUs()
}

// VideoConfig is the decoder configuration for a video track, derived from
// the avcC box of the sample description (§6).
type VideoConfig struct {
	Codec         string // RFC 6381 string, e.g. "avc1.640028"
	Width         int
	Height        int
	DecoderConfig []byte // AVCDecoderConfigurationRecord, verbatim avcC payload
}

// AudioConfig is the decoder configuration for an audio track, derived from
// the esds box's AudioSpecificConfig (§6).
type AudioConfig struct {
	Codec         string // RFC 6381 string, e.g. "mp4a.40.2"
	SampleRate    int
	Channels      int
	DecoderConfig []byte // raw AudioSpecificConfig bytes
}

// GroupOfPictures is a key frame and the delta frames that depend on it
// (§3 GroupOfPictures). Invariants: Frames[0].Kind == Key; StartUs ==
// Frames[0].TimestampUs; EndUs == max over Frames of TimestampUs+DurationUs.
type GroupOfPictures struct {
	StartUs   int64
	EndUs     int64
	Frames    []CodedFrame
	CodecHint VideoConfig
}

// NewGOP starts a new GOP from its key frame.
func NewGOP(key CodedFrame, cfg VideoConfig) *GroupOfPictures {
	return &GroupOfPictures{
		StartUs:   key.TimestampUs,
		EndUs:     key.EndUs(),
		Frames:    []CodedFrame{key},
		CodecHint: cfg,
	}
}

// Append adds a delta frame to the GOP, growing EndUs as needed.
func (g *GroupOfPictures) Append(f CodedFrame) {
	g.Frames = append(g.Frames, f)
	if end := f.EndUs(); end > g.EndUs {
		g.EndUs = end
	}
}

// FindFrame returns the index of the frame containing tUs, or -1.
func (g *GroupOfPictures) FindFrame(tUs int64) int {
	for i, f := range g.Frames {
		if f.Contains(tUs) {
			return i
		}
	}
	return -1
}

// NewID returns a fresh correlation id for a track buffer or source buffer,
// used in log fields and event payloads.
func NewID() uuid.UUID {
	return uuid.New()
}
