package trackbuffer

import (
	"log/slog"
	"sort"

	"github.com/zsiec/msecore/media"
	"github.com/zsiec/msecore/timerange"
)

var _ Buffer = (*AudioBuffer)(nil)

// AudioBuffer is the audio variant of §4.2's TrackBuffer: a flat,
// timestamp-sorted sequence of coded frames. AAC frames are individually
// decodable, so there is no GOP grouping.
type AudioBuffer struct {
	base
	config media.AudioConfig
	frames []media.CodedFrame
}

// NewAudioBuffer creates an AudioBuffer for trackID with its initial codec
// config, as run by §4.4's "first init segment" step.
func NewAudioBuffer(trackID uint32, cfg media.AudioConfig, log *slog.Logger) *AudioBuffer {
	return &AudioBuffer{
		base:   newBase(trackID, log.With("track", trackID, "type", "audio")),
		config: cfg,
	}
}

func (a *AudioBuffer) Type() media.TrackType     { return media.TrackAudio }
func (a *AudioBuffer) Config() media.AudioConfig { return a.config }

// Reconfigure updates the stored codec config (§4.2).
func (a *AudioBuffer) Reconfigure(cfg media.AudioConfig) {
	a.config = cfg
}

// AppendSample inserts a coded frame built from s, maintaining sort order
// by timestamp and re-deriving the buffered ranges (§4.2).
func (a *AudioBuffer) AppendSample(s media.Sample) {
	f := media.CodedFrame{
		TimestampUs: s.TimestampUs(),
		DurationUs:  s.DurationUs(),
		Data:        s.Data,
		Kind:        media.Key, // every AAC frame is independently decodable
	}

	idx := sort.Search(len(a.frames), func(i int) bool {
		return a.frames[i].TimestampUs >= f.TimestampUs
	})
	if idx < len(a.frames) && a.frames[idx].TimestampUs == f.TimestampUs {
		return // duplicate insertion at the same ts: silent no-op (§4.2 edge case)
	}
	a.frames = append(a.frames, media.CodedFrame{})
	copy(a.frames[idx+1:], a.frames[idx:])
	a.frames[idx] = f

	a.ranges = a.ranges.Union(timerange.Single(usToSeconds(f.TimestampUs), usToSeconds(f.EndUs())), tolSeconds)
	a.recordAppend(s.DecodeTimestampUs(), f.DurationUs, f.EndUs())
}

// FindFrameForTime returns the frame containing t, if any (§4.2).
func (a *AudioBuffer) FindFrameForTime(t float64) (media.CodedFrame, bool) {
	tUs := secondsToFloorUs(t)
	for _, f := range a.frames {
		if f.Contains(tUs) {
			return f, true
		}
	}
	return media.CodedFrame{}, false
}

// GetDecodeDependenciesForFrame returns just [frame] for audio: every AAC
// frame decodes independently (§4.2).
func (a *AudioBuffer) GetDecodeDependenciesForFrame(f media.CodedFrame) ([]media.CodedFrame, media.AudioConfig) {
	return []media.CodedFrame{f}, a.config
}

func (a *AudioBuffer) indexOf(f media.CodedFrame) int {
	for i, fr := range a.frames {
		if fr.TimestampUs == f.TimestampUs {
			return i
		}
	}
	return -1
}

// GetNextFrames returns up to maxCount consecutive frames after (or
// before, for Backward) last in rendering order (§4.2).
func (a *AudioBuffer) GetNextFrames(last media.CodedFrame, maxCount int, dir media.Direction) ([]media.CodedFrame, media.AudioConfig, bool) {
	idx := a.indexOf(last)
	if idx < 0 {
		return nil, media.AudioConfig{}, false
	}

	var out []media.CodedFrame
	if dir == media.Forward {
		for i := idx + 1; i < len(a.frames) && len(out) < maxCount; i++ {
			out = append(out, a.frames[i])
		}
	} else {
		for i := idx - 1; i >= 0 && len(out) < maxCount; i-- {
			out = append(out, a.frames[i])
		}
	}
	return out, a.config, true
}

// GetRandomAccessPointAtOrAfter returns the earliest frame timestamp >=
// timeUs (§4.2). Every audio frame is a random-access point.
func (a *AudioBuffer) GetRandomAccessPointAtOrAfter(timeUs int64) (int64, bool) {
	for _, f := range a.frames {
		if f.TimestampUs >= timeUs {
			return f.TimestampUs, true
		}
	}
	return 0, false
}

// RemoveSamples drops any frame whose timestamp lies in [startUs, endUs),
// then rebuilds the buffered ranges (§4.2).
func (a *AudioBuffer) RemoveSamples(startUs, endUs int64) {
	kept := a.frames[:0:0]
	for _, f := range a.frames {
		if f.TimestampUs >= startUs && f.TimestampUs < endUs {
			continue
		}
		kept = append(kept, f)
	}
	a.frames = kept
	a.rebuildRanges()
}

func (a *AudioBuffer) rebuildRanges() {
	var rs timerange.Ranges
	for _, f := range a.frames {
		rs = rs.Union(timerange.Single(usToSeconds(f.TimestampUs), usToSeconds(f.EndUs())), tolSeconds)
	}
	a.ranges = rs
}

// Frames exposes the underlying frame slice for scheduler stale-frame
// checks (§4.6 "verifies the previous lastSubmitted is still present").
func (a *AudioBuffer) Frames() []media.CodedFrame { return a.frames }

// Contains reports whether frame f (matched by timestamp) is still present.
func (a *AudioBuffer) Contains(f media.CodedFrame) bool { return a.indexOf(f) >= 0 }
