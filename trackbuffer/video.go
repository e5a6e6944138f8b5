package trackbuffer

import (
	"log/slog"
	"sort"

	"github.com/zsiec/msecore/media"
	"github.com/zsiec/msecore/timerange"
)

var _ Buffer = (*VideoBuffer)(nil)

// VideoBuffer is the video variant of §4.2's TrackBuffer: GOPs sorted by
// StartUs, each a key frame and its dependent deltas.
type VideoBuffer struct {
	base
	config media.VideoConfig
	gops   []*media.GroupOfPictures
	// current is the GOP still being appended to; nil once closed by
	// RequireRandomAccessPoint or Reconfigure.
	current *media.GroupOfPictures
}

// NewVideoBuffer creates a VideoBuffer for trackID with its initial codec
// config (§4.4 "first init segment").
func NewVideoBuffer(trackID uint32, cfg media.VideoConfig, log *slog.Logger) *VideoBuffer {
	return &VideoBuffer{
		base:   newBase(trackID, log.With("track", trackID, "type", "video")),
		config: cfg,
	}
}

func (v *VideoBuffer) Type() media.TrackType     { return media.TrackVideo }
func (v *VideoBuffer) Config() media.VideoConfig { return v.config }

// Reconfigure updates the stored codec config and closes the current GOP
// so subsequent deltas attach to a GOP recording the new config (§4.2).
func (v *VideoBuffer) Reconfigure(cfg media.VideoConfig) {
	v.config = cfg
	v.current = nil
}

// RequireRandomAccessPoint clears bookkeeping and closes the current GOP
// (§4.2), in addition to base's bookkeeping reset.
func (v *VideoBuffer) RequireRandomAccessPoint() {
	v.base.RequireRandomAccessPoint()
	v.current = nil
}

// AppendSample inserts a coded frame built from s. A sync frame (or no
// open GOP) starts a new GOP inserted in sorted order by StartUs;
// otherwise the frame extends the current GOP (§4.2).
func (v *VideoBuffer) AppendSample(s media.Sample) {
	f := media.CodedFrame{
		TimestampUs: s.TimestampUs(),
		DurationUs:  s.DurationUs(),
		Data:        s.Data,
	}
	if s.IsSync {
		f.Kind = media.Key
	} else {
		f.Kind = media.Delta
	}

	if f.Kind == media.Key || v.current == nil {
		g := media.NewGOP(f, v.config)
		idx := sort.Search(len(v.gops), func(i int) bool {
			return v.gops[i].StartUs >= g.StartUs
		})
		v.gops = append(v.gops, nil)
		copy(v.gops[idx+1:], v.gops[idx:])
		v.gops[idx] = g
		v.current = g
	} else {
		v.current.Append(f)
	}

	v.ranges = v.ranges.Union(timerange.Single(usToSeconds(f.TimestampUs), usToSeconds(f.EndUs())), tolSeconds)
	v.recordAppend(s.DecodeTimestampUs(), f.DurationUs, f.EndUs())
}

func (v *VideoBuffer) gopFor(tUs int64) (*media.GroupOfPictures, int) {
	for i, g := range v.gops {
		if tUs >= g.StartUs && tUs < g.EndUs {
			return g, i
		}
	}
	return nil, -1
}

// FindFrameForTime locates the GOP containing t, then the frame within it
// containing t (§4.2).
func (v *VideoBuffer) FindFrameForTime(t float64) (media.CodedFrame, bool) {
	tUs := secondsToFloorUs(t)
	g, _ := v.gopFor(tUs)
	if g == nil {
		return media.CodedFrame{}, false
	}
	idx := g.FindFrame(tUs)
	if idx < 0 {
		return media.CodedFrame{}, false
	}
	return g.Frames[idx], true
}

// GetDecodeDependenciesForFrame returns the GOP's frames from its key
// frame up to and including f (§4.2).
func (v *VideoBuffer) GetDecodeDependenciesForFrame(f media.CodedFrame) ([]media.CodedFrame, media.VideoConfig) {
	g, _ := v.gopFor(f.TimestampUs)
	if g == nil {
		return nil, media.VideoConfig{}
	}
	idx := g.FindFrame(f.TimestampUs)
	if idx < 0 {
		return nil, media.VideoConfig{}
	}
	deps := make([]media.CodedFrame, idx+1)
	copy(deps, g.Frames[:idx+1])
	return deps, g.CodecHint
}

func (v *VideoBuffer) locate(f media.CodedFrame) (gopIdx, frameIdx int) {
	for gi, g := range v.gops {
		if fi := g.FindFrame(f.TimestampUs); fi >= 0 {
			return gi, fi
		}
	}
	return -1, -1
}

// GetNextFrames continues inside the current GOP, or jumps to the
// neighbouring GOP only if it is temporally adjacent (§4.2): within 1us of
// the current GOP's boundary. Returns ok=false ("no guaranteed
// continuation") if the frame can't be located or no neighbour qualifies
// once maxCount frames are still wanted and the GOP is exhausted without an
// adjacent neighbour.
func (v *VideoBuffer) GetNextFrames(last media.CodedFrame, maxCount int, dir media.Direction) ([]media.CodedFrame, media.VideoConfig, bool) {
	gi, fi := v.locate(last)
	if gi < 0 {
		return nil, media.VideoConfig{}, false
	}

	var out []media.CodedFrame
	cfg := v.gops[gi].CodecHint
	curGi, curFi := gi, fi

	for len(out) < maxCount {
		g := v.gops[curGi]
		if dir == media.Forward {
			if curFi+1 < len(g.Frames) {
				curFi++
				out = append(out, g.Frames[curFi])
				continue
			}
			// Exhausted the GOP: jump forward only if temporally adjacent.
			if curGi+1 >= len(v.gops) {
				break
			}
			next := v.gops[curGi+1]
			if abs64(next.StartUs-g.EndUs) > 1 {
				break
			}
			curGi++
			curFi = 0
			out = append(out, next.Frames[0])
		} else {
			if curFi-1 >= 0 {
				curFi--
				out = append(out, g.Frames[curFi])
				continue
			}
			if curGi-1 < 0 {
				break
			}
			prev := v.gops[curGi-1]
			if abs64(g.StartUs-prev.EndUs) > 1 {
				break
			}
			curGi--
			curFi = len(prev.Frames) - 1
			out = append(out, prev.Frames[curFi])
		}
	}

	if len(out) == 0 {
		return nil, cfg, false
	}
	return out, cfg, true
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// GetRandomAccessPointAtOrAfter returns the earliest GOP start >= timeUs
// (§4.2).
func (v *VideoBuffer) GetRandomAccessPointAtOrAfter(timeUs int64) (int64, bool) {
	for _, g := range v.gops {
		if g.StartUs >= timeUs {
			return g.StartUs, true
		}
	}
	return 0, false
}

// RemoveSamples implements §4.2's GOP-aware removal: a GOP starting inside
// [startUs,endUs) is dropped wholesale; a GOP with a mid-sequence frame in
// range is truncated from that frame on (later frames depend on the
// removed delta even if outside the interval).
func (v *VideoBuffer) RemoveSamples(startUs, endUs int64) {
	kept := v.gops[:0:0]
	for _, g := range v.gops {
		if g.StartUs >= startUs && g.StartUs < endUs {
			continue // whole GOP starts in-range: drop it
		}
		cut := -1
		for i, f := range g.Frames {
			if f.TimestampUs >= startUs && f.TimestampUs < endUs {
				cut = i
				break
			}
		}
		if cut >= 0 {
			g.Frames = g.Frames[:cut]
			if len(g.Frames) == 0 {
				continue
			}
			g.EndUs = g.Frames[len(g.Frames)-1].EndUs()
			for _, f := range g.Frames {
				if e := f.EndUs(); e > g.EndUs {
					g.EndUs = e
				}
			}
		}
		kept = append(kept, g)
	}
	v.gops = kept
	if v.current != nil {
		stillOpen := false
		for _, g := range v.gops {
			if g == v.current && len(g.Frames) > 0 {
				stillOpen = true
				break
			}
		}
		if !stillOpen {
			v.current = nil
		}
	}
	v.rebuildRanges()
}

func (v *VideoBuffer) rebuildRanges() {
	var rs timerange.Ranges
	for _, g := range v.gops {
		rs = rs.Union(timerange.Single(usToSeconds(g.StartUs), usToSeconds(g.EndUs)), tolSeconds)
	}
	v.ranges = rs
}

// GOPs exposes the underlying GOP slice for scheduler stale-frame checks.
func (v *VideoBuffer) GOPs() []*media.GroupOfPictures { return v.gops }

// Contains reports whether frame f (matched by timestamp) is still
// present in some GOP.
func (v *VideoBuffer) Contains(f media.CodedFrame) bool {
	gi, fi := v.locate(f)
	return gi >= 0 && fi >= 0
}
