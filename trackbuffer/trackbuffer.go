// Package trackbuffer implements the per-track coded-frame store of §4.2:
// an ordered sequence of audio frames or video GOPs with range bookkeeping,
// GOP-aware insertion and removal, and the lookup operations the decode
// scheduler drives playback from.
//
// Video and audio have different enough append/remove/lookup semantics
// (GOP grouping vs. flat frame ordering) that they are modeled as distinct
// concrete types, AudioBuffer and VideoBuffer, sharing only the small
// Buffer interface that MediaSource/SourceBuffer need for generic range
// bookkeeping — mirroring how internal/stream/manager.go keeps a registry
// of handles without assuming a shared payload shape.
package trackbuffer

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/zsiec/msecore/media"
	"github.com/zsiec/msecore/timerange"
)

const tolSeconds = 1.0 / 60.0

// Buffer is the subset of TrackBuffer behavior common to audio and video,
// used by SourceBuffer/MediaSource for buffered-range computation and
// random-access gating (§4.4 coded-frame-processing step 2).
type Buffer interface {
	ID() uuid.UUID
	TrackID() uint32
	Type() media.TrackType
	Ranges() timerange.Ranges
	HighestEndUs() int64
	NeedRandomAccessPoint() bool
	RequireRandomAccessPoint()
	SetNeedRandomAccessPoint(bool)
	LastDecodeDtsUs() (int64, bool)
	LastFrameDurationUs() int64

	AppendSample(media.Sample)
	RemoveSamples(startUs, endUs int64)
	FindFrameForTime(t float64) (media.CodedFrame, bool)
	GetRandomAccessPointAtOrAfter(timeUs int64) (int64, bool)
}

// base holds the bookkeeping common to both track types (§3 TrackBuffer):
// last decode DTS/duration, highest presentation end, the random-access
// gate, and the merged buffered-range set.
type base struct {
	id      uuid.UUID
	trackID uint32
	log     *slog.Logger

	ranges timerange.Ranges

	lastDecodeDtsUs   int64
	haveLastDecodeDts bool
	lastFrameDurUs    int64
	highestEndUs      int64
	needRandomAccess  bool
}

func newBase(trackID uint32, log *slog.Logger) base {
	return base{
		id:               media.NewID(),
		trackID:          trackID,
		log:              log,
		needRandomAccess: true, // a freshly created track buffer needs a key frame first
	}
}

func (b *base) ID() uuid.UUID               { return b.id }
func (b *base) TrackID() uint32             { return b.trackID }
func (b *base) Ranges() timerange.Ranges    { return b.ranges }
func (b *base) HighestEndUs() int64         { return b.highestEndUs }
func (b *base) NeedRandomAccessPoint() bool { return b.needRandomAccess }
func (b *base) LastFrameDurationUs() int64  { return b.lastFrameDurUs }

func (b *base) LastDecodeDtsUs() (int64, bool) {
	return b.lastDecodeDtsUs, b.haveLastDecodeDts
}

// RequireRandomAccessPoint clears DTS/duration bookkeeping and sets the
// random-access gate (§4.2). Video additionally closes the current GOP;
// that part is implemented by VideoBuffer's override.
func (b *base) RequireRandomAccessPoint() {
	b.haveLastDecodeDts = false
	b.lastDecodeDtsUs = 0
	b.lastFrameDurUs = 0
	b.highestEndUs = 0
	b.needRandomAccess = true
}

func (b *base) recordAppend(dtsUs, durUs, endUs int64) {
	b.lastDecodeDtsUs = dtsUs
	b.haveLastDecodeDts = true
	b.lastFrameDurUs = durUs
	if endUs > b.highestEndUs {
		b.highestEndUs = endUs
	}
}

// SetNeedRandomAccessPoint is used by SourceBuffer's coded-frame-processing
// (§4.4 step 3) to clear the gate on the first admitted sync frame, and to
// set it on every track buffer when the continuity guard fires.
func (b *base) SetNeedRandomAccessPoint(v bool) {
	b.needRandomAccess = v
}

func usToSeconds(us int64) float64 { return float64(us) / 1_000_000 }

func secondsToFloorUs(t float64) int64 { return int64(t * 1_000_000) }
