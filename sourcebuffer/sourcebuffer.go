// Package sourcebuffer implements §4.4's SourceBuffer: the input staging
// buffer that feeds appended bytes through the mp4 segment parser, runs
// coded-frame-processing per track, and owns one trackbuffer per track.
package sourcebuffer

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zsiec/msecore/events"
	"github.com/zsiec/msecore/media"
	"github.com/zsiec/msecore/mp4"
	"github.com/zsiec/msecore/playerr"
	"github.com/zsiec/msecore/timerange"
	"github.com/zsiec/msecore/trackbuffer"
)

// Host is the subset of MediaSource behavior a SourceBuffer needs,
// satisfied by mediasource.MediaSource. Kept as a narrow interface here
// (rather than importing mediasource directly) to avoid a package cycle —
// MediaSource owns the registry of SourceBuffers (§4.5).
type Host interface {
	Duration() float64
	SetDuration(seconds float64) error
	IsOpen() bool
	IsEnded() bool
	ReopenIfEnded()
	EndOfStream(kind playerr.EndOfStreamKind) error
	NotifyTracksActive(sb *SourceBuffer)
	NotifyRangeRemoved(sb *SourceBuffer, startSec, endSec float64)
}

// DecoderSupport reports whether a codec string can be decoded, satisfied
// by the codec package's registry (§6 "ensure decoder support"). Kept as
// an interface so sourcebuffer doesn't depend on codec's concrete decoder
// types.
type DecoderSupport interface {
	IsSupported(codec string) bool
}

// SourceBuffer is one MSE-shaped SourceBuffer: a mime type, an updating
// gate, a segment parser, and the track buffers it owns (§4.4).
type SourceBuffer struct {
	id       uuid.UUID
	log      *slog.Logger
	host     Host
	support  DecoderSupport
	mimeType string

	dispatcher *events.Dispatcher

	mu                sync.Mutex
	updating          bool
	attached          bool
	firstInitReceived bool
	parser            *mp4.Parser

	trackOrder   []uint32
	audioBuffers map[uint32]*trackbuffer.AudioBuffer
	videoBuffers map[uint32]*trackbuffer.VideoBuffer
}

// New creates an attached SourceBuffer for mimeType ("audio/mp4" or
// "video/mp4", §4.5 addSourceBuffer).
func New(host Host, support DecoderSupport, mimeType string, log *slog.Logger) *SourceBuffer {
	id := media.NewID()
	return &SourceBuffer{
		id:           id,
		log:          log.With("component", "sourcebuffer", "id", id),
		host:         host,
		support:      support,
		mimeType:     mimeType,
		dispatcher:   &events.Dispatcher{},
		attached:     true,
		parser:       mp4.NewParser(log),
		audioBuffers: make(map[uint32]*trackbuffer.AudioBuffer),
		videoBuffers: make(map[uint32]*trackbuffer.VideoBuffer),
	}
}

func (sb *SourceBuffer) ID() uuid.UUID                 { return sb.id }
func (sb *SourceBuffer) MimeType() string              { return sb.mimeType }
func (sb *SourceBuffer) On(o events.Observer) int      { return sb.dispatcher.On(o) }
func (sb *SourceBuffer) Updating() bool                { sb.mu.Lock(); defer sb.mu.Unlock(); return sb.updating }
func (sb *SourceBuffer) AudioBuffers() map[uint32]*trackbuffer.AudioBuffer { return sb.audioBuffers }
func (sb *SourceBuffer) VideoBuffers() map[uint32]*trackbuffer.VideoBuffer { return sb.videoBuffers }

// allBuffers returns every owned track buffer through the shared
// trackbuffer.Buffer interface, in track-creation order.
func (sb *SourceBuffer) allBuffers() []trackbuffer.Buffer {
	out := make([]trackbuffer.Buffer, 0, len(sb.trackOrder))
	for _, id := range sb.trackOrder {
		if a, ok := sb.audioBuffers[id]; ok {
			out = append(out, a)
		} else if v, ok := sb.videoBuffers[id]; ok {
			out = append(out, v)
		}
	}
	return out
}

// AppendBuffer implements §4.4's appendBuffer: feeds bytes through the
// segment parser and runs coded-frame-processing, firing the
// updatestart→update→updateend (or →error→updateend) event sequence.
func (sb *SourceBuffer) AppendBuffer(data []byte) error {
	sb.mu.Lock()
	if !sb.attached {
		sb.mu.Unlock()
		return playerr.NewStateError("appendBuffer", "detached")
	}
	if sb.updating {
		sb.mu.Unlock()
		return playerr.NewStateError("appendBuffer", "updating")
	}
	if sb.host.IsEnded() {
		sb.host.ReopenIfEnded()
	}
	sb.updating = true
	sb.mu.Unlock()

	sb.dispatcher.FireKind(events.KindUpdateStart)

	if err := sb.runParserLoop(data); err != nil {
		sb.appendError(err)
		return err
	}

	sb.mu.Lock()
	sb.updating = false
	sb.mu.Unlock()
	sb.dispatcher.FireKind(events.KindUpdate)
	sb.dispatcher.FireKind(events.KindUpdateEnd)
	return nil
}

// appendError implements §7's append-error: reset parser state, drop
// updating, emit error+updateend, and signal the parent to end the stream
// with a decode error.
func (sb *SourceBuffer) appendError(err error) {
	sb.log.Error("append error", "err", err)
	sb.parser.Reset()
	sb.mu.Lock()
	sb.updating = false
	sb.mu.Unlock()
	sb.dispatcher.Fire(events.Event{Kind: events.KindError, Err: err})
	sb.dispatcher.FireKind(events.KindUpdateEnd)
	sb.host.EndOfStream(playerr.EOSDecode)
}

func (sb *SourceBuffer) runParserLoop(data []byte) error {
	for _, ev := range sb.parser.Feed(data) {
		switch ev.Kind {
		case mp4.EventInitSegment:
			if err := sb.initSegmentReceived(ev.Info); err != nil {
				return err
			}
		case mp4.EventMediaSegment:
			for trackID, samples := range ev.Samples {
				if err := sb.codedFrameProcessing(trackID, samples); err != nil {
					return err
				}
			}
		case mp4.EventParseError:
			return ev.Err
		}
	}
	return nil
}

// initSegmentReceived implements §4.4's initialization-segment-received.
func (sb *SourceBuffer) initSegmentReceived(info mp4.Info) error {
	if math.IsNaN(sb.host.Duration()) {
		d := info.DurationSec
		if d == 0 {
			d = math.Inf(1)
		}
		sb.host.SetDuration(d)
	}

	var audio, video []mp4.TrackInfo
	for _, t := range info.Tracks {
		switch t.Type {
		case media.TrackAudio:
			audio = append(audio, t)
		case media.TrackVideo:
			video = append(video, t)
		}
	}
	if len(audio) == 0 && len(video) == 0 {
		return playerr.NewInitError("no audio or video tracks")
	}
	for _, t := range audio {
		if !sb.support.IsSupported(t.Audio.Codec) {
			return playerr.NewInitError("unsupported audio codec: " + t.Audio.Codec)
		}
	}
	for _, t := range video {
		if !sb.support.IsSupported(t.Video.Codec) {
			return playerr.NewInitError("unsupported video codec: " + t.Video.Codec)
		}
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()

	if !sb.firstInitReceived {
		for _, t := range audio {
			buf := trackbuffer.NewAudioBuffer(t.ID, t.Audio, sb.log)
			sb.audioBuffers[t.ID] = buf
			sb.trackOrder = append(sb.trackOrder, t.ID)
		}
		for _, t := range video {
			buf := trackbuffer.NewVideoBuffer(t.ID, t.Video, sb.log)
			sb.videoBuffers[t.ID] = buf
			sb.trackOrder = append(sb.trackOrder, t.ID)
		}
		sb.firstInitReceived = true
		sb.host.NotifyTracksActive(sb)
		return nil
	}

	if len(audio) != len(sb.audioBuffers) || len(video) != len(sb.videoBuffers) {
		return playerr.NewInitError("track count mismatch across init segments")
	}
	for _, t := range audio {
		buf, ok := sb.audioBuffers[t.ID]
		if !ok {
			return playerr.NewInitError("audio track ID mismatch across init segments")
		}
		buf.Reconfigure(t.Audio)
		buf.SetNeedRandomAccessPoint(true)
	}
	for _, t := range video {
		buf, ok := sb.videoBuffers[t.ID]
		if !ok {
			return playerr.NewInitError("video track ID mismatch across init segments")
		}
		buf.Reconfigure(t.Video)
		buf.SetNeedRandomAccessPoint(true)
	}
	return nil
}

// codedFrameProcessing implements §4.4's per-track coded-frame-processing
// loop: continuity guard, random-access gating, then append.
func (sb *SourceBuffer) codedFrameProcessing(trackID uint32, samples []media.Sample) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	buf, ok := sb.bufferFor(trackID)
	if !ok {
		return playerr.NewParseError("moof", errUnknownTrackID)
	}

	// Samples within a batch must be processed in DTS order for the
	// continuity guard to be meaningful.
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].DecodeTimestampUs() < samples[j].DecodeTimestampUs()
	})

	for _, s := range samples {
		sb.admitSample(buf, s)
	}
	return nil
}

func (sb *SourceBuffer) bufferFor(trackID uint32) (trackbuffer.Buffer, bool) {
	if a, ok := sb.audioBuffers[trackID]; ok {
		return a, true
	}
	if v, ok := sb.videoBuffers[trackID]; ok {
		return v, true
	}
	return nil, false
}

func (sb *SourceBuffer) admitSample(buf trackbuffer.Buffer, s media.Sample) {
	dtsUs := s.DecodeTimestampUs()

	if lastDts, have := buf.LastDecodeDtsUs(); have {
		if dtsUs < lastDts || dtsUs-lastDts > 2*buf.LastFrameDurationUs() {
			for _, b := range sb.allBuffers() {
				b.RequireRandomAccessPoint()
			}
		}
	}

	if buf.NeedRandomAccessPoint() {
		if !s.IsSync {
			return // drop non-sync frames until a key frame arrives
		}
		buf.SetNeedRandomAccessPoint(false)
	}

	buf.AppendSample(s)
}

// Remove implements §4.4's remove(start, end): range-removal per track
// buffer, gated by a random-access re-arm, with an element stall if
// playback sits inside the removed window.
func (sb *SourceBuffer) Remove(startSec, endSec float64) error {
	sb.mu.Lock()
	if sb.updating {
		sb.mu.Unlock()
		return playerr.NewStateError("remove", "updating")
	}
	if startSec < 0 || startSec > sb.host.Duration() || endSec <= startSec {
		sb.mu.Unlock()
		return playerr.ErrTypeError
	}
	sb.updating = true
	sb.mu.Unlock()

	sb.dispatcher.FireKind(events.KindUpdateStart)

	startUs := secondsToUs(startSec)
	endUs := secondsToUs(endSec)
	durationUs := secondsToUs(sb.host.Duration())

	for _, buf := range sb.allBuffers() {
		candidate := durationUs
		if ra, ok := buf.GetRandomAccessPointAtOrAfter(endUs); ok {
			candidate = ra
		}
		removeEndUs := endUs
		if candidate < removeEndUs {
			removeEndUs = candidate
		}
		buf.RemoveSamples(startUs, removeEndUs)
		buf.RequireRandomAccessPoint()
	}

	sb.host.NotifyRangeRemoved(sb, startSec, endSec)

	sb.mu.Lock()
	sb.updating = false
	sb.mu.Unlock()
	sb.dispatcher.FireKind(events.KindUpdate)
	sb.dispatcher.FireKind(events.KindUpdateEnd)
	return nil
}

// Buffered implements §4.4's buffered: the intersection of all owned track
// buffers' ranges, clamped to [0, highestEnd]. When the parent has ended,
// the last range of each track is stretched to the overall highest end
// before intersecting, so a slightly-shorter audio tail doesn't truncate
// the reported buffered window.
func (sb *SourceBuffer) Buffered() timerange.Ranges {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	buffers := sb.allBuffers()
	if len(buffers) == 0 {
		return nil
	}

	var highestEndUs int64
	for _, b := range buffers {
		if e := b.HighestEndUs(); e > highestEndUs {
			highestEndUs = e
		}
	}
	highestEnd := usToSeconds(highestEndUs)

	var result timerange.Ranges
	for i, b := range buffers {
		r := b.Ranges()
		if sb.host.IsEnded() {
			r = r.WithLastStretchedTo(highestEnd)
		}
		if i == 0 {
			result = r
		} else {
			result = result.Intersect(r)
		}
	}
	return result.Clamp(0, highestEnd)
}

// Abort implements §4.4's abort(): resets parser state and discards any
// buffered input.
func (sb *SourceBuffer) Abort() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.parser.Reset()
	sb.updating = false
}

// Detach marks the SourceBuffer removed from its parent MediaSource, as
// run by MediaSource.Detach (§4.5).
func (sb *SourceBuffer) Detach() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.attached = false
}

func usToSeconds(us int64) float64 { return float64(us) / 1_000_000 }
func secondsToUs(s float64) int64  { return int64(s * 1_000_000) }

// IsSupportedMimeType reports whether mimeType is one §4.5's
// addSourceBuffer accepts.
func IsSupportedMimeType(mimeType string) bool {
	return strings.HasPrefix(mimeType, "audio/mp4") || strings.HasPrefix(mimeType, "video/mp4")
}
