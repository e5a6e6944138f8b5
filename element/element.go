// Package element implements §6's MediaElement surface: the
// HTMLMediaElement-shaped facade that owns a srcObject (a MediaSource),
// delegates clock/decode/render concerns to the scheduler, and tracks the
// element-only state the scheduler has no reason to know about (played
// ranges, the srcObject back-reference).
package element

import (
	"log/slog"
	"sync"

	"github.com/zsiec/msecore/events"
	"github.com/zsiec/msecore/mediasource"
	"github.com/zsiec/msecore/scheduler"
	"github.com/zsiec/msecore/timerange"
	"github.com/zsiec/msecore/trackbuffer"
)

var _ mediasource.ElementHost = (*MediaElement)(nil)

// MediaElement is one HTMLMediaElement-shaped playback surface (§6).
type MediaElement struct {
	log   *slog.Logger
	sched *scheduler.Scheduler

	mu           sync.Mutex
	src          *mediasource.MediaSource
	playedRanges timerange.Ranges
	havePlayMark bool
	lastPlayMark float64
}

// New creates a MediaElement driven by sched, with no srcObject attached.
func New(sched *scheduler.Scheduler, log *slog.Logger) *MediaElement {
	el := &MediaElement{
		log:   log.With("component", "element"),
		sched: sched,
	}
	sched.On(el.trackPlayedRanges)
	return el
}

// On registers an observer for every event this element or its scheduler
// fires (§6's combined event list, minus MediaSource's own
// sourceopen/sourceended/sourceclose, which remain on the MediaSource
// object itself as in real MSE).
func (el *MediaElement) On(o events.Observer) int { return el.sched.On(o) }

// trackPlayedRanges implements §8's "played is a subset of [0, duration]
// and grows monotonically (by union) only when potentially-playing and
// not seeking": on each timeupdate, union the segment since the last mark
// into playedRanges.
func (el *MediaElement) trackPlayedRanges(ev events.Event) {
	if ev.Kind != events.KindTimeUpdate {
		return
	}
	if el.sched.Paused() || el.sched.Ended() || el.sched.Seeking() {
		el.mu.Lock()
		el.havePlayMark = false
		el.mu.Unlock()
		return
	}
	t := el.sched.CurrentTime()
	el.mu.Lock()
	defer el.mu.Unlock()
	if !el.havePlayMark {
		el.lastPlayMark = t
		el.havePlayMark = true
		return
	}
	lo, hi := el.lastPlayMark, t
	if hi < lo {
		lo, hi = hi, lo
	}
	el.playedRanges = el.playedRanges.Union(timerange.Single(lo, hi), 0)
	el.lastPlayMark = t
}

// SetSrcObject implements §6's `srcObject = mediaSource?` mutation:
// detaches any previous media source, resets element-local state, attaches
// the new one (if non-nil), and fires `emptied`.
func (el *MediaElement) SetSrcObject(src *mediasource.MediaSource) error {
	el.mu.Lock()
	prev := el.src
	el.mu.Unlock()
	if prev != nil {
		prev.Detach()
	}

	el.mu.Lock()
	el.src = src
	el.playedRanges = nil
	el.havePlayMark = false
	el.mu.Unlock()

	el.sched.AttachBuffers(nil, nil)
	if src == nil {
		el.sched.SetSource(nil)
		el.sched.FireKind(events.KindEmptied)
		return nil
	}
	el.sched.SetSource(src)
	if err := src.Attach(el); err != nil {
		return err
	}
	el.sched.FireKind(events.KindEmptied)
	return nil
}

func (el *MediaElement) SrcObject() *mediasource.MediaSource {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.src
}

func (el *MediaElement) Duration() float64 {
	el.mu.Lock()
	src := el.src
	el.mu.Unlock()
	if src == nil {
		return 0
	}
	return src.Duration()
}

// Seekable implements §6's `seekable = [[0, duration]]`.
func (el *MediaElement) Seekable() timerange.Ranges {
	d := el.Duration()
	if d <= 0 {
		return nil
	}
	return timerange.Single(0, d)
}

func (el *MediaElement) Buffered() timerange.Ranges {
	el.mu.Lock()
	src := el.src
	el.mu.Unlock()
	if src == nil {
		return nil
	}
	return src.Buffered()
}

// Played implements §6's `played` read-only attribute.
func (el *MediaElement) Played() timerange.Ranges {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.playedRanges
}

func (el *MediaElement) CurrentTime() float64 { return el.sched.CurrentTime() }

// SetCurrentTime implements §6's `currentTime = t`: a plain assignment
// before any data has loaded, a full seek (abort previous, reset
// decoders, wait for readiness) once readyState > Nothing (§4.6 "Seek").
func (el *MediaElement) SetCurrentTime(t float64) {
	if el.sched.ReadyState() == scheduler.Nothing {
		el.sched.SetInitialTime(t)
		return
	}
	el.sched.Seek(t)
}

func (el *MediaElement) Paused() bool              { return el.sched.Paused() }
func (el *MediaElement) Ended() bool               { return el.sched.Ended() }
func (el *MediaElement) Seeking() bool             { return el.sched.Seeking() }
func (el *MediaElement) ReadyState() scheduler.ReadyState { return el.sched.ReadyState() }
func (el *MediaElement) PlaybackRate() float64     { return el.sched.PlaybackRate() }
func (el *MediaElement) SetPlaybackRate(v float64) { el.sched.SetPlaybackRate(v) }
func (el *MediaElement) Volume() float64           { return el.sched.Volume() }
func (el *MediaElement) SetVolume(v float64)       { el.sched.SetVolume(v) }
func (el *MediaElement) Muted() bool               { return el.sched.Muted() }
func (el *MediaElement) SetMuted(b bool)           { el.sched.SetMuted(b) }

// VideoWidth/VideoHeight implement §6's readonly dimensions, the size of
// the most recently rendered frame.
func (el *MediaElement) VideoWidth() int  { w, _ := el.sched.VideoDimensions(); return w }
func (el *MediaElement) VideoHeight() int { _, h := el.sched.VideoDimensions(); return h }

// Play implements §6's `play()`. Real HTMLMediaElement returns a pending
// promise that resolves on `playing` and rejects on pause/ended/detach
// with AbortError (§7); this Go surface collapses that into the
// synchronous state transition and leaves promise-style awaiting to the
// caller observing the `play`/`pause`/`ended` events instead. No `playing`
// or `abort` event is fired.
func (el *MediaElement) Play() {
	el.sched.Play()
}

func (el *MediaElement) Pause() {
	el.sched.Pause()
}

// NotifyTrackBecameActive implements mediasource.ElementHost: re-derive
// the active video/audio track buffers from the attached source's source
// buffers and hand them to the scheduler (§4.4/§4.5).
func (el *MediaElement) NotifyTrackBecameActive() {
	el.mu.Lock()
	src := el.src
	el.mu.Unlock()
	if src == nil {
		return
	}

	var vb *trackbuffer.VideoBuffer
	var ab *trackbuffer.AudioBuffer
	for _, sb := range src.SourceBuffers() {
		if vb == nil {
			for _, v := range sb.VideoBuffers() {
				vb = v
				break
			}
		}
		if ab == nil {
			for _, a := range sb.AudioBuffers() {
				ab = a
				break
			}
		}
	}
	el.sched.AttachBuffers(vb, ab)
}

// NotifyHasAllData implements mediasource.ElementHost: endOfStream()
// completed without error: fire a final `progress` (§6's event list has
// no dedicated "all data" event of its own).
func (el *MediaElement) NotifyHasAllData() {
	el.sched.FireKind(events.KindProgress)
}

// NotifyDurationChange implements mediasource.ElementHost (§4.5
// endOfStream/setDuration, §8 scenario 2 "Duration truncation"):
// fires durationchange, then seeks to the new duration if currentTime now
// exceeds it.
func (el *MediaElement) NotifyDurationChange(seconds float64) {
	el.sched.FireKind(events.KindDurationChange)
	if el.sched.CurrentTime() > seconds {
		el.SetCurrentTime(seconds)
	}
}

// NotifyStall implements mediasource.ElementHost: forward a source
// buffer's removed range to the scheduler's readyState/waiting logic
// (§4.4 remove()'s stall clause).
func (el *MediaElement) NotifyStall(startSec, endSec float64) {
	el.sched.NotifyRangeRemoved(startSec, endSec)
}
