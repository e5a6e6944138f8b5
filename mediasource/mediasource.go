// Package mediasource implements §4.5's MediaSource: the multiplex of
// source buffers that owns duration and readyState, and computes the
// element-level buffered range as the intersection of its source buffers'
// ranges.
package mediasource

import (
	"log/slog"
	"math"
	"sync"

	"github.com/zsiec/msecore/events"
	"github.com/zsiec/msecore/playerr"
	"github.com/zsiec/msecore/sourcebuffer"
	"github.com/zsiec/msecore/timerange"
)

// ReadyState is MediaSource's own lifecycle state (§3), distinct from the
// MediaElement's larger readyState enum in the element package.
type ReadyState int

const (
	Closed ReadyState = iota
	Open
	Ended
)

func (s ReadyState) String() string {
	switch s {
	case Open:
		return "open"
	case Ended:
		return "ended"
	default:
		return "closed"
	}
}

// ElementHost is the subset of MediaElement behavior a MediaSource needs,
// satisfied by element.MediaElement. Kept narrow to avoid a package cycle,
// mirroring sourcebuffer.Host's relationship to MediaSource.
type ElementHost interface {
	// NotifyTrackBecameActive raises readyState to at least Metadata, as run
	// when a source buffer's first init segment activates a track (§4.4).
	NotifyTrackBecameActive()
	// NotifyHasAllData signals that endOfStream() completed with no error
	// (§4.5), letting the element progress readyState once decode catches up.
	NotifyHasAllData()
	// NotifyDurationChange runs the element's duration-change steps (§4.5).
	NotifyDurationChange(seconds float64)
	// NotifyStall lowers readyState to Metadata if current playback time
	// falls inside [startSec, endSec), the range a source buffer just
	// removed (§4.4 remove()'s stall clause).
	NotifyStall(startSec, endSec float64)
}

// MediaSource is one MSE-shaped MediaSource: a readyState, a duration, and
// the ordered list of source buffers it owns (§3, §4.5).
type MediaSource struct {
	log     *slog.Logger
	support sourcebuffer.DecoderSupport

	dispatcher *events.Dispatcher

	mu            sync.Mutex
	readyState    ReadyState
	duration      float64
	sourceBuffers []*sourcebuffer.SourceBuffer
	element       ElementHost
}

// New creates a MediaSource in the Closed state (§3 "duration is NaN iff
// readyState = Closed"). support resolves codec strings to decoder
// availability for every source buffer this MediaSource creates.
func New(support sourcebuffer.DecoderSupport, log *slog.Logger) *MediaSource {
	return &MediaSource{
		log:        log.With("component", "mediasource"),
		support:    support,
		dispatcher: &events.Dispatcher{},
		readyState: Closed,
		duration:   math.NaN(),
	}
}

func (m *MediaSource) On(o events.Observer) int { return m.dispatcher.On(o) }

func (m *MediaSource) ReadyState() ReadyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyState
}

func (m *MediaSource) SourceBuffers() []*sourcebuffer.SourceBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*sourcebuffer.SourceBuffer, len(m.sourceBuffers))
	copy(out, m.sourceBuffers)
	return out
}

// Duration implements sourcebuffer.Host and the MediaSource.duration getter
// (§3, §4.5): NaN while Closed or until first known.
func (m *MediaSource) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

// SetDuration implements both sourcebuffer.Host's internal "set duration
// from info.duration" step and §4.5's public `duration = newDuration`
// setter: Open only, non-negative, non-NaN, notifying the element only if
// the value actually changes.
func (m *MediaSource) SetDuration(seconds float64) error {
	m.mu.Lock()
	if m.readyState != Open {
		m.mu.Unlock()
		return playerr.NewStateError("duration", m.readyState.String())
	}
	if seconds < 0 || math.IsNaN(seconds) {
		m.mu.Unlock()
		return playerr.ErrTypeError
	}
	if seconds == m.duration {
		m.mu.Unlock()
		return nil
	}
	m.duration = seconds
	el := m.element
	m.mu.Unlock()

	// el.NotifyDurationChange may re-enter MediaSource (e.g. a truncation
	// seek that reads Duration()/Buffered()), so it must run with m.mu
	// released, matching NotifyTracksActive/NotifyRangeRemoved below.
	if el != nil {
		el.NotifyDurationChange(seconds)
	}
	return nil
}

func (m *MediaSource) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyState == Open
}

func (m *MediaSource) IsEnded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyState == Ended
}

// ReopenIfEnded implements §4.5's open-if-ended transition, run by a source
// buffer's appendBuffer before processing new bytes.
func (m *MediaSource) ReopenIfEnded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readyState == Ended {
		m.readyState = Open
	}
}

// AddSourceBuffer implements §4.5's addSourceBuffer(mimeType).
func (m *MediaSource) AddSourceBuffer(mimeType string) (*sourcebuffer.SourceBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readyState != Open {
		return nil, playerr.NewStateError("addSourceBuffer", m.readyState.String())
	}
	if !sourcebuffer.IsSupportedMimeType(mimeType) {
		return nil, playerr.ErrUnsupportedType
	}
	sb := sourcebuffer.New(m, m.support, mimeType, m.log)
	m.sourceBuffers = append(m.sourceBuffers, sb)
	return sb, nil
}

// EndOfStream implements sourcebuffer.Host's append-error propagation and
// §4.5's public endOfStream(error?): Open and no updating buffer required,
// readyState moves to Ended, and — absent an error — duration is raised to
// the maximum buffered end across all source buffers before the element is
// told it has all data.
func (m *MediaSource) EndOfStream(kind playerr.EndOfStreamKind) error {
	m.mu.Lock()
	if m.readyState != Open {
		m.mu.Unlock()
		return playerr.NewStateError("endOfStream", m.readyState.String())
	}
	for _, sb := range m.sourceBuffers {
		if sb.Updating() {
			m.mu.Unlock()
			return playerr.NewStateError("endOfStream", "updating")
		}
	}

	m.readyState = Ended
	el := m.element
	var raisedDuration bool
	var newDuration float64
	if kind == playerr.EOSNone {
		if maxEnd := m.maxBufferedEndLocked(); math.IsNaN(m.duration) || maxEnd > m.duration {
			m.duration = maxEnd
			raisedDuration = true
			newDuration = maxEnd
		}
	}
	m.mu.Unlock()

	// Both element callbacks can re-enter MediaSource (a truncation seek
	// reads Duration()/Buffered()), so they run with m.mu released, as in
	// SetDuration above.
	if kind == playerr.EOSNone && el != nil {
		if raisedDuration {
			el.NotifyDurationChange(newDuration)
		}
		el.NotifyHasAllData()
	}
	m.dispatcher.FireKind(events.KindSourceEnded)
	return nil
}

func (m *MediaSource) maxBufferedEndLocked() float64 {
	var maxEnd float64
	for _, sb := range m.sourceBuffers {
		for _, r := range sb.Buffered() {
			if r.End > maxEnd {
				maxEnd = r.End
			}
		}
	}
	return maxEnd
}

// NotifyTracksActive implements sourcebuffer.Host: a source buffer's first
// init segment activated at least one track, so the element's readyState
// rises to at least Metadata (§4.4).
func (m *MediaSource) NotifyTracksActive(sb *sourcebuffer.SourceBuffer) {
	m.mu.Lock()
	el := m.element
	m.mu.Unlock()
	if el != nil {
		el.NotifyTrackBecameActive()
	}
}

// NotifyRangeRemoved implements sourcebuffer.Host: forwards a source
// buffer's remove() window to the element, which checks whether current
// playback time falls inside it (§4.4 remove()'s stall clause) — the
// element, not the media source, holds currentTime.
func (m *MediaSource) NotifyRangeRemoved(sb *sourcebuffer.SourceBuffer, startSec, endSec float64) {
	m.mu.Lock()
	el := m.element
	m.mu.Unlock()
	if el != nil {
		el.NotifyStall(startSec, endSec)
	}
}

// Attach implements §4.5's attachment protocol "attach": requires Closed,
// sets the element back-reference, moves to Open, fires sourceopen.
func (m *MediaSource) Attach(host ElementHost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readyState != Closed {
		return playerr.NewStateError("attach", m.readyState.String())
	}
	m.element = host
	m.readyState = Open
	m.dispatcher.FireKind(events.KindSourceOpen)
	return nil
}

// Detach implements §4.5's attachment protocol "detach": clears the element
// back-reference, closes, resets duration to NaN, and drops every source
// buffer (their track buffers and coded frames go with them, per §3's
// ownership note).
func (m *MediaSource) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sb := range m.sourceBuffers {
		sb.Detach()
	}
	m.sourceBuffers = nil
	m.element = nil
	m.readyState = Closed
	m.duration = math.NaN()
	m.dispatcher.FireKind(events.KindSourceClose)
}

// Buffered implements §4.5's element-level buffered: empty with no source
// buffers, else the intersection across source buffers clamped to
// [0, overallHighestEnd], stretching each source buffer's last range to
// that highest end once Ended.
func (m *MediaSource) Buffered() timerange.Ranges {
	m.mu.Lock()
	buffers := make([]*sourcebuffer.SourceBuffer, len(m.sourceBuffers))
	copy(buffers, m.sourceBuffers)
	ended := m.readyState == Ended
	m.mu.Unlock()

	if len(buffers) == 0 {
		return nil
	}

	perBuffer := make([]timerange.Ranges, len(buffers))
	var highestEnd float64
	for i, sb := range buffers {
		r := sb.Buffered()
		perBuffer[i] = r
		for _, rg := range r {
			if rg.End > highestEnd {
				highestEnd = rg.End
			}
		}
	}

	var result timerange.Ranges
	for i, r := range perBuffer {
		if ended {
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
