// Package events implements the typed event dispatch used in place of a
// DOM EventTarget (§5, §9 design note "Dynamic event dispatch"): a fixed
// sum type over every named event in §5/§6, and a multicast observer list
// per component, modeled on distribution.Relay's per-kind fan-out to
// registered viewers.
package events

// Kind enumerates every named event fired by the engine (§5's macrotask
// list and §6's MediaElement/SourceBuffer/MediaSource event names).
type Kind int

const (
	KindSourceOpen Kind = iota
	KindSourceEnded
	KindSourceClose

	KindUpdateStart
	KindUpdate
	KindUpdateEnd
	KindError
	KindAbort

	KindEmptied
	KindLoadedMetadata
	KindLoadedData
	KindCanPlay
	KindCanPlayThrough
	KindPlay
	KindPlaying
	KindWaiting
	KindPause
	KindRateChange
	KindVolumeChange
	KindSeeking
	KindSeeked
	KindTimeUpdate
	KindDurationChange
	KindProgress
	KindResize
	KindEnded
)

var kindNames = map[Kind]string{
	KindSourceOpen:     "sourceopen",
	KindSourceEnded:    "sourceended",
	KindSourceClose:    "sourceclose",
	KindUpdateStart:    "updatestart",
	KindUpdate:         "update",
	KindUpdateEnd:      "updateend",
	KindError:          "error",
	KindAbort:          "abort",
	KindEmptied:        "emptied",
	KindLoadedMetadata: "loadedmetadata",
	KindLoadedData:     "loadeddata",
	KindCanPlay:        "canplay",
	KindCanPlayThrough: "canplaythrough",
	KindPlay:           "play",
	KindPlaying:        "playing",
	KindWaiting:        "waiting",
	KindPause:          "pause",
	KindRateChange:     "ratechange",
	KindVolumeChange:   "volumechange",
	KindSeeking:        "seeking",
	KindSeeked:         "seeked",
	KindTimeUpdate:     "timeupdate",
	KindDurationChange: "durationchange",
	KindProgress:       "progress",
	KindResize:         "resize",
	KindEnded:          "ended",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is a single fired event: its kind and an optional error payload
// (for KindError).
type Event struct {
	Kind Kind
	Err  error
}

// Observer receives events fired by a Dispatcher. Implementations must
// not block; long work belongs on the caller's own goroutine.
type Observer func(Event)

// Dispatcher is a minimal multicast registry: register observers, then
// Fire delivers to each of them in registration order. It carries no
// queueing of its own; §5's task-queue ordering is the caller's
// responsibility (callers fire from the serialized scheduler/task-queue
// context described there).
type Dispatcher struct {
	observers []Observer
}

// On registers an observer, returning a token usable with Off.
func (d *Dispatcher) On(obs Observer) int {
	d.observers = append(d.observers, obs)
	return len(d.observers) - 1
}

// Off removes a previously-registered observer by its token. A no-op if
// the token is out of range or already removed.
func (d *Dispatcher) Off(token int) {
	if token < 0 || token >= len(d.observers) {
		return
	}
	d.observers[token] = nil
}

// Fire delivers ev to every live observer in registration order.
func (d *Dispatcher) Fire(ev Event) {
	for _, obs := range d.observers {
		if obs != nil {
			obs(ev)
		}
	}
}

// FireKind is shorthand for Fire(Event{Kind: k}).
func (d *Dispatcher) FireKind(k Kind) {
	d.Fire(Event{Kind: k})
}
