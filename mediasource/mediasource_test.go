package mediasource

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/zsiec/msecore/events"
	"github.com/zsiec/msecore/playerr"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSupport struct{}

func (fakeSupport) IsSupported(codec string) bool { return true }

type fakeElement struct {
	mu               sync.Mutex
	trackActiveCalls int
	hasAllDataCalls  int
	durationChanges  []float64
	stallCalls       []struct{ start, end float64 }
}

func (e *fakeElement) NotifyTrackBecameActive() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trackActiveCalls++
}

func (e *fakeElement) NotifyHasAllData() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hasAllDataCalls++
}

func (e *fakeElement) NotifyDurationChange(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.durationChanges = append(e.durationChanges, seconds)
}

func (e *fakeElement) NotifyStall(startSec, endSec float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stallCalls = append(e.stallCalls, struct{ start, end float64 }{startSec, endSec})
}

func TestNewStartsClosedWithNaNDuration(t *testing.T) {
	t.Parallel()

	ms := New(fakeSupport{}, newTestLogger())
	if ms.ReadyState() != Closed {
		t.Errorf("ReadyState() = %v, want Closed", ms.ReadyState())
	}
	if !math.IsNaN(ms.Duration()) {
		t.Errorf("Duration() = %v, want NaN", ms.Duration())
	}
}

func TestAttachMovesToOpenAndFiresSourceOpen(t *testing.T) {
	t.Parallel()

	ms := New(fakeSupport{}, newTestLogger())
	var fired []events.Kind
	ms.On(func(ev events.Event) { fired = append(fired, ev.Kind) })

	el := &fakeElement{}
	if err := ms.Attach(el); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if ms.ReadyState() != Open {
		t.Errorf("ReadyState() = %v, want Open", ms.ReadyState())
	}
	if len(fired) != 1 || fired[0] != events.KindSourceOpen {
		t.Errorf("fired = %v, want [KindSourceOpen]", fired)
	}
}

func TestAttachRejectsUnlessClosed(t *testing.T) {
	t.Parallel()

	ms := New(fakeSupport{}, newTestLogger())
	if err := ms.Attach(&fakeElement{}); err != nil {
		t.Fatalf("first Attach: %v", err)
	}
	if err := ms.Attach(&fakeElement{}); err == nil {
		t.Fatal("expected a state error attaching an already-open media source")
	}
}

func TestAddSourceBufferRequiresOpen(t *testing.T) {
	t.Parallel()

	ms := New(fakeSupport{}, newTestLogger())
	if _, err := ms.AddSourceBuffer("video/mp4"); err == nil {
		t.Fatal("expected a state error while Closed")
	}

	if err := ms.Attach(&fakeElement{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	sb, err := ms.AddSourceBuffer("video/mp4; codecs=\"avc1.640028\"")
	if err != nil {
		t.Fatalf("AddSourceBuffer: %v", err)
	}
	if sb == nil {
		t.Fatal("expected a non-nil source buffer")
	}
	if len(ms.SourceBuffers()) != 1 {
		t.Fatalf("SourceBuffers() = %d, want 1", len(ms.SourceBuffers()))
	}
}

func TestAddSourceBufferRejectsUnsupportedMimeType(t *testing.T) {
	t.Parallel()

	ms := New(fakeSupport{}, newTestLogger())
	if err := ms.Attach(&fakeElement{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := ms.AddSourceBuffer("video/webm"); err == nil {
		t.Fatal("expected an unsupported-type error")
	}
}

func TestSetDurationRequiresOpenAndNotifiesOnChange(t *testing.T) {
	t.Parallel()

	ms := New(fakeSupport{}, newTestLogger())
	if err := ms.SetDuration(5); err == nil {
		t.Fatal("expected a state error while Closed")
	}

	el := &fakeElement{}
	if err := ms.Attach(el); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := ms.SetDuration(5); err != nil {
		t.Fatalf("SetDuration: %v", err)
	}
	if ms.Duration() != 5 {
		t.Errorf("Duration() = %v, want 5", ms.Duration())
	}
	if len(el.durationChanges) != 1 || el.durationChanges[0] != 5 {
		t.Errorf("durationChanges = %v", el.durationChanges)
	}

	// Setting the same value again is a no-op: no second notification.
	if err := ms.SetDuration(5); err != nil {
		t.Fatalf("SetDuration (repeat): %v", err)
	}
	if len(el.durationChanges) != 1 {
		t.Errorf("durationChanges = %v, want no second entry", el.durationChanges)
	}

	if err := ms.SetDuration(-1); err == nil {
		t.Error("expected a type error for a negative duration")
	}
	if err := ms.SetDuration(math.NaN()); err == nil {
		t.Error("expected a type error for a NaN duration")
	}
}

func TestEndOfStreamRequiresOpenAndNoUpdatingBuffer(t *testing.T) {
	t.Parallel()

	ms := New(fakeSupport{}, newTestLogger())
	if err := ms.EndOfStream(playerr.EOSNone); err == nil {
		t.Fatal("expected a state error while Closed")
	}
}

func TestEndOfStreamRaisesDurationToMaxBufferedEnd(t *testing.T) {
	t.Parallel()

	ms := New(fakeSupport{}, newTestLogger())
	el := &fakeElement{}
	if err := ms.Attach(el); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := ms.SetDuration(3); err != nil {
		t.Fatalf("SetDuration: %v", err)
	}

	var fired []events.Kind
	ms.On(func(ev events.Event) { fired = append(fired, ev.Kind) })

	if err := ms.EndOfStream(playerr.EOSNone); err != nil {
		t.Fatalf("EndOfStream: %v", err)
	}
	if ms.ReadyState() != Ended {
		t.Errorf("ReadyState() = %v, want Ended", ms.ReadyState())
	}
	// No source buffers were ever added, so maxBufferedEnd is 0: duration
	// stays at its existing, larger value.
	if ms.Duration() != 3 {
		t.Errorf("Duration() = %v, want 3 (unchanged)", ms.Duration())
	}
	if el.hasAllDataCalls != 1 {
		t.Errorf("hasAllDataCalls = %d, want 1", el.hasAllDataCalls)
	}
	if len(fired) != 1 || fired[0] != events.KindSourceEnded {
		t.Errorf("fired = %v, want [KindSourceEnded]", fired)
	}
}

func TestEndOfStreamWithErrorSkipsDurationChangeAndHasAllData(t *testing.T) {
	t.Parallel()

	ms := New(fakeSupport{}, newTestLogger())
	el := &fakeElement{}
	if err := ms.Attach(el); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if err := ms.EndOfStream(playerr.EOSDecode); err != nil {
		t.Fatalf("EndOfStream: %v", err)
	}
	if ms.ReadyState() != Ended {
		t.Errorf("ReadyState() = %v, want Ended", ms.ReadyState())
	}
	if el.hasAllDataCalls != 0 {
		t.Errorf("hasAllDataCalls = %d, want 0 on an errored end of stream", el.hasAllDataCalls)
	}
}

func TestReopenIfEndedTransitionsEndedToOpen(t *testing.T) {
	t.Parallel()

	ms := New(fakeSupport{}, newTestLogger())
	if err := ms.Attach(&fakeElement{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := ms.EndOfStream(playerr.EOSNone); err != nil {
		t.Fatalf("EndOfStream: %v", err)
	}
	ms.ReopenIfEnded()
	if ms.ReadyState() != Open {
		t.Errorf("ReadyState() = %v, want Open", ms.ReadyState())
	}
}

func TestDetachClosesAndClearsSourceBuffers(t *testing.T) {
	t.Parallel()

	ms := New(fakeSupport{}, newTestLogger())
	if err := ms.Attach(&fakeElement{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	sb, err := ms.AddSourceBuffer("video/mp4")
	if err != nil {
		t.Fatalf("AddSourceBuffer: %v", err)
	}

	var fired []events.Kind
	ms.On(func(ev events.Event) { fired = append(fired, ev.Kind) })

	ms.Detach()

	if ms.ReadyState() != Closed {
		t.Errorf("ReadyState() = %v, want Closed", ms.ReadyState())
	}
	if !math.IsNaN(ms.Duration()) {
		t.Errorf("Duration() = %v, want NaN after detach", ms.Duration())
	}
	if len(ms.SourceBuffers()) != 0 {
		t.Errorf("SourceBuffers() = %d, want 0 after detach", len(ms.SourceBuffers()))
	}
	if len(fired) != 1 || fired[0] != events.KindSourceClose {
		t.Errorf("fired = %v, want [KindSourceClose]", fired)
	}
	// Detach leaves the (now orphaned) source buffer's own Abort safe to
	// call; it no longer belongs to any registry.
	sb.Abort()
}

func TestBufferedEmptyWithNoSourceBuffers(t *testing.T) {
	t.Parallel()

	ms := New(fakeSupport{}, newTestLogger())
	if got := ms.Buffered(); len(got) != 0 {
		t.Errorf("Buffered() = %v, want empty", got)
	}
}
