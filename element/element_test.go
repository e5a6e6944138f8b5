package element

import (
	"io"
	"log/slog"
	"testing"

	"github.com/zsiec/msecore/codec/codectest"
	"github.com/zsiec/msecore/events"
	"github.com/zsiec/msecore/mediasource"
	"github.com/zsiec/msecore/scheduler"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestElement(t *testing.T) (*MediaElement, *mediasource.MediaSource) {
	t.Helper()
	vd := codectest.NewVideoDecoder()
	ad := codectest.NewAudioDecoder()
	mx := codectest.NewMixer()
	pr := codectest.NewPresenter()
	sched := scheduler.New(vd, ad, mx, pr, newTestLogger())
	el := New(sched, newTestLogger())

	ms := mediasource.New(codectest.Support{}, newTestLogger())
	return el, ms
}

func TestSetSrcObjectFiresEmptiedAndAttaches(t *testing.T) {
	t.Parallel()

	el, ms := newTestElement(t)
	var fired []events.Kind
	el.On(func(ev events.Event) { fired = append(fired, ev.Kind) })

	if err := el.SetSrcObject(ms); err != nil {
		t.Fatalf("SetSrcObject() error = %v", err)
	}
	if !ms.IsOpen() {
		t.Error("expected srcObject to be attached and open")
	}
	if len(fired) != 1 || fired[0] != events.KindEmptied {
		t.Errorf("fired = %v, want [emptied]", fired)
	}
	if el.SrcObject() != ms {
		t.Error("SrcObject() did not return the attached source")
	}
}

func TestSetSrcObjectDetachesPrevious(t *testing.T) {
	t.Parallel()

	el, ms1 := newTestElement(t)
	if err := el.SetSrcObject(ms1); err != nil {
		t.Fatalf("SetSrcObject() error = %v", err)
	}

	_, ms2 := newTestElement(t)
	if err := el.SetSrcObject(ms2); err != nil {
		t.Fatalf("second SetSrcObject() error = %v", err)
	}
	if ms1.IsOpen() {
		t.Error("expected previous srcObject to be detached (closed)")
	}
	if !ms2.IsOpen() {
		t.Error("expected new srcObject to be open")
	}
}

func TestNotifyTrackBecameActiveAttachesBuffers(t *testing.T) {
	t.Parallel()

	el, ms := newTestElement(t)
	if err := el.SetSrcObject(ms); err != nil {
		t.Fatalf("SetSrcObject() error = %v", err)
	}

	sb, err := ms.AddSourceBuffer(`video/mp4; codecs="avc1.640028"`)
	if err != nil {
		t.Fatalf("AddSourceBuffer() error = %v", err)
	}
	_ = sb

	// Without a real init segment appended there is nothing to attach, but
	// the call must not panic and must tolerate an empty track-buffer set.
	el.NotifyTrackBecameActive()
}

func TestNotifyDurationChangeSeeksOnTruncation(t *testing.T) {
	t.Parallel()

	el, ms := newTestElement(t)
	if err := el.SetSrcObject(ms); err != nil {
		t.Fatalf("SetSrcObject() error = %v", err)
	}

	el.SetCurrentTime(5.0)
	if got := el.CurrentTime(); got != 5.0 {
		t.Fatalf("CurrentTime() = %v, want 5.0 before truncation", got)
	}

	el.NotifyDurationChange(2.0)
	if got := el.CurrentTime(); got != 2.0 {
		t.Errorf("CurrentTime() = %v, want 2.0 after duration truncated below it", got)
	}
}

func TestNotifyStallForwardsToScheduler(t *testing.T) {
	t.Parallel()

	el, ms := newTestElement(t)
	if err := el.SetSrcObject(ms); err != nil {
		t.Fatalf("SetSrcObject() error = %v", err)
	}
	el.Play()

	var fired []events.Kind
	el.On(func(ev events.Event) { fired = append(fired, ev.Kind) })
	el.NotifyStall(0, 10) // currentTime 0 falls inside the removed window
	if len(fired) != 1 || fired[0] != events.KindWaiting {
		t.Errorf("fired = %v, want [waiting]", fired)
	}
}

func TestPlayedTracksTimeWhilePlayingOnly(t *testing.T) {
	t.Parallel()

	el, ms := newTestElement(t)
	if err := el.SetSrcObject(ms); err != nil {
		t.Fatalf("SetSrcObject() error = %v", err)
	}

	el.trackPlayedRanges(events.Event{Kind: events.KindTimeUpdate})
	el.sched.Play()
	el.sched.SetInitialTime(1.0)
	el.trackPlayedRanges(events.Event{Kind: events.KindTimeUpdate})
	el.sched.SetInitialTime(2.0)
	el.trackPlayedRanges(events.Event{Kind: events.KindTimeUpdate})

	played := el.Played()
	if len(played) != 1 {
		t.Fatalf("Played() = %v, want one range", played)
	}
	if played[0].Start != 1.0 || played[0].End != 2.0 {
		t.Errorf("Played() = %v, want [1.0, 2.0]", played)
	}

	el.sched.Pause()
	el.trackPlayedRanges(events.Event{Kind: events.KindTimeUpdate})
	if len(el.Played()) != 1 {
		t.Errorf("Played() grew while paused: %v", el.Played())
	}
}
