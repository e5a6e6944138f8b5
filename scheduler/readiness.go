package scheduler

import (
	"math"

	"github.com/zsiec/msecore/events"
	"github.com/zsiec/msecore/media"
)

// evaluateReadyState implements §4.6's "ReadyState transitions": re-run on
// every tick given currentTime and the element-level buffered ranges.
func (s *Scheduler) evaluateReadyState(currentTimeUs int64) {
	s.mu.Lock()
	src := s.source
	tracksAttached := s.videoBuf != nil || s.audioBuf != nil
	prev := s.readyState
	loadedData := s.loadedData
	potentiallyPlaying := !s.paused && !s.ended && !s.seeking
	s.mu.Unlock()

	if !tracksAttached {
		return
	}

	var buffered []struct{ start, end float64 }
	if src != nil {
		for _, r := range src.Buffered() {
			buffered = append(buffered, struct{ start, end float64 }{r.Start, r.End})
		}
	}

	t := usToSeconds(currentTimeUs)
	coversT := false
	coversLookahead := false
	for _, r := range buffered {
		if t >= r.start && t < r.end {
			coversT = true
			if t+lookAheadSec <= r.end {
				coversLookahead = true
			}
		}
	}

	next := Metadata
	switch {
	case coversLookahead:
		next = FutureData
	case coversT:
		next = CurrentData
	}
	if next < prev && !potentiallyPlaying {
		// Readiness never regresses below what was already reached while
		// paused/seeking; it only drops while actively starved (handled
		// by the waiting branch below).
		next = prev
	}

	s.mu.Lock()
	s.readyState = next
	s.mu.Unlock()

	if prev == Nothing && next > Nothing {
		s.dispatcher.FireKind(events.KindLoadedMetadata)
	}
	if !loadedData && next >= CurrentData {
		s.mu.Lock()
		s.loadedData = true
		s.mu.Unlock()
		s.dispatcher.FireKind(events.KindLoadedData)
	}
	if prev < FutureData && next >= FutureData {
		s.dispatcher.FireKind(events.KindCanPlay)
		s.dispatcher.FireKind(events.KindCanPlayThrough)
	}
	if potentiallyPlaying && prev >= FutureData && next < FutureData {
		s.dispatcher.FireKind(events.KindWaiting)
	}
}

// evaluateEnded implements §4.6's "End of playback": forward end requires
// the media source to have reached end-of-stream and currentTime to equal
// duration; backward end is reached at currentTime == 0.
func (s *Scheduler) evaluateEnded(currentTimeUs int64) {
	s.mu.Lock()
	src := s.source
	dir := s.direction
	readyState := s.readyState
	already := s.ended
	s.mu.Unlock()

	if readyState < Metadata || already {
		return
	}

	t := usToSeconds(currentTimeUs)
	var duration float64 = math.NaN()
	isEndOfStream := false
	if src != nil {
		duration = src.Duration()
		isEndOfStream = src.IsEnded()
	}

	ended := false
	switch dir {
	case media.Forward:
		ended = isEndOfStream && !math.IsNaN(duration) && t == duration
	case media.Backward:
		ended = t == 0
	}
	if !ended {
		return
	}

	s.mu.Lock()
	s.ended = true
	if dir == media.Forward {
		s.paused = true
	}
	s.mu.Unlock()

	s.dispatcher.FireKind(events.KindTimeUpdate)
	if dir == media.Forward {
		s.dispatcher.FireKind(events.KindPause)
	}
	s.dispatcher.FireKind(events.KindEnded)
}
