// Package scheduler implements §4.6's media clock and decode scheduler:
// the animation-tick clock advance, the decode-queue watermark model for
// both track types, GOP-anchored seeding, reverse-playback re-stamping,
// the drop policy, audio batching/scheduling, video render, seek, rate
// change, end-of-playback evaluation, and readyState transitions.
//
// Three cooperating loops drive it, generalizing the teacher's single
// select-based Run loop (internal/pipeline/pipeline.go) into an errgroup
// of goroutines: one animation-tick loop advancing the clock and
// rendering, and one drain loop per decoder output channel. A mutex
// serializes access to the shared clock/queue state so the three loops
// behave as the single-threaded cooperative model of §5 requires.
package scheduler

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zsiec/msecore/codec"
	"github.com/zsiec/msecore/events"
	"github.com/zsiec/msecore/media"
	"github.com/zsiec/msecore/timerange"
	"github.com/zsiec/msecore/trackbuffer"
)

// Low/high decode-queue watermarks (§4.6), frame counts per media type.
const (
	LWM = 20
	HWM = 30
)

// lookAheadSec is the FutureData readiness window (§4.6 "100ms look-ahead").
const lookAheadSec = 0.1

// timeupdateMinInterval is the §4.6 timeupdate throttle floor.
const timeupdateMinInterval = 15 * time.Millisecond

// ReadyState mirrors HTML5's four reachable readyState values; HAVE_ENOUGH_DATA
// is declared for API completeness but never entered (§4.6).
type ReadyState int

const (
	Nothing ReadyState = iota
	Metadata
	CurrentData
	FutureData
	EnoughData
)

func (s ReadyState) String() string {
	switch s {
	case Metadata:
		return "metadata"
	case CurrentData:
		return "current-data"
	case FutureData:
		return "future-data"
	case EnoughData:
		return "enough-data"
	default:
		return "nothing"
	}
}

// PlaybackSource is the subset of MediaSource the scheduler needs to
// evaluate readiness and end-of-playback, satisfied structurally by
// *mediasource.MediaSource without scheduler importing it.
type PlaybackSource interface {
	Duration() float64
	Buffered() timerange.Ranges
	IsEnded() bool
}

type queueState struct {
	inFlight atomic.Int64
	ready    atomic.Int64
}

// Scheduler is §4.6's clock + decode scheduler for one attached media
// source's active video/audio track buffers.
type Scheduler struct {
	log        *slog.Logger
	dispatcher *events.Dispatcher

	videoDecoder codec.VideoDecoder
	audioDecoder codec.AudioDecoder
	mixer        codec.Mixer
	presenter    codec.Presenter

	timeupdateLimiter *rate.Limiter

	mu            sync.Mutex
	source        PlaybackSource
	videoBuf      *trackbuffer.VideoBuffer
	audioBuf      *trackbuffer.AudioBuffer
	currentTimeUs int64
	playbackRate  float64
	direction     media.Direction
	paused        bool
	seeking       bool
	ended         bool
	readyState    ReadyState
	loadedData    bool

	videoConfigured  bool
	lastVideoConfig  media.VideoConfig
	lastVideoSubmit  *media.CodedFrame
	videoReadyFrames []codec.VideoFrame
	videoDims        [2]int

	audioConfigured  bool
	lastAudioConfig  media.AudioConfig
	lastAudioSubmit  *media.CodedFrame
	audioReadyFrames []codec.AudioData
	audioSynthSeq    int64
	audioSynthToOrig map[int64]int64
	audioNodes       []codec.BufferSource

	videoQueue queueState
	audioQueue queueState

	volume float64
	muted  bool

	metrics *metricsSet
}

// New creates a Scheduler paused at t=0 with forward playback at rate 1,
// before any track buffer has been attached.
func New(videoDecoder codec.VideoDecoder, audioDecoder codec.AudioDecoder, mixer codec.Mixer, presenter codec.Presenter, log *slog.Logger) *Scheduler {
	return &Scheduler{
		log:               log.With("component", "scheduler"),
		dispatcher:        &events.Dispatcher{},
		videoDecoder:      videoDecoder,
		audioDecoder:      audioDecoder,
		mixer:             mixer,
		presenter:         presenter,
		timeupdateLimiter: rate.NewLimiter(rate.Every(timeupdateMinInterval), 1),
		playbackRate:      1,
		paused:            true,
		volume:            1,
		audioSynthToOrig:  make(map[int64]int64),
		metrics:           newMetricsSet(),
	}
}

func (s *Scheduler) On(o events.Observer) int { return s.dispatcher.On(o) }

// FireKind lets the element package (the only other caller) raise the
// element-level events the scheduler itself has no reason to know about
// (emptied, durationchange, volumechange outside SetVolume/SetMuted,
// progress) onto the same dispatcher everything else observes through.
func (s *Scheduler) FireKind(k events.Kind) { s.dispatcher.FireKind(k) }

// SetSource attaches the PlaybackSource driving readiness/end-of-playback
// evaluation (the element's *mediasource.MediaSource).
func (s *Scheduler) SetSource(src PlaybackSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
}

// AttachBuffers is called whenever the element learns a source buffer
// activated tracks (§4.4/§4.5 NotifyTracksActive), re-pointing the
// scheduler at the current video/audio track buffers. Either may be nil.
func (s *Scheduler) AttachBuffers(video *trackbuffer.VideoBuffer, audio *trackbuffer.AudioBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoBuf = video
	s.audioBuf = audio
}

func (s *Scheduler) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return usToSeconds(s.currentTimeUs)
}

func (s *Scheduler) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyState
}

func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Scheduler) PlaybackRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playbackRate
}

func (s *Scheduler) Seeking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeking
}

func (s *Scheduler) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *Scheduler) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// VideoDimensions returns the width/height of the most recently rendered
// video frame, (0, 0) before anything has rendered.
func (s *Scheduler) VideoDimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoDims[0], s.videoDims[1]
}

// SetInitialTime sets currentTime directly, bypassing the seek machinery,
// for the "currentTime = t" mutation before any data has loaded
// (readyState Nothing) where there is no decode queue to reset yet.
func (s *Scheduler) SetInitialTime(sec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTimeUs = secondsToUs(sec)
}

// SetVolume implements §6's `volume = v` mutation, clamped to [0, 1] and
// forwarded to the mixer's gain stage.
func (s *Scheduler) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	s.mu.Lock()
	s.volume = v
	if s.mixer != nil {
		s.mixer.SetVolume(v)
	}
	s.mu.Unlock()
	s.dispatcher.FireKind(events.KindVolumeChange)
}

// SetMuted implements §6's `muted = b` mutation.
func (s *Scheduler) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	if s.mixer != nil {
		s.mixer.SetMuted(muted)
	}
	s.mu.Unlock()
	s.dispatcher.FireKind(events.KindVolumeChange)
}

// NotifyRangeRemoved implements the stall half of §4.4's remove() clause:
// a source buffer just dropped [startSec, endSec); if current time falls
// inside that window, readyState drops back to Metadata and `waiting`
// fires if playback was in progress.
func (s *Scheduler) NotifyRangeRemoved(startSec, endSec float64) {
	s.mu.Lock()
	t := usToSeconds(s.currentTimeUs)
	inWindow := t >= startSec && t < endSec
	potentiallyPlaying := !s.paused && !s.ended && !s.seeking
	if inWindow && s.readyState > Metadata {
		s.readyState = Metadata
	}
	s.mu.Unlock()
	if inWindow && potentiallyPlaying {
		s.dispatcher.FireKind(events.KindWaiting)
	}
}

// Play clears paused and ended, as run by MediaElement.play(), and fires
// `play` if playback was paused. No `playing` event is fired, neither here
// nor when readyState later allows progress.
func (s *Scheduler) Play() {
	s.mu.Lock()
	wasPaused := s.paused
	s.paused = false
	s.ended = false
	s.mu.Unlock()
	if wasPaused {
		s.dispatcher.FireKind(events.KindPlay)
	}
}

// Pause sets paused and fires `pause` (§4.6, §6 MediaElement.pause()).
func (s *Scheduler) Pause() {
	s.mu.Lock()
	already := s.paused
	s.paused = true
	s.mu.Unlock()
	if !already {
		s.dispatcher.FireKind(events.KindPause)
	}
}

// SetPlaybackRate implements §4.6's "Rate change": on a direction flip,
// reset both decoders (their in-flight/ready queues and last-submitted
// bookkeeping are voided) and reschedule in-flight audio nodes at the new
// magnitude.
func (s *Scheduler) SetPlaybackRate(v float64) {
	s.mu.Lock()
	oldDir := s.direction
	s.playbackRate = v
	newDir := media.DirectionOf(v)
	s.direction = newDir
	flip := newDir != oldDir
	if flip {
		s.resetDecodersLocked()
	}
	for _, n := range s.audioNodes {
		n.SetPlaybackRate(math.Abs(v))
	}
	s.mu.Unlock()
	s.dispatcher.FireKind(events.KindRateChange)
}

// Seek implements §4.6's seek: drops readyState to Metadata, clamps to
// [0, duration], resets both decoders, updates current time, and fires
// seeking/seeked. Real browsers block between the two, re-raising
// readyState only once a decoded frame covers the target time; here the
// reset is synchronous so seeked fires once the clamped time is applied,
// and readyState climbs back up on the next Tick's evaluateReadyState
// once the queues are reprimed.
func (s *Scheduler) Seek(targetSec float64) {
	s.mu.Lock()
	dur := math.Inf(1)
	if s.source != nil {
		if d := s.source.Duration(); !math.IsNaN(d) {
			dur = d
		}
	}
	if targetSec < 0 {
		targetSec = 0
	}
	if targetSec > dur {
		targetSec = dur
	}
	s.seeking = true
	if s.readyState > Metadata {
		s.readyState = Metadata
	}
	s.resetDecodersLocked()
	s.currentTimeUs = secondsToUs(targetSec)
	s.lastVideoSubmit = nil
	s.lastAudioSubmit = nil
	s.mu.Unlock()

	s.dispatcher.FireKind(events.KindSeeking)
	s.dispatcher.FireKind(events.KindTimeUpdate)
	s.mu.Lock()
	s.seeking = false
	s.mu.Unlock()
	s.dispatcher.FireKind(events.KindSeeked)
}

// resetDecodersLocked implements the decoder-reset side effects common to
// seek and a rate-sign flip (§4.6): drop in-flight/ready, clear
// last-submitted, stop scheduled mixer nodes. Caller holds s.mu.
func (s *Scheduler) resetDecodersLocked() {
	if s.videoDecoder != nil {
		s.videoDecoder.Reset()
	}
	if s.audioDecoder != nil {
		s.audioDecoder.Reset()
	}
	s.videoQueue.inFlight.Store(0)
	s.videoQueue.ready.Store(0)
	s.audioQueue.inFlight.Store(0)
	s.audioQueue.ready.Store(0)
	s.videoReadyFrames = nil
	s.audioReadyFrames = nil
	s.lastVideoSubmit = nil
	s.lastAudioSubmit = nil
	s.audioSynthToOrig = make(map[int64]int64)
	for _, n := range s.audioNodes {
		n.Stop()
	}
	s.audioNodes = nil
}

// Run starts the three cooperating loops and blocks until ctx is
// cancelled or one loop fails (§5 "three logical task sources"
// generalized to goroutines): the animation-tick loop and the two decoder
// drain loops.
func (s *Scheduler) Run(ctx context.Context, tickInterval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runTickLoop(ctx, tickInterval) })
	if s.videoDecoder != nil {
		g.Go(func() error { return s.runVideoDrainLoop(ctx) })
	}
	if s.audioDecoder != nil {
		g.Go(func() error { return s.runAudioDrainLoop(ctx) })
	}
	return g.Wait()
}

func (s *Scheduler) runTickLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			s.Tick(elapsed)
		}
	}
}

func (s *Scheduler) runVideoDrainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-s.videoDecoder.Output():
			if !ok {
				return nil
			}
			s.handleDecodedVideo(frame)
		case err := <-s.videoDecoder.Errors():
			if err != nil {
				s.log.Error("video decoder error", "error", err)
			}
		}
	}
}

func (s *Scheduler) runAudioDrainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-s.audioDecoder.Output():
			if !ok {
				return nil
			}
			s.handleDecodedAudio(data)
		case err := <-s.audioDecoder.Errors():
			if err != nil {
				s.log.Error("audio decoder error", "error", err)
			}
		}
	}
}

// Tick implements §4.6's animation-tick advance: elapsed real time is
// scaled by playbackRate, current time is clamped to its containing
// buffered range, then decode refill, render, audio scheduling,
// throttled timeupdate, and ended evaluation run in that order.
func (s *Scheduler) Tick(elapsed time.Duration) {
	s.mu.Lock()
	potentiallyPlaying := !s.paused && !s.ended && !s.seeking
	if potentiallyPlaying {
		prevUs := s.currentTimeUs
		deltaUs := int64(float64(elapsed.Microseconds()) * s.playbackRate)
		s.currentTimeUs += deltaUs
		s.clampToBufferedLocked(prevUs)
	}
	tUs := s.currentTimeUs
	s.mu.Unlock()

	s.refillVideo(tUs)
	s.refillAudio(tUs)
	s.renderVideo(tUs)
	s.scheduleAudio(tUs)

	if s.timeupdateLimiter.Allow() {
		s.dispatcher.FireKind(events.KindTimeUpdate)
	}
	s.evaluateReadyState(tUs)
	s.evaluateEnded(tUs)
}

// clampToBufferedLocked prevents currentTime from advancing past either end
// of its containing buffered range (§4.6), and from going negative: reverse
// playback decreases currentTimeUs just as forward playback increases it,
// and without a lower-bound clamp it would run through 0 into negative
// time instead of stopping at the start of the window. The containing
// range is the one holding prevUs, the time before this tick's advance;
// when prevUs lies in no buffered range only the floor at 0 applies.
// Caller holds s.mu.
func (s *Scheduler) clampToBufferedLocked(prevUs int64) {
	if s.source != nil {
		prev := usToSeconds(prevUs)
		for _, r := range s.source.Buffered() {
			if prev < r.Start || prev > r.End {
				continue
			}
			if lo := secondsToUs(r.Start); s.currentTimeUs < lo {
				s.currentTimeUs = lo
			} else if hi := secondsToUs(r.End); s.currentTimeUs > hi {
				s.currentTimeUs = hi
			}
			break
		}
	}
	if s.currentTimeUs < 0 {
		s.currentTimeUs = 0
	}
}

func usToSeconds(us int64) float64  { return float64(us) / 1_000_000 }
func secondsToUs(sec float64) int64 { return int64(sec * 1_000_000) }
