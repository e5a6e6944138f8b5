package scheduler

import (
	"math"

	"github.com/zsiec/msecore/codec"
	"github.com/zsiec/msecore/events"
	"github.com/zsiec/msecore/media"
)

// refillVideo implements §4.6's decode-queue model for video: seed from a
// GOP prefix when there is no continuable lastSubmitted, otherwise keep
// pulling getNextFrames until the high watermark or a gap/end.
func (s *Scheduler) refillVideo(currentTimeUs int64) {
	if s.videoDecoder == nil {
		return
	}
	s.mu.Lock()
	vb := s.videoBuf
	dir := s.direction
	s.mu.Unlock()
	if vb == nil {
		return
	}

	for s.videoQueue.inFlight.Load()+s.videoQueue.ready.Load() < LWM {
		s.mu.Lock()
		last := s.lastVideoSubmit
		stale := last != nil && !vb.Contains(*last)
		s.mu.Unlock()

		if last == nil || stale {
			frame, ok := vb.FindFrameForTime(usToSeconds(currentTimeUs))
			if !ok {
				return
			}
			deps, cfg := vb.GetDecodeDependenciesForFrame(frame)
			if len(deps) == 0 {
				return
			}
			s.submitVideoBatch(deps, cfg)
			continue
		}

		want := HWM - int(s.videoQueue.inFlight.Load()+s.videoQueue.ready.Load())
		if want <= 0 {
			return
		}
		frames, cfg, ok := vb.GetNextFrames(*last, want, dir)
		if !ok || len(frames) == 0 {
			return
		}
		s.submitVideoBatch(frames, cfg)
	}
}

func (s *Scheduler) submitVideoBatch(frames []media.CodedFrame, cfg media.VideoConfig) {
	s.mu.Lock()
	if !s.videoConfigured || cfg.Codec != s.lastVideoConfig.Codec {
		if err := s.videoDecoder.Configure(cfg); err != nil {
			s.mu.Unlock()
			s.log.Error("video decoder configure failed", "error", err)
			return
		}
		s.videoConfigured = true
		s.lastVideoConfig = cfg
	}
	s.mu.Unlock()

	for _, f := range frames {
		if err := s.videoDecoder.Decode(codec.EncodedChunk{
			TimestampUs: f.TimestampUs,
			DurationUs:  f.DurationUs,
			Data:        f.Data,
			Key:         f.Kind == media.Key,
		}); err != nil {
			s.log.Error("video decode failed", "error", err)
			continue
		}
		s.videoQueue.inFlight.Add(1)
		s.metrics.videoSubmitted.Inc()
	}

	last := frames[len(frames)-1]
	s.mu.Lock()
	s.lastVideoSubmit = &last
	s.mu.Unlock()
}

// handleDecodedVideo applies §4.6's decode-callback lateness check: a
// frame that falls beyond current time in the playback direction is
// dropped. Decoded frames are not matched against the frames submitted, so
// a frame decoded from input submitted before a decoder reset is kept
// whenever it is not late.
func (s *Scheduler) handleDecodedVideo(frame codec.VideoFrame) {
	s.videoQueue.inFlight.Add(-1)

	s.mu.Lock()
	tUs := s.currentTimeUs
	dir := s.direction
	s.mu.Unlock()

	if isLate(frame.TimestampUs, frame.EndUs(), tUs, dir) {
		frame.Close()
		s.metrics.videoDropped.Inc()
		return
	}

	s.videoQueue.ready.Add(1)
	s.mu.Lock()
	s.videoReadyFrames = append(s.videoReadyFrames, frame)
	s.mu.Unlock()
}

// isLate implements §4.6's lateness check, shared by the decode-callback
// and render drop policies: forward drops once ts+dur <= currentTime;
// backward drops once ts >= currentTime.
func isLate(tsUs, endUs, currentTimeUs int64, dir media.Direction) bool {
	if dir == media.Backward {
		return tsUs >= currentTimeUs
	}
	return endUs <= currentTimeUs
}

// renderVideo implements §4.6's video render step: drop late ready
// frames, then draw the unique frame containing current time, resizing
// the presenter on a dimension change.
func (s *Scheduler) renderVideo(currentTimeUs int64) {
	// Filter and write videoReadyFrames back under one lock acquisition:
	// reading, filtering, and writing as three separate critical sections
	// would lose any frame handleDecodedVideo appends while the lock is
	// released in between.
	s.mu.Lock()
	dir := s.direction
	frames := s.videoReadyFrames
	var toRender *codec.VideoFrame
	if len(frames) > 0 {
		kept := frames[:0:0]
		for i := range frames {
			f := frames[i]
			if isLate(f.TimestampUs, f.EndUs(), currentTimeUs, dir) {
				f.Close()
				s.videoQueue.ready.Add(-1)
				s.metrics.videoDropped.Inc()
				continue
			}
			if toRender == nil && f.TimestampUs <= currentTimeUs && currentTimeUs < f.EndUs() {
				rendered := f
				toRender = &rendered
				s.videoQueue.ready.Add(-1)
				continue
			}
			kept = append(kept, f)
		}
		s.videoReadyFrames = kept
	}
	s.mu.Unlock()

	if toRender == nil {
		return
	}
	if s.presenter != nil {
		if toRender.DisplayWidth != s.videoDims[0] || toRender.DisplayHeight != s.videoDims[1] {
			s.videoDims = [2]int{toRender.DisplayWidth, toRender.DisplayHeight}
			s.presenter.Resize(toRender.DisplayWidth, toRender.DisplayHeight)
			s.dispatcher.FireKind(events.KindResize)
		}
		_ = s.presenter.DrawImage(*toRender, 0, 0, toRender.DisplayWidth, toRender.DisplayHeight)
	}
	toRender.Close()
}

// refillAudio mirrors refillVideo for the audio queue. Backward playback
// re-stamps each submitted chunk with a synthetic, strictly-increasing
// timestamp so the decoder always observes monotonic input DTS (§4.6).
func (s *Scheduler) refillAudio(currentTimeUs int64) {
	if s.audioDecoder == nil {
		return
	}
	s.mu.Lock()
	ab := s.audioBuf
	dir := s.direction
	s.mu.Unlock()
	if ab == nil {
		return
	}

	for s.audioQueue.inFlight.Load()+s.audioQueue.ready.Load() < LWM {
		s.mu.Lock()
		last := s.lastAudioSubmit
		stale := last != nil && !ab.Contains(*last)
		s.mu.Unlock()

		if last == nil || stale {
			frame, ok := ab.FindFrameForTime(usToSeconds(currentTimeUs))
			if !ok {
				return
			}
			deps, cfg := ab.GetDecodeDependenciesForFrame(frame)
			if len(deps) == 0 {
				return
			}
			s.submitAudioBatch(deps, cfg, dir)
			continue
		}

		want := HWM - int(s.audioQueue.inFlight.Load()+s.audioQueue.ready.Load())
		if want <= 0 {
			return
		}
		frames, cfg, ok := ab.GetNextFrames(*last, want, dir)
		if !ok || len(frames) == 0 {
			return
		}
		s.submitAudioBatch(frames, cfg, dir)
	}
}

func (s *Scheduler) submitAudioBatch(frames []media.CodedFrame, cfg media.AudioConfig, dir media.Direction) {
	s.mu.Lock()
	if !s.audioConfigured || cfg.Codec != s.lastAudioConfig.Codec {
		if err := s.audioDecoder.Configure(cfg); err != nil {
			s.mu.Unlock()
			s.log.Error("audio decoder configure failed", "error", err)
			return
		}
		s.audioConfigured = true
		s.lastAudioConfig = cfg
	}
	s.mu.Unlock()

	for _, f := range frames {
		submitTs := f.TimestampUs
		if dir == media.Backward {
			s.mu.Lock()
			synth := s.audioSynthSeq
			s.audioSynthSeq += f.DurationUs + 1
			s.audioSynthToOrig[synth] = f.TimestampUs
			s.mu.Unlock()
			submitTs = synth
		}
		if err := s.audioDecoder.Decode(codec.EncodedChunk{
			TimestampUs: submitTs,
			DurationUs:  f.DurationUs,
			Data:        f.Data,
			Key:         true,
		}); err != nil {
			s.log.Error("audio decode failed", "error", err)
			continue
		}
		s.audioQueue.inFlight.Add(1)
		s.metrics.audioSubmitted.Inc()
	}

	last := frames[len(frames)-1]
	s.mu.Lock()
	s.lastAudioSubmit = &last
	s.mu.Unlock()
}

// handleDecodedAudio restores the original presentation timestamp for
// backward-decoded chunks, leaving their samples in decoded order (the
// per-channel reversal for backward playback happens once, in
// concatAudioBatch), then applies the same drop-late policy as video
// (§4.6).
func (s *Scheduler) handleDecodedAudio(data codec.AudioData) {
	s.audioQueue.inFlight.Add(-1)

	s.mu.Lock()
	origTs, synthetic := s.audioSynthToOrig[data.TimestampUs]
	if synthetic {
		delete(s.audioSynthToOrig, data.TimestampUs)
	}
	dir := s.direction
	tUs := s.currentTimeUs
	s.mu.Unlock()

	if synthetic {
		data.TimestampUs = origTs
	}

	if isLate(data.TimestampUs, data.EndUs(), tUs, dir) {
		data.Close()
		s.metrics.audioDropped.Inc()
		return
	}

	s.audioQueue.ready.Add(1)
	s.mu.Lock()
	s.audioReadyFrames = append(s.audioReadyFrames, data)
	s.mu.Unlock()
}

// scheduleAudio implements §4.6's "Audio scheduling": ready AudioData in
// rendering order is batched while consecutive and same sample rate, each
// batch copied into one PCM buffer (reversed per channel for backward
// playback) and scheduled on the mixer at tMixer + offset.
func (s *Scheduler) scheduleAudio(currentTimeUs int64) {
	if s.mixer == nil {
		return
	}
	s.mu.Lock()
	ready := s.audioReadyFrames
	s.audioReadyFrames = nil
	dir := s.direction
	rate := s.playbackRate
	s.mu.Unlock()
	if len(ready) == 0 {
		return
	}

	sortAudioByTimestamp(ready, dir)

	var batches [][]codec.AudioData
	var cur []codec.AudioData
	for _, d := range ready {
		if len(cur) == 0 {
			cur = append(cur, d)
			continue
		}
		prev := cur[len(cur)-1]
		tol := d.DurationUs / 16
		if tol < 1 {
			tol = 1
		}
		if abs64(d.TimestampUs-prev.EndUs()) <= tol && d.SampleRate == prev.SampleRate && d.NumChannels == prev.NumChannels {
			cur = append(cur, d)
			continue
		}
		batches = append(batches, cur)
		cur = []codec.AudioData{d}
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}

	magnitude := math.Abs(rate)
	if magnitude == 0 {
		magnitude = 1
	}
	mixerNow := s.mixer.Now()

	for _, batch := range batches {
		buf := concatAudioBatch(batch, dir)
		startUs := batch[0].TimestampUs
		offset := float64(startUs-currentTimeUs) / (1_000_000 * magnitude)
		src := s.mixer.CreateBufferSource(buf)
		src.Start(mixerNow+offset, 0)
		src.SetPlaybackRate(magnitude)
		s.mu.Lock()
		s.audioNodes = append(s.audioNodes, src)
		s.mu.Unlock()
		for _, d := range batch {
			d.Close()
		}
		s.audioQueue.ready.Add(int64(-len(batch)))
	}
}

// sortAudioByTimestamp orders ready audio frames in rendering order:
// ascending timestamp for forward playback, descending for backward.
func sortAudioByTimestamp(frames []codec.AudioData, dir media.Direction) {
	for i := 1; i < len(frames); i++ {
		for j := i; j > 0; j-- {
			less := frames[j].TimestampUs < frames[j-1].TimestampUs
			if dir == media.Backward {
				less = !less
			}
			if !less {
				break
			}
			frames[j], frames[j-1] = frames[j-1], frames[j]
		}
	}
}

// concatAudioBatch concatenates a batch's planes per channel; for
// backward playback the concatenated samples within each channel are
// reversed so the mixer can play the batch forward at a positive rate
// (§4.6).
func concatAudioBatch(batch []codec.AudioData, dir media.Direction) codec.PCMBuffer {
	channels := batch[0].NumChannels
	planes := make([][]float32, channels)
	for ci := 0; ci < channels; ci++ {
		var out []float32
		for _, d := range batch {
			frame := make([]float32, d.NumFrames)
			d.CopyTo(frame, ci)
			out = append(out, frame...)
		}
		if dir == media.Backward {
			for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
				out[l], out[r] = out[r], out[l]
			}
		}
		planes[ci] = out
	}
	return codec.PCMBuffer{SampleRate: batch[0].SampleRate, Planes: planes}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
