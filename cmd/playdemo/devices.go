package main

import (
	"log/slog"
	"sync"

	"github.com/zsiec/msecore/codec"
	"github.com/zsiec/msecore/media"
)

// The real AVC/AAC decoders, audio mixer, and 2D presenter are named
// external collaborators the engine is handed, not something it builds.
// This demo has none of those available, so it stands in with a software
// pass-through decoder (echoes each EncodedChunk back as a decoded frame
// of the same timing, so the scheduler's queue/render/batch logic runs
// against real traffic) and a logging mixer/presenter that report what
// would have played instead of actually rendering pixels or sound.

var (
	_ codec.VideoDecoder = (*passthroughVideoDecoder)(nil)
	_ codec.AudioDecoder = (*passthroughAudioDecoder)(nil)
	_ codec.BufferSource = (*loggingBufferSource)(nil)
	_ codec.Mixer        = (*loggingMixer)(nil)
	_ codec.Presenter    = (*loggingPresenter)(nil)
)

type passthroughVideoDecoder struct {
	log *slog.Logger

	mu    sync.Mutex
	cfg   media.VideoConfig
	state codec.DecoderState
	out   chan codec.VideoFrame
	errs  chan error
}

func newPassthroughVideoDecoder(log *slog.Logger) *passthroughVideoDecoder {
	return &passthroughVideoDecoder{
		log:  log.With("component", "demo-video-decoder"),
		out:  make(chan codec.VideoFrame, 256),
		errs: make(chan error, 16),
	}
}

func (d *passthroughVideoDecoder) Configure(cfg media.VideoConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	d.state = codec.Configured
	d.log.Info("configured", "codec", cfg.Codec, "width", cfg.Width, "height", cfg.Height)
	return nil
}

func (d *passthroughVideoDecoder) Decode(chunk codec.EncodedChunk) error {
	d.mu.Lock()
	w, h := d.cfg.Width, d.cfg.Height
	d.mu.Unlock()
	d.out <- codec.NewVideoFrame(chunk.TimestampUs, chunk.DurationUs, w, h, nil)
	return nil
}

func (d *passthroughVideoDecoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
drain:
	for {
		select {
		case <-d.out:
		default:
			break drain
		}
	}
}

func (d *passthroughVideoDecoder) State() codec.DecoderState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *passthroughVideoDecoder) Output() <-chan codec.VideoFrame { return d.out }
func (d *passthroughVideoDecoder) Errors() <-chan error            { return d.errs }

func (d *passthroughVideoDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = codec.Closed
	return nil
}

type passthroughAudioDecoder struct {
	log *slog.Logger

	mu    sync.Mutex
	cfg   media.AudioConfig
	state codec.DecoderState
	out   chan codec.AudioData
	errs  chan error
}

func newPassthroughAudioDecoder(log *slog.Logger) *passthroughAudioDecoder {
	return &passthroughAudioDecoder{
		log:  log.With("component", "demo-audio-decoder"),
		out:  make(chan codec.AudioData, 256),
		errs: make(chan error, 16),
	}
}

func (d *passthroughAudioDecoder) Configure(cfg media.AudioConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	d.state = codec.Configured
	d.log.Info("configured", "codec", cfg.Codec, "sampleRate", cfg.SampleRate, "channels", cfg.Channels)
	return nil
}

func (d *passthroughAudioDecoder) Decode(chunk codec.EncodedChunk) error {
	d.mu.Lock()
	rate, channels := d.cfg.SampleRate, d.cfg.Channels
	d.mu.Unlock()
	if rate == 0 {
		rate = 48000
	}
	if channels == 0 {
		channels = 2
	}
	numFrames := int(int64(rate) * chunk.DurationUs / 1_000_000)
	if numFrames <= 0 {
		numFrames = 1
	}
	planes := make([][]float32, channels)
	for i := range planes {
		planes[i] = make([]float32, numFrames)
	}
	d.out <- codec.NewAudioData(chunk.TimestampUs, chunk.DurationUs, rate, planes, nil)
	return nil
}

func (d *passthroughAudioDecoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
drain:
	for {
		select {
		case <-d.out:
		default:
			break drain
		}
	}
}

func (d *passthroughAudioDecoder) State() codec.DecoderState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *passthroughAudioDecoder) Output() <-chan codec.AudioData { return d.out }
func (d *passthroughAudioDecoder) Errors() <-chan error           { return d.errs }

func (d *passthroughAudioDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = codec.Closed
	return nil
}

type loggingBufferSource struct {
	log *slog.Logger
}

func (b *loggingBufferSource) Start(whenSec, offsetSec float64) {
	b.log.Debug("buffer source start", "when", whenSec, "offset", offsetSec)
}
func (b *loggingBufferSource) Stop()                        { b.log.Debug("buffer source stop") }
func (b *loggingBufferSource) SetPlaybackRate(rate float64) { b.log.Debug("buffer source rate", "rate", rate) }

type loggingMixer struct {
	log *slog.Logger

	mu     sync.Mutex
	nowSec float64
}

func newLoggingMixer(log *slog.Logger) *loggingMixer {
	return &loggingMixer{log: log.With("component", "demo-mixer")}
}

func (m *loggingMixer) CreateBufferSource(buf codec.PCMBuffer) codec.BufferSource {
	return &loggingBufferSource{log: m.log}
}

func (m *loggingMixer) SetVolume(v float64) { m.log.Debug("volume", "v", v) }
func (m *loggingMixer) SetMuted(muted bool) { m.log.Debug("muted", "muted", muted) }

// Now returns nowSec, which nothing in the demo advances, so it always
// reports 0: a demo has no real audio device clock to query. The
// scheduler's own clock advances from wall-clock tick time, not from Now.
func (m *loggingMixer) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowSec
}

type loggingPresenter struct {
	log *slog.Logger
}

func newLoggingPresenter(log *slog.Logger) *loggingPresenter {
	return &loggingPresenter{log: log.With("component", "demo-presenter")}
}

func (p *loggingPresenter) DrawImage(frame codec.VideoFrame, x, y, w, h int) error {
	p.log.Debug("draw", "ts", frame.TimestampUs, "w", w, "h", h)
	return nil
}

func (p *loggingPresenter) Resize(w, h int) {
	p.log.Info("resize", "w", w, "h", h)
}
