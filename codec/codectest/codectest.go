// Package codectest provides deterministic, in-process fakes for codec's
// collaborator interfaces, following the same hand-written
// call-recording-fake pattern as pipeline_integration_test.go's testViewer:
// a mutex-guarded struct that records what it was asked to do and, for the
// decoders, feeds back a decoded frame synchronously so scheduler tests
// never depend on real wall-clock timing.
package codectest

import (
	"sync"

	"github.com/zsiec/msecore/codec"
	"github.com/zsiec/msecore/media"
)

var (
	_ codec.VideoDecoder = (*VideoDecoder)(nil)
	_ codec.AudioDecoder = (*AudioDecoder)(nil)
	_ codec.BufferSource = (*BufferSource)(nil)
	_ codec.Mixer        = (*Mixer)(nil)
	_ codec.Presenter    = (*Presenter)(nil)
)

// VideoDecoder is a fake codec.VideoDecoder that echoes every decoded
// chunk back as a VideoFrame of the same timing, synchronously on Decode.
type VideoDecoder struct {
	mu   sync.Mutex
	cfg  media.VideoConfig
	st   codec.DecoderState
	out  chan codec.VideoFrame
	errs chan error

	Configured  []media.VideoConfig
	Decoded     []codec.EncodedChunk
	ResetCalled int
	ClosedCalls int
}

// NewVideoDecoder builds a VideoDecoder with a generously buffered output
// channel so tests can Decode a batch before draining Output.
func NewVideoDecoder() *VideoDecoder {
	return &VideoDecoder{out: make(chan codec.VideoFrame, 256), errs: make(chan error, 16)}
}

func (d *VideoDecoder) Configure(cfg media.VideoConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	d.st = codec.Configured
	d.Configured = append(d.Configured, cfg)
	return nil
}

func (d *VideoDecoder) Decode(chunk codec.EncodedChunk) error {
	d.mu.Lock()
	d.Decoded = append(d.Decoded, chunk)
	d.mu.Unlock()
	d.out <- codec.NewVideoFrame(chunk.TimestampUs, chunk.DurationUs, 0, 0, nil)
	return nil
}

func (d *VideoDecoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCalled++
drain:
	for {
		select {
		case <-d.out:
		default:
			break drain
		}
	}
}

func (d *VideoDecoder) State() codec.DecoderState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st
}

func (d *VideoDecoder) Output() <-chan codec.VideoFrame { return d.out }
func (d *VideoDecoder) Errors() <-chan error            { return d.errs }

func (d *VideoDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st = codec.Closed
	d.ClosedCalls++
	return nil
}

// AudioDecoder is the audio counterpart of VideoDecoder.
type AudioDecoder struct {
	mu   sync.Mutex
	cfg  media.AudioConfig
	st   codec.DecoderState
	out  chan codec.AudioData
	errs chan error

	Configured  []media.AudioConfig
	Decoded     []codec.EncodedChunk
	ResetCalled int
	ClosedCalls int
}

func NewAudioDecoder() *AudioDecoder {
	return &AudioDecoder{out: make(chan codec.AudioData, 256), errs: make(chan error, 16)}
}

func (d *AudioDecoder) Configure(cfg media.AudioConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	d.st = codec.Configured
	d.Configured = append(d.Configured, cfg)
	return nil
}

// Decode produces one mono-per-channel silent plane sized to the chunk's
// duration at the configured sample rate, enough for scheduler tests to
// exercise batching and re-stamping without needing real AAC payloads.
func (d *AudioDecoder) Decode(chunk codec.EncodedChunk) error {
	d.mu.Lock()
	cfg := d.cfg
	d.Decoded = append(d.Decoded, chunk)
	d.mu.Unlock()

	rate := cfg.SampleRate
	if rate == 0 {
		rate = 48000
	}
	channels := cfg.Channels
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

func (d *AudioDecoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCalled++
drain:
	for {
		select {
		case <-d.out:
		default:
			break drain
		}
	}
}

func (d *AudioDecoder) State() codec.DecoderState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st
}

func (d *AudioDecoder) Output() <-chan codec.AudioData { return d.out }
func (d *AudioDecoder) Errors() <-chan error           { return d.errs }

func (d *AudioDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st = codec.Closed
	d.ClosedCalls++
	return nil
}

// BufferSource records the schedule/stop/rate calls a Mixer's
// CreateBufferSource result receives.
type BufferSource struct {
	mu          sync.Mutex
	Started     []struct{ When, Offset float64 }
	Stopped     int
	RateChanges []float64
}

func (b *BufferSource) Start(whenSec, offsetSec float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Started = append(b.Started, struct{ When, Offset float64 }{whenSec, offsetSec})
}

func (b *BufferSource) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Stopped++
}

func (b *BufferSource) SetPlaybackRate(rate float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.RateChanges = append(b.RateChanges, rate)
}

// Mixer is a fake codec.Mixer with a settable clock and recorded buffer
// sources, one per CreateBufferSource call.
type Mixer struct {
	mu      sync.Mutex
	nowSec  float64
	Volume  float64
	Muted   bool
	Sources []*BufferSource
}

func NewMixer() *Mixer { return &Mixer{Volume: 1} }

// SetNow lets a test advance the mixer's clock deterministically.
func (m *Mixer) SetNow(sec float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowSec = sec
}

func (m *Mixer) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowSec
}

func (m *Mixer) CreateBufferSource(buf codec.PCMBuffer) codec.BufferSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := &BufferSource{}
	m.Sources = append(m.Sources, src)
	return src
}

func (m *Mixer) SetVolume(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Volume = v
}

func (m *Mixer) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Muted = muted
}

// Presenter records DrawImage/Resize calls.
type Presenter struct {
	mu      sync.Mutex
	Drawn   []codec.VideoFrame
	Width   int
	Height  int
	Resizes int
}

func NewPresenter() *Presenter { return &Presenter{} }

func (p *Presenter) DrawImage(frame codec.VideoFrame, x, y, w, h int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Drawn = append(p.Drawn, frame)
	return nil
}

func (p *Presenter) Resize(w, h int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Width = w
	p.Height = h
	p.Resizes++
}

// Support is a fake codec.Support-shaped DecoderSupport that accepts or
// rejects codecs by exact membership, for tests that need to exercise the
// unsupported-codec path deterministically.
type Support struct {
	Unsupported map[string]bool
}

func (s Support) IsSupported(codec string) bool { return !s.Unsupported[codec] }
