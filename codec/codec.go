// Package codec defines the decode/present/mix collaborator interfaces the
// scheduler drives (§6 EXTERNAL INTERFACES), plus the DecoderSupport
// registry that gates which codec strings a source buffer will accept.
//
// Every interface here is deliberately narrow and push-based (output
// delivered over a channel, mirroring the teacher's demuxer-to-pipeline
// channel handoff in internal/pipeline/pipeline.go) so the scheduler's
// select loop can treat a real hardware decoder and codec/codectest's
// fakes identically.
package codec

import (
	"strings"

	"github.com/zsiec/msecore/media"
)

// DecoderState mirrors §6's VideoDecoder/AudioDecoder state machine.
type DecoderState int

const (
	Unconfigured DecoderState = iota
	Configured
	Closed
)

func (s DecoderState) String() string {
	switch s {
	case Configured:
		return "configured"
	case Closed:
		return "closed"
	default:
		return "unconfigured"
	}
}

// EncodedChunk is one coded frame handed to a decoder, carrying enough of
// media.CodedFrame to decode and re-associate the output (§4.6 decode
// submission).
type EncodedChunk struct {
	TimestampUs int64
	DurationUs  int64
	Data        []byte
	Key         bool
}

// VideoFrame is a decoded picture ready for presentation (§6 output
// callback). Close releases any native buffer backing it; callers must
// call it exactly once, on every exit path (§5 "Resource lifetimes").
type VideoFrame struct {
	TimestampUs   int64
	DurationUs    int64
	DisplayWidth  int
	DisplayHeight int

	release func()
}

// NewVideoFrame builds a VideoFrame whose Close invokes release, or a
// no-op if release is nil.
func NewVideoFrame(tsUs, durUs int64, w, h int, release func()) VideoFrame {
	return VideoFrame{TimestampUs: tsUs, DurationUs: durUs, DisplayWidth: w, DisplayHeight: h, release: release}
}

func (f VideoFrame) EndUs() int64 { return f.TimestampUs + f.DurationUs }

func (f VideoFrame) Close() {
	if f.release != nil {
		f.release()
	}
}

// AudioFormat names the sample layout of an AudioData's planes.
type AudioFormat int

const (
	F32Planar AudioFormat = iota
)

// AudioData is decoded PCM ready for mixing (§6 output callback), stored
// as one []float32 plane per channel so reverse-playback re-stamping
// (§4.6) can reverse each channel's samples independently.
type AudioData struct {
	TimestampUs int64
	DurationUs  int64
	Format      AudioFormat
	SampleRate  int
	NumChannels int
	NumFrames   int

	planes [][]float32

	release func()
}

// NewAudioData builds an AudioData from one []float32 plane per channel.
func NewAudioData(tsUs, durUs int64, sampleRate int, planes [][]float32, release func()) AudioData {
	numFrames := 0
	if len(planes) > 0 {
		numFrames = len(planes[0])
	}
	return AudioData{
		TimestampUs: tsUs,
		DurationUs:  durUs,
		Format:      F32Planar,
		SampleRate:  sampleRate,
		NumChannels: len(planes),
		NumFrames:   numFrames,
		planes:      planes,
		release:     release,
	}
}

func (d AudioData) EndUs() int64 { return d.TimestampUs + d.DurationUs }

// CopyTo copies the samples of the given channel plane into dst, returning
// the number of frames copied (§6 AudioData.copyTo).
func (d AudioData) CopyTo(dst []float32, planeIndex int) int {
	if planeIndex < 0 || planeIndex >= len(d.planes) {
		return 0
	}
	return copy(dst, d.planes[planeIndex])
}

// Reversed returns a copy of d with every channel's samples reversed and
// its timestamp replaced.
func (d AudioData) Reversed(presentationTsUs int64) AudioData {
	out := make([][]float32, len(d.planes))
	for i, p := range d.planes {
		r := make([]float32, len(p))
		for j, v := range p {
			r[len(p)-1-j] = v
		}
		out[i] = r
	}
	cp := d
	cp.planes = out
	cp.TimestampUs = presentationTsUs
	return cp
}

func (d AudioData) Close() {
	if d.release != nil {
		d.release()
	}
}

// VideoDecoder is §6's video decoder collaborator: configure once per
// codec change, decode frames in submission order, observe output and
// errors over channels.
type VideoDecoder interface {
	Configure(cfg media.VideoConfig) error
	Decode(chunk EncodedChunk) error
	Reset()
	State() DecoderState
	Output() <-chan VideoFrame
	Errors() <-chan error
	Close() error
}

// AudioDecoder is §6's audio decoder collaborator, symmetric with
// VideoDecoder.
type AudioDecoder interface {
	Configure(cfg media.AudioConfig) error
	Decode(chunk EncodedChunk) error
	Reset()
	State() DecoderState
	Output() <-chan AudioData
	Errors() <-chan error
	Close() error
}

// PCMBuffer is one batch of decoded, possibly re-reversed PCM ready for
// scheduling on the mixer (§4.6 "Audio scheduling").
type PCMBuffer struct {
	SampleRate int
	Planes     [][]float32
}

// BufferSource is §6's createBufferSource() result: a one-shot scheduled
// playback node.
type BufferSource interface {
	Start(whenSec, offsetSec float64)
	Stop()
	SetPlaybackRate(rate float64)
}

// Mixer is §6's audio mixer collaborator.
type Mixer interface {
	CreateBufferSource(buf PCMBuffer) BufferSource
	SetVolume(v float64)
	SetMuted(muted bool)
	// Now returns the mixer's own monotonic clock time in seconds, the
	// tMixer the scheduler offsets audio scheduling from (§4.6).
	Now() float64
}

// Presenter is §6's 2-D surface collaborator for video render.
type Presenter interface {
	DrawImage(frame VideoFrame, x, y, w, h int) error
	Resize(w, h int)
}

// Support implements sourcebuffer.DecoderSupport and mediasource's forwarded
// use of it: a codec string is supported if it matches one of the RFC 6381
// prefixes this build actually has a decoder for (§6 "ensure decoder
// support", §7 InitError "unsupported codec").
type Support struct {
	videoPrefixes []string
	audioPrefixes []string
}

// NewSupport builds a Support that accepts the given avc1.*/mp4a.* codec
// string prefixes (e.g. "avc1.64", "mp4a.40").
func NewSupport(videoPrefixes, audioPrefixes []string) *Support {
	return &Support{videoPrefixes: videoPrefixes, audioPrefixes: audioPrefixes}
}

// DefaultSupport accepts any AVC High/Main/Baseline profile and AAC-LC,
// the codecs the mp4 package's avc.go/aac.go configuration derivation
// targets.
func DefaultSupport() *Support {
	return NewSupport(
		[]string{"avc1."},
		[]string{"mp4a.40"},
	)
}

func (s *Support) IsSupported(codec string) bool {
	for _, p := range s.videoPrefixes {
		if strings.HasPrefix(codec, p) {
			return true
		}
	}
	for _, p := range s.audioPrefixes {
		if strings.HasPrefix(codec, p) {
			return true
		}
	}
	return false
}
