package sourcebuffer

import (
	"encoding/binary"
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

// fakeHost implements Host for tests, mirroring testViewer's pattern of a
// small mutex-guarded fake collecting calls for later assertion.
type fakeHost struct {
	mu             sync.Mutex
	duration       float64
	open           bool
	ended          bool
	eosCalls       []playerr.EndOfStreamKind
	activeNotified []*SourceBuffer
	removedCalls   []struct {
		sb    *SourceBuffer
		start float64
		end   float64
	}
}

func newFakeHost() *fakeHost {
	return &fakeHost{duration: math.NaN(), open: true}
}

func (h *fakeHost) Duration() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duration
}

func (h *fakeHost) SetDuration(seconds float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.duration = seconds
	return nil
}

func (h *fakeHost) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

func (h *fakeHost) IsEnded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}

func (h *fakeHost) ReopenIfEnded() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended = false
}

func (h *fakeHost) EndOfStream(kind playerr.EndOfStreamKind) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended = true
	h.eosCalls = append(h.eosCalls, kind)
	return nil
}

func (h *fakeHost) NotifyTracksActive(sb *SourceBuffer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeNotified = append(h.activeNotified, sb)
}

func (h *fakeHost) NotifyRangeRemoved(sb *SourceBuffer, startSec, endSec float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removedCalls = append(h.removedCalls, struct {
		sb    *SourceBuffer
		start float64
		end   float64
	}{sb, startSec, endSec})
}

// fakeSupport implements DecoderSupport, allowing every codec unless listed
// in unsupported.
type fakeSupport struct {
	unsupported map[string]bool
}

func (s fakeSupport) IsSupported(codec string) bool {
	return !s.unsupported[codec]
}

// ---- ISO-BMFF fixture builders (local copies of the mp4 package's
// test-only helpers: sourcebuffer has no access to mp4's unexported
// builders, and the engine carries no ISO-BMFF encoding library). ----

func makeBox(boxType string, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(payload)))
	copy(out[4:8], boxType)
	copy(out[8:], payload)
	return out
}

type bitWriter struct {
	bytes []byte
	cur   byte
	nbits int
}

func (w *bitWriter) writeBit(b uint) {
	w.cur = (w.cur << 1) | byte(b&1)
	w.nbits++
	if w.nbits == 8 {
		w.bytes = append(w.bytes, w.cur)
		w.cur = 0
		w.nbits = 0
	}
}

func (w *bitWriter) writeBits(v uint, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit((v >> uint(i)) & 1)
	}
}

func (w *bitWriter) writeUE(v uint) {
	temp := v + 1
	leadingZeros := 0
	for t := temp >> 1; t > 0; t >>= 1 {
		leadingZeros++
	}
	for i := 0; i < leadingZeros; i++ {
		w.writeBit(0)
	}
	w.writeBits(temp, leadingZeros+1)
}

func (w *bitWriter) bytesPadded() []byte {
	if w.nbits > 0 {
		w.cur <<= uint(8 - w.nbits)
		w.bytes = append(w.bytes, w.cur)
		w.cur = 0
		w.nbits = 0
	}
	return w.bytes
}

func buildBaselineSPS(widthMbsMinus1, heightMapUnitsMinus1 uint, profileIDC, levelIDC byte) []byte {
	w := &bitWriter{}
	w.writeBits(uint(profileIDC), 8)
	w.writeBits(0, 8)
	w.writeBits(uint(levelIDC), 8)
	w.writeUE(0)
	w.writeUE(0)
	w.writeUE(2)
	w.writeUE(1)
	w.writeBits(0, 1)
	w.writeUE(widthMbsMinus1)
	w.writeUE(heightMapUnitsMinus1)
	w.writeBits(1, 1)
	w.writeBits(0, 1)
	w.writeBits(0, 1)
	w.writeBits(0, 1)
	return w.bytesPadded()
}

func buildAvcC(sps []byte) []byte {
	out := []byte{1, sps[1], 0, sps[3], 0xFF, 0xE1}
	out = append(out, byte(len(sps)>>8), byte(len(sps)))
	out = append(out, sps...)
	out = append(out, 0)
	return out
}

func buildTkhd(trackID uint32) []byte {
	payload := make([]byte, 24)
	binary.BigEndian.PutUint32(payload[12:16], trackID)
	return payload
}

func buildMdhd(timescale uint32) []byte {
	payload := make([]byte, 24)
	binary.BigEndian.PutUint32(payload[12:16], timescale)
	return payload
}

func buildHdlr(handlerType string) []byte {
	payload := make([]byte, 24)
	copy(payload[8:12], handlerType)
	return payload
}

func buildStsdVideo(avcC []byte) []byte {
	fixed := make([]byte, 78)
	entry := makeBox("avc1", append(fixed, makeBox("avcC", avcC)...))
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[4:8], 1)
	return append(payload, entry...)
}

func buildVideoTrak(trackID, timescale uint32, avcC []byte) []byte {
	stsd := makeBox("stsd", buildStsdVideo(avcC))
	stbl := makeBox("stbl", stsd)
	minf := makeBox("minf", stbl)
	mdhd := makeBox("mdhd", buildMdhd(timescale))
	hdlr := makeBox("hdlr", buildHdlr("vide"))
	mdia := makeBox("mdia", append(append(mdhd, hdlr...), minf...))
	tkhd := makeBox("tkhd", buildTkhd(trackID))
	return append(tkhd, mdia...)
}

// buildMvhd builds a version-0 movie header payload: version/flags(4) +
// creation_time(4) + modification_time(4) + timescale(4) + duration(4),
// matching mvhdDurationSec's version-0 field offsets.
func buildMvhd(durationTicks, timescale uint32) []byte {
	payload := make([]byte, 20)
	binary.BigEndian.PutUint32(payload[12:16], timescale)
	binary.BigEndian.PutUint32(payload[16:20], durationTicks)
	return payload
}

// buildVideoInitSegment builds a single-video-track ftyp+moov init segment
// with a real, parseable avcC (176x144 baseline), so the rejection path can
// be exercised separately by swapping in fakeSupport.unsupported.
func buildVideoInitSegment(trackID, timescale uint32, withDuration bool) []byte {
	rbsp := buildBaselineSPS(10, 8, 66, 0x1E)
	nalu := append([]byte{0x67}, rbsp...)
	avcC := buildAvcC(nalu)
	trak := makeBox("trak", buildVideoTrak(trackID, timescale, avcC))
	moov := trak
	if withDuration {
		moov = append(makeBox("mvhd", buildMvhd(timescale*4, timescale)), trak...)
	}
	moov = makeBox("moov", moov)
	ftyp := makeBox("ftyp", []byte("isomiso6"))
	return append(ftyp, moov...)
}

func buildTfhd(trackID uint32) []byte {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[4:8], trackID)
	return payload
}

func buildTfdt(baseDecodeTime uint32) []byte {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint32(payload[4:8], baseDecodeTime)
	return payload
}

const (
	trunDataOffsetPresent     = 0x000001
	trunSampleDurationPresent = 0x000100
	trunSampleSizePresent     = 0x000200
	trunSampleFlagsPresent    = 0x000400
	sampleFlagsNonSyncBit     = 1 << 16
)

func buildTrun(dataOffset int32, durations, sizes []uint32, syncFlags []bool) []byte {
	flags := uint32(trunDataOffsetPresent | trunSampleDurationPresent | trunSampleSizePresent | trunSampleFlagsPresent)
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], flags)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(durations)))
	payload := append([]byte(nil), header...)

	off := make([]byte, 4)
	binary.BigEndian.PutUint32(off, uint32(dataOffset))
	payload = append(payload, off...)

	for i := range durations {
		buf := make([]byte, 12)
		binary.BigEndian.PutUint32(buf[0:4], durations[i])
		binary.BigEndian.PutUint32(buf[4:8], sizes[i])
		var sf uint32
		if !syncFlags[i] {
			sf = sampleFlagsNonSyncBit
		}
		binary.BigEndian.PutUint32(buf[8:12], sf)
		payload = append(payload, buf...)
	}
	return payload
}

// buildMediaSegment builds one moof+mdat carrying frames (duration 3000
// ticks each at a 90000Hz timescale, i.e. 1/30s) for trackID, starting at
// baseDecodeTime, with sync flags as given.
func buildMediaSegment(trackID uint32, baseDecodeTime uint32, frames [][]byte, syncFlags []bool) []byte {
	tfhd := makeBox("tfhd", buildTfhd(trackID))
	tfdt := makeBox("tfdt", buildTfdt(baseDecodeTime))

	durations := make([]uint32, len(frames))
	sizes := make([]uint32, len(frames))
	for i, f := range frames {
		durations[i] = 3000
		sizes[i] = uint32(len(f))
	}

	trun := makeBox("trun", buildTrun(0, durations, sizes, syncFlags))
	traf := makeBox("traf", append(append(tfhd, tfdt...), trun...))
	moof := makeBox("moof", traf)

	dataOffset := int32(len(moof) + 8)
	trun = makeBox("trun", buildTrun(dataOffset, durations, sizes, syncFlags))
	traf = makeBox("traf", append(append(tfhd, tfdt...), trun...))
	moof = makeBox("moof", traf)

	var mdatPayload []byte
	for _, f := range frames {
		mdatPayload = append(mdatPayload, f...)
	}
	mdat := makeBox("mdat", mdatPayload)

	return append(append([]byte(nil), moof...), mdat...)
}

func TestAppendBufferInitSegmentCreatesTrackBufferAndFiresEvents(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	sb := New(host, fakeSupport{}, "video/mp4", newTestLogger())

	var fired []events.Kind
	sb.On(func(ev events.Event) { fired = append(fired, ev.Kind) })

	if err := sb.AppendBuffer(buildVideoInitSegment(7, 90000, true)); err != nil {
		t.Fatalf("AppendBuffer: %v", err)
	}

	want := []events.Kind{events.KindUpdateStart, events.KindUpdate, events.KindUpdateEnd}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("fired[%d] = %v, want %v", i, fired[i], want[i])
		}
	}

	if len(sb.VideoBuffers()) != 1 {
		t.Fatalf("VideoBuffers() = %d entries, want 1", len(sb.VideoBuffers()))
	}
	if _, ok := sb.VideoBuffers()[7]; !ok {
		t.Error("expected track buffer for track ID 7")
	}
	if sb.Updating() {
		t.Error("Updating() should be false after a successful append")
	}
	if len(host.activeNotified) != 1 || host.activeNotified[0] != sb {
		t.Errorf("NotifyTracksActive calls = %v", host.activeNotified)
	}
	if math.IsNaN(host.Duration()) {
		t.Error("host duration should have been set from mvhd")
	}
}

func TestAppendBufferUnsupportedCodecFiresErrorAndEndsStream(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	sb := New(host, fakeSupport{unsupported: map[string]bool{"avc1.42001E": true}}, "video/mp4", newTestLogger())

	var fired []events.Kind
	sb.On(func(ev events.Event) { fired = append(fired, ev.Kind) })

	err := sb.AppendBuffer(buildVideoInitSegment(1, 90000, false))
	if err == nil {
		t.Fatal("expected an error for an unsupported codec")
	}

	want := []events.Kind{events.KindUpdateStart, events.KindError, events.KindUpdateEnd}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("fired[%d] = %v, want %v", i, fired[i], want[i])
		}
	}
	if len(host.eosCalls) != 1 || host.eosCalls[0] != playerr.EOSDecode {
		t.Errorf("eosCalls = %v, want one EOSDecode", host.eosCalls)
	}
	if sb.Updating() {
		t.Error("Updating() should be false after an append error")
	}
}

func TestAppendBufferRejectsWhileUpdating(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	sb := New(host, fakeSupport{}, "video/mp4", newTestLogger())
	sb.mu.Lock()
	sb.updating = true
	sb.mu.Unlock()

	if err := sb.AppendBuffer(buildVideoInitSegment(1, 90000, false)); err == nil {
		t.Fatal("expected a state error while already updating")
	}
}

func TestCodedFrameProcessingGatesOnRandomAccessPoint(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	sb := New(host, fakeSupport{}, "video/mp4", newTestLogger())
	if err := sb.AppendBuffer(buildVideoInitSegment(1, 90000, true)); err != nil {
		t.Fatalf("init AppendBuffer: %v", err)
	}

	// A leading non-sync frame must be dropped silently: the track buffer
	// starts out needing a random access point.
	frames := [][]byte{{0xBB}, {0xAA}}
	seg := buildMediaSegment(1, 0, frames, []bool{false, true})
	if err := sb.AppendBuffer(seg); err != nil {
		t.Fatalf("media AppendBuffer: %v", err)
	}

	buf := sb.VideoBuffers()[1]
	if buf.NeedRandomAccessPoint() {
		t.Error("NeedRandomAccessPoint should clear once a sync frame is admitted")
	}
	if got := len(buf.GOPs()); got != 1 {
		t.Fatalf("len(GOPs()) = %d, want 1 (leading delta frame dropped)", got)
	}
}

func TestCodedFrameProcessingUnknownTrackReturnsError(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	sb := New(host, fakeSupport{}, "video/mp4", newTestLogger())
	if err := sb.AppendBuffer(buildVideoInitSegment(1, 90000, true)); err != nil {
		t.Fatalf("init AppendBuffer: %v", err)
	}

	seg := buildMediaSegment(99, 0, [][]byte{{0xAA}}, []bool{true})
	if err := sb.AppendBuffer(seg); err == nil {
		t.Fatal("expected an error for a media segment referencing an unconfigured track")
	}
}

func TestRemoveNotifiesHostAndDropsGOPsInRange(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	sb := New(host, fakeSupport{}, "video/mp4", newTestLogger())
	if err := sb.AppendBuffer(buildVideoInitSegment(1, 90000, true)); err != nil {
		t.Fatalf("init AppendBuffer: %v", err)
	}
	host.SetDuration(10)

	// Two GOPs: one key frame at t=0, another at t=1/30s (3000 ticks @ 90kHz).
	seg := buildMediaSegment(1, 0, [][]byte{{0xAA}}, []bool{true})
	if err := sb.AppendBuffer(seg); err != nil {
		t.Fatalf("media AppendBuffer (gop 1): %v", err)
	}
	seg2 := buildMediaSegment(1, 3000, [][]byte{{0xBB}}, []bool{true})
	if err := sb.AppendBuffer(seg2); err != nil {
		t.Fatalf("media AppendBuffer (gop 2): %v", err)
	}

	buf := sb.VideoBuffers()[1]
	if got := len(buf.GOPs()); got != 2 {
		t.Fatalf("len(GOPs()) = %d, want 2 before remove", got)
	}

	if err := sb.Remove(0, 1); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if got := len(buf.GOPs()); got != 0 {
		t.Errorf("len(GOPs()) = %d, want 0 after removing [0,1)", got)
	}
	if len(host.removedCalls) != 1 {
		t.Fatalf("removedCalls = %v, want 1", host.removedCalls)
	}
	if host.removedCalls[0].start != 0 || host.removedCalls[0].end != 1 {
		t.Errorf("removedCalls[0] = %+v", host.removedCalls[0])
	}
}

func TestRemoveRejectsInvalidRange(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.SetDuration(10)
	sb := New(host, fakeSupport{}, "video/mp4", newTestLogger())

	if err := sb.Remove(5, 5); err == nil {
		t.Error("expected a type error when end <= start")
	}
	if err := sb.Remove(-1, 5); err == nil {
		t.Error("expected a type error for a negative start")
	}
}

func TestBufferedSingleTrackReportsOneRangeBeforeAndAfterEnd(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	sb := New(host, fakeSupport{}, "video/mp4", newTestLogger())
	if err := sb.AppendBuffer(buildVideoInitSegment(1, 90000, true)); err != nil {
		t.Fatalf("init AppendBuffer: %v", err)
	}
	host.SetDuration(10)

	seg := buildMediaSegment(1, 0, [][]byte{{0xAA}}, []bool{true})
	if err := sb.AppendBuffer(seg); err != nil {
		t.Fatalf("media AppendBuffer: %v", err)
	}

	ranges := sb.Buffered()
	if len(ranges) != 1 {
		t.Fatalf("Buffered() = %v, want a single range", ranges)
	}
	if ranges[0].Start != 0 {
		t.Errorf("ranges[0].Start = %v, want 0", ranges[0].Start)
	}

	host.mu.Lock()
	host.ended = true
	host.mu.Unlock()

	stretched := sb.Buffered()
	if len(stretched) != 1 {
		t.Fatalf("Buffered() after end = %v, want a single range", stretched)
	}
}

func TestAbortResetsParserAndClearsUpdating(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	sb := New(host, fakeSupport{}, "video/mp4", newTestLogger())
	sb.mu.Lock()
	sb.updating = true
	sb.mu.Unlock()

	sb.Abort()

	if sb.Updating() {
		t.Error("Updating() should be false after Abort")
	}
}

func TestDetachRejectsFurtherAppends(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	sb := New(host, fakeSupport{}, "video/mp4", newTestLogger())
	sb.Detach()

	if err := sb.AppendBuffer(buildVideoInitSegment(1, 90000, false)); err == nil {
		t.Fatal("expected a state error after Detach")
	}
}

func TestIsSupportedMimeType(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"video/mp4; codecs=\"avc1.640028\"": true,
		"audio/mp4; codecs=\"mp4a.40.2\"":   true,
		"video/webm":                        false,
		"text/vtt":                          false,
	}
	for mime, want := range cases {
		if got := IsSupportedMimeType(mime); got != want {
			t.Errorf("IsSupportedMimeType(%q) = %v, want %v", mime, got, want)
		}
	}
}
