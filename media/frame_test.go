package media

import "testing"

func TestSampleTimestampConversion(t *testing.T) {
	t.Parallel()

	s := Sample{TimescaleHz: 30000, CTSTicks: 15000, DurationTicks: 1001}
	if got, want := s.TimestampUs(), int64(500_000); got != want {
		t.Errorf("TimestampUs() = %d, want %d", got, want)
	}
	// 1e6 * 1001 / 30000 = 33366.66.. -> rounds to 33367
	if got, want := s.DurationUs(), int64(33367); got != want {
		t.Errorf("DurationUs() = %d, want %d", got, want)
	}
}

func TestCodedFrameContains(t *testing.T) {
	t.Parallel()

	f := CodedFrame{TimestampUs: 1_000_000, DurationUs: 500_000}
	cases := []struct {
		tUs  int64
		want bool
	}{
		{999_999, false},
		{1_000_000, true},
		{1_499_999, true},
		{1_500_000, false},
	}
	for _, c := range cases {
		if got := f.Contains(c.tUs); got != c.want {
			t.Errorf("Contains(%d) = %v, want %v", c.tUs, got, c.want)
		}
	}
}

func TestGOPAppendGrowsEnd(t *testing.T) {
	t.Parallel()

	key := CodedFrame{TimestampUs: 0, DurationUs: 200_000, Kind: Key}
	g := NewGOP(key, VideoConfig{Codec: "avc1.640028"})
	if g.StartUs != 0 || g.EndUs != 200_000 {
		t.Fatalf("unexpected initial GOP bounds: start=%d end=%d", g.StartUs, g.EndUs)
	}

	g.Append(CodedFrame{TimestampUs: 200_000, DurationUs: 200_000, Kind: Delta})
	if g.EndUs != 400_000 {
		t.Errorf("EndUs after append = %d, want 400000", g.EndUs)
	}
	if len(g.Frames) != 2 {
		t.Errorf("len(Frames) = %d, want 2", len(g.Frames))
	}
}

func TestGOPFindFrame(t *testing.T) {
	t.Parallel()

	key := CodedFrame{TimestampUs: 0, DurationUs: 200_000, Kind: Key}
	g := NewGOP(key, VideoConfig{})
	g.Append(CodedFrame{TimestampUs: 200_000, DurationUs: 200_000, Kind: Delta})

	if idx := g.FindFrame(250_000); idx != 1 {
		t.Errorf("FindFrame(250000) = %d, want 1", idx)
	}
	if idx := g.FindFrame(999_000); idx != -1 {
		t.Errorf("FindFrame(999000) = %d, want -1", idx)
	}
}
