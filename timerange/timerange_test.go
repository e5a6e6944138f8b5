package timerange

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestUnionMerge(t *testing.T) {
	t.Parallel()

	a := Ranges{{Start: 0, End: 2}}
	b := Ranges{{Start: 2.01, End: 4}}

	got := a.Union(b, 1.0/60.0)
	want := Ranges{{Start: 0, End: 4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Union() mismatch (-want +got):\n%s", diff)
	}
}

func TestUnionNoMergeBeyondTolerance(t *testing.T) {
	t.Parallel()

	a := Ranges{{Start: 0, End: 2}}
	b := Ranges{{Start: 3, End: 4}}

	got := a.Union(b, 1.0/60.0)
	want := Ranges{{Start: 0, End: 2}, {Start: 3, End: 4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Union() mismatch (-want +got):\n%s", diff)
	}
}

func TestUnionIsAssociative(t *testing.T) {
	t.Parallel()

	a := Ranges{{Start: 0, End: 1}}
	b := Ranges{{Start: 1, End: 2}}
	c := Ranges{{Start: 2, End: 3}}

	left := a.Union(b, 0).Union(c, 0)
	right := a.Union(b.Union(c, 0), 0)
	if diff := cmp.Diff(left, right); diff != "" {
		t.Errorf("Union() not associative (-left +right):\n%s", diff)
	}
}

func TestIntersect(t *testing.T) {
	t.Parallel()

	a := Ranges{{Start: 0, End: 4}, {Start: 6, End: 10}}
	b := Ranges{{Start: 2, End: 8}}

	got := a.Intersect(b)
	want := Ranges{{Start: 2, End: 4}, {Start: 6, End: 8}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Intersect() mismatch (-want +got):\n%s", diff)
	}
}

func TestIntersectSelfIsIdentity(t *testing.T) {
	t.Parallel()

	a := Ranges{{Start: 0, End: 4}, {Start: 6, End: 10}}
	got := a.Intersect(a)
	if diff := cmp.Diff(a, got); diff != "" {
		t.Errorf("Intersect(a,a) != a (-want +got):\n%s", diff)
	}
}

func TestSubtractSelfIsEmpty(t *testing.T) {
	t.Parallel()

	a := Ranges{{Start: 0, End: 4}}
	got := a.Subtract(a)
	if !got.IsEmpty() {
		t.Errorf("Subtract(a,a) = %v, want empty", got)
	}
}

func TestSubtract(t *testing.T) {
	t.Parallel()

	a := Ranges{{Start: 0, End: 10}}
	b := Ranges{{Start: 3, End: 5}}

	got := a.Subtract(b)
	want := Ranges{{Start: 0, End: 3}, {Start: 5, End: 10}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Subtract() mismatch (-want +got):\n%s", diff)
	}
}

func TestInvertInvertRoundTrips(t *testing.T) {
	t.Parallel()

	a := Ranges{{Start: 0, End: 4}, {Start: 6, End: 10}}
	got := a.Invert().Invert()
	if diff := cmp.Diff(a, got); diff != "" {
		t.Errorf("Invert(Invert(a)) != a (-want +got):\n%s", diff)
	}
}

func TestFind(t *testing.T) {
	t.Parallel()

	a := Ranges{{Start: 0, End: 4}, {Start: 6, End: 10}}

	if rg, ok := a.Find(2); !ok || rg != (Range{Start: 0, End: 4}) {
		t.Errorf("Find(2) = %v, %v", rg, ok)
	}
	if _, ok := a.Find(5); ok {
		t.Error("Find(5) should miss the gap")
	}
	if _, ok := a.Find(10); ok {
		t.Error("Find(10) should miss: End is exclusive")
	}
}

func TestContainsRange(t *testing.T) {
	t.Parallel()

	a := Ranges{{Start: 0, End: 10}}
	if !a.ContainsRange(2, 5) {
		t.Error("ContainsRange(2,5) should be true")
	}
	if a.ContainsRange(5, 15) {
		t.Error("ContainsRange(5,15) should be false")
	}
}

func TestWithLastStretchedTo(t *testing.T) {
	t.Parallel()

	a := Ranges{{Start: 0, End: 4}, {Start: 6, End: 10}}
	got := a.WithLastStretchedTo(20)
	want := Ranges{{Start: 0, End: 4}, {Start: 6, End: 20}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("WithLastStretchedTo() mismatch (-want +got):\n%s", diff)
	}

	// Stretching below the current end is a no-op.
	got2 := a.WithLastStretchedTo(8)
	if diff := cmp.Diff(a, got2); diff != "" {
		t.Errorf("WithLastStretchedTo() should not shrink (-want +got):\n%s", diff)
	}
}

func TestHighestEnd(t *testing.T) {
	t.Parallel()

	a := Ranges{{Start: 0, End: 4}, {Start: 6, End: 10}}
	if got := a.HighestEnd(); got != 10 {
		t.Errorf("HighestEnd() = %v, want 10", got)
	}
	if got := Ranges(nil).HighestEnd(); got != 0 {
		t.Errorf("HighestEnd() on empty = %v, want 0", got)
	}
}
