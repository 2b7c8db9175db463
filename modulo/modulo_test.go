package modulo_test

import (
	"testing"

	"github.com/m-lab/rttcp/modulo"
)

func TestWrap(t *testing.T) {
	a := modulo.New(modulo.TCPSeqMax)
	max := modulo.TCPSeqMax
	cases := []struct {
		in, want int64
	}{
		{0, 0},
		{90000, 90000},
		{max + 1, 0},
		{max + 1 + 90000, 90000},
		{-1, max},
		{-2, max - 1},
		{2 * (max + 1), 0},
		{3*(max+1) + 1, 1},
		{-(max + 1), 0},
		{-2 * (max + 1), 0},
		{-3*(max+1) + 1, 1},
	}
	for _, c := range cases {
		if got := a.Wrap(c.in); got != c.want {
			t.Errorf("Wrap(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestCmp(t *testing.T) {
	a := modulo.New(modulo.TCPSeqMax)
	max := modulo.TCPSeqMax
	cases := []struct {
		x, y int64
		want int
	}{
		{0, 0, 0},
		{0, max + 1, 0},
		{90000, max + 1 + 90000, 0},
		{0, 1, -1},
		{1, 0, 1},
		{max, 0, -1},
		{0, max, 1},
		{0, (max + 1) >> 1, -1},
		{0, ((max + 1) >> 1) + 1, 1},
	}
	for _, c := range cases {
		if got := a.Cmp(c.x, c.y); got != c.want {
			t.Errorf("Cmp(%d, %d) = %d, want %d", c.x, c.y, got, c.want)
		}
	}
}

func TestCmpIsAntisymmetric(t *testing.T) {
	a := modulo.New(modulo.TCPSeqMax)
	vals := []int64{0, 1, 1000, modulo.TCPSeqMax, modulo.TCPSeqMax - 1, 4294967200, 100}
	for _, x := range vals {
		for _, y := range vals {
			if a.Cmp(x, y) != -a.Cmp(y, x) {
				t.Errorf("Cmp(%d,%d)=%d, -Cmp(%d,%d)=%d", x, y, a.Cmp(x, y), y, x, -a.Cmp(y, x))
			}
			if x == y && a.Cmp(x, y) != 0 {
				t.Errorf("Cmp(%d,%d) = %d, want 0", x, y, a.Cmp(x, y))
			}
		}
	}
}

func TestRangeOverlap(t *testing.T) {
	a := modulo.New(modulo.TCPSeqMax)
	cases := []struct {
		x1, x2, y1, y2 int64
		want           bool
	}{
		{1000, 2000, 1000, 2000, true},
		{1000, 2000, 1500, 2500, true},
		{1000, 2000, 2001, 3000, false},
		{1000, 2000, 0, 999, false},
	}
	for _, c := range cases {
		if got := a.RangeOverlap(c.x1, c.x2, c.y1, c.y2); got != c.want {
			t.Errorf("RangeOverlap(%d,%d,%d,%d) = %v, want %v", c.x1, c.x2, c.y1, c.y2, got, c.want)
		}
	}
}

func TestMax(t *testing.T) {
	a := modulo.New(modulo.TCPSeqMax)
	if got := a.Max(modulo.Invalid, 5); got != 5 {
		t.Errorf("Max(Invalid, 5) = %d, want 5", got)
	}
	if got := a.Max(5, modulo.Invalid); got != 5 {
		t.Errorf("Max(5, Invalid) = %d, want 5", got)
	}
	if got := a.Max(10, 20); got != 20 {
		t.Errorf("Max(10, 20) = %d, want 20", got)
	}
}

func TestMapIntoSameTimeline(t *testing.T) {
	a := modulo.New(modulo.TCPSeqMax)
	max := modulo.TCPSeqMax
	ref := int64(1000)
	// wrap(ref+h) and wrap(ref-h) coincide for h = (max+1)/2, so only the
	// positive half-range distance maps back exactly; the negative side is
	// checked one short of it.
	for _, d := range []int64{0, 1, -1, 1000, -1000, (max + 1) >> 1, -((max + 1) >> 1) + 1} {
		x := a.Wrap(ref + d)
		got := a.MapIntoSameTimeline(x, ref)
		if got != ref+d {
			t.Errorf("MapIntoSameTimeline(wrap(%d+%d), %d) = %d, want %d", ref, d, ref, got, ref+d)
		}
	}
}

func TestInvalidPropagates(t *testing.T) {
	a := modulo.New(modulo.TCPSeqMax)
	if got := a.Add(modulo.Invalid, 5); got != modulo.Invalid {
		t.Errorf("Add(Invalid, 5) = %d, want Invalid", got)
	}
	if got := a.Diff(5, modulo.Invalid); got != modulo.Invalid {
		t.Errorf("Diff(5, Invalid) = %d, want Invalid", got)
	}
	if got := a.Sub(modulo.Invalid, modulo.Invalid); got != modulo.Invalid {
		t.Errorf("Sub(Invalid, Invalid) = %d, want Invalid", got)
	}
}

func TestWrapSafeGoodput(t *testing.T) {
	a := modulo.New(modulo.TCPSeqMax)
	// seq_first=4294967200, seq_last=100, wrapped across the 32-bit boundary.
	got := a.Diff(100, 4294967200)
	if got != 196 {
		t.Errorf("Diff(100, 4294967200) = %d, want 196", got)
	}
}
