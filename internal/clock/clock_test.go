package clock

import (
	"testing"
	"time"
)

func TestFromAndBack(t *testing.T) {
	in := []struct {
		y, mo, d, h, mi, s int
	}{
		{2024, 1, 15, 9, 30, 0},
		{2024, 12, 31, 23, 59, 59},
		{2000, 2, 29, 0, 0, 0},
	}
	for _, c := range in {
		orig := time.Date(c.y, time.Month(c.mo), c.d, c.h, c.mi, c.s, 0, time.UTC)
		tp := From(orig)
		back := tp.ToTime()
		if !back.Equal(orig) {
			t.Fatalf("round trip mismatch: got %v, want %v", back, orig)
		}
	}
}

func TestBeforeOrdering(t *testing.T) {
	a := Time{DatePart: 100, IntradayPart: 500}
	b := Time{DatePart: 100, IntradayPart: 600}
	c := Time{DatePart: 101, IntradayPart: 0}

	if !a.Before(b) {
		t.Fatal("a should sort before b (same date, earlier intraday)")
	}
	if !b.Before(c) {
		t.Fatal("b should sort before c (earlier date)")
	}
	if a.Before(a) {
		t.Fatal("a should not sort before itself")
	}
}

func TestNeverExpiresSortsLast(t *testing.T) {
	soon := Time{DatePart: 100, IntradayPart: 0}
	never := NeverExpires()
	if !soon.Before(never) {
		t.Fatal("a bounded expiration should sort before NeverExpires")
	}
}

func TestAllocatorMonotonic(t *testing.T) {
	a := NewAllocator(0)
	first := a.Next()
	second := a.Next()
	if second <= first {
		t.Fatalf("allocator must be strictly increasing: %d then %d", first, second)
	}
}

func TestAllocatorRestore(t *testing.T) {
	a := NewAllocator(0)
	a.Next()
	a.Restore(500)
	if got := a.Next(); got != 501 {
		t.Fatalf("Next() after Restore(500) = %d, want 501", got)
	}
	// Restore to a lower value must not rewind.
	a.Restore(10)
	if got := a.Current(); got != 501 {
		t.Fatalf("Restore should never rewind, current = %d", got)
	}
}
