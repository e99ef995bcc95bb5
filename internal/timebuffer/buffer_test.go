package timebuffer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestBufferMeanEmpty(t *testing.T) {
	t.Parallel()
	b := New(10, time.Minute)
	if !b.Mean().IsZero() {
		t.Errorf("Mean() on empty buffer = %v, want 0", b.Mean())
	}
}

func TestBufferMeanAfterPush(t *testing.T) {
	t.Parallel()
	b := New(10, time.Minute)
	base := time.Now()
	b.Push(d("10"), base)
	b.Push(d("20"), base.Add(time.Second))
	b.Push(d("30"), base.Add(2*time.Second))

	want := d("20")
	if !b.Mean().Equal(want) {
		t.Errorf("Mean() = %v, want %v", b.Mean(), want)
	}
}

func TestBufferCapacityEviction(t *testing.T) {
	t.Parallel()
	b := New(2, time.Hour)
	base := time.Now()
	b.Push(d("1"), base)
	b.Push(d("2"), base.Add(time.Second))
	b.Push(d("3"), base.Add(2*time.Second)) // evicts "1"

	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	want := d("2.5")
	if !b.Mean().Equal(want) {
		t.Errorf("Mean() = %v, want %v", b.Mean(), want)
	}
}

func TestBufferAgeEviction(t *testing.T) {
	t.Parallel()
	b := New(100, 10*time.Second)
	base := time.Now()
	b.Push(d("1"), base)
	b.Push(d("2"), base.Add(5*time.Second))
	// pushing far enough forward evicts the first sample by age
	b.Push(d("3"), base.Add(20*time.Second))

	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after age eviction", b.Len())
	}
	if !b.Mean().Equal(d("3")) {
		t.Errorf("Mean() = %v, want 3", b.Mean())
	}
}

func TestBufferOutOfOrderPushTolerated(t *testing.T) {
	t.Parallel()
	b := New(10, time.Minute)
	base := time.Now()
	b.Push(d("10"), base.Add(time.Second))
	b.Push(d("20"), base) // older timestamp, still appended
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
}

func TestRingRangeNotFull(t *testing.T) {
	t.Parallel()
	r := NewRing(14)
	r.Push(d("5"))
	r.Push(d("8"))
	if !r.Range().IsZero() {
		t.Errorf("Range() before full = %v, want 0", r.Range())
	}
	if r.Full() {
		t.Error("Full() = true, want false")
	}
}

func TestRingRangeOnceFull(t *testing.T) {
	t.Parallel()
	r := NewRing(3)
	r.Push(d("5"))
	r.Push(d("8"))
	r.Push(d("1"))
	if !r.Full() {
		t.Fatal("Full() = false, want true")
	}
	want := d("7") // 8 - 1
	if !r.Range().Equal(want) {
		t.Errorf("Range() = %v, want %v", r.Range(), want)
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	t.Parallel()
	r := NewRing(3)
	r.Push(d("5"))
	r.Push(d("8"))
	r.Push(d("1"))
	r.Push(d("100")) // overwrites the "5"
	want := d("99")   // 100 - 1
	if !r.Range().Equal(want) {
		t.Errorf("Range() = %v, want %v", r.Range(), want)
	}
}
