package raknet

import (
	"fmt"
	"testing"
)

func TestSorter(t *testing.T) {
	str := newSorter[int](orderingWindow)

	out, ok := str.TryAdd(2, 2)
	if !ok || len(out) != 0 {
		t.Fatalf("TryAdd(2) = %v, %v", out, ok)
	}
	if _, ok := str.TryAdd(2, 2); ok {
		t.Fatal("TryAdd(2) twice")
	}
	out, ok = str.TryAdd(0, 0)
	if !ok || fmt.Sprint(out) != "[0]" {
		t.Fatalf("TryAdd(0) = %v, %v", out, ok)
	}
	out, ok = str.TryAdd(1, 1)
	if !ok || fmt.Sprint(out) != "[1 2]" {
		t.Fatalf("TryAdd(1) = %v, %v", out, ok)
	}
	if _, ok := str.TryAdd(1, 1); ok {
		t.Fatal("stale index accepted")
	}
	if str.Next() != 3 || str.Held() != 0 {
		t.Fatalf("next %d held %d", str.Next(), str.Held())
	}
	if !str.Has(0) || !str.Has(2) || str.Has(3) {
		t.Fatal("Has")
	}
}

func TestSorterWindow(t *testing.T) {
	str := newSorter[int](4)
	if _, ok := str.TryAdd(4, 4); ok {
		t.Fatal("index outside window accepted")
	}
	if _, ok := str.TryAdd(3, 3); !ok {
		t.Fatal("index inside window refused")
	}
	if _, ok := str.TryAdd(seqMask, 0); ok {
		t.Fatal("index behind next accepted")
	}
	if !str.Fits(3) || str.Fits(4) || !str.Fits(seqMask) {
		t.Fatal("Fits disagrees with TryAdd")
	}
	str.TryAdd(0, 0)
	if !str.Fits(4) || str.Fits(5) {
		t.Fatal("Fits did not follow next")
	}
}

func TestSorterWrap(t *testing.T) {
	str := newSorter[uint32](orderingWindow)
	str.next = seqMask - 1

	var got []uint32
	for _, ix := range []uint32{0, seqMask, 1, seqMask - 1} {
		out, ok := str.TryAdd(ix, ix)
		if !ok {
			t.Fatalf("TryAdd(%d) refused", ix)
		}
		got = append(got, out...)
	}
	if fmt.Sprint(got) != fmt.Sprint([]uint32{seqMask - 1, seqMask, 0, 1}) {
		t.Fatalf("got %v", got)
	}
	if str.Next() != 2 {
		t.Fatalf("next %d", str.Next())
	}
}

func TestSeq(t *testing.T) {
	if seqInc(seqMask) != 0 {
		t.Fatal("seqInc does not wrap")
	}
	if seqDist(seqMask, 1) != 2 {
		t.Fatalf("seqDist = %d", seqDist(seqMask, 1))
	}
	if !seqBefore(seqMask, 0) || seqBefore(0, seqMask) {
		t.Fatal("seqBefore across wrap")
	}
	if seqBefore(5, 5) {
		t.Fatal("seqBefore of equal")
	}
}
