package raknet

import (
	"bytes"
	"errors"
	"testing"
)

func TestReassemblerOrders(t *testing.T) {
	parts := [][]byte{[]byte("ab"), []byte("cd"), []byte("e")}
	for _, order := range [][]uint32{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}} {
		r := newReassembler(8, 4)
		for i, ix := range order {
			if err := r.Append(7, 3, ix, parts[ix]); err != nil {
				t.Fatal(err)
			}
			p, ok := r.Pop(7)
			if i < len(order)-1 {
				if ok {
					t.Fatalf("order %v: popped after %d fragments", order, i+1)
				}
				continue
			}
			if !ok || string(p) != "abcde" {
				t.Fatalf("order %v: Pop = %q, %v", order, p, ok)
			}
		}
		if r.Len() != 0 {
			t.Fatalf("order %v: %d buffers left", order, r.Len())
		}
	}
}

func TestReassemblerDuplicate(t *testing.T) {
	r := newReassembler(8, 4)
	r.Append(1, 2, 0, []byte("x"))
	r.Append(1, 2, 0, []byte("y"))
	if _, ok := r.Pop(1); ok {
		t.Fatal("duplicate fragment completed the message")
	}
	r.Append(1, 2, 1, []byte("z"))
	p, ok := r.Pop(1)
	if !ok || !bytes.Equal(p, []byte("yz")) {
		t.Fatalf("Pop = %q, %v", p, ok)
	}
}

func TestReassemblerLimits(t *testing.T) {
	r := newReassembler(4, 1)
	cases := []struct {
		id           uint16
		count, index uint32
	}{
		{0, 0, 0},
		{0, 2, 2},
		{0, 5, 0},
	}
	for _, c := range cases {
		if err := r.Append(c.id, c.count, c.index, nil); !errors.Is(err, ErrSplitLimit) {
			t.Fatalf("Append(%d, %d, %d) = %v", c.id, c.count, c.index, err)
		}
	}
	if err := r.Append(0, 2, 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Append(1, 2, 0, nil); !errors.Is(err, errSplitBusy) || errors.Is(err, ErrSplitLimit) {
		t.Fatalf("second split in flight: %v", err)
	}
	if err := r.Check(0, 2, 1); err != nil {
		t.Fatalf("open split refused: %v", err)
	}
	if err := r.Append(0, 3, 1, nil); !errors.Is(err, ErrSplitLimit) {
		t.Fatalf("changed count: %v", err)
	}
}

func TestReassemblerCheckLeavesNoState(t *testing.T) {
	r := newReassembler(4, 1)
	if err := r.Check(3, 2, 0); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 0 {
		t.Fatalf("Check opened %d buffers", r.Len())
	}
	r.Append(3, 2, 0, []byte("a"))
	r.Append(3, 2, 1, []byte("b"))
	if _, ok := r.Pop(3); !ok {
		t.Fatal("message incomplete")
	}
	if err := r.Check(4, 2, 0); err != nil {
		t.Fatalf("buffer not released after Pop: %v", err)
	}
}
