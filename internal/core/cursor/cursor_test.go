package cursor

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCursor_ModeDiscipline(t *testing.T) {
	c := New(8)

	if _, err := c.Get(1); !errors.Is(err, ErrWrongMode) {
		t.Errorf("Get() in accumulate mode want = %v, got = %v", ErrWrongMode, err)
	}
	if err := c.Compact(); !errors.Is(err, ErrWrongMode) {
		t.Errorf("Compact() in accumulate mode want = %v, got = %v", ErrWrongMode, err)
	}
	if err := c.Flip(); err != nil {
		t.Fatalf("Flip() returned an unexpected error: %v", err)
	}
	if err := c.Flip(); !errors.Is(err, ErrWrongMode) {
		t.Errorf("second Flip() want = %v, got = %v", ErrWrongMode, err)
	}
	if err := c.Put([]byte{1}); !errors.Is(err, ErrWrongMode) {
		t.Errorf("Put() in drain mode want = %v, got = %v", ErrWrongMode, err)
	}
	if got := c.GetAll(); len(got) != 0 {
		t.Errorf("GetAll() on empty cursor want = [], got = %v", got)
	}
}

func TestCursor_Overflow(t *testing.T) {
	c := New(6)
	if err := c.PutInt32(7); err != nil {
		t.Fatalf("PutInt32() returned an unexpected error: %v", err)
	}
	if err := c.PutInt32(8); !errors.Is(err, ErrOverflow) {
		t.Errorf("PutInt32() past capacity want = %v, got = %v", ErrOverflow, err)
	}
	if err := c.Put([]byte{1, 2, 3}); !errors.Is(err, ErrOverflow) {
		t.Errorf("Put() past capacity want = %v, got = %v", ErrOverflow, err)
	}
	// A failed put must not write anything.
	if c.Len() != 4 {
		t.Errorf("Len() want = 4, got = %d", c.Len())
	}

	if err := c.Flip(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetInt64(); !errors.Is(err, ErrOverflow) {
		t.Errorf("GetInt64() with 4 bytes want = %v, got = %v", ErrOverflow, err)
	}
	v, err := c.GetInt32()
	if err != nil || v != 7 {
		t.Errorf("GetInt32() want = 7, got = %d (%v)", v, err)
	}
}

func TestCursor_CompactPreservesTail(t *testing.T) {
	c := New(8)
	_ = c.Put([]byte("abcdef"))
	_ = c.Flip()
	if _, err := c.Get(4); err != nil {
		t.Fatal(err)
	}
	if err := c.Compact(); err != nil {
		t.Fatal(err)
	}
	if c.Mode() != Accumulate || c.Len() != 2 || c.Remaining() != 6 {
		t.Fatalf("after Compact() mode=%v len=%d remaining=%d", c.Mode(), c.Len(), c.Remaining())
	}
	_ = c.Put([]byte("gh"))
	_ = c.Flip()
	if diff := cmp.Diff([]byte("efgh"), c.GetAll()); diff != "" {
		t.Errorf("unread bytes did not match expected; diff:\n%s", diff)
	}
}

func TestCursor_Clear(t *testing.T) {
	c := New(4)
	_ = c.Put([]byte{1, 2})
	_ = c.Flip()
	c.Clear()
	if c.Mode() != Accumulate || c.Len() != 0 || c.Remaining() != 4 {
		t.Errorf("after Clear() mode=%v len=%d remaining=%d", c.Mode(), c.Len(), c.Remaining())
	}
}

// Any sequence of puts and drains that respects the mode discipline must hand
// back exactly the bytes that were put, in order.
func TestCursor_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := New(37)

	var written, read bytes.Buffer
	for i := 0; i < 2000; i++ {
		if n := rng.Intn(c.Remaining() + 1); n > 0 {
			chunk := make([]byte, n)
			rng.Read(chunk)
			if err := c.Put(chunk); err != nil {
				t.Fatalf("Put(%d) with %d remaining: %v", n, c.Remaining(), err)
			}
			written.Write(chunk)
		}

		_ = c.Flip()
		b, err := c.Get(rng.Intn(c.Remaining() + 1))
		if err != nil {
			t.Fatal(err)
		}
		read.Write(b)
		_ = c.Compact()
	}
	_ = c.Flip()
	read.Write(c.GetAll())

	if diff := cmp.Diff(written.Bytes(), read.Bytes()); diff != "" {
		t.Errorf("bytes read did not match bytes written; diff:\n%s", diff)
	}
}

func TestCursor_ReadFromWriteTo(t *testing.T) {
	c := New(8)
	src := bytes.NewReader([]byte("0123456789"))

	n, err := c.ReadFrom(src.Read)
	if err != nil || n != 8 {
		t.Fatalf("ReadFrom() want = 8, got = %d (%v)", n, err)
	}
	if n, _ := c.ReadFrom(src.Read); n != 0 {
		t.Errorf("ReadFrom() on a full cursor want = 0, got = %d", n)
	}

	// A writer that only accepts three bytes at a time.
	var out bytes.Buffer
	short := func(p []byte) (int, error) {
		if len(p) > 3 {
			p = p[:3]
		}
		return out.Write(p)
	}

	_ = c.Flip()
	if n, _ := c.WriteTo(short); n != 3 {
		t.Errorf("WriteTo() want = 3, got = %d", n)
	}
	_ = c.Compact()
	_ = c.Flip()
	for c.Remaining() > 0 {
		if _, err := c.WriteTo(short); err != nil {
			t.Fatal(err)
		}
	}
	if got := out.String(); got != "01234567" {
		t.Errorf("WriteTo() output want = 01234567, got = %s", got)
	}
}
