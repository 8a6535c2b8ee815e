package model

import "testing"

func TestCachedResult_StartsWithZeroRefcount(t *testing.T) {
	c := NewCachedResult(1, []string{"a"}, []uint32{23}, [][][]byte{{[]byte("1")}}, [][]bool{{false}}, nil)
	if c.RefCount() != 0 {
		t.Fatalf("want refcount 0 on a freshly built entry, got %d", c.RefCount())
	}
}

func TestCachedResult_RetainReleaseCallsOnRelease(t *testing.T) {
	released := false
	c := NewCachedResult(1, nil, nil, [][][]byte{{}}, [][]bool{{}}, func(*CachedResult) { released = true })

	c.Retain()
	c.Retain()
	if c.RefCount() != 2 {
		t.Fatalf("want refcount 2, got %d", c.RefCount())
	}

	c.Release()
	if released {
		t.Fatalf("onRelease should not fire while a borrower remains")
	}
	c.Release()
	if !released {
		t.Fatalf("onRelease should fire once the last borrower releases")
	}
}

func TestCachedResult_RowCountAndByteSize(t *testing.T) {
	rows := [][][]byte{
		{[]byte("ab"), []byte("cde")},
		{[]byte("x"), nil},
	}
	nulls := [][]bool{{false, false}, {false, true}}
	c := NewCachedResult(1, []string{"a", "b"}, []uint32{23, 25}, rows, nulls, nil)

	if c.RowCount() != 2 {
		t.Fatalf("want 2 rows, got %d", c.RowCount())
	}
	if c.ByteSize() != 2+3+1 {
		t.Fatalf("want byte size 6, got %d", c.ByteSize())
	}
}

func TestCachedResult_HitCount(t *testing.T) {
	c := NewCachedResult(1, nil, nil, nil, nil, nil)
	if c.HitCount() != 0 {
		t.Fatalf("want 0 hits initially")
	}
	c.Hit()
	c.Hit()
	if c.HitCount() != 2 {
		t.Fatalf("want 2 hits, got %d", c.HitCount())
	}
}
