package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{At: time.Date(2026, 5, 1, 10, 0, 0, 123000, time.UTC), ID: uuid.New()}
	out, err := ParseCursor(EncodeCursor(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !out.At.Equal(in.At) || out.ID != in.ID {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	for _, value := range []string{"%%%", "bm9waXBl", EncodeCursor(Cursor{})[:4]} {
		if _, err := ParseCursor(value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
	if c, err := ParseCursor("  "); err != nil || c != nil {
		t.Fatalf("blank cursor should be nil, got %v %v", c, err)
	}
}

func TestSplit(t *testing.T) {
	rows := []int{1, 2, 3}
	key := func(v int) Cursor { return Cursor{ID: uuid.NewSHA1(uuid.Nil, []byte{byte(v)})} }

	page, next := Split(rows, 2, key)
	if len(page) != 2 || next == nil || next.ID != key(3).ID {
		t.Fatalf("unexpected split %v %v", page, next)
	}
	page, next = Split(rows, 3, key)
	if len(page) != 3 || next != nil {
		t.Fatalf("last page should carry no cursor, got %v %v", page, next)
	}
}

func TestNormalizeLimit(t *testing.T) {
	if NormalizeLimit(0) != DefaultLimit || NormalizeLimit(1000) != MaxLimit || NormalizeLimit(7) != 7 {
		t.Fatal("unexpected normalization")
	}
}
