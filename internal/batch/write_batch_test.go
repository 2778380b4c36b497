package batch

import (
	"bytes"
	"errors"
	"testing"
)

type op struct {
	del   bool
	key   string
	value string
}

type recorder struct {
	ops []op
}

func (r *recorder) Put(key, value []byte) error {
	r.ops = append(r.ops, op{key: string(key), value: string(value)})
	return nil
}

func (r *recorder) Delete(key []byte) error {
	r.ops = append(r.ops, op{del: true, key: string(key)})
	return nil
}

func TestWriteBatchRecords(t *testing.T) {
	wb := New()
	wb.Put([]byte("a"), []byte("1"))
	wb.Delete([]byte("b"))
	wb.Put([]byte(""), []byte(""))
	wb.SetSequence(100)

	if wb.Count() != 3 {
		t.Fatalf("Count = %d, want 3", wb.Count())
	}
	if wb.Sequence() != 100 || wb.LastSequence() != 102 {
		t.Fatalf("Sequence = %d..%d", wb.Sequence(), wb.LastSequence())
	}

	rec := &recorder{}
	if err := wb.Iterate(rec); err != nil {
		t.Fatalf("Iterate error = %v", err)
	}
	want := []op{{key: "a", value: "1"}, {del: true, key: "b"}, {key: "", value: ""}}
	if len(rec.ops) != len(want) {
		t.Fatalf("ops = %+v", rec.ops)
	}
	for i := range want {
		if rec.ops[i] != want[i] {
			t.Errorf("op %d = %+v, want %+v", i, rec.ops[i], want[i])
		}
	}
}

func TestWriteBatchFromData(t *testing.T) {
	wb := New()
	wb.Put([]byte("k"), []byte("v"))
	wb.SetSequence(7)

	copyOf := append([]byte(nil), wb.Data()...)
	decoded, err := NewFromData(copyOf)
	if err != nil {
		t.Fatalf("NewFromData error = %v", err)
	}
	if decoded.Sequence() != 7 || decoded.Count() != 1 {
		t.Fatalf("decoded header = %d/%d", decoded.Sequence(), decoded.Count())
	}
	if _, err := NewFromData([]byte{1, 2, 3}); !errors.Is(err, ErrTooSmall) {
		t.Fatalf("short data error = %v", err)
	}
}

func TestWriteBatchClearAndAppend(t *testing.T) {
	a := New()
	a.Put([]byte("x"), []byte("1"))
	b := New()
	b.Delete([]byte("y"))
	b.Put([]byte("z"), []byte("2"))

	a.Append(b)
	if a.Count() != 3 {
		t.Fatalf("Count after Append = %d", a.Count())
	}
	rec := &recorder{}
	if err := a.Iterate(rec); err != nil || len(rec.ops) != 3 || rec.ops[2].key != "z" {
		t.Fatalf("Iterate = %+v, %v", rec.ops, err)
	}

	a.SetSequence(9)
	a.Clear()
	if a.Count() != 0 || a.Sequence() != 0 || a.Size() != HeaderSize {
		t.Fatalf("after Clear: count=%d seq=%d size=%d", a.Count(), a.Sequence(), a.Size())
	}
}

func TestWriteBatchCorruption(t *testing.T) {
	good := New()
	good.Put([]byte("key"), []byte("value"))
	data := good.Data()

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated value", data[:len(data)-2]},
		{"bad tag", append(append([]byte(nil), data[:HeaderSize]...), 0x7f, 0x00)},
		{"count mismatch", func() []byte {
			d := append([]byte(nil), data...)
			d[8] = 2
			return d
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb, err := NewFromData(tt.data)
			if err != nil {
				t.Fatalf("NewFromData error = %v", err)
			}
			if err := wb.Iterate(&recorder{}); !errors.Is(err, ErrCorrupted) {
				t.Fatalf("Iterate error = %v, want ErrCorrupted", err)
			}
		})
	}
}

type failingHandler struct{ recorder }

var errStop = errors.New("stop")

func (f *failingHandler) Delete([]byte) error { return errStop }

func TestWriteBatchHandlerErrorStops(t *testing.T) {
	wb := New()
	wb.Put([]byte("a"), nil)
	wb.Delete([]byte("b"))
	wb.Put([]byte("c"), nil)

	h := &failingHandler{}
	if err := wb.Iterate(h); !errors.Is(err, errStop) {
		t.Fatalf("Iterate error = %v", err)
	}
	if len(h.ops) != 1 {
		t.Fatalf("handler saw %d puts after stop", len(h.ops))
	}
}

// =============================================================================
// Pool
// =============================================================================

func TestWriteBatchPoolReuse(t *testing.T) {
	p := NewWriteBatchPool()
	wb := p.Get()
	wb.Put([]byte("k"), bytes.Repeat([]byte("v"), 100))
	p.Put(wb)

	again := p.Get()
	if again.Count() != 0 || again.Size() != HeaderSize {
		t.Fatalf("pooled batch not cleared: count=%d size=%d", again.Count(), again.Size())
	}
	s := p.Stats()
	if s.Gets != 2 || s.Puts != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if s.HitRate() < 0 || s.HitRate() > 1 {
		t.Fatalf("HitRate = %v", s.HitRate())
	}
}

func TestWriteBatchPoolDiscardsLarge(t *testing.T) {
	p := NewWriteBatchPool()
	wb := p.Get()
	wb.Put([]byte("big"), make([]byte, DefaultMaxBatchSize+1))
	p.Put(wb)
	p.Put(nil)
	if s := p.Stats(); s.Discarded != 1 || s.Puts != 1 {
		t.Fatalf("stats = %+v", s)
	}
}
