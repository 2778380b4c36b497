package compression

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

var allTypes = []Type{NoCompression, SnappyCompression, ZlibCompression, LZ4Compression, LZ4HCCompression, ZstdCompression}

func checkpointLike() []byte {
	var buf bytes.Buffer
	for i := 0; i < 2000; i++ {
		buf.WriteString("user-key-")
		buf.WriteByte(byte('a' + i%26))
		buf.WriteString("value-payload-0123456789")
	}
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	random := make([]byte, 4096)
	rng.Read(random)

	inputs := map[string][]byte{
		"empty":      {},
		"small":      []byte("x"),
		"repetitive": checkpointLike(),
		"random":     random,
	}
	for _, typ := range allTypes {
		for name, in := range inputs {
			t.Run(typ.String()+"/"+name, func(t *testing.T) {
				comp, err := Compress(typ, in)
				if err != nil {
					t.Fatalf("Compress error = %v", err)
				}
				out, err := Decompress(typ, comp)
				if err != nil {
					t.Fatalf("Decompress error = %v", err)
				}
				if !bytes.Equal(out, in) {
					t.Fatalf("round trip mismatch: got %d bytes, want %d", len(out), len(in))
				}
			})
		}
	}
}

func TestCompressesRepetitiveData(t *testing.T) {
	in := checkpointLike()
	for _, typ := range allTypes[1:] {
		comp, err := Compress(typ, in)
		if err != nil {
			t.Fatalf("%v: Compress error = %v", typ, err)
		}
		if len(comp) >= len(in) {
			t.Errorf("%v: %d bytes did not shrink (%d)", typ, len(in), len(comp))
		}
	}
}

func TestParse(t *testing.T) {
	for _, typ := range allTypes {
		got, err := Parse(typ.String())
		if err != nil || got != typ {
			t.Errorf("Parse(%q) = %v, %v", typ.String(), got, err)
		}
	}
	if got, err := Parse("ZSTD"); err != nil || got != ZstdCompression {
		t.Errorf("Parse(ZSTD) = %v, %v", got, err)
	}
	if _, err := Parse("brotli"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Parse(brotli) error = %v", err)
	}
}

func TestUnsupportedType(t *testing.T) {
	if Type(3).IsSupported() {
		t.Fatal("Type(3).IsSupported() = true")
	}
	if _, err := Compress(Type(3), []byte("x")); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Compress error = %v", err)
	}
	if _, err := Decompress(Type(6), []byte("x")); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Decompress error = %v", err)
	}
}

func TestCorruptInput(t *testing.T) {
	garbage := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	for _, typ := range []Type{SnappyCompression, ZlibCompression, ZstdCompression} {
		if _, err := Decompress(typ, garbage); err == nil {
			t.Errorf("%v: Decompress(garbage) succeeded", typ)
		}
	}
}
