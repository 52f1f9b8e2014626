package extent

import (
	"bytes"
	stdzlib "compress/zlib"
	"errors"
	"io"
	"math/rand"
	"testing"
)

func TestInflateMatchesReference(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	raw := make([]byte, 200<<10)
	for i := range raw {
		// Compressible but not trivially so.
		raw[i] = byte(rnd.Intn(16))
	}
	compressed := deflate(t, raw)

	zr, err := stdzlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatal(err)
	}
	reference, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	n, err := Inflate(compressed, &out)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(reference)) {
		t.Errorf("got %d bytes, want %d", n, len(reference))
	}
	if !bytes.Equal(out.Bytes(), reference) {
		t.Error("inflated data differs from the reference decompression")
	}
}

type chunkRecorder struct {
	largest int
	total   int
}

func (r *chunkRecorder) Write(p []byte) (int, error) {
	if len(p) > r.largest {
		r.largest = len(p)
	}
	r.total += len(p)
	return len(p), nil
}

func TestInflateBoundedChunks(t *testing.T) {
	compressed := deflate(t, make([]byte, 1<<20))
	var rec chunkRecorder
	n, err := Inflate(compressed, &rec)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1<<20 || rec.total != 1<<20 {
		t.Errorf("got %d bytes (%d seen by sink), want %d", n, rec.total, 1<<20)
	}
	if rec.largest > inflateChunkSize {
		t.Errorf("sink saw a %d byte write, chunks are limited to %d", rec.largest, inflateChunkSize)
	}
}

func TestInflateCorrupt(t *testing.T) {
	valid := deflate(t, pattern(4096, 3))

	flipped := append([]byte(nil), valid...)
	flipped[len(flipped)-1] ^= 0xFF // checksum

	for _, tc := range []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("this is not a zlib stream")},
		{"truncated", valid[:len(valid)/2]},
		{"bad checksum", flipped},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Inflate(tc.data, io.Discard)
			if !errors.Is(err, ErrCorruptStream) {
				t.Fatalf("got %v, want %v", err, ErrCorruptStream)
			}
		})
	}
}

func TestInflateDictionaryRequired(t *testing.T) {
	var b bytes.Buffer
	zw, err := stdzlib.NewWriterLevelDict(&b, stdzlib.DefaultCompression, []byte("preset dictionary"))
	if err != nil {
		t.Fatal(err)
	}
	zw.Write(pattern(1024, 9))
	zw.Close()

	_, err = Inflate(b.Bytes(), io.Discard)
	if !errors.Is(err, ErrDictionaryRequired) {
		t.Fatalf("got %v, want %v", err, ErrDictionaryRequired)
	}
	if !errors.Is(err, ErrCorruptStream) {
		t.Errorf("%v does not match %v", err, ErrCorruptStream)
	}
}

type brokenSink struct{}

func (brokenSink) Write(p []byte) (int, error) { return 0, errDiskFull }

func TestInflateWriteFailure(t *testing.T) {
	_, err := Inflate(deflate(t, pattern(4096, 5)), brokenSink{})
	if !errors.Is(err, ErrWriteFailure) {
		t.Fatalf("got %v, want %v", err, ErrWriteFailure)
	}
}
