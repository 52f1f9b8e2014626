package extent

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
)

const testOverhead SectorType = 0x80

func testHeader(compress uint16) SparseHeader {
	return SparseHeader{
		MagicNumber:        SparseMagicNumber,
		Version:            3,
		Flags:              FlagValidNewLineTest | FlagCompressedGrains | FlagMarkersPresent,
		Capacity:           0x200000,
		GrainSize:          0x80,
		DescriptorOffset:   1,
		DescriptorSize:     1,
		NumGTEsPerGT:       512,
		GdOffset:           0xFFFFFFFFFFFFFFFF,
		OverHead:           testOverhead,
		SingleEndLineChar:  '\n',
		NonEndLineChar:     ' ',
		DoubleEndLineChar1: '\r',
		DoubleEndLineChar2: '\n',
		CompressAlgorithm:  compress,
	}
}

// container assembles a stream optimized extent in memory.
type container struct {
	t    *testing.T
	data []byte
}

func newContainer(t *testing.T, sparseH SparseHeader) *container {
	t.Helper()
	header, err := sparseH.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	c := &container{t: t, data: header}
	c.pad(sparseH.OverHead.Bytes())
	return c
}

func (c *container) pad(size int64) {
	for int64(len(c.data)) < size {
		c.data = append(c.data, 0)
	}
}

func (c *container) align() {
	c.pad((int64(len(c.data)) + SectorSize - 1) / SectorSize * SectorSize)
}

// grain appends a data grain and returns its marker offset.
func (c *container) grain(lba SectorType, payload []byte) int64 {
	offset := int64(len(c.data))
	c.data = binary.LittleEndian.AppendUint64(c.data, uint64(lba))
	c.data = binary.LittleEndian.AppendUint32(c.data, uint32(len(payload)))
	c.data = append(c.data, payload...)
	c.align()
	return offset
}

// metadata appends a metadata marker followed by sectors of zeroed content.
func (c *container) metadata(typ MarkerType, sectors SectorType) int64 {
	offset := int64(len(c.data))
	c.data = binary.LittleEndian.AppendUint64(c.data, uint64(sectors))
	c.data = binary.LittleEndian.AppendUint32(c.data, 0)
	c.data = binary.LittleEndian.AppendUint32(c.data, uint32(typ))
	c.align()
	c.pad(int64(len(c.data)) + sectors.Bytes())
	return offset
}

func (c *container) footer() int64 {
	return c.metadata(MarkerFooter, 1)
}

func (c *container) raw(data []byte) {
	c.data = append(c.data, data...)
}

func (c *container) bytes() []byte {
	return c.data
}

func (c *container) reader() *bytes.Reader {
	return bytes.NewReader(c.data)
}

func (c *container) file() string {
	c.t.Helper()
	path := filepath.Join(c.t.TempDir(), "disk.vmdk")
	if err := os.WriteFile(path, c.data, 0644); err != nil {
		c.t.Fatal(err)
	}
	return path
}

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	zw := zlib.NewWriter(&b)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return b.Bytes()
}

func pattern(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i*7)
	}
	return data
}

// memFile is an in-memory SparseFile. Truncated ranges are tracked so tests
// can tell holes from written bytes.
type memFile struct {
	data      []byte
	written   int64
	truncates []int64
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	if end := off + int64(len(p)); end > int64(len(f.data)) {
		f.data = append(f.data, make([]byte, end-int64(len(f.data)))...)
	}
	copy(f.data[off:], p)
	f.written += int64(len(p))
	return len(p), nil
}

func (f *memFile) Truncate(size int64) error {
	f.truncates = append(f.truncates, size)
	if size > int64(len(f.data)) {
		f.data = append(f.data, make([]byte, size-int64(len(f.data)))...)
	} else {
		f.data = f.data[:size]
	}
	return nil
}

var errDiskFull = errors.New("disk full")

// failingFile accepts limit bytes and then fails.
type failingFile struct {
	memFile
	limit         int
	truncateFails bool
}

func (f *failingFile) WriteAt(p []byte, off int64) (int, error) {
	if len(p) > f.limit {
		n, _ := f.memFile.WriteAt(p[:f.limit], off)
		f.limit = 0
		return n, errDiskFull
	}
	f.limit -= len(p)
	return f.memFile.WriteAt(p, off)
}

func (f *failingFile) Truncate(size int64) error {
	if f.truncateFails {
		return errDiskFull
	}
	return f.memFile.Truncate(size)
}
