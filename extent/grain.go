package extent

import (
	"fmt"
	"io"
	"math"

	"github.com/aarsakian/VMDK_Dump/logger"
)

// GrainMarkerCorrection is subtracted from the LBA distance of two
// consecutive grains before a hole is inserted between them. 0x80 sectors is
// the 64 KiB default grain, i.e. the extent already covered by the previous
// grain when it was full.
const GrainMarkerCorrection SectorType = 0x80

// SparseFile is the reconstruction target. Extending it with Truncate must
// not allocate storage for the new range, *os.File on common filesystems
// does exactly that.
type SparseFile interface {
	io.WriterAt
	Truncate(size int64) error
}

// Cursor is the reconstruction state carried from grain to grain.
type Cursor struct {
	PrevLBA SectorType
	HasPrev bool
	Offset  int64 // next write position in the output
}

type GrainWriter struct {
	out        SparseFile
	compressed bool
	cursor     Cursor
	Correction SectorType

	Grains    int
	Holes     int
	HoleBytes int64
}

func NewGrainWriter(out SparseFile, compressed bool) *GrainWriter {
	return &GrainWriter{out: out, compressed: compressed, Correction: GrainMarkerCorrection}
}

func (w *GrainWriter) Cursor() Cursor {
	return w.cursor
}

// Size is the logical size of the output so far.
func (w *GrainWriter) Size() int64 {
	return w.cursor.Offset
}

// WriteGrain places payload at the cursor, preceded by a hole when lba is
// far enough past the previous grain. It returns the bytes appended for the
// payload.
func (w *GrainWriter) WriteGrain(lba SectorType, payload []byte) (int64, error) {
	if w.cursor.HasPrev && lba > w.cursor.PrevLBA && lba-w.cursor.PrevLBA > w.Correction {
		if err := w.extend(lba - w.cursor.PrevLBA - w.Correction); err != nil {
			return 0, err
		}
	}

	var n int64
	var err error
	if w.compressed {
		n, err = Inflate(payload, io.NewOffsetWriter(w.out, w.cursor.Offset))
	} else {
		var written int
		written, err = w.out.WriteAt(payload, w.cursor.Offset)
		n = int64(written)
		if err == nil && written != len(payload) {
			err = io.ErrShortWrite
		}
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrWriteFailure, err)
		}
	}
	w.cursor.Offset += n
	if err != nil {
		return n, err
	}
	w.cursor.PrevLBA = lba
	w.cursor.HasPrev = true
	w.Grains++
	return n, nil
}

func (w *GrainWriter) extend(gap SectorType) error {
	if gap > SectorType(math.MaxInt64-w.cursor.Offset)/SectorSize {
		return fmt.Errorf("%w: hole of 0x%X sectors overflows the output", ErrWriteFailure, uint64(gap))
	}
	size := w.cursor.Offset + gap.Bytes()
	if err := w.out.Truncate(size); err != nil {
		return fmt.Errorf("%w: extending output to %d bytes: %v", ErrWriteFailure, size, err)
	}
	logger.VMDKlogger.Info(fmt.Sprintf("Hole of 0x%X sectors at output offset 0x%X.", uint64(gap), w.cursor.Offset))
	w.cursor.Offset = size
	w.Holes++
	w.HoleBytes += gap.Bytes()
	return nil
}
