package extent

import (
	"errors"
	"fmt"
	"io"

	"github.com/aarsakian/VMDK_Dump/utils"
)

// On the wire every unit of the grain data region starts with
//
//	val  uint64 LBA of the grain, or sectors of metadata when size == 0
//	size uint32 compressed grain length, 0 for metadata markers
//	type uint32 only present when size == 0
//
// Grain payload follows directly after size. Metadata content starts at the
// next sector.
const (
	MarkerSize         = 12
	MetadataMarkerSize = MarkerSize + 4
)

type MarkerType uint32

const (
	MarkerEOS MarkerType = iota
	MarkerGT
	MarkerGD
	MarkerFooter
)

func (t MarkerType) String() string {
	switch t {
	case MarkerEOS:
		return "end of stream"
	case MarkerGT:
		return "grain table"
	case MarkerGD:
		return "grain directory"
	case MarkerFooter:
		return "footer"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

func (t MarkerType) Known() bool {
	return t <= MarkerFooter
}

// Marker is either a GrainMarker or a MetadataMarker.
type Marker interface {
	Pos() int64
	// End is the offset of the next marker.
	End() int64
}

type GrainMarker struct {
	Offset int64
	LBA    SectorType
	Size   uint32
}

func (m GrainMarker) Pos() int64 { return m.Offset }

func (m GrainMarker) End() int64 {
	return utils.AlignUp(m.PayloadOffset()+int64(m.Size), SectorSize)
}

func (m GrainMarker) PayloadOffset() int64 {
	return m.Offset + MarkerSize
}

type MetadataMarker struct {
	Offset     int64
	Type       MarkerType
	NumSectors SectorType
}

func (m MetadataMarker) Pos() int64 { return m.Offset }

// End skips the marker sector and the metadata sectors behind it.
func (m MetadataMarker) End() int64 {
	return m.Offset + SectorSize + m.NumSectors.Bytes()
}

// errEndOfInput is returned by ReadMarker when not even the fixed part of a
// marker could be read.
var errEndOfInput = errors.New("end of input")

// ReadMarker decodes the marker at offset.
func ReadMarker(r io.ReaderAt, offset int64) (Marker, error) {
	var buf [MetadataMarkerSize]byte
	n, err := r.ReadAt(buf[:MarkerSize], offset)
	if n < MarkerSize {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, errEndOfInput
		}
		return nil, formatError(offset, "read marker", err, "")
	}
	val := SectorType(utils.ReadEndianLong(buf[0:8]))
	size := utils.ReadEndianInt(buf[8:12])
	if size != 0 {
		return GrainMarker{Offset: offset, LBA: val, Size: size}, nil
	}

	n, err = r.ReadAt(buf[MarkerSize:], offset+MarkerSize)
	if n < MetadataMarkerSize-MarkerSize {
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrTruncatedInput
		}
		return nil, formatError(offset, "read marker type", err,
			"expected 4 bytes, got %d", n)
	}
	return MetadataMarker{Offset: offset, Type: MarkerType(utils.ReadEndianInt(buf[12:16])),
		NumSectors: val}, nil
}
