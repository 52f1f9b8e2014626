package extent

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aarsakian/VMDK_Dump/logger"
	"github.com/aarsakian/VMDK_Dump/utils"
	"github.com/dustin/go-humanize"
)

type SectorType uint64

const SectorSize = 512

func (s SectorType) Bytes() int64 {
	return int64(s) * SectorSize
}

const (
	SparseMagicNumber = 0x564d444b // 'V' 'M' 'D' 'K'
	SparseHeaderSize  = 512
)

const (
	CompressionNone    = 0
	CompressionDeflate = 1
)

const (
	FlagValidNewLineTest  = 1 << 0
	FlagRedundantGrainDir = 1 << 1
	FlagZeroedGrainGTE    = 1 << 2
	FlagCompressedGrains  = 1 << 16
	FlagMarkersPresent    = 1 << 17
)

// gdOffset points to the level 0 of metadata. It is expressed in sectors.
// overHead is the number of sectors occupied by the metadata.
// numGTEsPerGT is the number of entries in a grain table.
// Sparse Header (512) + Embedded Descriptor + Redundant Grain dir + Redundant Grain tables +
// Grain Dir  + Grain tables + Padding + Grain entries
//
// In a stream optimized extent the grain data region after overHead is a
// sequence of markers, see marker.go.

type SparseHeader struct {
	MagicNumber        uint32
	Version            uint32
	Flags              uint32
	Capacity           SectorType //extent capacity
	GrainSize          SectorType
	DescriptorOffset   SectorType
	DescriptorSize     SectorType
	NumGTEsPerGT       uint32
	RgdOffset          SectorType // redudant
	GdOffset           SectorType
	OverHead           SectorType
	UncleanShutdown    bool
	SingleEndLineChar  byte
	NonEndLineChar     byte
	DoubleEndLineChar1 byte
	DoubleEndLineChar2 byte
	CompressAlgorithm  uint16
	Pad                [433]byte
}

// ReadSparseHeader reads and validates the header at offset 0 of r.
func ReadSparseHeader(r io.ReaderAt) (*SparseHeader, error) {
	buf := make([]byte, SparseHeaderSize)
	n, err := r.ReadAt(buf, 0)
	if n < SparseHeaderSize {
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrTruncatedInput
		}
		return nil, formatError(int64(n), "read header", err, "expected %d bytes, got %d", SparseHeaderSize, n)
	}
	return ParseSparseHeader(buf)
}

// ParseSparseHeader decodes and validates a 512 byte header record.
func ParseSparseHeader(data []byte) (*SparseHeader, error) {
	if len(data) < SparseHeaderSize {
		return nil, formatError(int64(len(data)), "read header", ErrTruncatedInput,
			"expected %d bytes, got %d", SparseHeaderSize, len(data))
	}
	sparseH := new(SparseHeader)
	if err := utils.Unmarshal(data[:SparseHeaderSize], sparseH); err != nil {
		return nil, formatError(0, "decode header", err, "")
	}
	if err := sparseH.Validate(); err != nil {
		return nil, err
	}
	return sparseH, nil
}

func (sparseH SparseHeader) Validate() error {
	if sparseH.MagicNumber != SparseMagicNumber {
		return formatError(0, "check header", ErrBadMagic,
			"expected 0x%08X, got 0x%08X", SparseMagicNumber, sparseH.MagicNumber)
	}
	if sparseH.OverHead == 0 {
		return formatError(64, "check header", ErrImplausibleMetadata, "overHead is 0")
	}
	if sparseH.CompressAlgorithm != CompressionNone && sparseH.CompressAlgorithm != CompressionDeflate {
		return formatError(77, "check header", ErrUnsupportedCompression,
			"expected %d or %d, got %d", CompressionNone, CompressionDeflate, sparseH.CompressAlgorithm)
	}
	return nil
}

// Warnings lists inconsistencies that do not stop processing.
func (sparseH SparseHeader) Warnings() []string {
	var warnings []string
	if sparseH.SingleEndLineChar != '\n' || sparseH.NonEndLineChar != ' ' ||
		sparseH.DoubleEndLineChar1 != '\r' || sparseH.DoubleEndLineChar2 != '\n' {
		warnings = append(warnings, fmt.Sprintf("end of line sentinels %q differ from %q, file may have been mangled by a text mode transfer",
			[]byte{sparseH.SingleEndLineChar, sparseH.NonEndLineChar, sparseH.DoubleEndLineChar1, sparseH.DoubleEndLineChar2},
			"\n \r\n"))
	}
	if !sparseH.HasMarkers() {
		warnings = append(warnings, "flags do not announce markers, extent may not be stream optimized")
	}
	if sparseH.UncleanShutdown {
		warnings = append(warnings, "extent was not closed cleanly")
	}
	return warnings
}

func (sparseH SparseHeader) LogWarnings() {
	for _, warning := range sparseH.Warnings() {
		logger.VMDKlogger.Warning(warning)
	}
}

func (sparseH SparseHeader) Marshal() ([]byte, error) {
	return utils.Marshal(&sparseH)
}

func (sparseH SparseHeader) IsCompressed() bool {
	return sparseH.CompressAlgorithm == CompressionDeflate
}

func (sparseH SparseHeader) HasMarkers() bool {
	return sparseH.Flags&FlagMarkersPresent != 0
}

// GrainDataOffset is where the first marker lives.
func (sparseH SparseHeader) GrainDataOffset() int64 {
	return sparseH.OverHead.Bytes()
}

func (sparseH SparseHeader) GetGrainSizeB() int64 {
	return sparseH.GrainSize.Bytes()
}

func (sparseH SparseHeader) String() string {
	var b strings.Builder
	b.WriteString("=== VMware Hosted Sparse Extent ===\n")
	fmt.Fprintf(&b, "Version: %d\n", sparseH.Version)
	fmt.Fprintf(&b, "Flags: 0x%X\n", sparseH.Flags)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Capacity: 0x%X (%s)\n", uint64(sparseH.Capacity), humanize.IBytes(uint64(sparseH.Capacity.Bytes())))
	fmt.Fprintf(&b, "Grain Size: 0x%X (%s)\n", uint64(sparseH.GrainSize), humanize.IBytes(uint64(sparseH.GrainSize.Bytes())))
	fmt.Fprintf(&b, "Descriptor Offset: 0x%X\n", uint64(sparseH.DescriptorOffset))
	fmt.Fprintf(&b, "Descriptor Size: 0x%X\n", uint64(sparseH.DescriptorSize))
	fmt.Fprintf(&b, "Number of entries per grain table: %d\n", sparseH.NumGTEsPerGT)
	fmt.Fprintf(&b, "RGD Offset: 0x%X\n", uint64(sparseH.RgdOffset))
	fmt.Fprintf(&b, "GD Offset: 0x%X\n", uint64(sparseH.GdOffset))
	fmt.Fprintf(&b, "Overhead: 0x%X\n", uint64(sparseH.OverHead))
	b.WriteString("\n")
	if sparseH.UncleanShutdown {
		b.WriteString("Shutdown was unclean: Yes\n")
	} else {
		b.WriteString("Shutdown was unclean: No\n")
	}
	switch sparseH.CompressAlgorithm {
	case CompressionNone:
		b.WriteString("Compression Algorithm: Not compressed\n")
	case CompressionDeflate:
		b.WriteString("Compression Algorithm: Deflate\n")
	default:
		fmt.Fprintf(&b, "Compression Algorithm: %d (unknown!)\n", sparseH.CompressAlgorithm)
	}
	return b.String()
}
