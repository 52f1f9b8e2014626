package extent

import (
	"fmt"
	"os"

	"github.com/aarsakian/VMDK_Dump/logger"
)

// Extent is an opened stream optimized sparse extent.
type Extent struct {
	Filename     string
	Fhandle      *os.File
	Size         int64
	SparseHeader *SparseHeader
}

// Result summarizes a walk.
type Result struct {
	Terminal State
	Grains   int
	Metadata int

	// Only filled when an output was written.
	LogicalSize int64
	Holes       int
	HoleBytes   int64
	Allocated   int64 // -1 when unknown
}

// Open opens path and validates its sparse header. Nothing is left open on
// error.
func Open(path string) (*Extent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	extent := &Extent{Filename: path, Fhandle: file}
	if err := extent.readHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return extent, nil
}

func (extent *Extent) readHeader() error {
	info, err := extent.Fhandle.Stat()
	if err != nil {
		return err
	}
	extent.Size = info.Size()

	sparseH, err := ReadSparseHeader(extent.Fhandle)
	if err != nil {
		return err
	}
	logger.VMDKlogger.Info(fmt.Sprintf("Parsed sparse header of %s, overhead 0x%X sectors.",
		extent.Filename, uint64(sparseH.OverHead)))
	sparseH.LogWarnings()
	extent.SparseHeader = sparseH
	return nil
}

func (extent *Extent) Close() error {
	return extent.Fhandle.Close()
}

// Inspect walks the marker stream without writing anything.
func (extent *Extent) Inspect(opts Options) (Result, error) {
	var result Result
	stream := NewStream(extent.Fhandle, extent.SparseHeader, nil, result.count(opts))
	state, err := stream.Walk()
	result.Terminal = state
	result.Allocated = -1
	return result, err
}

// Dump reconstructs the raw disk into outputPath, which is created or
// truncated.
func (extent *Extent) Dump(outputPath string, opts Options) (result Result, err error) {
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return result, err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: closing %s: %v", ErrWriteFailure, outputPath, cerr)
		}
	}()

	writer := NewGrainWriter(out, extent.SparseHeader.IsCompressed())
	stream := NewStream(extent.Fhandle, extent.SparseHeader, writer, result.count(opts))
	result.Terminal, err = stream.Walk()
	result.LogicalSize = writer.Size()
	result.Holes = writer.Holes
	result.HoleBytes = writer.HoleBytes
	result.Allocated = -1
	if err != nil {
		return result, err
	}

	if err := out.Sync(); err != nil {
		return result, fmt.Errorf("%w: syncing %s: %v", ErrWriteFailure, outputPath, err)
	}
	if allocated, aerr := Allocated(outputPath); aerr == nil {
		result.Allocated = allocated
	} else {
		logger.VMDKlogger.Warning(fmt.Sprintf("Cannot account allocation of %s: %v", outputPath, aerr))
	}
	return result, nil
}

func (result *Result) count(opts Options) Options {
	observer := opts.Observer
	opts.Observer = func(ev Event) {
		switch ev.State {
		case StateDataGrain:
			result.Grains++
		case StateMetadata:
			result.Metadata++
		}
		if observer != nil {
			observer(ev)
		}
	}
	return opts
}
