package extent

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

const inflateChunkSize = 16384

// Inflate decodes a zlib stream held in compressed and writes the output to
// sink in chunks of at most inflateChunkSize bytes. Only a stream that
// reaches its end marker counts as success; the count returned is what was
// written to sink so far.
func Inflate(compressed []byte, sink io.Writer) (int64, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return 0, inflateError(err)
	}
	defer zr.Close()

	var total int64
	out := make([]byte, inflateChunkSize)
	for {
		n, err := zr.Read(out)
		if n > 0 {
			written, werr := sink.Write(out[:n])
			total += int64(written)
			if werr == nil && written != n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return total, fmt.Errorf("%w: %v", ErrWriteFailure, werr)
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, inflateError(err)
		}
	}
}

func inflateError(err error) error {
	switch {
	case errors.Is(err, zlib.ErrDictionary):
		return ErrDictionaryRequired
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: stream ended before its end marker", ErrCorruptStream)
	}
	return fmt.Errorf("%w: %v", ErrCorruptStream, err)
}
