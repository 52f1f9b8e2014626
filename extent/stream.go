package extent

import (
	"errors"
	"fmt"
	"io"

	"github.com/aarsakian/VMDK_Dump/logger"
)

// MaxGrainPayload bounds the buffer allocated for one grain. Real grains are
// at most a few grain sizes long even when deflate expands them.
const MaxGrainPayload = 256 << 20

type State int

const (
	StateReadMarker State = iota
	StateDataGrain
	StateMetadata
	StateFooter
	StateEndOfInput
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReadMarker:
		return "read marker"
	case StateDataGrain:
		return "data grain"
	case StateMetadata:
		return "metadata"
	case StateFooter:
		return "footer"
	case StateEndOfInput:
		return "end of input"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the walk stops in s.
func (s State) Terminal() bool {
	return s == StateFooter || s == StateEndOfInput || s == StateFailed
}

// Event describes one step of the walk.
type Event struct {
	State  State
	Marker Marker // nil at end of input
	Next   int64  // read cursor after the step
	// Inflated is the decoded payload length of a data grain, or -1 when the
	// payload was skipped.
	Inflated int64
}

type Options struct {
	// Verify decodes grains even when nothing is written.
	Verify bool
	// Observer, if set, sees every event produced by Walk.
	Observer func(Event)
}

// Stream walks the marker chain of a stream optimized extent. A nil writer
// walks in inspection mode.
type Stream struct {
	src    io.ReaderAt
	header *SparseHeader
	writer *GrainWriter
	opts   Options
	pos    int64
	state  State
}

func NewStream(src io.ReaderAt, header *SparseHeader, writer *GrainWriter, opts Options) *Stream {
	return &Stream{src: src, header: header, writer: writer, opts: opts,
		pos: header.GrainDataOffset()}
}

// Pos is the source offset of the next marker.
func (s *Stream) Pos() int64 {
	return s.pos
}

func (s *Stream) State() State {
	return s.state
}

// Walk steps until a terminal state. Clean stops return StateFooter or
// StateEndOfInput with a nil error.
func (s *Stream) Walk() (State, error) {
	for {
		ev, err := s.Next()
		if err != nil {
			return s.state, err
		}
		if s.opts.Observer != nil {
			s.opts.Observer(ev)
		}
		if ev.State.Terminal() {
			return ev.State, nil
		}
	}
}

// Next processes a single marker.
func (s *Stream) Next() (Event, error) {
	if s.state.Terminal() {
		return Event{State: s.state, Next: s.pos, Inflated: -1}, nil
	}

	marker, err := ReadMarker(s.src, s.pos)
	if errors.Is(err, errEndOfInput) {
		logger.VMDKlogger.Info(fmt.Sprintf("No marker at 0x%X, assuming end of stream.", s.pos))
		s.state = StateEndOfInput
		return Event{State: StateEndOfInput, Next: s.pos, Inflated: -1}, nil
	}
	if err != nil {
		return s.fail(err)
	}

	var ev Event
	switch m := marker.(type) {
	case GrainMarker:
		ev, err = s.grain(m)
	case MetadataMarker:
		ev, err = s.metadata(m)
	}
	if err != nil {
		return s.fail(err)
	}
	return ev, nil
}

func (s *Stream) fail(err error) (Event, error) {
	logger.VMDKlogger.Error(err)
	s.state = StateFailed
	return Event{State: StateFailed, Next: s.pos, Inflated: -1}, err
}

func (s *Stream) grain(m GrainMarker) (Event, error) {
	ev := Event{State: StateDataGrain, Marker: m, Next: m.End(), Inflated: -1}
	logger.VMDKlogger.Info(fmt.Sprintf("0x%X: LBA 0x%X, 0x%X bytes.", m.Offset, uint64(m.LBA), m.Size))

	if s.writer == nil && !s.opts.Verify {
		s.pos = ev.Next
		return ev, nil
	}

	payload, err := s.readPayload(m)
	if err != nil {
		return ev, err
	}

	switch {
	case s.writer != nil:
		n, err := s.writer.WriteGrain(m.LBA, payload)
		if err != nil {
			return ev, formatError(m.Offset, "write grain", err, "LBA 0x%X", uint64(m.LBA))
		}
		ev.Inflated = n
	case s.header.IsCompressed():
		n, err := Inflate(payload, io.Discard)
		if err != nil {
			return ev, formatError(m.Offset, "inflate grain", err, "LBA 0x%X", uint64(m.LBA))
		}
		ev.Inflated = n
	default:
		ev.Inflated = int64(len(payload))
	}
	s.pos = ev.Next
	return ev, nil
}

func (s *Stream) readPayload(m GrainMarker) ([]byte, error) {
	if m.Size > MaxGrainPayload {
		return nil, formatError(m.Offset, "read grain", ErrAllocationFailure,
			"payload of %d bytes exceeds %d", m.Size, MaxGrainPayload)
	}
	payload := make([]byte, m.Size)
	n, err := s.src.ReadAt(payload, m.PayloadOffset())
	if n < len(payload) {
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrTruncatedInput
		}
		return nil, formatError(m.Offset, "read grain", err,
			"expected %d payload bytes, got %d", m.Size, n)
	}
	return payload, nil
}

func (s *Stream) metadata(m MetadataMarker) (Event, error) {
	if m.Type == MarkerFooter {
		logger.VMDKlogger.Info(fmt.Sprintf("0x%X: footer marker, stopping.", m.Offset))
		s.state = StateFooter
		return Event{State: StateFooter, Marker: m, Next: m.End(), Inflated: -1}, nil
	}
	if m.End() <= m.Offset {
		return Event{}, formatError(m.Offset, "skip metadata", ErrImplausibleMetadata,
			"0x%X sectors", uint64(m.NumSectors))
	}
	if m.Type.Known() {
		logger.VMDKlogger.Info(fmt.Sprintf("0x%X: skipping %s marker, 0x%X sectors.", m.Offset, m.Type, uint64(m.NumSectors)))
	} else {
		logger.VMDKlogger.Warning(fmt.Sprintf("0x%X: skipping marker of %s, 0x%X sectors.", m.Offset, m.Type, uint64(m.NumSectors)))
	}
	s.pos = m.End()
	return Event{State: StateMetadata, Marker: m, Next: s.pos, Inflated: -1}, nil
}
