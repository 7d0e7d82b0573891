package framing

// Fragment is the mutable, ephemeral carrier of a single in-progress
// packet. One Fragment is recycled in place across every packet a
// connection ever sees: callers must not retain a Fragment, or the
// slices it points into, past the callback that received it.
type Fragment struct {
	// Data is the connection's read buffer. CurrentOffset/CurrentReadCount
	// index the window within it that belongs to the most recent delivery.
	Data []byte

	FullLength          int64 // -1 until the header has been decoded
	CumulativeReadCount int64
	CurrentReadCount    int
	CurrentOffset       int
	LengthFound         bool
	Completed           bool

	// Accumulator collects payload bytes across fragments when the owner
	// asked for whole-packet delivery. Freed on packet completion.
	Accumulator []byte

	// Tag is a caller-owned auxiliary slot, carried unchanged across the
	// fragment's recycling so connection-scoped state (e.g. the
	// single-instance coordinator's InstanceInfo) can ride along with it.
	Tag any

	// notBuffered is this packet's frozen copy of the connection's sticky
	// one-shot readNextNotBuffered flag, captured when the header started.
	notBuffered bool
}

// window returns the slice of Data covering the most recent delivery.
func (f *Fragment) window() []byte {
	return f.Data[f.CurrentOffset : f.CurrentOffset+f.CurrentReadCount]
}

// reset prepares the fragment for a new packet of the given length and
// buffering mode, once that packet's header has been decoded: it sets
// LengthFound and clears Completed. Invariant: Completed implies
// LengthFound and CumulativeReadCount == FullLength.
func (f *Fragment) reset(fullLength int64, notBuffered bool) {
	f.FullLength = fullLength
	f.CumulativeReadCount = 0
	f.CurrentReadCount = 0
	f.CurrentOffset = 0
	f.LengthFound = true
	f.Completed = false
	f.Accumulator = nil
	f.notBuffered = notBuffered
}
