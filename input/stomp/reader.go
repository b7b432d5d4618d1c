package stomp

import (
	"bytes"
	"io"

	"github.com/JonathanMoss/OpenRailDataGateway/errors"
)

const (
	// DefaultMaxFrameBytes bounds a single frame, terminator excluded
	DefaultMaxFrameBytes = 16 << 20

	minReadSize = 4 << 10
)

// terminator ends every upstream frame: line-feed immediately followed by NUL.
var terminator = []byte{'\n', 0}

// FrameReader splits an upstream byte stream into frames.
//
// It owns a single growable buffer. Next returns a slice into that buffer,
// valid only until the following call to Next; callers that keep frame bytes
// must copy them. Bytes read past a terminator stay buffered for the next
// call, so one read may yield several frames or the head of a partial one.
//
// A FrameReader is not safe for concurrent use.
type FrameReader struct {
	r        io.Reader
	buf      []byte
	start    int // first unconsumed byte
	end      int // one past the last buffered byte
	scanned  int // no terminator begins before this offset
	maxFrame int
	err      error // read error held back until buffered frames are drained
}

// NewFrameReader returns a FrameReader over r. maxFrame <= 0 selects
// DefaultMaxFrameBytes.
func NewFrameReader(r io.Reader, maxFrame int) *FrameReader {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &FrameReader{
		r:        r,
		buf:      make([]byte, minReadSize),
		maxFrame: maxFrame,
	}
}

// Next returns the next frame without its terminator.
//
// At the end of the stream it returns an error wrapping errors.ErrEndOfStream;
// any other read failure, or a frame larger than the configured maximum, is
// reported as errors.ErrReadFault. Once an error has been returned every later
// call returns it too.
func (fr *FrameReader) Next() ([]byte, error) {
	fr.compact()

	for {
		// Scan only what arrived since the last miss. scanned already backs
		// up one byte so a terminator split across reads is still found.
		if i := bytes.Index(fr.buf[fr.scanned:fr.end], terminator); i >= 0 {
			frameEnd := fr.scanned + i
			frame := fr.buf[fr.start:frameEnd]
			fr.start = frameEnd + len(terminator)
			fr.scanned = fr.start
			return frame, nil
		}
		if fr.end > fr.start {
			fr.scanned = fr.end - 1
		}

		if fr.err != nil {
			return nil, fr.err
		}
		if fr.end-fr.start > fr.maxFrame {
			fr.err = errors.Fault(errors.ErrReadFault,
				errFrameTooLarge, "FrameReader", "Next", "frame size check")
			return nil, fr.err
		}

		fr.fill()
	}
}

// Buffered returns the number of bytes held for frames not yet returned.
func (fr *FrameReader) Buffered() int {
	return fr.end - fr.start
}

// compact moves leftover bytes to the front of the buffer. It runs at the
// start of Next, once the previously returned frame is no longer valid.
func (fr *FrameReader) compact() {
	if fr.start == 0 {
		return
	}
	n := copy(fr.buf, fr.buf[fr.start:fr.end])
	fr.scanned -= fr.start
	fr.start = 0
	fr.end = n
}

// fill performs one read, growing the buffer first if it is nearly full.
func (fr *FrameReader) fill() {
	if len(fr.buf)-fr.end < minReadSize {
		grown := make([]byte, 2*len(fr.buf)+minReadSize)
		copy(grown, fr.buf[fr.start:fr.end])
		fr.scanned -= fr.start
		fr.end -= fr.start
		fr.start = 0
		fr.buf = grown
	}

	n, err := fr.r.Read(fr.buf[fr.end:])
	fr.end += n

	switch {
	case err == io.EOF || (n == 0 && err == nil):
		fr.err = errors.Fault(errors.ErrEndOfStream, nil, "FrameReader", "Next", "socket read")
	case err != nil:
		fr.err = errors.Fault(errors.ErrReadFault, err, "FrameReader", "Next", "socket read")
	}
}
