package protocol

import "fmt"

// FrameBuffer accumulates the raw byte stream of one connection and splits
// it into complete frames using the decoder's boundary hints. It keeps only
// the unconsumed tail between pushes, so a read split at any byte boundary
// produces the same frames as a single unfragmented read.
type FrameBuffer struct {
	dec Decoder
	buf []byte
}

func NewFrameBuffer(dec Decoder) *FrameBuffer {
	return &FrameBuffer{dec: dec}
}

// Push appends data to the pending buffer and returns every complete frame
// now available, zero or more. A non-nil error means the stream is beyond
// recovery and the connection must be closed.
func (fb *FrameBuffer) Push(data []byte) ([][]byte, error) {
	fb.buf = append(fb.buf, data...)

	var frames [][]byte
	for len(fb.buf) > 0 {
		hint := fb.dec.Hint(fb.buf)

		switch hint.Kind {
		case HintSkip:
			n := hint.N
			if n <= 0 || n > len(fb.buf) {
				n = len(fb.buf)
			}
			fb.buf = fb.buf[n:]

		case HintReady:
			if hint.N <= 0 || hint.N > len(fb.buf) {
				return frames, fmt.Errorf("%w: decoder reported frame of %d bytes with %d buffered",
					ErrUnframeable, hint.N, len(fb.buf))
			}
			frame := make([]byte, hint.N)
			copy(frame, fb.buf)
			fb.buf = fb.buf[hint.N:]
			frames = append(frames, frame)

		case HintNeedMore:
			if len(fb.buf) >= fb.dec.MaxFrameLen() {
				return frames, fmt.Errorf("%w: %d bytes buffered without a complete %s frame",
					ErrFrameTooLarge, len(fb.buf), fb.dec.Slug())
			}
			return frames, nil

		default:
			return frames, fmt.Errorf("%w: %s decoder rejected buffer", ErrUnframeable, fb.dec.Slug())
		}
	}

	return frames, nil
}

// Pending returns the number of buffered bytes awaiting a frame boundary.
func (fb *FrameBuffer) Pending() int { return len(fb.buf) }
