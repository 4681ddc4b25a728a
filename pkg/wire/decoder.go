package wire

// Decoder turns an append-only byte stream into complete frames. Feeding it
// one byte at a time yields the same frame sequence as feeding the whole
// stream at once: Next never consumes partial trailing bytes.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder returns a decoder ready to accept received bytes.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends received bytes to the decode buffer.
func (d *Decoder) Feed(p []byte) {
	if len(p) == 0 {
		return
	}

	d.compact()
	d.buf = append(d.buf, p...)
}

// Buffered reports how many undecoded bytes are pending.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Next decodes one complete frame. It returns ErrNeedMore when the buffer
// holds only a partial frame, and a *ProtocolError when the byte stream
// violates the framing contract; protocol errors are not recoverable.
func (d *Decoder) Next() (*Frame, error) {
	pending := d.buf[d.off:]
	if len(pending) < HeaderSize {
		return nil, ErrNeedMore
	}

	h := parseHeader(pending[:HeaderSize])

	if h.Length > MaxFrameLen {
		return nil, protocolErrorf("frame length %d exceeds limit %d", h.Length, MaxFrameLen)
	}

	if h.Track == ControlTrack {
		switch h.Flags {
		case CtrlAuthOK, CtrlAuthReject, CtrlStreamInfo, CtrlTeardown:
		default:
			return nil, protocolErrorf("unknown control opcode %d", h.Flags)
		}
	}

	total := HeaderSize + int(h.Length)
	if len(pending) < total {
		return nil, ErrNeedMore
	}

	frame := &Frame{Header: h}
	if h.Length > 0 {
		frame.Payload = make([]byte, h.Length)
		copy(frame.Payload, pending[HeaderSize:total])
	}

	d.off += total

	return frame, nil
}

// Reset drops all buffered bytes. Used when a connection is torn down.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
}

// compact reclaims consumed bytes once the dead prefix dominates the buffer.
func (d *Decoder) compact() {
	if d.off == 0 {
		return
	}

	if d.off >= len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0

		return
	}

	if d.off > len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
}
