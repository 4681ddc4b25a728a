package models

import "fmt"

// Stream type/sub-type values advertised by printer firmware during
// negotiation. Only the MJPEG video stream is produced by current firmware.
const (
	StreamTypeVideo uint32 = 0

	StreamSubTypeMJPEG int32 = 1
)

// StreamInfo describes one negotiated media stream. It is populated when
// streaming starts and stays stable for the tunnel's streaming lifetime.
type StreamInfo struct {
	Index        int
	Type         uint32
	SubType      int32
	Width        int32
	Height       int32
	FrameRate    int32
	MaxFrameSize uint32
}

// String renders the descriptor for diagnostics.
func (s *StreamInfo) String() string {
	return fmt.Sprintf("stream %d: type=%d sub_type=%d %dx%d@%dfps max_frame=%d",
		s.Index, s.Type, s.SubType, s.Width, s.Height, s.FrameRate, s.MaxFrameSize)
}
