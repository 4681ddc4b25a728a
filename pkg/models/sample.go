package models

// Sample is one demultiplexed media unit, a single JPEG frame for the MJPEG
// sub-type. The backing Data slice is owned by the tunnel engine: it is valid
// only until the next ReadSample call on the same tunnel or until the tunnel
// is closed. Callers that need the bytes beyond that window must Clone.
type Sample struct {
	Track      int32
	Flags      uint32
	Data       []byte
	DecodeTime uint64
}

// Size returns the payload length in bytes.
func (s *Sample) Size() int {
	return len(s.Data)
}

// Clone copies the sample into caller-owned memory.
func (s *Sample) Clone() *Sample {
	data := make([]byte, len(s.Data))
	copy(data, s.Data)

	return &Sample{
		Track:      s.Track,
		Flags:      s.Flags,
		Data:       data,
		DecodeTime: s.DecodeTime,
	}
}
