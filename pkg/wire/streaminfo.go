package wire

import (
	"encoding/binary"

	"github.com/openturion/turion/pkg/models"
)

// descriptorSize is the encoded size of one stream descriptor inside a
// stream-info control frame.
const descriptorSize = 24

// ParseStreamInfo decodes the payload of a stream-info control frame:
// a uint32 stream count followed by one fixed-size descriptor per stream.
func ParseStreamInfo(payload []byte) ([]models.StreamInfo, error) {
	if len(payload) < 4 {
		return nil, protocolErrorf("stream info payload too short: %d bytes", len(payload))
	}

	count := binary.LittleEndian.Uint32(payload[:4])

	want := 4 + int(count)*descriptorSize
	if len(payload) != want {
		return nil, protocolErrorf("stream info payload size %d, want %d for %d streams",
			len(payload), want, count)
	}

	streams := make([]models.StreamInfo, 0, count)

	for i := 0; i < int(count); i++ {
		d := payload[4+i*descriptorSize:]

		streams = append(streams, models.StreamInfo{
			Index:        i,
			Type:         binary.LittleEndian.Uint32(d[0:4]),
			SubType:      int32(binary.LittleEndian.Uint32(d[4:8])),
			Width:        int32(binary.LittleEndian.Uint32(d[8:12])),
			Height:       int32(binary.LittleEndian.Uint32(d[12:16])),
			FrameRate:    int32(binary.LittleEndian.Uint32(d[16:20])),
			MaxFrameSize: binary.LittleEndian.Uint32(d[20:24]),
		})
	}

	return streams, nil
}

// EncodeStreamInfo builds the payload of a stream-info control frame. Used
// by the printer simulator.
func EncodeStreamInfo(streams []models.StreamInfo) []byte {
	payload := make([]byte, 4+len(streams)*descriptorSize)
	binary.LittleEndian.PutUint32(payload[:4], uint32(len(streams)))

	for i, s := range streams {
		d := payload[4+i*descriptorSize:]

		binary.LittleEndian.PutUint32(d[0:4], s.Type)
		binary.LittleEndian.PutUint32(d[4:8], uint32(s.SubType))
		binary.LittleEndian.PutUint32(d[8:12], uint32(s.Width))
		binary.LittleEndian.PutUint32(d[12:16], uint32(s.Height))
		binary.LittleEndian.PutUint32(d[16:20], uint32(s.FrameRate))
		binary.LittleEndian.PutUint32(d[20:24], s.MaxFrameSize)
	}

	return payload
}
