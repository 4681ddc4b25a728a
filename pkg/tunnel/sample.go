package tunnel

import (
	"github.com/openturion/turion/pkg/models"
	"github.com/openturion/turion/pkg/wire"
)

// sampleBuffer owns the memory behind samples handed to the caller. Two
// buffers alternate: a newly decoded payload lands in the idle buffer, then
// the buffers swap. The sample handed out on the previous read is therefore
// never written while it is still the caller's current sample; it becomes
// invalid exactly when the next read produces its successor.
type sampleBuffer struct {
	front []byte
	back  []byte
}

func (b *sampleBuffer) produce(h wire.Header, payload []byte, decodeTime uint64) *models.Sample {
	b.back = append(b.back[:0], payload...)
	b.front, b.back = b.back, b.front

	return &models.Sample{
		Track:      h.Track,
		Flags:      h.Flags,
		Data:       b.front,
		DecodeTime: decodeTime,
	}
}

func (b *sampleBuffer) release() {
	b.front = nil
	b.back = nil
}
