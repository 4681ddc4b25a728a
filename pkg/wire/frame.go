/*-
 * Copyright 2025 The Turion Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package wire implements the printer's binary tunnel framing: a 16-byte
// little-endian header followed by a payload. The same header layout is used
// in both directions; the codec is a pure transform with no I/O.
package wire

import "encoding/binary"

const (
	// HeaderSize is the fixed frame header length in bytes.
	HeaderSize = 16

	// MaxFrameLen caps the payload length a peer may announce. Anything
	// larger is treated as a framing desync.
	MaxFrameLen = 16 << 20

	// ControlTrack marks a printer-to-client frame as a control frame
	// rather than a media packet.
	ControlTrack int32 = -1
)

// Control opcodes carried in the Flags field of control frames.
const (
	CtrlAuthOK     uint32 = 1
	CtrlAuthReject uint32 = 2
	CtrlStreamInfo uint32 = 3
	CtrlTeardown   uint32 = 4
)

// Stream selectors carried in client commands. SelectorVideo requests the
// chamber camera MJPEG stream.
const (
	SelectorNone  int32 = 0
	SelectorVideo int32 = 0x3000
)

// Header is the 16-byte frame header. For printer-to-client frames Track is
// the stream index of a media packet, or ControlTrack for control frames.
// For client-to-printer commands Track carries the stream selector.
type Header struct {
	Length   uint32
	Track    int32
	Flags    uint32
	Reserved uint32
}

func (h *Header) marshal(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], h.Length)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(h.Track))
	binary.LittleEndian.PutUint32(dst[8:12], h.Flags)
	binary.LittleEndian.PutUint32(dst[12:16], h.Reserved)
}

func parseHeader(src []byte) Header {
	return Header{
		Length:   binary.LittleEndian.Uint32(src[0:4]),
		Track:    int32(binary.LittleEndian.Uint32(src[4:8])),
		Flags:    binary.LittleEndian.Uint32(src[8:12]),
		Reserved: binary.LittleEndian.Uint32(src[12:16]),
	}
}

// Kind classifies a decoded printer-to-client frame.
type Kind int

const (
	KindMedia Kind = iota
	KindAuthOK
	KindAuthReject
	KindStreamInfo
	KindTeardown
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindMedia:
		return "media"
	case KindAuthOK:
		return "auth-ok"
	case KindAuthReject:
		return "auth-reject"
	case KindStreamInfo:
		return "stream-info"
	case KindTeardown:
		return "teardown"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Frame is one complete decoded frame. Payload is owned by the frame and
// does not alias the decoder's internal buffer.
type Frame struct {
	Header  Header
	Payload []byte
}

// Kind classifies the frame. Control frames are identified by ControlTrack;
// anything else is a media packet for the stream index in Track.
func (f *Frame) Kind() Kind {
	if f.Header.Track != ControlTrack {
		return KindMedia
	}

	switch f.Header.Flags {
	case CtrlAuthOK:
		return KindAuthOK
	case CtrlAuthReject:
		return KindAuthReject
	case CtrlStreamInfo:
		return KindStreamInfo
	case CtrlTeardown:
		return KindTeardown
	default:
		return KindInvalid
	}
}

// AppendFrame serializes one frame (header + payload) onto dst. It is used
// by the printer simulator and by tests to produce wire bytes.
func AppendFrame(dst []byte, track int32, flags uint32, payload []byte) []byte {
	var hdr [HeaderSize]byte

	h := Header{
		Length: uint32(len(payload)),
		Track:  track,
		Flags:  flags,
	}
	h.marshal(hdr[:])

	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)

	return dst
}

// AppendControl serializes a payload-less control frame onto dst.
func AppendControl(dst []byte, opcode uint32) []byte {
	return AppendFrame(dst, ControlTrack, opcode, nil)
}
