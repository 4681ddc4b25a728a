package wire

import (
	"bytes"
	"fmt"
)

const (
	// CommandPayloadSize is the credentials block: 32 bytes of username
	// followed by 32 bytes of password, both zero-padded.
	CommandPayloadSize = 64

	// CommandSize is the full on-wire size of a camera command.
	CommandSize = HeaderSize + CommandPayloadSize

	credentialFieldSize = 32
)

// CameraCommand is the client-to-printer control message that authenticates
// the session and starts or stops a media stream. The header's Length field
// doubles as the start/stop switch: firmware treats a command announcing the
// credentials block as "start" and a zero-length command as "stop", while
// the credentials block itself is always transmitted.
type CameraCommand struct {
	Selector int32
	Username string
	Password string
	Start    bool
}

// EncodeCommand produces the exact 80-byte sequence to transmit.
func EncodeCommand(cmd *CameraCommand) ([]byte, error) {
	if len(cmd.Username) > credentialFieldSize {
		return nil, fmt.Errorf("wire: username exceeds %d bytes", credentialFieldSize)
	}

	if len(cmd.Password) > credentialFieldSize {
		return nil, fmt.Errorf("wire: password exceeds %d bytes", credentialFieldSize)
	}

	h := Header{
		Track: cmd.Selector,
	}
	if cmd.Start {
		h.Length = CommandPayloadSize
	}

	buf := make([]byte, CommandSize)
	h.marshal(buf[:HeaderSize])

	copy(buf[HeaderSize:HeaderSize+credentialFieldSize], cmd.Username)
	copy(buf[HeaderSize+credentialFieldSize:], cmd.Password)

	return buf, nil
}

// ParseCommand decodes an 80-byte camera command. It is the simulator-side
// counterpart of EncodeCommand.
func ParseCommand(raw []byte) (*CameraCommand, error) {
	if len(raw) != CommandSize {
		return nil, protocolErrorf("command must be %d bytes, got %d", CommandSize, len(raw))
	}

	h := parseHeader(raw[:HeaderSize])

	switch h.Length {
	case CommandPayloadSize, 0:
	default:
		return nil, protocolErrorf("command announces %d payload bytes", h.Length)
	}

	return &CameraCommand{
		Selector: h.Track,
		Username: trimCredential(raw[HeaderSize : HeaderSize+credentialFieldSize]),
		Password: trimCredential(raw[HeaderSize+credentialFieldSize:]),
		Start:    h.Length == CommandPayloadSize,
	}, nil
}

func trimCredential(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}

	return string(field)
}
