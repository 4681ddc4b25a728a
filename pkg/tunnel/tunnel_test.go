package tunnel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/openturion/turion/pkg/models"
	"github.com/openturion/turion/pkg/transport"
	"github.com/openturion/turion/pkg/wire"
)

const testURL = "bambu:///local/192.168.1.100.?user=bblp&passwd=12345678"

// sessionScript backs a MockSession with queues so tests drive the state
// machine by supplying wire bytes instead of choreographing call order.
type sessionScript struct {
	recv    [][]byte
	recvErr error
	sent    [][]byte
}

func (s *sessionScript) push(frames ...[]byte) {
	s.recv = append(s.recv, frames...)
}

func (s *sessionScript) sentCommands(t *testing.T) []*wire.CameraCommand {
	t.Helper()

	cmds := make([]*wire.CameraCommand, 0, len(s.sent))

	for _, raw := range s.sent {
		cmd, err := wire.ParseCommand(raw)
		require.NoError(t, err)

		cmds = append(cmds, cmd)
	}

	return cmds
}

func newScriptedSession(ctrl *gomock.Controller) (*MockSession, *sessionScript) {
	script := &sessionScript{}

	sess := NewMockSession(ctrl)
	sess.EXPECT().Flush().Return(nil).AnyTimes()
	sess.EXPECT().Close().Return(nil).AnyTimes()
	sess.EXPECT().TrySend(gomock.Any()).DoAndReturn(func(p []byte) error {
		script.sent = append(script.sent, append([]byte(nil), p...))
		return nil
	}).AnyTimes()
	sess.EXPECT().TryReceive().DoAndReturn(func() ([]byte, error) {
		if len(script.recv) == 0 {
			if script.recvErr != nil {
				return nil, script.recvErr
			}

			return nil, transport.ErrWouldBlock
		}

		data := script.recv[0]
		script.recv = script.recv[1:]

		return data, nil
	}).AnyTimes()

	return sess, script
}

func newTestTunnel(t *testing.T, sess Session) *Tunnel {
	t.Helper()

	tn, err := Create(testURL)
	require.NoError(t, err)

	tn.dial = func(*models.Target, *transport.Options) (Session, error) {
		return sess, nil
	}

	return tn
}

func streamInfoFrame(streams ...models.StreamInfo) []byte {
	if streams == nil {
		streams = []models.StreamInfo{{
			Type:         models.StreamTypeVideo,
			SubType:      models.StreamSubTypeMJPEG,
			Width:        1280,
			Height:       720,
			FrameRate:    1,
			MaxFrameSize: 32549,
		}}
	}

	return wire.AppendFrame(nil, wire.ControlTrack, wire.CtrlStreamInfo, wire.EncodeStreamInfo(streams))
}

func openAndStart(t *testing.T, tn *Tunnel, script *sessionScript) {
	t.Helper()

	script.push(wire.AppendControl(nil, wire.CtrlAuthOK))
	require.NoError(t, tn.Open())

	script.push(streamInfoFrame())
	require.NoError(t, tn.StartStream(wire.SelectorVideo))
	require.Equal(t, StateStreaming, tn.State())
}

func TestCreateRejectsMalformedURL(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
	}{
		{name: "wrong schema", rawURL: "http://example.com"},
		{name: "missing credentials", rawURL: "bambu:///local/h.?port=6000"},
		{name: "empty", rawURL: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(tt.rawURL)
			require.Error(t, err)
			assert.Equal(t, CodeInvalidURL, CodeOf(err))
		})
	}
}

func TestCreateInitialState(t *testing.T) {
	tn, err := Create(testURL)
	require.NoError(t, err)

	assert.Equal(t, StateCreated, tn.State())
	assert.NotEmpty(t, tn.ID())
	assert.Equal(t, "192.168.1.100:6000", tn.Target().Addr())
	assert.Zero(t, tn.StreamCount())
}

func TestOpenHandshake(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess, script := newScriptedSession(ctrl)
	tn := newTestTunnel(t, sess)

	// Acknowledgment has not arrived: the caller must retry.
	err := tn.Open()
	require.ErrorIs(t, err, ErrWouldBlock)
	assert.Equal(t, CodeWouldBlock, CodeOf(err))
	assert.Equal(t, StateCreated, tn.State())

	// The handshake was sent exactly once despite the retry loop.
	cmds := script.sentCommands(t)
	require.Len(t, cmds, 1)
	assert.Equal(t, wire.SelectorNone, cmds[0].Selector)
	assert.True(t, cmds[0].Start)
	assert.Equal(t, "bblp", cmds[0].Username)
	assert.Equal(t, "12345678", cmds[0].Password)

	script.push(wire.AppendControl(nil, wire.CtrlAuthOK))
	require.NoError(t, tn.Open())
	assert.Equal(t, StateOpened, tn.State())

	// Open is a no-op once opened.
	require.NoError(t, tn.Open())
	assert.Len(t, script.sentCommands(t), 1)
}

func TestOpenAuthRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess, script := newScriptedSession(ctrl)
	tn := newTestTunnel(t, sess)

	script.push(wire.AppendControl(nil, wire.CtrlAuthReject))

	err := tn.Open()
	require.Error(t, err)
	assert.Equal(t, CodeAuthError, CodeOf(err))
	assert.Equal(t, StateFailed, tn.State())

	// The failure is sticky.
	again := tn.Open()
	assert.Equal(t, err, again)
}

func TestOpenDialFailure(t *testing.T) {
	tn, err := Create(testURL)
	require.NoError(t, err)

	tn.dial = func(*models.Target, *transport.Options) (Session, error) {
		return nil, transport.ErrConnectionRefused
	}

	oerr := tn.Open()
	require.Error(t, oerr)
	assert.Equal(t, CodeConnectError, CodeOf(oerr))
	assert.ErrorIs(t, oerr, transport.ErrConnectionRefused)
}

func TestOpenPeerClosedDuringHandshake(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess, script := newScriptedSession(ctrl)
	tn := newTestTunnel(t, sess)

	script.recvErr = transport.ErrPeerClosed

	err := tn.Open()
	require.Error(t, err)
	assert.Equal(t, CodeConnectError, CodeOf(err))
}

func TestStartStreamBeforeOpen(t *testing.T) {
	tn, err := Create(testURL)
	require.NoError(t, err)

	serr := tn.StartStream(wire.SelectorVideo)
	require.Error(t, serr)
	assert.Equal(t, CodeConnectError, CodeOf(serr))

	// The tunnel is still usable; the error is an input error.
	assert.Equal(t, StateCreated, tn.State())
}

func TestStartStreamNegotiation(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess, script := newScriptedSession(ctrl)
	tn := newTestTunnel(t, sess)

	script.push(wire.AppendControl(nil, wire.CtrlAuthOK))
	require.NoError(t, tn.Open())

	// Metadata pending: would-block, and the start request is not resent
	// on retries.
	require.ErrorIs(t, tn.StartStream(wire.SelectorVideo), ErrWouldBlock)
	require.ErrorIs(t, tn.StartStream(wire.SelectorVideo), ErrWouldBlock)

	cmds := script.sentCommands(t)
	require.Len(t, cmds, 2)
	assert.Equal(t, wire.SelectorVideo, cmds[1].Selector)
	assert.True(t, cmds[1].Start)

	script.push(streamInfoFrame())
	require.NoError(t, tn.StartStream(wire.SelectorVideo))
	assert.Equal(t, StateStreaming, tn.State())

	require.Equal(t, 1, tn.StreamCount())

	info, err := tn.StreamInfo(0)
	require.NoError(t, err)
	assert.Equal(t, int32(1280), info.Width)
	assert.Equal(t, int32(720), info.Height)
	assert.Equal(t, models.StreamSubTypeMJPEG, info.SubType)

	_, err = tn.StreamInfo(5)
	require.Error(t, err)
	assert.Equal(t, CodeUnsupportedStream, CodeOf(err))

	// StartStream is a no-op once streaming.
	require.NoError(t, tn.StartStream(wire.SelectorVideo))
	assert.Len(t, script.sentCommands(t), 2)
}

func TestStartStreamInvalidSelector(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess, script := newScriptedSession(ctrl)
	tn := newTestTunnel(t, sess)

	script.push(wire.AppendControl(nil, wire.CtrlAuthOK))
	require.NoError(t, tn.Open())

	err := tn.StartStream(-7)
	require.Error(t, err)
	assert.Equal(t, CodeUnsupportedStream, CodeOf(err))
	assert.Equal(t, StateOpened, tn.State())
}

func TestReadSampleBeforeStreamingWouldBlocks(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess, script := newScriptedSession(ctrl)
	tn := newTestTunnel(t, sess)

	_, err := tn.ReadSample()
	assert.ErrorIs(t, err, ErrWouldBlock)

	script.push(wire.AppendControl(nil, wire.CtrlAuthOK))
	require.NoError(t, tn.Open())

	_, err = tn.ReadSample()
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestReadSampleDeliversFramesInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess, script := newScriptedSession(ctrl)
	tn := newTestTunnel(t, sess)

	openAndStart(t, tn, script)

	first := []byte("jpeg-frame-one")
	second := []byte("jpeg-frame-two-longer")

	script.push(wire.AppendFrame(nil, 0, 0, first))
	script.push(wire.AppendFrame(nil, 0, 0, second))

	s1, err := tn.ReadSample()
	require.NoError(t, err)
	assert.Equal(t, first, s1.Data)
	assert.Equal(t, int32(0), s1.Track)

	keep := s1.Clone()

	s2, err := tn.ReadSample()
	require.NoError(t, err)
	assert.Equal(t, second, s2.Data)

	// The clone taken before the second read is untouched.
	assert.Equal(t, first, keep.Data)

	_, err = tn.ReadSample()
	assert.ErrorIs(t, err, ErrWouldBlock)

	stats := tn.TunnelStats()
	assert.Equal(t, uint64(2), stats.Samples)
	assert.Equal(t, uint64(len(first)+len(second)), stats.Bytes)
}

func TestReadSampleSkipsInterleavedControl(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess, script := newScriptedSession(ctrl)
	tn := newTestTunnel(t, sess)

	openAndStart(t, tn, script)

	// A mid-stream metadata re-announcement precedes the media packet.
	script.push(streamInfoFrame())
	script.push(wire.AppendFrame(nil, 0, 0, []byte("frame")))

	sample, err := tn.ReadSample()
	require.NoError(t, err)
	assert.Equal(t, []byte("frame"), sample.Data)
}

func TestReadSampleTeardown(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess, script := newScriptedSession(ctrl)
	tn := newTestTunnel(t, sess)

	openAndStart(t, tn, script)

	script.push(wire.AppendControl(nil, wire.CtrlTeardown))

	_, err := tn.ReadSample()
	require.Error(t, err)
	assert.Equal(t, CodeConnectionLost, CodeOf(err))
	assert.Equal(t, StateFailed, tn.State())

	// Failure is sticky across reads.
	_, again := tn.ReadSample()
	assert.Equal(t, err, again)

	// Close still succeeds from the failed state.
	require.NoError(t, tn.Close())
	assert.Equal(t, StateClosed, tn.State())
}

func TestReadSampleUnknownTrack(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess, script := newScriptedSession(ctrl)
	tn := newTestTunnel(t, sess)

	openAndStart(t, tn, script)

	script.push(wire.AppendFrame(nil, 5, 0, []byte("stray")))

	_, err := tn.ReadSample()
	require.Error(t, err)
	assert.Equal(t, CodeProtocolError, CodeOf(err))
}

func TestCloseSendsStopAndIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess, script := newScriptedSession(ctrl)
	tn := newTestTunnel(t, sess)

	openAndStart(t, tn, script)

	require.NoError(t, tn.Close())
	assert.Equal(t, StateClosed, tn.State())

	cmds := script.sentCommands(t)
	require.Len(t, cmds, 3)
	assert.False(t, cmds[2].Start)
	assert.Equal(t, wire.SelectorVideo, cmds[2].Selector)

	// Idempotent, and no further wire traffic.
	require.NoError(t, tn.Close())
	assert.Len(t, script.sentCommands(t), 3)

	// Every operation after close reports the closed state.
	require.Error(t, tn.Open())
	require.Error(t, tn.StartStream(wire.SelectorVideo))

	_, err := tn.ReadSample()
	require.Error(t, err)
	assert.Equal(t, CodeConnectionLost, CodeOf(err))
}

func TestDestroyImplicitlyCloses(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess, script := newScriptedSession(ctrl)
	tn := newTestTunnel(t, sess)

	openAndStart(t, tn, script)

	tn.Destroy()
	assert.Equal(t, StateDestroyed, tn.State())

	// Destroy is a no-op afterwards and other operations fail cleanly.
	tn.Destroy()

	require.Error(t, tn.Open())

	_, err := tn.ReadSample()
	require.Error(t, err)
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: CodeSuccess},
		{name: "would block", err: ErrWouldBlock, want: CodeWouldBlock},
		{name: "wrapped would block", err: newWrapped(ErrWouldBlock), want: CodeWouldBlock},
		{name: "invalid schema", err: models.ErrInvalidSchema, want: CodeInvalidURL},
		{name: "invalid url", err: models.ErrInvalidURL, want: CodeInvalidURL},
		{name: "typed error", err: newError(CodeAuthError, nil, "rejected"), want: CodeAuthError},
		{name: "unknown error", err: errors.New("boom"), want: CodeConnectError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func newWrapped(err error) error {
	return newError(CodeConnectionLost, err, "wrapped")
}
