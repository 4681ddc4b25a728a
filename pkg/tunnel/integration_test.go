package tunnel

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openturion/turion/pkg/simulator"
	"github.com/openturion/turion/pkg/wire"
)

// These tests drive a real tunnel against the TLS printer simulator.

func startPrinter(t *testing.T, script simulator.Script) *simulator.Printer {
	t.Helper()

	printer := simulator.New(script)
	require.NoError(t, printer.Start("127.0.0.1:0"))
	t.Cleanup(printer.Stop)

	return printer
}

func printerURL(printer *simulator.Printer, user, passwd string) string {
	return cameraURL(printer.Addr(), user, passwd)
}

// cameraURL rewrites host:port into the local-schema URL form.
func cameraURL(addr, user, passwd string) string {
	host, port, _ := net.SplitHostPort(addr)

	return fmt.Sprintf("bambu:///local/%s.?port=%s&user=%s&passwd=%s", host, port, user, passwd)
}

// await retries op at a short cadence until a terminal outcome.
func await(t *testing.T, op func() error) error {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)

	for {
		err := op()
		if !errors.Is(err, ErrWouldBlock) {
			return err
		}

		require.False(t, time.Now().After(deadline), "timed out polling")
		time.Sleep(2 * time.Millisecond)
	}
}

func TestTunnelEndToEnd(t *testing.T) {
	frames := [][]byte{
		[]byte("frame-alpha"),
		[]byte("frame-bravo-which-is-longer"),
		[]byte("frame-charlie"),
	}

	printer := startPrinter(t, simulator.Script{
		Username: "bblp",
		Password: "12345678",
		Frames:   frames,
	})

	tn, err := Create(printerURL(printer, "bblp", "12345678"))
	require.NoError(t, err)

	defer tn.Destroy()

	require.NoError(t, await(t, tn.Open))
	assert.Equal(t, StateOpened, tn.State())

	require.NoError(t, await(t, func() error { return tn.StartStream(wire.SelectorVideo) }))
	assert.Equal(t, StateStreaming, tn.State())

	require.Equal(t, 1, tn.StreamCount())

	info, err := tn.StreamInfo(0)
	require.NoError(t, err)
	assert.Equal(t, int32(1280), info.Width)
	assert.Equal(t, int32(720), info.Height)

	for i, want := range frames {
		var sample []byte

		require.NoError(t, await(t, func() error {
			s, rerr := tn.ReadSample()
			if rerr != nil {
				return rerr
			}

			sample = append([]byte(nil), s.Data...)

			return nil
		}), "frame %d", i)

		assert.Equal(t, want, sample, "frame %d", i)
	}

	stats := tn.TunnelStats()
	assert.Equal(t, uint64(len(frames)), stats.Samples)

	require.NoError(t, tn.Close())
	assert.Equal(t, StateClosed, tn.State())
}

func TestTunnelAuthRejected(t *testing.T) {
	printer := startPrinter(t, simulator.Script{
		Username: "bblp",
		Password: "correct",
	})

	tn, err := Create(printerURL(printer, "bblp", "wrong"))
	require.NoError(t, err)

	defer tn.Destroy()

	oerr := await(t, tn.Open)
	require.Error(t, oerr)
	assert.Equal(t, CodeAuthError, CodeOf(oerr))
	assert.Equal(t, StateFailed, tn.State())
}

func TestTunnelConnectionDroppedMidStream(t *testing.T) {
	printer := startPrinter(t, simulator.Script{
		Frames:    [][]byte{[]byte("one"), []byte("two"), []byte("three")},
		DropAfter: 1,
	})

	tn, err := Create(printerURL(printer, "bblp", "pw"))
	require.NoError(t, err)

	defer tn.Destroy()

	require.NoError(t, await(t, tn.Open))
	require.NoError(t, await(t, func() error { return tn.StartStream(wire.SelectorVideo) }))

	readOne := func() ([]byte, error) {
		var data []byte

		err := await(t, func() error {
			s, rerr := tn.ReadSample()
			if rerr != nil {
				return rerr
			}

			data = append([]byte(nil), s.Data...)

			return nil
		})

		return data, err
	}

	first, err := readOne()
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), first)

	_, err = readOne()
	require.Error(t, err)
	assert.Equal(t, CodeConnectionLost, CodeOf(err))
	assert.Equal(t, StateFailed, tn.State())

	// Only close and destroy remain meaningful.
	require.NoError(t, tn.Close())
	tn.Destroy()
	assert.Equal(t, StateDestroyed, tn.State())
}

func TestTunnelExplicitTeardown(t *testing.T) {
	printer := startPrinter(t, simulator.Script{
		Frames:   [][]byte{[]byte("only")},
		Teardown: true,
	})

	tn, err := Create(printerURL(printer, "u", "p"))
	require.NoError(t, err)

	defer tn.Destroy()

	require.NoError(t, await(t, tn.Open))
	require.NoError(t, await(t, func() error { return tn.StartStream(wire.SelectorVideo) }))

	var got []byte

	require.NoError(t, await(t, func() error {
		s, rerr := tn.ReadSample()
		if rerr != nil {
			return rerr
		}

		got = append([]byte(nil), s.Data...)

		return nil
	}))
	assert.Equal(t, []byte("only"), got)

	rerr := await(t, func() error {
		_, e := tn.ReadSample()
		return e
	})
	require.Error(t, rerr)
	assert.Equal(t, CodeConnectionLost, CodeOf(rerr))
}

func TestTunnelConnectRefused(t *testing.T) {
	// Grab a free port, then close the listener so nothing is there.
	printer := startPrinter(t, simulator.Script{})
	addr := printer.Addr()
	printer.Stop()

	tn, err := Create(cameraURL(addr, "u", "p"))
	require.NoError(t, err)

	defer tn.Destroy()

	oerr := await(t, tn.Open)
	require.Error(t, oerr)
	assert.Equal(t, CodeConnectError, CodeOf(oerr))
}
