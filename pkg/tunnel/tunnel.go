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

// Package tunnel implements the printer camera tunnel engine: a handle-based
// poll-and-retry API over the proprietary binary transport. Every operation
// either completes, fails terminally, or returns ErrWouldBlock for the
// caller to retry; the engine runs no background goroutines and makes all
// forward progress inside the caller's invocation.
//
// Operations on one Tunnel must be invoked sequentially. Distinct tunnels
// are fully independent.
package tunnel

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/openturion/turion/pkg/logging"
	"github.com/openturion/turion/pkg/models"
	"github.com/openturion/turion/pkg/transport"
	"github.com/openturion/turion/pkg/wire"
)

// State is the tunnel lifecycle position.
type State int8

const (
	StateCreated State = iota
	StateOpened
	StateStreaming
	StateFailed
	StateClosed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpened:
		return "opened"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Stats counts forward progress on a tunnel, for diagnostics surfaces.
type Stats struct {
	Samples uint64
	Bytes   uint64
}

// Option customizes tunnel creation.
type Option func(*Tunnel)

// WithTransportOptions overrides transport tuning (dial timeout, poll
// window).
func WithTransportOptions(opts *transport.Options) Option {
	return func(t *Tunnel) {
		t.topts = opts
	}
}

// WithLogThreshold sets the minimum severity delivered to the logger sink.
func WithLogThreshold(level logging.Level) Option {
	return func(t *Tunnel) {
		t.sink = logging.NewSink(level)
	}
}

// Tunnel is one printer connection and its negotiated media stream. It is an
// opaque handle from the host's point of view: create it, open it, start the
// stream, poll for samples, close, destroy.
type Tunnel struct {
	id     string
	target *models.Target
	topts  *transport.Options
	dial   DialFunc
	sink   *logging.Sink

	state        State
	awaitingAuth bool
	startPending bool
	selector     int32

	sess    Session
	dec     *wire.Decoder
	streams []models.StreamInfo
	buf     sampleBuffer
	failure *Error

	opened time.Time
	stats  Stats
}

// Create parses a local-schema camera URL and returns a tunnel in the
// Created state. No network activity happens here; malformed input fails
// immediately with an InvalidURL error.
func Create(rawURL string, opts ...Option) (*Tunnel, error) {
	target, err := models.ParseCameraURL(rawURL)
	if err != nil {
		return nil, newError(CodeInvalidURL, err, "cannot parse camera url")
	}

	t := &Tunnel{
		id:     uuid.NewString(),
		target: target,
		dial:   defaultDial,
		sink:   logging.NewSink(logging.LevelDebug),
		state:  StateCreated,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// ID returns the tunnel's diagnostic identifier.
func (t *Tunnel) ID() string { return t.id }

// State returns the current lifecycle state.
func (t *Tunnel) State() State { return t.state }

// Target returns the immutable connection target.
func (t *Tunnel) Target() *models.Target { return t.target }

// TunnelStats returns progress counters.
func (t *Tunnel) TunnelStats() Stats { return t.stats }

// SetLogger replaces the diagnostic callback. The callback receives every
// event at or above the configured threshold until it is replaced or the
// tunnel is destroyed; message ownership passes to the callback.
func (t *Tunnel) SetLogger(cb logging.Callback, ctx interface{}) {
	t.sink.Set(cb, ctx)
}

// Open connects to the printer and performs the handshake. It returns
// ErrWouldBlock while the handshake acknowledgment is pending; the caller
// re-invokes until a terminal outcome. Connection and authentication
// failures are fatal to this tunnel instance; reconnect policy belongs to
// the caller.
func (t *Tunnel) Open() error {
	switch t.state {
	case StateOpened, StateStreaming:
		return nil
	case StateFailed:
		return t.failure
	case StateClosed, StateDestroyed:
		return t.closedError("open")
	case StateCreated:
	}

	if t.sess == nil {
		sess, err := t.dial(t.target, t.topts)
		if err != nil {
			return t.fail(CodeConnectError, err, "cannot connect to %s", t.target.Addr())
		}

		t.sess = sess
		t.dec = wire.NewDecoder()
		t.opened = time.Now()

		hello, err := wire.EncodeCommand(&wire.CameraCommand{
			Selector: wire.SelectorNone,
			Username: t.target.Username,
			Password: t.target.Password,
			Start:    true,
		})
		if err != nil {
			return t.fail(CodeConnectError, err, "cannot encode handshake")
		}

		if err := t.sess.TrySend(hello); err != nil && !errors.Is(err, ErrWouldBlock) {
			return t.fail(CodeConnectError, err, "cannot send handshake")
		}

		t.awaitingAuth = true
		t.logf(logging.LevelInfo, "tunnel %s: connected to %s, handshake in flight", t.id, t.target.Addr())
	}

	frame, err := t.poll()
	if err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return ErrWouldBlock
		}

		return t.failOnPollError(err, "handshake")
	}

	switch frame.Kind() {
	case wire.KindAuthOK:
		t.awaitingAuth = false
		t.state = StateOpened
		t.logf(logging.LevelInfo, "tunnel %s: handshake accepted", t.id)

		return nil
	case wire.KindAuthReject:
		return t.fail(CodeAuthError, nil, "printer rejected credentials for user %q", t.target.Username)
	case wire.KindTeardown:
		return t.fail(CodeConnectionLost, nil, "printer tore down the connection during handshake")
	default:
		return t.fail(CodeProtocolError, nil, "unexpected %s frame during handshake", frame.Kind())
	}
}

// StartStream sends the stream-start request for the given selector and
// waits for stream metadata. It returns ErrWouldBlock while metadata is
// pending and is idempotent on the wire: re-invocation never duplicates a
// pending start request.
func (t *Tunnel) StartStream(selector int32) error {
	switch t.state {
	case StateStreaming:
		return nil
	case StateFailed:
		return t.failure
	case StateClosed, StateDestroyed:
		return t.closedError("start stream")
	case StateCreated:
		return newError(CodeConnectError, nil, "tunnel is not opened")
	case StateOpened:
	}

	if selector < 0 {
		return newError(CodeUnsupportedStream, nil, "invalid stream selector %#x", selector)
	}

	if !t.startPending {
		start, err := wire.EncodeCommand(&wire.CameraCommand{
			Selector: selector,
			Username: t.target.Username,
			Password: t.target.Password,
			Start:    true,
		})
		if err != nil {
			return t.fail(CodeProtocolError, err, "cannot encode stream start")
		}

		if err := t.sess.TrySend(start); err != nil && !errors.Is(err, ErrWouldBlock) {
			return t.failOnPollError(err, "stream start")
		}

		t.startPending = true
		t.selector = selector
		t.logf(logging.LevelDebug, "tunnel %s: stream start sent, selector %#x", t.id, selector)
	}

	for {
		frame, err := t.poll()
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return ErrWouldBlock
			}

			return t.failOnPollError(err, "stream negotiation")
		}

		switch frame.Kind() {
		case wire.KindStreamInfo:
			streams, perr := wire.ParseStreamInfo(frame.Payload)
			if perr != nil {
				return t.fail(CodeProtocolError, perr, "bad stream metadata")
			}

			t.streams = streams
			t.startPending = false
			t.state = StateStreaming

			for i := range t.streams {
				t.logf(logging.LevelInfo, "tunnel %s: %s", t.id, t.streams[i].String())
			}

			return nil
		case wire.KindAuthOK:
			// Duplicate acknowledgment; harmless.
			continue
		case wire.KindAuthReject:
			return t.fail(CodeAuthError, nil, "printer rejected stream start for user %q", t.target.Username)
		case wire.KindTeardown:
			return t.fail(CodeConnectionLost, nil, "printer tore down the connection during negotiation")
		default:
			return t.fail(CodeProtocolError, nil, "unexpected %s frame during negotiation", frame.Kind())
		}
	}
}

// StreamCount returns the number of negotiated streams, zero before
// streaming starts.
func (t *Tunnel) StreamCount() int {
	return len(t.streams)
}

// StreamInfo returns the descriptor for one negotiated stream.
func (t *Tunnel) StreamInfo(index int) (*models.StreamInfo, error) {
	if index < 0 || index >= len(t.streams) {
		return nil, newError(CodeUnsupportedStream, nil, "no stream at index %d", index)
	}

	info := t.streams[index]

	return &info, nil
}

// ReadSample returns the next complete media sample. The previous sample is
// invalidated the moment a new one is produced; callers copy out what they
// need before the next call. ErrWouldBlock is returned while a full packet
// has not arrived yet, including when streaming has not started, so eager
// pollers converge without special-casing.
func (t *Tunnel) ReadSample() (*models.Sample, error) {
	switch t.state {
	case StateCreated, StateOpened:
		return nil, ErrWouldBlock
	case StateFailed:
		return nil, t.failure
	case StateClosed, StateDestroyed:
		return nil, t.closedError("read sample")
	case StateStreaming:
	}

	for {
		frame, err := t.poll()
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return nil, ErrWouldBlock
			}

			return nil, t.failOnPollError(err, "stream read")
		}

		switch frame.Kind() {
		case wire.KindMedia:
			if frame.Header.Track < 0 || int(frame.Header.Track) >= len(t.streams) {
				return nil, t.fail(CodeProtocolError, nil, "media packet for unknown stream %d", frame.Header.Track)
			}

			t.stats.Samples++
			t.stats.Bytes += uint64(len(frame.Payload))

			decodeTime := uint64(time.Since(t.opened).Milliseconds())

			return t.buf.produce(frame.Header, frame.Payload, decodeTime), nil
		case wire.KindStreamInfo:
			// Firmware may re-announce descriptors mid-stream.
			if streams, perr := wire.ParseStreamInfo(frame.Payload); perr == nil {
				t.streams = streams
			}

			continue
		case wire.KindAuthOK:
			continue
		case wire.KindTeardown:
			return nil, t.fail(CodeConnectionLost, nil, "printer ended the stream")
		default:
			return nil, t.fail(CodeProtocolError, nil, "unexpected %s frame while streaming", frame.Kind())
		}
	}
}

// Close tears down the transport. It is idempotent, always succeeds from the
// caller's perspective, and invalidates any outstanding sample. A stop
// command is sent best-effort when a stream was active.
func (t *Tunnel) Close() error {
	switch t.state {
	case StateClosed, StateDestroyed:
		return nil
	default:
	}

	if t.sess != nil {
		if t.state == StateStreaming {
			if stop, err := wire.EncodeCommand(&wire.CameraCommand{
				Selector: t.selector,
				Username: t.target.Username,
				Password: t.target.Password,
				Start:    false,
			}); err == nil {
				_ = t.sess.TrySend(stop)
			}
		}

		_ = t.sess.Close()
		t.sess = nil
	}

	if t.dec != nil {
		t.dec.Reset()
	}

	t.streams = nil
	t.buf.release()
	t.awaitingAuth = false
	t.startPending = false
	t.state = StateClosed

	t.logf(logging.LevelInfo, "tunnel %s: closed", t.id)

	return nil
}

// Destroy releases all engine-owned memory for the tunnel. Calling it
// without a prior Close implicitly closes first. After Destroy the handle is
// dead; only further Destroy calls are no-ops.
func (t *Tunnel) Destroy() {
	if t.state == StateDestroyed {
		return
	}

	_ = t.Close()

	t.dec = nil
	t.failure = nil
	t.sink.Set(nil, nil)
	t.state = StateDestroyed
}

// poll flushes pending writes, then decodes the next complete frame, pulling
// bytes from the session as needed. It returns ErrWouldBlock when no
// complete frame is available yet.
func (t *Tunnel) poll() (*wire.Frame, error) {
	if err := t.sess.Flush(); err != nil && !errors.Is(err, ErrWouldBlock) {
		return nil, err
	}

	for {
		frame, err := t.dec.Next()
		if err == nil {
			return frame, nil
		}

		if !errors.Is(err, wire.ErrNeedMore) {
			return nil, err
		}

		data, rerr := t.sess.TryReceive()
		if rerr != nil {
			return nil, rerr
		}

		t.dec.Feed(data)
	}
}

// failOnPollError classifies a terminal poll failure into the result
// vocabulary and parks the tunnel in the failed state.
func (t *Tunnel) failOnPollError(err error, during string) *Error {
	var perr *wire.ProtocolError
	if errors.As(err, &perr) {
		return t.fail(CodeProtocolError, err, "protocol violation during %s", during)
	}

	if t.state == StateCreated || t.awaitingAuth {
		return t.fail(CodeConnectError, err, "connection failed during %s", during)
	}

	return t.fail(CodeConnectionLost, err, "connection lost during %s", during)
}

func (t *Tunnel) fail(kind Code, cause error, format string, args ...interface{}) *Error {
	t.state = StateFailed
	t.failure = newError(kind, cause, format, args...)

	t.logf(logging.LevelError, "tunnel %s: %s", t.id, t.failure.Error())

	return t.failure
}

func (t *Tunnel) closedError(op string) *Error {
	return newError(CodeConnectionLost, nil, "cannot %s: tunnel is %s", op, t.state)
}

func (t *Tunnel) logf(level logging.Level, format string, args ...interface{}) {
	t.sink.Emit(level, format, args...)
}
