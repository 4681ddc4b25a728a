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

// Package transport owns the TCP+TLS socket to the printer and exposes
// non-blocking send/receive semantics on top of it. Printer firmware expects
// TLS 1.2 with a self-signed certificate, so verification is disabled; the
// tunnel is only ever used on the local network.
package transport

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/openturion/turion/pkg/models"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultPollTimeout = 2 * time.Millisecond

	receiveBufferSize = 32 * 1024
)

// Options tunes session establishment and polling behavior. The zero value
// selects defaults suitable for LAN printers.
type Options struct {
	// DialTimeout bounds the TCP dial plus the TLS handshake.
	DialTimeout time.Duration

	// PollTimeout is the deadline applied to each non-blocking read or
	// write attempt. Keep it small: the caller drives progress by
	// re-invoking, not by waiting here.
	PollTimeout time.Duration

	// DisableTLS dials a plain TCP session. Only used by tests; all known
	// firmware requires TLS.
	DisableTLS bool
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}

	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}

	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}

	return opts
}

// Session is one established connection to a printer. It buffers partially
// sent writes internally so callers only ever deal in whole messages, and it
// is not safe for concurrent use except for Close.
type Session struct {
	conn net.Conn
	opts Options

	pending []byte
	rbuf    [receiveBufferSize]byte

	closeOnce sync.Once
	closed    bool
}

// Connect establishes the socket to the target and completes the TLS
// handshake, bounded by DialTimeout. Connection failures are classified into
// the package's error kinds so the caller can distinguish refused from
// timed-out targets.
func Connect(target *models.Target, o *Options) (*Session, error) {
	opts := o.withDefaults()

	raw, err := net.DialTimeout("tcp", target.Addr(), opts.DialTimeout)
	if err != nil {
		return nil, classifyDialError(err)
	}

	conn := raw

	if !opts.DisableTLS {
		tlsConn := tls.Client(raw, &tls.Config{
			// The printer presents a self-signed certificate and pins
			// nothing; the vendor library skips verification too.
			InsecureSkipVerify: true, //nolint:gosec
			MinVersion:         tls.VersionTLS12,
			MaxVersion:         tls.VersionTLS12,
		})

		if err := tlsConn.SetDeadline(time.Now().Add(opts.DialTimeout)); err != nil {
			_ = raw.Close()
			return nil, err
		}

		if err := tlsConn.Handshake(); err != nil {
			_ = raw.Close()
			return nil, classifyDialError(err)
		}

		if err := tlsConn.SetDeadline(time.Time{}); err != nil {
			_ = tlsConn.Close()
			return nil, err
		}

		conn = tlsConn
	}

	return &Session{conn: conn, opts: opts}, nil
}

// TrySend queues p and attempts to flush everything queued so far. It
// returns nil once all queued bytes are on the wire, ErrWouldBlock when
// unsent bytes remain, or a classified terminal error.
func (s *Session) TrySend(p []byte) error {
	if s.closed {
		return ErrSessionClosed
	}

	s.pending = append(s.pending, p...)

	return s.Flush()
}

// Flush attempts to drain the pending write buffer.
func (s *Session) Flush() error {
	if s.closed {
		return ErrSessionClosed
	}

	if len(s.pending) == 0 {
		return nil
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.PollTimeout)); err != nil {
		return classifyIOError(err)
	}

	n, err := s.conn.Write(s.pending)
	if n > 0 {
		s.pending = s.pending[n:]
	}

	if err != nil {
		// A timed-out TLS write leaves the record stream unusable, but
		// the command packets sent here are far smaller than any socket
		// buffer; a genuine timeout means the peer has stalled.
		if isTimeout(err) {
			return ErrWouldBlock
		}

		return classifyIOError(err)
	}

	if len(s.pending) > 0 {
		return ErrWouldBlock
	}

	return nil
}

// TryReceive performs one non-blocking read. It returns the received bytes,
// ErrWouldBlock when nothing is available within the poll window, or a
// classified terminal error. The returned slice is valid until the next
// TryReceive call.
func (s *Session) TryReceive() ([]byte, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.PollTimeout)); err != nil {
		return nil, classifyIOError(err)
	}

	n, err := s.conn.Read(s.rbuf[:])
	if n > 0 {
		return s.rbuf[:n], nil
	}

	if err != nil {
		if isTimeout(err) {
			return nil, ErrWouldBlock
		}

		return nil, classifyIOError(err)
	}

	return nil, ErrWouldBlock
}

// Close performs a best-effort graceful shutdown. It is idempotent and safe
// to call from a goroutine other than the polling one.
func (s *Session) Close() error {
	var err error

	s.closeOnce.Do(func() {
		s.closed = true
		s.pending = nil
		err = s.conn.Close()
	})

	return err
}

// RemoteAddr reports the peer address for diagnostics.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
