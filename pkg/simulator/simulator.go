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

// Package simulator implements a scriptable fake printer speaking the camera
// tunnel protocol over TLS. It backs the engine's integration tests and the
// fakeprinter tool used for manual testing against real slicer hosts.
package simulator

import (
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/openturion/turion/pkg/models"
	"github.com/openturion/turion/pkg/wire"
)

// Script drives the simulated printer's behavior for every accepted
// connection.
type Script struct {
	// Username and Password, when set, are checked against the client's
	// credentials; a mismatch is rejected. When empty, any credentials
	// are accepted unless RejectAuth forces a rejection.
	Username string
	Password string

	// RejectAuth rejects every handshake regardless of credentials.
	RejectAuth bool

	// Streams advertised after a start request. Defaults to one MJPEG
	// video stream when nil.
	Streams []models.StreamInfo

	// Frames are the media payloads sent on stream index 0, in order.
	Frames [][]byte

	// FrameInterval paces frame delivery. Zero sends back-to-back.
	FrameInterval time.Duration

	// DropAfter closes the connection abruptly after that many frames
	// have been sent, simulating a transport reset mid-stream. Negative
	// disables the behavior.
	DropAfter int

	// Loop repeats the frame list until the client goes away.
	Loop bool

	// Teardown sends an explicit teardown notification once all frames
	// are delivered, instead of keeping the connection idle.
	Teardown bool
}

// DefaultStreams matches what current printer firmware advertises: a single
// MJPEG chamber camera stream.
func DefaultStreams() []models.StreamInfo {
	return []models.StreamInfo{{
		Index:        0,
		Type:         models.StreamTypeVideo,
		SubType:      models.StreamSubTypeMJPEG,
		Width:        1280,
		Height:       720,
		FrameRate:    1,
		MaxFrameSize: 32549,
	}}
}

// Printer is a running simulator instance.
type Printer struct {
	script Script

	ln net.Listener
	wg sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	done  bool
}

// New returns a printer driven by the given script.
func New(script Script) *Printer {
	if script.Streams == nil {
		script.Streams = DefaultStreams()
	}

	if script.DropAfter == 0 {
		script.DropAfter = -1
	}

	return &Printer{
		script: script,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start listens on addr (use "127.0.0.1:0" in tests) and serves connections
// until Stop.
func (p *Printer) Start(addr string) error {
	cfg, err := NewTLSConfig()
	if err != nil {
		return err
	}

	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return err
	}

	p.ln = ln

	p.wg.Add(1)
	go p.acceptLoop()

	return nil
}

// Addr returns the listen address, host:port.
func (p *Printer) Addr() string {
	return p.ln.Addr().String()
}

// Stop closes the listener and every live connection, then waits for the
// serving goroutines to drain.
func (p *Printer) Stop() {
	p.mu.Lock()
	p.done = true

	if p.ln != nil {
		_ = p.ln.Close()
	}

	for conn := range p.conns {
		_ = conn.Close()
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Printer) acceptLoop() {
	defer p.wg.Done()

	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}

		if !p.track(conn) {
			_ = conn.Close()
			return
		}

		p.wg.Add(1)

		go func() {
			defer p.wg.Done()
			defer p.untrack(conn)

			p.serve(conn)
		}()
	}
}

func (p *Printer) track(conn net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return false
	}

	p.conns[conn] = struct{}{}

	return true
}

func (p *Printer) untrack(conn net.Conn) {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()

	_ = conn.Close()
}

// serve walks one connection through the scripted protocol exchange:
// handshake, stream negotiation, media delivery.
func (p *Printer) serve(conn net.Conn) {
	cmd, err := p.readCommand(conn)
	if err != nil {
		return
	}

	if !p.authenticate(cmd) {
		_, _ = conn.Write(wire.AppendControl(nil, wire.CtrlAuthReject))
		return
	}

	if _, err := conn.Write(wire.AppendControl(nil, wire.CtrlAuthOK)); err != nil {
		return
	}

	// The engine sends a credentials-only hello (selector 0) and a
	// separate start request. Legacy capture tools send a single combined
	// packet; both are honored.
	if cmd.Selector == wire.SelectorNone {
		cmd, err = p.readCommand(conn)
		if err != nil || !cmd.Start {
			return
		}
	}

	info := wire.EncodeStreamInfo(p.script.Streams)
	if _, err := conn.Write(wire.AppendFrame(nil, wire.ControlTrack, wire.CtrlStreamInfo, info)); err != nil {
		return
	}

	p.streamFrames(conn)
}

func (p *Printer) authenticate(cmd *wire.CameraCommand) bool {
	if p.script.RejectAuth {
		return false
	}

	if p.script.Username != "" && cmd.Username != p.script.Username {
		return false
	}

	if p.script.Password != "" && cmd.Password != p.script.Password {
		return false
	}

	return true
}

func (p *Printer) streamFrames(conn net.Conn) {
	sent := 0

	for {
		for _, payload := range p.script.Frames {
			if p.script.DropAfter >= 0 && sent >= p.script.DropAfter {
				// Abrupt close, no teardown notification.
				return
			}

			if p.script.FrameInterval > 0 {
				time.Sleep(p.script.FrameInterval)
			}

			if _, err := conn.Write(wire.AppendFrame(nil, 0, 0, payload)); err != nil {
				return
			}

			sent++
		}

		if !p.script.Loop {
			break
		}

		if p.stopped() {
			return
		}
	}

	if p.script.Teardown {
		_, _ = conn.Write(wire.AppendControl(nil, wire.CtrlTeardown))
	}

	// Linger until the client disconnects or sends a stop command.
	p.drain(conn)
}

func (p *Printer) stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.done
}

// readCommand reads one 80-byte camera command.
func (p *Printer) readCommand(conn net.Conn) (*wire.CameraCommand, error) {
	buf := make([]byte, wire.CommandSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}

	return wire.ParseCommand(buf)
}

func (p *Printer) drain(conn net.Conn) {
	for {
		cmd, err := p.readCommand(conn)
		if err != nil {
			return
		}

		if !cmd.Start {
			return
		}
	}
}
