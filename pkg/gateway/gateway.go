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

// Package gateway exposes a printer camera tunnel over HTTP: an
// OctoPrint-compatible identity endpoint, JPEG snapshots, an MJPEG
// multipart stream, and a websocket frame push. It is a reference caller of
// the tunnel engine: it polls with short sleeps and tears down and recreates
// the whole tunnel on any terminal error.
package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/openturion/turion/pkg/logging"
	"github.com/openturion/turion/pkg/models"
	"github.com/openturion/turion/pkg/tunnel"
	"github.com/openturion/turion/pkg/wire"
)

const wsWriteTimeout = 5 * time.Second

// Server captures frames from one printer and serves them to HTTP clients.
type Server struct {
	cfg Config
	log zerolog.Logger

	mu      sync.RWMutex
	latest  []byte
	seq     uint64
	frameCh chan struct{}
	info    *models.StreamInfo

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}

	frames  atomic.Uint64
	bytes   atomic.Uint64
	reinits atomic.Uint64

	done chan struct{}
}

// NewServer builds a gateway server from a validated config.
func NewServer(cfg Config, logger zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Server{
		cfg:     cfg,
		log:     logger,
		frameCh: make(chan struct{}),
		clients: make(map[*websocket.Conn]struct{}),
	}, nil
}

// Start launches the capture loop. It satisfies lifecycle.Service.
func (s *Server) Start(ctx context.Context) error {
	s.done = make(chan struct{})

	go s.captureLoop(ctx)

	return nil
}

// Stop waits for the capture loop to drain and closes push clients.
func (s *Server) Stop(ctx context.Context) error {
	if s.done != nil {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close()
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	return nil
}

// captureLoop keeps one tunnel alive at a time, recreating it from scratch
// whenever a terminal error surfaces.
func (s *Server) captureLoop(ctx context.Context) {
	defer close(s.done)

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MaxFPS), 1)

	for ctx.Err() == nil {
		err := s.captureOnce(ctx, limiter)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			s.reinits.Add(1)
			s.log.Warn().Err(err).Msg("tunnel failed, reinitializing")
		}

		if !sleepCtx(ctx, time.Duration(s.cfg.ReinitDelay)) {
			return
		}
	}
}

// captureOnce drives a single tunnel from creation to its first terminal
// error: the caller decides whether to start over.
func (s *Server) captureOnce(ctx context.Context, limiter *rate.Limiter) error {
	t, err := tunnel.Create(s.cfg.CameraURL)
	if err != nil {
		return err
	}
	defer t.Destroy()

	t.SetLogger(logging.NewZerologCallback(s.log), nil)

	if err := s.retry(ctx, t.Open); err != nil {
		return err
	}

	if err := s.retry(ctx, func() error { return t.StartStream(wire.SelectorVideo) }); err != nil {
		return err
	}

	if info, ierr := t.StreamInfo(0); ierr == nil {
		s.mu.Lock()
		s.info = info
		s.mu.Unlock()
	}

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		sample, err := t.ReadSample()
		if err != nil {
			if errors.Is(err, tunnel.ErrWouldBlock) {
				if !sleepCtx(ctx, time.Duration(s.cfg.PollInterval)) {
					return nil
				}

				continue
			}

			return err
		}

		s.storeFrame(sample.Data)
	}
}

// retry re-invokes op at the poll cadence until it completes or fails.
func (s *Server) retry(ctx context.Context, op func() error) error {
	for {
		err := op()
		if !errors.Is(err, tunnel.ErrWouldBlock) {
			return err
		}

		if !sleepCtx(ctx, time.Duration(s.cfg.PollInterval)) {
			return nil
		}
	}
}

// storeFrame copies the sample into gateway-owned memory, signals waiting
// stream handlers, and pushes to websocket clients. The copy matters: the
// tunnel reuses sample memory on the next read.
func (s *Server) storeFrame(data []byte) {
	frame := make([]byte, len(data))
	copy(frame, data)

	s.mu.Lock()
	s.latest = frame
	s.seq++
	close(s.frameCh)
	s.frameCh = make(chan struct{})
	s.mu.Unlock()

	s.frames.Add(1)
	s.bytes.Add(uint64(len(frame)))

	s.broadcast(frame)
}

func (s *Server) broadcast(frame []byte) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for conn := range s.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			_ = conn.Close()
			delete(s.clients, conn)
		}
	}
}

// snapshot returns the newest frame and its sequence number.
func (s *Server) snapshot() ([]byte, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latest, s.seq
}

// nextFrame returns a channel closed when a frame newer than the current
// one lands.
func (s *Server) nextFrame() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.frameCh
}

func (s *Server) addClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()

	_ = conn.Close()
}

// sleepCtx sleeps for d unless the context ends first; it reports whether
// the full sleep happened.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
