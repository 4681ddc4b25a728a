package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	httpx "github.com/openturion/turion/pkg/http"
)

const streamBoundary = "turionframe"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// versionResponse mirrors the identity payload OctoPrint-compatible
// frontends probe before attaching a webcam view.
type versionResponse struct {
	API    string `json:"api"`
	Server string `json:"server"`
	Text   string `json:"text"`
}

type statsResponse struct {
	Frames     uint64 `json:"frames"`
	Bytes      uint64 `json:"bytes"`
	Reinits    uint64 `json:"reinits"`
	Width      int32  `json:"width,omitempty"`
	Height     int32  `json:"height,omitempty"`
	FrameRate  int32  `json:"frame_rate,omitempty"`
	HasFrame   bool   `json:"has_frame"`
	WSClients  int    `json:"ws_clients"`
	ServerTime string `json:"server_time"`
}

// Handler returns the fully wired HTTP surface of the gateway.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/version", s.handleVersion).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/webcam/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/webcam/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/webcam/ws", s.handleWebsocket).Methods(http.MethodGet)

	return httpx.CommonMiddleware(httpx.RequestLogger(s.log)(r))
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{
		API:    "0.1",
		Server: "1.1.0",
		Text:   "OctoPrint 1.1.0",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	frame, _ := s.snapshot()

	s.clientsMu.Lock()
	wsClients := len(s.clients)
	s.clientsMu.Unlock()

	resp := statsResponse{
		Frames:     s.frames.Load(),
		Bytes:      s.bytes.Load(),
		Reinits:    s.reinits.Load(),
		HasFrame:   len(frame) > 0,
		WSClients:  wsClients,
		ServerTime: time.Now().UTC().Format(time.RFC3339),
	}

	s.mu.RLock()
	if s.info != nil {
		resp.Width = s.info.Width
		resp.Height = s.info.Height
		resp.FrameRate = s.info.FrameRate
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	frame, _ := s.snapshot()
	if len(frame) == 0 {
		http.Error(w, "no frame available yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Header().Set("Cache-Control", "no-cache")

	_, _ = w.Write(frame)
}

// handleStream serves multipart/x-mixed-replace MJPEG until the client
// disconnects. Each part is one JPEG frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	var lastSeq uint64

	for {
		frame, seq := s.snapshot()

		if len(frame) > 0 && seq != lastSeq {
			lastSeq = seq

			_, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(frame))
			if err != nil {
				return
			}

			if _, err := w.Write(frame); err != nil {
				return
			}

			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}

			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-s.nextFrame():
		}
	}
}

// handleWebsocket upgrades the connection and registers it for binary
// frame pushes from the capture loop.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.addClient(conn)

	// Reader loop only watches for the close handshake; frames flow from
	// the capture loop.
	go func() {
		defer s.removeClient(conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
