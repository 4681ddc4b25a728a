package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/openturion/turion/pkg/simulator"
)

// cmd/fakeprinter/main.go

func main() {
	listen := flag.String("listen", "127.0.0.1:6000", "listen address")
	user := flag.String("user", "", "required username, empty accepts any")
	passwd := flag.String("passwd", "", "required access code, empty accepts any")
	framesDir := flag.String("frames", "", "directory of .jpg frames to serve, served in name order")
	fps := flag.Float64("fps", 1, "frames per second")
	loop := flag.Bool("loop", true, "repeat the frame list forever")
	rejectAuth := flag.Bool("reject-auth", false, "reject every handshake")
	dropAfter := flag.Int("drop-after", 0, "abruptly close after N frames, 0 disables")
	teardown := flag.Bool("teardown", false, "send a teardown after the last frame instead of idling")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	frames, err := loadFrames(*framesDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot load frames")
	}

	if len(frames) == 0 {
		frames = [][]byte{placeholderJPEG()}

		logger.Info().Msg("no frames given, serving a built-in placeholder")
	}

	interval := time.Duration(0)
	if *fps > 0 {
		interval = time.Duration(float64(time.Second) / *fps)
	}

	printer := simulator.New(simulator.Script{
		Username:      *user,
		Password:      *passwd,
		RejectAuth:    *rejectAuth,
		Frames:        frames,
		FrameInterval: interval,
		DropAfter:     *dropAfter,
		Loop:          *loop,
		Teardown:      *teardown,
	})

	if err := printer.Start(*listen); err != nil {
		logger.Fatal().Err(err).Msg("cannot start printer")
	}

	logger.Info().
		Str("addr", printer.Addr()).
		Int("frames", len(frames)).
		Msg("fake printer listening")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down")
	printer.Stop()
}

func loadFrames(dir string) ([][]byte, error) {
	if dir == "" {
		return nil, nil
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.jpg"))
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)

	frames := make([][]byte, 0, len(paths))

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		frames = append(frames, data)
	}

	return frames, nil
}

// placeholderJPEG is a minimal valid JPEG so the simulator has something to
// serve when no frame directory is given.
func placeholderJPEG() []byte {
	return []byte{
		0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00,
		0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
		0xFF, 0xD9,
	}
}
