package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/openturion/turion/pkg/logging"
	"github.com/openturion/turion/pkg/models"
	"github.com/openturion/turion/pkg/tunnel"
	"github.com/openturion/turion/pkg/wire"
)

// cmd/camera/main.go

const pollInterval = 100 * time.Millisecond

func main() {
	cameraURL := flag.String("url", "", "full camera URL (overrides host/user/passwd)")
	host := flag.String("host", "", "printer IP or hostname")
	user := flag.String("user", "bblp", "LAN access username")
	passwd := flag.String("passwd", "", "LAN access code")
	port := flag.Uint("port", models.DefaultPort, "printer camera port")
	out := flag.String("out", "-", "output file for the JPEG stream, '-' for stdout")
	frames := flag.Int("frames", 0, "stop after this many frames, 0 for unlimited")
	maxFPS := flag.Float64("max-fps", 0, "cap the frame pull rate, 0 for unlimited")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logLevel := zerolog.InfoLevel
	if *verbose {
		logLevel = zerolog.DebugLevel
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(logLevel).
		With().Timestamp().Logger()

	rawURL := *cameraURL
	if rawURL == "" {
		if *host == "" || *passwd == "" {
			logger.Fatal().Msg("either -url or -host and -passwd are required")
		}

		rawURL = fmt.Sprintf("%s%s.?port=%d&user=%s&passwd=%s",
			models.SchemaPrefix, *host, *port, *user, *passwd)
	}

	dst := io.Writer(os.Stdout)

	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *out).Msg("cannot open output file")
		}
		defer f.Close()

		dst = f
	}

	if err := run(logger, rawURL, dst, *frames, *maxFPS); err != nil {
		logger.Fatal().Err(err).Msg("capture failed")
	}
}

func run(logger zerolog.Logger, rawURL string, dst io.Writer, maxFrames int, maxFPS float64) error {
	t, err := tunnel.Create(rawURL)
	if err != nil {
		return err
	}
	defer t.Destroy()

	t.SetLogger(logging.NewZerologCallback(logger), nil)

	logger.Info().Str("target", t.Target().Addr()).Msg("connecting")

	if err := waitFor(t.Open); err != nil {
		return err
	}

	if err := waitFor(func() error { return t.StartStream(wire.SelectorVideo) }); err != nil {
		return err
	}

	for i := 0; i < t.StreamCount(); i++ {
		info, err := t.StreamInfo(i)
		if err != nil {
			return err
		}

		logger.Info().Str("stream", info.String()).Msg("stream available")
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if maxFPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxFPS), 1)
	}

	written := 0

	for maxFrames <= 0 || written < maxFrames {
		if err := limiter.Wait(context.Background()); err != nil {
			return err
		}

		sample, err := t.ReadSample()
		if err != nil {
			if errors.Is(err, tunnel.ErrWouldBlock) {
				time.Sleep(pollInterval)
				continue
			}

			return err
		}

		if _, err := dst.Write(sample.Data); err != nil {
			return err
		}

		written++

		logger.Debug().Int("frame", written).Int("bytes", sample.Size()).Msg("frame written")
	}

	logger.Info().Int("frames", written).Msg("capture complete")

	return t.Close()
}

// waitFor polls op until it stops reporting would-block.
func waitFor(op func() error) error {
	for {
		err := op()
		if !errors.Is(err, tunnel.ErrWouldBlock) {
			return err
		}

		time.Sleep(pollInterval)
	}
}
