package gateway

import (
	"errors"
	"time"

	"github.com/openturion/turion/pkg/models"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultReinitDelay  = 2 * time.Second
	defaultMaxFPS       = 10.0
)

var (
	errListenAddrRequired = errors.New("gateway: listen_addr is required")
	errCameraURLRequired  = errors.New("gateway: camera_url is required")
)

// Config configures the webcam gateway.
type Config struct {
	// ListenAddr is the HTTP listen address, e.g. ":9931".
	ListenAddr string `json:"listen_addr"`

	// CameraURL is the local-schema camera URL of the printer.
	CameraURL string `json:"camera_url"`

	// PollInterval is the sleep between would-block retries against the
	// tunnel. Defaults to 100ms, the cadence vendor hosts use.
	PollInterval models.Duration `json:"poll_interval,omitempty"`

	// ReinitDelay is the pause before recreating the tunnel after a
	// terminal error. Defaults to 2s.
	ReinitDelay models.Duration `json:"reinit_delay,omitempty"`

	// MaxFPS caps how fast samples are pulled from the printer.
	// Defaults to 10.
	MaxFPS float64 `json:"max_fps,omitempty"`
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errListenAddrRequired
	}

	if c.CameraURL == "" {
		return errCameraURLRequired
	}

	if _, err := models.ParseCameraURL(c.CameraURL); err != nil {
		return err
	}

	if c.PollInterval <= 0 {
		c.PollInterval = models.Duration(defaultPollInterval)
	}

	if c.ReinitDelay <= 0 {
		c.ReinitDelay = models.Duration(defaultReinitDelay)
	}

	if c.MaxFPS <= 0 {
		c.MaxFPS = defaultMaxFPS
	}

	return nil
}
