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

// Package models holds the data types shared between the tunnel engine,
// the transport layer, and the tools that consume them.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// SchemaPrefix is the local-mode camera URL prefix used by slicer hosts.
	SchemaPrefix = "bambu:///local/"

	// DefaultPort is the camera tunnel port exposed by printer firmware.
	DefaultPort = 6000

	// hostQuerySeparator terminates the host part of a camera URL. The
	// firmware URL format places a literal "." before the query string.
	hostQuerySeparator = ".?"

	maxCredentialLen = 32
)

var (
	ErrInvalidSchema = errors.New("camera url: invalid schema")
	ErrInvalidURL    = errors.New("camera url: malformed url")
)

// Target describes one printer connection, derived from a local-schema URL.
// It is immutable once the tunnel is created.
type Target struct {
	Host     string
	Port     uint16
	Username string
	Password string

	// Optional parameters carried by slicer-generated URLs. The tunnel
	// itself does not interpret them; they are kept for diagnostics.
	Serial        string
	NetVersion    string
	DeviceVersion string
	ClientID      string
	ClientVersion string
}

// Addr returns the host:port dial address for the target.
func (t *Target) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// ParseCameraURL parses a local-schema camera URL of the form
//
//	bambu:///local/<host>.?port=<p>&user=<u>&passwd=<pw>
//
// The port defaults to 6000 when absent. Unknown query parameters are
// ignored so newer slicer builds remain compatible.
func ParseCameraURL(rawURL string) (*Target, error) {
	if !strings.HasPrefix(rawURL, SchemaPrefix) {
		return nil, ErrInvalidSchema
	}

	rest := rawURL[len(SchemaPrefix):]

	sep := strings.Index(rest, hostQuerySeparator)
	if sep < 0 {
		return nil, ErrInvalidURL
	}

	target := &Target{
		Host: rest[:sep],
		Port: DefaultPort,
	}

	if target.Host == "" {
		return nil, ErrInvalidURL
	}

	rawQuery := rest[sep+len(hostQuerySeparator):]

	for _, pair := range strings.Split(rawQuery, "&") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("%w: bad query pair %q", ErrInvalidURL, pair)
		}

		switch key {
		case "user":
			target.Username = value
		case "passwd":
			target.Password = value
		case "port":
			port, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("%w: bad port %q", ErrInvalidURL, value)
			}

			target.Port = uint16(port)
		case "device":
			target.Serial = value
		case "net_ver":
			target.NetVersion = value
		case "dev_ver":
			target.DeviceVersion = value
		case "cli_id":
			target.ClientID = value
		case "cli_ver":
			target.ClientVersion = value
		default:
			// Unknown parameters are tolerated.
		}
	}

	if target.Username == "" {
		return nil, fmt.Errorf("%w: missing user parameter", ErrInvalidURL)
	}

	if target.Password == "" {
		return nil, fmt.Errorf("%w: missing passwd parameter", ErrInvalidURL)
	}

	if len(target.Username) > maxCredentialLen || len(target.Password) > maxCredentialLen {
		return nil, fmt.Errorf("%w: credentials exceed %d bytes", ErrInvalidURL, maxCredentialLen)
	}

	return target, nil
}
