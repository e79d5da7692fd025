package socketclient

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultPath is the endpoint path used when none is configured.
	DefaultPath = "ws"
	// DefaultClientHeader carries the session identity on the handshake.
	DefaultClientHeader = "client-id"
	// DefaultOrigin stands in for the page origin the endpoint is derived from.
	DefaultOrigin = "http://localhost:8080"
)

// Config holds client configuration
type Config struct {
	// Protocol is the URL scheme with a trailing colon ("ws:" or "wss:").
	// Empty selects ws: for an http origin and wss: otherwise.
	Protocol string
	// Host is host[:port]. Empty uses the origin's host.
	Host string
	// Path is the endpoint path without leading slash. Empty uses DefaultPath.
	Path string
	// Origin is the base URL the endpoint is derived from and is sent as the
	// Origin header.
	Origin string
	// ClientHeader names the handshake header carrying the session identity.
	ClientHeader string
	// HandshakeTimeout bounds the opening handshake
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each frame write when ctx has no deadline
	WriteTimeout time.Duration
	// ReadLimit is the maximum inbound message size; 0 means unlimited.
	ReadLimit int64
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Origin:           DefaultOrigin,
		Path:             DefaultPath,
		ClientHeader:     DefaultClientHeader,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// URL derives the socket endpoint from {protocol, host, path}.
func (c *Config) URL() (string, error) {
	origin, err := url.Parse(c.Origin)
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", c.Origin, err)
	}

	protocol := c.Protocol
	if protocol == "" {
		if origin.Scheme == "http" {
			protocol = "ws:"
		} else {
			protocol = "wss:"
		}
	}
	if !strings.HasSuffix(protocol, ":") {
		protocol += ":"
	}

	host := c.Host
	if host == "" {
		host = origin.Host
	}
	if host == "" {
		return "", fmt.Errorf("no host configured and origin %q has none", c.Origin)
	}

	path := strings.TrimPrefix(c.Path, "/")
	if c.Path == "" {
		path = DefaultPath
	}

	return fmt.Sprintf("%s//%s/%s", protocol, host, path), nil
}
