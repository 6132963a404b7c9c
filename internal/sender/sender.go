// Package sender transmits batches of points to InfluxDB using the line
// protocol over HTTP, TCP or UDP.
package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/eugenenazirov/metrics-sidecar/internal/configstore"
)

// Supported modes.
const (
	ModeHTTP = "http"
	ModeTCP  = "tcp"
	ModeUDP  = "udp"
)

var (
	// ErrUnsupportedMode is returned by New for a mode other than http, tcp or udp.
	ErrUnsupportedMode = errors.New("unsupported sender mode")
	// ErrInvalidConfig is returned by New when the endpoint cannot be used.
	ErrInvalidConfig = errors.New("invalid sender configuration")
)

// Sender delivers formatted batches to the time-series database.
type Sender interface {
	// Send transmits one batch. Failures are returned, never retried here.
	Send(ctx context.Context, points []Point) error
	// Close releases connections held by the sender.
	Close() error
	// Name identifies the upstream, e.g. "http://db:8086/hivemq".
	Name() string
}

// Config carries everything a sender may need. Which fields are used depends
// on Mode.
type Config struct {
	Mode           string
	Protocol       string
	Host           string
	Port           int
	Database       string
	Auth           string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Prefix         string
}

// ConfigFromSettings maps export settings to a sender config. The connect
// timeout doubles as the HTTP read timeout.
func ConfigFromSettings(s configstore.Settings) Config {
	return Config{
		Mode:           s.Mode,
		Protocol:       s.Protocol,
		Host:           s.Host,
		Port:           s.Port,
		Database:       s.Database,
		Auth:           s.Auth,
		ConnectTimeout: s.ConnectTimeout,
		ReadTimeout:    s.ConnectTimeout,
		Prefix:         s.Prefix,
	}
}

// New builds the sender selected by cfg.Mode.
func New(cfg Config) (Sender, error) {
	switch strings.ToLower(cfg.Mode) {
	case ModeHTTP:
		return newHTTPSender(cfg)
	case ModeTCP:
		return newTCPSender(cfg)
	case ModeUDP:
		return newUDPSender(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMode, cfg.Mode)
	}
}

func (c Config) address() (string, error) {
	if strings.TrimSpace(c.Host) == "" {
		return "", fmt.Errorf("%w: host must not be empty", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return "", fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), nil
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return configstore.DefaultConnectTimeout * time.Millisecond
	}
	return c.ConnectTimeout
}
