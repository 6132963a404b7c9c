package sender

import (
	"context"
	"fmt"
	"strings"

	client "github.com/influxdata/influxdb1-client/v2"
)

type httpSender struct {
	client   client.Client
	name     string
	database string
	prefix   string
}

// newHTTPSender writes through the InfluxDB 1.x HTTP API. The auth value is
// user:password; a value without a colon is sent as the user name alone.
func newHTTPSender(cfg Config) (*httpSender, error) {
	protocol := strings.ToLower(cfg.Protocol)
	if protocol == "" {
		protocol = "http"
	}
	if protocol != "http" && protocol != "https" {
		return nil, fmt.Errorf("%w: protocol %q", ErrInvalidConfig, cfg.Protocol)
	}
	addr, err := cfg.address()
	if err != nil {
		return nil, err
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = cfg.connectTimeout()
	}
	username, password, _ := strings.Cut(cfg.Auth, ":")

	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:      protocol + "://" + addr,
		Username:  username,
		Password:  password,
		UserAgent: "metrics-sidecar",
		Timeout:   cfg.connectTimeout() + readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &httpSender{
		client:   c,
		name:     protocol + "://" + addr + "/" + cfg.Database,
		database: cfg.Database,
		prefix:   cfg.Prefix,
	}, nil
}

func (s *httpSender) Send(ctx context.Context, points []Point) error {
	bp, err := newBatch(s.database, s.prefix, points)
	if err != nil {
		return fmt.Errorf("encode batch for %s: %w", s.name, err)
	}
	if len(bp.Points()) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.client.Write(bp); err != nil {
		return fmt.Errorf("write to %s: %w", s.name, err)
	}
	return nil
}

func (s *httpSender) Close() error {
	return s.client.Close()
}

func (s *httpSender) Name() string { return s.name }
