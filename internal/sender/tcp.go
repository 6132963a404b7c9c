package sender

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	protocol "github.com/influxdata/line-protocol"
)

// tcpSender opens one connection per batch.
type tcpSender struct {
	addr    string
	timeout time.Duration
	prefix  string
}

func newTCPSender(cfg Config) (*tcpSender, error) {
	addr, err := cfg.address()
	if err != nil {
		return nil, err
	}
	return &tcpSender{
		addr:    addr,
		timeout: cfg.connectTimeout(),
		prefix:  cfg.Prefix,
	}, nil
}

func (s *tcpSender) Send(ctx context.Context, points []Point) error {
	body, err := encodeLines(s.prefix, points)
	if err != nil {
		return fmt.Errorf("encode batch for %s: %w", s.Name(), err)
	}
	if len(body) == 0 {
		return nil
	}

	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", s.Name(), err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("write to %s: %w", s.Name(), err)
	}
	return nil
}

func (s *tcpSender) Close() error { return nil }

func (s *tcpSender) Name() string { return "tcp://" + s.addr }

// encodeLines renders points as newline terminated lines with second
// precision timestamps and sorted fields.
func encodeLines(prefix string, points []Point) ([]byte, error) {
	var buf bytes.Buffer
	enc := protocol.NewEncoder(&buf)
	enc.SetFieldSortOrder(protocol.SortFields)
	enc.SetPrecision(time.Second)

	for _, p := range points {
		fields := fieldMap(p)
		if len(fields) == 0 {
			continue
		}
		m, err := protocol.New(prefix+p.Measurement, tagMap(p), fields, pointTime(p))
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", prefix+p.Measurement, err)
		}
		if _, err := enc.Encode(m); err != nil {
			return nil, fmt.Errorf("point %q: %w", prefix+p.Measurement, err)
		}
	}
	return buf.Bytes(), nil
}
