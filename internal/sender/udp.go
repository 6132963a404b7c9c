package sender

import (
	"context"
	"fmt"
	"sync"

	client "github.com/influxdata/influxdb1-client/v2"
)

// maxDatagram keeps each datagram below a common path MTU.
const maxDatagram = 1400

type udpSender struct {
	mu     sync.Mutex
	client client.Client
	addr   string
	prefix string
}

func newUDPSender(cfg Config) (*udpSender, error) {
	addr, err := cfg.address()
	if err != nil {
		return nil, err
	}
	c, err := client.NewUDPClient(client.UDPConfig{
		Addr:        addr,
		PayloadSize: maxDatagram,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &udpSender{
		client: c,
		addr:   addr,
		prefix: cfg.Prefix,
	}, nil
}

// Send packs whole lines into datagrams of at most maxDatagram bytes.
func (s *udpSender) Send(_ context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return fmt.Errorf("send to %s: sender closed", s.Name())
	}
	bp, err := newBatch("", s.prefix, points)
	if err != nil {
		return fmt.Errorf("encode batch for %s: %w", s.Name(), err)
	}
	if len(bp.Points()) == 0 {
		return nil
	}
	if err := s.client.Write(bp); err != nil {
		return fmt.Errorf("write to %s: %w", s.Name(), err)
	}
	return nil
}

func (s *udpSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *udpSender) Name() string { return "udp://" + s.addr }
