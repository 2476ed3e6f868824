package datasource

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tradeboard/internal/domain"
)

// Stream reconnect configuration.
const (
	DefaultReconnectDelay    = 1 * time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
	streamReadTimeout        = 60 * time.Second
)

// StreamConfig configures the push feed.
type StreamConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Verbose           bool
}

// DefaultStreamConfig returns the default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    DefaultReconnectDelay,
		MaxReconnectDelay: DefaultMaxReconnectDelay,
	}
}

// Stream subscribes to the datastore's push feed of new trade rows. Rows
// arrive as JSON messages and are delivered on a channel for incremental
// merging; the connection reconnects with capped backoff.
type Stream struct {
	endpoint string
	cfg      StreamConfig

	rows   chan domain.TradeRow
	closed atomic.Bool
	cancel context.CancelFunc
}

// NewStream creates a stream for the given websocket endpoint.
// Run must be called to start receiving.
func NewStream(endpoint string, cfg StreamConfig) *Stream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	return &Stream{
		endpoint: endpoint,
		cfg:      cfg,
		rows:     make(chan domain.TradeRow, 64),
	}
}

// Rows delivers pushed trade rows. The channel closes when the stream
// stops.
func (s *Stream) Rows() <-chan domain.TradeRow {
	return s.rows
}

// Run connects and reads until the context is cancelled or Close is
// called. Dial and read failures trigger reconnection with exponential
// backoff capped at MaxReconnectDelay.
func (s *Stream) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer close(s.rows)

	delay := s.cfg.ReconnectDelay
	for {
		if s.closed.Load() {
			return nil
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.endpoint, nil)
		if err != nil {
			s.logf("dial %s failed: %v (retrying in %v)", s.endpoint, err, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > s.cfg.MaxReconnectDelay {
				delay = s.cfg.MaxReconnectDelay
			}
			continue
		}

		delay = s.cfg.ReconnectDelay
		if err := s.readLoop(ctx, conn); err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logf("read loop ended: %v (reconnecting)", err)
			continue
		}
		conn.Close()
		return nil
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(streamReadTimeout)); err != nil {
			return err
		}

		var row domain.TradeRow
		if err := conn.ReadJSON(&row); err != nil {
			return err
		}

		select {
		case s.rows <- row:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the stream.
func (s *Stream) Close() {
	if s.closed.CompareAndSwap(false, true) && s.cancel != nil {
		s.cancel()
	}
}

func (s *Stream) logf(format string, args ...interface{}) {
	if s.cfg.Verbose {
		log.Printf("[stream] "+format, args...)
	}
}
