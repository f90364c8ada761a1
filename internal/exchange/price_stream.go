package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"btc-feature-lab/internal/domain"
)

// Default stream endpoint. The stream name rides in the URL path, so no
// subscribe handshake is needed; ticks arrive as soon as the dial completes.
const DefaultStreamURL = "wss://stream.binance.com:9443/ws/btcusdt@miniTicker"

// StreamConfig configures WebSocket stream behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// PriceField is the JSON field carrying the price. Default "c".
	PriceField string
	// TimeField is the JSON field carrying the event time in ms. Default "E".
	// When the field is absent the local clock stamps the observation.
	TimeField string
	// Source labels emitted observations. Default domain.SourceBinance.
	Source string
}

// DefaultStreamConfig returns default stream configuration for the
// Binance miniTicker payload.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		PriceField:        "c",
		TimeField:         "E",
		Source:            domain.SourceBinance,
	}
}

// PriceStream consumes a WebSocket ticker stream and emits observations
// on a channel. It reconnects with exponential backoff on read errors.
type PriceStream struct {
	endpoint string
	config   StreamConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	out  chan *domain.PriceObservation
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

// NewPriceStream creates a price stream and connects to the endpoint.
// A nil config uses DefaultStreamConfig.
func NewPriceStream(ctx context.Context, endpoint string, config *StreamConfig) (*PriceStream, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.PriceField == "" {
		cfg.PriceField = "c"
	}
	if cfg.TimeField == "" {
		cfg.TimeField = "E"
	}
	if cfg.Source == "" {
		cfg.Source = domain.SourceBinance
	}

	s := &PriceStream{
		endpoint: endpoint,
		config:   cfg,
		out:      make(chan *domain.PriceObservation, 1024),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	// Start reader goroutine
	s.wg.Add(1)
	go s.readLoop()

	// Start ping goroutine
	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Observations returns the channel of emitted observations.
// The channel is closed when the stream is closed.
func (s *PriceStream) Observations() <-chan *domain.PriceObservation {
	return s.out
}

// connect establishes WebSocket connection.
func (s *PriceStream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// Close closes the WebSocket connection and the observation channel.
func (s *PriceStream) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	// Close the output channel only after both goroutines have stopped,
	// the reader may still be dispatching a message.
	s.wg.Wait()
	close(s.out)
	return nil
}

// readLoop reads messages from WebSocket and emits observations.
func (s *PriceStream) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			// Connection error - attempt reconnect with exponential backoff
			if !s.reconnecting.Swap(true) {
				go s.reconnect(reconnectDelay)
			}

			// Increase delay for next reconnect (exponential backoff)
			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

// reconnect attempts to reconnect after the given delay. The stream name
// rides in the endpoint URL, so ticks resume as soon as the dial completes.
func (s *PriceStream) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	if s.closed.Load() {
		return
	}

	// Wait before reconnecting
	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	// Close existing connection
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		return
	}
}

// handleMessage parses a ticker payload and emits an observation.
// Malformed payloads are skipped so one bad tick cannot stall the stream.
func (s *PriceStream) handleMessage(message []byte) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(message, &fields); err != nil {
		return
	}

	raw, ok := fields[s.config.PriceField]
	if !ok {
		return
	}

	price, err := parsePriceValue(raw)
	if err != nil || price <= 0 {
		return
	}

	var timestampMs int64
	if rawTime, ok := fields[s.config.TimeField]; ok {
		json.Unmarshal(rawTime, &timestampMs)
	}
	if timestampMs <= 0 {
		timestampMs = time.Now().UnixMilli()
	}

	obs := &domain.PriceObservation{
		TimestampMs: timestampMs,
		Price:       price,
		Source:      s.config.Source,
	}

	// Block until the consumer drains - never drop ticks while running
	select {
	case s.out <- obs:
	case <-s.done:
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (s *PriceStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}
