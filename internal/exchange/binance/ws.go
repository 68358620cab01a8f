// Package binance adapts the Binance USD-M futures market-data API to the
// monitor's FrameSource and SnapshotFetcher contracts.
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

const (
	// DefaultStreamURL is the production combined-stream endpoint.
	DefaultStreamURL = "wss://fstream.binance.com/stream"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 60 * time.Second
	handshakeTimeout         = 15 * time.Second
)

// StreamConfig tunes a StreamSource.
type StreamConfig struct {
	URL string
	// ReconnectDelay is the initial backoff; it doubles per failed attempt up
	// to MaxReconnectDelay and resets after a successful frame.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

func (c *StreamConfig) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultStreamURL
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = defaultMaxReconnectDelay
	}
}

// StreamSource streams <symbol>@depth@100ms frames over one WebSocket
// connection. It reconnects with exponential backoff and yields a
// FrameStreamReset frame after every reconnect so the book engine
// re-synchronizes. NextFrame must be called from a single goroutine.
type StreamSource struct {
	cfg     StreamConfig
	logger  *slog.Logger
	symbols []string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}

	pingStop chan struct{}
	backoff  time.Duration
}

// NewStreamSource builds a source; Connect must be called before NextFrame.
func NewStreamSource(cfg StreamConfig, logger *slog.Logger) *StreamSource {
	cfg.applyDefaults()
	return &StreamSource{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "binance_ws")),
		done:   make(chan struct{}),
	}
}

// Connect dials the combined stream for the given symbols.
func (s *StreamSource) Connect(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("binance: connect: no symbols")
	}
	s.symbols = symbols
	s.backoff = s.cfg.ReconnectDelay
	return s.dial(ctx)
}

// NextFrame returns the next raw frame. On a broken connection it reconnects
// with backoff and returns a FrameStreamReset before any further data. After
// Close it returns a FrameEndOfStream frame.
func (s *StreamSource) NextFrame(ctx context.Context) (domain.Frame, error) {
	for {
		select {
		case <-s.done:
			return domain.Frame{Kind: domain.FrameEndOfStream}, nil
		case <-ctx.Done():
			return domain.Frame{}, ctx.Err()
		default:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			if err := s.reconnect(ctx); err != nil {
				return domain.Frame{}, err
			}
			return domain.Frame{Kind: domain.FrameStreamReset}, nil
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return domain.Frame{Kind: domain.FrameEndOfStream}, nil
			default:
			}
			if ctx.Err() != nil {
				return domain.Frame{}, ctx.Err()
			}
			s.logger.Warn("stream read failed, reconnecting", slog.String("error", err.Error()))
			s.teardown()
			if rerr := s.reconnect(ctx); rerr != nil {
				return domain.Frame{}, rerr
			}
			return domain.Frame{Kind: domain.FrameStreamReset}, nil
		}

		s.backoff = s.cfg.ReconnectDelay
		return domain.Frame{Kind: domain.FrameData, Payload: payload}, nil
	}
}

// Close tears down the connection; a pending NextFrame returns EndOfStream.
func (s *StreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *StreamSource) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("binance: dial: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	// Binance pings the client; answering extends the read deadline too.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("binance: dial: %w", domain.ErrWSDisconnect)
	}
	s.conn = conn
	s.pingStop = make(chan struct{})
	s.mu.Unlock()

	go s.pingLoop(conn, s.pingStop)
	s.logger.Info("stream connected", slog.String("symbols", strings.Join(s.symbols, ",")))
	return nil
}

// reconnect retries dial with exponential backoff until it succeeds, ctx is
// done, or the source is closed.
func (s *StreamSource) reconnect(ctx context.Context) error {
	for {
		select {
		case <-s.done:
			return domain.ErrWSDisconnect
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff):
		}

		err := s.dial(ctx)
		if err == nil {
			return nil
		}
		s.logger.Warn("reconnect failed",
			slog.Duration("backoff", s.backoff),
			slog.String("error", err.Error()))

		s.backoff *= 2
		if s.backoff > s.cfg.MaxReconnectDelay {
			s.backoff = s.cfg.MaxReconnectDelay
		}
	}
}

func (s *StreamSource) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingStop != nil {
		close(s.pingStop)
		s.pingStop = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *StreamSource) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamURL builds the combined-stream URL:
// <base>?streams=btcusdt@depth@100ms/ethusdt@depth@100ms
func (s *StreamSource) streamURL() string {
	parts := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		parts[i] = strings.ToLower(sym) + "@depth@100ms"
	}
	return s.cfg.URL + "?streams=" + strings.Join(parts, "/")
}
