// Package parser converts raw venue frames into validated depth deltas.
// Malformed frames are counted and dropped; the stage never propagates a
// parse failure upstream or downstream.
package parser

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// depthMessage is the Binance futures incremental depth payload. Sequence
// fields are pointers so a missing field is distinguishable from zero.
type depthMessage struct {
	Event     string      `json:"e"`
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	FirstID   *int64      `json:"U"`
	LastID    *int64      `json:"u"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

// envelope unwraps combined-stream frames ({"stream": ..., "data": {...}}).
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Stats is a point-in-time copy of the parser counters.
type Stats struct {
	Parsed    uint64
	Malformed uint64
	LastError string
}

// Parser decodes depth frames for one stream.
type Parser struct {
	logger *slog.Logger

	parsed    atomic.Uint64
	malformed atomic.Uint64
	lastErr   atomic.Value // string
}

// New builds a parser.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With(slog.String("component", "parser"))}
}

// Parse decodes one data frame into a Delta. The second return is false when
// the frame is malformed; the frame has then been counted and should be
// dropped by the caller.
func (p *Parser) Parse(frame domain.Frame) (domain.Delta, bool) {
	d, err := p.decode(frame.Payload)
	if err != nil {
		p.malformed.Add(1)
		p.lastErr.Store(err.Error())
		p.logger.Debug("malformed frame dropped", slog.String("error", err.Error()))
		return domain.Delta{}, false
	}
	p.parsed.Add(1)
	return d, true
}

func (p *Parser) decode(payload []byte) (domain.Delta, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.Delta{}, fmt.Errorf("parser: envelope: %w", err)
	}
	raw := payload
	if len(env.Data) > 0 {
		raw = env.Data
	}

	var msg depthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.Delta{}, fmt.Errorf("parser: payload: %w", err)
	}
	if msg.Event != "" && msg.Event != "depthUpdate" {
		return domain.Delta{}, fmt.Errorf("parser: unexpected event %q: %w", msg.Event, domain.ErrMalformedFrame)
	}
	if msg.FirstID == nil || msg.LastID == nil {
		return domain.Delta{}, fmt.Errorf("parser: missing sequence fields: %w", domain.ErrMalformedFrame)
	}
	if *msg.FirstID > *msg.LastID {
		return domain.Delta{}, fmt.Errorf("parser: first_id %d > last_id %d: %w", *msg.FirstID, *msg.LastID, domain.ErrMalformedFrame)
	}
	if msg.Symbol == "" {
		return domain.Delta{}, fmt.Errorf("parser: missing symbol: %w", domain.ErrMalformedFrame)
	}

	bids, err := parseLevels(msg.Bids)
	if err != nil {
		return domain.Delta{}, fmt.Errorf("parser: bids: %w", err)
	}
	asks, err := parseLevels(msg.Asks)
	if err != nil {
		return domain.Delta{}, fmt.Errorf("parser: asks: %w", err)
	}

	d := domain.Delta{
		Symbol:  msg.Symbol,
		FirstID: *msg.FirstID,
		LastID:  *msg.LastID,
		Bids:    bids,
		Asks:    asks,
	}
	if msg.EventTime > 0 {
		d.EventTime = time.UnixMilli(msg.EventTime).UTC()
	}
	return d, nil
}

// parseLevels converts [price, qty] string pairs. Empty side lists are valid.
func parseLevels(pairs [][2]string) ([]domain.Level, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	levels := make([]domain.Level, 0, len(pairs))
	for _, pair := range pairs {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("qty %q: %w", pair[1], err)
		}
		if price.IsNegative() || qty.IsNegative() {
			return nil, fmt.Errorf("negative value %s/%s: %w", pair[0], pair[1], domain.ErrMalformedFrame)
		}
		levels = append(levels, domain.Level{Price: price, Qty: qty})
	}
	return levels, nil
}

// Stats returns a copy of the counters; safe for concurrent use.
func (p *Parser) Stats() Stats {
	s := Stats{
		Parsed:    p.parsed.Load(),
		Malformed: p.malformed.Load(),
	}
	if v, ok := p.lastErr.Load().(string); ok {
		s.LastError = v
	}
	return s
}
