package parser

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

func testParser() *Parser {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func frame(payload string) domain.Frame {
	return domain.Frame{Kind: domain.FrameData, Payload: []byte(payload)}
}

func TestParseDepthUpdate(t *testing.T) {
	p := testParser()
	d, ok := p.Parse(frame(`{
		"e": "depthUpdate", "E": 1737000000123, "s": "BTCUSDT",
		"U": 100, "u": 105,
		"b": [["50000.10", "1.5"], ["49999.90", "0"]],
		"a": [["50000.50", "2.25"]]
	}`))
	require.True(t, ok)

	assert.Equal(t, "BTCUSDT", d.Symbol)
	assert.Equal(t, int64(100), d.FirstID)
	assert.Equal(t, int64(105), d.LastID)
	require.Len(t, d.Bids, 2)
	assert.Equal(t, "50000.1", d.Bids[0].Price.String())
	assert.True(t, d.Bids[1].Qty.IsZero())
	require.Len(t, d.Asks, 1)
	assert.Equal(t, "2.25", d.Asks[0].Qty.String())
	assert.Equal(t, time.UnixMilli(1737000000123).UTC(), d.EventTime)
	assert.Equal(t, uint64(1), p.Stats().Parsed)
}

func TestParseCombinedStreamEnvelope(t *testing.T) {
	p := testParser()
	d, ok := p.Parse(frame(`{
		"stream": "btcusdt@depth@100ms",
		"data": {"e": "depthUpdate", "s": "BTCUSDT", "U": 7, "u": 9, "b": [], "a": [["10", "1"]]}
	}`))
	require.True(t, ok)
	assert.Equal(t, int64(7), d.FirstID)
	assert.Empty(t, d.Bids)
	require.Len(t, d.Asks, 1)
}

func TestEmptySidesAreValid(t *testing.T) {
	p := testParser()
	d, ok := p.Parse(frame(`{"e":"depthUpdate","s":"ETHUSDT","U":1,"u":1}`))
	require.True(t, ok)
	assert.Empty(t, d.Bids)
	assert.Empty(t, d.Asks)
}

func TestMalformedFramesCountedAndDropped(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `{{{`},
		{"missing sequence", `{"e":"depthUpdate","s":"BTCUSDT","b":[],"a":[]}`},
		{"missing symbol", `{"e":"depthUpdate","U":1,"u":2}`},
		{"inverted sequence", `{"e":"depthUpdate","s":"BTCUSDT","U":5,"u":3}`},
		{"non-numeric price", `{"e":"depthUpdate","s":"BTCUSDT","U":1,"u":2,"b":[["abc","1"]]}`},
		{"negative qty", `{"e":"depthUpdate","s":"BTCUSDT","U":1,"u":2,"a":[["10","-1"]]}`},
		{"wrong event", `{"e":"aggTrade","s":"BTCUSDT","U":1,"u":2}`},
	}

	p := testParser()
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := p.Parse(frame(tc.payload))
			assert.False(t, ok)
			assert.Equal(t, uint64(i+1), p.Stats().Malformed)
		})
	}
	assert.Equal(t, uint64(0), p.Stats().Parsed)
	assert.NotEmpty(t, p.Stats().LastError)
}
