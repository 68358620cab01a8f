package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// Z-score map keys mapped to fixed columns.
const (
	zKeySpread    = "spread_bps"
	zKeyDepth     = "depth_10bps_usd"
	zKeyImbalance = "imbalance"
)

// EventStore implements domain.EventSink using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventInsert = `
	INSERT INTO anomaly_events (
		event_id, symbol, exchange, detected_at, severity, reason,
		spread_zscore, depth_zscore, imbalance_zscore, max_zscore,
		mid_price, spread_bps, depth_10bps_usd, imbalance
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10,
		$11, $12, $13, $14
	) ON CONFLICT (event_id) DO NOTHING`

const eventSelectCols = `event_id, symbol, exchange, detected_at, severity, reason,
	spread_zscore, depth_zscore, imbalance_zscore, max_zscore,
	mid_price, spread_bps, depth_10bps_usd, imbalance`

// WriteEvent persists one anomaly event, idempotent on EventID.
func (s *EventStore) WriteEvent(ctx context.Context, e domain.AnomalyEvent) error {
	_, err := s.pool.Exec(ctx, eventInsert,
		e.EventID, e.Symbol, e.Exchange, e.DetectedAt.UTC(), string(e.Severity), e.Reason,
		floatArg(e.ZScores[zKeySpread]), floatArg(e.ZScores[zKeyDepth]),
		floatArg(e.ZScores[zKeyImbalance]), floatArg(e.MaxZ),
		floatArg(e.State.Mid), floatArg(e.State.SpreadBps),
		floatArg(e.State.Depth10BpsUSD), floatArg(e.State.Imbalance),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert anomaly event %s: %w", e.EventID, err)
	}
	return nil
}

// ListEvents returns events for a symbol, newest first, with pagination and
// optional time filtering.
func (s *EventStore) ListEvents(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.AnomalyEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM anomaly_events WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND detected_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND detected_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY detected_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list anomaly events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan anomaly events: %w", err)
	}
	return events, nil
}

// ListEventsBefore returns all events older than the given time, oldest
// first. Used by the archiver.
func (s *EventStore) ListEventsBefore(ctx context.Context, before time.Time) ([]domain.AnomalyEvent, error) {
	query := `SELECT ` + eventSelectCols +
		` FROM anomaly_events WHERE detected_at < $1 ORDER BY detected_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list anomaly events before: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// DeleteEventsBefore deletes events older than the given time and returns
// the number deleted.
func (s *EventStore) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM anomaly_events WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete anomaly events before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEventRows(rows pgx.Rows) ([]domain.AnomalyEvent, error) {
	var events []domain.AnomalyEvent
	for rows.Next() {
		var (
			e        domain.AnomalyEvent
			severity string
			zs       [4]string
			state    [4]string
		)
		if err := rows.Scan(
			&e.EventID, &e.Symbol, &e.Exchange, &e.DetectedAt, &severity, &e.Reason,
			&zs[0], &zs[1], &zs[2], &zs[3],
			&state[0], &state[1], &state[2], &state[3],
		); err != nil {
			return nil, err
		}
		e.Severity = domain.Severity(severity)

		var p floatParser
		e.ZScores = map[string]float64{
			zKeySpread:    p.parse(zs[0]),
			zKeyDepth:     p.parse(zs[1]),
			zKeyImbalance: p.parse(zs[2]),
		}
		e.MaxZ = p.parse(zs[3])
		e.State = domain.MarketState{
			Mid:           p.parse(state[0]),
			SpreadBps:     p.parse(state[1]),
			Depth10BpsUSD: p.parse(state[2]),
			Imbalance:     p.parse(state[3]),
		}
		if p.err != nil {
			return nil, p.err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// floatArg formats a float for a NUMERIC parameter without exponent notation
// surprises from the default float encoding.
func floatArg(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

type floatParser struct {
	err error
}

func (p *floatParser) parse(s string) float64 {
	if p.err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = err
		return 0
	}
	return f
}
