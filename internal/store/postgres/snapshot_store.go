package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JudyChang-TW/liquidity-crunch-monitor/internal/domain"
)

// Canonical notionals mapped to fixed columns. Samples configured with other
// notionals still persist; the extra estimates are just not columnized.
var (
	notional100k = decimal.NewFromInt(100_000)
	notional500k = decimal.NewFromInt(500_000)
	notional1m   = decimal.NewFromInt(1_000_000)
)

// SnapshotStore implements domain.SnapshotSink using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotInsert = `
	INSERT INTO liquidity_snapshots (
		snapshot_id, symbol, exchange, timestamp, last_update_id,
		mid_price, spread_abs, spread_bps,
		best_bid_qty, best_ask_qty, bid_levels, ask_levels,
		bid_depth_10bps, ask_depth_10bps, bid_depth_10bps_usd, ask_depth_10bps_usd,
		bid_depth_50bps, ask_depth_50bps, bid_depth_50bps_usd, ask_depth_50bps_usd,
		bid_depth_100bps, ask_depth_100bps, bid_depth_100bps_usd, ask_depth_100bps_usd,
		imbalance,
		slippage_100k_bps, slippage_100k_usd,
		slippage_500k_bps, slippage_500k_usd,
		slippage_1m_bps, slippage_1m_usd
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8,
		$9, $10, $11, $12,
		$13, $14, $15, $16,
		$17, $18, $19, $20,
		$21, $22, $23, $24,
		$25,
		$26, $27,
		$28, $29,
		$30, $31
	) ON CONFLICT (snapshot_id) DO NOTHING`

const snapshotSelectCols = `snapshot_id, symbol, exchange, timestamp, last_update_id,
	mid_price, spread_abs, spread_bps,
	best_bid_qty, best_ask_qty, bid_levels, ask_levels,
	bid_depth_10bps, ask_depth_10bps, bid_depth_10bps_usd, ask_depth_10bps_usd,
	bid_depth_50bps, ask_depth_50bps, bid_depth_50bps_usd, ask_depth_50bps_usd,
	bid_depth_100bps, ask_depth_100bps, bid_depth_100bps_usd, ask_depth_100bps_usd,
	imbalance,
	slippage_100k_bps, slippage_100k_usd,
	slippage_500k_bps, slippage_500k_usd,
	slippage_1m_bps, slippage_1m_usd`

// snapshotID derives a deterministic ID so replaying the same sample after a
// crash lands on the same row and is dropped by the conflict clause.
func snapshotID(s domain.MetricsSample) uuid.UUID {
	key := fmt.Sprintf("%s|%s|%d|%d",
		s.Exchange, s.Symbol, s.Timestamp.UnixNano(), s.LastUpdateID)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key))
}

// snapshotArgs flattens a sample into insert arguments. Decimals travel as
// strings; postgres parses them into NUMERIC without a float round trip.
func snapshotArgs(s domain.MetricsSample) []any {
	args := []any{
		snapshotID(s), s.Symbol, s.Exchange, s.Timestamp.UTC(), s.LastUpdateID,
		s.Mid.String(), s.SpreadAbs.String(), s.SpreadBps.String(),
		s.BestBidQty.String(), s.BestAskQty.String(), s.BidLevels, s.AskLevels,
	}
	for _, bps := range []int{10, 50, 100} {
		band, _ := s.DepthAt(bps)
		args = append(args,
			band.BidDepth.String(), band.AskDepth.String(),
			band.BidDepthUSD.String(), band.AskDepthUSD.String(),
		)
	}
	args = append(args, s.Imbalance.String())
	for _, notional := range []decimal.Decimal{notional100k, notional500k, notional1m} {
		est, _ := s.SlippageAt(notional, domain.Buy)
		args = append(args, est.SlippageBps.String(), est.SlippageUSD.String())
	}
	return args
}

// WriteSnapshot persists one sample. Replays of the same sample are no-ops.
func (s *SnapshotStore) WriteSnapshot(ctx context.Context, sample domain.MetricsSample) error {
	if _, err := s.pool.Exec(ctx, snapshotInsert, snapshotArgs(sample)...); err != nil {
		return fmt.Errorf("postgres: insert snapshot %s: %w", sample.Symbol, err)
	}
	return nil
}

// WriteSnapshotBatch persists multiple samples in one round trip using pgx
// Batch. Duplicate snapshot IDs are silently skipped.
func (s *SnapshotStore) WriteSnapshotBatch(ctx context.Context, samples []domain.MetricsSample) error {
	if len(samples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, sample := range samples {
		batch.Queue(snapshotInsert, snapshotArgs(sample)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range samples {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert snapshot batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListSnapshots returns samples for a symbol, newest first, with pagination
// and optional time filtering.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.MetricsSample, error) {
	query := `SELECT ` + snapshotSelectCols + ` FROM liquidity_snapshots WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY timestamp DESC"

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
		return nil, fmt.Errorf("postgres: list snapshots: %w", err)
	}
	defer rows.Close()

	samples, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots: %w", err)
	}
	return samples, nil
}

// Count returns the total number of persisted snapshots.
func (s *SnapshotStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM liquidity_snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count snapshots: %w", err)
	}
	return n, nil
}

// ListSnapshotsBefore returns all snapshots older than the given time,
// oldest first. Used by the archiver.
func (s *SnapshotStore) ListSnapshotsBefore(ctx context.Context, before time.Time) ([]domain.MetricsSample, error) {
	query := `SELECT ` + snapshotSelectCols +
		` FROM liquidity_snapshots WHERE timestamp < $1 ORDER BY timestamp ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before: %w", err)
	}
	defer rows.Close()
	return scanSnapshotRows(rows)
}

// DeleteSnapshotsBefore deletes snapshots older than the given time and
// returns the number deleted.
func (s *SnapshotStore) DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM liquidity_snapshots WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// decParser converts NUMERIC columns scanned as strings back into decimals,
// short-circuiting on the first parse failure.
type decParser struct {
	err error
}

func (p *decParser) parse(s string) decimal.Decimal {
	if p.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.err = err
		return decimal.Zero
	}
	return d
}

func scanSnapshotRows(rows pgx.Rows) ([]domain.MetricsSample, error) {
	var samples []domain.MetricsSample
	for rows.Next() {
		var (
			id        uuid.UUID
			m         domain.MetricsSample
			mid       string
			spreadAbs string
			spreadBps string
			bbQty     string
			baQty     string
			depth     [12]string
			imbalance string
			slip      [6]string
		)
		if err := rows.Scan(
			&id, &m.Symbol, &m.Exchange, &m.Timestamp, &m.LastUpdateID,
			&mid, &spreadAbs, &spreadBps,
			&bbQty, &baQty, &m.BidLevels, &m.AskLevels,
			&depth[0], &depth[1], &depth[2], &depth[3],
			&depth[4], &depth[5], &depth[6], &depth[7],
			&depth[8], &depth[9], &depth[10], &depth[11],
			&imbalance,
			&slip[0], &slip[1], &slip[2], &slip[3], &slip[4], &slip[5],
		); err != nil {
			return nil, err
		}

		var p decParser
		m.Mid = p.parse(mid)
		m.SpreadAbs = p.parse(spreadAbs)
		m.SpreadBps = p.parse(spreadBps)
		m.BestBidQty = p.parse(bbQty)
		m.BestAskQty = p.parse(baQty)
		for i, bps := range []int{10, 50, 100} {
			m.Depth = append(m.Depth, domain.DepthBand{
				Bps:         bps,
				BidDepth:    p.parse(depth[i*4]),
				AskDepth:    p.parse(depth[i*4+1]),
				BidDepthUSD: p.parse(depth[i*4+2]),
				AskDepthUSD: p.parse(depth[i*4+3]),
			})
		}
		m.Imbalance = p.parse(imbalance)
		for i, notional := range []decimal.Decimal{notional100k, notional500k, notional1m} {
			m.Slippage = append(m.Slippage, domain.SlippageEstimate{
				NotionalUSD: notional,
				Side:        domain.Buy,
				SlippageBps: p.parse(slip[i*2]),
				SlippageUSD: p.parse(slip[i*2+1]),
				Filled:      true,
			})
		}
		if p.err != nil {
			return nil, p.err
		}
		samples = append(samples, m)
	}
	return samples, rows.Err()
}
