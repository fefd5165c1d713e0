package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"ticket_parser/internal/pipeline"
	"ticket_parser/internal/usage"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// ClickHouseDB holds extraction analytics and model usage.
type ClickHouseDB struct {
	conn driver.Conn
}

var _ usage.Sink = (*ClickHouseDB)(nil)

// Conn returns the underlying ClickHouse connection for direct queries.
func (d *ClickHouseDB) Conn() driver.Conn {
	return d.conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

// CreateSchema creates the analytics tables.
func (d *ClickHouseDB) CreateSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS extraction_runs (
			run_id          String,
			document_id     String,
			created_at      DateTime64(3),
			parser          LowCardinality(String),
			source          LowCardinality(String),
			tier            LowCardinality(String),
			carrier         LowCardinality(String),
			score           Float32,
			missing_fields  Array(LowCardinality(String)),
			segments        UInt16,
			llm_calls       UInt8,
			duration_ms     UInt32,
			error           String
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(created_at)
		ORDER BY (tier, parser, created_at)`,

		`CREATE TABLE IF NOT EXISTS llm_usage (
			at              DateTime64(3),
			model           LowCardinality(String),
			purpose         LowCardinality(String),
			document_id     String,
			tokens_in       UInt32,
			tokens_out      UInt32,
			cost            Float64
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(at)
		ORDER BY (model, at)`,
	}

	for _, q := range queries {
		if err := d.conn.Exec(ctx, q); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// RunRow is one row of extraction_runs.
type RunRow struct {
	RunID         string
	DocumentID    string
	CreatedAt     time.Time
	Parser        string
	Source        string
	Tier          string
	Carrier       string
	Score         float32
	MissingFields []string
	Segments      uint16
	LLMCalls      uint8
	DurationMs    uint32
	Error         string
}

// RunFromResult builds the analytics row for a pipeline outcome. res may be
// nil when the pipeline failed before producing one.
func RunFromResult(documentID string, res *pipeline.Result, procErr error) RunRow {
	row := RunRow{
		RunID:         uuid.NewString(),
		DocumentID:    documentID,
		CreatedAt:     time.Now().UTC(),
		MissingFields: []string{},
	}
	if procErr != nil {
		row.Error = procErr.Error()
	}
	if res == nil {
		return row
	}
	row.DocumentID = res.DocumentID
	row.Parser = res.Parser
	row.Source = string(res.Source)
	row.Tier = string(res.Decision.Tier)
	row.Score = float32(res.Score.Total)
	row.LLMCalls = uint8(min(res.LLMCalls, 255))
	row.DurationMs = uint32(res.Duration.Milliseconds())
	if len(res.Decision.Missing) > 0 {
		row.MissingFields = res.Decision.Missing
	}
	if res.Ticket != nil {
		row.Carrier = res.Ticket.Carrier
		row.Segments = uint16(min(len(res.Ticket.Segments), 65535))
	}
	return row
}

// InsertRun stores a single analytics row.
func (d *ClickHouseDB) InsertRun(ctx context.Context, r RunRow) error {
	return d.InsertRuns(ctx, []RunRow{r})
}

// InsertRuns stores analytics rows in one batch.
func (d *ClickHouseDB) InsertRuns(ctx context.Context, runs []RunRow) error {
	if len(runs) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO extraction_runs (run_id, document_id, created_at, parser, source, tier, carrier,
			score, missing_fields, segments, llm_calls, duration_ms, error)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range runs {
		err := batch.Append(r.RunID, r.DocumentID, r.CreatedAt, r.Parser, r.Source, r.Tier, r.Carrier,
			r.Score, r.MissingFields, r.Segments, r.LLMCalls, r.DurationMs, r.Error)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// WriteUsage stores model usage records. It satisfies usage.Sink.
func (d *ClickHouseDB) WriteUsage(ctx context.Context, recs []usage.Record) error {
	if len(recs) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO llm_usage (at, model, purpose, document_id, tokens_in, tokens_out, cost)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range recs {
		at := r.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		err := batch.Append(at, r.Model, r.Purpose, r.DocumentID,
			uint32(max(r.TokensIn, 0)), uint32(max(r.TokensOut, 0)), r.Cost)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CHStats summarises extraction runs and model spend.
type CHStats struct {
	TotalRuns   uint64             `json:"total_runs"`
	Failed      uint64             `json:"failed"`
	AvgScore    float64            `json:"avg_score"`
	ByTier      map[string]uint64  `json:"by_tier"`
	BySource    map[string]uint64  `json:"by_source"`
	TokensIn    uint64             `json:"tokens_in"`
	TokensOut   uint64             `json:"tokens_out"`
	CostByModel map[string]float64 `json:"cost_by_model"`
}

// GetStats returns aggregate statistics since the given time.
func (d *ClickHouseDB) GetStats(ctx context.Context, since time.Time) (*CHStats, error) {
	stats := &CHStats{
		ByTier:      make(map[string]uint64),
		BySource:    make(map[string]uint64),
		CostByModel: make(map[string]float64),
	}

	row := d.conn.QueryRow(ctx, `
		SELECT count(), countIf(error != ''), avg(score)
		FROM extraction_runs WHERE created_at >= ?`, since)
	if err := row.Scan(&stats.TotalRuns, &stats.Failed, &stats.AvgScore); err != nil {
		return nil, fmt.Errorf("scan run totals: %w", err)
	}

	for column, into := range map[string]map[string]uint64{"tier": stats.ByTier, "source": stats.BySource} {
		rows, err := d.conn.Query(ctx, fmt.Sprintf(
			"SELECT %s, count() FROM extraction_runs WHERE created_at >= ? GROUP BY %s", column, column), since)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var key string
			var count uint64
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s stats: %w", column, err)
			}
			into[key] = count
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate %s stats: %w", column, err)
		}
	}

	rows, err := d.conn.Query(ctx, `
		SELECT model, sum(tokens_in), sum(tokens_out), sum(cost)
		FROM llm_usage WHERE at >= ? GROUP BY model`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var model string
		var in, out uint64
		var cost float64
		if err := rows.Scan(&model, &in, &out, &cost); err != nil {
			return nil, fmt.Errorf("scan usage stats: %w", err)
		}
		stats.TokensIn += in
		stats.TokensOut += out
		stats.CostByModel[model] = cost
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage stats: %w", err)
	}
	return stats, nil
}
