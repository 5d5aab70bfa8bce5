package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the runguard_events table for the
// gateway's events endpoint.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	RunID     string
	EventName string
	Tool      string
	StartTime *time.Time
	Limit     int
}

// ListEvents returns recent guard events, newest first.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]Event, error) {
	conditions := []string{"1 = 1"}
	var args []any

	if params.RunID != "" {
		conditions = append(conditions, "run_id = @run_id")
		args = append(args, clickhouse.Named("run_id", params.RunID))
	}
	if params.EventName != "" {
		conditions = append(conditions, "event = @event")
		args = append(args, clickhouse.Named("event", params.EventName))
	}
	if params.Tool != "" {
		conditions = append(conditions, "tool = @tool")
		args = append(args, clickhouse.Named("tool", params.Tool))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}

	limit := params.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, clickhouse.Named("limit", limit))

	query := fmt.Sprintf(`
		SELECT event, timestamp, run_id, tool, reason, call_sig,
		       amount, cumulative, budget_limit, pct, cost_avoided, count
		FROM runguard_events
		WHERE %s
		ORDER BY timestamp DESC
		LIMIT @limit`, strings.Join(conditions, " AND "))

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var count uint32
		if err := rows.Scan(&e.Name, &e.Timestamp, &e.RunID, &e.Tool, &e.Reason,
			&e.CallSig, &e.Amount, &e.Cumulative, &e.Limit, &e.Pct,
			&e.CostAvoided, &count); err != nil {
			return nil, fmt.Errorf("ListEvents: %w", err)
		}
		e.Count = int(count)
		events = append(events, e)
	}
	return events, rows.Err()
}
