package telemetry

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	chBufferSize    = 10_000
	chFlushInterval = 100 * time.Millisecond
	chFlushBatch    = 1000
	chDrainTimeout  = 2 * time.Second
)

// ClickHouseSink persists guard events to ClickHouse asynchronously.
// Emit is non-blocking: events are buffered and batch-inserted by a
// background goroutine, so the decision path never waits on the database.
type ClickHouseSink struct {
	conn    driver.Conn
	buffer  chan Event
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// NewClickHouseSink connects to ClickHouse and starts the flush loop.
func NewClickHouseSink(dsn string, logger *zap.Logger) (*ClickHouseSink, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	// ParseDSN enables TLS when ?secure=true is present; enforce it here
	// as a safety net for managed ClickHouse endpoints.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	s := &ClickHouseSink{
		conn:    conn,
		buffer:  make(chan Event, chBufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
	go s.flushLoop()
	return s, nil
}

// Emit queues a guard event for async insertion. Drops the event if the
// buffer is full.
func (s *ClickHouseSink) Emit(e Event) {
	select {
	case s.buffer <- e:
	default:
		s.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("event", e.Name),
		)
	}
}

// Close drains remaining events (up to chDrainTimeout) and shuts down.
// Safe to call once.
func (s *ClickHouseSink) Close() {
	close(s.done)
	<-s.flushed
	_ = s.conn.Close()
}

func (s *ClickHouseSink) flushLoop() {
	defer close(s.flushed)

	ticker := time.NewTicker(chFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, chFlushBatch)

	for {
		select {
		case e := <-s.buffer:
			batch = append(batch, e)
			if len(batch) >= chFlushBatch {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-s.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), chDrainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case e := <-s.buffer:
					batch = append(batch, e)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *ClickHouseSink) flush(events []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO runguard_events (
			event, timestamp, run_id, tool, reason, call_sig,
			amount, cumulative, budget_limit, pct, cost_avoided, count
		)
	`)
	if err != nil {
		s.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		if err := batch.Append(
			e.Name,
			e.Timestamp,
			e.RunID,
			e.Tool,
			e.Reason,
			e.CallSig,
			e.Amount,
			e.Cumulative,
			e.Limit,
			e.Pct,
			e.CostAvoided,
			uint32(e.Count),
		); err != nil {
			s.logger.Error("clickhouse append event failed",
				zap.String("event", e.Name),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		s.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}
