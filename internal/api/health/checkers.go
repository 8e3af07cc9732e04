package health

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteChecker checks signature store connectivity.
type SQLiteChecker struct {
	db *sql.DB
}

// NewSQLiteChecker creates a new SQLite health checker.
func NewSQLiteChecker(db *sql.DB) *SQLiteChecker {
	return &SQLiteChecker{db: db}
}

// Name returns the checker name.
func (c *SQLiteChecker) Name() string {
	return "sqlite"
}

// Check verifies the SQLite database is accessible.
func (c *SQLiteChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// Pinger interface for databases that support ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClickHouseChecker checks event archive connectivity.
type ClickHouseChecker struct {
	pinger Pinger
}

// NewClickHouseChecker creates a new ClickHouse health checker.
func NewClickHouseChecker(p Pinger) *ClickHouseChecker {
	return &ClickHouseChecker{pinger: p}
}

// Name returns the checker name.
func (c *ClickHouseChecker) Name() string {
	return "clickhouse"
}

// Check verifies ClickHouse is accessible.
func (c *ClickHouseChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return fmt.Errorf("clickhouse not configured")
	}
	return c.pinger.Ping(ctx)
}

// QueueChecker reports the ingest queue as unhealthy once its depth
// reaches the saturation threshold, so load balancers stop routing new
// event batches here before enqueues start failing.
type QueueChecker struct {
	depth func() int
	max   int
}

// NewQueueChecker creates a new ingest queue health checker.
func NewQueueChecker(depth func() int, max int) *QueueChecker {
	return &QueueChecker{depth: depth, max: max}
}

// Name returns the checker name.
func (c *QueueChecker) Name() string {
	return "queue"
}

// Check verifies the ingest queue has capacity left.
func (c *QueueChecker) Check(ctx context.Context) error {
	if c.depth == nil {
		return fmt.Errorf("queue not configured")
	}
	if d := c.depth(); c.max > 0 && d >= c.max {
		return fmt.Errorf("ingest queue saturated (%d/%d)", d, c.max)
	}
	return nil
}
