package postgres

import (
	"context"
	"fmt"
	"time"
)

const healthTimeout = 2 * time.Second

// requiredTables are created by migrations/001_init.sql. A reachable database
// without them cannot serve instructions, so it is reported unhealthy.
var requiredTables = []string{"records", "token_accounts", "idempotency_logs", "audit_logs", "event_deliveries"}

const missingTablesQuery = `SELECT coalesce(string_agg(t, ','), '')
FROM unnest($1::text[]) AS t
WHERE to_regclass(t) IS NULL`

// HealthCheck implements ports.HealthChecker for PostgreSQL.
type HealthCheck struct {
	pool Pool
}

// NewHealthCheck creates a PostgreSQL health checker.
func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

// Ping checks that the database answers and that the escrow schema is migrated.
func (h *HealthCheck) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var missing string
	if err := h.pool.QueryRow(ctx, missingTablesQuery, requiredTables).Scan(&missing); err != nil {
		return fmt.Errorf("query schema: %w", err)
	}
	if missing != "" {
		return fmt.Errorf("schema not migrated, missing tables: %s", missing)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgresql"
}
