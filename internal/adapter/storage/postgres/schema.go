package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS payment_sessions (
		id                VARCHAR(64) PRIMARY KEY,
		state             VARCHAR(16) NOT NULL,
		amount            NUMERIC(20, 4) NOT NULL,
		currency_code     VARCHAR(8) NOT NULL,
		cart_id           VARCHAR(64),
		context_encrypted TEXT,
		payload_encrypted TEXT,
		failure_reason    TEXT NOT NULL DEFAULT '',
		version           BIGINT NOT NULL DEFAULT 1,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL,
		authorized_at     TIMESTAMPTZ,
		captured_at       TIMESTAMPTZ,
		closed_at         TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_sessions_cart_created
		ON payment_sessions (cart_id, created_at DESC)`,
}

// EnsureSchema creates the session table and its cart index when missing.
func EnsureSchema(ctx context.Context, pool Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
