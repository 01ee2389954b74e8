package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

//go:embed schema.sql
var schemaSQL string

// Bootstrap applies the embedded DDL. The schema only uses IF NOT EXISTS
// statements, so running it at every startup is safe.
func Bootstrap(ctx context.Context, pool PoolIface) error {
	// The simple protocol permits the multi-statement schema script.
	if _, err := pool.Exec(ctx, schemaSQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
