package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const preOrdersTable = `CREATE TABLE IF NOT EXISTS pre_orders (
	id VARCHAR(36) PRIMARY KEY,
	user_id BIGINT NOT NULL,
	event_id BIGINT NOT NULL,
	quantity INT NOT NULL CHECK (quantity >= 1),
	total_price DECIMAL(10,2) NOT NULL,
	status VARCHAR(16) NOT NULL,
	payment_method_id VARCHAR(255) NULL,
	gateway_customer_id VARCHAR(255) NULL,
	gateway_payment_intent_id VARCHAR(255) NULL,
	failure_reason TEXT NULL,
	approved_at {{ts}} NULL,
	paid_at {{ts}} NULL,
	failed_at {{ts}} NULL,
	cancelled_at {{ts}} NULL,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
)`

var preOrderIndexes = []struct{ name, cols string }{
	{"idx_pre_orders_user_created", "user_id, created_at"},
	{"idx_pre_orders_status", "status"},
	{"idx_pre_orders_intent", "gateway_payment_intent_id"},
}

// Statements returns the DDL that creates the pre_orders table for driver.
func Statements(driver string) ([]string, error) {
	var ts string
	switch driver {
	case DriverPostgres:
		ts = "TIMESTAMPTZ"
	case DriverMySQL:
		ts = "DATETIME(6)"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	stmts := []string{strings.ReplaceAll(preOrdersTable, "{{ts}}", ts)}
	for _, idx := range preOrderIndexes {
		if driver == DriverPostgres {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON pre_orders (%s)", idx.name, idx.cols))
			continue
		}
		// MySQL has no IF NOT EXISTS for indexes; the duplicate-key error is ignored below.
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON pre_orders (%s)", idx.name, idx.cols))
	}
	return stmts, nil
}

// Migrate creates the pre_orders table and its indexes when missing.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts, err := Statements(db.DriverName())
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if db.DriverName() == DriverMySQL && strings.Contains(err.Error(), "Duplicate key name") {
				continue
			}
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
