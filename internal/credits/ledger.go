// Package credits keeps the per-tenant credit balances that gate instance
// creation. Balances live in a small sqlite database so they survive
// controller restarts.
package credits

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/openshapes/fleet/internal/fleet"
)

const schema = `
CREATE TABLE IF NOT EXISTS credits (
	tenant_id TEXT PRIMARY KEY,
	credits   INTEGER NOT NULL
);
`

// Ledger is a sqlite-backed credit store. Tenants are granted a default
// balance on first contact.
type Ledger struct {
	db           *sql.DB
	defaultGrant int
	logger       *logrus.Logger
}

// NewLedger opens (or creates) the ledger database at path. Every tenant not
// yet in the ledger starts with defaultGrant credits.
func NewLedger(path string, defaultGrant int, logger *logrus.Logger) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credit ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize credit ledger: %w", err)
	}
	return &Ledger{
		db:           db,
		defaultGrant: defaultGrant,
		logger:       logger,
	}, nil
}

// Balance returns the tenant's current credit count, granting the default
// balance to tenants seen for the first time.
func (l *Ledger) Balance(ctx context.Context, tenantID string) (int, error) {
	if err := l.ensure(ctx, tenantID); err != nil {
		return 0, err
	}
	var balance int
	err := l.db.QueryRowContext(ctx,
		`SELECT credits FROM credits WHERE tenant_id = ?`, tenantID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to read credits for %s: %w", tenantID, err)
	}
	return balance, nil
}

// Consume deducts one credit. The decrement and the balance check are one
// statement, so concurrent consumers cannot drive the balance negative.
func (l *Ledger) Consume(ctx context.Context, tenantID string) error {
	if err := l.ensure(ctx, tenantID); err != nil {
		return err
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE credits SET credits = credits - 1 WHERE tenant_id = ? AND credits > 0`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to consume credit for %s: %w", tenantID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to consume credit for %s: %w", tenantID, err)
	}
	if n == 0 {
		return fleet.ErrInsufficientCredits
	}
	l.logger.Debugf("Consumed one credit for tenant %s", tenantID)
	return nil
}

// Refund returns one credit to the tenant.
func (l *Ledger) Refund(ctx context.Context, tenantID string) error {
	return l.Add(ctx, tenantID, 1)
}

// Add grants the tenant extra credits.
func (l *Ledger) Add(ctx context.Context, tenantID string, amount int) error {
	if err := l.ensure(ctx, tenantID); err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx,
		`UPDATE credits SET credits = credits + ? WHERE tenant_id = ?`, amount, tenantID); err != nil {
		return fmt.Errorf("failed to add credits for %s: %w", tenantID, err)
	}
	l.logger.Infof("Granted %d credit(s) to tenant %s", amount, tenantID)
	return nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// ensure bootstraps a tenant row with the default grant if absent.
func (l *Ledger) ensure(ctx context.Context, tenantID string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO credits (tenant_id, credits) VALUES (?, ?)`,
		tenantID, l.defaultGrant)
	if err != nil {
		return fmt.Errorf("failed to bootstrap credits for %s: %w", tenantID, err)
	}
	return nil
}
