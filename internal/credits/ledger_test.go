package credits

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshapes/fleet/internal/fleet"
)

func newTestLedger(t *testing.T, defaultGrant int) *Ledger {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ledger, err := NewLedger(filepath.Join(t.TempDir(), "credits.db"), defaultGrant, logger)
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func TestLedgerDefaultGrant(t *testing.T) {
	ledger := newTestLedger(t, 3)

	balance, err := ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, balance)

	// The grant happens once, not on every read.
	_, err = ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	require.NoError(t, ledger.Consume(context.Background(), "u1"))

	balance, err = ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, balance)
}

func TestLedgerConsumeToZero(t *testing.T) {
	ledger := newTestLedger(t, 2)
	ctx := context.Background()

	require.NoError(t, ledger.Consume(ctx, "u1"))
	require.NoError(t, ledger.Consume(ctx, "u1"))

	err := ledger.Consume(ctx, "u1")
	assert.ErrorIs(t, err, fleet.ErrInsufficientCredits)

	balance, err := ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestLedgerRefundAndAdd(t *testing.T) {
	ledger := newTestLedger(t, 1)
	ctx := context.Background()

	require.NoError(t, ledger.Consume(ctx, "u1"))
	require.NoError(t, ledger.Refund(ctx, "u1"))

	balance, err := ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, balance)

	require.NoError(t, ledger.Add(ctx, "u1", 5))
	balance, err = ledger.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 6, balance)
}

func TestLedgerIsolatesTenants(t *testing.T) {
	ledger := newTestLedger(t, 3)
	ctx := context.Background()

	require.NoError(t, ledger.Consume(ctx, "u1"))

	balance, err := ledger.Balance(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 3, balance)
}
