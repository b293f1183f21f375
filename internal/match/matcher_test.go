package match

import (
	"context"
	"errors"
	"testing"

	config "github.com/merchantops/reconcile/internal/config"
	"github.com/merchantops/reconcile/internal/gateway"
	"github.com/merchantops/reconcile/internal/notify"
	"github.com/merchantops/reconcile/pkg/db/models"
	"github.com/merchantops/reconcile/pkg/db/store"
	"github.com/merchantops/reconcile/pkg/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway answers queries out of a fixed table keyed by payment id.
type fakeGateway struct {
	results map[string]*gateway.Result
	err     error
	queries int
}

func (f *fakeGateway) Query(ctx context.Context, keys gateway.Keys) (*gateway.Result, error) {
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	return f.results[keys.PaymentID], nil
}

func (f *fakeGateway) Strategy() string {
	return "gateway-lookup"
}

func testLogger() log.LoggerService {
	return log.NewLoggerService("test", config.LogConfig{
		Level:      "ERROR",
		TimeFormat: "15:04:05",
		NoColor:    true,
	})
}

func newTestCatalog(t *testing.T) *store.SQLiteCatalog {
	t.Helper()

	catalog, err := store.NewSQLiteCatalog(store.SQLiteConfig{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, catalog.Connect(ctx))
	require.NoError(t, catalog.Migrate(ctx))

	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func seedFile(t *testing.T, catalog *store.SQLiteCatalog, paymentIDs ...string) *models.ReportFile {
	t.Helper()
	ctx := context.Background()

	file := &models.ReportFile{
		Filename: "TRANSACTION_REPORT_20250601.csv",
		FileType: models.FileTypeCSV,
		Status:   models.FileStatusProcessed,
	}
	require.NoError(t, catalog.CreateFile(ctx, file))

	for _, id := range paymentIDs {
		require.NoError(t, catalog.CreateTransaction(ctx, &models.Transaction{
			FileID:    file.ID,
			PaymentID: id,
			Amount:    decimal.RequireFromString("10.00"),
			Currency:  "EUR",
			Status:    models.TransactionStatusPending,
		}))
	}
	return file
}

func TestMatchLinksGatewayRecord(t *testing.T) {
	catalog := newTestCatalog(t)
	file := seedFile(t, catalog, "pay-1", "pay-2")
	gw := &fakeGateway{results: map[string]*gateway.Result{
		"pay-1": {GatewayID: "gw-100", Reference: "ref-100"},
	}}

	m := NewMatcher(catalog, gw, 3, notify.NopNotifier{}, testLogger())
	res, err := m.Match(context.Background(), file.ID, false)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 0, res.Failed)

	txns, err := catalog.ListTransactionsByFile(context.Background(), file.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	matched := txns[0]
	assert.True(t, matched.IsMatched)
	assert.Equal(t, models.TransactionStatusMatched, matched.Status)
	assert.Equal(t, "gw-100", matched.GatewayID)
	assert.Equal(t, "ref-100", matched.GatewayReference)
	require.NotNil(t, matched.MatchedAt)

	unmatched := txns[1]
	assert.False(t, unmatched.IsMatched)
	assert.Equal(t, models.TransactionStatusPending, unmatched.Status)
}

func TestMatchFailsAfterBoundedAttempts(t *testing.T) {
	catalog := newTestCatalog(t)
	file := seedFile(t, catalog, "pay-1")
	gw := &fakeGateway{}
	ctx := context.Background()

	m := NewMatcher(catalog, gw, 3, notify.NopNotifier{}, testLogger())

	for i := 0; i < 2; i++ {
		res, err := m.Match(ctx, file.ID, false)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Attempted)
		assert.Equal(t, 0, res.Failed)
	}

	// The third miss exhausts the attempt limit.
	res, err := m.Match(ctx, file.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	txns, err := catalog.ListTransactionsByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, txns[0].Status)

	attempts, err := catalog.CountAttempts(ctx, txns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), attempts)

	// A failed transaction is resolved; further passes leave it alone.
	res, err = m.Match(ctx, file.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Attempted)
	assert.Equal(t, 3, gw.queries)
}

func TestMatchNonRetryableFailsImmediately(t *testing.T) {
	catalog := newTestCatalog(t)
	file := seedFile(t, catalog, "pay-1")
	gw := &fakeGateway{err: &gateway.NonRetryableError{Err: errors.New("unknown merchant")}}
	ctx := context.Background()

	m := NewMatcher(catalog, gw, 3, notify.NopNotifier{}, testLogger())
	res, err := m.Match(ctx, file.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	txns, err := catalog.ListTransactionsByFile(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, models.TransactionStatusFailed, txns[0].Status)

	attempts, err := catalog.CountAttempts(ctx, txns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), attempts)
}

func TestMatchRecordsAttemptOutcomes(t *testing.T) {
	catalog := newTestCatalog(t)
	file := seedFile(t, catalog, "pay-1")
	gw := &fakeGateway{err: errors.New("gateway returned status 503")}
	ctx := context.Background()

	m := NewMatcher(catalog, gw, 3, notify.NopNotifier{}, testLogger())
	_, err := m.Match(ctx, file.ID, false)
	require.NoError(t, err)

	unresolved, err := catalog.ListUnresolvedTransactions(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	require.Len(t, unresolved[0].Attempts, 1)
	assert.Equal(t, models.AttemptOutcomeError, unresolved[0].Attempts[0].Outcome)
	assert.Contains(t, unresolved[0].Attempts[0].Error, "503")
	assert.Equal(t, "gateway-lookup", unresolved[0].Attempts[0].Strategy)
}

func TestForceRematchKeepsExistingLinkage(t *testing.T) {
	catalog := newTestCatalog(t)
	file := seedFile(t, catalog, "pay-1")
	ctx := context.Background()

	gw := &fakeGateway{results: map[string]*gateway.Result{
		"pay-1": {GatewayID: "gw-100"},
	}}
	m := NewMatcher(catalog, gw, 3, notify.NopNotifier{}, testLogger())

	_, err := m.Match(ctx, file.ID, false)
	require.NoError(t, err)

	// The record disappears from the gateway; a forced pass must not
	// unmatch the transaction.
	gw.results = nil
	res, err := m.Match(ctx, file.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempted)

	txns, err := catalog.ListTransactionsByFile(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, txns[0].IsMatched)
	assert.Equal(t, "gw-100", txns[0].GatewayID)

	// The attempt log keeps growing.
	attempts, err := catalog.CountAttempts(ctx, txns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), attempts)
}

func TestCompleteRequiresAllResolved(t *testing.T) {
	catalog := newTestCatalog(t)
	file := seedFile(t, catalog, "pay-1", "pay-2")
	ctx := context.Background()

	gw := &fakeGateway{results: map[string]*gateway.Result{
		"pay-1": {GatewayID: "gw-100"},
		"pay-2": {GatewayID: "gw-200"},
	}}
	m := NewMatcher(catalog, gw, 3, notify.NopNotifier{}, testLogger())

	complete, err := m.Complete(ctx, file.ID)
	require.NoError(t, err)
	assert.False(t, complete)

	_, err = m.Match(ctx, file.ID, false)
	require.NoError(t, err)

	complete, err = m.Complete(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, complete)
}
