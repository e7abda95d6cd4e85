package quota

import (
	"context"
	"testing"
	"time"

	"github.com/private-symposium-go/internal/config"
	"github.com/private-symposium-go/internal/models"
	"github.com/private-symposium-go/internal/services/storage"
	"github.com/private-symposium-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

func testQuotaConfig() *config.QuotaConfig {
	return &config.QuotaConfig{
		DefaultLimit: 100000,
		PlanLimits: map[string]int64{
			"free":      100000,
			"lite":      1000000,
			"pro":       3000000,
			"unlimited": 1000000000,
		},
		MaxOutputTokens:    2000,
		ReconcileThreshold: 100,
		RefundOnFailure:    true,
		ResetLocation:      "UTC",
		ResetBatchSize:     2,
	}
}

func newTestLedger(t *testing.T) (*Ledger, storage.Store) {
	t.Helper()
	docs := storage.NewMemoryStorage(&config.MemoryConfig{})
	l := NewLedger(docs, testQuotaConfig(), logger.Discard())
	l.now = func() time.Time { return testNow }
	return l, docs
}

func seedUser(t *testing.T, docs storage.Store, id string, doc storage.Document) {
	t.Helper()
	require.NoError(t, docs.Write(context.Background(), storage.CollectionUsers, id, doc, false))
}

func TestNextResetDate(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{
			name: "mid month",
			now:  testNow,
			loc:  time.UTC,
			want: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "december rolls the year",
			now:  time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "month evaluated in location",
			now:  time.Date(2026, 1, 31, 20, 0, 0, 0, time.UTC),
			loc:  shanghai,
			want: time.Date(2026, 3, 1, 0, 0, 0, 0, shanghai),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextResetDate(tt.now, tt.loc)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestAdmitFreshUserThenReconcile(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	admission, err := l.Admit(ctx, "fresh", 2050)
	require.NoError(t, err)
	assert.True(t, admission.Allowed)
	assert.False(t, admission.Reset)
	assert.Equal(t, int64(2050), admission.Usage.Used)
	assert.Equal(t, int64(100000), admission.Usage.Limit)
	assert.Equal(t, int64(97950), admission.Remaining)

	rec, err := l.Reconcile(ctx, "fresh", 2050, 1800)
	require.NoError(t, err)
	assert.True(t, rec.Applied)
	assert.Equal(t, int64(-250), rec.Delta)
	assert.Equal(t, int64(1800), rec.Used)

	usage, err := l.Usage(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(1800), usage.Used)
	require.NotNil(t, usage.ResetDate)
	assert.True(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Equal(*usage.ResetDate))
}

func TestAdmitDeniedLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	l, docs := newTestLedger(t)
	seedUser(t, docs, "heavy", storage.Document{
		fieldPlan:      "free",
		fieldUsed:      "99999",
		fieldLimit:     "100000",
		fieldResetDate: storage.FormatTime(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
	})
	before, err := docs.Read(ctx, storage.CollectionUsers, "heavy")
	require.NoError(t, err)

	admission, err := l.Admit(ctx, "heavy", 2050)
	require.NoError(t, err)
	assert.False(t, admission.Allowed)
	assert.Equal(t, int64(1), admission.Remaining)

	after, err := docs.Read(ctx, storage.CollectionUsers, "heavy")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAdmitBoundary(t *testing.T) {
	tests := []struct {
		name      string
		used      string
		estimated int64
		allowed   bool
	}{
		{name: "exactly fills the limit", used: "97950", estimated: 2050, allowed: true},
		{name: "one over the limit", used: "97950", estimated: 2051, allowed: false},
		{name: "already exhausted", used: "100000", estimated: 1, allowed: false},
		{name: "overdrawn by earlier estimate", used: "100500", estimated: 0, allowed: false},
		{name: "zero estimate on empty quota", used: "0", estimated: 0, allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, docs := newTestLedger(t)
			seedUser(t, docs, "u", storage.Document{fieldUsed: tt.used, fieldLimit: "100000"})

			admission, err := l.Admit(context.Background(), "u", tt.estimated)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, admission.Allowed)
		})
	}
}

func TestAdmitIsMonotonicWithinPeriod(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	var sum, last int64
	for _, est := range []int64{2050, 10, 0, 3000, 777, 2050} {
		admission, err := l.Admit(ctx, "steady", est)
		require.NoError(t, err)
		require.True(t, admission.Allowed)

		sum += est
		assert.GreaterOrEqual(t, admission.Usage.Used, last)
		assert.Equal(t, sum, admission.Usage.Used)
		last = admission.Usage.Used
	}
}

func TestAdmitLazyReset(t *testing.T) {
	ctx := context.Background()
	l, docs := newTestLedger(t)
	seedUser(t, docs, "stale", storage.Document{
		fieldPlan:      "pro",
		fieldUsed:      "2999999",
		fieldLimit:     "3000000",
		fieldResetDate: storage.FormatTime(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	})

	admission, err := l.Admit(ctx, "stale", 2050)
	require.NoError(t, err)
	assert.True(t, admission.Allowed)
	assert.True(t, admission.Reset)
	assert.Equal(t, int64(2050), admission.Usage.Used)

	usage, err := l.Usage(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, int64(2050), usage.Used)
	require.NotNil(t, usage.ResetDate)
	assert.True(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Equal(*usage.ResetDate))
	require.NotNil(t, usage.LastReset)
	assert.True(t, testNow.Equal(*usage.LastReset))
}

func TestReconcileIgnoresSmallDelta(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	_, err := l.Admit(ctx, "u", 2050)
	require.NoError(t, err)

	for _, actual := range []int64{1950, 2150, 2050} {
		rec, err := l.Reconcile(ctx, "u", 2050, actual)
		require.NoError(t, err)
		assert.False(t, rec.Applied, "actual %d", actual)
	}

	rec, err := l.Reconcile(ctx, "u", 2050, 2151)
	require.NoError(t, err)
	assert.True(t, rec.Applied)

	usage, err := l.Usage(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(2151), usage.Used)
}

func TestReconcileRefundToZero(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	_, err := l.Admit(ctx, "u", 2050)
	require.NoError(t, err)

	rec, err := l.Reconcile(ctx, "u", 2050, 0)
	require.NoError(t, err)
	assert.True(t, rec.Applied)

	usage, err := l.Usage(ctx, "u")
	require.NoError(t, err)
	assert.Zero(t, usage.Used)
}

func TestResetAllDueAccounts(t *testing.T) {
	ctx := context.Background()
	l, docs := newTestLedger(t)
	future := storage.FormatTime(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))

	seedUser(t, docs, "free1", storage.Document{fieldPlan: "free", fieldUsed: "5000", fieldLimit: "100000", fieldResetDate: future})
	seedUser(t, docs, "free2", storage.Document{fieldPlan: "free", fieldUsed: "100000", fieldLimit: "100000"})
	seedUser(t, docs, "legacy", storage.Document{fieldUsed: "42", fieldLimit: "100000"})
	seedUser(t, docs, "pro", storage.Document{fieldPlan: "pro", fieldUsed: "12345", fieldLimit: "3000000"})

	count, err := l.ResetAllDueAccounts(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	for _, id := range []string{"free1", "free2", "legacy"} {
		usage, err := l.Usage(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, usage.Used, id)
		require.NotNil(t, usage.ResetDate, id)
		assert.True(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC).Equal(*usage.ResetDate), id)
		require.NotNil(t, usage.LastReset, id)
	}

	usage, err := l.Usage(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), usage.Used)
	assert.Nil(t, usage.ResetDate)
}

func TestResetAllDueAccountsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, docs := newTestLedger(t)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		seedUser(t, docs, id, storage.Document{fieldPlan: "free", fieldUsed: "900", fieldLimit: "100000"})
	}

	_, err := l.ResetAllDueAccounts(ctx, testNow)
	require.NoError(t, err)
	once := map[string]storage.Document{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		doc, err := docs.Read(ctx, storage.CollectionUsers, id)
		require.NoError(t, err)
		once[id] = doc
	}

	count, err := l.ResetAllDueAccounts(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	for id, want := range once {
		doc, err := docs.Read(ctx, storage.CollectionUsers, id)
		require.NoError(t, err)
		assert.Equal(t, want, doc, id)
	}
}

func TestBatchResetPreventsSecondLazyReset(t *testing.T) {
	ctx := context.Background()
	l, docs := newTestLedger(t)
	seedUser(t, docs, "u", storage.Document{
		fieldPlan:      "free",
		fieldUsed:      "70000",
		fieldLimit:     "100000",
		fieldResetDate: storage.FormatTime(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	})

	_, err := l.ResetAllDueAccounts(ctx, testNow)
	require.NoError(t, err)

	reset, err := l.MaybeReset(ctx, "u", testNow.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, reset)

	admission, err := l.Admit(ctx, "u", 100)
	require.NoError(t, err)
	assert.False(t, admission.Reset)
	assert.Equal(t, int64(100), admission.Usage.Used)
}

func TestMaybeReset(t *testing.T) {
	ctx := context.Background()
	l, docs := newTestLedger(t)
	seedUser(t, docs, "due", storage.Document{
		fieldUsed:      "500",
		fieldLimit:     "100000",
		fieldResetDate: storage.FormatTime(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
	})

	reset, err := l.MaybeReset(ctx, "due", testNow)
	require.NoError(t, err)
	assert.True(t, reset)

	usage, err := l.Usage(ctx, "due")
	require.NoError(t, err)
	assert.Zero(t, usage.Used)

	reset, err = l.MaybeReset(ctx, "missing", testNow)
	require.NoError(t, err)
	assert.False(t, reset)
}

func TestResetIfDueUsesLedgerClock(t *testing.T) {
	ctx := context.Background()
	l, docs := newTestLedger(t)
	seedUser(t, docs, "u", storage.Document{
		fieldUsed:      "700",
		fieldLimit:     "100000",
		fieldResetDate: storage.FormatTime(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
	})

	reset, err := l.ResetIfDue(ctx, "u")
	require.NoError(t, err)
	assert.False(t, reset)

	l.now = func() time.Time { return time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC) }

	reset, err = l.ResetIfDue(ctx, "u")
	require.NoError(t, err)
	assert.True(t, reset)

	usage, err := l.Usage(ctx, "u")
	require.NoError(t, err)
	assert.Zero(t, usage.Used)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), usage.ResetDate.UTC())
}

func TestAdmitRejectsNegativeEstimate(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Admit(context.Background(), "u", -1)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestAdmitCorruptUsageFails(t *testing.T) {
	l, docs := newTestLedger(t)
	seedUser(t, docs, "broken", storage.Document{fieldUsed: "lots"})

	_, err := l.Admit(context.Background(), "broken", 10)
	assert.Error(t, err)
}
