package quota

import (
	"context"
	"testing"
	"time"

	"github.com/private-symposium-go/internal/models"
	"github.com/private-symposium-go/internal/services/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginCreatesThenBumps(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	user, created, err := l.Login(ctx, "newbie")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "newbie", user.ID)
	assert.Equal(t, models.PlanFree, user.Plan)
	assert.Equal(t, int64(0), user.TokenUsage.Used)
	assert.Equal(t, int64(100000), user.TokenUsage.Limit)
	assert.True(t, testNow.Equal(user.CreatedAt))

	later := testNow.Add(time.Hour)
	l.now = func() time.Time { return later }

	user, created, err = l.Login(ctx, "newbie")
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, testNow.Equal(user.CreatedAt))
	assert.True(t, later.Equal(user.LastLoginAt))
}

func TestTouchLogin(t *testing.T) {
	ctx := context.Background()
	l, docs := newTestLedger(t)
	seedUser(t, docs, "u", storage.Document{fieldUsed: "5", fieldLimit: "100000"})

	require.NoError(t, l.TouchLogin(ctx, "u"))

	doc, err := docs.Read(ctx, storage.CollectionUsers, "u")
	require.NoError(t, err)
	assert.Equal(t, storage.FormatTime(testNow), doc[fieldLastLoginAt])
	assert.Equal(t, "5", doc[fieldUsed])
}

func TestSetPlan(t *testing.T) {
	ctx := context.Background()
	l, docs := newTestLedger(t)
	seedUser(t, docs, "u", storage.Document{fieldPlan: "free", fieldUsed: "90000", fieldLimit: "100000"})

	user, err := l.SetPlan(ctx, "u", models.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, models.PlanPro, user.Plan)
	assert.Equal(t, int64(3000000), user.TokenUsage.Limit)
	assert.Equal(t, int64(90000), user.TokenUsage.Used)
	require.NotNil(t, user.UpdatedAt)
	assert.True(t, testNow.Equal(*user.UpdatedAt))

	admission, err := l.Admit(ctx, "u", 50000)
	require.NoError(t, err)
	assert.True(t, admission.Allowed)

	_, err = l.SetPlan(ctx, "u", models.Plan("platinum"))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSetPlanCreatesUnknownUser(t *testing.T) {
	l, _ := newTestLedger(t)

	user, err := l.SetPlan(context.Background(), "ghost", models.PlanLite)
	require.NoError(t, err)
	assert.Equal(t, models.PlanLite, user.Plan)
	assert.Equal(t, int64(1000000), user.TokenUsage.Limit)
	assert.Zero(t, user.TokenUsage.Used)
}
