package storage

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedSubscriber(t *testing.T, store *Storage, id int64, plan string, end time.Time) {
	t.Helper()
	require.NoError(t, store.UpsertUser(id, "", ""))
	require.NoError(t, store.SetSubscription(id, plan, end.Add(-24*time.Hour), end, 100, false))
}

func TestUpsertUser(t *testing.T) {
	store := newTestStorage(t)

	require.NoError(t, store.UpsertUser(42, "gamer", "Ada"))

	u, err := store.GetUser(42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.ID)
	assert.Equal(t, "gamer", u.Username)
	assert.Equal(t, "Ada", u.FirstName)
	assert.Equal(t, int64(1), u.Interactions)
	assert.False(t, u.IsPremium)

	require.NoError(t, store.UpsertUser(42, "gamer_two", "Ada"))

	u, err = store.GetUser(42)
	require.NoError(t, err)
	assert.Equal(t, "gamer_two", u.Username)
	assert.Equal(t, int64(2), u.Interactions)
}

func TestUpsertUserSanitizesNames(t *testing.T) {
	store := newTestStorage(t)

	require.NoError(t, store.UpsertUser(7, "  padded  ", strings.Repeat("x", 150)))

	u, err := store.GetUser(7)
	require.NoError(t, err)
	assert.Equal(t, "padded", u.Username)
	assert.Len(t, u.FirstName, 100)
}

func TestGetUserNotFound(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.GetUser(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetSubscription(t *testing.T) {
	store := newTestStorage(t)
	require.NoError(t, store.UpsertUser(1, "u", "f"))

	start := time.Now().Truncate(time.Second)
	end := start.Add(30 * 24 * time.Hour)
	require.NoError(t, store.SetSubscription(1, "monthly", start, end, 1500, false))

	u, err := store.GetUser(1)
	require.NoError(t, err)
	assert.True(t, u.IsPremium)
	assert.Equal(t, "monthly", u.Plan)
	require.NotNil(t, u.SubscriptionStart)
	require.NotNil(t, u.SubscriptionEnd)
	assert.Equal(t, start.Unix(), u.SubscriptionStart.Unix())
	assert.Equal(t, end.Unix(), u.SubscriptionEnd.Unix())
	assert.Nil(t, u.LastReminderAt)
}

func TestSetSubscriptionUnknownUser(t *testing.T) {
	store := newTestStorage(t)

	now := time.Now()
	err := store.SetSubscription(404, "monthly", now, now.Add(time.Hour), 1500, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetSubscriptionClearsReminderStamp(t *testing.T) {
	store := newTestStorage(t)
	require.NoError(t, store.UpsertUser(1, "", ""))

	now := time.Now().Truncate(time.Second)
	require.NoError(t, store.SetSubscription(1, "weekly", now, now.Add(7*24*time.Hour), 500, false))
	require.NoError(t, store.MarkReminded(1, now))

	u, err := store.GetUser(1)
	require.NoError(t, err)
	require.NotNil(t, u.LastReminderAt)

	// A renewal opens a fresh window; an old stamp must not suppress
	// reminders for it
	require.NoError(t, store.SetSubscription(1, "weekly", now.Add(7*24*time.Hour), now.Add(14*24*time.Hour), 500, true))

	u, err = store.GetUser(1)
	require.NoError(t, err)
	assert.Nil(t, u.LastReminderAt)
}

func TestRevokeSubscription(t *testing.T) {
	store := newTestStorage(t)

	now := time.Now().Truncate(time.Second)
	seedSubscriber(t, store, 1, "daily", now.Add(-time.Hour))
	require.NoError(t, store.SetInviteLink(1, "https://t.me/+invite"))

	require.NoError(t, store.RevokeSubscription(1))

	u, err := store.GetUser(1)
	require.NoError(t, err)
	assert.False(t, u.IsPremium)
	assert.Empty(t, u.Plan)
	assert.Empty(t, u.InviteLink)
	assert.NotNil(t, u.SubscriptionEnd, "window columns are kept for the record")

	assert.ErrorIs(t, store.RevokeSubscription(404), ErrNotFound)
}

func TestListExpired(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now().Truncate(time.Second)

	seedSubscriber(t, store, 1, "daily", now.Add(-time.Hour))
	seedSubscriber(t, store, 2, "daily", now)
	seedSubscriber(t, store, 3, "daily", now.Add(time.Hour))
	seedSubscriber(t, store, 4, "daily", now.Add(-2*time.Hour))
	require.NoError(t, store.RevokeSubscription(4))

	expired, err := store.ListExpired(now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, int64(1), expired[0].ID)
	assert.Equal(t, int64(2), expired[1].ID, "a window ending exactly now is expired")
}

func TestListNeedingReminder(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now().Truncate(time.Second)
	thresholds := []int{7, 3, 1}

	seedSubscriber(t, store, 1, "monthly", now.Add(3*24*time.Hour))
	seedSubscriber(t, store, 2, "monthly", now.Add(6*24*time.Hour+12*time.Hour))
	seedSubscriber(t, store, 3, "monthly", now.Add(12*time.Hour))
	seedSubscriber(t, store, 4, "monthly", now.Add(10*24*time.Hour))
	seedSubscriber(t, store, 5, "monthly", now.Add(3*24*time.Hour+time.Hour))

	got, err := store.ListNeedingReminder(now, thresholds)
	require.NoError(t, err)

	byID := make(map[int64]int)
	for _, c := range got {
		byID[c.User.ID] = c.DaysLeft
	}
	assert.Equal(t, map[int64]int{1: 3, 2: 7, 3: 1}, byID)
}

func TestListNeedingReminderDedupe(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now().Truncate(time.Second)
	thresholds := []int{7, 3, 1}

	seedSubscriber(t, store, 1, "monthly", now.Add(6*24*time.Hour+12*time.Hour))

	got, err := store.ListNeedingReminder(now, thresholds)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].DaysLeft)

	// Stamped for this window: suppressed on the next pass
	require.NoError(t, store.MarkReminded(1, now))

	got, err = store.ListNeedingReminder(now, thresholds)
	require.NoError(t, err)
	assert.Empty(t, got)

	// The 7 day stamp does not suppress the later 3 day window
	later := now.Add(4 * 24 * time.Hour)
	got, err = store.ListNeedingReminder(later, thresholds)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].DaysLeft)
}

func TestPaymentLifecycle(t *testing.T) {
	store := newTestStorage(t)
	require.NoError(t, store.UpsertUser(1, "", ""))
	require.NoError(t, store.CreatePayment(1, "premium_bot_1_abc_123", "monthly", 1500))

	p, err := store.GetPayment("premium_bot_1_abc_123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.UserID)
	assert.Equal(t, PaymentPending, p.Status)
	assert.Equal(t, int64(1500), p.AmountKobo)
	assert.Empty(t, p.GatewayID)
	assert.Nil(t, p.CompletedAt)

	when := time.Now().Truncate(time.Second)
	won, err := store.CompletePayment("premium_bot_1_abc_123", "flw-991", when)
	require.NoError(t, err)
	assert.True(t, won)

	p, err = store.GetPayment("premium_bot_1_abc_123")
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, p.Status)
	assert.Equal(t, "flw-991", p.GatewayID)
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, when.Unix(), p.CompletedAt.Unix())

	// The racing verification path loses
	won, err = store.CompletePayment("premium_bot_1_abc_123", "flw-991", when)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestCompletePaymentUnknownReference(t *testing.T) {
	store := newTestStorage(t)

	won, err := store.CompletePayment("missing", "g", time.Now())
	require.NoError(t, err)
	assert.False(t, won)
}

func TestFailPayment(t *testing.T) {
	store := newTestStorage(t)
	require.NoError(t, store.UpsertUser(1, "", ""))
	require.NoError(t, store.CreatePayment(1, "ref-a", "daily", 100))

	require.NoError(t, store.FailPayment("ref-a"))
	p, err := store.GetPayment("ref-a")
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, p.Status)

	// A late gateway settle still wins over a local failure
	won, err := store.CompletePayment("ref-a", "flw-1", time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	// Failing a completed payment is a no-op
	require.NoError(t, store.FailPayment("ref-a"))
	p, err = store.GetPayment("ref-a")
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, p.Status)
}

func TestCreatePaymentDuplicateReference(t *testing.T) {
	store := newTestStorage(t)
	require.NoError(t, store.UpsertUser(1, "", ""))
	require.NoError(t, store.CreatePayment(1, "dup", "daily", 100))

	err := store.CreatePayment(2, "dup", "daily", 100)
	require.Error(t, err)

	var storageErr *StorageError
	assert.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "create payment", storageErr.Op)
}

func TestGetPaymentNotFound(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.GetPayment("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetStats(t *testing.T) {
	store := newTestStorage(t)
	now := time.Now().Truncate(time.Second)

	require.NoError(t, store.UpsertUser(1, "", ""))
	require.NoError(t, store.UpsertUser(2, "", ""))
	require.NoError(t, store.UpsertUser(3, "", ""))
	require.NoError(t, store.SetSubscription(1, "monthly", now, now.Add(30*24*time.Hour), 1500, false))

	require.NoError(t, store.CreatePayment(1, "ref-1", "monthly", 1500))
	_, err := store.CompletePayment("ref-1", "g1", now)
	require.NoError(t, err)
	require.NoError(t, store.CreatePayment(2, "ref-2", "daily", 100))
	_, err = store.CompletePayment("ref-2", "g2", now)
	require.NoError(t, err)
	require.NoError(t, store.CreatePayment(3, "ref-3", "daily", 100))

	stats, err := store.GetStats(now)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalUsers)
	assert.Equal(t, 1, stats.PremiumUsers)
	assert.Equal(t, int64(1600), stats.RevenueKobo, "pending payments are not revenue")
	assert.Equal(t, 2, stats.Payments24h)

	// Outside the 24h window the revenue stays but the recent count drops
	stats, err = store.GetStats(now.Add(48 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1600), stats.RevenueKobo)
	assert.Zero(t, stats.Payments24h)

	n, err := store.CountPremium()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
