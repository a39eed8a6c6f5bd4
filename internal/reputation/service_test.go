package reputation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testDenylist = []string{"kycupdate@okaxis", "verification@paytm", "prize@bank", "urgent@upi"}

func newTestService(store Store) *Service {
	s := NewService(store, testDenylist, DefaultReportThreshold, quietLogger())
	s.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return s
}

// brokenStore fails every call.
type brokenStore struct{}

var errBroken = errors.New("db down")

func (brokenStore) Report(context.Context, string, string, time.Time) (*Record, error) {
	return nil, errBroken
}
func (brokenStore) Flag(context.Context, string, string, time.Time) (*Record, error) {
	return nil, errBroken
}
func (brokenStore) Get(context.Context, string) (*Record, error)    { return nil, errBroken }
func (brokenStore) ListTop(context.Context, int) ([]*Record, error) { return nil, errBroken }

func TestService_LookupThreshold(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	ctx := context.Background()

	v, err := svc.Lookup(ctx, "new@upi")
	require.NoError(t, err)
	assert.False(t, v.IsSuspicious("new@upi"))

	_, err = svc.Report(ctx, "new@upi", "asked for OTP")
	require.NoError(t, err)
	v, err = svc.Lookup(ctx, "new@upi")
	require.NoError(t, err)
	assert.False(t, v.IsSuspicious("new@upi"), "one report is below the threshold")

	_, err = svc.Report(ctx, "NEW@upi", "fake refund")
	require.NoError(t, err)
	v, err = svc.Lookup(ctx, "new@upi")
	require.NoError(t, err)
	assert.True(t, v.IsSuspicious("new@upi"))

	count, last, reasons := v.Reports("new@upi")
	assert.Equal(t, 2, count)
	assert.Equal(t, svc.now(), last)
	assert.Equal(t, []string{"fake refund", "asked for OTP"}, reasons)
}

func TestService_LookupDenylist(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	v, err := svc.Lookup(context.Background(), "Prize@Bank")
	require.NoError(t, err)
	assert.True(t, v.IsSuspicious("prize@bank"))
	assert.Nil(t, v.Record())
}

func TestService_LookupStoreError(t *testing.T) {
	svc := newTestService(brokenStore{})
	_, err := svc.Lookup(context.Background(), "a@upi")
	assert.ErrorIs(t, err, errBroken)
}

func TestService_CustomThreshold(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, 3, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := svc.Report(ctx, "a@upi", "x")
		require.NoError(t, err)
	}
	v, err := svc.Lookup(ctx, "a@upi")
	require.NoError(t, err)
	assert.False(t, v.IsSuspicious("a@upi"))
	assert.Equal(t, 3, svc.Threshold())

	assert.Equal(t, DefaultReportThreshold, NewService(NewMemoryStore(), nil, 0, nil).Threshold())
}

func TestService_Feedback(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	ctx := context.Background()

	rec, err := svc.Feedback(ctx, "friend@paytm", false)
	require.NoError(t, err)
	assert.Nil(t, rec)
	_, err = svc.store.Get(ctx, "friend@paytm")
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err = svc.Feedback(ctx, "scam@upi", true)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)
	assert.Equal(t, []string{ConfirmedReason}, rec.Reasons)

	_, err = svc.Feedback(ctx, "not a receiver", false)
	assert.ErrorIs(t, err, ErrInvalidReceiver)
}

func TestService_ReportValidates(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	_, err := svc.Report(context.Background(), "a b", "x")
	assert.ErrorIs(t, err, ErrInvalidReceiver)
	_, err = svc.Report(context.Background(), "  ", "x")
	assert.ErrorIs(t, err, ErrInvalidReceiver)
}

func TestService_FlagMakesSuspicious(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	ctx := context.Background()

	rec, err := svc.Flag(ctx, "mule@upi", "confirmed by bank")
	require.NoError(t, err)
	assert.True(t, svc.Suspicious(rec))

	st, err := svc.Status(ctx, "mule@upi")
	require.NoError(t, err)
	assert.Equal(t, StandingDenylisted, st.Standing)
	assert.True(t, st.Suspicious)
	assert.False(t, st.OnDenylist, "runtime flags do not touch the static denylist")
}

func TestService_Status(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	ctx := context.Background()

	st, err := svc.Status(ctx, "Friend@Paytm")
	require.NoError(t, err)
	assert.Equal(t, "friend@paytm", st.ReceiverID)
	assert.Equal(t, StandingClean, st.Standing)
	assert.False(t, st.Suspicious)
	assert.Nil(t, st.Record)

	st, err = svc.Status(ctx, "urgent@upi")
	require.NoError(t, err)
	assert.Equal(t, StandingDenylisted, st.Standing)
	assert.True(t, st.OnDenylist)
	assert.True(t, st.Suspicious)
}

func TestService_SuspiciousNil(t *testing.T) {
	assert.False(t, newTestService(NewMemoryStore()).Suspicious(nil))
}
