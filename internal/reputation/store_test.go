package reputation

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/payguard/internal/testutil"
)

// storeContract runs the same checks against any Store implementation.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("get unknown", func(t *testing.T) {
		_, err := s.Get(ctx, "nobody@upi")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("report accumulates", func(t *testing.T) {
		rec, err := s.Report(ctx, "KYCUpdate@okaxis", "fake KYC", base)
		require.NoError(t, err)
		assert.Equal(t, "kycupdate@okaxis", rec.ReceiverID)
		assert.Equal(t, 1, rec.Count)

		rec, err = s.Report(ctx, "kycupdate@okaxis", "asked for fee", base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, rec.Count)

		got, err := s.Get(ctx, " KYCUPDATE@OKAXIS")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Count)
		assert.Equal(t, []string{"fake KYC", "asked for fee"}, got.Reasons)
		assert.True(t, base.Equal(got.FirstReported))
		assert.True(t, base.Add(time.Hour).Equal(got.LastReported))
		assert.False(t, got.Flagged)
	})

	t.Run("flag without reports", func(t *testing.T) {
		rec, err := s.Flag(ctx, "mule@upi", "confirmed mule account", base)
		require.NoError(t, err)
		assert.True(t, rec.Flagged)
		assert.Equal(t, 0, rec.Count)
		assert.Equal(t, "confirmed mule account", rec.FlagReason)

		got, err := s.Get(ctx, "mule@upi")
		require.NoError(t, err)
		assert.True(t, got.Flagged)
		assert.True(t, base.Equal(got.FirstReported))
	})

	t.Run("list top", func(t *testing.T) {
		_, err := s.Report(ctx, "once@upi", "", base.Add(2*time.Hour))
		require.NoError(t, err)

		top, err := s.ListTop(ctx, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, "kycupdate@okaxis", top[0].ReceiverID)
		assert.Equal(t, "once@upi", top[1].ReceiverID)
		assert.Empty(t, top[1].Reasons)
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rec, err := s.Report(ctx, "a@upi", "x", time.Now())
	require.NoError(t, err)
	rec.Reasons[0] = "mutated"
	rec.Count = 99

	got, err := s.Get(ctx, "a@upi")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, "x", got.Reasons[0])
}

func TestMemoryStore_ConcurrentReports(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Report(ctx, "busy@upi", "spam", time.Now())
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "busy@upi")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Count)
	assert.Equal(t, []string{"spam"}, got.Reasons)
}

func TestPostgresStore_Contract(t *testing.T) {
	db := testutil.PGTest(t)

	storeContract(t, NewPostgresStore(db))
}

func redisTest(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() {
		iter := client.Scan(context.Background(), 0, cacheKeyPrefix+"*", 100).Iterator()
		for iter.Next(context.Background()) {
			_ = client.Del(context.Background(), iter.Val()).Err()
		}
		_ = client.Close()
	})
	return client
}

func TestCachedStore_Contract(t *testing.T) {
	client := redisTest(t)
	storeContract(t, NewCachedStore(NewMemoryStore(), client, time.Minute, quietLogger()))
}

func TestCachedStore_ServesFromCache(t *testing.T) {
	client := redisTest(t)
	ctx := context.Background()
	inner := NewMemoryStore()
	s := NewCachedStore(inner, client, time.Minute, quietLogger())

	_, err := s.Report(ctx, "cached@upi", "x", time.Now())
	require.NoError(t, err)

	// Writes that bypass the cache stay invisible until the entry expires.
	_, err = inner.Report(ctx, "cached@upi", "y", time.Now())
	require.NoError(t, err)

	got, err := s.Get(ctx, "cached@upi")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
}

func TestCachedStore_CachesMisses(t *testing.T) {
	client := redisTest(t)
	ctx := context.Background()
	s := NewCachedStore(NewMemoryStore(), client, time.Minute, quietLogger())

	_, err := s.Get(ctx, "clean@upi")
	require.ErrorIs(t, err, ErrNotFound)

	val, err := client.Get(ctx, cacheKey("clean@upi")).Result()
	require.NoError(t, err)
	assert.Equal(t, "null", val)

	_, err = s.Get(ctx, "clean@upi")
	assert.ErrorIs(t, err, ErrNotFound)

	// A report replaces the cached miss.
	_, err = s.Report(ctx, "clean@upi", "x", time.Now())
	require.NoError(t, err)
	got, err := s.Get(ctx, "clean@upi")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)
}

func TestCachedStore_PrimeKeepsNewerEntry(t *testing.T) {
	client := redisTest(t)
	ctx := context.Background()
	s := NewCachedStore(NewMemoryStore(), client, time.Minute, quietLogger())
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	stale := &Record{ReceiverID: "race@upi", Count: 1, FirstReported: base, LastReported: base}
	_, err := s.Report(ctx, "race@upi", "a", base)
	require.NoError(t, err)
	fresh, err := s.Report(ctx, "race@upi", "b", base.Add(time.Minute))
	require.NoError(t, err)

	s.Prime(ctx, []*Record{stale})

	got, err := s.Get(ctx, "race@upi")
	require.NoError(t, err)
	assert.Equal(t, fresh.Count, got.Count)

	s.Prime(ctx, []*Record{{ReceiverID: "warm@upi", Count: 3, LastReported: base}})
	got, err = s.Get(ctx, "warm@upi")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count)
}

func TestCachedStore_ConcurrentReports(t *testing.T) {
	client := redisTest(t)
	ctx := context.Background()
	s := NewCachedStore(NewMemoryStore(), client, time.Minute, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Report(ctx, "busy@upi", "x", time.Now())
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "busy@upi")
	require.NoError(t, err)
	assert.Equal(t, 20, got.Count)
}

func TestCachedStore_RedisDownFallsThrough(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	s := NewCachedStore(NewMemoryStore(), client, time.Minute, quietLogger())

	rec, err := s.Report(ctx, "a@upi", "x", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)

	got, err := s.Get(ctx, "a@upi")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Count)

	_, err = s.Get(ctx, "nobody@upi")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Ping(ctx))
}
