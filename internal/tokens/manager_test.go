package tokens

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/edvoice/internal/speech"
	"github.com/ent0n29/edvoice/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubFetcher struct {
	clock    *fakeClock
	lifetime time.Duration
	calls    atomic.Int32
	err      error
	started  chan struct{}
	release  chan struct{}
}

func (f *stubFetcher) FetchToken(ctx context.Context) (speech.Token, error) {
	n := f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return speech.Token{}, ctx.Err()
		}
	}
	if f.err != nil {
		return speech.Token{}, f.err
	}
	return speech.Token{
		AccessToken: "tok-" + strconv.Itoa(int(n)),
		ExpiresAt:   f.clock.Now().Add(f.lifetime).UnixMilli(),
	}, nil
}

func newTestManager(t *testing.T, kv store.Store, fetcher *stubFetcher, clock *fakeClock) *Manager {
	t.Helper()
	m := NewManager(Options{
		Store:   kv,
		Fetcher: fetcher,
		Now:     clock.Now,
		Logger:  zerolog.Nop(),
	})
	t.Cleanup(m.Close)
	return m
}

func seedCredential(t *testing.T, kv store.Store, token string, expiresAt int64) {
	t.Helper()
	require.NoError(t, kv.Set(context.Background(), store.KeyToken, token))
	require.NoError(t, kv.Set(context.Background(), store.KeyExpiresAt, strconv.FormatInt(expiresAt, 10)))
}

func TestGetTokenCachesUntilBuffer(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	fetcher := &stubFetcher{clock: clock, lifetime: 30 * time.Minute}
	m := newTestManager(t, store.NewInMemoryStore(), fetcher, clock)
	ctx := context.Background()

	tok, err := m.GetToken(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	clock.Advance(27 * time.Minute)
	tok, err = m.GetToken(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok, "3 minutes left is outside the 2 minute buffer")

	clock.Advance(90 * time.Second)
	tok, err = m.GetToken(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok, "90s left is inside the buffer")
	assert.EqualValues(t, 2, fetcher.calls.Load())
}

func TestGetTokenRenewalBuffer(t *testing.T) {
	cases := []struct {
		name      string
		remaining time.Duration
		wantFetch int32
	}{
		{"expires in 90s renews", 90 * time.Second, 1},
		{"expires in 10m is reused", 10 * time.Minute, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			kv := store.NewInMemoryStore()
			seedCredential(t, kv, "restored", clock.Now().Add(tc.remaining).UnixMilli())
			fetcher := &stubFetcher{clock: clock, lifetime: 30 * time.Minute}
			m := newTestManager(t, kv, fetcher, clock)
			m.mu.Lock()
			m.cred = Credential{Token: "restored", ExpiresAt: clock.Now().Add(tc.remaining).UnixMilli()}
			m.mu.Unlock()

			_, err := m.GetToken(context.Background(), false)
			require.NoError(t, err)
			assert.Equal(t, tc.wantFetch, fetcher.calls.Load())
		})
	}
}

func TestGetTokenSingleFlight(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	fetcher := &stubFetcher{
		clock:    clock,
		lifetime: 30 * time.Minute,
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	m := newTestManager(t, store.NewInMemoryStore(), fetcher, clock)

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.GetToken(context.Background(), true)
		}(i)
	}

	<-fetcher.started
	// Give the remaining callers time to join the in-flight renewal.
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.EqualValues(t, 1, fetcher.calls.Load())
	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-1", tokens[i])
	}
}

func TestCancelledWaiterDoesNotFailSharedRenewal(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	fetcher := &stubFetcher{
		clock:    clock,
		lifetime: 30 * time.Minute,
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	m := newTestManager(t, store.NewInMemoryStore(), fetcher, clock)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.GetToken(ctx, true)
		firstErr <- err
	}()
	<-fetcher.started

	secondTok := make(chan string, 1)
	go func() {
		tok, _ := m.GetToken(context.Background(), true)
		secondTok <- tok
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(fetcher.release)
	assert.Equal(t, "tok-1", <-secondTok)
	assert.EqualValues(t, 1, fetcher.calls.Load())
}

func TestGetTokenFailureStoresNothing(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	kv := store.NewInMemoryStore()
	fetcher := &stubFetcher{clock: clock, err: errors.New("oauth down")}
	m := newTestManager(t, kv, fetcher, clock)

	_, err := m.GetToken(context.Background(), false)
	var acqErr *TokenAcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Contains(t, err.Error(), "oauth down")

	_, ok, _ := kv.Get(context.Background(), store.KeyToken)
	assert.False(t, ok)
	assert.False(t, m.Info().HasToken)
}

func TestRenewalPersistsAndRestores(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	kv := store.NewInMemoryStore()
	fetcher := &stubFetcher{clock: clock, lifetime: 30 * time.Minute}
	m := newTestManager(t, kv, fetcher, clock)

	_, err := m.GetToken(context.Background(), false)
	require.NoError(t, err)
	raw, ok, _ := kv.Get(context.Background(), store.KeyExpiresAt)
	require.True(t, ok)
	assert.Equal(t, strconv.FormatInt(clock.Now().Add(30*time.Minute).UnixMilli(), 10), raw)

	restored := newTestManager(t, kv, fetcher, clock)
	require.NoError(t, restored.Restore(context.Background()))
	tok, err := restored.GetToken(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.EqualValues(t, 1, fetcher.calls.Load())
}

func TestRestoreNormalizesSecondExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	kv := store.NewInMemoryStore()
	seedCredential(t, kv, "legacy", clock.Now().Add(time.Hour).Unix())
	m := newTestManager(t, kv, &stubFetcher{clock: clock}, clock)

	require.NoError(t, m.Restore(context.Background()))
	info := m.Info()
	assert.True(t, info.Valid)
	assert.Equal(t, clock.Now().Add(time.Hour).UnixMilli(), info.ExpiresAt)
}

func TestRestoreStaleTriggersBackgroundRenewal(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	kv := store.NewInMemoryStore()
	seedCredential(t, kv, "old", clock.Now().Add(-time.Minute).UnixMilli())
	fetcher := &stubFetcher{clock: clock, lifetime: 30 * time.Minute}
	m := newTestManager(t, kv, fetcher, clock)

	require.NoError(t, m.Restore(context.Background()))
	require.Eventually(t, func() bool { return m.Info().Valid }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, fetcher.calls.Load())
}

func TestTickRenewsBelowThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	fetcher := &stubFetcher{clock: clock, lifetime: 30 * time.Minute}
	m := newTestManager(t, store.NewInMemoryStore(), fetcher, clock)
	ctx := context.Background()

	m.tick(ctx)
	assert.Zero(t, fetcher.calls.Load(), "no credential, nothing to keep fresh")

	_, err := m.GetToken(ctx, false)
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	m.tick(ctx)
	assert.EqualValues(t, 1, fetcher.calls.Load(), "10 minutes left is above the threshold")

	clock.Advance(6 * time.Minute)
	m.tick(ctx)
	assert.EqualValues(t, 2, fetcher.calls.Load(), "4 minutes left triggers renewal")
}

func TestStartMonitorRenews(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	fetcher := &stubFetcher{clock: clock, lifetime: 4 * time.Minute}
	m := NewManager(Options{
		Store:           store.NewInMemoryStore(),
		Fetcher:         fetcher,
		Now:             clock.Now,
		MonitorInterval: 5 * time.Millisecond,
		Logger:          zerolog.Nop(),
	})
	defer m.Close()

	_, err := m.GetToken(context.Background(), false)
	require.NoError(t, err)
	m.Start(context.Background())
	require.Eventually(t, func() bool { return fetcher.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestClearRemovesCredential(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	kv := store.NewInMemoryStore()
	fetcher := &stubFetcher{clock: clock, lifetime: 30 * time.Minute}
	m := newTestManager(t, kv, fetcher, clock)

	_, err := m.GetToken(context.Background(), false)
	require.NoError(t, err)
	m.Start(context.Background())
	require.NoError(t, m.Clear(context.Background()))

	assert.False(t, m.Info().HasToken)
	_, ok, _ := kv.Get(context.Background(), store.KeyToken)
	assert.False(t, ok)
	_, ok, _ = kv.Get(context.Background(), store.KeyExpiresAt)
	assert.False(t, ok)
}

func TestInfoReportsRemaining(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	fetcher := &stubFetcher{clock: clock, lifetime: 10 * time.Minute}
	m := newTestManager(t, store.NewInMemoryStore(), fetcher, clock)

	_, err := m.GetToken(context.Background(), false)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	info := m.Info()
	assert.True(t, info.HasToken)
	assert.True(t, info.Valid)
	assert.Equal(t, (9 * time.Minute).Milliseconds(), info.ExpiresInMS)
}
