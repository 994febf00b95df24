package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ent0n29/edvoice/internal/observability"
	"github.com/ent0n29/edvoice/internal/protocol"
	"github.com/ent0n29/edvoice/internal/speech"
	"github.com/ent0n29/edvoice/internal/store"
)

const (
	DefaultRefreshBuffer      = 2 * time.Minute
	DefaultProactiveThreshold = 5 * time.Minute
	DefaultMonitorInterval    = 30 * time.Second
	DefaultFetchTimeout       = 30 * time.Second
)

// Credential is a bearer token and its expiry in epoch milliseconds.
type Credential struct {
	Token     string
	ExpiresAt int64
}

// Fetcher acquires a new bearer token from the OAuth endpoint or a relay.
type Fetcher interface {
	FetchToken(ctx context.Context) (speech.Token, error)
}

// TokenAcquisitionError is returned when a renewal fails. No credential is stored in that case.
type TokenAcquisitionError struct {
	Err error
}

func (e *TokenAcquisitionError) Error() string {
	return fmt.Sprintf("token acquisition failed: %v", e.Err)
}

func (e *TokenAcquisitionError) Unwrap() error { return e.Err }

type Options struct {
	Store              store.Store
	Fetcher            Fetcher
	RefreshBuffer      time.Duration
	ProactiveThreshold time.Duration
	MonitorInterval    time.Duration
	FetchTimeout       time.Duration
	Now                func() time.Time
	Metrics            *observability.Metrics
	Logger             zerolog.Logger
}

// Manager owns one bearer credential: it renews on demand with single-flight
// coordination, renews proactively from a monitor loop, and persists to a Store.
type Manager struct {
	store     store.Store
	fetcher   Fetcher
	buffer    time.Duration
	threshold time.Duration
	interval  time.Duration
	timeout   time.Duration
	now       func() time.Time
	metrics   *observability.Metrics
	logger    zerolog.Logger

	mu   sync.RWMutex
	cred Credential

	group    singleflight.Group
	renewing atomic.Bool

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
	bg            sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	if opts.Store == nil {
		opts.Store = store.NewInMemoryStore()
	}
	if opts.RefreshBuffer <= 0 {
		opts.RefreshBuffer = DefaultRefreshBuffer
	}
	if opts.ProactiveThreshold <= 0 {
		opts.ProactiveThreshold = DefaultProactiveThreshold
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = DefaultMonitorInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:     opts.Store,
		fetcher:   opts.Fetcher,
		buffer:    opts.RefreshBuffer,
		threshold: opts.ProactiveThreshold,
		interval:  opts.MonitorInterval,
		timeout:   opts.FetchTimeout,
		now:       opts.Now,
		metrics:   opts.Metrics,
		logger:    observability.Component(opts.Logger, "tokens"),
	}
}

// GetToken returns the cached token while it is outside the refresh buffer,
// otherwise it renews. Concurrent renewals share one fetch.
func (m *Manager) GetToken(ctx context.Context, force bool) (string, error) {
	if !force {
		if cred, ok := m.validCredential(); ok {
			return cred.Token, nil
		}
	}
	cred, err := m.renew(ctx)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

func (m *Manager) renew(ctx context.Context) (Credential, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan("renew", func() (any, error) {
		m.renewing.Store(true)
		defer m.renewing.Store(false)
		return m.fetch(detached)
	})
	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

func (m *Manager) fetch(ctx context.Context) (Credential, error) {
	if m.fetcher == nil {
		return Credential{}, &TokenAcquisitionError{Err: errors.New("no token fetcher configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	tok, err := m.fetcher.FetchToken(ctx)
	if err == nil && tok.AccessToken == "" {
		err = errors.New("empty access token")
	}
	if err != nil {
		m.metrics.ObserveTokenRenewal("error")
		m.logger.Warn().Err(err).Msg("token renewal failed")
		return Credential{}, &TokenAcquisitionError{Err: err}
	}

	cred := Credential{Token: tok.AccessToken, ExpiresAt: speech.NormalizeExpiry(tok.ExpiresAt)}
	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()
	m.metrics.ObserveTokenRenewal("ok")
	m.logger.Info().Time("expires_at", time.UnixMilli(cred.ExpiresAt)).Msg("token renewed")

	if err := m.persist(ctx, cred); err != nil {
		m.logger.Error().Err(err).Msg("persist token")
	}
	return cred, nil
}

func (m *Manager) persist(ctx context.Context, cred Credential) error {
	if err := m.store.Set(ctx, store.KeyToken, cred.Token); err != nil {
		return err
	}
	return m.store.Set(ctx, store.KeyExpiresAt, strconv.FormatInt(cred.ExpiresAt, 10))
}

func (m *Manager) validCredential() (Credential, bool) {
	m.mu.RLock()
	cred := m.cred
	m.mu.RUnlock()
	return cred, m.isValid(cred)
}

func (m *Manager) isValid(cred Credential) bool {
	if cred.Token == "" {
		return false
	}
	return m.now().UnixMilli() < cred.ExpiresAt-m.buffer.Milliseconds()
}

// Restore loads a persisted credential. An invalid one triggers a background renewal.
func (m *Manager) Restore(ctx context.Context) error {
	token, ok, err := m.store.Get(ctx, store.KeyToken)
	if err != nil {
		return fmt.Errorf("restore token: %w", err)
	}
	var expiresAt int64
	if ok {
		raw, found, err := m.store.Get(ctx, store.KeyExpiresAt)
		if err != nil {
			return fmt.Errorf("restore token expiry: %w", err)
		}
		if found {
			expiresAt, _ = strconv.ParseInt(raw, 10, 64)
		}
	}
	if !ok || token == "" || expiresAt <= 0 {
		return nil
	}

	cred := Credential{Token: token, ExpiresAt: speech.NormalizeExpiry(expiresAt)}
	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()

	if m.isValid(cred) {
		m.logger.Debug().Time("expires_at", time.UnixMilli(cred.ExpiresAt)).Msg("restored token")
		return nil
	}
	m.logger.Info().Msg("restored token is stale, renewing in background")
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		if _, err := m.GetToken(context.WithoutCancel(ctx), true); err != nil {
			m.logger.Warn().Err(err).Msg("background renewal after restore failed")
		}
	}()
	return nil
}

// Start runs the proactive renewal monitor until ctx ends or Close/Clear is called.
func (m *Manager) Start(ctx context.Context) {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.monitorCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.monitorCancel = cancel

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

// tick renews when the credential has less than the proactive threshold left.
func (m *Manager) tick(ctx context.Context) {
	if m.renewing.Load() {
		return
	}
	m.mu.RLock()
	cred := m.cred
	m.mu.RUnlock()
	if cred.Token == "" {
		return
	}
	remaining := time.Duration(cred.ExpiresAt-m.now().UnixMilli()) * time.Millisecond
	if remaining >= m.threshold {
		return
	}
	m.logger.Debug().Dur("remaining", remaining).Msg("proactive token renewal")
	if _, err := m.renew(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn().Err(err).Msg("proactive renewal failed")
	}
}

func (m *Manager) stopMonitor() {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
}

// Clear drops the credential, removes persisted keys and stops the monitor.
func (m *Manager) Clear(ctx context.Context) error {
	m.stopMonitor()
	m.mu.Lock()
	m.cred = Credential{}
	m.mu.Unlock()
	if err := m.store.Delete(ctx, store.KeyToken); err != nil {
		return err
	}
	return m.store.Delete(ctx, store.KeyExpiresAt)
}

// Info describes the current credential without exposing the token.
func (m *Manager) Info() protocol.TokenInfo {
	m.mu.RLock()
	cred := m.cred
	m.mu.RUnlock()
	if cred.Token == "" {
		return protocol.TokenInfo{}
	}
	remaining := cred.ExpiresAt - m.now().UnixMilli()
	if remaining < 0 {
		remaining = 0
	}
	return protocol.TokenInfo{
		HasToken:    true,
		Valid:       m.isValid(cred),
		ExpiresAt:   cred.ExpiresAt,
		ExpiresInMS: remaining,
	}
}

// Close stops the monitor and waits for background renewals.
func (m *Manager) Close() {
	m.stopMonitor()
	m.bg.Wait()
}
