package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatmux/backend/connector"
	"github.com/onnwee/chatmux/backend/message"
	"github.com/onnwee/chatmux/backend/telemetry"
)

const (
	// DefaultRefreshLead is how far before recorded expiry the proactive
	// refresh fires.
	DefaultRefreshLead = 5 * time.Minute
	// exchangeTimeout bounds one token-endpoint round trip.
	exchangeTimeout = 15 * time.Second
	// tokenBuffer is the minimum remaining lifetime Token hands out without
	// refreshing first.
	tokenBuffer = 60 * time.Second
	// authStateTTL bounds how long a pending authorization state is honored.
	authStateTTL = 10 * time.Minute
)

// ExchangeFunc performs the platform-specific refresh-token grant and
// returns the replacement record.
type ExchangeFunc func(ctx context.Context, refreshToken string) (Record, error)

type pendingAuth struct {
	state   string
	expires time.Time
}

// Manager is the token lifecycle manager. One refresh loop runs per
// registered platform; loops are independent, and a failing refresh on one
// platform never delays another's.
type Manager struct {
	store Store
	lead  time.Duration

	mu       sync.RWMutex
	records  map[message.Platform]Record
	gens     map[message.Platform]uint64
	exchange map[message.Platform]ExchangeFunc
	subs     map[message.Platform][]chan connector.CredentialEvent
	wake     map[message.Platform]chan struct{}

	// refreshMu serializes refresh attempts per platform.
	refreshMu map[message.Platform]*sync.Mutex

	authMu  sync.Mutex
	pending map[message.Platform]pendingAuth
}

// NewManager builds a manager over the given credential store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:     store,
		lead:      DefaultRefreshLead,
		records:   make(map[message.Platform]Record),
		gens:      make(map[message.Platform]uint64),
		exchange:  make(map[message.Platform]ExchangeFunc),
		subs:      make(map[message.Platform][]chan connector.CredentialEvent),
		wake:      make(map[message.Platform]chan struct{}),
		refreshMu: make(map[message.Platform]*sync.Mutex),
		pending:   make(map[message.Platform]pendingAuth),
	}
}

// Register wires the refresh exchange for a platform. Must be called before
// Start.
func (m *Manager) Register(p message.Platform, fn ExchangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchange[p] = fn
	m.wake[p] = make(chan struct{}, 1)
	m.refreshMu[p] = &sync.Mutex{}
}

// Start loads stored credentials for every registered platform and launches
// the per-platform refresh loops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	platforms := make([]message.Platform, 0, len(m.exchange))
	for p := range m.exchange {
		platforms = append(platforms, p)
	}
	m.mu.Unlock()

	for _, p := range platforms {
		rec, err := m.store.Load(ctx, p)
		if err != nil {
			return fmt.Errorf("load %s credential: %w", p, err)
		}
		if rec != nil {
			m.mu.Lock()
			m.records[p] = *rec
			m.mu.Unlock()
		}
		go m.refreshLoop(ctx, p)
	}
	return nil
}

// Token returns a currently valid access token for the platform, refreshing
// synchronously if the stored one is expired or about to expire. Returns an
// AuthError when no usable credential exists.
func (m *Manager) Token(ctx context.Context, p message.Platform) (string, error) {
	m.mu.RLock()
	rec, ok := m.records[p]
	m.mu.RUnlock()
	if !ok || rec.AccessToken == "" {
		return "", &AuthError{Platform: p, Reason: "no stored credential"}
	}
	if rec.Invalid {
		return "", &AuthError{Platform: p, Reason: "credential marked invalid, reauthorize"}
	}
	if !rec.expiringSoon(time.Now(), tokenBuffer) {
		return rec.AccessToken, nil
	}
	if err := m.refreshNow(ctx, p); err != nil {
		return "", err
	}
	m.mu.RLock()
	rec = m.records[p]
	m.mu.RUnlock()
	return rec.AccessToken, nil
}

// Record returns a copy of the current credential record.
func (m *Manager) Record(p message.Platform) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[p]
	return rec, ok
}

// SetRecord persists and installs a new credential pair atomically (both
// tokens replaced together) and notifies subscribed connectors, letting one
// parked in AwaitingReauth resume.
func (m *Manager) SetRecord(ctx context.Context, p message.Platform, rec Record) error {
	if err := m.store.Save(ctx, p, rec); err != nil {
		return fmt.Errorf("persist %s credential: %w", p, err)
	}
	m.mu.Lock()
	m.records[p] = rec
	m.gens[p]++
	m.mu.Unlock()
	m.wakeLoop(p)
	m.notify(p, connector.CredentialUpdated)
	slog.Info("credential stored", slog.String("platform", string(p)), slog.Time("expires_at", rec.ExpiresAt))
	return nil
}

// ForceRefresh exchanges the refresh token immediately, outside the
// schedule.
func (m *Manager) ForceRefresh(ctx context.Context, p message.Platform) error {
	return m.refreshNow(ctx, p)
}

// Subscribe returns a channel of credential events for the platform.
// Events are delivered best-effort; a subscriber that never drains simply
// misses intermediate events.
func (m *Manager) Subscribe(p message.Platform) <-chan connector.CredentialEvent {
	ch := make(chan connector.CredentialEvent, 4)
	m.mu.Lock()
	m.subs[p] = append(m.subs[p], ch)
	m.mu.Unlock()
	return ch
}

// Generation returns the platform's credential generation, incremented on
// every SetRecord. Subscribers that missed a CredentialUpdated event compare
// generations to detect the replacement.
func (m *Manager) Generation(p message.Platform) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gens[p]
}

// BeginAuth opens an authorization flow for the platform and returns its
// CSRF state. A newer flow for the same platform supersedes the prior one,
// invalidating its pending state; flows across platforms are independent.
func (m *Manager) BeginAuth(p message.Platform) string {
	st := uuid.New().String()
	m.authMu.Lock()
	m.pending[p] = pendingAuth{state: st, expires: time.Now().Add(authStateTTL)}
	m.authMu.Unlock()
	return st
}

// CompleteAuth validates and consumes the pending state for the platform.
func (m *Manager) CompleteAuth(p message.Platform, state string) bool {
	m.authMu.Lock()
	defer m.authMu.Unlock()
	pa, ok := m.pending[p]
	if !ok || pa.state != state || time.Now().After(pa.expires) {
		return false
	}
	delete(m.pending, p)
	return true
}

func (m *Manager) notify(p message.Platform, ev connector.CredentialEvent) {
	m.mu.RLock()
	subs := m.subs[p]
	m.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Manager) wakeLoop(p message.Platform) {
	m.mu.RLock()
	ch := m.wake[p]
	m.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// markInvalid flags the record so Token refuses it, and tells connectors to
// drop to AwaitingReauth.
func (m *Manager) markInvalid(p message.Platform) {
	m.mu.Lock()
	rec := m.records[p]
	rec.Invalid = true
	m.records[p] = rec
	m.mu.Unlock()
	m.notify(p, connector.CredentialInvalid)
	slog.Warn("credential invalidated, reauthorization required", slog.String("platform", string(p)))
}

// refreshNow performs one serialized refresh exchange for the platform.
func (m *Manager) refreshNow(ctx context.Context, p message.Platform) error {
	m.mu.RLock()
	fn := m.exchange[p]
	lock := m.refreshMu[p]
	rec, ok := m.records[p]
	m.mu.RUnlock()
	if fn == nil {
		return fmt.Errorf("no exchange registered for %s", p)
	}
	if !ok || rec.RefreshToken == "" {
		return &AuthError{Platform: p, Reason: "no refresh token"}
	}
	if rec.Invalid {
		return &AuthError{Platform: p, Reason: "credential marked invalid, reauthorize"}
	}
	if lock != nil {
		lock.Lock()
		defer lock.Unlock()
		// Another caller may have refreshed while we waited.
		m.mu.RLock()
		cur := m.records[p]
		m.mu.RUnlock()
		if cur.AccessToken != rec.AccessToken {
			return nil
		}
	}

	ctx2, cancel := context.WithTimeout(ctx, exchangeTimeout)
	newRec, err := fn(ctx2, rec.RefreshToken)
	cancel()
	if err != nil {
		telemetry.CountTokenRefresh(string(p), "error")
		if connector.Classify(err) == connector.ClassAuthInvalid {
			m.markInvalid(p)
			return fmt.Errorf("refresh %s: %w", p, connector.ErrAuthInvalid)
		}
		return fmt.Errorf("refresh %s: %w", p, err)
	}
	// Token endpoints may omit the refresh token or scopes on rotation.
	if newRec.RefreshToken == "" {
		newRec.RefreshToken = rec.RefreshToken
	}
	if newRec.Scope == "" {
		newRec.Scope = rec.Scope
	}
	if err := m.SetRecord(ctx, p, newRec); err != nil {
		telemetry.CountTokenRefresh(string(p), "error")
		return err
	}
	telemetry.CountTokenRefresh(string(p), "ok")
	slog.Info("token refreshed", slog.String("platform", string(p)))
	return nil
}

// refreshLoop schedules proactive refreshes DefaultRefreshLead before each
// recorded expiry, retrying transient exchange failures under the connector
// backoff policy. SetRecord wakes the loop so a fresh credential is
// rescheduled immediately.
func (m *Manager) refreshLoop(ctx context.Context, p message.Platform) {
	m.mu.RLock()
	wake := m.wake[p]
	m.mu.RUnlock()
	bo := connector.Backoff{}
	for {
		m.mu.RLock()
		rec, ok := m.records[p]
		m.mu.RUnlock()

		var wait time.Duration
		switch {
		case !ok || rec.RefreshToken == "" || rec.Invalid || rec.ExpiresAt.IsZero():
			// Nothing schedulable; sleep until a credential arrives.
			wait = time.Hour
		default:
			wait = time.Until(rec.ExpiresAt.Add(-m.lead))
			if wait < 0 {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-wake:
			timer.Stop()
			bo.Reset()
			continue
		case <-timer.C:
		}

		if !ok || rec.RefreshToken == "" || rec.Invalid {
			continue
		}
		if err := m.refreshNow(ctx, p); err != nil {
			var ae *AuthError
			if errors.Is(err, connector.ErrAuthInvalid) || errors.As(err, &ae) {
				// Parked until a new credential is stored.
				continue
			}
			delay := bo.Next()
			slog.Warn("token refresh failed, backing off",
				slog.String("platform", string(p)),
				slog.Duration("delay", delay),
				slog.Any("err", err))
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-wake:
				t.Stop()
				bo.Reset()
			case <-t.C:
			}
			continue
		}
		bo.Reset()
	}
}
