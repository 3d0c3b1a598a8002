// Package session owns per-account session continuity and the trust model
// that makes repeated login failures progressively more expensive.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/veilcore/api/schemas"
	"github.com/xkilldash9x/veilcore/internal/config"
	"github.com/xkilldash9x/veilcore/internal/store"
	"go.uber.org/zap"
)

// Observer receives fire-and-forget notifications. Callbacks must not block.
type Observer struct {
	OnTrustTransition func(t schemas.TrustTransition)
	OnPersistError    func(key string, err error)
}

// Controller tracks sessions, login attempts, and trust per account.
type Controller struct {
	cfg   config.SessionConfig
	store store.Store
	log   *zap.Logger

	mu        sync.Mutex
	sessions  map[string]*schemas.SessionState // keyed by account|service
	attempts  map[string][]schemas.LoginAttempt
	observers []Observer
}

// New loads persisted sessions and attempt histories.
func New(ctx context.Context, cfg config.SessionConfig, st store.Store, logger *zap.Logger) (*Controller, error) {
	c := &Controller{
		cfg:      cfg,
		store:    st,
		log:      logger.Named("session"),
		sessions: make(map[string]*schemas.SessionState),
		attempts: make(map[string][]schemas.LoginAttempt),
	}

	keys, err := st.List(ctx, "sessions/")
	if err != nil {
		return nil, fmt.Errorf("session: list persisted sessions: %w", err)
	}
	for _, key := range keys {
		var s schemas.SessionState
		if err := store.GetJSON(ctx, st, key, &s); err != nil {
			c.log.Warn("Skipping unreadable session record", zap.String("key", key), zap.Error(err))
			continue
		}
		c.sessions[sessionKey(s.AccountID, s.Service)] = &s
	}

	attemptKeys, err := st.List(ctx, "attempts/")
	if err != nil {
		return nil, fmt.Errorf("session: list attempt histories: %w", err)
	}
	for _, key := range attemptKeys {
		accountID := key[len("attempts/"):]
		var history []schemas.LoginAttempt
		if err := store.GetJSON(ctx, st, key, &history); err != nil {
			c.log.Warn("Skipping unreadable attempt history", zap.String("key", key), zap.Error(err))
			continue
		}
		c.attempts[accountID] = history
	}

	c.log.Info("Session controller loaded", zap.Int("sessions", len(c.sessions)), zap.Int("histories", len(c.attempts)))
	return c, nil
}

// AddObserver registers an event observer.
func (c *Controller) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func sessionKey(accountID, service string) string {
	return accountID + "|" + service
}

func storeKey(accountID, service string) string {
	return "sessions/" + accountID + "/" + service
}

// GetOrCreateSession returns the existing non-expired session for the
// (account, service) pair, or creates a fresh one at unknown trust.
func (c *Controller) GetOrCreateSession(ctx context.Context, accountID, service string) *schemas.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getOrCreateLocked(ctx, accountID, service)
}

func (c *Controller) getOrCreateLocked(ctx context.Context, accountID, service string) *schemas.SessionState {
	key := sessionKey(accountID, service)
	now := time.Now()

	if s, ok := c.sessions[key]; ok {
		if c.cfg.SessionTimeout <= 0 || now.Sub(s.LastActivityAt) <= c.cfg.SessionTimeout {
			s.LastActivityAt = now
			c.persistSessionLocked(ctx, s)
			return s
		}
		// Expired sessions are discarded, trust history included.
		c.log.Info("Discarding expired session", zap.String("account", accountID), zap.String("service", service))
		delete(c.sessions, key)
		if err := c.store.Delete(ctx, storeKey(accountID, service)); err != nil {
			c.notifyPersistError(storeKey(accountID, service), err)
		}
	}

	s := &schemas.SessionState{
		SessionID:      uuid.NewString(),
		AccountID:      accountID,
		Service:        service,
		TrustLevel:     schemas.TrustUnknown,
		CreatedAt:      now,
		LastActivityAt: now,
		LocalStorage:   make(map[string]string),
		Metadata:       make(map[string]string),
	}
	c.sessions[key] = s
	c.persistSessionLocked(ctx, s)
	c.log.Debug("Created session", zap.String("account", accountID), zap.String("service", service), zap.String("session_id", s.SessionID))
	return s
}

// RecordLoginAttempt appends to the account's bounded attempt history and
// updates the owning session's counters and trust level.
func (c *Controller) RecordLoginAttempt(ctx context.Context, accountID, service string, success bool, sourceIP, clientSignature, attemptErr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	cooldown := c.calculateCooldownLocked(accountID, now)

	attempt := schemas.LoginAttempt{
		Timestamp:       now,
		Success:         success,
		SourceIP:        sourceIP,
		ClientSignature: clientSignature,
		Error:           attemptErr,
		CooldownMs:      cooldown.Milliseconds(),
	}

	history := append(c.attempts[accountID], attempt)
	if limit := c.cfg.AttemptHistorySize; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	c.attempts[accountID] = history

	s := c.getOrCreateLocked(ctx, accountID, service)
	s.LastActivityAt = now
	if success {
		s.LastLoginAt = &now
		s.LoginCount++
		s.ConsecutiveFailures = 0
		s.LoggedIn = true
		c.adjustTrustLocked(s, c.cfg.TrustGainPerSuccess, now)
	} else {
		s.ConsecutiveFailures++
		s.LoggedIn = false
		c.adjustTrustLocked(s, -c.cfg.TrustLossPerFailure, now)
	}

	c.persistSessionLocked(ctx, s)
	c.persistAttemptsLocked(ctx, accountID)

	c.log.Info("Recorded login attempt",
		zap.String("account", accountID),
		zap.Bool("success", success),
		zap.Int("consecutive_failures", s.ConsecutiveFailures),
		zap.String("trust", string(s.TrustLevel)))
}

// adjustTrustLocked applies a point delta, re-derives the level through the
// step function, and emits a transition event when the level moved.
func (c *Controller) adjustTrustLocked(s *schemas.SessionState, delta int, now time.Time) {
	points := s.TrustPoints + delta
	if points < 0 {
		points = 0
	}
	if points > 100 {
		points = 100
	}
	s.TrustPoints = points

	newLevel := schemas.TrustLevelForPoints(points)
	if newLevel == s.TrustLevel {
		return
	}
	oldLevel := s.TrustLevel
	s.TrustLevel = newLevel

	t := schemas.TrustTransition{
		AccountID: s.AccountID,
		Service:   s.Service,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		Points:    points,
		Timestamp: now,
	}
	for _, o := range c.observers {
		if o.OnTrustTransition != nil {
			o.OnTrustTransition(t)
		}
	}
	c.log.Info("Trust level changed",
		zap.String("account", s.AccountID),
		zap.String("old", string(oldLevel)),
		zap.String("new", string(newLevel)),
		zap.Int("points", points))
}

// CalculateLoginCooldown returns the current backoff for the account:
// base * multiplier^recentFailures, capped at the configured maximum.
func (c *Controller) CalculateLoginCooldown(accountID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calculateCooldownLocked(accountID, time.Now())
}

func (c *Controller) calculateCooldownLocked(accountID string, now time.Time) time.Duration {
	failures := c.recentFailuresLocked(accountID, now)
	if failures == 0 {
		return 0
	}
	cooldown := float64(c.cfg.BaseLoginCooldown) * math.Pow(c.cfg.CooldownMultiplier, float64(failures))
	if max := float64(c.cfg.MaxLoginCooldown); c.cfg.MaxLoginCooldown > 0 && cooldown > max {
		cooldown = max
	}
	return time.Duration(cooldown)
}

// recentFailuresLocked counts failed attempts inside the trailing window.
func (c *Controller) recentFailuresLocked(accountID string, now time.Time) int {
	window := c.cfg.FailureWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	cutoff := now.Add(-window)
	count := 0
	for _, a := range c.attempts[accountID] {
		if !a.Success && a.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

// CanLogin compares elapsed time since the last attempt against the computed
// cooldown.
func (c *Controller) CanLogin(accountID string) schemas.LoginGate {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	history := c.attempts[accountID]
	if len(history) == 0 {
		return schemas.LoginGate{Allowed: true}
	}

	cooldown := c.calculateCooldownLocked(accountID, now)
	last := history[len(history)-1].Timestamp
	elapsed := now.Sub(last)
	if elapsed >= cooldown {
		return schemas.LoginGate{Allowed: true}
	}
	return schemas.LoginGate{
		Allowed:     false,
		RemainingMs: (cooldown - elapsed).Milliseconds(),
	}
}

// WaitForLoginCooldown polls in bounded chunks until the account may log in
// or the context is canceled.
func (c *Controller) WaitForLoginCooldown(ctx context.Context, accountID string) error {
	poll := c.cfg.LoginCooldownPoll
	if poll <= 0 {
		poll = 5 * time.Second
	}
	for {
		gate := c.CanLogin(accountID)
		if gate.Allowed {
			return nil
		}
		chunk := poll
		if remaining := time.Duration(gate.RemainingMs) * time.Millisecond; remaining < chunk {
			chunk = remaining
		}
		c.log.Debug("Waiting for login cooldown",
			zap.String("account", accountID),
			zap.Int64("remaining_ms", gate.RemainingMs))
		select {
		case <-time.After(chunk):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CleanupExpiredSessions purges sessions whose inactivity exceeds the timeout
// and returns the number removed. The surrounding process calls this
// periodically; the controller owns no timer.
func (c *Controller) CleanupExpiredSessions(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.SessionTimeout <= 0 {
		return 0
	}
	now := time.Now()
	removed := 0
	for key, s := range c.sessions {
		if now.Sub(s.LastActivityAt) > c.cfg.SessionTimeout {
			delete(c.sessions, key)
			if err := c.store.Delete(ctx, storeKey(s.AccountID, s.Service)); err != nil {
				c.notifyPersistError(storeKey(s.AccountID, s.Service), err)
			}
			removed++
		}
	}
	if removed > 0 {
		c.log.Info("Cleaned up expired sessions", zap.Int("removed", removed))
	}
	return removed
}

// Sessions returns copies of all live sessions, for reporting.
func (c *Controller) Sessions() []schemas.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schemas.SessionState, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, *s)
	}
	return out
}

func (c *Controller) persistSessionLocked(ctx context.Context, s *schemas.SessionState) {
	key := storeKey(s.AccountID, s.Service)
	if err := store.PutJSON(ctx, c.store, key, s); err != nil {
		c.log.Error("Failed to persist session", zap.String("key", key), zap.Error(err))
		c.notifyPersistError(key, err)
	}
}

func (c *Controller) persistAttemptsLocked(ctx context.Context, accountID string) {
	key := "attempts/" + accountID
	if err := store.PutJSON(ctx, c.store, key, c.attempts[accountID]); err != nil {
		c.log.Error("Failed to persist attempt history", zap.String("key", key), zap.Error(err))
		c.notifyPersistError(key, err)
	}
}

func (c *Controller) notifyPersistError(key string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	for _, o := range c.observers {
		if o.OnPersistError != nil {
			o.OnPersistError(key, err)
		}
	}
}
