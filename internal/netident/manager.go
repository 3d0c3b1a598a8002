// Package netident tracks the process's egress network identity and enforces
// a mandatory quiet period after any identity change ("impossible travel"
// protection). State survives restarts through the store layer.
package netident

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/veilcore/api/schemas"
	"github.com/xkilldash9x/veilcore/internal/config"
	"github.com/xkilldash9x/veilcore/internal/store"
	"go.uber.org/zap"
)

const (
	stateKey   = "network/state"
	historyKey = "network/history"
)

// Observer receives fire-and-forget notifications about identity events.
// Callbacks must not block; they run on the manager's goroutine.
type Observer struct {
	OnChange       func(rec schemas.IPChangeRecord)
	OnCooldownSet  func(until time.Time)
	OnResetAttempt func(device string, err error)
}

// Manager owns the single mutable NetworkState for the process.
type Manager struct {
	cfg      config.NetworkConfig
	provider GeoProvider
	store    store.Store
	log      *zap.Logger

	mu        sync.Mutex
	state     schemas.NetworkState
	history   []schemas.IPChangeRecord
	observers []Observer
	reset     resetStrategy
}

// New loads any persisted state and returns a ready manager.
func New(ctx context.Context, cfg config.NetworkConfig, provider GeoProvider, st store.Store, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		cfg:      cfg,
		provider: provider,
		store:    st,
		log:      logger.Named("netident"),
	}
	m.reset = newResetStrategy(cfg.Reset, m.log)

	if err := store.GetJSON(ctx, st, stateKey, &m.state); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("netident: load state: %w", err)
	}
	if err := store.GetJSON(ctx, st, historyKey, &m.history); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("netident: load history: %w", err)
	}
	// A cooldown that expired while the process was down is cleared on load.
	m.expireCooldownLocked(time.Now())
	return m, nil
}

// AddObserver registers an event observer.
func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// State returns a copy of the current state.
func (m *Manager) State() schemas.NetworkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireCooldownLocked(time.Now())
	return m.state
}

// History returns a copy of the recorded identity changes, oldest first.
func (m *Manager) History() []schemas.IPChangeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.IPChangeRecord, len(m.history))
	copy(out, m.history)
	return out
}

// CurrentIdentity fetches the current egress identity from the geo provider.
// Transport failures are returned as typed errors and never mutate state.
func (m *Manager) CurrentIdentity(ctx context.Context) (*schemas.GeoIPInfo, error) {
	info, err := m.provider.Lookup(ctx)
	if err != nil {
		m.log.Warn("Geo lookup failed", zap.Error(err))
		return nil, err
	}
	return info, nil
}

// CheckForChange fetches the current identity and updates cooldown state.
// The first-ever call seeds the state and reports no change.
func (m *Manager) CheckForChange(ctx context.Context) (schemas.ChangeCheck, error) {
	return m.checkForChange(ctx, schemas.ChangeAutomatic)
}

func (m *Manager) checkForChange(ctx context.Context, reason schemas.ChangeReason) (schemas.ChangeCheck, error) {
	info, err := m.CurrentIdentity(ctx)
	if err != nil {
		// The cooldown clock neither advances nor resets on lookup failure.
		return schemas.ChangeCheck{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.expireCooldownLocked(now)
	m.state.LastCheckAt = now

	// Bootstrap: seed and report no change.
	if m.state.CurrentIP == "" {
		m.state.CurrentIP = info.IP
		m.state.CurrentGeo = info
		m.state.LastChangeAt = now
		m.persistStateLocked(ctx)
		m.log.Info("Seeded network identity", zap.String("ip", info.IP), zap.String("city", info.City))
		return schemas.ChangeCheck{}, nil
	}

	if m.state.CurrentIP == info.IP {
		m.state.CurrentGeo = info
		m.persistStateLocked(ctx)
		return schemas.ChangeCheck{
			InCooldown:          m.state.CooldownActive,
			CooldownRemainingMs: m.cooldownRemainingLocked(now).Milliseconds(),
		}, nil
	}

	// Identity changed: compute distance and the mandatory pause.
	var distance float64
	prevGeo := m.state.CurrentGeo
	if prevGeo != nil {
		distance = Haversine(prevGeo.Latitude, prevGeo.Longitude, info.Latitude, info.Longitude)
	}
	pause := MinimumPause(distance, m.cfg.MaxTravelKmh, m.cfg.CooldownFloor)

	rec := schemas.IPChangeRecord{
		ID:         uuid.NewString(),
		PrevIP:     m.state.CurrentIP,
		NewIP:      info.IP,
		PrevGeo:    prevGeo,
		NewGeo:     info,
		DistanceKm: distance,
		CooldownMs: pause.Milliseconds(),
		Timestamp:  now,
		Reason:     reason,
	}

	m.state.CurrentIP = info.IP
	m.state.CurrentGeo = info
	m.state.LastChangeAt = now
	m.state.ChangeCount++
	m.state.CooldownActive = true
	m.state.CooldownEndTime = now.Add(pause)

	m.history = append(m.history, rec)
	if limit := m.cfg.HistoryLimit; limit > 0 && len(m.history) > limit {
		m.history = m.history[len(m.history)-limit:]
	}

	m.persistStateLocked(ctx)
	m.persistHistoryLocked(ctx)

	m.log.Info("Network identity changed",
		zap.String("prev_ip", rec.PrevIP),
		zap.String("new_ip", rec.NewIP),
		zap.Float64("distance_km", distance),
		zap.Duration("cooldown", pause),
		zap.String("reason", string(reason)))

	for _, o := range m.observers {
		if o.OnChange != nil {
			o.OnChange(rec)
		}
		if o.OnCooldownSet != nil {
			o.OnCooldownSet(m.state.CooldownEndTime)
		}
	}

	return schemas.ChangeCheck{
		Changed:             true,
		InCooldown:          true,
		CooldownRemainingMs: pause.Milliseconds(),
		DistanceKm:          distance,
	}, nil
}

// InCooldown reports whether a quiet period is active, lazily clearing it if
// the end time has passed. Side-effecting but idempotent.
func (m *Manager) InCooldown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireCooldownLocked(time.Now())
	return m.state.CooldownActive
}

// WaitForCooldown blocks in bounded polling increments until the cooldown
// clears or the context is canceled.
func (m *Manager) WaitForCooldown(ctx context.Context) error {
	poll := m.cfg.CooldownPoll
	if poll <= 0 {
		poll = 10 * time.Second
	}
	for m.InCooldown() {
		remaining := m.cooldownRemaining()
		chunk := poll
		if remaining < chunk {
			chunk = remaining
		}
		m.log.Debug("Waiting for identity cooldown", zap.Duration("remaining", remaining))
		select {
		case <-time.After(chunk):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) cooldownRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldownRemainingLocked(time.Now())
}

func (m *Manager) cooldownRemainingLocked(now time.Time) time.Duration {
	if !m.state.CooldownActive {
		return 0
	}
	remaining := m.state.CooldownEndTime.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// expireCooldownLocked clears the flag once the end time has passed. The
// invariant "active iff end time in the future" holds at every exit.
func (m *Manager) expireCooldownLocked(now time.Time) {
	if m.state.CooldownActive && !m.state.CooldownEndTime.After(now) {
		m.state.CooldownActive = false
		m.log.Debug("Identity cooldown expired")
	}
}

// ForceIdentityReset invokes the configured reset strategy, waits for
// propagation, then verifies the IP actually changed. It reports success only
// on a verified change.
func (m *Manager) ForceIdentityReset(ctx context.Context) error {
	m.mu.Lock()
	strategy := m.reset
	prevIP := m.state.CurrentIP
	device := m.cfg.Reset.Device
	m.mu.Unlock()

	if strategy == nil {
		return fmt.Errorf("netident: %w: no reset device configured", ErrStrategyUnavailable)
	}

	m.log.Info("Forcing identity reset", zap.String("device", device))
	err := strategy.Trigger(ctx)
	m.notifyResetAttempt(device, err)
	if err != nil {
		return fmt.Errorf("netident: reset via %s: %w", device, err)
	}

	delay := m.cfg.Reset.PropagationDelay
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	check, err := m.checkForChange(ctx, schemas.ChangeManual)
	if err != nil {
		return fmt.Errorf("netident: verify reset: %w", err)
	}
	if !check.Changed {
		return fmt.Errorf("netident: reset via %s did not change the egress ip (%s)", device, prevIP)
	}
	return nil
}

func (m *Manager) notifyResetAttempt(device string, err error) {
	m.mu.Lock()
	observers := m.observers
	m.mu.Unlock()
	for _, o := range observers {
		if o.OnResetAttempt != nil {
			o.OnResetAttempt(device, err)
		}
	}
}

// Persistence failures are logged, never fatal: in-memory state stays valid
// for the remainder of the process lifetime.
func (m *Manager) persistStateLocked(ctx context.Context) {
	if err := store.PutJSON(ctx, m.store, stateKey, &m.state); err != nil {
		m.log.Error("Failed to persist network state", zap.Error(err))
	}
}

func (m *Manager) persistHistoryLocked(ctx context.Context) {
	if err := store.PutJSON(ctx, m.store, historyKey, m.history); err != nil {
		m.log.Error("Failed to persist identity history", zap.Error(err))
	}
}
