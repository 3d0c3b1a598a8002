// File: internal/engine/engine.go

// Package engine coordinates the four decision cores into one serialized
// automation loop. The engine is the only component that touches more than one
// core; each core stays single-threaded behind its own mutex.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/veilcore/api/schemas"
	"github.com/xkilldash9x/veilcore/internal/config"
	"github.com/xkilldash9x/veilcore/internal/driver"
	"github.com/xkilldash9x/veilcore/internal/humanize"
	"github.com/xkilldash9x/veilcore/internal/netident"
	"github.com/xkilldash9x/veilcore/internal/session"
	"github.com/xkilldash9x/veilcore/internal/solver"
)

// Task is one unit of account work the engine performs per cycle. The engine
// handles identity gating, login pacing, and challenge handling around it; the
// task body is the caller's domain logic against the page.
type Task func(ctx context.Context, accountID string, prim driver.Primitives) error

// Engine owns the outer control loop.
type Engine struct {
	cfg      config.EngineConfig
	log      *zap.Logger
	network  *netident.Manager
	sessions *session.Controller
	human    *humanize.Humanizer
	solver   *solver.Orchestrator
	auto     driver.Automator
	prim     driver.Primitives
}

func New(
	cfg config.EngineConfig,
	logger *zap.Logger,
	network *netident.Manager,
	sessions *session.Controller,
	human *humanize.Humanizer,
	orch *solver.Orchestrator,
	auto driver.Automator,
) *Engine {
	return &Engine{
		cfg:      cfg,
		log:      logger.Named("engine"),
		network:  network,
		sessions: sessions,
		human:    human,
		solver:   orch,
		auto:     auto,
		prim:     driver.Bind(auto),
	}
}

// Run loops until the context is cancelled: check the network identity, then
// work each configured account in turn, then sleep until the next check.
func (e *Engine) Run(ctx context.Context, task Task) error {
	ticker := time.NewTicker(e.cfg.IdentityCheckInterval)
	defer ticker.Stop()

	for {
		if err := e.RunCycle(ctx, task); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			e.log.Error("cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one pass: identity gate, then every account serially.
func (e *Engine) RunCycle(ctx context.Context, task Task) error {
	if err := e.gateIdentity(ctx); err != nil {
		return err
	}

	for _, accountID := range e.cfg.Accounts {
		if err := e.workAccount(ctx, accountID, task); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			e.log.Warn("account work failed",
				zap.String("account_id", accountID),
				zap.Error(err))
		}
	}
	return nil
}

// gateIdentity refreshes the network identity and blocks out any active
// cooldown before page work starts.
func (e *Engine) gateIdentity(ctx context.Context) error {
	check, err := e.network.CheckForChange(ctx)
	if err != nil {
		// A failed lookup leaves the last known identity in place; proceed
		// and let the next cycle retry.
		e.log.Warn("identity check failed", zap.Error(err))
		return nil
	}

	if check.Changed {
		e.log.Info("network identity changed",
			zap.Float64("distance_km", check.DistanceKm),
			zap.Int64("cooldown_remaining_ms", check.CooldownRemainingMs))
	}

	if check.InCooldown {
		e.log.Info("waiting out identity cooldown",
			zap.Int64("remaining_ms", check.CooldownRemainingMs))
		if err := e.network.WaitForCooldown(ctx); err != nil {
			return fmt.Errorf("identity cooldown: %w", err)
		}
	}
	return nil
}

// workAccount runs the task for a single account with login pacing and
// challenge handling wrapped around it.
func (e *Engine) workAccount(ctx context.Context, accountID string, task Task) error {
	sess := e.sessions.GetOrCreateSession(ctx, accountID, e.cfg.Service)

	gate := e.sessions.CanLogin(accountID)
	if !gate.Allowed {
		e.log.Info("login gated, waiting",
			zap.String("account_id", accountID),
			zap.Int64("remaining_ms", gate.RemainingMs))
		if err := e.sessions.WaitForLoginCooldown(ctx, accountID); err != nil {
			return fmt.Errorf("login cooldown: %w", err)
		}
	}

	// Settle pause between accounts, like a person switching contexts.
	if err := e.prim.Wait(ctx, e.human.ActionDelay()); err != nil {
		return err
	}

	taskErr := task(ctx, accountID, e.prim)

	// A challenge can appear whether or not the task itself succeeded.
	result, solveErr := e.solver.SolveChallenge(ctx, sess.SessionID)
	if solveErr != nil {
		e.log.Warn("challenge pipeline failed", zap.Error(solveErr))
	}
	e.recordOutcome(ctx, accountID, sess, taskErr, result)

	return taskErr
}

// recordOutcome converts task and challenge outcomes into trust feedback.
func (e *Engine) recordOutcome(ctx context.Context, accountID string, sess *schemas.SessionState, taskErr error, result schemas.AutoSolveResult) {
	// A challenge counts against the account only when one was actually
	// present and stayed unbeaten. No challenge on the page is not a loss.
	challengeHeld := result.Detected && !result.Success
	success := taskErr == nil && !challengeHeld
	var errText string
	switch {
	case taskErr != nil:
		errText = taskErr.Error()
	case challengeHeld:
		errText = fmt.Sprintf("challenge unresolved at stage %s", result.Stage)
	}

	ip := e.network.State().CurrentIP
	e.sessions.RecordLoginAttempt(ctx, accountID, e.cfg.Service, success, ip, "", errText)

	e.log.Debug("outcome recorded",
		zap.String("account_id", accountID),
		zap.String("session_id", sess.SessionID),
		zap.Bool("success", success))
}

// RotateIdentity performs a deliberate identity change: clean logouts first,
// then the reset strategy, then the travel-time cooldown.
func (e *Engine) RotateIdentity(ctx context.Context) error {
	if err := e.sessions.PrepareForIdentityChange(ctx, e.prim.Navigate, e.prim.Click, e.prim.Wait); err != nil {
		e.log.Warn("pre-rotation logout incomplete", zap.Error(err))
	}

	if err := e.network.ForceIdentityReset(ctx); err != nil {
		return fmt.Errorf("identity reset: %w", err)
	}

	return e.network.WaitForCooldown(ctx)
}
