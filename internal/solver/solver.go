// File: internal/solver/solver.go
package solver

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/veilcore/api/schemas"
	"github.com/xkilldash9x/veilcore/internal/config"
	"github.com/xkilldash9x/veilcore/internal/humanize"
)

// Detector inspects the current page for a challenge.
type Detector interface {
	Detect(ctx context.Context) (schemas.ChallengeDetection, error)
}

// Solver produces the single best-confidence answer for a challenge image.
// How many strategies it consults internally is its own business.
type Solver interface {
	Solve(ctx context.Context, challengeType string, image []byte) (schemas.SolverAnswer, error)
}

// Submitter enters an answer into the page and reports the outcome. It also
// exposes the escape hatch most challenge widgets provide.
type Submitter interface {
	Submit(ctx context.Context, answer string) (schemas.SubmitOutcome, error)
	ClickCannotSolve(ctx context.Context) error
}

// Observer receives a copy of every finished solve attempt.
type Observer struct {
	OnResult func(schemas.AutoSolveResult)
}

// Orchestrator drives the detection, solving, and submission pipeline with a
// separate deadline per stage. One attempt runs at a time.
type Orchestrator struct {
	mu        sync.Mutex
	cfg       config.SolverConfig
	log       *zap.Logger
	detector  Detector
	solver    Solver
	submitter Submitter
	human     *humanize.Humanizer
	rng       *rand.Rand
	observers []Observer
}

func New(cfg config.SolverConfig, logger *zap.Logger, detector Detector, solver Solver, submitter Submitter, human *humanize.Humanizer) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		log:       logger.Named("solver"),
		detector:  detector,
		solver:    solver,
		submitter: submitter,
		human:     human,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (o *Orchestrator) AddObserver(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

// SolveChallenge runs one full attempt. The returned result always carries a
// terminal stage: detection (nothing found or detection failed), solving,
// submission, or completed. A nil error with Success=false means the pipeline
// ran but no challenge was beaten; callers distinguish the benign no-challenge
// case by Detected=false. Errors are reserved for the attempt itself being
// impossible to finish. Success=true holds only for an accepted submission or
// a cannot-solve fallback click that went through.
func (o *Orchestrator) SolveChallenge(ctx context.Context, sessionID string) (schemas.AutoSolveResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	result := schemas.AutoSolveResult{
		Stage:     schemas.StageDetection,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}

	detection, err := o.runDetection(ctx, &result)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		o.finish(&result)
		return result, err
	}
	if !detection.Detected {
		// Absence of a challenge is a valid terminal state, not a win. A
		// probabilistic cannot-solve click on a clean page keeps the
		// giving-up gesture in the traffic mix; only that click counts
		// as success here.
		o.tryFallback(ctx, &result, true)
		if result.FallbackUsed {
			result.Success = true
			result.Stage = schemas.StageCompleted
		}
		o.finish(&result)
		return result, nil
	}

	result.Detected = true
	result.ChallengeType = detection.Type
	result.Stage = schemas.StageSolving

	answer, solveErr := o.runSolver(ctx, detection, &result)
	if solveErr != nil || answer.Confidence < o.cfg.MinConfidence {
		if solveErr != nil {
			result.Errors = append(result.Errors, solveErr.Error())
		} else {
			result.Errors = append(result.Errors,
				fmt.Sprintf("answer confidence %.2f below threshold %.2f", answer.Confidence, o.cfg.MinConfidence))
		}
		o.tryFallback(ctx, &result, false)
		o.finish(&result)
		return result, nil
	}

	result.Stage = schemas.StageSubmission
	outcome, submitErr := o.runSubmission(ctx, answer, &result)
	if submitErr != nil {
		result.Errors = append(result.Errors, submitErr.Error())
		o.finish(&result)
		return result, nil
	}

	result.SubmissionSuccess = outcome.Success
	if outcome.Success {
		result.Success = true
		result.Stage = schemas.StageCompleted
	} else if outcome.Error != "" {
		result.Errors = append(result.Errors, outcome.Error)
	}

	o.finish(&result)
	return result, nil
}

func (o *Orchestrator) runDetection(ctx context.Context, result *schemas.AutoSolveResult) (schemas.ChallengeDetection, error) {
	dctx, cancel := context.WithTimeout(ctx, o.cfg.DetectionTimeout)
	defer cancel()

	start := time.Now()
	detection, err := o.detector.Detect(dctx)
	result.DetectionDuration = time.Since(start)
	if err != nil {
		return schemas.ChallengeDetection{}, fmt.Errorf("challenge detection: %w", err)
	}
	o.log.Debug("detection finished",
		zap.Bool("detected", detection.Detected),
		zap.String("type", detection.Type),
		zap.Duration("took", result.DetectionDuration))
	return detection, nil
}

func (o *Orchestrator) runSolver(ctx context.Context, detection schemas.ChallengeDetection, result *schemas.AutoSolveResult) (schemas.SolverAnswer, error) {
	sctx, cancel := context.WithTimeout(ctx, o.cfg.SolverTimeout)
	defer cancel()

	start := time.Now()
	answer, err := o.solver.Solve(sctx, detection.Type, detection.Screenshot)
	result.SolveDuration = time.Since(start)
	if err != nil {
		return schemas.SolverAnswer{}, fmt.Errorf("challenge solving: %w", err)
	}
	o.log.Debug("solver answered",
		zap.Float64("confidence", answer.Confidence),
		zap.Duration("took", result.SolveDuration))
	return answer, nil
}

func (o *Orchestrator) runSubmission(ctx context.Context, answer schemas.SolverAnswer, result *schemas.AutoSolveResult) (schemas.SubmitOutcome, error) {
	sctx, cancel := context.WithTimeout(ctx, o.cfg.SubmissionTimeout)
	defer cancel()

	// A human reads the solved puzzle for a beat before committing.
	if o.human != nil {
		if err := sleepContext(sctx, o.human.ActionDelay()); err != nil {
			return schemas.SubmitOutcome{}, fmt.Errorf("challenge submission: %w", err)
		}
	}

	start := time.Now()
	outcome, err := o.submitter.Submit(sctx, answer.Answer)
	result.SubmitDuration = time.Since(start)
	if err != nil {
		return schemas.SubmitOutcome{}, fmt.Errorf("challenge submission: %w", err)
	}
	return outcome, nil
}

// tryFallback clicks the widget's "cannot solve" control. Giving up the way a
// human would reads better than stalling. roll applies the configured chance;
// the solve-failure recovery path skips it and always clicks when enabled.
func (o *Orchestrator) tryFallback(ctx context.Context, result *schemas.AutoSolveResult, roll bool) {
	if !o.cfg.FallbackEnabled {
		return
	}
	if roll && o.cfg.FallbackChance < 1 && o.rng.Float64() >= o.cfg.FallbackChance {
		return
	}

	fctx, cancel := context.WithTimeout(ctx, o.cfg.SubmissionTimeout)
	defer cancel()

	if err := o.submitter.ClickCannotSolve(fctx); err != nil {
		o.log.Warn("fallback click failed", zap.Error(err))
		result.Errors = append(result.Errors, fmt.Sprintf("fallback: %v", err))
		return
	}
	result.FallbackUsed = true
	o.log.Info("used cannot-solve fallback", zap.String("type", result.ChallengeType))
}

func (o *Orchestrator) finish(result *schemas.AutoSolveResult) {
	o.log.Info("solve attempt finished",
		zap.Bool("success", result.Success),
		zap.String("stage", string(result.Stage)),
		zap.Bool("detected", result.Detected),
		zap.Bool("fallback", result.FallbackUsed))
	for _, obs := range o.observers {
		if obs.OnResult != nil {
			obs.OnResult(*result)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
