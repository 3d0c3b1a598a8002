package solver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/veilcore/api/schemas"
	"github.com/xkilldash9x/veilcore/internal/config"
	"github.com/xkilldash9x/veilcore/internal/humanize"
)

type mockDetector struct{ mock.Mock }

func (m *mockDetector) Detect(ctx context.Context) (schemas.ChallengeDetection, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.ChallengeDetection), args.Error(1)
}

type mockSolver struct{ mock.Mock }

func (m *mockSolver) Solve(ctx context.Context, challengeType string, image []byte) (schemas.SolverAnswer, error) {
	args := m.Called(ctx, challengeType, image)
	return args.Get(0).(schemas.SolverAnswer), args.Error(1)
}

type mockSubmitter struct{ mock.Mock }

func (m *mockSubmitter) Submit(ctx context.Context, answer string) (schemas.SubmitOutcome, error) {
	args := m.Called(ctx, answer)
	return args.Get(0).(schemas.SubmitOutcome), args.Error(1)
}

func (m *mockSubmitter) ClickCannotSolve(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func testSolverConfig() config.SolverConfig {
	return config.SolverConfig{
		DetectionTimeout:  time.Second,
		SolverTimeout:     time.Second,
		SubmissionTimeout: time.Second,
		MinConfidence:     0.6,
		FallbackEnabled:   true,
		FallbackChance:    1.0,
	}
}

func fastHumanizer(t *testing.T) *humanize.Humanizer {
	t.Helper()
	return humanize.New(config.HumanizeConfig{
		ActionDelayMean: 1, ActionDelayStdDev: 0,
		ActionDelayMin: 0, ActionDelayMax: 2,
	}, zaptest.NewLogger(t))
}

func newTestOrchestrator(t *testing.T, cfg config.SolverConfig) (*Orchestrator, *mockDetector, *mockSolver, *mockSubmitter) {
	t.Helper()
	d := &mockDetector{}
	s := &mockSolver{}
	sub := &mockSubmitter{}
	o := New(cfg, zaptest.NewLogger(t), d, s, sub, fastHumanizer(t))
	return o, d, s, sub
}

func TestSolveChallenge(t *testing.T) {
	ctx := context.Background()
	detection := schemas.ChallengeDetection{Detected: true, Type: "image_text", Screenshot: []byte{0x89}}

	t.Run("full pipeline success terminates at completed", func(t *testing.T) {
		o, d, s, sub := newTestOrchestrator(t, testSolverConfig())

		d.On("Detect", mock.Anything).Return(detection, nil)
		s.On("Solve", mock.Anything, "image_text", detection.Screenshot).
			Return(schemas.SolverAnswer{Answer: "x7kp2", Confidence: 0.92}, nil)
		sub.On("Submit", mock.Anything, "x7kp2").
			Return(schemas.SubmitOutcome{Success: true}, nil)

		result, err := o.SolveChallenge(ctx, "sess-1")
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, schemas.StageCompleted, result.Stage)
		assert.True(t, result.Detected)
		assert.True(t, result.SubmissionSuccess)
		assert.False(t, result.FallbackUsed)
		assert.Equal(t, "image_text", result.ChallengeType)
		assert.Equal(t, "sess-1", result.SessionID)
		assert.Empty(t, result.Errors)
		d.AssertExpectations(t)
		s.AssertExpectations(t)
		sub.AssertExpectations(t)
	})

	t.Run("no challenge is a clean non-success at detection", func(t *testing.T) {
		cfg := testSolverConfig()
		cfg.FallbackChance = 0
		o, d, _, sub := newTestOrchestrator(t, cfg)
		d.On("Detect", mock.Anything).Return(schemas.ChallengeDetection{}, nil)

		result, err := o.SolveChallenge(ctx, "sess-1")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, schemas.StageDetection, result.Stage)
		assert.False(t, result.Detected)
		assert.Empty(t, result.Errors)
		sub.AssertNotCalled(t, "ClickCannotSolve", mock.Anything)
	})

	t.Run("no challenge can roll a cannot-solve click and report success", func(t *testing.T) {
		o, d, _, sub := newTestOrchestrator(t, testSolverConfig())
		d.On("Detect", mock.Anything).Return(schemas.ChallengeDetection{}, nil)
		sub.On("ClickCannotSolve", mock.Anything).Return(nil)

		result, err := o.SolveChallenge(ctx, "sess-1")
		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.True(t, result.FallbackUsed)
		assert.Equal(t, schemas.StageCompleted, result.Stage)
		assert.False(t, result.Detected)
		sub.AssertCalled(t, "ClickCannotSolve", mock.Anything)
	})

	t.Run("detection failure terminates at detection", func(t *testing.T) {
		o, d, _, _ := newTestOrchestrator(t, testSolverConfig())
		d.On("Detect", mock.Anything).Return(schemas.ChallengeDetection{}, errors.New("page gone"))

		result, err := o.SolveChallenge(ctx, "sess-1")
		require.Error(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, schemas.StageDetection, result.Stage)
		assert.NotEmpty(t, result.Errors)
	})

	t.Run("solver failure takes the fallback", func(t *testing.T) {
		o, d, s, sub := newTestOrchestrator(t, testSolverConfig())
		d.On("Detect", mock.Anything).Return(detection, nil)
		s.On("Solve", mock.Anything, mock.Anything, mock.Anything).
			Return(schemas.SolverAnswer{}, errors.New("service down"))
		sub.On("ClickCannotSolve", mock.Anything).Return(nil)

		result, err := o.SolveChallenge(ctx, "sess-1")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, schemas.StageSolving, result.Stage)
		assert.True(t, result.FallbackUsed)
		sub.AssertCalled(t, "ClickCannotSolve", mock.Anything)
		sub.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("low confidence is rejected before submission", func(t *testing.T) {
		o, d, s, sub := newTestOrchestrator(t, testSolverConfig())
		d.On("Detect", mock.Anything).Return(detection, nil)
		s.On("Solve", mock.Anything, mock.Anything, mock.Anything).
			Return(schemas.SolverAnswer{Answer: "maybe", Confidence: 0.3}, nil)
		sub.On("ClickCannotSolve", mock.Anything).Return(nil)

		result, err := o.SolveChallenge(ctx, "sess-1")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, schemas.StageSolving, result.Stage)
		require.NotEmpty(t, result.Errors)
		assert.Contains(t, result.Errors[0], "confidence")
		sub.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("fallback disabled leaves the stage as is", func(t *testing.T) {
		cfg := testSolverConfig()
		cfg.FallbackEnabled = false
		o, d, s, sub := newTestOrchestrator(t, cfg)
		d.On("Detect", mock.Anything).Return(detection, nil)
		s.On("Solve", mock.Anything, mock.Anything, mock.Anything).
			Return(schemas.SolverAnswer{}, errors.New("service down"))

		result, err := o.SolveChallenge(ctx, "sess-1")
		require.NoError(t, err)
		assert.False(t, result.FallbackUsed)
		sub.AssertNotCalled(t, "ClickCannotSolve", mock.Anything)
	})

	t.Run("rejected submission terminates at submission", func(t *testing.T) {
		o, d, s, sub := newTestOrchestrator(t, testSolverConfig())
		d.On("Detect", mock.Anything).Return(detection, nil)
		s.On("Solve", mock.Anything, mock.Anything, mock.Anything).
			Return(schemas.SolverAnswer{Answer: "x7kp2", Confidence: 0.9}, nil)
		sub.On("Submit", mock.Anything, "x7kp2").
			Return(schemas.SubmitOutcome{Success: false, Error: "wrong answer"}, nil)

		result, err := o.SolveChallenge(ctx, "sess-1")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, schemas.StageSubmission, result.Stage)
		assert.False(t, result.SubmissionSuccess)
		assert.Contains(t, result.Errors, "wrong answer")
	})

	t.Run("slow detector hits the stage deadline", func(t *testing.T) {
		cfg := testSolverConfig()
		cfg.DetectionTimeout = 30 * time.Millisecond
		o, d, _, _ := newTestOrchestrator(t, cfg)

		d.On("Detect", mock.Anything).
			Run(func(args mock.Arguments) {
				dctx := args.Get(0).(context.Context)
				<-dctx.Done()
			}).
			Return(schemas.ChallengeDetection{}, context.DeadlineExceeded)

		result, err := o.SolveChallenge(ctx, "sess-1")
		require.Error(t, err)
		assert.Equal(t, schemas.StageDetection, result.Stage)
	})

	t.Run("observer receives the finished result", func(t *testing.T) {
		cfg := testSolverConfig()
		cfg.FallbackEnabled = false
		o, d, _, _ := newTestOrchestrator(t, cfg)
		d.On("Detect", mock.Anything).Return(schemas.ChallengeDetection{}, nil)

		var got *schemas.AutoSolveResult
		o.AddObserver(Observer{OnResult: func(r schemas.AutoSolveResult) { got = &r }})

		_, err := o.SolveChallenge(ctx, "sess-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.False(t, got.Success)
		assert.Equal(t, schemas.StageDetection, got.Stage)
	})

	t.Run("success always carries a submission or fallback win", func(t *testing.T) {
		check := func(t *testing.T, result schemas.AutoSolveResult) {
			t.Helper()
			if result.Success {
				assert.True(t, result.SubmissionSuccess || result.FallbackUsed)
			}
		}

		cfg := testSolverConfig()
		cfg.FallbackChance = 0
		o, d, _, _ := newTestOrchestrator(t, cfg)
		d.On("Detect", mock.Anything).Return(schemas.ChallengeDetection{}, nil)
		result, err := o.SolveChallenge(ctx, "sess-1")
		require.NoError(t, err)
		check(t, result)

		o2, d2, s2, sub2 := newTestOrchestrator(t, testSolverConfig())
		d2.On("Detect", mock.Anything).Return(detection, nil)
		s2.On("Solve", mock.Anything, mock.Anything, mock.Anything).
			Return(schemas.SolverAnswer{Answer: "x", Confidence: 0.9}, nil)
		sub2.On("Submit", mock.Anything, "x").Return(schemas.SubmitOutcome{Success: true}, nil)
		result, err = o2.SolveChallenge(ctx, "sess-1")
		require.NoError(t, err)
		check(t, result)
	})

	t.Run("durations are recorded per stage", func(t *testing.T) {
		o, d, s, sub := newTestOrchestrator(t, testSolverConfig())
		d.On("Detect", mock.Anything).Return(detection, nil)
		s.On("Solve", mock.Anything, mock.Anything, mock.Anything).
			Return(schemas.SolverAnswer{Answer: "a", Confidence: 0.9}, nil)
		sub.On("Submit", mock.Anything, "a").Return(schemas.SubmitOutcome{Success: true}, nil)

		result, err := o.SolveChallenge(ctx, "sess-1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.DetectionDuration, time.Duration(0))
		assert.GreaterOrEqual(t, result.SolveDuration, time.Duration(0))
		assert.GreaterOrEqual(t, result.SubmitDuration, time.Duration(0))
		assert.False(t, result.Timestamp.IsZero())
	})
}
