package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/veilcore/api/schemas"
	"github.com/xkilldash9x/veilcore/internal/config"
	"github.com/xkilldash9x/veilcore/internal/store"
)

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		TrustGainPerSuccess: 10,
		TrustLossPerFailure: 25,
		BaseLoginCooldown:   time.Minute,
		CooldownMultiplier:  2.0,
		MaxLoginCooldown:    6 * time.Hour,
		FailureWindow:       24 * time.Hour,
		SessionTimeout:      12 * time.Hour,
		AttemptHistorySize:  100,
		LoginCooldownPoll:   10 * time.Millisecond,
	}
}

func newTestController(t *testing.T, cfg config.SessionConfig) (*Controller, store.Store) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	c, err := New(context.Background(), cfg, st, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c, st
}

func TestGetOrCreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("new sessions start at unknown trust", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())
		s := c.GetOrCreateSession(ctx, "alice", "example")
		assert.Equal(t, schemas.TrustUnknown, s.TrustLevel)
		assert.Zero(t, s.TrustPoints)
		assert.NotEmpty(t, s.SessionID)
	})

	t.Run("same pair returns the same session", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())
		s1 := c.GetOrCreateSession(ctx, "alice", "example")
		s2 := c.GetOrCreateSession(ctx, "alice", "example")
		assert.Equal(t, s1.SessionID, s2.SessionID)
	})

	t.Run("different services are isolated", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())
		s1 := c.GetOrCreateSession(ctx, "alice", "serviceA")
		s2 := c.GetOrCreateSession(ctx, "alice", "serviceB")
		assert.NotEqual(t, s1.SessionID, s2.SessionID)
	})

	t.Run("expired session is replaced and trust reset", func(t *testing.T) {
		cfg := testSessionConfig()
		cfg.SessionTimeout = 50 * time.Millisecond
		c, _ := newTestController(t, cfg)

		s1 := c.GetOrCreateSession(ctx, "alice", "example")
		c.RecordLoginAttempt(ctx, "alice", "example", true, "192.0.2.1", "", "")
		require.Positive(t, s1.TrustPoints)

		time.Sleep(80 * time.Millisecond)
		s2 := c.GetOrCreateSession(ctx, "alice", "example")
		assert.NotEqual(t, s1.SessionID, s2.SessionID)
		assert.Zero(t, s2.TrustPoints)
	})

	t.Run("sessions reload from the store", func(t *testing.T) {
		st, err := store.NewFileStore(t.TempDir(), zaptest.NewLogger(t))
		require.NoError(t, err)

		c1, err := New(ctx, testSessionConfig(), st, zaptest.NewLogger(t))
		require.NoError(t, err)
		s1 := c1.GetOrCreateSession(ctx, "alice", "example")
		c1.RecordLoginAttempt(ctx, "alice", "example", true, "192.0.2.1", "", "")

		c2, err := New(ctx, testSessionConfig(), st, zaptest.NewLogger(t))
		require.NoError(t, err)
		s2 := c2.GetOrCreateSession(ctx, "alice", "example")
		assert.Equal(t, s1.SessionID, s2.SessionID)
		assert.Equal(t, 10, s2.TrustPoints)
	})
}

func TestTrustModel(t *testing.T) {
	ctx := context.Background()

	t.Run("successes climb the ladder monotonically", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())

		var levels []schemas.TrustLevel
		c.AddObserver(Observer{OnTrustTransition: func(tr schemas.TrustTransition) {
			levels = append(levels, tr.NewLevel)
		}})

		prevRank := schemas.TrustUnknown.Rank()
		for i := 0; i < 10; i++ {
			c.RecordLoginAttempt(ctx, "alice", "example", true, "192.0.2.1", "", "")
			s := c.GetOrCreateSession(ctx, "alice", "example")
			require.GreaterOrEqual(t, s.TrustLevel.Rank(), prevRank, "trust must never drop on success")
			prevRank = s.TrustLevel.Rank()
		}

		s := c.GetOrCreateSession(ctx, "alice", "example")
		assert.Equal(t, 100, s.TrustPoints)
		assert.Equal(t, schemas.TrustVerified, s.TrustLevel)
		assert.Equal(t, schemas.TrustVerified, levels[len(levels)-1])
	})

	t.Run("failure costs more than success earns", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())

		c.RecordLoginAttempt(ctx, "alice", "example", true, "192.0.2.1", "", "")
		c.RecordLoginAttempt(ctx, "alice", "example", true, "192.0.2.1", "", "")
		c.RecordLoginAttempt(ctx, "alice", "example", false, "192.0.2.1", "", "bad password")

		s := c.GetOrCreateSession(ctx, "alice", "example")
		assert.Zero(t, s.TrustPoints, "20 earned minus 25 lost clamps at zero")
		assert.Equal(t, 1, s.ConsecutiveFailures)
		assert.False(t, s.LoggedIn)
	})

	t.Run("points clamp at both ends", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())

		for i := 0; i < 20; i++ {
			c.RecordLoginAttempt(ctx, "alice", "example", true, "192.0.2.1", "", "")
		}
		assert.Equal(t, 100, c.GetOrCreateSession(ctx, "alice", "example").TrustPoints)

		for i := 0; i < 20; i++ {
			c.RecordLoginAttempt(ctx, "alice", "example", false, "192.0.2.1", "", "")
		}
		assert.Zero(t, c.GetOrCreateSession(ctx, "alice", "example").TrustPoints)
	})

	t.Run("success resets the failure streak", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())

		c.RecordLoginAttempt(ctx, "alice", "example", false, "192.0.2.1", "", "")
		c.RecordLoginAttempt(ctx, "alice", "example", false, "192.0.2.1", "", "")
		c.RecordLoginAttempt(ctx, "alice", "example", true, "192.0.2.1", "", "")

		s := c.GetOrCreateSession(ctx, "alice", "example")
		assert.Zero(t, s.ConsecutiveFailures)
		assert.True(t, s.LoggedIn)
		assert.Equal(t, 1, s.LoginCount)
	})

	t.Run("only successful logins stamp the login time", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())

		c.RecordLoginAttempt(ctx, "alice", "example", false, "192.0.2.1", "", "bad password")
		s := c.GetOrCreateSession(ctx, "alice", "example")
		assert.Nil(t, s.LastLoginAt)
		assert.False(t, s.LastActivityAt.IsZero())

		before := time.Now()
		c.RecordLoginAttempt(ctx, "alice", "example", true, "192.0.2.1", "", "")
		s = c.GetOrCreateSession(ctx, "alice", "example")
		require.NotNil(t, s.LastLoginAt)
		assert.False(t, s.LastLoginAt.Before(before))

		stamped := *s.LastLoginAt
		c.RecordLoginAttempt(ctx, "alice", "example", false, "192.0.2.1", "", "bad password")
		s = c.GetOrCreateSession(ctx, "alice", "example")
		require.NotNil(t, s.LastLoginAt)
		assert.Equal(t, stamped, *s.LastLoginAt, "failure must not move the last login time")
	})
}

func TestLoginBackoff(t *testing.T) {
	ctx := context.Background()

	t.Run("no failures means no cooldown", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())
		assert.Zero(t, c.CalculateLoginCooldown("alice"))

		c.RecordLoginAttempt(ctx, "alice", "example", true, "192.0.2.1", "", "")
		assert.Zero(t, c.CalculateLoginCooldown("alice"))
	})

	t.Run("cooldown grows monotonically with failures", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())

		var prev time.Duration
		for i := 1; i <= 5; i++ {
			c.RecordLoginAttempt(ctx, "alice", "example", false, "192.0.2.1", "", "")
			cur := c.CalculateLoginCooldown("alice")
			require.Greater(t, cur, prev, "failure %d must not shrink the cooldown", i)
			prev = cur
		}
		// base 1m, multiplier 2: five failures yield 32 minutes.
		assert.Equal(t, 32*time.Minute, prev)
	})

	t.Run("cooldown caps at the configured maximum", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())

		for i := 0; i < 15; i++ {
			c.RecordLoginAttempt(ctx, "alice", "example", false, "192.0.2.1", "", "")
		}
		assert.Equal(t, 6*time.Hour, c.CalculateLoginCooldown("alice"))
	})

	t.Run("attempt history is bounded", func(t *testing.T) {
		cfg := testSessionConfig()
		cfg.AttemptHistorySize = 5
		c, _ := newTestController(t, cfg)

		for i := 0; i < 10; i++ {
			c.RecordLoginAttempt(ctx, "alice", "example", false, "192.0.2.1", "", "")
		}
		// Only the retained window feeds the failure count.
		assert.Equal(t, time.Duration(float64(time.Minute)*32), c.CalculateLoginCooldown("alice"))
	})
}

func TestCanLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh account may log in", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())
		gate := c.CanLogin("alice")
		assert.True(t, gate.Allowed)
		assert.Zero(t, gate.RemainingMs)
	})

	t.Run("recent failure blocks with remaining time", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())
		c.RecordLoginAttempt(ctx, "alice", "example", false, "192.0.2.1", "", "")

		gate := c.CanLogin("alice")
		require.False(t, gate.Allowed)
		assert.Positive(t, gate.RemainingMs)
		assert.LessOrEqual(t, gate.RemainingMs, (2 * time.Minute).Milliseconds())
	})

	t.Run("wait honors cancellation", func(t *testing.T) {
		c, _ := newTestController(t, testSessionConfig())
		c.RecordLoginAttempt(ctx, "alice", "example", false, "192.0.2.1", "", "")

		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		err := c.WaitForLoginCooldown(waitCtx, "alice")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("wait returns once the cooldown elapses", func(t *testing.T) {
		cfg := testSessionConfig()
		cfg.BaseLoginCooldown = 30 * time.Millisecond
		cfg.MaxLoginCooldown = 60 * time.Millisecond
		c, _ := newTestController(t, cfg)
		c.RecordLoginAttempt(ctx, "alice", "example", false, "192.0.2.1", "", "")

		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		assert.NoError(t, c.WaitForLoginCooldown(waitCtx, "alice"))
	})
}

func TestCleanupExpiredSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("removes only stale sessions", func(t *testing.T) {
		cfg := testSessionConfig()
		cfg.SessionTimeout = 60 * time.Millisecond
		c, st := newTestController(t, cfg)

		c.GetOrCreateSession(ctx, "old", "example")
		time.Sleep(90 * time.Millisecond)
		c.GetOrCreateSession(ctx, "fresh", "example")

		removed := c.CleanupExpiredSessions(ctx)
		assert.Equal(t, 1, removed)

		remaining := c.Sessions()
		require.Len(t, remaining, 1)
		assert.Equal(t, "fresh", remaining[0].AccountID)

		_, err := st.Get(ctx, "sessions/old/example")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("zero timeout disables cleanup", func(t *testing.T) {
		cfg := testSessionConfig()
		cfg.SessionTimeout = 0
		c, _ := newTestController(t, cfg)
		c.GetOrCreateSession(ctx, "alice", "example")
		assert.Zero(t, c.CleanupExpiredSessions(ctx))
	})
}
