package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type primitiveRecorder struct {
	navigated []string
	clicked   []string
	navErr    error
	clickErr  error
}

func (r *primitiveRecorder) navigate(_ context.Context, url string) error {
	r.navigated = append(r.navigated, url)
	return r.navErr
}

func (r *primitiveRecorder) click(_ context.Context, selector string) error {
	r.clicked = append(r.clicked, selector)
	return r.clickErr
}

func (r *primitiveRecorder) wait(_ context.Context, _ time.Duration) error { return nil }

func TestPerformCleanLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("walks the configured flow and clears login flags", func(t *testing.T) {
		cfg := testSessionConfig()
		cfg.LogoutURL = "https://example.test/account"
		cfg.LogoutSelector = "#logout"
		c, _ := newTestController(t, cfg)

		c.RecordLoginAttempt(ctx, "alice", "example", true, "192.0.2.1", "", "")
		require.True(t, c.GetOrCreateSession(ctx, "alice", "example").LoggedIn)

		rec := &primitiveRecorder{}
		require.NoError(t, c.PerformCleanLogout(ctx, rec.navigate, rec.click, rec.wait))

		assert.Equal(t, []string{"https://example.test/account"}, rec.navigated)
		assert.Equal(t, []string{"#logout"}, rec.clicked)
		assert.False(t, c.GetOrCreateSession(ctx, "alice", "example").LoggedIn)
	})

	t.Run("navigation failure is swallowed", func(t *testing.T) {
		cfg := testSessionConfig()
		cfg.LogoutURL = "https://example.test/account"
		c, _ := newTestController(t, cfg)

		rec := &primitiveRecorder{navErr: errors.New("net down")}
		assert.NoError(t, c.PerformCleanLogout(ctx, rec.navigate, rec.click, rec.wait))
	})

	t.Run("missing logout control is not an error", func(t *testing.T) {
		cfg := testSessionConfig()
		cfg.LogoutSelector = "#logout"
		c, _ := newTestController(t, cfg)

		rec := &primitiveRecorder{clickErr: errors.New("no such element")}
		assert.NoError(t, c.PerformCleanLogout(ctx, rec.navigate, rec.click, rec.wait))
	})
}

func TestPrepareForIdentityChange(t *testing.T) {
	ctx := context.Background()

	t.Run("logs out live sessions before rotation", func(t *testing.T) {
		cfg := testSessionConfig()
		cfg.LogoutBeforeRotate = true
		cfg.LogoutURL = "https://example.test/account"
		c, _ := newTestController(t, cfg)

		c.RecordLoginAttempt(ctx, "alice", "example", true, "192.0.2.1", "", "")

		rec := &primitiveRecorder{}
		require.NoError(t, c.PrepareForIdentityChange(ctx, rec.navigate, rec.click, rec.wait))
		assert.NotEmpty(t, rec.navigated)
		assert.False(t, c.GetOrCreateSession(ctx, "alice", "example").LoggedIn)
	})

	t.Run("skips the flow when nothing is logged in", func(t *testing.T) {
		cfg := testSessionConfig()
		cfg.LogoutBeforeRotate = true
		cfg.LogoutURL = "https://example.test/account"
		c, _ := newTestController(t, cfg)

		rec := &primitiveRecorder{}
		require.NoError(t, c.PrepareForIdentityChange(ctx, rec.navigate, rec.click, rec.wait))
		assert.Empty(t, rec.navigated)
	})

	t.Run("disabled flag still clears flags without page work", func(t *testing.T) {
		cfg := testSessionConfig()
		cfg.LogoutBeforeRotate = false
		c, _ := newTestController(t, cfg)

		c.RecordLoginAttempt(ctx, "alice", "example", true, "192.0.2.1", "", "")

		rec := &primitiveRecorder{}
		require.NoError(t, c.PrepareForIdentityChange(ctx, rec.navigate, rec.click, rec.wait))
		assert.Empty(t, rec.navigated)
		assert.False(t, c.GetOrCreateSession(ctx, "alice", "example").LoggedIn)
	})
}
