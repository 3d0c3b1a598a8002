package session

import (
	"context"
	"time"

	"github.com/xkilldash9x/veilcore/api/schemas"
	"go.uber.org/zap"
)

// PerformCleanLogout walks the configured logout flow through the injected
// primitives. Best-effort: a missing logout control is not an error, and a
// failed logout never blocks the caller.
func (c *Controller) PerformCleanLogout(ctx context.Context, navigate schemas.NavigateFunc, click schemas.ClickFunc, wait schemas.WaitFunc) error {
	c.mu.Lock()
	url := c.cfg.LogoutURL
	selector := c.cfg.LogoutSelector
	c.mu.Unlock()

	if url != "" {
		if err := navigate(ctx, url); err != nil {
			c.log.Warn("Logout navigation failed", zap.String("url", url), zap.Error(err))
			return nil
		}
		if err := wait(ctx, 2*time.Second); err != nil {
			return err
		}
	}

	if selector != "" {
		if err := click(ctx, selector); err != nil {
			// The control may simply not exist on this page.
			c.log.Debug("Logout control not clickable", zap.String("selector", selector), zap.Error(err))
			return nil
		}
		if err := wait(ctx, time.Second); err != nil {
			return err
		}
	}

	c.markAllLoggedOut(ctx)
	c.log.Info("Clean logout completed")
	return nil
}

// PrepareForIdentityChange is the hand-off point before an identity rotation:
// if configured, it logs out any authenticated session first so the rotation
// does not strand a live login on the old address.
func (c *Controller) PrepareForIdentityChange(ctx context.Context, navigate schemas.NavigateFunc, click schemas.ClickFunc, wait schemas.WaitFunc) error {
	c.mu.Lock()
	logoutFirst := c.cfg.LogoutBeforeRotate
	anyLoggedIn := false
	for _, s := range c.sessions {
		if s.LoggedIn {
			anyLoggedIn = true
			break
		}
	}
	c.mu.Unlock()

	if !logoutFirst || !anyLoggedIn {
		c.markAllLoggedOut(ctx)
		return nil
	}

	if err := c.PerformCleanLogout(ctx, navigate, click, wait); err != nil {
		// Logout failures are logged and do not block rotation.
		c.log.Warn("Logout before identity change failed", zap.Error(err))
	}
	return nil
}

func (c *Controller) markAllLoggedOut(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		if s.LoggedIn {
			s.LoggedIn = false
			c.persistSessionLocked(ctx, s)
		}
	}
}
