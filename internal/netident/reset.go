package netident

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xkilldash9x/veilcore/internal/config"
	"go.uber.org/zap"
)

// ErrStrategyUnavailable marks a reset path that is configured but cannot run
// (missing integration or unimplemented device). Callers should disable the
// path rather than retry it.
var ErrStrategyUnavailable = errors.New("reset strategy unavailable")

// resetStrategy triggers one identity-reset mechanism. Trigger returns once
// the reset has been requested; propagation is the manager's concern.
type resetStrategy interface {
	Trigger(ctx context.Context) error
}

func newResetStrategy(cfg config.ResetConfig, logger *zap.Logger) resetStrategy {
	switch cfg.Device {
	case "router":
		return &routerReset{cfg: cfg, client: resetClient(cfg), log: logger.Named("reset_router")}
	case "lte":
		return &lteReset{log: logger.Named("reset_lte")}
	case "webhook":
		return &webhookReset{cfg: cfg, client: resetClient(cfg), log: logger.Named("reset_webhook")}
	default:
		return nil
	}
}

func resetClient(cfg config.ResetConfig) *http.Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// routerReset asks a home router's control endpoint to drop and re-establish
// the WAN connection, which typically yields a new dynamic IP.
type routerReset struct {
	cfg    config.ResetConfig
	client *http.Client
	log    *zap.Logger
}

func (r *routerReset) Trigger(ctx context.Context) error {
	if r.cfg.RouterURL == "" {
		return fmt.Errorf("%w: router_url not configured", ErrStrategyUnavailable)
	}
	body := strings.NewReader(`{"action":"reconnect"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.RouterURL, body)
	if err != nil {
		return fmt.Errorf("build router request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("router reconnect call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("router reconnect returned status %d", resp.StatusCode)
	}
	r.log.Info("Router reconnect requested")
	return nil
}

// lteReset is the cellular-modem path. It requires a serial AT-command
// collaborator that is not part of this core; the strategy reports itself
// unavailable instead of inventing modem semantics.
type lteReset struct {
	log *zap.Logger
}

func (r *lteReset) Trigger(_ context.Context) error {
	r.log.Warn("LTE dongle reset requested but no serial collaborator is wired")
	return fmt.Errorf("%w: lte reset requires a serial collaborator", ErrStrategyUnavailable)
}

// webhookReset POSTs to a generic authenticated reconnect endpoint.
type webhookReset struct {
	cfg    config.ResetConfig
	client *http.Client
	log    *zap.Logger
}

func (r *webhookReset) Trigger(ctx context.Context) error {
	if r.cfg.WebhookURL == "" {
		return fmt.Errorf("%w: webhook_url not configured", ErrStrategyUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.WebhookURL, nil)
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	if r.cfg.WebhookToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.WebhookToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook reset call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook reset returned status %d", resp.StatusCode)
	}
	r.log.Info("Reset webhook triggered")
	return nil
}
