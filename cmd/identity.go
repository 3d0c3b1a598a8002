// File: cmd/identity.go
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/veilcore/internal/observability"
)

var identityReset bool

// identityCmd performs a one-shot identity check and prints the outcome.
var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Check the current network identity, optionally forcing a reset.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := observability.GetLogger()

		components, err := createComponents(ctx, appConfig, false)
		if err != nil {
			return err
		}
		defer components.Shutdown()

		if identityReset {
			logger.Info("Forcing identity reset")
			if err := components.Network.ForceIdentityReset(ctx); err != nil {
				return fmt.Errorf("identity reset failed: %w", err)
			}
		}

		check, err := components.Network.CheckForChange(ctx)
		if err != nil {
			return fmt.Errorf("identity check failed: %w", err)
		}

		report := struct {
			Changed             bool    `json:"changed"`
			InCooldown          bool    `json:"in_cooldown"`
			CooldownRemainingMs int64   `json:"cooldown_remaining_ms"`
			DistanceKm          float64 `json:"distance_km"`
			CurrentIP           string  `json:"current_ip"`
			City                string  `json:"city"`
			Country             string  `json:"country"`
		}{
			Changed:             check.Changed,
			InCooldown:          check.InCooldown,
			CooldownRemainingMs: check.CooldownRemainingMs,
			DistanceKm:          check.DistanceKm,
		}

		state := components.Network.State()
		report.CurrentIP = state.CurrentIP
		if state.CurrentGeo != nil {
			report.City = state.CurrentGeo.City
			report.Country = state.CurrentGeo.CountryName
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}

		logger.Debug("Identity check complete", zap.Bool("changed", check.Changed))
		return nil
	},
}

func init() {
	identityCmd.Flags().BoolVar(&identityReset, "reset", false, "force an identity reset before checking")
}
