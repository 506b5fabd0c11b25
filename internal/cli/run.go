package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"oanda-trader/internal/advisory"
	"oanda-trader/internal/notify"
	"oanda-trader/internal/trader"
	"oanda-trader/internal/venue"
)

// newRunCmd creates the command that runs the agent until interrupted.
func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading agent",
		Long: `Run the unattended trading loop until interrupted.

SIGINT or SIGTERM shuts the agent down, closing all open positions first.
SIGUSR1 logs a full status snapshot. SIGUSR2 triggers the emergency stop,
closing every position and halting new trades. SIGHUP resets the emergency
stop latch after an operator has investigated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config

			v, err := buildVenue(app)
			if err != nil {
				return err
			}

			advisor, err := advisory.NewHTTPAdvisor(advisory.HTTPConfig{
				Endpoint: cfg.Advisory.BaseURL,
				Timeout:  cfg.Advisory.Timeout,
			}, app.Logger)
			if err != nil {
				return err
			}

			t := trader.New(cfg, v, advisor, app.Store, app.Logger)
			t.SetNotifier(notify.NewWebhookNotifier(cfg.Notify.WebhookURL, app.Logger))

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// The local simulator has no upstream prices; a synthetic
			// feed supplies the ticks.
			if pv, ok := v.(*venue.PaperVenue); ok {
				go venue.NewSyntheticFeed(pv, cfg.Trading.Instruments, time.Second).Run(ctx)
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
			defer signal.Stop(sigs)
			go func() {
				for sig := range sigs {
					switch sig {
					case syscall.SIGUSR1:
						t.LogStatus()
					case syscall.SIGUSR2:
						app.Logger.Warn().Msg("SIGUSR2 received, triggering emergency stop")
						if !t.TriggerEmergencyStop("Emergency Stop") {
							app.Logger.Warn().Msg("emergency stop already active")
						}
					case syscall.SIGHUP:
						app.Logger.Warn().Msg("SIGHUP received, resetting emergency stop")
						t.ResetEmergencyStop()
					default:
						app.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
						cancel()
						return
					}
				}
			}()

			err = t.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}

// buildVenue selects the venue implementation. Live mode and paper mode with
// practice-account credentials both use the REST venue; the practice
// environment is the venue's own paper account. Without credentials the
// local simulator stands in.
func buildVenue(app *App) (venue.Venue, error) {
	cfg := app.Config
	if cfg.Trading.Mode == "live" || (cfg.Venue.APIKey != "" && cfg.Venue.AccountID != "") {
		return venue.NewRESTVenue(venue.RESTConfig{
			BaseURL:   cfg.Venue.BaseURL,
			StreamURL: cfg.Venue.StreamURL,
			AccountID: cfg.Venue.AccountID,
			Token:     cfg.Venue.APIKey,
			Timeout:   cfg.Venue.Timeout,
		}, app.Logger)
	}

	app.Logger.Warn().Msg("no venue credentials, using the local paper simulator")
	return venue.NewPaperVenue(cfg.Venue.PaperStart), nil
}

// newStatusCmd shows the persisted account history.
func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recent performance from the trade history",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("trade history store unavailable")
			}
			return showHistory(cmd, app, output)
		},
	}
}
