package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/gatekey/gate"
)

var (
	secret     string
	gateURL    string
	taskURL    string
	verifyURL  string
	strategy   string
	port       int
	keyPath    string
	keyMaxAge  time.Duration
	minDwell   time.Duration
	ledgerPath string
	docs       bool
	verbose    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gate and wait for validation",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel := slog.LevelWarn
		if verbose {
			logLevel = slog.LevelInfo
		}
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

		cfg := gate.Config{
			Secret:     secret,
			GateURL:    gateURL,
			TaskURL:    taskURL,
			VerifyURL:  verifyURL,
			Strategy:   gate.Strategy(strategy),
			Port:       port,
			KeyPath:    keyPath,
			KeyMaxAge:  keyMaxAge,
			MinDwell:   minDwell,
			LedgerPath: ledgerPath,
			Revalidate: true,
		}

		opts := []gate.Option{gate.WithLogger(logger)}
		if docs {
			opts = append(opts, gate.WithDocs())
		}

		p, err := gate.Open(cfg, opts...)
		if err != nil {
			return err
		}

		if p.URL == "" {
			fmt.Println("Credential is valid; gate already open.")
			return nil
		}

		fmt.Printf("Visit the gate page to continue:\n\n  %s\n\n", p.URL)
		fmt.Printf("Waiting for validation (local server on %s)...\n", p.Addr())

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := p.Wait(ctx)
		if err != nil {
			return fmt.Errorf("gate aborted: %w", err)
		}
		if !res.Valid {
			return fmt.Errorf("validation did not complete")
		}

		fmt.Println("Validation complete; credential saved.")
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&secret, "secret", "", "shared secret for validation codes (required)")
	runCmd.Flags().StringVar(&gateURL, "gate-url", "", "external adwall page URL (required)")
	runCmd.Flags().StringVar(&taskURL, "task-url", "", "task provider page URL (required)")
	runCmd.Flags().StringVar(&verifyURL, "verify-url", "", "provider token verification endpoint")
	runCmd.Flags().StringVar(&strategy, "strategy", "", "verification strategy: code or token")
	runCmd.Flags().IntVar(&port, "port", gate.DefaultPort, "local gate server port")
	runCmd.Flags().StringVar(&keyPath, "key", gate.DefaultKeyPath, "credential file path")
	runCmd.Flags().DurationVar(&keyMaxAge, "key-max-age", gate.DefaultKeyMaxAge, "credential lifetime")
	runCmd.Flags().DurationVar(&minDwell, "dwell", gate.DefaultMinDwell, "minimum dwell time")
	runCmd.Flags().StringVar(&ledgerPath, "ledger", "", "persist the rate-limit ledger at this path")
	runCmd.Flags().BoolVar(&docs, "docs", false, "serve OpenAPI docs on the gate server")
	runCmd.Flags().BoolVar(&verbose, "verbose", false, "log protocol events")

	rootCmd.AddCommand(runCmd)
}
