package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitwit/a402"
	"github.com/vitwit/a402/config"
	"github.com/vitwit/a402/server"
	"github.com/vitwit/a402/utils"
)

var version = "dev"

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "a402d",
		Short:   "a402d - payment receipt verification service",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (.yaml, .yml or .toml)")

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newSignCmd())
	rootCmd.AddCommand(newNoncesCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newVerifyCmd() *cobra.Command {
	var challengeFile, receiptFile string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a receipt once and print the result",
		Long: `Verify a receipt against a challenge using the configured networks,
nonce store and issuer keys. The nonce is consumed exactly as it would be
by the server.

EXAMPLES:
  a402d verify --config a402.yaml --challenge challenge.json --receipt receipt.json

  # look the challenge up in the configured store by the receipt's requestNonce
  a402d verify --config a402.yaml --receipt receipt.json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), challengeFile, receiptFile)
		},
	}

	cmd.Flags().StringVar(&challengeFile, "challenge", "", "challenge JSON file")
	cmd.Flags().StringVar(&receiptFile, "receipt", "", "receipt JSON file (required)")
	_ = cmd.MarkFlagRequired("receipt")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := a402.GetVersion()
			info["build"] = version
			return printJSON(info)
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	app.log.Info("starting a402d", map[string]any{"version": version})

	opts := []server.Option{server.WithLogger(app.log)}
	if app.registry != nil {
		opts = append(opts, server.WithMetricsHandler(cfg.Metrics.Path, app.metricsHandler()))
	}
	srv := server.New(app.a402, cfg.Server, opts...)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		app.log.Info("server listening", map[string]any{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		app.log.Info("shutting down", map[string]any{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	app.log.Info("server stopped", nil)
	return nil
}

func runVerify(ctx context.Context, challengeFile, receiptFile string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	receiptData, err := os.ReadFile(receiptFile)
	if err != nil {
		return fmt.Errorf("reading receipt: %w", err)
	}
	var receipt map[string]any
	if err := json.Unmarshal(receiptData, &receipt); err != nil {
		return fmt.Errorf("parsing receipt: %w", err)
	}

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if challengeFile == "" {
		result, err := app.a402.VerifyStored(ctx, receipt)
		if err != nil {
			return err
		}
		return printJSON(result)
	}

	challengeData, err := os.ReadFile(challengeFile)
	if err != nil {
		return fmt.Errorf("reading challenge: %w", err)
	}
	c, err := utils.ParseChallenge(challengeData)
	if err != nil {
		return err
	}

	result, err := app.a402.Verify(ctx, *c, receipt)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
