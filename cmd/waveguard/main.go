package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/waveguard/waveguard/internal/config"
	"github.com/waveguard/waveguard/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "waveguard",
	Short:   "Waveguard - access-control core for an audio daemon",
	Long:    `Waveguard mediates every externally-triggered operation a connected audio client may attempt, deciding per operation whether to allow, block, or defer to a desktop portal for user consent. This binary runs the core against a simulated host.`,
	Version: Version,
	// Bare invocation is an alias for "run".
	Run: func(cmd *cobra.Command, args []string) {
		runHarness()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the access core against the simulated host",
	Run: func(cmd *cobra.Command, args []string) {
		runHarness()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Waveguard %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func runHarness() {
	cfg := config.Load()
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "waveguard",
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr)
		})
	}
	g.Go(func() error {
		return runSimulatedHost(ctx, cfg)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Harness failed")
		os.Exit(1)
	}
}

// serveMetrics exposes the access core's verdict, filter and portal counters
// until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("Serving access metrics")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics listener on %s: %w", addr, err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
