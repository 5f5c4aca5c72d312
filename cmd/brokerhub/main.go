// Package main is the entry point for the brokerhub service and CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tathienbao/brokerhub/internal/broker/alpaca"
	"github.com/tathienbao/brokerhub/internal/broker/ibgw"
	"github.com/tathienbao/brokerhub/internal/config"
	"github.com/tathienbao/brokerhub/internal/execution"
	"github.com/tathienbao/brokerhub/internal/metrics"
	"github.com/tathienbao/brokerhub/internal/persistence"
	"github.com/tathienbao/brokerhub/internal/router"
	"github.com/tathienbao/brokerhub/internal/supervisor"
	"github.com/tathienbao/brokerhub/internal/types"
)

// Version information (set by build flags).
var (
	Version   = "0.2.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "validate":
		cmdValidate(os.Args[2:])
	case "accounts":
		cmdAccounts(os.Args[2:])
	case "orders":
		cmdOrders(os.Args[2:])
	case "balance":
		cmdBalance(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Brokerhub - Multi-Venue Broker Adapter Service

Usage:
  brokerhub <command> [options]

Commands:
  serve      Start the service (metrics, reconciliation loop)
  accounts   List accounts across all configured venues
  orders     List orders for an account
  balance    Show cash balance for an account
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  brokerhub serve --config config.yaml
  brokerhub accounts --config config.yaml
  brokerhub orders --config config.yaml --account DU111 --open
  brokerhub balance --config config.yaml --account DU111

Use "brokerhub <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("brokerhub version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Gateway venue:  %v\n", cfg.Gateway.Enabled)
	fmt.Printf("  Alpaca venue:   %v\n", cfg.Alpaca.Enabled)
	fmt.Printf("  Persistence:    %s\n", cfg.Persistence.Path)
	fmt.Printf("  Metrics:        %v\n", cfg.Metrics.Enabled)
}

// app bundles the wired components behind every command.
type app struct {
	cfg      *config.Config
	repo     persistence.Repository
	router   *router.Router
	executor *execution.Executor
	gateway  *ibgw.Adapter // nil when disabled
	logger   *slog.Logger
}

func buildApp(configPath string, logger *slog.Logger) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	repo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	r := router.New(repo, logger)

	a := &app{cfg: cfg, repo: repo, router: r, logger: logger}

	if cfg.Gateway.Enabled {
		a.gateway = ibgw.New(cfg.GatewayVenueConfig(), logger)
		r.Register(a.gateway)
	}
	if cfg.Alpaca.Enabled {
		r.Register(alpaca.New(cfg.AlpacaVenueConfig(), logger))
	}

	a.executor = execution.NewExecutor(cfg.ExecutorConfig(), r, repo, metrics.NewRecorder(), logger)
	return a, nil
}

func (a *app) close() {
	if a.gateway != nil {
		if err := a.gateway.Shutdown(); err != nil {
			a.logger.Warn("gateway shutdown", "err", err)
		}
	}
	if err := a.repo.Close(); err != nil {
		a.logger.Warn("repository close", "err", err)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func cmdAccounts(args []string) {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	a := mustBuild(*configPath)
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accounts := a.router.ListAllAccounts(ctx)
	if len(accounts) == 0 {
		fmt.Println("No accounts found.")
		return
	}
	for _, acct := range accounts {
		fmt.Printf("%-12s %-8s %-22s %s %s\n",
			acct.ID, acct.Provider, acct.Brokerage, acct.Cash.StringFixed(2), acct.Currency)
	}
}

func cmdOrders(args []string) {
	fs := flag.NewFlagSet("orders", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	account := fs.String("account", "", "Account identifier (required)")
	openOnly := fs.Bool("open", false, "Open orders only")
	ticker := fs.String("ticker", "", "Filter by ticker")
	fs.Parse(args)

	if *account == "" {
		fmt.Fprintln(os.Stderr, "Error: --account is required")
		fs.Usage()
		os.Exit(1)
	}

	a := mustBuild(*configPath)
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	orders, err := a.executor.Orders(ctx, *account, types.OrderFilter{
		OpenOnly: *openOnly,
		Ticker:   *ticker,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(orders) == 0 {
		fmt.Println("No orders found.")
		return
	}
	for _, o := range orders {
		fmt.Printf("%-10s %-6s %-4s %-14s filled %s/%s @ %s\n",
			o.VenueOrderID, o.Ticker, o.Side, o.Status,
			o.FilledQuantity, o.Quantity, o.AvgFillPrice.StringFixed(2))
	}
}

func cmdBalance(args []string) {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	account := fs.String("account", "", "Account identifier (required)")
	fs.Parse(args)

	if *account == "" {
		fmt.Fprintln(os.Stderr, "Error: --account is required")
		fs.Usage()
		os.Exit(1)
	}

	a := mustBuild(*configPath)
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	adapter, err := a.router.Resolve(ctx, *account)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cash, err := adapter.GetBalance(ctx, *account)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s (%s): %s\n", *account, adapter.Name(), cash.StringFixed(2))
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	a := mustBuild(*configPath)
	defer a.close()
	logger := a.logger
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("brokerhub starting",
		"version", Version,
		"providers", a.router.Providers(),
	)

	var metricsServer *metrics.Server
	if a.cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(metrics.ServerConfig{
			Port:        a.cfg.Metrics.Port,
			MetricsPath: a.cfg.Metrics.Path,
			HealthPath:  "/health",
		}, logger)
		if a.gateway != nil {
			metricsServer.RegisterHealthCheck("gateway",
				metrics.SessionCheck(ibgw.ProviderName, a.gateway.Supervisor().State))
		}
		_ = metricsServer.Start()
	}

	recorder := metrics.NewRecorder()
	if a.gateway != nil {
		a.gateway.Supervisor().StateHook = func(st supervisor.State) {
			recorder.RecordSessionState(ibgw.ProviderName, st)
		}
	}
	reconciler := execution.NewReconciler(
		a.cfg.ReconcileInterval(),
		a.cfg.ReconcileGrace(),
		a.router, a.repo, recorder, logger,
	)
	go reconciler.Run(ctx)

	// Sweep expired previews on the same cadence.
	go func() {
		ticker := time.NewTicker(a.cfg.ReconcileInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.executor.SweepPreviews(ctx); err != nil {
					logger.Warn("preview sweep failed", "err", err)
				}
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}
	logger.Info("brokerhub shutdown complete")
}

func mustBuild(configPath string) *app {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	a, err := buildApp(configPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup error: %v\n", err)
		os.Exit(1)
	}
	return a
}
