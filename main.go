package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aerogrind/solcore/pkg/config"
	"github.com/aerogrind/solcore/pkg/core"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "solcore: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cmd, args := os.Args[1], os.Args[2:]
	var runErr error
	switch cmd {
	case "run":
		runErr = runMain(logger, args)
	case "positions":
		runErr = inspect(logger, args, cmdPositions)
	case "price":
		runErr = inspect(logger, args, cmdPrice)
	case "filtered":
		runErr = inspect(logger, args, cmdFiltered)
	case "health":
		runErr = inspect(logger, args, cmdHealth)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "solcore: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if runErr != nil {
		logger.Error("solcore exited with error", zap.Error(runErr))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `solcore — Solana memecoin trading core

Usage:
  solcore run [--rpc URL] [--wallet KEY] [--dry-run] [--db PATH] [flags...]
      Start the full supervised trading core. Runs until SIGINT/SIGTERM,
      then shuts down every service within its grace period.

  solcore positions [flags...]      List currently open positions.
  solcore filtered [flags...]       List the current filter pass/reject split.
  solcore price <mint> [flags...]   Show the canonical price for a mint.
  solcore health [flags...]         Show supervised service health.

Every subcommand accepts the same --rpc/--wallet/--db flags as run; the
read-only commands construct and immediately tear down a full core
instance to answer one query (spec §6: "read-only inspection").`)
}

// runMain starts the full supervised core and blocks until the process
// receives an interrupt, then shuts down within the grace period (spec
// §5). It returns a non-nil error only on a fatal initialization failure;
// a clean shutdown always returns nil.
func runMain(logger *zap.Logger, args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DryRun {
		logger.Info("starting in dry-run mode: no swaps will be broadcast")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctxObj, err := core.New(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("construct core: %w", err)
	}

	if err := ctxObj.Start(ctx); err != nil {
		return fmt.Errorf("start core: %w", err)
	}
	logger.Info("solcore running", zap.Bool("dry_run", cfg.DryRun), zap.String("db", cfg.DBPath))

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping services")
	ctxObj.Stop()
	logger.Info("solcore stopped cleanly")
	return nil
}

// inspect builds a core instance purely to answer one read-only query,
// then tears it down. It never calls Start, so no swap, discovery, or
// reconciliation loop ever runs for these commands.
func inspect(logger *zap.Logger, args []string, fn func(*core.Context, []string) error) error {
	var queryArgs []string
	var flagArgs []string
	for _, a := range args {
		if len(a) > 0 && a[0] == '-' {
			flagArgs = append(flagArgs, a)
		} else {
			queryArgs = append(queryArgs, a)
		}
	}

	cfg, err := config.Load(flagArgs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	ctxObj, err := core.New(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("construct core: %w", err)
	}

	return fn(ctxObj, queryArgs)
}

func cmdPositions(c *core.Context, _ []string) error {
	return printJSON(c.API.ListOpenPositions())
}

func cmdPrice(c *core.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: solcore price <mint>")
	}
	price, ok := c.API.GetCanonicalPrice(args[0])
	if !ok {
		return fmt.Errorf("no canonical price known for %s", args[0])
	}
	return printJSON(price)
}

func cmdFiltered(c *core.Context, _ []string) error {
	return printJSON(c.API.ListFilteredMints(time.Now()))
}

func cmdHealth(c *core.Context, _ []string) error {
	return printJSON(c.API.GetServiceHealth())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
