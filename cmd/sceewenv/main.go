// Command sceewenv runs the amplitude-engine ingestion pipeline: gain/baseline correction, three-component routing and
// horizontal combination, per-unit preprocessing, and the envelope/
// filter-bank/onsite-magnitude routing processors, publishing every result
// to the bus. FinDer and VS driving is left to cmd/scfinder and
// cmd/scvsmag respectively (see cmd/internal/eewapp's doc comment).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/SED-EEW/eewamps/cmd/internal/eewapp"
	"github.com/SED-EEW/eewamps/telemetry/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("sceewenv", flag.ContinueOnError)
	f := eewapp.RegisterFlags(fs)
	if err := f.Parse(fs, args); err != nil {
		fmt.Fprintln(os.Stderr, "sceewenv:", err)
		return 2
	}

	cfg, err := eewapp.LoadConfig(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sceewenv:", err)
		return 1
	}

	if f.DumpConfig {
		if err := eewapp.PrintConfig(cfg); err != nil {
			fmt.Fprintln(os.Stderr, "sceewenv:", err)
			return 1
		}
		return 0
	}

	if err := eewapp.CheckFinDerConfigReadable(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "sceewenv:", err)
		return 1
	}

	store, err := eewapp.LoadInventory(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sceewenv:", err)
		return 1
	}

	logger := logging.New(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	built, err := eewapp.Build(f, cfg, store, nil, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sceewenv:", err)
		return 1
	}
	defer built.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.InfoCtx(ctx, "sceewenv: signal received, shutting down")
		cancel()
		<-sigCh
		logger.WarnCtx(ctx, "sceewenv: second signal received, forcing exit")
		os.Exit(1)
	}()

	eewapp.ServeMetrics(ctx, built, logger)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				printSnapshot(built)
			case <-done:
				return
			}
		}
	}()

	runErr := built.Dispatcher.Run(ctx)
	close(done)
	printSnapshot(built)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(os.Stderr, "sceewenv:", runErr)
		return 1
	}
	return 0
}

func printSnapshot(built *eewapp.Built) {
	snap := map[string]any{
		"sent_at": time.Now().UTC().Format(time.RFC3339),
		"bus_sent":    built.Bus.Sent(),
		"bus_dropped": built.Bus.Dropped(),
	}
	b, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Fprintf(os.Stderr, "=== SNAPSHOT ===\n%s\n", string(b))
}
