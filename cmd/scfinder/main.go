// Command scfinder runs the same pipeline as cmd/sceewenv but additionally
// drives the FinDer PGA ring and scan/process loop,
// printing every origin+magnitude+strong-motion bundle the driver emits.
// The real FinDer line-source estimator is external; this binary wires finder.NoopAlgorithm, a module stand-in
// that exercises the full driver without ever fabricating a detection.
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

	"github.com/SED-EEW/eewamps/bus"
	"github.com/SED-EEW/eewamps/cmd/internal/eewapp"
	"github.com/SED-EEW/eewamps/finder"
	"github.com/SED-EEW/eewamps/telemetry/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("scfinder", flag.ContinueOnError)
	f := eewapp.RegisterFlags(fs)
	if err := f.Parse(fs, args); err != nil {
		fmt.Fprintln(os.Stderr, "scfinder:", err)
		return 2
	}

	cfg, err := eewapp.LoadConfig(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scfinder:", err)
		return 1
	}

	if f.DumpConfig {
		if err := eewapp.PrintConfig(cfg); err != nil {
			fmt.Fprintln(os.Stderr, "scfinder:", err)
			return 1
		}
		return 0
	}

	if err := eewapp.CheckFinDerConfigReadable(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "scfinder:", err)
		return 1
	}

	store, err := eewapp.LoadInventory(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scfinder:", err)
		return 1
	}

	logger := logging.New(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	built, err := eewapp.Build(f, cfg, store, finder.NoopAlgorithm{}, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scfinder:", err)
		return 1
	}
	defer built.Close()

	originCh, err := built.Bus.Attach("origin")
	if err != nil {
		fmt.Fprintln(os.Stderr, "scfinder:", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.InfoCtx(ctx, "scfinder: signal received, shutting down")
		cancel()
		<-sigCh
		logger.WarnCtx(ctx, "scfinder: second signal received, forcing exit")
		os.Exit(1)
	}()

	eewapp.ServeMetrics(ctx, built, logger)

	go consumeOrigins(ctx, originCh)

	runErr := built.Dispatcher.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(os.Stderr, "scfinder:", runErr)
		return 1
	}
	return 0
}

// consumeOrigins prints every origin+magnitude+strong-motion bundle FinDer
// publishes, standing in for the downstream magnitude pipeline that would
// normally subscribe to this topic.
func consumeOrigins(ctx context.Context, ch <-chan bus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.MarshalIndent(msg.Payload, "", "  ")
			fmt.Fprintf(os.Stdout, "=== ORIGIN %s ===\n%s\n", msg.DeliveryID, string(b))
		}
	}
}
