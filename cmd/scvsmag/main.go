// Command scvsmag runs the same pipeline as cmd/sceewenv but additionally
// exposes the VS envelope timeline's windowed-max query over HTTP. The VS magnitude likelihood and site-correction
// computation that would consume this query is external; this binary only owns the timeline and the query surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/SED-EEW/eewamps/amp"
	"github.com/SED-EEW/eewamps/cmd/internal/eewapp"
	"github.com/SED-EEW/eewamps/telemetry/logging"
	"github.com/SED-EEW/eewamps/vsconsumer"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("scvsmag", flag.ContinueOnError)
	f := eewapp.RegisterFlags(fs)
	var queryAddr string
	fs.StringVar(&queryAddr, "query-addr", "", "Serve the VS timeline windowed-max query on this address (e.g. :9096); empty disables it")
	if err := f.Parse(fs, args); err != nil {
		fmt.Fprintln(os.Stderr, "scvsmag:", err)
		return 2
	}

	cfg, err := eewapp.LoadConfig(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scvsmag:", err)
		return 1
	}

	if f.DumpConfig {
		if err := eewapp.PrintConfig(cfg); err != nil {
			fmt.Fprintln(os.Stderr, "scvsmag:", err)
			return 1
		}
		return 0
	}

	if err := eewapp.CheckFinDerConfigReadable(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "scvsmag:", err)
		return 1
	}

	store, err := eewapp.LoadInventory(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scvsmag:", err)
		return 1
	}

	logger := logging.New(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	built, err := eewapp.Build(f, cfg, store, nil, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "scvsmag:", err)
		return 1
	}
	defer built.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.InfoCtx(ctx, "scvsmag: signal received, shutting down")
		cancel()
		<-sigCh
		logger.WarnCtx(ctx, "scvsmag: second signal received, forcing exit")
		os.Exit(1)
	}()

	eewapp.ServeMetrics(ctx, built, logger)

	if queryAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/maximum", queryHandler(built.Dispatcher.VSConsumer()))
		srv := &http.Server{Addr: queryAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		go func() {
			logger.InfoCtx(ctx, "scvsmag: query endpoint listening", "addr", queryAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.ErrorCtx(ctx, "scvsmag: query endpoint failed", "err", err)
			}
		}()
	}

	runErr := built.Dispatcher.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(os.Stderr, "scvsmag:", runErr)
		return 1
	}
	return 0
}

// queryHandler answers GET /maximum?network=..&station=..&start=..&end=..
// &pick=..&unit=acc|vel|disp, all times in RFC3339, mirroring
// vsconsumer.Consumer.Query's parameters.
func queryHandler(consumer *vsconsumer.Consumer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		id := vsconsumer.StationID{Network: q.Get("network"), Station: q.Get("station")}

		start, err1 := time.Parse(time.RFC3339, q.Get("start"))
		end, err2 := time.Parse(time.RFC3339, q.Get("end"))
		pick, err3 := time.Parse(time.RFC3339, q.Get("pick"))
		if err1 != nil || err2 != nil || err3 != nil {
			http.Error(w, "start, end, and pick must be RFC3339 timestamps", http.StatusBadRequest)
			return
		}

		unit := amp.Unit(q.Get("unit"))
		if unit == "" {
			unit = amp.UnitAcceleration
		}

		max, status := consumer.Query(id, start, end, pick, unit)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  status,
			"maximum": max,
		})
	}
}
