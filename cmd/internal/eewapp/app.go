// Package eewapp holds the CLI wiring shared by cmd/sceewenv, cmd/scfinder,
// and cmd/scvsmag: flag parsing, config/inventory loading, and
// Dispatcher construction. The three binaries differ only in which of the
// dispatcher's optional collaborators they attach — FinDer and virtual-
// seismologist magnitude estimation are conventionally driven by a
// separate process that consumes envelope messages, but since the
// messaging bus has only an in-process reference implementation in this
// module, the three binaries each build the same pipeline locally and are
// differentiated by role instead of by a real cross-process broker
// boundary (see DESIGN.md).
package eewapp

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/SED-EEW/eewamps/bus"
	"github.com/SED-EEW/eewamps/config"
	"github.com/SED-EEW/eewamps/dispatch"
	"github.com/SED-EEW/eewamps/finder"
	"github.com/SED-EEW/eewamps/inventory"
	"github.com/SED-EEW/eewamps/telemetry/logging"
	"github.com/SED-EEW/eewamps/telemetry/metrics"
	"github.com/SED-EEW/eewamps/telemetry/tracing"
	"github.com/SED-EEW/eewamps/waveform"
	"gopkg.in/yaml.v3"
)

// timeWindowLayout is the normative `-ts`/`-te` time window format.
const timeWindowLayout = "2006-01-02 15:04:05"

// Flags are the CLI options common to every binary.
type Flags struct {
	ConfigPath     string
	InventoryPath  string
	ReplayPath     string
	TsRaw          string
	TeRaw          string
	Test           bool
	Offline        bool
	DumpConfig     bool
	Dump           bool
	DumpPath       string
	Playback       bool
	BusBuffer      int
	MetricsAddr    string
	MetricsBackend string
	Trace          bool
	TraceBackend   string

	Ts, Te time.Time
}

// RegisterFlags binds fs to the normative flag set plus this reference
// module's concrete stand-ins for the out-of-scope inventory/acquisition
// collaborators.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "", "Path to YAML configuration file")
	fs.StringVar(&f.InventoryPath, "inventory", "", "Path to the JSON inventory description (required unless -dump-config)")
	fs.StringVar(&f.ReplayPath, "replay", "", "Path to a newline-delimited JSON waveform replay file (stands in for the out-of-scope acquisition transport)")
	fs.StringVar(&f.TsRaw, "ts", "", "Window start, \"YYYY-MM-DD HH:MM:SS\" UTC")
	fs.StringVar(&f.TeRaw, "te", "", "Window end, \"YYYY-MM-DD HH:MM:SS\" UTC")
	fs.BoolVar(&f.Test, "test", false, "Suppress every bus send")
	fs.BoolVar(&f.Offline, "offline", false, "Disable messaging; implies -test")
	fs.BoolVar(&f.DumpConfig, "dump-config", false, "Print the resolved configuration and exit")
	fs.BoolVar(&f.Dump, "dump", false, "Enable gain/baseline-corrected record dumping")
	fs.StringVar(&f.DumpPath, "dump-path", "", "Destination for -dump output (default: stderr)")
	fs.BoolVar(&f.Playback, "playback", false, "Use the latest record's end time as reference time instead of wall-clock")
	fs.IntVar(&f.BusBuffer, "bus-buffer", 256, "Per-subscriber bus queue depth")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "Serve metrics on this address (e.g. :9097); empty disables it (ignored when -metrics-backend=otel, which pushes instead of serving)")
	fs.StringVar(&f.MetricsBackend, "metrics-backend", "prometheus", "Metrics backend when -metrics-addr is set: \"prometheus\" or \"otel\"")
	fs.BoolVar(&f.Trace, "trace", false, "Attach per-record trace spans to logged correlation ids")
	fs.StringVar(&f.TraceBackend, "trace-backend", "internal", "Trace backend when -trace is set: \"internal\" or \"otel\"")
	return f
}

// Parse parses args into f, resolving -ts/-te and the -offline/-test
// implication. Returns a non-nil error for an invalid window or an invalid
// --ts/--te pair.
func (f *Flags) Parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if f.Offline {
		f.Test = true
	}
	var err error
	if f.Ts, err = parseWindowTime(f.TsRaw); err != nil {
		return fmt.Errorf("eewapp: invalid -ts: %w", err)
	}
	if f.Te, err = parseWindowTime(f.TeRaw); err != nil {
		return fmt.Errorf("eewapp: invalid -te: %w", err)
	}
	if !f.Ts.IsZero() && !f.Te.IsZero() && !f.Te.After(f.Ts) {
		return fmt.Errorf("eewapp: invalid time window: -te (%s) must be after -ts (%s)", f.TeRaw, f.TsRaw)
	}
	return nil
}

func parseWindowTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(timeWindowLayout, s, time.UTC)
}

// LoadConfig loads and validates the configuration named by f.ConfigPath.
// Validation (mandatory FinDer config path, non-negative durations) runs
// even for a -dump-config invocation, matching the
// fail-fast-before-wiring pattern.
func LoadConfig(f *Flags) (*config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PrintConfig renders cfg as YAML to stdout.
func PrintConfig(cfg *config.Config) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(cfg)
}

// CheckFinDerConfigReadable opens cfg.FinDerConfigPath to surface the
// "unreadable FinDer config" init-failure exit code before any pipeline
// wiring happens.
func CheckFinDerConfigReadable(cfg *config.Config) error {
	f, err := os.Open(cfg.FinDerConfigPath)
	if err != nil {
		return fmt.Errorf("eewapp: FinDer config unreadable: %w", err)
	}
	return f.Close()
}

// LoadInventory loads f.InventoryPath, surfacing the "missing inventory"
// init-failure exit code on any error.
func LoadInventory(f *Flags) (*inventory.Memory, error) {
	if f.InventoryPath == "" {
		return nil, fmt.Errorf("eewapp: -inventory is required")
	}
	return inventory.LoadFile(f.InventoryPath)
}

// buildAcquirer returns the replay-file Acquirer when -replay is set, or an
// inert EmptyAcquirer otherwise — a real deployment injects a concrete
// Acquirer at this exact seam.
func buildAcquirer(f *Flags) (waveform.Acquirer, error) {
	if f.ReplayPath == "" {
		return waveform.EmptyAcquirer{}, nil
	}
	return waveform.NewFileAcquirer(f.ReplayPath, f.Ts, f.Te)
}

// buildDumper returns a waveform.TextDumper writing to f.DumpPath (stderr
// if unset) when -dump is set, or a NopDumper otherwise.
func buildDumper(f *Flags) (waveform.Dumper, func() error, error) {
	if !f.Dump {
		return waveform.NopDumper{}, func() error { return nil }, nil
	}
	if f.DumpPath == "" {
		return waveform.NewTextDumper(os.Stderr), func() error { return nil }, nil
	}
	out, err := os.Create(f.DumpPath)
	if err != nil {
		return nil, nil, fmt.Errorf("eewapp: open dump file: %w", err)
	}
	return waveform.NewTextDumper(out), out.Close, nil
}

// Built bundles every collaborator Run needs plus what each binary's role
// wants to report or expose (the VS query surface, the bus instance for
// Sent/Dropped reporting, the metrics HTTP server to shut down on exit).
type Built struct {
	Dispatcher    *dispatch.Dispatcher
	Bus           *bus.Channel
	Config        *config.Config
	Close         func() error
	MetricsServer *http.Server // nil when -metrics-addr is unset
}

// Build wires a Dispatcher from f and cfg. algorithm is nil for the roles
// that don't drive FinDer (sceewenv's ingestion role, scvsmag); logger may
// be nil.
func Build(f *Flags, cfg *config.Config, store *inventory.Memory, algorithm finder.Algorithm, logger logging.Logger) (*Built, error) {
	acquirer, err := buildAcquirer(f)
	if err != nil {
		return nil, err
	}
	dumper, closeDumper, err := buildDumper(f)
	if err != nil {
		return nil, err
	}

	b := bus.NewChannel(f.BusBuffer)

	metricsProvider, metricsServer := buildMetrics(f)
	tracer := buildTracer(f)

	d, err := dispatch.New(cfg, dispatch.Deps{
		Store:           store,
		Acquirer:        acquirer,
		Bus:             b,
		Logger:          logger,
		Dumper:          dumper,
		FinDerAlgorithm: algorithm,
		Metrics:         metricsProvider,
		Tracer:          tracer,
		Test:            f.Test,
		Playback:        f.Playback,
	})
	if err != nil {
		closeDumper()
		return nil, err
	}

	return &Built{Dispatcher: d, Bus: b, Config: cfg, Close: closeDumper, MetricsServer: metricsServer}, nil
}

// buildMetrics returns the configured Provider and, for the "prometheus"
// backend, its bound (not yet listening) HTTP server. The "otel" backend
// exports through its own SDK pipeline rather than a pull endpoint, so it
// never returns a server even when -metrics-addr is set; -metrics-addr
// unset disables metrics entirely regardless of -metrics-backend. The
// caller starts/stops any returned server alongside the dispatcher's run
// loop.
func buildMetrics(f *Flags) (metrics.Provider, *http.Server) {
	if f.MetricsAddr == "" {
		return metrics.NewNoopProvider(), nil
	}
	if f.MetricsBackend == "otel" {
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{ServiceName: "eewamps"}), nil
	}
	provider := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	mux := http.NewServeMux()
	mux.Handle("/metrics", provider.MetricsHandler())
	return provider, &http.Server{Addr: f.MetricsAddr, Handler: mux}
}

// buildTracer returns the configured Tracer, or a noop when -trace is
// unset.
func buildTracer(f *Flags) tracing.Tracer {
	if !f.Trace {
		return tracing.NewNoopTracer()
	}
	if f.TraceBackend == "otel" {
		return tracing.NewOtelTracer("eewamps")
	}
	return tracing.NewTracer()
}

// ServeMetrics starts built.MetricsServer (a no-op if -metrics-addr was
// never set) and shuts it down when ctx is cancelled, logging failures of
// either through logger.
func ServeMetrics(ctx context.Context, built *Built, logger logging.Logger) {
	if built.MetricsServer == nil {
		return
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = built.MetricsServer.Shutdown(shutdownCtx)
	}()
	go func() {
		if logger != nil {
			logger.InfoCtx(ctx, "metrics endpoint listening", "addr", built.MetricsServer.Addr)
		}
		if err := built.MetricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed && logger != nil {
			logger.ErrorCtx(ctx, "metrics endpoint failed", "err", err)
		}
	}()
}

