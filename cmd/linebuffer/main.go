// linebuffer - buffered line protocol writer for time-series databases
//
// linebuffer accepts measurement points, queues them in memory and writes
// them to a TSDB in batches. It can run as an agent that ingests points
// from MQTT, or as a one-shot tool for writing and querying.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nerrad567/linebuffer/internal/infrastructure/config"
	"github.com/nerrad567/linebuffer/internal/infrastructure/influxdb"
	"github.com/nerrad567/linebuffer/internal/infrastructure/logging"
	"github.com/nerrad567/linebuffer/internal/infrastructure/tsdb"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	url        string
	token      string
}

// newRootCmd builds the command tree. Separated from main for testability.
func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "linebuffer",
		Short:         "Buffered line protocol writer for time-series databases",
		Version:       fmt.Sprintf("%s (%s, %s) %s/%s", version, commit, date, runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "",
		fmt.Sprintf("path to config file (default: $LINEBUFFER_CONFIG or %s)", defaultConfigPath))
	root.PersistentFlags().StringVar(&g.url, "url", "", "TSDB base URL (overrides tsdb.url)")
	root.PersistentFlags().StringVar(&g.token, "token", "", "TSDB bearer token (overrides tsdb.token)")

	root.AddCommand(
		newRunCmd(g),
		newWriteCmd(g),
		newQueryCmd(g),
	)
	return root
}

// load loads the config and applies the flags the user actually set.
// Precedence: defaults, file, environment, flags.
//
// flags may be nil, in which case no flag overrides are applied.
func (g *globalFlags) load(flags *pflag.FlagSet) (*config.Config, string, error) {
	cfg, path, err := loadConfig(g.configPath)
	if err != nil {
		return nil, "", err
	}
	if flags == nil {
		return cfg, path, nil
	}

	changed := false
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "url":
			cfg.TSDB.URL = g.url
			changed = true
		case "token":
			cfg.TSDB.Token = g.token
			changed = true
		}
	})
	if changed {
		if err := cfg.Validate(); err != nil {
			return nil, "", fmt.Errorf("validating flags: %w", err)
		}
	}
	return cfg, path, nil
}

// loadConfig resolves the config path and loads it.
//
// An explicit --config or LINEBUFFER_CONFIG must exist. The default path is
// optional: without it the built-in defaults (plus environment) are used.
//
// Returns:
//   - *config.Config: Validated configuration
//   - string: Path the config came from, or "" for built-in defaults
//   - error: If the file cannot be loaded or the config is invalid
func loadConfig(flagPath string) (*config.Config, string, error) {
	path, explicit := getConfigPath(flagPath)

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}

	cfg = config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("validating config: %w", err)
	}
	return cfg, "", nil
}

// getConfigPath returns the configuration file path and whether it was
// chosen explicitly. The flag wins over LINEBUFFER_CONFIG.
func getConfigPath(flagPath string) (string, bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if path := os.Getenv("LINEBUFFER_CONFIG"); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// openClient builds the buffered TSDB client for the configured backend.
//
// With verify set the TSDB must answer a health check (or ping, for
// influxdb2) before the client is returned. Failed flushes are logged by
// the client itself.
//
// Returns:
//   - *tsdb.Client: Running client; Close it to flush
//   - func(): Releases backend resources; call after the client is closed
//   - error: If the backend cannot be created or is unreachable
func openClient(ctx context.Context, cfg *config.Config, log *logging.Logger, verify bool) (*tsdb.Client, func(), error) {
	hc := &http.Client{Timeout: cfg.TSDB.RequestTimeout}
	opts := []tsdb.Option{
		tsdb.WithHTTPClient(hc),
		tsdb.WithLogger(log),
	}
	release := func() {}

	if cfg.TSDB.Backend == config.BackendInfluxDB2 {
		var sender *influxdb.Sender
		var err error
		if verify {
			sender, err = influxdb.Connect(ctx, cfg.TSDB, hc)
		} else {
			sender, err = influxdb.NewSender(cfg.TSDB, hc)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		opts = append(opts, tsdb.WithSender(sender))
		release = sender.Close
		verify = false
	}

	var client *tsdb.Client
	var err error
	if verify {
		client, err = tsdb.Connect(ctx, cfg.TSDB, opts...)
	} else {
		client, err = tsdb.New(cfg.TSDB, opts...)
	}
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("creating TSDB client: %w", err)
	}

	return client, release, nil
}
