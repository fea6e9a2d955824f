package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/linebuffer/internal/infrastructure/config"
	"github.com/nerrad567/linebuffer/internal/infrastructure/logging"
)

// queryOptions holds the query command flags.
type queryOptions struct {
	start string
	end   string
	step  time.Duration
}

func newQueryCmd(g *globalFlags) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <expr>",
		Short: "Run a query and print the JSON result",
		Long: `Runs an instant query, or a range query when --start is given.

Times are RFC3339. The result's "data" object is printed as JSON.`,
		Example: `  linebuffer query 'up'
  linebuffer query 'rate(cpu_value[5m])' --start 2024-01-01T00:00:00Z --step 1m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load(cmd.Flags())
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging, version)
			return runQuery(cmd.Context(), cfg, log, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.start, "start", "", "range start (RFC3339); enables a range query")
	cmd.Flags().StringVar(&opts.end, "end", "", "range end (RFC3339, default: now)")
	cmd.Flags().DurationVar(&opts.step, "step", time.Minute, "range query resolution")
	return cmd
}

func runQuery(ctx context.Context, cfg *config.Config, log *logging.Logger, expr string, opts queryOptions, out io.Writer) error {
	client, release, err := openClient(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close(ctx)
		release()
	}()

	var data any
	if opts.start == "" {
		res, err := client.Query(ctx, expr)
		if err != nil {
			return err
		}
		data = res.Data
	} else {
		start, end, err := parseRange(opts.start, opts.end, time.Now())
		if err != nil {
			return err
		}
		res, err := client.QueryRange(ctx, expr, start, end, opts.step)
		if err != nil {
			return err
		}
		data = res.Data
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// parseRange parses the --start/--end flags. An empty end means now.
func parseRange(startStr, endStr string, now time.Time) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
	}
	end := now
	if endStr != "" {
		end, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--end %s is before --start %s", endStr, startStr)
	}
	return start, end, nil
}
