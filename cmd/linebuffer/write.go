package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/linebuffer/internal/infrastructure/config"
	"github.com/nerrad567/linebuffer/internal/infrastructure/logging"
	"github.com/nerrad567/linebuffer/internal/infrastructure/tsdb"
	"github.com/nerrad567/linebuffer/internal/ingest"
)

// maxLineSize bounds a single stdin line (1MB).
const maxLineSize = 1 << 20

// writeOptions holds the write command flags.
type writeOptions struct {
	raw         bool
	measurement string
}

func newWriteCmd(g *globalFlags) *cobra.Command {
	var opts writeOptions

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write points read from stdin, then flush",
		Long: `Reads one point per line from stdin and writes them through the buffer.

By default each line is a JSON point:
  {"measurement":"cpu","tags":{"host":"a"},"fields":{"value":1},"timestamp":1700000000000}

With --raw each line is already line protocol and is queued unchanged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := g.load(cmd.Flags())
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging, version)
			return writeFrom(cmd.Context(), cfg, log, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.raw, "raw", false, "treat input lines as line protocol")
	cmd.Flags().StringVar(&opts.measurement, "measurement", "", "measurement for JSON points that name none (default: ingest.default_measurement)")
	return cmd
}

// writeFrom queues every input line and closes the client, which flushes.
// Lines that fail to decode or encode are reported and skipped.
func writeFrom(ctx context.Context, cfg *config.Config, log *logging.Logger, opts writeOptions, in io.Reader, out io.Writer) error {
	client, release, err := openClient(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer release()

	fallback := cfg.Ingest.DefaultMeasurement
	if opts.measurement != "" {
		fallback = opts.measurement
	}

	var written, rejected int
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := writeLine(client, line, opts.raw, fallback); err != nil {
			rejected++
			log.Warn("skipping input line", "line", lineNo, "error", err)
			continue
		}
		written++
	}
	scanErr := scanner.Err()

	if err := client.Close(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("flushing %d points: %w", written, err)
	}
	if scanErr != nil {
		return fmt.Errorf("reading input: %w", scanErr)
	}

	fmt.Fprintf(out, "wrote %d points (%d rejected)\n", written, rejected)
	return nil
}

func writeLine(client *tsdb.Client, line string, raw bool, fallback string) error {
	if raw {
		return client.WriteLine(line)
	}
	p, err := ingest.Decode("", []byte(line), fallback)
	if err != nil {
		return err
	}
	return client.WritePoint(p)
}
