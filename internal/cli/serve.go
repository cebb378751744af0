package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume the stage queues until interrupted",
	Long: `Serve runs the stage handlers and the router against the configured
message channel and object store. Each queue gets its own consumer; messages
are leased, redelivered after the lease expires and dropped into a
stage_retries_exhausted failure once the attempt limit is reached.

Runs enqueued by 'provenant submit' are picked up here.

Example:
  provenant serve
  provenant serve --workers 8 --llm-provider gemini --llm-model gemini-2.0-flash`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addLLMFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	applyLLMFlags(cmd)
	p, cfg, cl, err := openPipeline(ctx, false, true)
	if err != nil {
		return err
	}
	defer cl.Close()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Provenant %s\n", version)
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Store:     %s\n", cfg.Store.Backend)
	fmt.Fprintf(os.Stderr, "  Queue:     %s (%s)\n", cfg.Queue.Backend, cfg.Queue.SQLitePath)
	fmt.Fprintf(os.Stderr, "  Workers:   %d\n", cfg.Concurrency.Workers)
	fmt.Fprintf(os.Stderr, "  Provider:  %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	if backlog, err := p.Backlog(ctx); err != nil {
		logger.Warn("queue backlog unavailable", zap.Error(err))
	} else if len(backlog) > 0 {
		names := make([]string, 0, len(backlog))
		for name := range backlog {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(os.Stderr, "  Backlog:  ")
		for _, name := range names {
			fmt.Fprintf(os.Stderr, " %s=%d", name, backlog[name])
		}
		fmt.Fprintf(os.Stderr, "\n")
	}
	fmt.Fprintf(os.Stderr, "\n")

	if err := p.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve failed: %w", err)
	}
	logger.Info("stopped", zap.Error(context.Cause(ctx)))
	return nil
}
