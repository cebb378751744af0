package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/pipeline"
)

var (
	runsLimit int
	runsJSON  bool
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <runId>",
	Short: "Print the status record of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, _, cl, err := openPipeline(ctx, false, false)
		if err != nil {
			return err
		}
		defer cl.Close()

		run, err := p.FindRun(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(run)
	},
}

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, _, cl, err := openPipeline(ctx, false, false)
		if err != nil {
			return err
		}
		defer cl.Close()

		runs, err := p.Runs(ctx, runsLimit)
		if err != nil {
			return err
		}
		if runsJSON {
			return printJSON(runs)
		}
		return printRuns(runs)
	},
}

// signalCmd represents the signal command
var signalCmd = &cobra.Command{
	Use:   "signal <runId> <stage>",
	Short: "Replay the finished signal of a stage",
	Long: `Signal sends the "<stage> finished" message of a run to the router queue.
Use it to recover a run whose handoff was lost. The router only advances a run
whose current state matches the stage, so replaying a signal is harmless.

Example:
  provenant signal 3f2c... PillarsSynth`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		stage := model.Stage(args[1])
		if !stage.Valid() || stage.IsTerminal() {
			return fmt.Errorf("invalid stage %q (want one of Evidence, PillarsSynth, Outline, SectionWrites, Assemble)", args[1])
		}

		ctx := context.Background()
		p, _, cl, err := openPipeline(ctx, false, false)
		if err != nil {
			return err
		}
		defer cl.Close()

		run, err := p.Signal(ctx, args[0], stage)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Sent %s finished for run %s (state %s)\n", stage, run.RunID, run.Status.State)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(signalCmd)

	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, fmt.Sprintf("maximum runs to list (capped at %d)", pipeline.MaxListedRuns))
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print runs as JSON")
}

func printRuns(runs []pipeline.Run) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATE\tUPDATED\tERROR\tPREFIX")
	for _, r := range runs {
		updated, code := "-", "-"
		if r.Status.Updated != nil {
			updated = r.Status.Updated.Format("2006-01-02 15:04:05")
		}
		if r.Status.Error != nil {
			code = r.Status.Error.Code
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Status.State, updated, code, r.Prefix)
	}
	return w.Flush()
}
