package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/outline"
	"github.com/ppiankov/provenant/internal/pillars"
	"github.com/ppiankov/provenant/internal/pipeline"
)

var (
	runTimeout  time.Duration
	llmProvider string
	llmModel    string
	workers     int
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a run and drive it to completion in-process",
	Long: `Run submits a campaign run and consumes every stage queue in this process
until the run is Completed or Failed. Artifacts are written to the configured
object store; the message channel is kept in memory.

Example:
  provenant run --bundle bundle.yaml --evidence claims.json --page "Cold chain"
  provenant run --bundle bundle.json --evidence claims.json --llm-provider anthropic --llm-model claude-3-5-haiku-latest`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addSubmissionFlags(runCmd)
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 15*time.Minute, "overall run timeout")
	addLLMFlags(runCmd)
}

// addLLMFlags registers the generation overrides shared by run and serve
func addLLMFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&llmProvider, "llm-provider", "", "LLM provider (openai, anthropic, ollama, gemini)")
	cmd.Flags().StringVar(&llmModel, "llm-model", "", "LLM model name")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent deliveries and section writes")
}

// applyLLMFlags lets explicitly set flags win over file and environment
func applyLLMFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("llm-provider") {
		viper.Set("llm.provider", llmProvider)
	}
	if cmd.Flags().Changed("llm-model") {
		viper.Set("llm.model", llmModel)
	}
	if cmd.Flags().Changed("workers") {
		viper.Set("concurrency.workers", workers)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := waitTimeout(context.Background(), runTimeout)
	defer cancel()

	sub, err := readSubmission()
	if err != nil {
		return err
	}

	applyLLMFlags(cmd)
	p, cfg, cl, err := openPipeline(ctx, true, true)
	if err != nil {
		return err
	}
	defer cl.Close()

	run, err := p.Submit(ctx, *sub)
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Run:       %s\n", run.RunID)
	fmt.Fprintf(os.Stderr, "  Prefix:    %s\n", run.Prefix)
	fmt.Fprintf(os.Stderr, "  Provider:  %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Fprintf(os.Stderr, "\n")

	st, err := p.RunToCompletion(ctx, run.Prefix)
	if err != nil {
		return fmt.Errorf("run %s did not finish: %w", run.RunID, err)
	}

	printSummary(cfg, run.Prefix, st)
	if st.State == model.StageFailed {
		return fmt.Errorf("run %s failed: %s", run.RunID, st.Error.Code)
	}
	return nil
}

// printSummary reports the final state of a run and where its artifacts live
func printSummary(cfg *model.Config, prefix string, st *model.Status) {
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Run %s: %s\n", st.RunID, st.State)
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")

	if st.Error != nil {
		fmt.Fprintf(os.Stderr, "  Stage:   %s\n", st.Error.Stage)
		fmt.Fprintf(os.Stderr, "  Code:    %s\n", st.Error.Code)
		fmt.Fprintf(os.Stderr, "  Message: %s\n", st.Error.Message)
		if len(st.Error.IDs) > 0 {
			fmt.Fprintf(os.Stderr, "  IDs:     %v\n", st.Error.IDs)
		}
		fmt.Fprintf(os.Stderr, "\n")
		return
	}

	location := cfg.Store.Dir
	if cfg.Store.Backend == "sqlite" {
		location = cfg.Store.SQLitePath
	}
	fmt.Fprintf(os.Stderr, "  Store: %s (%s)\n\n", location, cfg.Store.Backend)
	for _, path := range []string{
		pillars.RegistryPath,
		pillars.ArtifactPath,
		outline.ArtifactPath,
		pipeline.SectionsPath,
		pipeline.CampaignPath,
		pipeline.CampaignMarkdownPath,
	} {
		fmt.Fprintf(os.Stderr, "  ✓ %s\n", objstore.Join(prefix, path))
	}
	fmt.Fprintf(os.Stderr, "\n")
}
