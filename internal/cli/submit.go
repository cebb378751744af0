package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/pipeline"
	"github.com/ppiankov/provenant/internal/provenance"
)

var (
	bundlePath   string
	evidencePath string
	csvPath      string
	page         string
	company      string
	supplier     string
	industry     string
	runID        string
	rowCount     int
	filters      []string
)

// submitCmd represents the submit command
var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new campaign run",
	Long: `Submit stores the run inputs under a new run prefix, creates the run's
status record in the Evidence state and enqueues the Evidence stage.
A separate 'provenant serve' process picks the run up.

The source bundle may be JSON, YAML or an HTML page whose <h2> headings
name categories and whose list items are the category's items.

Example:
  provenant submit --bundle bundle.yaml --evidence claims.json --page "Cold chain"
  provenant submit --bundle page.html --evidence claims.json --filter region=eu`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	addSubmissionFlags(submitCmd)
}

// addSubmissionFlags registers the run input flags shared by submit and run
func addSubmissionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "source bundle path (.json, .yaml, .html)")
	cmd.Flags().StringVar(&evidencePath, "evidence", "", "evidence store claims path (JSON)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "input CSV path, recorded by digest only")
	cmd.Flags().StringVar(&page, "page", "", "page name used in the run prefix")
	cmd.Flags().StringVar(&company, "company", "", "company the campaign is written for")
	cmd.Flags().StringVar(&supplier, "supplier", "", "supplier name (defaults to the bundle's)")
	cmd.Flags().StringVar(&industry, "industry", "", "industry (defaults to the bundle's)")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (generated when empty)")
	cmd.Flags().IntVar(&rowCount, "rows", 0, "row count of the input CSV")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "input filter as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("bundle")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sub, err := readSubmission()
	if err != nil {
		return err
	}

	p, _, cl, err := openPipeline(ctx, false, false)
	if err != nil {
		return err
	}
	defer cl.Close()

	run, err := p.Submit(ctx, *sub)
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}
	return printJSON(run)
}

// readSubmission loads the files named by the submission flags
func readSubmission() (*pipeline.Submission, error) {
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	bundle, err := provenance.ParseBundle(data, provenance.FormatFromPath(bundlePath))
	if err != nil {
		return nil, err
	}

	sub := &pipeline.Submission{
		RunID:    runID,
		Page:     page,
		Company:  company,
		Supplier: supplier,
		Industry: industry,
		RowCount: rowCount,
		Bundle:   bundle,
	}

	if evidencePath != "" {
		data, err := os.ReadFile(evidencePath)
		if err != nil {
			return nil, fmt.Errorf("read evidence: %w", err)
		}
		var evidence model.EvidenceSet
		if err := json.Unmarshal(data, &evidence); err != nil {
			return nil, fmt.Errorf("parse evidence: %w", err)
		}
		if evidence.Schema == "" {
			evidence.Schema = model.EvidenceSchema
		}
		sub.Evidence = &evidence
	}

	if csvPath != "" {
		if sub.CSV, err = os.ReadFile(csvPath); err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
	}

	if len(filters) > 0 {
		sub.Filters = make(map[string]any, len(filters))
		for _, f := range filters {
			key, value, ok := strings.Cut(f, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("invalid filter %q (want key=value)", f)
			}
			sub.Filters[strings.TrimSpace(key)] = value
		}
	}
	return sub, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
