package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/pipeline"
)

var (
	fetchKind    string
	downloadOut  string
	regenSection string
	regenTone    string
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch <runId>",
	Short: "Print a stored artifact of a run",
	Long: `Fetch prints one artifact of a run to stdout.

Kinds:
  campaign   final/campaign.json (alias: json)
  evidence   the evidence log of the assembled campaign
  status     the run's status record
  markdown   final/campaign.md as assembled
  claims     the evidence snapshot the run was gated against

Example:
  provenant fetch 3f2c... --file evidence`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, _, cl, err := openPipeline(ctx, false, false)
		if err != nil {
			return err
		}
		defer cl.Close()
		return fetchRun(ctx, p, cmd.OutOrStdout(), args[0], fetchKind)
	},
}

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download <runId>",
	Short: "Export the campaign of a run as a markdown document",
	Long: `Download renders the assembled campaign with its evidence appendix into a
local markdown file. Sections regenerated after the run replace their
originals in the export.

Example:
  provenant download 3f2c... -o campaign.md`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, _, cl, err := openPipeline(ctx, false, false)
		if err != nil {
			return err
		}
		defer cl.Close()

		path, err := downloadRun(ctx, p, args[0], downloadOut)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", path)
		return nil
	},
}

// regenerateCmd represents the regenerate command
var regenerateCmd = &cobra.Command{
	Use:   "regenerate <runId>",
	Short: "Rewrite one section of a completed run",
	Long: `Regenerate rewrites one section of a completed run, optionally in another
tone. The section is written from the run's outline under the same claim
allow-list as the original; a rewrite citing anything else is refused.

The assembled campaign is not modified. The rewrite is stored next to it
and used by 'provenant download'.

Example:
  provenant regenerate 3f2c... --section emails --tone warm`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		applyLLMFlags(cmd)
		p, _, cl, err := openPipeline(ctx, false, true)
		if err != nil {
			return err
		}
		defer cl.Close()

		regen, err := p.Regenerate(ctx, args[0], regenSection, regenTone)
		if err != nil {
			return err
		}
		return printJSON(regen)
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(regenerateCmd)

	fetchCmd.Flags().StringVar(&fetchKind, "file", pipeline.ArtifactCampaign, "artifact to print: "+strings.Join(pipeline.ArtifactKinds, ", "))
	downloadCmd.Flags().StringVarP(&downloadOut, "output", "o", "", "output file (default campaign-<runId>.md)")
	regenerateCmd.Flags().StringVar(&regenSection, "section", "", "section to rewrite: "+strings.Join(model.OutlineSectionNames, ", "))
	regenerateCmd.Flags().StringVar(&regenTone, "tone", "", "tone: match, professional or warm")
	_ = regenerateCmd.MarkFlagRequired("section")
	addLLMFlags(regenerateCmd)
}

func fetchRun(ctx context.Context, p *pipeline.Pipeline, w io.Writer, runID, kind string) error {
	data, err := p.Fetch(ctx, runID, kind)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

// downloadRun writes the export of a run to out and returns the path written
func downloadRun(ctx context.Context, p *pipeline.Pipeline, runID, out string) (string, error) {
	doc, err := p.Export(ctx, runID)
	if err != nil {
		return "", err
	}
	if out == "" {
		out = "campaign-" + runID + ".md"
	}
	if err := os.WriteFile(out, []byte(doc), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	return out, nil
}
