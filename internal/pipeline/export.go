package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/pillars"
	"github.com/ppiankov/provenant/internal/runstate"
)

// ErrArtifactNotFound is returned when a run exists but has not written the
// requested artifact yet
var ErrArtifactNotFound = errors.New("artifact not found")

// Artifact kinds served by Fetch
const (
	ArtifactCampaign = "campaign"
	ArtifactEvidence = "evidence"
	ArtifactStatus   = "status"
	ArtifactMarkdown = "markdown"
	ArtifactClaims   = "claims"
)

// ArtifactKinds lists the kinds accepted by Fetch
var ArtifactKinds = []string{ArtifactCampaign, ArtifactEvidence, ArtifactStatus, ArtifactMarkdown, ArtifactClaims}

// Fetch returns a stored artifact of a run. "evidence" is the evidence log
// of the assembled campaign, "claims" the raw evidence snapshot.
func (p *Pipeline) Fetch(ctx context.Context, runID, kind string) ([]byte, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "json" {
		kind = ArtifactCampaign
	}
	var path string
	switch kind {
	case ArtifactCampaign, ArtifactEvidence:
		path = CampaignPath
	case ArtifactStatus:
		path = runstate.StatusFile
	case ArtifactMarkdown:
		path = CampaignMarkdownPath
	case ArtifactClaims:
		path = pillars.EvidencePath
	default:
		return nil, fmt.Errorf("unknown artifact %q (supported: %s)", kind, strings.Join(ArtifactKinds, ", "))
	}

	run, err := p.FindRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	data, err := p.objects.Get(ctx, objstore.Join(run.Prefix, path))
	if objstore.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s of run %s", ErrArtifactNotFound, path, runID)
	}
	if err != nil {
		return nil, err
	}
	if kind != ArtifactEvidence {
		return data, nil
	}

	var campaign model.Campaign
	if err := json.Unmarshal(data, &campaign); err != nil {
		return nil, fmt.Errorf("decode campaign of run %s: %w", runID, err)
	}
	return json.MarshalIndent(campaign.EvidenceLog, "", "  ")
}

// Export renders the campaign of a completed run as one markdown document.
// Sections regenerated after the run replace their originals; citations
// outside the campaign's evidence log are dropped from the rendering.
func (p *Pipeline) Export(ctx context.Context, runID string) (string, error) {
	run, err := p.FindRun(ctx, runID)
	if err != nil {
		return "", err
	}
	campaign, err := objstore.Load[model.Campaign](ctx, p.objects, objstore.Join(run.Prefix, CampaignPath))
	if objstore.IsNotFound(err) {
		return "", fmt.Errorf("%w: %s of run %s", ErrArtifactNotFound, CampaignPath, runID)
	}
	if err != nil {
		return "", err
	}

	for i, sec := range campaign.Sections {
		regen, err := objstore.Load[model.RegeneratedSection](ctx, p.objects, objstore.Join(run.Prefix, RegeneratedPath(sec.Name)))
		switch {
		case objstore.IsNotFound(err):
			continue
		case err != nil:
			return "", fmt.Errorf("read regenerated %s: %w", sec.Name, err)
		}
		if regen.Schema != model.RegeneratedSectionSchema || regen.Section.Name != sec.Name {
			p.logger.Warn("ignoring regenerated section with unexpected shape", zap.String("run_id", runID), zap.String("section", sec.Name))
			continue
		}
		campaign.Sections[i] = regen.Section
	}
	return RenderMarkdown(&campaign), nil
}
