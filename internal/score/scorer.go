package score

import (
	"fmt"
	"math"

	"github.com/ppiankov/provenant/internal/model"
)

// Scorer calculates the support index of an assembled campaign
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Calculate scores a campaign from its sections and its evidence log.
// The log holds only allowed claims that some section cites.
func (s *Scorer) Calculate(sections []model.Section, log []model.InventoryItem) model.Support {
	var signals []model.Signal

	// 1. Citation coverage (0-50 points)
	coverageScore, coverageSignal, uncited := s.calculateCoverage(sections, log)
	signals = append(signals, coverageSignal)

	// 2. Authority distribution (0-30 points)
	authorityScore, authoritySignal := s.calculateAuthority(log)
	signals = append(signals, authoritySignal)

	// 3. Evidence breadth (0-20 points)
	breadthScore, breadthSignal := s.calculateBreadth(sections, log)
	signals = append(signals, breadthSignal)

	if len(uncited) > 0 {
		signals = append(signals, model.Signal{
			Type:        model.SignalUncitedSections,
			Severity:    model.SeverityInfo,
			Description: fmt.Sprintf("%d section(s) carry framing only", len(uncited)),
			Data:        map[string]any{"sections": uncited},
		})
	}

	total := coverageScore + authorityScore + breadthScore
	return model.Support{
		Index:      total,
		Confidence: s.determineConfidence(total, len(log)),
		Signals:    signals,
	}
}

// calculateCoverage scores the share of sections citing at least one logged claim
func (s *Scorer) calculateCoverage(sections []model.Section, log []model.InventoryItem) (int, model.Signal, []string) {
	if len(sections) == 0 {
		return 0, model.Signal{
			Type:        model.SignalCitationCoverage,
			Severity:    model.SeverityCritical,
			Description: "No sections generated",
			Data:        map[string]any{"sections": 0},
		}, nil
	}

	logged := make(map[string]bool, len(log))
	for _, item := range log {
		logged[item.ClaimID] = true
	}

	cited := 0
	var uncited []string
	for _, sec := range sections {
		backed := false
		for _, id := range sec.ClaimIDs {
			if logged[id] {
				backed = true
				break
			}
		}
		if backed {
			cited++
		} else {
			uncited = append(uncited, sec.Name)
		}
	}

	ratio := float64(cited) / float64(len(sections))
	score := int(ratio * 50)

	severity := model.SeverityInfo
	if ratio < 0.5 {
		severity = model.SeverityCritical
	} else if ratio < 0.8 {
		severity = model.SeverityWarning
	}

	return score, model.Signal{
		Type:        model.SignalCitationCoverage,
		Severity:    severity,
		Description: fmt.Sprintf("Cited sections: %d/%d (%.0f%%)", cited, len(sections), ratio*100),
		Data: map[string]any{
			"cited":    cited,
			"sections": len(sections),
			"ratio":    ratio,
			"score":    score,
			"formula":  "(cited_sections / sections) * 50",
		},
	}, uncited
}

// calculateAuthority scores the tier mix of the cited claims (0-30 points)
func (s *Scorer) calculateAuthority(log []model.InventoryItem) (int, model.Signal) {
	if len(log) == 0 {
		return 0, model.Signal{
			Type:        model.SignalAuthorityDistribution,
			Severity:    model.SeverityWarning,
			Description: "No claims cited",
			Data:        map[string]any{"cited": 0},
		}
	}

	primary, secondary, tertiary := 0, 0, 0
	for _, item := range log {
		switch weight(item) {
		case 3:
			primary++
		case 2:
			secondary++
		default:
			tertiary++
		}
	}

	weightedSum := float64(primary*3 + secondary*2 + tertiary)
	maxPossible := float64(len(log) * 3)
	score := int((weightedSum / maxPossible) * 30)

	severity := model.SeverityInfo
	if primary == 0 {
		severity = model.SeverityWarning
	}

	return score, model.Signal{
		Type:        model.SignalAuthorityDistribution,
		Severity:    severity,
		Description: fmt.Sprintf("Authority distribution: %d primary, %d secondary, %d tertiary", primary, secondary, tertiary),
		Data: map[string]any{
			"primary":   primary,
			"secondary": secondary,
			"tertiary":  tertiary,
			"total":     len(log),
			"score":     score,
			"formula":   "(primary*3 + secondary*2 + tertiary*1) / (total*3) * 30",
		},
	}
}

// weight maps a claim's tier to 3 (primary), 2 (secondary) or 1. The numeric
// tier wins; tier_group is used when no tier was recorded.
func weight(item model.InventoryItem) int {
	switch {
	case item.Tier == 1:
		return 3
	case item.Tier == 2:
		return 2
	case item.Tier > 2:
		return 1
	}
	switch item.TierGroup {
	case "primary":
		return 3
	case "secondary":
		return 2
	default:
		return 1
	}
}

// calculateBreadth scores distinct cited claims per section (0-20 points)
func (s *Scorer) calculateBreadth(sections []model.Section, log []model.InventoryItem) (int, model.Signal) {
	if len(sections) == 0 {
		return 0, model.Signal{
			Type:        model.SignalEvidenceBreadth,
			Severity:    model.SeverityWarning,
			Description: "No sections generated",
			Data:        map[string]any{"sections": 0},
		}
	}

	ratio := float64(len(log)) / float64(len(sections))
	score := int(math.Min(ratio*20, 20))

	severity := model.SeverityInfo
	if ratio < 0.5 {
		severity = model.SeverityWarning
	}

	return score, model.Signal{
		Type:        model.SignalEvidenceBreadth,
		Severity:    severity,
		Description: fmt.Sprintf("Distinct claims per section: %.2f", ratio),
		Data: map[string]any{
			"claims":   len(log),
			"sections": len(sections),
			"ratio":    ratio,
			"score":    score,
			"formula":  "min(distinct_claims / sections * 20, 20)",
		},
	}
}

// determineConfidence determines the confidence level based on the score
func (s *Scorer) determineConfidence(score int, cited int) string {
	if cited < 3 {
		return "low"
	}

	if score >= 80 {
		return "high"
	} else if score >= 60 {
		return "medium"
	}
	return "low"
}
