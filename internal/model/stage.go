package model

// Stage is a node of the run state machine
type Stage string

const (
	StageEvidence      Stage = "Evidence"
	StagePillarsSynth  Stage = "PillarsSynth"
	StageOutline       Stage = "Outline"
	StageSectionWrites Stage = "SectionWrites"
	StageAssemble      Stage = "Assemble"
	StageCompleted     Stage = "Completed"
	StageFailed        Stage = "Failed"
)

// stageOrder is the fixed pipeline topology
var stageOrder = []Stage{
	StageEvidence,
	StagePillarsSynth,
	StageOutline,
	StageSectionWrites,
	StageAssemble,
	StageCompleted,
}

// Next returns the stage that follows s, or false for terminal and unknown stages
func (s Stage) Next() (Stage, bool) {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// Position returns the index of s in the pipeline, or -1 for Failed and unknown stages
func (s Stage) Position() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no further transition is possible
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Valid reports whether s is a known stage
func (s Stage) Valid() bool {
	return s == StageFailed || s.Position() >= 0
}

// Stages returns the non-terminal working stages in order
func Stages() []Stage {
	return append([]Stage(nil), stageOrder[:len(stageOrder)-1]...)
}

// Marker names shared by stages and the router
const (
	MarkerEvidenceDone  = "evidenceDone"
	MarkerPillarsDone   = "pillarsDone"
	MarkerPillarsLocked = "pillarsLocked"
	MarkerOutlineDone   = "outlineDone"
	MarkerSectionsDone  = "sectionsDone"
	MarkerAssembleDone  = "assembleDone"

	MarkerRegistryHash       = "registryHash"
	MarkerRegistryWarnings   = "registryWarnings"
	MarkerEvidenceHash       = "evidenceHash"
	MarkerSourceHash         = "sourceHash"
	MarkerPillarsHash        = "pillarsHash"
	MarkerOutlineHash        = "outlineHash"
	MarkerOutlinePillarsHash = "outlinePillarsHash"
	MarkerAllowedClaims      = "allowedClaims"
	MarkerVisibleClaims      = "visibleClaims"
	MarkerSectionsHash       = "sectionsHash"
	MarkerCampaignHash       = "campaignHash"
	MarkerEvidenceWarnings   = "evidenceWarnings"
	MarkerSupportIndex       = "supportIndex"
)

// RegeneratedMarker is the marker holding the content hash of the latest
// regeneration of section
func RegeneratedMarker(section string) string {
	return "regenerated_" + section
}

// DoneMarker returns the completion marker owned by the stage
func DoneMarker(s Stage) string {
	switch s {
	case StageEvidence:
		return MarkerEvidenceDone
	case StagePillarsSynth:
		return MarkerPillarsDone
	case StageOutline:
		return MarkerOutlineDone
	case StageSectionWrites:
		return MarkerSectionsDone
	case StageAssemble:
		return MarkerAssembleDone
	default:
		return ""
	}
}

// AfterSentMarker returns the handoff marker the router sets once it has sent
// the successor message for a finished stage
func AfterSentMarker(s Stage) string {
	switch s {
	case StageEvidence:
		return "afterEvidenceSent"
	case StagePillarsSynth:
		return "afterPillarsSent"
	case StageOutline:
		return "afterOutlineSent"
	case StageSectionWrites:
		return "afterSectionsSent"
	case StageAssemble:
		return "afterAssembleSent"
	default:
		return ""
	}
}
