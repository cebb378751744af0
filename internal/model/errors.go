package model

import (
	"errors"
	"fmt"
	"strings"
)

// Reason codes recorded in RunError.Code
const (
	// Input contract violations
	CodeStatusMissing         = "status_missing"
	CodeSourceBundleMissing   = "source_bundle_missing"
	CodeSourceBundleInvalid   = "source_bundle_invalid"
	CodeEvidenceMissing       = "evidence_missing"
	CodeEvidenceInvalid       = "evidence_invalid"
	CodeRegistryMissing       = "registry_missing"
	CodePillarsMissing        = "pillars_missing"
	CodeSchemaMismatch        = "schema_mismatch"
	CodeMissingField          = "missing_field"
	CodePillarInvalid         = "pillar_invalid"
	CodeProofEntryInvalid     = "proof_entry_invalid"
	CodeLegacyPillarsArtifact = "legacy_pillars_artifact"
	CodeOutlineMissing        = "outline_missing"
	CodeSectionsMissing       = "sections_missing"

	// Synthesis contract
	CodeAssertableWithoutClaims = "assertable_without_claims"
	CodeNoRequiredClaims        = "no_required_claims"
	CodeRequiredClaimNotFound   = "required_claim_not_in_evidence"

	// Evidence integrity
	CodeRequiredClaimsMissing    = "required_claims_missing"
	CodeFingerprintMismatch      = "claim_fingerprint_mismatch"
	CodeVisibleSliceLeak         = "visible_slice_leak"
	CodeDisallowedClaimReference = "disallowed_claim_reference"

	// Collaborator failures
	CodeGenerationTimeout     = "generation_timeout"
	CodeGenerationMalformed   = "generation_malformed"
	CodeGenerationUnavailable = "generation_unavailable"

	// Pipeline
	CodeRetriesExhausted = "stage_retries_exhausted"
	CodeStorageError     = "storage_error"
	CodeInternalError    = "internal_error"
)

// StageError is a fail-closed stage outcome with a stable reason code.
// Permanent errors must not be retried by redelivery.
type StageError struct {
	Code      string
	Message   string
	IDs       []string
	Details   []string
	Permanent bool
	Err       error
}

func (e *StageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.IDs) > 0 {
		fmt.Fprintf(&b, " (ids: %s)", strings.Join(e.IDs, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *StageError) Unwrap() error { return e.Err }

// Failf builds a permanent StageError
func Failf(code string, format string, args ...any) *StageError {
	return &StageError{Code: code, Message: fmt.Sprintf(format, args...), Permanent: true}
}

// AsStageError extracts a StageError from err
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CapIDs returns at most n ids, preserving order
func CapIDs(ids []string, n int) []string {
	if n <= 0 || len(ids) <= n {
		return append([]string(nil), ids...)
	}
	return append([]string(nil), ids[:n]...)
}
