// Package hashing provides canonical serialization and content hashing.
//
// Every hash in the pipeline is computed over Canonicalize output so that
// semantically identical documents hash identically regardless of how they
// were constructed: object keys are sorted, arrays keep their order, and no
// insignificant whitespace is emitted.
package hashing

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/provenant/internal/model"
)

// FingerprintPrefix prefixes every semantic claim fingerprint
const FingerprintPrefix = "sha1:"

// Canonicalize serializes v with lexicographically sorted object keys.
// Structs are first marshaled with encoding/json, so their json tags apply.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalString is Canonicalize returning a string
func CanonicalString(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		return writeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical type %T", v)
	}
	return nil
}

// writeString emits a JSON string without HTML escaping
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode string: %w", err)
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

// ContentHash returns the hex sha256 digest of the canonical form of v
func ContentHash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MustContentHash is ContentHash for values known to be serializable
func MustContentHash(v any) string {
	h, err := ContentHash(v)
	if err != nil {
		panic(fmt.Sprintf("hashing: %v", err))
	}
	return h
}

// semanticFields is the fixed subset of a claim that carries its meaning
type semanticFields struct {
	ClaimID    string   `json:"claim_id"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	URL        string   `json:"url"`
	SourceType string   `json:"source_type"`
	Tier       int      `json:"tier"`
	TierGroup  string   `json:"tier_group"`
	Value      *float64 `json:"value"`
	Units      string   `json:"units"`
}

// SemanticClaimFingerprint hashes only the identity and meaning-bearing fields of a claim.
// Ingestion metadata such as timestamps never affects the result.
func SemanticClaimFingerprint(c model.Claim) string {
	b, err := Canonicalize(semanticFields{
		ClaimID:    c.ClaimID,
		Title:      c.Title,
		Summary:    c.Summary,
		URL:        c.URL,
		SourceType: c.SourceType,
		Tier:       c.Tier,
		TierGroup:  c.TierGroup,
		Value:      c.Value,
		Units:      c.Units,
	})
	if err != nil {
		// Only strings, ints and a finite float are involved.
		panic(fmt.Sprintf("hashing: fingerprint: %v", err))
	}
	sum := sha1.Sum(b)
	return FingerprintPrefix + hex.EncodeToString(sum[:])
}

// EvidenceHash hashes an evidence snapshot independent of claim order
func EvidenceHash(claims []model.Claim) (string, error) {
	sorted := append([]model.Claim(nil), claims...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ClaimID < sorted[j].ClaimID })
	return ContentHash(sorted)
}

// ShortID derives a prefixed identifier from the first n hex chars of a content hash
func ShortID(prefix string, v any, n int) (string, error) {
	h, err := ContentHash(v)
	if err != nil {
		return "", err
	}
	if n > 0 && n < len(h) {
		h = h[:n]
	}
	return prefix + h, nil
}

// Normalize lowercases s and collapses runs of whitespace
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
