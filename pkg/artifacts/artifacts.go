// Package artifacts mints, audits and compacts the content-addressed
// governance records the brain produces.
//
// An artifact's hash is the SHA-256 digest of its canonical payload, exactly
// 64 lowercase hex characters. Downstream verifiers and the export format
// depend on that shape, so it is enforced at every boundary. Artifacts group
// by tenant and calendar month; an audit period is complete only when every
// required artifact type is present at least once.
package artifacts

import (
	"fmt"
	"time"

	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/contracts"
)

// Minter builds artifacts with deterministic identifiers. Minting the same
// payload for the same tenant, month and type always yields the same
// artifact id, so re-runs are idempotent.
type Minter struct {
	hasher canonical.Hasher
}

// NewMinter returns a Minter using the production digest scheme.
func NewMinter() *Minter {
	return &Minter{hasher: canonical.SHA256{}}
}

// WithHasher overrides the digest scheme. Returns the minter for chaining.
func (m *Minter) WithHasher(h canonical.Hasher) *Minter {
	m.hasher = h
	return m
}

// Mint builds an artifact from a payload. generatedAt is caller-supplied and
// determines the month key; parentID links derived artifacts for lineage and
// may be empty.
func (m *Minter) Mint(tenantID string, typ contracts.ArtifactType, generatedAt time.Time, payload map[string]interface{}, parentID string) (contracts.Artifact, error) {
	if tenantID == "" {
		return contracts.Artifact{}, fmt.Errorf("artifacts: tenant id is required")
	}
	if !typ.Valid() {
		return contracts.Artifact{}, fmt.Errorf("artifacts: unknown artifact type %q", typ)
	}
	if generatedAt.IsZero() {
		return contracts.Artifact{}, fmt.Errorf("artifacts: generated_at is required")
	}

	generatedAt = generatedAt.UTC()
	monthKey := contracts.MonthKeyOf(generatedAt)

	hash, err := m.hasher.Digest(payload)
	if err != nil {
		return contracts.Artifact{}, fmt.Errorf("artifacts: digest payload: %w", err)
	}
	id, err := m.hasher.ID("art", map[string]interface{}{
		"tenant_id":    tenantID,
		"month_key":    monthKey,
		"type":         string(typ),
		"content_hash": hash,
	})
	if err != nil {
		return contracts.Artifact{}, fmt.Errorf("artifacts: derive artifact id: %w", err)
	}

	return contracts.Artifact{
		ArtifactID:       id,
		TenantID:         tenantID,
		MonthKey:         monthKey,
		Type:             typ,
		GeneratedAt:      generatedAt,
		Hash:             hash,
		SchemaVersion:    contracts.SchemaVersionCurrent,
		ParentArtifactID: parentID,
		Payload:          payload,
	}, nil
}

// VerifyArtifact recomputes the payload digest and checks the wire shape of
// the carried hash. Returns an *contracts.IntegrityError on mismatch.
func VerifyArtifact(h canonical.Hasher, art contracts.Artifact) error {
	if h == nil {
		h = canonical.SHA256{}
	}
	var reasons []string
	if !canonical.ValidHexDigest(art.Hash) {
		reasons = append(reasons, fmt.Sprintf("artifact %s: hash %q is not 64 lowercase hex", art.ArtifactID, art.Hash))
	}
	computed, err := h.Digest(art.Payload)
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("artifact %s: digest recompute failed: %v", art.ArtifactID, err))
	} else if computed != art.Hash {
		reasons = append(reasons, fmt.Sprintf("artifact %s: payload digest mismatch", art.ArtifactID))
	}
	if len(reasons) > 0 {
		return &contracts.IntegrityError{TenantID: art.TenantID, Scope: "artifact", Reasons: reasons}
	}
	return nil
}

// PeriodAudit reports whether one tenant month carries a complete, well
// formed artifact set.
type PeriodAudit struct {
	TenantID string `json:"tenant_id"`
	MonthKey string `json:"month_key"`
	Complete bool   `json:"complete"`

	CountsByType map[string]int `json:"counts_by_type"`

	// MissingTypes lists required artifact types with no artifact this period.
	MissingTypes []contracts.ArtifactType `json:"missing_types,omitempty"`

	// MalformedHashes lists artifact ids whose hash violates the wire shape.
	MalformedHashes []string `json:"malformed_hashes,omitempty"`
}

// AuditPeriod checks the artifact set for tenantID and monthKey. Artifacts
// outside that scope are ignored, not flagged; callers audit one period at a
// time.
func AuditPeriod(tenantID, monthKey string, arts []contracts.Artifact) PeriodAudit {
	audit := PeriodAudit{
		TenantID:     tenantID,
		MonthKey:     monthKey,
		CountsByType: make(map[string]int),
	}

	for _, a := range arts {
		if a.TenantID != tenantID || a.MonthKey != monthKey {
			continue
		}
		audit.CountsByType[string(a.Type)]++
		if !canonical.ValidHexDigest(a.Hash) {
			audit.MalformedHashes = append(audit.MalformedHashes, a.ArtifactID)
		}
	}

	for _, required := range contracts.ArtifactTypes() {
		if audit.CountsByType[string(required)] == 0 {
			audit.MissingTypes = append(audit.MissingTypes, required)
		}
	}

	audit.Complete = len(audit.MissingTypes) == 0 && len(audit.MalformedHashes) == 0
	return audit
}
