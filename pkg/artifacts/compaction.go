package artifacts

import (
	"fmt"
	"sort"

	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/contracts"
)

// CompactionGroup summarizes one fixed window of artifacts. The group hash
// covers the window boundaries and the sorted member hashes, so any member
// swap, drop or reorder changes the digest.
type CompactionGroup struct {
	GroupID  string `json:"group_id"`
	TenantID string `json:"tenant_id"`
	MonthKey string `json:"month_key"`

	FromArtifactID string `json:"from_artifact_id"`
	ToArtifactID   string `json:"to_artifact_id"`

	MemberCount  int      `json:"member_count"`
	MemberHashes []string `json:"member_hashes"` // sorted ascending

	GroupHash string `json:"group_hash"`
}

// groupMaterial is the digest input for a compaction group.
func groupMaterial(tenantID, monthKey, fromID, toID string, sortedHashes []string) map[string]interface{} {
	return map[string]interface{}{
		"tenant_id":        tenantID,
		"month_key":        monthKey,
		"from_artifact_id": fromID,
		"to_artifact_id":   toID,
		"member_hashes":    sortedHashes,
	}
}

// sortArtifacts orders artifacts by generation time, then id. This is the
// window order for compaction.
func sortArtifacts(arts []contracts.Artifact) []contracts.Artifact {
	out := make([]contracts.Artifact, len(arts))
	copy(out, arts)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].GeneratedAt.Before(out[j].GeneratedAt)
		}
		return out[i].ArtifactID < out[j].ArtifactID
	})
	return out
}

// CompactByWindow splits one tenant month's artifacts into consecutive
// fixed-size windows and digests each into a CompactionGroup. Windows never
// overlap; a trailing partial window is left uncompacted. windowSize must be
// greater than one.
func CompactByWindow(h canonical.Hasher, arts []contracts.Artifact, windowSize int) ([]CompactionGroup, error) {
	if h == nil {
		h = canonical.SHA256{}
	}
	if windowSize <= 1 {
		return nil, fmt.Errorf("artifacts: compaction window must be greater than 1, got %d", windowSize)
	}
	if len(arts) == 0 {
		return nil, nil
	}

	tenant, month := arts[0].TenantID, arts[0].MonthKey
	for _, a := range arts {
		if a.TenantID != tenant || a.MonthKey != month {
			return nil, fmt.Errorf("artifacts: compaction input mixes scopes: %s/%s and %s/%s", tenant, month, a.TenantID, a.MonthKey)
		}
	}

	ordered := sortArtifacts(arts)

	var groups []CompactionGroup
	for start := 0; start+windowSize <= len(ordered); start += windowSize {
		window := ordered[start : start+windowSize]

		hashes := make([]string, len(window))
		for i, a := range window {
			hashes[i] = a.Hash
		}
		sort.Strings(hashes)

		material := groupMaterial(tenant, month, window[0].ArtifactID, window[len(window)-1].ArtifactID, hashes)
		groupHash, err := h.Digest(material)
		if err != nil {
			return nil, fmt.Errorf("artifacts: digest compaction group: %w", err)
		}
		groupID, err := h.ID("cmp", material)
		if err != nil {
			return nil, fmt.Errorf("artifacts: derive compaction group id: %w", err)
		}

		groups = append(groups, CompactionGroup{
			GroupID:        groupID,
			TenantID:       tenant,
			MonthKey:       month,
			FromArtifactID: window[0].ArtifactID,
			ToArtifactID:   window[len(window)-1].ArtifactID,
			MemberCount:    len(window),
			MemberHashes:   hashes,
			GroupHash:      groupHash,
		})
	}
	return groups, nil
}

// VerifyCompaction recomputes a group from the supplied member artifacts and
// compares every field against the stored group. All discrepancies are
// collected into one *contracts.IntegrityError.
func VerifyCompaction(h canonical.Hasher, group CompactionGroup, members []contracts.Artifact) error {
	if h == nil {
		h = canonical.SHA256{}
	}
	var reasons []string

	if len(members) != group.MemberCount {
		reasons = append(reasons, fmt.Sprintf("group %s: member count %d, recorded %d", group.GroupID, len(members), group.MemberCount))
	}
	for _, a := range members {
		if a.TenantID != group.TenantID || a.MonthKey != group.MonthKey {
			reasons = append(reasons, fmt.Sprintf("group %s: member %s belongs to %s/%s", group.GroupID, a.ArtifactID, a.TenantID, a.MonthKey))
		}
	}

	if len(members) > 0 {
		ordered := sortArtifacts(members)
		if ordered[0].ArtifactID != group.FromArtifactID {
			reasons = append(reasons, fmt.Sprintf("group %s: window starts at %s, recorded %s", group.GroupID, ordered[0].ArtifactID, group.FromArtifactID))
		}
		if ordered[len(ordered)-1].ArtifactID != group.ToArtifactID {
			reasons = append(reasons, fmt.Sprintf("group %s: window ends at %s, recorded %s", group.GroupID, ordered[len(ordered)-1].ArtifactID, group.ToArtifactID))
		}

		hashes := make([]string, len(ordered))
		for i, a := range ordered {
			hashes[i] = a.Hash
		}
		sort.Strings(hashes)

		material := groupMaterial(group.TenantID, group.MonthKey, group.FromArtifactID, group.ToArtifactID, hashes)
		computed, err := h.Digest(material)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("group %s: digest recompute failed: %v", group.GroupID, err))
		} else if computed != group.GroupHash {
			reasons = append(reasons, fmt.Sprintf("group %s: group hash mismatch", group.GroupID))
		}
	}

	if len(reasons) > 0 {
		return &contracts.IntegrityError{TenantID: group.TenantID, Scope: "compaction", Reasons: reasons}
	}
	return nil
}
