package artifacts

import (
	"fmt"
	"sort"

	"github.com/ledgerline/cortex/pkg/contracts"
)

// LineageNode is one artifact's position in the derivation forest.
type LineageNode struct {
	ArtifactID       string   `json:"artifact_id"`
	ParentArtifactID string   `json:"parent_artifact_id,omitempty"`
	Depth            int      `json:"depth"`
	ChildIDs         []string `json:"child_ids,omitempty"`
}

// LineageForest is the full derivation structure for a set of artifacts.
// Roots are artifacts with no resolvable parent; an artifact whose parent id
// points outside the set is a root of its own tree.
type LineageForest struct {
	Roots []string                `json:"roots"`
	Nodes map[string]*LineageNode `json:"nodes"`
}

// Node returns the node for an artifact id, or nil.
func (f *LineageForest) Node(id string) *LineageNode {
	return f.Nodes[id]
}

// MaxDepth returns the deepest level in the forest, -1 when empty.
func (f *LineageForest) MaxDepth() int {
	max := -1
	for _, n := range f.Nodes {
		if n.Depth > max {
			max = n.Depth
		}
	}
	return max
}

// BuildLineage derives the forest with an iterative work list, so chain
// depth is bounded by memory, not the call stack. Duplicate artifact ids and
// parent cycles are integrity failures: a cycle means some artifact claims
// an ancestor that derives from itself, which no honest producer can emit.
func BuildLineage(arts []contracts.Artifact) (*LineageForest, error) {
	forest := &LineageForest{Nodes: make(map[string]*LineageNode, len(arts))}
	if len(arts) == 0 {
		return forest, nil
	}
	tenant := arts[0].TenantID

	var dupes []string
	for _, a := range arts {
		if _, seen := forest.Nodes[a.ArtifactID]; seen {
			dupes = append(dupes, a.ArtifactID)
			continue
		}
		forest.Nodes[a.ArtifactID] = &LineageNode{
			ArtifactID:       a.ArtifactID,
			ParentArtifactID: a.ParentArtifactID,
			Depth:            -1,
		}
	}
	if len(dupes) > 0 {
		sort.Strings(dupes)
		reasons := make([]string, len(dupes))
		for i, id := range dupes {
			reasons[i] = fmt.Sprintf("artifact id %s appears more than once", id)
		}
		return nil, &contracts.IntegrityError{TenantID: tenant, Scope: "lineage", Reasons: reasons}
	}

	// Wire children and find roots. A parent outside the set does not resolve,
	// so the child becomes a root.
	for id, node := range forest.Nodes {
		parent, ok := forest.Nodes[node.ParentArtifactID]
		if node.ParentArtifactID == "" || !ok {
			forest.Roots = append(forest.Roots, id)
			continue
		}
		parent.ChildIDs = append(parent.ChildIDs, id)
	}
	sort.Strings(forest.Roots)
	for _, node := range forest.Nodes {
		sort.Strings(node.ChildIDs)
	}

	// Level order from the roots. Depth assignment doubles as visitation.
	queue := make([]string, 0, len(forest.Roots))
	for _, id := range forest.Roots {
		forest.Nodes[id].Depth = 0
		queue = append(queue, id)
	}
	visited := len(queue)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		node := forest.Nodes[id]
		for _, childID := range node.ChildIDs {
			child := forest.Nodes[childID]
			child.Depth = node.Depth + 1
			queue = append(queue, childID)
			visited++
		}
	}

	// Anything the traversal never reached sits on a parent cycle.
	if visited != len(forest.Nodes) {
		var cyclic []string
		for id, node := range forest.Nodes {
			if node.Depth < 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		reasons := make([]string, len(cyclic))
		for i, id := range cyclic {
			reasons[i] = fmt.Sprintf("artifact %s participates in a parent cycle", id)
		}
		return nil, &contracts.IntegrityError{TenantID: tenant, Scope: "lineage", Reasons: reasons}
	}

	return forest, nil
}
