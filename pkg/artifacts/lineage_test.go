package artifacts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ledgerline/cortex/pkg/contracts"
)

// lineageArtifact builds a bare artifact for lineage tests; only identity
// and parent matter here.
func lineageArtifact(id, parent string) contracts.Artifact {
	return contracts.Artifact{
		ArtifactID:       id,
		TenantID:         "t1",
		MonthKey:         "2026-03",
		Type:             contracts.ArtifactDecision,
		ParentArtifactID: parent,
	}
}

func TestBuildLineageForest(t *testing.T) {
	// Two trees: a -> b -> d, a -> c, and lone root e.
	arts := []contracts.Artifact{
		lineageArtifact("a", ""),
		lineageArtifact("b", "a"),
		lineageArtifact("c", "a"),
		lineageArtifact("d", "b"),
		lineageArtifact("e", ""),
	}

	forest, err := BuildLineage(arts)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if len(forest.Roots) != 2 || forest.Roots[0] != "a" || forest.Roots[1] != "e" {
		t.Fatalf("roots %v, want [a e]", forest.Roots)
	}
	depths := map[string]int{"a": 0, "b": 1, "c": 1, "d": 2, "e": 0}
	for id, want := range depths {
		if got := forest.Node(id).Depth; got != want {
			t.Errorf("depth of %s = %d, want %d", id, got, want)
		}
	}
	if forest.MaxDepth() != 2 {
		t.Errorf("max depth %d, want 2", forest.MaxDepth())
	}
	if kids := forest.Node("a").ChildIDs; len(kids) != 2 || kids[0] != "b" || kids[1] != "c" {
		t.Errorf("children of a: %v", kids)
	}
}

func TestBuildLineageUnresolvableParentIsRoot(t *testing.T) {
	arts := []contracts.Artifact{
		lineageArtifact("x", "vanished"),
		lineageArtifact("y", "x"),
	}

	forest, err := BuildLineage(arts)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(forest.Roots) != 1 || forest.Roots[0] != "x" {
		t.Fatalf("roots %v, want [x]", forest.Roots)
	}
	if forest.Node("y").Depth != 1 {
		t.Errorf("depth of y = %d, want 1", forest.Node("y").Depth)
	}
}

func TestBuildLineageDeepChain(t *testing.T) {
	// A chain deep enough to blow a recursive traversal's stack.
	const depth = 200000
	arts := make([]contracts.Artifact, depth)
	for i := 0; i < depth; i++ {
		parent := ""
		if i > 0 {
			parent = fmt.Sprintf("n%d", i-1)
		}
		arts[i] = lineageArtifact(fmt.Sprintf("n%d", i), parent)
	}

	forest, err := BuildLineage(arts)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if forest.MaxDepth() != depth-1 {
		t.Errorf("max depth %d, want %d", forest.MaxDepth(), depth-1)
	}
}

func TestBuildLineageRejectsCycle(t *testing.T) {
	arts := []contracts.Artifact{
		lineageArtifact("root", ""),
		lineageArtifact("p", "q"),
		lineageArtifact("q", "p"),
	}

	_, err := BuildLineage(arts)
	var integrity *contracts.IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("cycle not rejected: %v", err)
	}
	if integrity.Scope != "lineage" {
		t.Errorf("scope %q", integrity.Scope)
	}
	if len(integrity.Reasons) != 2 {
		t.Errorf("expected both cycle members reported, got %v", integrity.Reasons)
	}
}

func TestBuildLineageRejectsDuplicateIDs(t *testing.T) {
	arts := []contracts.Artifact{
		lineageArtifact("dup", ""),
		lineageArtifact("dup", ""),
	}
	_, err := BuildLineage(arts)
	var integrity *contracts.IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("duplicate ids not rejected: %v", err)
	}
}

func TestBuildLineageEmpty(t *testing.T) {
	forest, err := BuildLineage(nil)
	if err != nil {
		t.Fatalf("empty build failed: %v", err)
	}
	if len(forest.Nodes) != 0 || forest.MaxDepth() != -1 {
		t.Error("empty forest malformed")
	}
}
