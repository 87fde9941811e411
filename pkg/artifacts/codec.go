package artifacts

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ledgerline/cortex/pkg/contracts"
)

// DecodeArtifacts reads a JSONL artifact stream in export order.
func DecodeArtifacts(r io.Reader) ([]contracts.Artifact, error) {
	dec := json.NewDecoder(r)
	var arts []contracts.Artifact
	for dec.More() {
		var a contracts.Artifact
		if err := dec.Decode(&a); err != nil {
			return nil, fmt.Errorf("artifacts: decode artifact: %w", err)
		}
		arts = append(arts, a)
	}
	return arts, nil
}

// DecodeArtifactsFile reads a JSONL artifact export on disk.
func DecodeArtifactsFile(path string) ([]contracts.Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("artifacts: open export: %w", err)
	}
	defer f.Close()
	return DecodeArtifacts(f)
}

// EncodeArtifacts writes artifacts as JSONL in the given order.
func EncodeArtifacts(w io.Writer, arts []contracts.Artifact) error {
	enc := json.NewEncoder(w)
	for _, a := range arts {
		if err := enc.Encode(a); err != nil {
			return fmt.Errorf("artifacts: encode artifact %s: %w", a.ArtifactID, err)
		}
	}
	return nil
}
