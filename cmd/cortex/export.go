package main

import (
	"fmt"
	"os"

	"github.com/ledgerline/cortex/pkg/contracts"
	"github.com/ledgerline/cortex/pkg/ledger"
)

// decodeEventsFile reads a JSONL event export in export order.
func decodeEventsFile(path string) ([]contracts.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()
	return ledger.DecodeEvents(f)
}
