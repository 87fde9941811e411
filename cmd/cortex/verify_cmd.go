package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/ledgerline/cortex/pkg/artifacts"
	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/contracts"
	"github.com/ledgerline/cortex/pkg/ledger"
)

// verifyReport is the structured outcome of one verification run.
type verifyReport struct {
	EventsFile    string `json:"events_file"`
	EventCount    int    `json:"event_count"`
	ChainVerified bool   `json:"chain_verified"`
	HeadEventID   string `json:"head_event_id,omitempty"`

	ArtifactsFile     string `json:"artifacts_file,omitempty"`
	ArtifactCount     int    `json:"artifact_count,omitempty"`
	ArtifactsVerified bool   `json:"artifacts_verified"`

	PeriodAudit *artifacts.PeriodAudit `json:"period_audit,omitempty"`

	Faults []string `json:"faults,omitempty"`
	Valid  bool     `json:"valid"`
}

// runVerifyCmd implements `cortex verify`.
//
// Checks a JSONL event export's hash chain and, when an artifact export is
// given, every artifact's content digest. With --tenant and --month it also
// audits period completeness.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		eventsFile    string
		artifactsFile string
		tenantID      string
		monthKey      string
		jsonOutput    bool
	)

	cmd.StringVar(&eventsFile, "events", "", "Path to JSONL event export (REQUIRED)")
	cmd.StringVar(&artifactsFile, "artifacts", "", "Path to JSONL artifact export")
	cmd.StringVar(&tenantID, "tenant", "", "Tenant for period audit (with --month)")
	cmd.StringVar(&monthKey, "month", "", "Month key for period audit, e.g. 2026-03")
	cmd.BoolVar(&jsonOutput, "json", false, "Output report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if eventsFile == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --events is required")
		return 2
	}

	report := verifyReport{EventsFile: eventsFile, Valid: true, ArtifactsVerified: true}
	hasher := canonical.SHA256{}

	events, err := decodeEventsFile(eventsFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	report.EventCount = len(events)
	if len(events) > 0 {
		report.HeadEventID = events[len(events)-1].ID
	}

	if err := ledger.VerifyChain(hasher, events); err != nil {
		report.ChainVerified = false
		report.Valid = false
		report.Faults = append(report.Faults, err.Error())
	} else {
		report.ChainVerified = true
	}

	var arts []contracts.Artifact
	if artifactsFile != "" {
		arts, err = artifacts.DecodeArtifactsFile(artifactsFile)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		report.ArtifactsFile = artifactsFile
		report.ArtifactCount = len(arts)
		for _, a := range arts {
			if verr := artifacts.VerifyArtifact(hasher, a); verr != nil {
				report.ArtifactsVerified = false
				report.Valid = false
				report.Faults = append(report.Faults, verr.Error())
			}
		}

		if tenantID != "" && monthKey != "" {
			audit := artifacts.AuditPeriod(tenantID, monthKey, arts)
			report.PeriodAudit = &audit
			if !audit.Complete {
				report.Valid = false
				for _, missing := range audit.MissingTypes {
					report.Faults = append(report.Faults, fmt.Sprintf("period %s/%s missing artifact type %s", tenantID, monthKey, missing))
				}
			}
		}
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if report.Valid {
		_, _ = fmt.Fprintf(stdout, "Chain verification PASSED\n")
		_, _ = fmt.Fprintf(stdout, "Events:    %d\n", report.EventCount)
		if report.ArtifactsFile != "" {
			_, _ = fmt.Fprintf(stdout, "Artifacts: %d\n", report.ArtifactCount)
		}
		if report.PeriodAudit != nil {
			_, _ = fmt.Fprintf(stdout, "Period:    %s/%s complete\n", tenantID, monthKey)
		}
	} else {
		_, _ = fmt.Fprintf(stdout, "Chain verification FAILED\n")
		for _, fault := range report.Faults {
			_, _ = fmt.Fprintf(stdout, "  - %s\n", fault)
		}
	}

	if !report.Valid {
		return 1
	}
	return 0
}
