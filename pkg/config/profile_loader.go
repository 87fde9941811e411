package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ledgerline/cortex/pkg/escalation"
	"github.com/ledgerline/cortex/pkg/ledger"
	"github.com/ledgerline/cortex/pkg/pattern"
	"github.com/ledgerline/cortex/pkg/policy"
)

// Stock tuning applied when a profile leaves a section unset.
const (
	defaultSnapshotInterval = 100
	defaultSnapshotRetain   = 5
	defaultCompactionWindow = 10
)

// TenantProfile is a per-tenant governance profile: the detection rules,
// policy table and operational tuning one tenant runs under.
type TenantProfile struct {
	Name     string `yaml:"name" json:"name"`
	TenantID string `yaml:"tenant_id" json:"tenant_id"`

	Patterns   []PatternRuleConfig `yaml:"patterns" json:"patterns"`
	Policies   []PolicyRuleConfig  `yaml:"policies" json:"policies"`
	Drift      DriftConfig         `yaml:"drift,omitempty" json:"drift,omitempty"`
	SLA        SLAConfig           `yaml:"sla,omitempty" json:"sla,omitempty"`
	Snapshots  SnapshotConfig      `yaml:"snapshots,omitempty" json:"snapshots,omitempty"`
	Compaction CompactionConfig    `yaml:"compaction,omitempty" json:"compaction,omitempty"`
	Reviewers  []ReviewerConfig    `yaml:"reviewers,omitempty" json:"reviewers,omitempty"`
}

// PatternRuleConfig is the YAML form of one detection rule.
type PatternRuleConfig struct {
	ID               string                 `yaml:"id" json:"id"`
	When             []PatternConditionYAML `yaml:"when" json:"when"`
	MinEvidenceCount int                    `yaml:"min_evidence_count" json:"min_evidence_count"`
	ThenEmit         string                 `yaml:"then_emit" json:"then_emit"`
	Where            string                 `yaml:"where,omitempty" json:"where,omitempty"`
}

// PatternConditionYAML is the YAML form of one rule condition.
type PatternConditionYAML struct {
	Metric      string  `yaml:"metric" json:"metric"`
	Comparator  string  `yaml:"comparator" json:"comparator"`
	Threshold   float64 `yaml:"threshold" json:"threshold"`
	OverPeriods int     `yaml:"over_periods" json:"over_periods"`
}

// PolicyRuleConfig is the YAML form of one policy table entry.
type PolicyRuleConfig struct {
	Path          string  `yaml:"path" json:"path"`
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
	Guard         string  `yaml:"guard,omitempty" json:"guard,omitempty"`
}

// DriftConfig overrides drift trip thresholds per monitored dimension.
// Unlisted dimensions keep their stock thresholds.
type DriftConfig struct {
	Thresholds map[string]float64 `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
}

// SLAConfig tightens escalation response windows per tier, in minutes.
// Overrides may only shorten the stock window, never extend it.
type SLAConfig struct {
	ResponseMinutes map[string]int `yaml:"response_minutes,omitempty" json:"response_minutes,omitempty"`
}

// SnapshotConfig tunes snapshot cadence and retention.
type SnapshotConfig struct {
	Interval int `yaml:"interval,omitempty" json:"interval,omitempty"`
	Retain   int `yaml:"retain,omitempty" json:"retain,omitempty"`
}

// CompactionConfig tunes the artifact compaction window.
type CompactionConfig struct {
	WindowSize int `yaml:"window_size,omitempty" json:"window_size,omitempty"`
}

// ReviewerConfig is one entry of the tenant's reviewer roster, in
// assignment priority order.
type ReviewerConfig struct {
	ID       string `yaml:"id" json:"id"`
	Role     string `yaml:"role" json:"role"`
	Capacity int    `yaml:"capacity" json:"capacity"`
}

// LoadProfile loads a tenant profile by tenant id. It searches the profiles
// directory for profile_<tenant>.yaml.
func LoadProfile(profilesDir, tenantID string) (*TenantProfile, error) {
	tenantID = strings.ToLower(tenantID)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", tenantID))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", tenantID, err)
	}

	var profile TenantProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", tenantID, err)
	}

	if profile.TenantID == "" {
		profile.TenantID = tenantID
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory,
// keyed by tenant id.
func LoadAllProfiles(profilesDir string) (map[string]*TenantProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*TenantProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile TenantProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.TenantID == "" {
			// Extract tenant from filename: profile_acme.yaml -> acme
			base := filepath.Base(path)
			profile.TenantID = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.TenantID] = &profile
	}

	return profiles, nil
}

// PatternRules converts the profile's detection rules into engine form.
func (p *TenantProfile) PatternRules() []pattern.Rule {
	rules := make([]pattern.Rule, 0, len(p.Patterns))
	for _, rc := range p.Patterns {
		rule := pattern.Rule{
			ID:               rc.ID,
			MinEvidenceCount: rc.MinEvidenceCount,
			ThenEmit:         rc.ThenEmit,
			Where:            rc.Where,
		}
		for _, cc := range rc.When {
			rule.When = append(rule.When, pattern.Condition{
				Metric:      cc.Metric,
				Comparator:  pattern.Comparator(cc.Comparator),
				Threshold:   cc.Threshold,
				OverPeriods: cc.OverPeriods,
			})
		}
		rules = append(rules, rule)
	}
	return rules
}

// PatternEngine compiles the profile's detection rules. Malformed rules and
// uncompilable guards fail here, at load time.
func (p *TenantProfile) PatternEngine() (*pattern.Engine, error) {
	return pattern.NewEngine(p.PatternRules())
}

// PolicyTable compiles the profile's policy rules into a decision table.
func (p *TenantProfile) PolicyTable() (*policy.Table, error) {
	b := policy.NewBuilder()
	for _, rc := range p.Policies {
		b.Add(policy.Rule{
			Path:          rc.Path,
			Enabled:       rc.Enabled,
			MinConfidence: rc.MinConfidence,
			Guard:         rc.Guard,
		})
	}
	return b.Build()
}

// DriftThresholds merges the profile's overrides over the stock thresholds.
// Unknown dimension names are load errors.
func (p *TenantProfile) DriftThresholds() (pattern.DriftThresholds, error) {
	thresholds := pattern.DefaultDriftThresholds()
	for name, value := range p.Drift.Thresholds {
		dt := pattern.DriftType(name)
		if _, known := thresholds[dt]; !known {
			return nil, fmt.Errorf("profile %q: unknown drift dimension %q", p.TenantID, name)
		}
		if value <= 0 || value > 1 {
			return nil, fmt.Errorf("profile %q: drift threshold for %s must be in (0, 1], got %v", p.TenantID, name, value)
		}
		thresholds[dt] = value
	}
	return thresholds, nil
}

// SLAOverrides converts the profile's response window tightenings, keyed by
// tier. Overrides for unknown tiers, non-positive windows, or windows looser
// than stock are load errors.
func (p *TenantProfile) SLAOverrides() (map[escalation.Tier]int, error) {
	if len(p.SLA.ResponseMinutes) == 0 {
		return nil, nil
	}
	overrides := make(map[escalation.Tier]int, len(p.SLA.ResponseMinutes))
	for name, minutes := range p.SLA.ResponseMinutes {
		tier := escalation.Tier(name)
		plan, ok := escalation.PlanFor(tier)
		if !ok {
			return nil, fmt.Errorf("profile %q: unknown escalation tier %q", p.TenantID, name)
		}
		if minutes <= 0 {
			return nil, fmt.Errorf("profile %q: response window for %s must be positive, got %d", p.TenantID, name, minutes)
		}
		if minutes > plan.MaxResponseMinutes {
			return nil, fmt.Errorf("profile %q: response window for %s is %d minutes, stock window is %d and may only be tightened", p.TenantID, name, minutes, plan.MaxResponseMinutes)
		}
		overrides[tier] = minutes
	}
	return overrides, nil
}

// SnapshotPolicy returns the profile's snapshot tuning with stock defaults
// filled in for unset fields.
func (p *TenantProfile) SnapshotPolicy() ledger.SnapshotPolicy {
	policy := ledger.SnapshotPolicy{
		Interval: p.Snapshots.Interval,
		Retain:   p.Snapshots.Retain,
	}
	if policy.Interval <= 0 {
		policy.Interval = defaultSnapshotInterval
	}
	if policy.Retain <= 0 {
		policy.Retain = defaultSnapshotRetain
	}
	return policy
}

// CompactionWindow returns the profile's compaction window, or the stock
// window when unset.
func (p *TenantProfile) CompactionWindow() int {
	if p.Compaction.WindowSize > 1 {
		return p.Compaction.WindowSize
	}
	return defaultCompactionWindow
}

// ReviewerRoster converts the reviewer roster in declaration order, which is
// also assignment priority order.
func (p *TenantProfile) ReviewerRoster() ([]escalation.Reviewer, error) {
	reviewers := make([]escalation.Reviewer, 0, len(p.Reviewers))
	for _, rc := range p.Reviewers {
		role := escalation.ReviewerRole(rc.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("profile %q: reviewer %q has unknown role %q", p.TenantID, rc.ID, rc.Role)
		}
		if rc.ID == "" {
			return nil, fmt.Errorf("profile %q: reviewer id is required", p.TenantID)
		}
		reviewers = append(reviewers, escalation.Reviewer{
			ID:       rc.ID,
			Role:     role,
			Capacity: rc.Capacity,
		})
	}
	return reviewers, nil
}

// Validate compiles every section of the profile and reports the first
// problem. A profile that validates will construct without error.
func (p *TenantProfile) Validate() error {
	if p.TenantID == "" {
		return fmt.Errorf("profile: tenant_id is required")
	}
	if _, err := p.PatternEngine(); err != nil {
		return fmt.Errorf("profile %q: %w", p.TenantID, err)
	}
	if _, err := p.PolicyTable(); err != nil {
		return fmt.Errorf("profile %q: %w", p.TenantID, err)
	}
	if _, err := p.DriftThresholds(); err != nil {
		return err
	}
	if _, err := p.SLAOverrides(); err != nil {
		return err
	}
	if _, err := p.ReviewerRoster(); err != nil {
		return err
	}
	return nil
}
