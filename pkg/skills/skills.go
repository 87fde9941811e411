// Package skills is the sandboxed execution registry for pluggable
// decision logic.
//
// A skill runs only after its gauntlet: input shape validation against a
// compiled JSON Schema, capability negotiation against the host runtime,
// provenance pin verification, contract prechecks, and an output contract
// that pins every tenant reference to the execution context. Each refusal
// is a typed denial an operator can tell apart.
package skills

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/contracts"
)

// Denial codes.
const (
	CodeSkillUnknown = "SKILL_UNKNOWN"

	CodeNegotiationRuntime = "NEGOTIATION_RUNTIME_VERSION"
	CodeNegotiationModel   = "NEGOTIATION_MODEL_FAMILY"
	CodeNegotiationTool    = "NEGOTIATION_TOOL_MISSING"
	CodeNegotiationSkill   = "NEGOTIATION_SKILL_VERSION"

	CodeProvenanceMismatch = "PROVENANCE_MISMATCH"

	CodePrecheckReadOnly   = "PRECHECK_READONLY"
	CodePrecheckPolicyPath = "PRECHECK_POLICY_PATH"
	CodePrecheckWindow     = "PRECHECK_WINDOW"

	CodeOutputNamespace = "OUTPUT_NAMESPACE"
	CodeTenantMismatch  = "TENANT_MISMATCH"
)

// Handler is the skill's own logic, invoked only after every check passed.
type Handler func(ctx context.Context, sctx contracts.TenantSkillContext, in contracts.SkillInput) (contracts.SkillOutput, error)

// Manifest is the provenance record of a skill build. Its canonical digest
// is the provenance pin.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Source      string `json:"source"`
	BuildDigest string `json:"build_digest"`
}

// Pin computes the provenance pin for a manifest.
func (m Manifest) Pin() (string, error) {
	return canonical.Digest(m)
}

// CapabilityContract states what a skill requires of the host runtime.
type CapabilityContract struct {
	// RuntimeVersion is a semver constraint over the host runtime version,
	// empty for any.
	RuntimeVersion string `json:"runtime_version,omitempty"`
	// ModelFamilies lists the acceptable model families, empty for any.
	ModelFamilies []string `json:"model_families,omitempty"`
	// RequiredTools must all be available on the host.
	RequiredTools []string `json:"required_tools,omitempty"`
}

// RuntimeDescriptor is the host runtime's side of the negotiation.
type RuntimeDescriptor struct {
	RuntimeVersion string   `json:"runtime_version"`
	ModelFamily    string   `json:"model_family"`
	Tools          []string `json:"tools,omitempty"`
	// SkillVersion optionally constrains which skill version the host
	// accepts, as a semver constraint.
	SkillVersion string `json:"skill_version,omitempty"`
}

// Definition is everything a skill registers with.
type Definition struct {
	Name    string
	Version string
	// InputSchema is a JSON Schema document validating
	// SkillInput.Parameters. Empty means any parameters.
	InputSchema   string
	Capability    CapabilityContract
	Manifest      Manifest
	ProvenancePin string
	Handler       Handler
}

// Precheck inspects the execution context before the handler runs. A nil
// return passes; a denial stops the run.
type Precheck func(sctx contracts.TenantSkillContext, in contracts.SkillInput) *contracts.Denial

type registered struct {
	def               Definition
	schema            *jsonschema.Schema
	version           *semver.Version
	runtimeConstraint *semver.Constraints
}

// Registry holds registered skills. Registration happens once at startup;
// execution holds only a read lock.
type Registry struct {
	mu        sync.RWMutex
	skills    map[string]*registered
	prechecks []Precheck
}

// NewRegistry returns a registry with the contract prechecks installed:
// the context must keep its read-only flag, carry a policy path, and have
// an ordered observation window.
func NewRegistry() *Registry {
	return &Registry{
		skills: make(map[string]*registered),
		prechecks: []Precheck{
			precheckReadOnly,
			precheckPolicyPath,
			precheckWindow,
		},
	}
}

// AddPrecheck appends a custom precheck. Prechecks run in registration
// order after the built-in contract checks.
func (r *Registry) AddPrecheck(p Precheck) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prechecks = append(r.prechecks, p)
	return r
}

// Register adds a skill. A name may be registered only once; registering
// it again, an unparsable version, an invalid runtime constraint or an
// uncompilable schema are configuration errors.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("skills: skill name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("skills: skill %q has no handler", def.Name)
	}

	version, err := semver.NewVersion(def.Version)
	if err != nil {
		return fmt.Errorf("skills: skill %q version %q: %w", def.Name, def.Version, err)
	}

	reg := &registered{def: def, version: version}

	if def.Capability.RuntimeVersion != "" {
		constraint, err := semver.NewConstraint(def.Capability.RuntimeVersion)
		if err != nil {
			return fmt.Errorf("skills: skill %q runtime constraint %q: %w", def.Name, def.Capability.RuntimeVersion, err)
		}
		reg.runtimeConstraint = constraint
	}

	if def.InputSchema != "" {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		schemaURL := fmt.Sprintf("https://cortex.schemas.local/skills/%s.schema.json", def.Name)
		if err := c.AddResource(schemaURL, strings.NewReader(def.InputSchema)); err != nil {
			return fmt.Errorf("skills: skill %q schema load: %w", def.Name, err)
		}
		compiled, err := c.Compile(schemaURL)
		if err != nil {
			return fmt.Errorf("skills: skill %q schema compile: %w", def.Name, err)
		}
		reg.schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.skills[def.Name]; dup {
		return fmt.Errorf("skills: skill %q already registered", def.Name)
	}
	r.skills[def.Name] = reg
	return nil
}

// Names returns the registered skill names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Result is the outcome of an execution attempt that got past the denial
// gauntlet. Invalid input is reported here, not as an error: a malformed
// request is an expected outcome.
type Result struct {
	Validation contracts.ValidationResult `json:"validation"`
	Output     *contracts.SkillOutput     `json:"output,omitempty"`
}

// Execute runs the named skill through the full pipeline. Typed denials
// come back as *contracts.Denial errors; handler failures are wrapped;
// shape problems land in Result.Validation.
func (r *Registry) Execute(ctx context.Context, sctx contracts.TenantSkillContext, in contracts.SkillInput, rt RuntimeDescriptor) (Result, error) {
	r.mu.RLock()
	reg, ok := r.skills[sctx.SkillName]
	prechecks := r.prechecks
	r.mu.RUnlock()

	if !ok {
		return Result{}, contracts.Deny(CodeSkillUnknown, fmt.Sprintf("skill %q is not registered", sctx.SkillName))
	}

	// 1. Input shape.
	if res := validateInput(reg, sctx, in); !res.Valid {
		return Result{Validation: res}, nil
	}

	// 2. Capability negotiation.
	if denial := negotiate(reg, rt); denial != nil {
		return Result{}, denial
	}

	// 3. Provenance pin.
	if denial := verifyProvenance(reg); denial != nil {
		return Result{}, denial
	}

	// 4. Prechecks.
	for _, p := range prechecks {
		if denial := p(sctx, in); denial != nil {
			return Result{}, denial
		}
	}

	// 5. Handler.
	out, err := reg.def.Handler(ctx, sctx, in)
	if err != nil {
		return Result{}, fmt.Errorf("skills: skill %q handler: %w", sctx.SkillName, err)
	}

	// 6. Output contract.
	if denial := checkOutput(sctx, out); denial != nil {
		return Result{}, denial
	}

	return Result{
		Validation: contracts.ValidationResult{Valid: true},
		Output:     &out,
	}, nil
}

func validateInput(reg *registered, sctx contracts.TenantSkillContext, in contracts.SkillInput) contracts.ValidationResult {
	var errs []string
	if in.TenantID == "" {
		errs = append(errs, "input tenant_id is required")
	} else if in.TenantID != sctx.TenantID {
		errs = append(errs, fmt.Sprintf("input tenant %q does not match context tenant %q", in.TenantID, sctx.TenantID))
	}
	if in.Intent == "" {
		errs = append(errs, "input intent is required")
	}
	if reg.schema != nil {
		params := map[string]interface{}{}
		if in.Parameters != nil {
			params = in.Parameters
		}
		if err := reg.schema.Validate(interface{}(params)); err != nil {
			errs = append(errs, fmt.Sprintf("parameters: %v", err))
		}
	}
	if len(errs) > 0 {
		return contracts.ValidationResult{Valid: false, Errors: errs}
	}
	return contracts.ValidationResult{Valid: true}
}

func verifyProvenance(reg *registered) *contracts.Denial {
	pin, err := reg.def.Manifest.Pin()
	if err != nil {
		return contracts.Deny(CodeProvenanceMismatch, fmt.Sprintf("manifest of skill %q cannot be canonicalized: %v", reg.def.Name, err))
	}
	if pin != reg.def.ProvenancePin {
		return contracts.Deny(CodeProvenanceMismatch, fmt.Sprintf("manifest digest %s does not match registered pin %s", pin, reg.def.ProvenancePin))
	}
	return nil
}

func precheckReadOnly(sctx contracts.TenantSkillContext, _ contracts.SkillInput) *contracts.Denial {
	if !sctx.ReadOnly {
		return contracts.Deny(CodePrecheckReadOnly, "execution context must be read-only")
	}
	return nil
}

func precheckPolicyPath(sctx contracts.TenantSkillContext, _ contracts.SkillInput) *contracts.Denial {
	if sctx.PolicyPath == "" {
		return contracts.Deny(CodePrecheckPolicyPath, "execution context has no policy path")
	}
	return nil
}

func precheckWindow(sctx contracts.TenantSkillContext, _ contracts.SkillInput) *contracts.Denial {
	if sctx.WindowEnd.Before(sctx.WindowStart) {
		return contracts.Deny(CodePrecheckWindow, fmt.Sprintf("window end %s before start %s", sctx.WindowEnd.Format("2006-01-02T15:04:05Z07:00"), sctx.WindowStart.Format("2006-01-02T15:04:05Z07:00")))
	}
	return nil
}

func checkOutput(sctx contracts.TenantSkillContext, out contracts.SkillOutput) *contracts.Denial {
	if out.Envelope.TenantID != sctx.TenantID {
		return contracts.Deny(CodeTenantMismatch, fmt.Sprintf("envelope tenant %q does not match context tenant %q", out.Envelope.TenantID, sctx.TenantID))
	}
	for i, w := range out.MemoryWrites {
		if w.TenantID != sctx.TenantID {
			return contracts.Deny(CodeTenantMismatch, fmt.Sprintf("memory write %d targets tenant %q outside context tenant %q", i, w.TenantID, sctx.TenantID))
		}
		if !contracts.ValidNamespace(w.Namespace) {
			return contracts.Deny(CodeOutputNamespace, fmt.Sprintf("memory write %d namespace %q is not in the allowed set", i, w.Namespace))
		}
	}
	return nil
}
