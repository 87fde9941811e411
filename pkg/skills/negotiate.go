package skills

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/ledgerline/cortex/pkg/contracts"
)

// negotiate checks the host runtime against the skill's capability
// contract and the host's own demands on the skill. Checks run in a fixed
// order; the first mismatch denies.
func negotiate(reg *registered, rt RuntimeDescriptor) *contracts.Denial {
	if reg.runtimeConstraint != nil {
		v, err := semver.NewVersion(rt.RuntimeVersion)
		if err != nil {
			return contracts.Deny(CodeNegotiationRuntime,
				fmt.Sprintf("host runtime version %q is not semver: %v", rt.RuntimeVersion, err))
		}
		if !reg.runtimeConstraint.Check(v) {
			return contracts.Deny(CodeNegotiationRuntime,
				fmt.Sprintf("skill %q requires runtime %s, host runs %s", reg.def.Name, reg.def.Capability.RuntimeVersion, rt.RuntimeVersion))
		}
	}

	if families := reg.def.Capability.ModelFamilies; len(families) > 0 {
		accepted := false
		for _, fam := range families {
			if fam == rt.ModelFamily {
				accepted = true
				break
			}
		}
		if !accepted {
			return contracts.Deny(CodeNegotiationModel,
				fmt.Sprintf("model family %q is not among %v", rt.ModelFamily, families))
		}
	}

	if required := reg.def.Capability.RequiredTools; len(required) > 0 {
		available := make(map[string]bool, len(rt.Tools))
		for _, t := range rt.Tools {
			available[t] = true
		}
		for _, tool := range required {
			if !available[tool] {
				return contracts.Deny(CodeNegotiationTool,
					fmt.Sprintf("required tool %q is not available on the host", tool))
			}
		}
	}

	if rt.SkillVersion != "" {
		constraint, err := semver.NewConstraint(rt.SkillVersion)
		if err != nil {
			return contracts.Deny(CodeNegotiationSkill,
				fmt.Sprintf("host skill version constraint %q: %v", rt.SkillVersion, err))
		}
		if !constraint.Check(reg.version) {
			return contracts.Deny(CodeNegotiationSkill,
				fmt.Sprintf("host requires skill version %s, registered version is %s", rt.SkillVersion, reg.def.Version))
		}
	}

	return nil
}
