// Package memorygate is the access-control point for assistant memory.
//
// Every read or write against a tenant's memory namespaces passes a pure
// Check. The gate is fail-closed and decisions are content-addressed, so
// an audit can prove which verdict was produced for which request.
package memorygate

import (
	"fmt"

	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/contracts"
)

// Deny codes.
const (
	CodeCrossTenant      = "ACL_CROSS_TENANT"
	CodeUnknownNamespace = "ACL_UNKNOWN_NAMESPACE"
	CodeUnknownOperation = "ACL_UNKNOWN_OPERATION"
	CodeWriteDenied      = "ACL_WRITE_DENIED"
)

// Operation is the kind of memory access requested.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
)

// Valid reports whether op is a defined operation.
func (op Operation) Valid() bool {
	return op == OpRead || op == OpWrite
}

// Request is one memory access to judge. TenantID is the memory owner,
// ActorTenantID the tenant of the requesting context. ContextReadOnly
// carries the execution context's read-only flag: a context that dropped
// it is out of contract and may not write.
type Request struct {
	TenantID        string    `json:"tenant_id"`
	ActorTenantID   string    `json:"actor_tenant_id"`
	Namespace       string    `json:"namespace"`
	Operation       Operation `json:"operation"`
	ContextReadOnly bool      `json:"context_read_only"`
}

// Decision is the gate's verdict. DecisionHash is the digest of the
// canonical {request, allowed, code, reasons} record.
type Decision struct {
	Allowed      bool     `json:"allowed"`
	Code         string   `json:"code,omitempty"`
	Reasons      []string `json:"reasons"`
	DecisionHash string   `json:"decision_hash"`
}

// Check judges a request. Cross-tenant access is always denied, whatever
// the namespace or operation. Unknown namespaces and operations deny.
// Writes require the context to have kept its read-only discipline.
func Check(req Request) Decision {
	switch {
	case req.TenantID != req.ActorTenantID:
		return seal(req, Decision{
			Code:    CodeCrossTenant,
			Reasons: []string{fmt.Sprintf("actor tenant %q may not touch memory of tenant %q", req.ActorTenantID, req.TenantID)},
		})
	case !req.Operation.Valid():
		return seal(req, Decision{
			Code:    CodeUnknownOperation,
			Reasons: []string{fmt.Sprintf("operation %q is not read or write", req.Operation)},
		})
	case !contracts.ValidNamespace(req.Namespace):
		return seal(req, Decision{
			Code:    CodeUnknownNamespace,
			Reasons: []string{fmt.Sprintf("namespace %q is not in the allowed set", req.Namespace)},
		})
	case req.Operation == OpWrite && !req.ContextReadOnly:
		return seal(req, Decision{
			Code:    CodeWriteDenied,
			Reasons: []string{"context lost its read-only flag; declarative writes refused"},
		})
	default:
		return seal(req, Decision{
			Allowed: true,
			Reasons: []string{fmt.Sprintf("%s on %s within tenant %q", req.Operation, req.Namespace, req.TenantID)},
		})
	}
}

// seal stamps the decision hash over the canonical request and verdict.
func seal(req Request, d Decision) Decision {
	material := struct {
		Request Request  `json:"request"`
		Allowed bool     `json:"allowed"`
		Code    string   `json:"code,omitempty"`
		Reasons []string `json:"reasons"`
	}{
		Request: req,
		Allowed: d.Allowed,
		Code:    d.Code,
		Reasons: d.Reasons,
	}
	digest, err := canonical.Digest(material)
	if err != nil {
		// A decision over plain strings and bools cannot fail to
		// canonicalize; treat it as a broken invariant.
		panic(fmt.Sprintf("memorygate: seal decision: %v", err))
	}
	d.DecisionHash = digest
	return d
}

// CheckWrites judges every memory write of a skill output against its
// context in one pass, returning the first denial or an allow covering
// the batch.
func CheckWrites(ctx contracts.TenantSkillContext, writes []contracts.MemoryWrite) Decision {
	for _, w := range writes {
		d := Check(Request{
			TenantID:        w.TenantID,
			ActorTenantID:   ctx.TenantID,
			Namespace:       w.Namespace,
			Operation:       OpWrite,
			ContextReadOnly: ctx.ReadOnly,
		})
		if !d.Allowed {
			return d
		}
	}
	return seal(Request{
		TenantID:        ctx.TenantID,
		ActorTenantID:   ctx.TenantID,
		Namespace:       "",
		Operation:       OpWrite,
		ContextReadOnly: ctx.ReadOnly,
	}, Decision{
		Allowed: true,
		Reasons: []string{fmt.Sprintf("%d writes within tenant %q", len(writes), ctx.TenantID)},
	})
}
