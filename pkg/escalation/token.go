package escalation

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ledgerline/cortex/pkg/canonical"
)

// TokenAudience is the audience claim stamped on assignment tickets.
const TokenAudience = "cortex.review"

// AssignmentClaims is the payload of a signed assignment ticket. The
// expiry doubles as the SLA deadline, so a ticketing collaborator can
// treat an expired token as a blown SLA.
type AssignmentClaims struct {
	jwt.RegisteredClaims
	TenantID     string       `json:"tenant_id"`
	Tier         Tier         `json:"tier"`
	ReviewerRole ReviewerRole `json:"reviewer_role"`
}

// TokenIssuer signs assignment tickets for the notification collaborator.
type TokenIssuer struct {
	key    ed25519.PrivateKey
	kid    string
	issuer string
}

// NewTokenIssuer builds an issuer around an Ed25519 signing key.
func NewTokenIssuer(key ed25519.PrivateKey, issuer string) (*TokenIssuer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.New("escalation: signing key must be an ed25519 private key")
	}
	if issuer == "" {
		return nil, errors.New("escalation: issuer is required")
	}
	pub, ok := key.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("escalation: signing key has no ed25519 public half")
	}
	return &TokenIssuer{
		key:    key,
		kid:    keyID(pub),
		issuer: issuer,
	}, nil
}

// Issue signs a ticket for an assigned escalation. The token id is derived
// from the escalation's identity, so re-issuing the same assignment yields
// the same JTI.
func (ti *TokenIssuer) Issue(esc Escalation) (string, error) {
	if esc.SLA == nil || esc.Reviewer == nil {
		return "", errors.New("escalation: cannot issue a ticket for an unassigned escalation")
	}
	jti, err := canonical.DeterministicID("esc", map[string]interface{}{
		"tenant_id": esc.TenantID,
		"tier":      esc.Tier,
		"reviewer":  esc.Reviewer.ID,
		"raised_at": esc.RaisedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("escalation: derive token id: %w", err)
	}

	claims := AssignmentClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   esc.Reviewer.ID,
			Issuer:    ti.issuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(esc.RaisedAt.UTC()),
			ExpiresAt: jwt.NewNumericDate(esc.DeadlineAt.UTC()),
		},
		TenantID:     esc.TenantID,
		Tier:         esc.Tier,
		ReviewerRole: esc.Reviewer.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = ti.kid
	return token.SignedString(ti.key)
}

// Verify parses and validates a ticket string.
func (ti *TokenIssuer) Verify(tokenString string) (*AssignmentClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AssignmentClaims{}, ti.keyFunc)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AssignmentClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

func (ti *TokenIssuer) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, errors.New("missing kid in header")
	}
	if kid != ti.kid {
		return nil, fmt.Errorf("key not found: %s", kid)
	}
	return ti.key.Public(), nil
}
