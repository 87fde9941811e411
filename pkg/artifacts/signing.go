package artifacts

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/contracts"
)

// KeyProvider is the signing seam. The in-memory provider serves development
// and tests; production wires an HSM or KMS behind the same interface.
type KeyProvider interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// MemoryKeyProvider holds an Ed25519 keypair in process memory.
type MemoryKeyProvider struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewMemoryKeyProvider generates a fresh keypair.
func NewMemoryKeyProvider() (*MemoryKeyProvider, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("artifacts: generate signing key: %w", err)
	}
	return &MemoryKeyProvider{pub: pub, priv: priv}, nil
}

// NewMemoryKeyProviderFromSeed derives the keypair from a 32 byte seed.
// Deterministic; used for tenant key derivation and tests.
func NewMemoryKeyProviderFromSeed(seed []byte) (*MemoryKeyProvider, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("artifacts: signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &MemoryKeyProvider{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// Sign implements KeyProvider.
func (m *MemoryKeyProvider) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(m.priv, msg), nil
}

// PublicKey implements KeyProvider.
func (m *MemoryKeyProvider) PublicKey() ed25519.PublicKey {
	return m.pub
}

// Keyring signs artifact records for a tenant. The master keyring derives
// per-tenant keyrings so a leaked tenant key never exposes another tenant's
// signatures.
type Keyring struct {
	provider KeyProvider
}

// NewKeyring wraps a provider. A nil provider is a setup error.
func NewKeyring(p KeyProvider) (*Keyring, error) {
	if p == nil {
		return nil, fmt.Errorf("artifacts: keyring requires a key provider")
	}
	return &Keyring{provider: p}, nil
}

// PublicKey returns the keyring's verification key.
func (k *Keyring) PublicKey() ed25519.PublicKey {
	return k.provider.PublicKey()
}

// KeyID returns a short stable identifier for the verification key.
func (k *Keyring) KeyID() string {
	sum := sha256.Sum256(k.provider.PublicKey())
	return fmt.Sprintf("%x", sum[:8])
}

// DeriveForTenant derives the tenant keyring with HKDF-SHA256 over the
// master seed, info bound to the tenant id. Same master and tenant always
// produce the same keypair. Requires a seed-bearing provider.
func (k *Keyring) DeriveForTenant(tenantID string) (*Keyring, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("artifacts: tenant id must not be empty")
	}
	master, ok := k.provider.(*MemoryKeyProvider)
	if !ok {
		return nil, fmt.Errorf("artifacts: tenant key derivation requires a seed-bearing provider")
	}

	reader := hkdf.New(sha256.New, master.priv.Seed(), []byte("cortex-tenant-kdf"), []byte(tenantID))
	tenantSeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(reader, tenantSeed); err != nil {
		return nil, fmt.Errorf("artifacts: hkdf derivation: %w", err)
	}

	derived, err := NewMemoryKeyProviderFromSeed(tenantSeed)
	if err != nil {
		return nil, err
	}
	return NewKeyring(derived)
}

// Signature is the detached signature attached to an exported artifact.
type Signature struct {
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm"` // "ed25519"
	Signature string `json:"signature"` // base64
}

// signedMaterial binds the signature to the artifact's identity and content.
func signedMaterial(art contracts.Artifact) map[string]interface{} {
	return map[string]interface{}{
		"artifact_id": art.ArtifactID,
		"tenant_id":   art.TenantID,
		"month_key":   art.MonthKey,
		"type":        string(art.Type),
		"hash":        art.Hash,
	}
}

// SignArtifact signs the artifact's identity and content hash.
func (k *Keyring) SignArtifact(art contracts.Artifact) (Signature, error) {
	msg, err := canonical.Marshal(signedMaterial(art))
	if err != nil {
		return Signature{}, fmt.Errorf("artifacts: canonicalize signed material: %w", err)
	}
	sig, err := k.provider.Sign(msg)
	if err != nil {
		return Signature{}, fmt.Errorf("artifacts: sign artifact %s: %w", art.ArtifactID, err)
	}
	return Signature{
		KeyID:     k.KeyID(),
		Algorithm: "ed25519",
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// VerifySignature checks a detached signature against a verification key.
func VerifySignature(pub ed25519.PublicKey, art contracts.Artifact, sig Signature) (bool, error) {
	if sig.Algorithm != "ed25519" {
		return false, fmt.Errorf("artifacts: unsupported signature algorithm %q", sig.Algorithm)
	}
	raw, err := base64.StdEncoding.DecodeString(sig.Signature)
	if err != nil {
		return false, fmt.Errorf("artifacts: decode signature: %w", err)
	}
	msg, err := canonical.Marshal(signedMaterial(art))
	if err != nil {
		return false, fmt.Errorf("artifacts: canonicalize signed material: %w", err)
	}
	return ed25519.Verify(pub, msg, raw), nil
}
