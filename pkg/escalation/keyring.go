package escalation

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// keystoreFile is the on-disk JSON format for persisted signing keys.
type keystoreFile struct {
	ActiveKID string            `json:"active_kid"`
	Seeds     map[string]string `json:"seeds"`
}

// Keyring is a file-backed set of versioned Ed25519 signing keys. The
// active key signs new tickets; retired keys still verify, so a rotation
// does not invalidate tickets already in flight.
type Keyring struct {
	mu     sync.RWMutex
	path   string
	active string
	keys   map[string]ed25519.PrivateKey
}

// OpenKeyring loads the keystore at path, generating an initial key when
// the file does not exist yet.
func OpenKeyring(path string) (*Keyring, error) {
	k := &Keyring{
		path: path,
		keys: make(map[string]ed25519.PrivateKey),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("escalation: create keystore dir: %w", err)
		}
		if _, err := k.generate(); err != nil {
			return nil, err
		}
		return k, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("escalation: read keystore: %w", err)
	}
	var file keystoreFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("escalation: parse keystore: %w", err)
	}

	for kid, encoded := range file.Seeds {
		seed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("escalation: decode seed for key %s: %w", kid, err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("escalation: seed for key %s has length %d, want %d", kid, len(seed), ed25519.SeedSize)
		}
		k.keys[kid] = ed25519.NewKeyFromSeed(seed)
	}
	if _, ok := k.keys[file.ActiveKID]; !ok {
		return nil, fmt.Errorf("escalation: active key %s not in keystore", file.ActiveKID)
	}
	k.active = file.ActiveKID
	return k, nil
}

// Rotate generates a new active signing key and persists the keystore.
// Returns the new key id.
func (k *Keyring) Rotate() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.generate()
}

// ActiveKID returns the id of the key new tickets are signed with.
func (k *Keyring) ActiveKID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// Signer builds a TokenIssuer around the active key.
func (k *Keyring) Signer(issuer string) (*TokenIssuer, error) {
	k.mu.RLock()
	key := k.keys[k.active]
	k.mu.RUnlock()
	return NewTokenIssuer(key, issuer)
}

// Verify parses and validates a ticket against any key in the ring,
// active or retired.
func (k *Keyring) Verify(tokenString string) (*AssignmentClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AssignmentClaims{}, k.keyFunc)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AssignmentClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

func (k *Keyring) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, errors.New("missing kid in header")
	}

	k.mu.RLock()
	key, found := k.keys[kid]
	k.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("key not found: %s", kid)
	}
	return key.Public(), nil
}

// generate mints a fresh key, makes it active and persists. Callers hold
// the write lock (or own the ring exclusively during construction).
func (k *Keyring) generate() (string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("escalation: generate signing key: %w", err)
	}
	kid := keyID(pub)
	k.keys[kid] = priv
	k.active = kid
	if err := k.persist(); err != nil {
		return "", err
	}
	return kid, nil
}

func (k *Keyring) persist() error {
	file := keystoreFile{
		ActiveKID: k.active,
		Seeds:     make(map[string]string, len(k.keys)),
	}
	for kid, key := range k.keys {
		file.Seeds[kid] = base64.StdEncoding.EncodeToString(key.Seed())
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("escalation: marshal keystore: %w", err)
	}
	if err := os.WriteFile(k.path, data, 0600); err != nil {
		return fmt.Errorf("escalation: write keystore: %w", err)
	}
	return nil
}

// keyID derives a short stable id from a public key.
func keyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])[:8]
}
