package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
	"fmt"

	"github.com/convoyci/convoy/pkg/schema"
)

const (
	aesKeySize       = 32
	defaultKDFRounds = 100_000
)

// VaultOption supplies key material to NewAESVault.
type VaultOption func(*vaultKey)

type vaultKey struct {
	master     []byte
	passphrase string
	salt       []byte
	rounds     int
}

// WithMasterKey uses a raw 32-byte key directly.
func WithMasterKey(key []byte) VaultOption {
	return func(k *vaultKey) { k.master = key }
}

// WithPassphrase derives the key from a passphrase and salt via PBKDF2-SHA256.
// Ignored when a master key is also set.
func WithPassphrase(passphrase string, salt []byte) VaultOption {
	return func(k *vaultKey) { k.passphrase, k.salt = passphrase, salt }
}

// WithKDFRounds overrides the PBKDF2 iteration count.
func WithKDFRounds(n int) VaultOption {
	return func(k *vaultKey) { k.rounds = n }
}

func (k *vaultKey) derive() ([]byte, error) {
	switch {
	case len(k.master) > 0:
		if len(k.master) != aesKeySize {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"master key must be %d bytes, got %d", aesKeySize, len(k.master))
		}
		return k.master, nil
	case k.passphrase != "":
		if len(k.salt) == 0 {
			return nil, schema.NewError(schema.ErrCodeVault, "passphrase requires a salt")
		}
		rounds := k.rounds
		if rounds <= 0 {
			rounds = defaultKDFRounds
		}
		return pbkdf2.Key([]byte(k.passphrase), k.salt, rounds, aesKeySize, sha256.New), nil
	default:
		return nil, schema.NewError(schema.ErrCodeVault, "vault needs a master key or a passphrase")
	}
}

// AESVault is a Vault backed by a SecretStore, sealing each secret with
// AES-256-GCM. The secret id is bound into the seal as additional data, so a
// ciphertext row copied under a different id fails to open.
type AESVault struct {
	store SecretStore
	aead  cipher.AEAD
}

// NewAESVault builds a vault over the given store. Exactly one key source is
// required: WithMasterKey or WithPassphrase.
func NewAESVault(s SecretStore, opts ...VaultOption) (*AESVault, error) {
	var k vaultKey
	for _, opt := range opts {
		opt(&k)
	}
	key, err := k.derive()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESVault{store: s, aead: aead}, nil
}

// Store seals material under id and persists the ciphertext, nonce-prefixed.
func (v *AESVault) Store(ctx context.Context, id string, material []byte) error {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, material, []byte(id))
	return v.store.StoreSecret(ctx, id, sealed)
}

// Resolve loads and opens the material stored under id.
func (v *AESVault) Resolve(ctx context.Context, id string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, id)
	if err != nil {
		return nil, err
	}
	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q: sealed material too short", id)
	}
	material, err := v.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], []byte(id))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q: open failed: %s", id, err.Error())
	}
	return material, nil
}

// Delete removes the secret stored under id.
func (v *AESVault) Delete(ctx context.Context, id string) error {
	return v.store.DeleteSecret(ctx, id)
}

// List returns the ids of all stored secrets. Material is never listed.
func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}
