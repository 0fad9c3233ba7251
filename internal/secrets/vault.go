package secrets

import "context"

// Vault resolves credential identifiers to secret material at runtime.
// Material is encrypted at rest (AES-256-GCM) and resolved in-memory only.
// Implementations must be safe for concurrent resolution calls from
// independent pipeline runs.
type Vault interface {
	Resolve(ctx context.Context, id string) ([]byte, error)
	Store(ctx context.Context, id string, material []byte) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the minimal persistence interface needed by the vault.
// Satisfied by store.Store.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}
