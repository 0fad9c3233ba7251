package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/convoyci/convoy/internal/actions"
	"github.com/convoyci/convoy/internal/definition"
	"github.com/convoyci/convoy/internal/engine"
	"github.com/convoyci/convoy/internal/expressions"
	"github.com/convoyci/convoy/internal/secrets"
	"github.com/convoyci/convoy/internal/store"
)

// Vault key material comes from the environment, never from flags, so secrets
// don't land in shell history or process listings.
const (
	envMasterKey  = "CONVOY_MASTER_KEY" // hex-encoded 32 bytes
	envPassphrase = "CONVOY_PASSPHRASE"
	envVaultSalt  = "CONVOY_VAULT_SALT"

	defaultVaultSalt = "convoy.vault.v1"
)

// app wires the store, vault, registry, and executor for one CLI invocation.
type app struct {
	store     *store.LibSQLStore
	eventLog  *store.EventLog
	vault     secrets.Vault
	registry  *actions.Registry
	validator *definition.Validator
	cel       *expressions.CELEngine
	executor  engine.Executor
	logger    *slog.Logger
}

// newApp opens the database, runs migrations, and builds the execution stack.
// The caller must call close. needVault commands fail fast when no key
// material is configured; the rest leave the vault unset.
func newApp(ctx context.Context, opts *Options, logger *slog.Logger, needVault bool) (*app, error) {
	dsn := opts.DBPath
	if !strings.Contains(dsn, ":") {
		dsn = "file:" + dsn
	}

	st, err := store.NewLibSQLStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	var vault secrets.Vault
	if needVault || os.Getenv(envMasterKey) != "" || os.Getenv(envPassphrase) != "" {
		vault, err = newVault(st)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	registry := actions.NewRegistry()
	if err := actions.RegisterBuiltins(registry, actions.RunnerConfig{}); err != nil {
		st.Close()
		return nil, fmt.Errorf("register actions: %w", err)
	}

	cel, err := expressions.NewCELEngine()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create condition engine: %w", err)
	}

	validator, err := definition.NewValidator(registry, cel)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create validator: %w", err)
	}

	eventLog := store.NewEventLog(st)
	executor := engine.NewExecutor(st, eventLog, registry, vault, validator, cel, logger, engine.ExecutorConfig{})

	return &app{
		store:     st,
		eventLog:  eventLog,
		vault:     vault,
		registry:  registry,
		validator: validator,
		cel:       cel,
		executor:  executor,
		logger:    logger,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store failed", "error", err)
	}
}

// newVault builds the AES vault from environment key material.
func newVault(st *store.LibSQLStore) (secrets.Vault, error) {
	if keyHex := os.Getenv(envMasterKey); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("%s must be hex-encoded: %w", envMasterKey, err)
		}
		return secrets.NewAESVault(st, secrets.WithMasterKey(key))
	}
	if pass := os.Getenv(envPassphrase); pass != "" {
		salt := os.Getenv(envVaultSalt)
		if salt == "" {
			salt = defaultVaultSalt
		}
		return secrets.NewAESVault(st, secrets.WithPassphrase(pass, []byte(salt)))
	}
	return nil, fmt.Errorf("vault key missing: set %s (hex, 32 bytes) or %s", envMasterKey, envPassphrase)
}

// parseInputs converts repeated key=value flags into an inputs map.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q: expected key=value", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}
