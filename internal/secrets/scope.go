package secrets

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/convoyci/convoy/pkg/schema"
)

// Binding names one credential a stage requires.
type Binding struct {
	ID   string
	Kind schema.CredentialKind
}

// CredentialScope binds resolved credential material as environment values
// for the lifetime of exactly one stage's execution. Scopes never nest: the
// executor opens one at stage entry and closes it unconditionally at stage
// exit. Close zeroizes all material and removes any on-disk artifacts, so no
// later scope or log can observe the bound values.
type CredentialScope struct {
	mu       sync.Mutex
	closed   bool
	env      []string
	values   [][]byte
	material [][]byte
	files    []string
}

// OpenScope resolves every binding through the vault and returns a scope with
// the bound environment. On any resolution failure the partially built scope
// is closed before the error is returned, so material never outlives the call.
//
// Environment derivation per kind (identifier sanitized to ENV_CASE):
//   - username_password: material "user:pass" -> <ID>_USR, <ID>_PSW
//   - token:             <ID>_TOKEN
//   - kubeconfig:        material written to a 0600 temp file, KUBECONFIG=<path>
func OpenScope(ctx context.Context, vault Vault, bindings []Binding) (*CredentialScope, error) {
	scope := &CredentialScope{}

	for _, b := range bindings {
		material, err := vault.Resolve(ctx, b.ID)
		if err != nil {
			scope.Close()
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"resolve credential %q: %s", b.ID, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"credential_id": b.ID})
		}
		if err := scope.bind(b, material); err != nil {
			scope.Close()
			return nil, err
		}
	}

	return scope, nil
}

func (s *CredentialScope) bind(b Binding, material []byte) error {
	s.material = append(s.material, material)
	prefix := envName(b.ID)

	switch b.Kind {
	case schema.CredentialUsernamePassword:
		user, pass, ok := strings.Cut(string(material), ":")
		if !ok {
			return schema.NewErrorf(schema.ErrCodeVault,
				"credential %q: username_password material must be user:pass", b.ID).
				WithDetails(map[string]any{"credential_id": b.ID})
		}
		s.env = append(s.env, prefix+"_USR="+user, prefix+"_PSW="+pass)
		s.values = append(s.values, []byte(user), []byte(pass))

	case schema.CredentialToken:
		s.env = append(s.env, prefix+"_TOKEN="+string(material))
		s.values = append(s.values, append([]byte(nil), material...))

	case schema.CredentialKubeconfig:
		f, err := os.CreateTemp("", "convoy-kubeconfig-*")
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeVault,
				"credential %q: create kubeconfig file: %s", b.ID, err.Error()).WithCause(err)
		}
		path := f.Name()
		s.files = append(s.files, path)
		if err := f.Chmod(0o600); err != nil {
			f.Close()
			return schema.NewErrorf(schema.ErrCodeVault,
				"credential %q: chmod kubeconfig file: %s", b.ID, err.Error()).WithCause(err)
		}
		if _, err := f.Write(material); err != nil {
			f.Close()
			return schema.NewErrorf(schema.ErrCodeVault,
				"credential %q: write kubeconfig file: %s", b.ID, err.Error()).WithCause(err)
		}
		if err := f.Close(); err != nil {
			return schema.NewErrorf(schema.ErrCodeVault,
				"credential %q: close kubeconfig file: %s", b.ID, err.Error()).WithCause(err)
		}
		s.env = append(s.env, "KUBECONFIG="+path, prefix+"_KUBECONFIG="+path)
		s.values = append(s.values, append([]byte(nil), material...))

	default:
		return schema.NewErrorf(schema.ErrCodeVault,
			"credential %q: unsupported kind %q", b.ID, b.Kind)
	}

	return nil
}

// Env returns the bound KEY=VALUE pairs for injection into step processes.
// Returns nil after Close.
func (s *CredentialScope) Env() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return append([]string(nil), s.env...)
}

// Redactor returns a redactor covering every value bound in this scope.
// The redactor copies the values, so it stays usable after Close and output
// captured during the stage can be scrubbed even after scope teardown.
func (s *CredentialScope) Redactor() *Redactor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return NewRedactor(s.values...)
}

// Close discards all bound material: env strings are dropped, byte slices are
// zeroized, temp files removed. Idempotent; safe to defer unconditionally.
func (s *CredentialScope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for _, path := range s.files {
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, m := range s.material {
		for i := range m {
			m[i] = 0
		}
	}
	for _, v := range s.values {
		for i := range v {
			v[i] = 0
		}
	}
	s.env = nil
	s.files = nil

	return firstErr
}

// Closed reports whether the scope has been closed.
func (s *CredentialScope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// envName converts a credential identifier into an environment variable prefix:
// "dockerhub-credentials" -> "DOCKERHUB_CREDENTIALS".
func envName(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
