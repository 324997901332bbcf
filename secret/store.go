// Package secret resolves named secrets for builds and keeps their values
// out of logs.
package secret

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/conveyorci/conveyor/common/gerror"
)

// EnvPrefix is the prefix for environment variables that supply secrets,
// e.g. CONVEYOR_SECRET_INDEX_TOKEN provides the secret named INDEX_TOKEN.
const EnvPrefix = "CONVEYOR_SECRET_"

// Secret is a named secret value held in plaintext in memory.
type Secret struct {
	// Name the secret is referenced by in pipeline definitions.
	Name string
	// Value is the plaintext secret value. Redacted from all log output.
	Value string
}

// Store holds the secrets available to a build.
type Store struct {
	mu            sync.RWMutex
	secretsByName map[string]*Secret
}

func NewStore() *Store {
	return &Store{
		secretsByName: make(map[string]*Secret),
	}
}

// NewStoreFromEnv creates a store populated from the process environment.
// Every variable named with the EnvPrefix becomes a secret.
func NewStoreFromEnv() *Store {
	store := NewStore()
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, EnvPrefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(entry, EnvPrefix), "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		store.Add(&Secret{Name: parts[0], Value: parts[1]})
	}
	return store
}

// Add adds a secret to the store, replacing any existing secret with the
// same name. The value will be redacted from logs and generally not disclosed.
func (b *Store) Add(secret *Secret) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.secretsByName[secret.Name] = secret
}

// Get looks up a secret by name. If the secret does not exist an error is returned.
func (b *Store) Get(name string) (*Secret, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	secret, ok := b.secretsByName[name]
	if !ok {
		return nil, gerror.NewErrSecretNotFound(name)
	}
	return secret, nil
}

// GetAll returns all secrets in the store, sorted by name.
func (b *Store) GetAll() []*Secret {
	b.mu.RLock()
	defer b.mu.RUnlock()
	secrets := make([]*Secret, 0, len(b.secretsByName))
	for _, secret := range b.secretsByName {
		secrets = append(secrets, secret)
	}
	sort.Slice(secrets, func(i, j int) bool {
		return secrets[i].Name < secrets[j].Name
	})
	return secrets
}
