package identity

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/quizlive/engine/internal/storage"
)

// Scope selects the lifetime of a device identifier. ScopeDevice
// identifiers survive restarts and are shared by every session on the
// device; ScopeTab identifiers live only as long as the process, for
// screens that must not share identity (a host's public display).
type Scope string

const (
	ScopeDevice Scope = "device"
	ScopeTab    Scope = "tab"
)

const idKey = "device:id"

// Provider produces and persists a stable identifier per scope.
// Identifiers are created lazily on first access.
type Provider struct {
	stores map[Scope]storage.Store
}

// NewProvider builds a provider backed by the given stores. device is
// expected to be persistent, tab process-local.
func NewProvider(device, tab storage.Store) *Provider {
	return &Provider{
		stores: map[Scope]storage.Store{
			ScopeDevice: device,
			ScopeTab:    tab,
		},
	}
}

// DeviceID returns the identifier for the scope, generating and
// persisting one on first use.
func (p *Provider) DeviceID(scope Scope) (string, error) {
	store, ok := p.stores[scope]
	if !ok || store == nil {
		return "", fmt.Errorf("identity: no store for scope %q", scope)
	}

	if id, ok := store.Get(idKey); ok && id != "" {
		return id, nil
	}

	id := uuid.NewString()
	if err := store.Set(idKey, id); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}
