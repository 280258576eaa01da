package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"vsdnetwork/docstore"
)

// APIKeyPrefix marks minted tenant keys so leaked credentials are easy to
// recognise in logs and scanners.
const APIKeyPrefix = "vsd_live_"

// CollectionTenants is the tenant registry collection.
const CollectionTenants = "tenants"

// TenantStatus gates a tenant's access to the payment surface.
type TenantStatus string

const (
	TenantActive   TenantStatus = "Active"
	TenantInactive TenantStatus = "Inactive"
)

var (
	// ErrUnknownAPIKey is returned when no tenant matches the presented key.
	ErrUnknownAPIKey = errors.New("auth: unknown API key")
	// ErrTenantInactive is returned when the key matches a deactivated tenant.
	ErrTenantInactive = errors.New("auth: tenant is inactive")
	// ErrTenantNotFound is returned when a tenant id does not resolve.
	ErrTenantNotFound = errors.New("auth: tenant not found")
)

// Tenant is a registered third-party caller authenticated by API key.
type Tenant struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Domain    string       `json:"domain"`
	APIKey    string       `json:"apiKey"`
	Status    TenantStatus `json:"status"`
	CreatedAt string       `json:"createdAt"`
}

// TenantRegistry manages tenants and resolves API keys.
type TenantRegistry struct {
	store *docstore.Store
	nowFn func() time.Time
}

// NewTenantRegistry binds the registry to the document store.
func NewTenantRegistry(store *docstore.Store) *TenantRegistry {
	if store == nil {
		panic("auth: store required")
	}
	return &TenantRegistry{store: store, nowFn: time.Now}
}

// SetNow overrides the time source. It is intended for tests.
func (r *TenantRegistry) SetNow(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.nowFn = now
}

// MintAPIKey generates an unguessable prefixed API key.
func MintAPIKey() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: generate api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(raw), nil
}

// Create registers a tenant and mints its API key. New tenants start Active.
func (r *TenantRegistry) Create(ctx context.Context, name, domain string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("auth: tenant name required")
	}
	key, err := MintAPIKey()
	if err != nil {
		return nil, err
	}
	tenant := Tenant{
		ID:        docstore.NewID(),
		Name:      name,
		Domain:    strings.TrimSpace(domain),
		APIKey:    key,
		Status:    TenantActive,
		CreatedAt: r.nowFn().UTC().Format(time.RFC3339),
	}
	if err := r.store.Put(ctx, CollectionTenants, tenant.ID, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// FindByAPIKey resolves an API key to exactly one tenant. Keys of inactive
// tenants are rejected even when valid; the matched tenant is still returned
// alongside ErrTenantInactive so callers can attribute the rejection.
func (r *TenantRegistry) FindByAPIKey(ctx context.Context, apiKey string) (*Tenant, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrUnknownAPIKey
	}
	docs, err := r.store.QueryEqual(ctx, CollectionTenants, "apiKey", apiKey)
	if err != nil {
		return nil, err
	}
	if len(docs) != 1 {
		return nil, ErrUnknownAPIKey
	}
	var tenant Tenant
	if err := docs[0].Decode(&tenant); err != nil {
		return nil, err
	}
	tenant.ID = docs[0].ID
	if tenant.Status != TenantActive {
		return &tenant, ErrTenantInactive
	}
	return &tenant, nil
}

// SetStatus toggles a tenant between Active and Inactive.
func (r *TenantRegistry) SetStatus(ctx context.Context, id string, status TenantStatus) error {
	if status != TenantActive && status != TenantInactive {
		return fmt.Errorf("auth: unknown tenant status %q", status)
	}
	var tenant Tenant
	if err := r.store.Get(ctx, CollectionTenants, id, &tenant); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrTenantNotFound
		}
		return err
	}
	tenant.Status = status
	return r.store.Put(ctx, CollectionTenants, id, &tenant)
}

// List returns every registered tenant.
func (r *TenantRegistry) List(ctx context.Context) ([]Tenant, error) {
	docs, err := r.store.List(ctx, CollectionTenants)
	if err != nil {
		return nil, err
	}
	tenants := make([]Tenant, 0, len(docs))
	for _, doc := range docs {
		var tenant Tenant
		if err := doc.Decode(&tenant); err != nil {
			return nil, err
		}
		tenant.ID = doc.ID
		tenants = append(tenants, tenant)
	}
	return tenants, nil
}
