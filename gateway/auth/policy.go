package auth

import (
	"context"
	"strings"

	"vsdnetwork/docstore"
)

// AuthorizationPolicy decides whether a verified identity may use the admin
// surface. Policies are composed with Any so a caller passes if any one of
// the configured grants applies.
type AuthorizationPolicy interface {
	Authorize(ctx context.Context, ident *Identity) (bool, error)
}

// AllowListPolicy grants access to a fixed set of UIDs.
type AllowListPolicy struct {
	uids map[string]bool
}

// NewAllowListPolicy builds a policy from the configured UID list.
func NewAllowListPolicy(uids []string) *AllowListPolicy {
	set := make(map[string]bool, len(uids))
	for _, uid := range uids {
		uid = strings.TrimSpace(uid)
		if uid != "" {
			set[uid] = true
		}
	}
	return &AllowListPolicy{uids: set}
}

func (p *AllowListPolicy) Authorize(_ context.Context, ident *Identity) (bool, error) {
	return ident != nil && p.uids[ident.UID], nil
}

// ClaimPolicy grants access to identities carrying the superAdmin claim.
type ClaimPolicy struct{}

func (ClaimPolicy) Authorize(_ context.Context, ident *Identity) (bool, error) {
	return ident != nil && ident.SuperAdmin, nil
}

// CollectionPolicy grants access to identities with a document in the admins
// collection, supporting grants issued at runtime without redeploying.
type CollectionPolicy struct {
	store      *docstore.Store
	collection string
}

// CollectionAdmins is the default collection of supplementary admin grants.
const CollectionAdmins = "admins"

// NewCollectionPolicy builds a policy over a document collection.
func NewCollectionPolicy(store *docstore.Store, collection string) *CollectionPolicy {
	if collection == "" {
		collection = CollectionAdmins
	}
	return &CollectionPolicy{store: store, collection: collection}
}

func (p *CollectionPolicy) Authorize(ctx context.Context, ident *Identity) (bool, error) {
	if ident == nil {
		return false, nil
	}
	return p.store.Exists(ctx, p.collection, ident.UID)
}

// AnyPolicy is the logical OR of its members.
type AnyPolicy []AuthorizationPolicy

// Any composes policies; the identity is authorized if any member grants it.
func Any(policies ...AuthorizationPolicy) AnyPolicy {
	return AnyPolicy(policies)
}

func (p AnyPolicy) Authorize(ctx context.Context, ident *Identity) (bool, error) {
	for _, policy := range p {
		ok, err := policy.Authorize(ctx, ident)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
