package adminproxy

import (
	"context"
	"net/http"

	"vsdnetwork/gateway/auth"
)

func contextWithIdentity(ctx context.Context, ident *auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// identityFrom returns the verified identity attached by requireAdmin. The
// middleware guarantees it is present on every routed request.
func identityFrom(r *http.Request) *auth.Identity {
	ident, _ := r.Context().Value(identityKey).(*auth.Identity)
	if ident == nil {
		return &auth.Identity{}
	}
	return ident
}
