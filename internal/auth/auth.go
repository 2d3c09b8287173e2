// Package auth resolves the caller identity for Control API requests from
// an API key header, per spec.md §6: "every request must carry a
// caller-identifying API key header; the control plane rejects mismatches
// between the header-bound user and the {user} in the path."
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Identity represents the authenticated caller for the current request.
type Identity struct {
	UserID string // resolved user_id the API key belongs to
	Masked string // last 4 chars of the raw key, for logging
}

type ctxKey string

const identityKey ctxKey = "auth_identity"

// NewContext stores the identity in the context.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity from the context. Returns nil if unset.
func FromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// HashAPIKey returns the SHA-256 hex digest of a raw API key, the form
// persisted by the metadata store and compared against on every request.
func HashAPIKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Mask returns a display-safe suffix of a raw credential, never the value
// itself, for inclusion in API responses and logs (spec.md §9).
func Mask(raw string) string {
	if len(raw) <= 4 {
		return "****"
	}
	return "****" + raw[len(raw)-4:]
}
