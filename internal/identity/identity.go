// Package identity turns the Authorization header of an inbound call into the
// caller's identity. A missing or invalid credential yields an anonymous
// caller, never an error.
package identity

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

const bearerScheme = "bearer"

// Identity is the verified caller. A nil *Identity means anonymous.
type Identity struct {
	SubjectID string
	Email     string
}

// Verifier checks a bearer token and returns the identity it carries.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type Resolver struct {
	verifier Verifier
	logger   zerolog.Logger
}

// NewResolver returns a Resolver. A nil verifier makes every caller anonymous.
func NewResolver(verifier Verifier, logger zerolog.Logger) *Resolver {
	return &Resolver{
		verifier: verifier,
		logger:   logger.With().Str("component", "identity").Logger(),
	}
}

// Resolve returns the identity for the given Authorization header value, or
// nil for an anonymous caller.
func (r *Resolver) Resolve(ctx context.Context, header string) *Identity {
	token, ok := BearerToken(header)
	if !ok || r.verifier == nil {
		return nil
	}

	id, err := r.verifier.Verify(ctx, token)
	if err != nil {
		r.logger.Warn().Err(err).Msg("bearer token rejected, treating caller as anonymous")
		return nil
	}
	if id == nil || id.SubjectID == "" {
		r.logger.Warn().Msg("verified token has no subject, treating caller as anonymous")
		return nil
	}
	return id
}

// BearerToken extracts the token from a "Bearer <token>" header. The header is
// split on its first space and the token ends at the next one, so a token
// containing a space is truncated.
func BearerToken(header string) (string, bool) {
	scheme, rest, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", false
	}
	token, _, _ := strings.Cut(rest, " ")
	if token == "" {
		return "", false
	}
	return token, true
}
