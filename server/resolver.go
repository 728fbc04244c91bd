package server

import (
	"context"

	"github.com/selasie/charon/access"
	"github.com/selasie/charon/link"
	"github.com/selasie/charon/model"
)

// LinkResolver routes background prefetch resolution through the same
// validation and issuance path as foreground requests, so a prefetched
// link is never more permissive than one requested directly.
type LinkResolver struct {
	validator *access.Validator
	issuer    *link.Issuer
}

// NewLinkResolver wires the validator and issuer into one resolver.
func NewLinkResolver(validator *access.Validator, issuer *link.Issuer) *LinkResolver {
	return &LinkResolver{validator: validator, issuer: issuer}
}

// Resolve validates the request and issues a link.
func (r *LinkResolver) Resolve(ctx context.Context, userID, messageID, conversationID, fileID string) (model.IssuedLink, error) {
	grant, err := r.validator.Validate(ctx, userID, messageID, conversationID, fileID)
	if err != nil {
		return model.IssuedLink{}, err
	}
	return r.issuer.Issue(ctx, grant)
}
