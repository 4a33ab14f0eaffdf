// Package identity talks to the identity directory: it classifies parties
// into buyer and supplier and resolves the names shown in listings.
// Every failure here degrades to a deterministic fallback, never to an error.
package identity

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"
	"trade-chat/contract"
	"trade-chat/domain"
	"trade-chat/errors"
)

var _ contract.IRoleResolver = (*RoleResolver)(nil)

type RoleResolver struct {
	lookup  contract.IdentityLookup
	log     *slog.Logger
	timeout time.Duration
}

func NewRoleResolver(lookup contract.IdentityLookup, log *slog.Logger, timeout time.Duration) *RoleResolver {
	return &RoleResolver{lookup: lookup, log: log, timeout: timeout}
}

// Resolve returns (buyerID, supplierID).
// Exactly one declared BUYER wins the buyer seat. Otherwise exactly one declared
// SUPPLIER sends the other party to the buyer seat. Anything else, including
// lookup failures, falls back to u1 as buyer and u2 as supplier.
func (r *RoleResolver) Resolve(ctx context.Context, u1, u2 string) (string, string) {
	var t1, t2 domain.UserType
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); t1 = r.userType(ctx, u1) }()
	go func() { defer wg.Done(); t2 = r.userType(ctx, u2) }()
	wg.Wait()

	isBuyer1, isBuyer2 := t1 == domain.UserTypeBuyer, t2 == domain.UserTypeBuyer
	isSupplier1, isSupplier2 := t1 == domain.UserTypeSupplier, t2 == domain.UserTypeSupplier
	switch {
	case isBuyer1 && !isBuyer2:
		return u1, u2
	case isBuyer2 && !isBuyer1:
		return u2, u1
	case isSupplier1 && !isSupplier2:
		return u2, u1
	case isSupplier2 && !isSupplier1:
		return u1, u2
	default:
		r.log.Debug("Ambiguous roles, positional fallback", "u1", u1, "type1", t1, "u2", u2, "type2", t2)
		return u1, u2
	}
}

// DisplayName prefers the company name, then the personal one, then "Unknown".
func (r *RoleResolver) DisplayName(ctx context.Context, userID string) string {
	identity, err := r.find(ctx, userID)
	if err != nil {
		return domain.UnknownName
	}
	return identity.Name()
}

func (r *RoleResolver) userType(ctx context.Context, userID string) domain.UserType {
	identity, err := r.find(ctx, userID)
	if err != nil {
		return ""
	}
	return identity.UserType
}

func (r *RoleResolver) find(ctx context.Context, userID string) (domain.Identity, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	identity, err := r.lookup.Lookup(lookupCtx, userID)
	switch {
	case err == nil:
	case stderrors.Is(err, errors.ErrUnknownUser):
		r.log.Debug("User unknown to the directory", "user_id", userID)
	default:
		r.log.Warn("Identity lookup failed", "user_id", userID, "error", err)
	}
	return identity, err
}
