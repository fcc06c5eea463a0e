package account

import (
	"context"

	"github.com/careportal/api/internal/platform/mediator"
)

// MediatorResolver adapts the store to the mediator's resolver
// interface.
func (s *Service) MediatorResolver() mediator.ResolverFunc {
	return func(ctx context.Context, tok string) (mediator.Principal, error) {
		p, err := s.Resolve(ctx, tok)
		if err != nil {
			return mediator.Principal{}, err
		}
		return mediator.Principal{
			ID:     p.ID,
			Name:   p.Name,
			Email:  p.Email,
			Role:   p.Role,
			Active: p.Active(),
		}, nil
	}
}
