package recipient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

// Resolver expands a recipient expression into a deduplicated identifier set.
type Resolver struct {
	directory  domain.Directory
	normalizer *Normalizer
	logger     *slog.Logger
}

func NewResolver(directory domain.Directory, normalizer *Normalizer, logger *slog.Logger) *Resolver {
	return &Resolver{
		directory:  directory,
		normalizer: normalizer,
		logger:     logger.With("component", "recipient_resolver"),
	}
}

// Resolve walks the tokens in order. Untyped tokens are looked up as a group first
// and normalized as a number second; a token that is neither is counted invalid.
// Only directory infrastructure errors abort resolution.
func (r *Resolver) Resolve(ctx context.Context, expr domain.RecipientExpression) (*domain.Resolution, error) {
	set := newResolutionSet()
	// Groups referenced twice are expanded once.
	expanded := make(map[string]bool)

	for _, tok := range expr {
		if tok.Kind != domain.TokenNumber {
			group, err := r.lookupGroup(ctx, tok.Value)
			if err != nil {
				return nil, err
			}
			if group != nil {
				if !expanded[group.ID] {
					expanded[group.ID] = true
					set.res.GroupsMatched++
					r.addGroup(ctx, set, group)
				}
				continue
			}
			if tok.Kind == domain.TokenGroup {
				r.logger.DebugContext(ctx, "Group token matched no group", "token", tok.Value)
				set.res.InvalidTokenCount++
				continue
			}
		}

		id, err := r.normalizer.Normalize(tok.Value)
		if err != nil {
			r.logger.DebugContext(ctx, "Skipping invalid recipient token", "token", tok.Value)
			set.res.InvalidTokenCount++
			continue
		}
		set.add(id, domain.Provenance{Kind: domain.SourceDirect})
	}

	return set.res, nil
}

func (r *Resolver) lookupGroup(ctx context.Context, token string) (*domain.Group, error) {
	group, err := r.directory.LookupGroup(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrGroupNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup group %q: %w", token, err)
	}
	return group, nil
}

func (r *Resolver) addGroup(ctx context.Context, set *resolutionSet, group *domain.Group) {
	source := domain.Provenance{Kind: domain.SourceGroup, GroupID: group.ID, GroupName: group.Name}
	invalid := 0
	for _, member := range group.Members {
		id, err := r.normalizer.Normalize(member)
		if err != nil {
			invalid++
			continue
		}
		set.add(id, source)
	}
	if invalid > 0 {
		r.logger.WarnContext(ctx, "Group has members that are not valid numbers", "group_id", group.ID, "invalid_members", invalid)
	}
	set.res.InvalidMemberCount += invalid
}

type resolutionSet struct {
	res *domain.Resolution
}

func newResolutionSet() *resolutionSet {
	return &resolutionSet{res: &domain.Resolution{
		Identifiers: []domain.Identifier{},
		Provenance:  make(map[string]domain.Provenance),
	}}
}

// add keeps the first source that contributed id.
func (s *resolutionSet) add(id domain.Identifier, source domain.Provenance) {
	if _, seen := s.res.Provenance[id.E164]; seen {
		return
	}
	s.res.Provenance[id.E164] = source
	s.res.Identifiers = append(s.res.Identifiers, id)
}
