package conversation

import (
	"github.com/zulandar/junction/internal/chaterr"
	"github.com/zulandar/junction/internal/ids"
	"github.com/zulandar/junction/internal/models"
)

// normalizeMembers validates the participant list for convType and returns
// it with the creator (and, for business, the assigned agent) included.
func normalizeMembers(convType string, participants []string, opts CreateOpts) ([]string, error) {
	switch convType {
	case models.TypeDirect, models.TypeGroup, models.TypeBusiness:
	default:
		return nil, chaterr.InvalidArgument.With("unknown conversation type %q", convType)
	}

	seen := make(map[string]bool, len(participants)+2)
	members := make([]string, 0, len(participants)+2)
	for _, p := range participants {
		if err := ids.Check("participant", p); err != nil {
			return nil, err
		}
		if seen[p] {
			return nil, chaterr.DuplicateParticipant.With("participant %s appears more than once", p)
		}
		seen[p] = true
		members = append(members, p)
	}

	implicit := []string{opts.CreatedBy}
	if convType == models.TypeBusiness {
		if opts.Metadata[models.MetaBusinessID] == "" {
			return nil, chaterr.MissingMetadata.With("business conversations require metadata.%s", models.MetaBusinessID)
		}
		if opts.Metadata[models.MetaAssignedAgentID] == "" {
			return nil, chaterr.MissingMetadata.With("business conversations require metadata.%s", models.MetaAssignedAgentID)
		}
		implicit = append(implicit, opts.Metadata[models.MetaAssignedAgentID])
	}
	for _, id := range implicit {
		if id == "" || seen[id] {
			continue
		}
		if err := ids.Check("participant", id); err != nil {
			return nil, err
		}
		seen[id] = true
		members = append(members, id)
	}

	if err := checkCardinality(convType, len(members)); err != nil {
		return nil, err
	}
	return members, nil
}

// checkCardinality enforces the per-type participant count rule.
func checkCardinality(convType string, n int) error {
	switch convType {
	case models.TypeDirect:
		if n != DirectSize {
			return chaterr.InvalidParticipantCount.With("direct conversations need exactly %d participants, got %d", DirectSize, n)
		}
	case models.TypeGroup:
		if n < GroupMin || n > GroupMax {
			return chaterr.InvalidParticipantCount.With("group conversations need %d to %d participants, got %d", GroupMin, GroupMax, n)
		}
	case models.TypeBusiness:
		if n < BusinessMin {
			return chaterr.InvalidParticipantCount.With("business conversations need at least %d participants, got %d", BusinessMin, n)
		}
	}
	return nil
}

func roleFor(convType, userID string, opts CreateOpts) string {
	switch {
	case convType == models.TypeBusiness && userID == opts.Metadata[models.MetaAssignedAgentID]:
		return models.RoleAgent
	case convType == models.TypeGroup && userID == opts.CreatedBy:
		return models.RoleAdmin
	default:
		return models.RoleMember
	}
}
